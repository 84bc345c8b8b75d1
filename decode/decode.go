// Package decode implements SampleDecoder: turning a batch of raw SPI
// angle messages into unwrapped (print_time, angle) samples, per
// spec.md §4.2.
package decode

import (
	"github.com/stratux-angle/anglesensor/clock"
	"github.com/stratux-angle/anglesensor/unwrap"
)

// TimeMode selects how a record's tcode byte is turned into the MCU tick
// at which the sample was actually taken (spec.md §4.2).
type TimeMode int

const (
	// ModeA covers a1333 and as5047d: tcode is a small mcu-clock offset.
	ModeA TimeMode = iota
	// ModeB covers tle5012b: tcode is the low 6 bits of the chip's own
	// frame counter, resolved via a clock.Map.
	ModeB
)

const invalidTCode = 0xff

// State is the mutable decode state for one sensor instance, i.e.
// spec.md's ClockState plus the decoder's own last-angle cursor.
type State struct {
	StartClock   uint64
	SampleTicks  uint32
	TimeShift    uint8
	LastSequence uint64
	LastAngle    int64
}

// Decoder decodes raw SPI-angle messages into unwrapped samples.
type Decoder struct {
	Mode        TimeMode
	ToPrintTime clock.ToPrintTime
	StaticDelay float64

	// ChipClock is consulted only in ModeB, to predict the chip's frame
	// counter at a given mcu clock.
	ChipClock *clock.Map

	State State
}

// Message is a raw SPI-angle batch as received from the MCU
// (spec.md's RawMessage).
type Message struct {
	Sequence uint16
	Data     []byte
}

// Sample is an unwrapped (print_time, angle) tuple (spec.md's Sample).
type Sample struct {
	PrintTime float64
	Angle     int64
}

// Decode processes a batch of messages in MCU arrival order, returning
// the decoded samples and the count of records whose tcode was 0xff.
//
// The inner loop is allocation-free save for the pre-sized output slice,
// matching spec.md §4.2's rationale that this is the hot path.
func (d *Decoder) Decode(msgs []Message) ([]Sample, int) {
	recordCount := 0
	for _, msg := range msgs {
		recordCount += len(msg.Data) / 3
	}
	out := make([]Sample, 0, recordCount)
	errorCount := 0

	for _, msg := range msgs {
		seq := unwrap.Sequence16(d.State.LastSequence, msg.Sequence)
		d.State.LastSequence = seq
		msgMclock := d.State.StartClock + seq*16*uint64(d.State.SampleTicks)

		n := len(msg.Data) / 3
		for i := 0; i < n; i++ {
			tcode := msg.Data[i*3]
			lo := msg.Data[i*3+1]
			hi := msg.Data[i*3+2]

			if tcode == invalidTCode {
				errorCount++
				continue
			}

			rawAngle := uint16(lo) | uint16(hi)<<8
			d.State.LastAngle = unwrap.Angle16(d.State.LastAngle, rawAngle)

			mclock := msgMclock + uint64(i)*uint64(d.State.SampleTicks)

			var sclock uint64
			switch d.Mode {
			case ModeA:
				sclock = mclock + uint64(tcode)<<d.State.TimeShift
			case ModeB:
				predicted := d.ChipClock.PredictChipClock(mclock)
				target := uint16(tcode) << 10
				cdiff := unwrap.Delta16(uint16(predicted), target)
				freq := d.ChipClock.ChipFreq()
				var offsetTicks float64
				if freq != 0 {
					offsetTicks = (float64(cdiff) - 0x800) / freq
				}
				sclock = uint64(int64(mclock) + int64(offsetTicks))
			}

			out = append(out, Sample{
				PrintTime: d.ToPrintTime(sclock) - d.StaticDelay,
				Angle:     d.State.LastAngle,
			})
		}
	}

	return out, errorCount
}
