package decode

import (
	"math"
	"testing"

	"github.com/stratux-angle/anglesensor/clock"
	"github.com/stretchr/testify/assert"
)

func TestDecodeS1AS5047D(t *testing.T) {
	d := &Decoder{
		Mode:        ModeA,
		ToPrintTime: func(c uint64) float64 { return float64(c) / 1e7 },
		StaticDelay: 0.0001,
		State: State{
			StartClock:  1_000_000,
			SampleTicks: 16_000,
			TimeShift:   3,
		},
	}

	msgs := []Message{{Sequence: 0, Data: []byte{0x00, 0x34, 0x12}}}
	samples, errs := d.Decode(msgs)

	assert.Equal(t, 0, errs)
	if assert.Len(t, samples, 1) {
		assert.InDelta(t, round6(0.100000-0.0001), samples[0].PrintTime, 1e-9)
		assert.EqualValues(t, 0x1234, samples[0].Angle)
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func TestDecodeS3SequenceWrap(t *testing.T) {
	d := &Decoder{
		Mode:        ModeA,
		ToPrintTime: func(c uint64) float64 { return float64(c) },
		State:       State{StartClock: 0, SampleTicks: 1},
	}
	rec := make([]byte, 48) // 16 records of 3 bytes, tcode all invalid
	for i := 0; i < 16; i++ {
		rec[i*3] = 0xff
	}
	msgs := []Message{
		{Sequence: 0xfffe, Data: rec},
		{Sequence: 0xffff, Data: rec},
		{Sequence: 0x0000, Data: rec},
	}
	_, errs := d.Decode(msgs)
	assert.Equal(t, 48, errs)
	assert.EqualValues(t, 0x10000, d.State.LastSequence)
}

func TestDecodeTCodeErrorCounted(t *testing.T) {
	d := &Decoder{Mode: ModeA, ToPrintTime: func(c uint64) float64 { return 0 }}
	msgs := []Message{{Sequence: 0, Data: []byte{0xff, 0, 0, 0, 0x34, 0x12}}}
	samples, errs := d.Decode(msgs)
	assert.Equal(t, 1, errs)
	assert.Len(t, samples, 1)
}

func TestDecodeModeBFrameUnwrap(t *testing.T) {
	// S6: tcode=0x10, predicted chip clock low16=0x4005 -> cdiff=-5,
	// sclock = mclock + (-5 - 0x800)/chip_freq.
	cm := clock.NewMap(func(c uint64) float64 { return float64(c) })
	cm.Seed(0, 0x4005, 1.0)
	d := &Decoder{
		Mode:        ModeB,
		ToPrintTime: func(c uint64) float64 { return float64(c) },
		ChipClock:   cm,
		State:       State{StartClock: 0, SampleTicks: 1},
	}
	msgs := []Message{{Sequence: 0, Data: []byte{0x10, 0, 0}}}
	samples, errs := d.Decode(msgs)
	assert.Equal(t, 0, errs)
	if assert.Len(t, samples, 1) {
		wantSclock := float64(0) + (-5.0-0x800)/1.0
		assert.InDelta(t, wantSclock, samples[0].PrintTime, 1e-6)
	}
}
