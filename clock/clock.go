// Package clock implements ClockMap: the mcu-clock <-> print-time affine
// map, and, for the chip family that owns an independent clock, a running
// linear fit of that chip's clock against the MCU's.
package clock

import (
	"math"

	"github.com/stratux-angle/anglesensor/unwrap"
)

// ToPrintTime converts an MCU tick count to print-time seconds. The
// actual affine map is owned by the motion system (an external
// collaborator, spec.md §6); ClockMap only consumes it.
type ToPrintTime func(mcuClock uint64) float64

// Map tracks a chip's independent clock against the MCU clock with a
// first-order frequency estimator, per spec.md §4.1.
type Map struct {
	ToPrintTime ToPrintTime

	haveAnchor       bool
	lastChipMcuClock uint64
	lastChipClock    uint64
	chipFreq         float64
}

// NewMap constructs a Map around the given mcu-clock-to-print-time
// function.
func NewMap(toPrintTime ToPrintTime) *Map {
	return &Map{ToPrintTime: toPrintTime}
}

// Seed sets the initial anchor pair without computing a frequency; used
// once, at sensor init.
func (m *Map) Seed(mcuClock, chipClock uint64, initialFreq float64) {
	m.lastChipMcuClock = mcuClock
	m.lastChipClock = chipClock
	m.chipFreq = initialFreq
	m.haveAnchor = true
}

// PredictChipClock returns the predicted chip tick count at mcuClock,
// extrapolated from the last anchor and fitted frequency.
func (m *Map) PredictChipClock(mcuClock uint64) uint64 {
	if !m.haveAnchor {
		return 0
	}
	delta := int64(mcuClock) - int64(m.lastChipMcuClock)
	return m.lastChipClock + uint64(math.Round(float64(delta)*m.chipFreq))
}

// ChipFreq returns the current fitted chip-ticks-per-mcu-tick ratio.
func (m *Map) ChipFreq() float64 { return m.chipFreq }

// Update is called each time the chip's own counter is queried: mcuClock
// is the MCU tick at which the reply was captured, rawChipClock is the
// 16-bit counter value read back. It unwraps rawChipClock against the
// prediction, refits chipFreq from the two anchors, and stores the new
// anchor pair.
func (m *Map) Update(mcuClock uint64, rawChipClock uint16) {
	if !m.haveAnchor {
		m.Seed(mcuClock, uint64(rawChipClock), m.chipFreq)
		return
	}

	predicted := m.PredictChipClock(mcuClock)
	delta := unwrap.Delta16(uint16(predicted), rawChipClock)
	newChipClock := uint64(int64(predicted) + int64(delta))

	mcuDelta := int64(mcuClock) - int64(m.lastChipMcuClock)
	if mcuDelta != 0 {
		m.chipFreq = float64(int64(newChipClock)-int64(m.lastChipClock)) / float64(mcuDelta)
	}

	m.lastChipMcuClock = mcuClock
	m.lastChipClock = newChipClock
}
