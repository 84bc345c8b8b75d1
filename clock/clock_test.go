package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredictAtAnchorIsStable(t *testing.T) {
	// S/invariant 7: after an Update, predicting at the anchor reproduces
	// the stored chip clock exactly.
	m := NewMap(func(c uint64) float64 { return float64(c) / 1e7 })
	m.Seed(1000, 500, 1.0)
	m.Update(2000, 1500)
	assert.EqualValues(t, m.lastChipClock, m.PredictChipClock(m.lastChipMcuClock))
}

func TestUpdateRefitsFrequency(t *testing.T) {
	m := NewMap(func(c uint64) float64 { return float64(c) / 1e7 })
	m.Seed(0, 0, 1.0)
	// Chip runs at 2x mcu rate.
	m.Update(1000, 2000)
	assert.InDelta(t, 2.0, m.ChipFreq(), 1e-9)
	m.Update(2000, 4000)
	assert.InDelta(t, 2.0, m.ChipFreq(), 1e-9)
}

func TestUpdateUnwrapsAcrossBoundary(t *testing.T) {
	m := NewMap(func(c uint64) float64 { return float64(c) / 1e7 })
	m.Seed(0, 0xfff0, 1.0)
	// One mcu tick later the chip counter wraps past 0xffff to 0x0010.
	m.Update(32, 0x0010)
	assert.EqualValues(t, 0x10010, m.lastChipClock)
}
