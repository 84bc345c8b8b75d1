// Package caltable implements CalibrationTable: a 64-bucket cyclic
// piecewise-linear correction applied to decoded samples, per spec.md
// §3 and §4.5.
package caltable

import (
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/unwrap"
)

const (
	// Buckets is the number of piecewise-linear segments (spec.md's M=64).
	Buckets    = 64
	bucketBits = 10 // 2^16 / 64 == 1<<10
)

// Table is spec.md's CalibrationTable: C[0..64] with C[64] = C[0] + 2^16.
type Table struct {
	C           [Buckets + 1]int64
	Reversed    bool
	PhaseOffset float64
}

// Identity returns the table C[i] = i * (2^16/64), reversed=false —
// spec.md's testable-property-4 fixture.
func Identity() *Table {
	t := &Table{}
	step := int64(1<<16) / Buckets
	for i := 0; i <= Buckets; i++ {
		t.C[i] = int64(i) * step
	}
	return t
}

// Apply corrects angle (spec.md §4.5). It preserves the unwrapped high
// bits of angle: the correction lives entirely in raw-angle (mod 2^16)
// space, and the resulting diff is sign-extended before being subtracted
// from the full unwrapped value.
func (t *Table) Apply(angle int64) int64 {
	bucket := (angle & 0xffff) >> bucketBits
	frac := angle & 0x3ff

	adj := t.C[bucket] + ((frac*(t.C[bucket+1]-t.C[bucket]) + 512) >> bucketBits)

	diff16 := int64(unwrap.Delta16(uint16(adj), uint16(angle)))
	corrected := angle - diff16
	if t.Reversed {
		corrected = -corrected
	}
	return corrected
}

// ApplyBatch replaces each sample's angle with its corrected value, in
// place, matching spec.md §4.5's "output samples replace input" rule.
func (t *Table) ApplyBatch(samples []decode.Sample) {
	for i := range samples {
		samples[i].Angle = t.Apply(samples[i].Angle)
	}
}
