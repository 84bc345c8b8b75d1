// Package phase implements PhaseAligner: reconciling the sensor's
// unknown mechanical zero against the stepper driver's known electrical
// phase, per spec.md §4.6.
package phase

import "math"

// Aligner holds spec.md's PhaseState plus the constant needed to convert
// a raw angle into microsteps.
type Aligner struct {
	// AngleToMcuPos = full_steps_per_rotation * microsteps / 2^16.
	AngleToMcuPos float64

	mcuPosOffset *int64
}

// Offset returns the current mcu_pos_offset, and whether it is set.
func (a *Aligner) Offset() (int64, bool) {
	if a.mcuPosOffset == nil {
		return 0, false
	}
	return *a.mcuPosOffset, true
}

// Reset clears mcu_pos_offset, causing the next sample to re-seed it.
// Called whenever the motion system fires a stepper position re-sync
// event for this stepper (spec.md §4.6's "Reset").
func (a *Aligner) Reset() {
	a.mcuPosOffset = nil
}

// Seed reconciles a single sample (t, angle) against the driver's known
// microstep phase, per spec.md §4.6 steps 1-4.
//
//   - mcuPos is get_past_mcu_position(t), from the motion planner.
//   - angle is the (already calibration-corrected) unwrapped angle.
//   - calPhaseOffset is CalibrationTable.PhaseOffset.
//   - mcuPhaseOffset and phases come from the stepper driver.
func (a *Aligner) Seed(mcuPos, angle int64, calPhaseOffset float64, mcuPhaseOffset, phases int64) {
	aMpos := float64(angle) * a.AngleToMcuPos

	diff := (aMpos + calPhaseOffset*a.AngleToMcuPos) - float64(mcuPos+mcuPhaseOffset)
	phaseDiff := modf(diff, float64(phases))
	if phaseDiff > float64(phases)/2 {
		phaseDiff -= float64(phases)
	}

	offset := mcuPos - int64(aMpos-phaseDiff)
	a.mcuPosOffset = &offset
}

// modf returns the non-negative representative of a mod n, for n > 0.
func modf(a, n float64) float64 {
	r := math.Mod(a, n)
	if r < 0 {
		r += n
	}
	return r
}
