// Package calibrate implements CalibrationRunner: the scripted motion
// sequence, step-bucketing, least-squares table fit, and persistence,
// per spec.md §4.7-§4.8.
package calibrate

import (
	"context"
	"fmt"
	"math"

	"github.com/stratux-angle/anglesensor/anglelog"
	"github.com/stratux-angle/anglesensor/caltable"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/lsq"
	"github.com/stratux-angle/anglesensor/mcuif"
)

var logger = anglelog.New("angle")

// CommandError is the single fatal-error shape spec.md §7 requires: all
// fatal conditions surface as one user-visible message, with no partial
// state committed.
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string { return e.Msg }

func fatalf(format string, args ...interface{}) error {
	return &CommandError{Msg: fmt.Sprintf(format, args...)}
}

// SampleTap is the internal subscriber the runner reads during the
// scripted motion: a Collector drain callback, decoupled here so the
// runner can be tested without a real collector.
type SampleTap interface {
	// Drain returns every sample observed since the tap was created or
	// last drained.
	Drain() []decode.Sample
}

// Runner drives the calibration motion sequence through the external
// mcuif collaborators and fits a new CalibrationTable.
type Runner struct {
	Mover         mcuif.Mover
	StepperPhase  mcuif.StepperPhase
	FullSteps     int     // full_steps_per_rotation
	Microsteps    int     // not used directly by the fit, kept for context
	StepDistance  float64 // distance of one full step
	SampleSpeedMM float64 // not read by Run, which moves at StepDistance per 10ms

	Tap SampleTap

	// Now returns the current print time. Run does not call it.
	Now func() float64
}

func (r *Runner) rotation() float64 { return float64(r.FullSteps) * r.StepDistance }

// stepWindow is one sampled full-step's accumulated raw angle readings.
type stepWindow struct {
	angles []float64
}

// Run executes spec.md §4.7 end to end: back off to a step boundary,
// settle, sample 2*FullSteps steps forward-then-reverse, fit a table,
// and return it along with the forward/reverse pooled standard
// deviation for the CLI's informational response.
func (r *Runner) Run(ctx context.Context) (*caltable.Table, stddevReport, error) {
	phi, known := r.StepperPhase.McuPhaseOffset()
	if !known {
		return nil, stddevReport{}, fatalf("angle calibrate: stepper phase offset unknown")
	}
	phases := r.StepperPhase.Phases()

	rot := r.rotation()
	speed := r.StepDistance / 0.010 // full_step_distance / 10ms

	logger.Printf("calibrate: starting scripted motion, full_steps=%d", r.FullSteps)

	// Back off to a full-step boundary.
	if _, err := r.Mover.MoveBy(ctx, -(rot + float64(phi)*r.StepDistance), speed); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
	}
	// Thermal settling / internal self-cal: +2 then -2 full revolutions.
	if _, err := r.Mover.MoveBy(ctx, 2*rot, speed); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
	}
	if _, err := r.Mover.MoveBy(ctx, -2*rot, speed); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
	}
	// Approach the first sampled step from a consistent direction.
	if _, err := r.Mover.MoveBy(ctx, 0.5*rot-r.StepDistance, speed); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
	}

	n := r.FullSteps
	windows := make([]*window, 2*n)
	sampDist := r.StepDistance

	for i := 0; i < 2*n; i++ {
		doneAt, err := r.Mover.MoveBy(ctx, sampDist, speed)
		if err != nil {
			return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
		}
		windows[i] = &window{start: doneAt + 0.050, end: doneAt + 0.100}

		if i == n-1 {
			if _, err := r.Mover.MoveBy(ctx, 0.5*rot, speed); err != nil {
				return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
			}
			if _, err := r.Mover.MoveBy(ctx, -0.5*rot+sampDist, speed); err != nil {
				return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
			}
		}
	}

	if _, err := r.Mover.MoveBy(ctx, -(0.5*rot + float64(phi)*r.StepDistance), speed); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: move error: %v", err)
	}
	if err := r.Mover.WaitMovesDone(ctx); err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: wait error: %v", err)
	}

	return r.finalize(windows, phases)
}

type window struct {
	start, end float64
}

type stddevReport struct {
	Forward, Reverse float64
	Queries          int
}

func (r *Runner) finalize(windows []*window, phases int64) (*caltable.Table, stddevReport, error) {
	samples := r.Tap.Drain()

	n := len(windows) / 2
	binned := make([]stepWindow, len(windows))
	for _, s := range samples {
		for wi, w := range windows {
			if s.PrintTime >= w.start && s.PrintTime < w.end {
				binned[wi].angles = append(binned[wi].angles, float64(s.Angle))
				break
			}
		}
	}

	for i, b := range binned {
		if len(b.angles) == 0 {
			return nil, stddevReport{}, fatalf("angle calibrate: empty sample window at step %d", i)
		}
	}

	means := make([]float64, len(binned))
	for i, b := range binned {
		means[i] = mean(b.angles)
	}

	forward := means[:n]
	reverse := make([]float64, n)
	for i := 0; i < n; i++ {
		reverse[n-1-i] = means[i+n]
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if forward[i] == forward[j] {
				return nil, stddevReport{}, fatalf("angle calibrate: sensor not updating (steps %d and %d share a mean)", i, j)
			}
		}
	}

	fStd := pooledStdDev(binned[:n], forward)
	rStd := pooledStdDev(binned[n:], reverse)

	a := make([]float64, n)
	for i := range a {
		a[i] = (forward[i] + reverse[i]) / 2
	}

	table, err := FitTable(a)
	if err != nil {
		return nil, stddevReport{}, fatalf("angle calibrate: fit error: %v", err)
	}

	logger.Printf("calibrate: done, forward_stddev=%.2f reverse_stddev=%.2f samples=%d", fStd, rStd, len(samples))
	return table, stddevReport{Forward: fStd, Reverse: rStd, Queries: len(samples)}, nil
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func pooledStdDev(windows []stepWindow, means []float64) float64 {
	var sumSq float64
	var count int
	for i, w := range windows {
		for _, a := range w.angles {
			d := a - means[i]
			sumSq += d * d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(count))
}

// FitTable implements spec.md §4.8's piecewise-linear least-squares fit
// given N measured full-step means a[0..N-1] (raw angles in [0, 2^16)).
func FitTable(a []float64) (*caltable.Table, error) {
	n := len(a)
	if n < 2 {
		return nil, fatalf("angle calibrate: need at least 2 steps, got %d", n)
	}
	a = append([]float64(nil), a...)

	const twoPi16 = 1 << 16
	nominalStep := twoPi16 / float64(n)

	// Step 1: phase_offset from argmin, computed before reversal.
	minIdx := argmin(a)
	phaseOffset := float64(minIdx&3) * nominalStep

	// Step 2: reversed iff a[N-2] > a[N-1], using the pre-reversal order.
	reversed := a[n-2] > a[n-1]
	if reversed {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			a[i], a[j] = a[j], a[i]
		}
	}

	// Step 3: rotate so a[0] == min(a).
	rotIdx := argmin(a)
	a = rotate(a, rotIdx)

	// Step 4: build the N x M system.
	const m = caltable.Buckets
	bucketSize := twoPi16 / float64(m)

	rows := make([][]float64, n)
	b := make([]float64, n)
	for s := 0; s < n; s++ {
		intAngle := math.Mod(math.Round(a[s]), twoPi16)
		if intAngle < 0 {
			intAngle += twoPi16
		}
		bucket := int(intAngle / bucketSize)
		delta := a[s] - float64(bucket)*bucketSize
		frac := delta / bucketSize

		row := make([]float64, m)
		row[bucket] = 1 - frac
		row[(bucket+1)%m] += frac
		rows[s] = row

		target := float64(s) * (twoPi16 / float64(n))
		if bucket+1 >= m {
			target -= frac * twoPi16
		}
		b[s] = target
	}

	x, err := lsq.Solve(rows, b)
	if err != nil {
		return nil, fatalf("angle calibrate: least-squares solve failed: %v", err)
	}

	table := &caltable.Table{Reversed: reversed, PhaseOffset: phaseOffset}
	for i := 0; i < m; i++ {
		table.C[i] = int64(math.Round(x[i]))
	}
	table.C[m] = table.C[0] + (1 << 16)

	return table, nil
}

func argmin(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func rotate(v []float64, by int) []float64 {
	n := len(v)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v[(i+by)%n]
	}
	return out
}

// ReorderForPersist reorders a fitted table's 64 entries (dropping the
// cyclic 65th) so the entry nearest the driver's electrical zero-phase
// comes first, aligned to a 4-bucket (one electrical cycle) boundary, per
// spec.md §4.7.8. table.PhaseOffset, set during FitTable's step 1, is the
// raw-angle location of that zero-phase entry.
func ReorderForPersist(table *caltable.Table) []float64 {
	const n = caltable.Buckets
	bucketSize := float64(1<<16) / n

	zeroBucket := int(math.Round(table.PhaseOffset/bucketSize)) % n
	alignedStart := (zeroBucket / 4) * 4

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(table.C[(alignedStart+i)%n])
	}
	return out
}
