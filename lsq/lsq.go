// Package lsq provides a small dense least-squares solver sized for the
// calibration table fit (spec.md §4.8): at most a few hundred rows by 64
// columns. It is built on github.com/skelterjohn/go.matrix, carried over
// from the teacher's own go.mod, the same way the teacher expresses
// dense linear algebra as DenseMatrix operations rather than
// hand-rolled slices-of-slices arithmetic.
package lsq

import (
	matrix "github.com/skelterjohn/go.matrix"
)

// Solve returns the minimum-norm least-squares solution x to A x ≈ b,
// via the normal equations (A^T A) x = A^T b solved through
// go.matrix's DenseMatrix inverse. A has rows rows and cols columns,
// stored row-major; b has rows entries.
func Solve(a [][]float64, b []float64) ([]float64, error) {
	rows := len(a)
	cols := 0
	if rows > 0 {
		cols = len(a[0])
	}

	am := matrix.MakeDenseMatrix(flatten(a), rows, cols)
	bm := matrix.MakeDenseMatrix(append([]float64(nil), b...), rows, 1)

	at := am.Transpose()
	ata, err := at.Times(am)
	if err != nil {
		return nil, err
	}
	atb, err := at.Times(bm)
	if err != nil {
		return nil, err
	}

	// Ridge-stabilize: buckets with no observation leave A^T A singular
	// on that row/column, so add a tiny diagonal term before inverting.
	for i := 0; i < cols; i++ {
		ata.Set(i, i, ata.Get(i, i)+1e-9)
	}

	inv, err := ata.Inverse()
	if err != nil {
		return nil, err
	}

	x, err := inv.Times(atb)
	if err != nil {
		return nil, err
	}

	out := make([]float64, cols)
	for i := 0; i < cols; i++ {
		out[i] = x.Get(i, 0)
	}
	return out, nil
}

func flatten(a [][]float64) []float64 {
	if len(a) == 0 {
		return nil
	}
	cols := len(a[0])
	out := make([]float64, 0, len(a)*cols)
	for _, row := range a {
		out = append(out, row...)
	}
	return out
}
