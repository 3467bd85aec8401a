package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var errSingular = errors.New("singular design matrix")

// maxCondition bounds the condition number accepted from a normal-equations solve.
const maxCondition = 1e12

// normalEquations accumulates XᵀX and Xᵀy one observation at a time.
type normalEquations struct {
	k   int
	n   int
	xtx *mat.SymDense
	xty *mat.VecDense
}

func newNormalEquations(k int) *normalEquations {
	return &normalEquations{
		k:   k,
		xtx: mat.NewSymDense(k, nil),
		xty: mat.NewVecDense(k, nil),
	}
}

func (ne *normalEquations) add(row []float64, y float64) {
	for i := 0; i < ne.k; i++ {
		ri := row[i]
		if ri == 0 {
			continue
		}
		ne.xty.SetVec(i, ne.xty.AtVec(i)+ri*y)
		for j := i; j < ne.k; j++ {
			ne.xtx.SetSym(i, j, ne.xtx.At(i, j)+ri*row[j])
		}
	}
	ne.n++
}

// solution is the result of a normal-equations solve.
type solution struct {
	beta []float64
	chol *mat.Cholesky
}

// solve returns β for (XᵀX + diag(penalty))β = Xᵀy. A nil penalty gives ordinary least squares.
func (ne *normalEquations) solve(penalty []float64) (*solution, error) {
	if ne.n < ne.k && penalty == nil {
		return nil, fmt.Errorf("%d observations for %d parameters: %w", ne.n, ne.k, errSingular)
	}

	a := mat.NewSymDense(ne.k, nil)
	a.CopySym(ne.xtx)
	for i, p := range penalty {
		a.SetSym(i, i, a.At(i, i)+p)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errSingular
	}
	if c := chol.Cond(); math.IsNaN(c) || c > maxCondition {
		return nil, fmt.Errorf("condition number %g: %w", c, errSingular)
	}

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, ne.xty); err != nil {
		return nil, fmt.Errorf("solve: %w", errSingular)
	}
	return &solution{beta: mat.Col(nil, 0, &beta), chol: &chol}, nil
}

// inverseDiag returns element (i, i) of the inverse of the factorized matrix.
func (s *solution) inverseDiag(i int) (float64, error) {
	e := mat.NewVecDense(len(s.beta), nil)
	e.SetVec(i, 1)

	var col mat.VecDense
	if err := s.chol.SolveVecTo(&col, e); err != nil {
		return 0, fmt.Errorf("invert: %w", errSingular)
	}
	return col.AtVec(i), nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// errorMetrics returns MAE and RMSE of predictions against actuals.
func errorMetrics(actual, predicted []float64) (mae, rmse float64) {
	if len(actual) == 0 {
		return 0, 0
	}
	var absSum, sqSum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(actual))
	return absSum / n, math.Sqrt(sqSum / n)
}

// mape returns the mean absolute percentage error over non-zero actuals, or nil if there are none.
func mape(actual, predicted []float64) *float64 {
	var sum float64
	var n int
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		n++
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n) * 100
	return &v
}
