package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// adfSignificance is the p-value below which a series is considered stationary.
const adfSignificance = 0.05

var errDegenerate = errors.New("degenerate series")

// adfResult is the outcome of an augmented Dickey-Fuller test.
type adfResult struct {
	Statistic float64
	PValue    float64
	Lags      int
	NObs      int
}

func (r adfResult) stationary() bool {
	return r.PValue < adfSignificance
}

// adfTest runs the augmented Dickey-Fuller unit root test with a constant term.
// The lag order is selected by AIC over 0..ceil(12*(n/100)^(1/4)) on a common sample,
// then the regression is refitted on all usable rows for the selected lag.
func adfTest(y []float64) (adfResult, error) {
	n := len(y)
	maxLag := min(int(math.Ceil(12*math.Pow(float64(n)/100, 0.25))), n/2-2)
	if maxLag < 0 {
		return adfResult{}, fmt.Errorf("adf needs at least 4 points, got %d: %w", n, ErrInsufficientData)
	}

	dy := make([]float64, n-1)
	for i := range dy {
		dy[i] = y[i+1] - y[i]
	}

	bestLag, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		fit, err := adfRegression(y, dy, lag, maxLag)
		if err != nil {
			continue
		}
		if fit.aic < bestAIC {
			bestLag, bestAIC = lag, fit.aic
		}
	}
	if math.IsInf(bestAIC, 1) {
		return adfResult{}, fmt.Errorf("adf lag selection: %w", errDegenerate)
	}

	fit, err := adfRegression(y, dy, bestLag, bestLag)
	if err != nil {
		return adfResult{}, err
	}

	return adfResult{
		Statistic: fit.tStat,
		PValue:    mackinnonPValue(fit.tStat),
		Lags:      bestLag,
		NObs:      fit.nobs,
	}, nil
}

type adfFit struct {
	aic   float64
	tStat float64
	nobs  int
}

// adfRegression regresses dy[j] on 1, y[j] and dy[j-1..j-lag] for j >= start.
func adfRegression(y, dy []float64, lag, start int) (adfFit, error) {
	k := 2 + lag
	nobs := len(dy) - start
	if nobs <= k {
		return adfFit{}, fmt.Errorf("adf lag %d: %d observations: %w", lag, nobs, ErrInsufficientData)
	}

	ne := newNormalEquations(k)
	row := make([]float64, k)
	for j := start; j < len(dy); j++ {
		row[0] = 1
		row[1] = y[j]
		for i := 1; i <= lag; i++ {
			row[1+i] = dy[j-i]
		}
		ne.add(row, dy[j])
	}

	sol, err := ne.solve(nil)
	if err != nil {
		return adfFit{}, err
	}

	var sse float64
	for j := start; j < len(dy); j++ {
		pred := sol.beta[0] + sol.beta[1]*y[j]
		for i := 1; i <= lag; i++ {
			pred += sol.beta[1+i] * dy[j-i]
		}
		r := dy[j] - pred
		sse += r * r
	}
	if sse <= 1e-12 {
		return adfFit{}, errDegenerate
	}

	inv, err := sol.inverseDiag(1)
	if err != nil {
		return adfFit{}, err
	}
	se := math.Sqrt(sse / float64(nobs-k) * inv)
	if se == 0 || math.IsNaN(se) {
		return adfFit{}, errDegenerate
	}

	nf := float64(nobs)
	llf := -nf / 2 * (math.Log(2*math.Pi) + math.Log(sse/nf) + 1)
	return adfFit{
		aic:   -2*llf + 2*float64(k),
		tStat: sol.beta[1] / se,
		nobs:  nobs,
	}, nil
}

// MacKinnon (1994) response surface for the constant-only, single-series case.
var (
	adfSmallP = [...]float64{2.1659, 1.4412, 0.038269}
	adfLargeP = [...]float64{1.7339, 0.93202, -0.12745, -0.010368}
)

const (
	adfTauMax  = 2.74
	adfTauMin  = -18.83
	adfTauStar = -1.61
)

// mackinnonPValue approximates the p-value of an ADF statistic.
func mackinnonPValue(stat float64) float64 {
	switch {
	case stat > adfTauMax:
		return 1
	case stat < adfTauMin:
		return 0
	}

	coef := adfLargeP[:]
	if stat <= adfTauStar {
		coef = adfSmallP[:]
	}

	// Horner evaluation of the ascending-order polynomial.
	var v float64
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*stat + coef[i]
	}
	return distuv.UnitNormal.CDF(v)
}
