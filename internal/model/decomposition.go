package model

import (
	"fmt"
	"math"
	"time"

	"stockwise-ml/internal/domain"
)

// Decomposition hyperparameters.
const (
	numChangepoints  = 25
	changepointRange = 0.8 // changepoints are placed in the first 80% of history
	changepointPrior = 0.05
	seasonalityPrior = 10.0
	weeklyOrder      = 3
	yearlyOrder      = 10
	weeklyPeriod     = 7.0
	yearlyPeriod     = 365.25
	unpenalized      = 1e-8
	intervalZ        = 1.2815515655446004 // two-sided 80% normal quantile
)

// Rolling-origin evaluation settings.
const (
	cvFolds      = 3
	cvMaxHorizon = 30
	cvMinTrain   = 14
)

// Decomposition is an additive model: piecewise-linear trend, weekly and yearly
// Fourier seasonality and holiday effects, fitted by penalized least squares.
type Decomposition struct {
	state decompositionState
}

// decompositionState is everything needed to evaluate the model at any date.
type decompositionState struct {
	Start        time.Time `json:"start"`        // t = 0
	Span         float64   `json:"span"`         // days from start to t = 1
	Changepoints []float64 `json:"changepoints"` // scaled time of each trend changepoint
	Holidays     []string  `json:"holidays"`
	Coef         []float64 `json:"coef"`
	Scale        float64   `json:"scale"` // target scale, max |y|
	Sigma        float64   `json:"sigma"` // in-sample residual std
	Last         time.Time `json:"last_date"`
}

var _ Model = (*Decomposition)(nil)

// Kind returns ModelKindDecomposition.
func (m *Decomposition) Kind() domain.ModelKind { return domain.ModelKindDecomposition }

// LastDate returns the last training day.
func (m *Decomposition) LastDate() time.Time { return m.state.Last }

// Forecast evaluates the model on horizon consecutive days from start.
func (m *Decomposition) Forecast(start time.Time, horizon int) []domain.ForecastPoint {
	dates := dateRange(start, horizon)
	yhat := m.predict(dates)

	points := make([]domain.ForecastPoint, horizon)
	band := intervalZ * m.state.Sigma
	for i := range points {
		points[i] = domain.ForecastPoint{
			Date:      dates[i],
			Yhat:      yhat[i],
			YhatLower: yhat[i] - band,
			YhatUpper: yhat[i] + band,
		}
	}
	return points
}

func (m *Decomposition) predict(dates []time.Time) []float64 {
	row := make([]float64, m.state.width())
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = m.state.Scale * dot(m.state.Coef, m.state.row(d, row))
	}
	return out
}

func (m *Decomposition) params() map[string]any {
	return map[string]any{
		"changepoints":         len(m.state.Changepoints),
		"changepoint_prior":    changepointPrior,
		"seasonality_prior":    seasonalityPrior,
		"weekly_fourier_order": weeklyOrder,
		"yearly_fourier_order": yearlyOrder,
		"daily_seasonality":    false,
		"holidays":             "RU",
		"interval_width":       0.8,
		"residual_std":         m.state.Sigma,
		"training_first_day":   m.state.Start.Format(time.DateOnly),
		"training_last_day":    m.state.Last.Format(time.DateOnly),
	}
}

// fitDecomposition fits the additive model to the series.
func fitDecomposition(s series) (*Decomposition, error) {
	n := s.len()
	if n < 2 {
		return nil, fmt.Errorf("decomposition needs at least 2 points, got %d: %w", n, ErrInsufficientData)
	}

	st := decompositionState{
		Start:    s.dates[0],
		Last:     s.dates[n-1],
		Holidays: holidayNames(),
	}
	st.Span = float64(daysBetween(st.Start, st.Last))
	if st.Span <= 0 {
		st.Span = 1
	}
	st.Changepoints = st.placeChangepoints(s.dates)

	for _, v := range s.y {
		st.Scale = math.Max(st.Scale, math.Abs(v))
	}
	if st.Scale == 0 {
		st.Scale = 1
	}

	ne := newNormalEquations(st.width())
	row := make([]float64, st.width())
	for i := range s.y {
		ne.add(st.row(s.dates[i], row), s.y[i]/st.Scale)
	}

	sol, err := ne.solve(st.penalties())
	if err != nil {
		return nil, fmt.Errorf("fit decomposition: %w", err)
	}
	st.Coef = sol.beta

	m := &Decomposition{state: st}
	fitted := m.predict(s.dates)
	var sse float64
	for i := range s.y {
		r := s.y[i] - fitted[i]
		sse += r * r
	}
	m.state.Sigma = math.Sqrt(sse / float64(n))

	return m, nil
}

// evaluateDecomposition runs rolling-origin cross-validation. With too little
// history for a single fold it reports in-sample errors of the full fit instead.
func evaluateDecomposition(s series, full *Decomposition) Metrics {
	n := s.len()
	h := min(max(n/5, 1), cvMaxHorizon)

	var actual, predicted []float64
	var lastErr error
	for k := cvFolds; k >= 1; k-- {
		cutoff := n - k*h
		if cutoff < cvMinTrain {
			continue
		}
		m, err := fitDecomposition(s.slice(0, cutoff))
		if err != nil {
			lastErr = err
			continue
		}
		test := s.slice(cutoff, cutoff+h)
		actual = append(actual, test.y...)
		predicted = append(predicted, m.predict(test.dates)...)
	}

	if len(actual) > 0 {
		mae, rmse := errorMetrics(actual, predicted)
		return Metrics{MAE: mae, RMSE: rmse, MAPE: mape(actual, predicted)}
	}

	fitted := full.predict(s.dates)
	mae, rmse := errorMetrics(s.y, fitted)
	metrics := Metrics{MAE: mae, RMSE: rmse, MAPE: mape(s.y, fitted), InSample: true}
	if lastErr != nil {
		metrics.EvalError = lastErr.Error()
	}
	return metrics
}

// placeChangepoints spreads candidate changepoints uniformly over the rows in the
// first part of history. The first row is never a changepoint.
func (st *decompositionState) placeChangepoints(dates []time.Time) []float64 {
	histSize := int(math.Floor(float64(len(dates)) * changepointRange))
	count := min(numChangepoints, histSize-1)
	if count <= 0 {
		return nil
	}

	cps := make([]float64, count)
	step := float64(histSize-1) / float64(count)
	for i := range cps {
		idx := int(math.Round(float64(i+1) * step))
		cps[i] = st.scaledTime(dates[idx])
	}
	return cps
}

func (st *decompositionState) scaledTime(date time.Time) float64 {
	return float64(daysBetween(st.Start, date)) / st.Span
}

// width returns the number of design matrix columns.
func (st *decompositionState) width() int {
	return 2 + len(st.Changepoints) + 2*weeklyOrder + 2*yearlyOrder + len(st.Holidays)
}

// row writes the design row for date into dst. Column layout:
// intercept, slope, changepoint hinges, weekly Fourier, yearly Fourier, holidays.
func (st *decompositionState) row(date time.Time, dst []float64) []float64 {
	t := st.scaledTime(date)
	dst[0] = 1
	dst[1] = t

	i := 2
	for _, cp := range st.Changepoints {
		dst[i] = math.Max(0, t-cp)
		i++
	}

	// Seasonality is phased on absolute day numbers so it does not depend on the training window.
	day := float64(date.Unix()) / 86400
	i = fourier(dst, i, day, weeklyPeriod, weeklyOrder)
	i = fourier(dst, i, day, yearlyPeriod, yearlyOrder)

	h := holidayIndex(date)
	for j := range st.Holidays {
		dst[i+j] = 0
		if j == h {
			dst[i+j] = 1
		}
	}
	return dst
}

// penalties returns the ridge penalty per column, derived from the prior scales.
func (st *decompositionState) penalties() []float64 {
	p := make([]float64, st.width())
	p[0], p[1] = unpenalized, unpenalized

	cp := 1 / (2 * changepointPrior * changepointPrior)
	seasonal := 1 / (2 * seasonalityPrior * seasonalityPrior)

	i := 2
	for range st.Changepoints {
		p[i] = cp
		i++
	}
	for ; i < len(p); i++ {
		p[i] = seasonal
	}
	return p
}

func fourier(dst []float64, i int, day, period float64, order int) int {
	for k := 1; k <= order; k++ {
		x := 2 * math.Pi * float64(k) * day / period
		dst[i] = math.Sin(x)
		dst[i+1] = math.Cos(x)
		i += 2
	}
	return i
}
