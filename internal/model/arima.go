package model

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/mat"

	"stockwise-ml/internal/domain"
)

// Order search grid. Upper bounds are exclusive.
const (
	maxP = 3
	maxD = 2
	maxQ = 3
)

// scoreStart is the first index of the working series entering the likelihood of
// every candidate: the deepest lag of the grid needs (maxP-1)+(maxD-1) earlier values.
const scoreStart = (maxP - 1) + (maxD - 1)

// holdoutFraction is the share of history held out when evaluating the selected order.
const holdoutFraction = 0.2

// Candidate fit failures. A failed candidate is excluded from order selection.
var (
	errTooFewPoints  = errors.New("too few points")
	errNonStationary = errors.New("non-stationary AR polynomial")
	errNonInvertible = errors.New("non-invertible MA polynomial")
	errNonFinite     = errors.New("non-finite fit")
)

// Order is an ARIMA model order.
type Order struct {
	P int `json:"p"` // autoregressive terms
	D int `json:"d"` // differencing
	Q int `json:"q"` // moving average terms
}

func (o Order) String() string {
	return fmt.Sprintf("(%d,%d,%d)", o.P, o.D, o.Q)
}

// Candidate is the outcome of fitting one order of the search grid.
// AIC is meaningful only when Err is nil.
type Candidate struct {
	Order Order
	AIC   float64
	Err   error
}

// arimaFit is an ARIMA(p,d,q) estimated by conditional least squares.
type arimaFit struct {
	order     Order
	constant  float64
	ar        []float64
	ma        []float64
	sigma2    float64
	logLik    float64
	ic        informationCriteria
	nobs      int
	residuals []float64 // aligned with the d-times differenced series
}

// fitFunc estimates one order. It is swapped out in tests.
type fitFunc func(w []float64, order Order) (*arimaFit, error)

// fitARIMA estimates order on w. The constant is included only for d == 0.
// With q == 0 the coefficients come from OLS on lagged values; with q > 0 from the
// Hannan-Rissanen two-stage regression. Residuals are then recomputed recursively
// from t = p with pre-sample shocks set to zero, and the likelihood is taken over the
// observations from scoreStart on.
func fitARIMA(w []float64, order Order) (*arimaFit, error) {
	z := difference(w, order.D)
	p, q := order.P, order.Q
	withConst := order.D == 0

	f := &arimaFit{order: order}
	var err error
	if q == 0 {
		f.constant, f.ar, err = fitAR(z, p, withConst)
	} else {
		f.constant, f.ar, f.ma, err = fitHannanRissanen(z, p, q, withConst)
	}
	if err != nil {
		return nil, err
	}

	if !arStationary(f.ar) {
		return nil, errNonStationary
	}
	if !maInvertible(f.ma) {
		return nil, errNonInvertible
	}

	f.residuals = arimaResiduals(z, f.constant, f.ar, f.ma)

	// Every order is scored on the same observations of w, so likelihoods compare.
	start := scoreStart - order.D
	if len(z)-start < 1 {
		return nil, fmt.Errorf("%d points to score: %w", max(len(z)-start, 0), errTooFewPoints)
	}
	var sse float64
	for t := start; t < len(z); t++ {
		sse += f.residuals[t] * f.residuals[t]
	}
	f.nobs = len(z) - start
	f.sigma2 = sse / float64(f.nobs)

	nf := float64(f.nobs)
	f.logLik = -nf / 2 * (math.Log(2*math.Pi) + math.Log(f.sigma2) + 1)

	k := p + q + 1 // +1 for the innovation variance
	if withConst {
		k++
	}
	f.ic = calculateIC(f.logLik, f.nobs, k)
	if math.IsNaN(f.ic.AIC) || math.IsInf(f.ic.AIC, 0) {
		return nil, errNonFinite
	}
	return f, nil
}

// fitAR regresses z[t] on an optional constant and z[t-1..t-p].
func fitAR(z []float64, p int, withConst bool) (float64, []float64, error) {
	return regressLags(z, nil, p, 0, p, withConst)
}

// fitHannanRissanen estimates ARMA(p, q) from a long autoregression's residuals.
func fitHannanRissanen(z []float64, p, q int, withConst bool) (float64, []float64, []float64, error) {
	m := p + q + 3
	c, long, err := regressLags(z, nil, m, 0, m, withConst)
	if err != nil {
		return 0, nil, nil, err
	}

	proxy := make([]float64, len(z))
	for t := m; t < len(z); t++ {
		pred := c
		for i, phi := range long {
			pred += phi * z[t-i-1]
		}
		proxy[t] = z[t] - pred
	}

	c, coef, err := regressLags(z, proxy, p, q, m+q, withConst)
	if err != nil {
		return 0, nil, nil, err
	}
	return c, coef[:p], coef[p:], nil
}

// regressLags regresses z[t] for t >= start on an optional constant, p lags of z and
// q lags of e. Returns the constant and the lag coefficients, AR first.
func regressLags(z, e []float64, p, q, start int, withConst bool) (float64, []float64, error) {
	offset := 0
	if withConst {
		offset = 1
	}
	k := offset + p + q
	rows := len(z) - start
	if rows < k+2 {
		return 0, nil, fmt.Errorf("%d rows for %d regressors: %w", max(rows, 0), k, errTooFewPoints)
	}
	if k == 0 {
		return 0, []float64{}, nil
	}

	ne := newNormalEquations(k)
	row := make([]float64, k)
	for t := start; t < len(z); t++ {
		if withConst {
			row[0] = 1
		}
		for i := 0; i < p; i++ {
			row[offset+i] = z[t-i-1]
		}
		for j := 0; j < q; j++ {
			row[offset+p+j] = e[t-j-1]
		}
		ne.add(row, z[t])
	}

	sol, err := ne.solve(nil)
	if err != nil {
		return 0, nil, err
	}

	var c float64
	if withConst {
		c = sol.beta[0]
	}
	return c, sol.beta[offset:], nil
}

// arimaResiduals computes one-step residuals on z from t = p. Earlier residuals are zero.
func arimaResiduals(z []float64, c float64, ar, ma []float64) []float64 {
	e := make([]float64, len(z))
	for t := len(ar); t < len(z); t++ {
		pred := c
		for i, phi := range ar {
			pred += phi * z[t-i-1]
		}
		for j, theta := range ma {
			if t-j-1 >= 0 {
				pred += theta * e[t-j-1]
			}
		}
		e[t] = z[t] - pred
	}
	return e
}

// arStationary reports whether every root of 1 - φ1 L - ... - φp L^p lies outside the unit circle.
func arStationary(phi []float64) bool {
	return companionInside(phi)
}

// maInvertible reports whether every root of 1 + θ1 L + ... + θq L^q lies outside the unit circle.
func maInvertible(theta []float64) bool {
	neg := make([]float64, len(theta))
	for i, v := range theta {
		neg[i] = -v
	}
	return companionInside(neg)
}

// companionInside reports whether all eigenvalues of the companion matrix of
// 1 - a1 L - ... - ak L^k have modulus below one.
func companionInside(a []float64) bool {
	k := len(a)
	if k == 0 {
		return true
	}
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	c := mat.NewDense(k, k, nil)
	for j, v := range a {
		c.Set(0, j, v)
	}
	for i := 1; i < k; i++ {
		c.Set(i, i-1, 1)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(c, mat.EigenNone); !ok {
		return false
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= 1 {
			return false
		}
	}
	return true
}

// informationCriteria holds likelihood-based model selection scores.
type informationCriteria struct {
	AIC  float64
	AICc float64
	BIC  float64
}

func calculateIC(logLik float64, nObs, nParams int) informationCriteria {
	k := float64(nParams)
	n := float64(nObs)

	ic := informationCriteria{
		AIC: -2*logLik + 2*k,
		BIC: -2*logLik + k*math.Log(n),
	}
	if n-k-1 > 0 {
		ic.AICc = ic.AIC + 2*k*(k+1)/(n-k-1)
	} else {
		ic.AICc = math.Inf(1)
	}
	return ic
}

// selectOrder fits every order of the grid on w and returns the minimum-AIC fit.
// Iteration is p, then d, then q; ties keep the first order found.
func selectOrder(w []float64, fit fitFunc) (*arimaFit, []Candidate, error) {
	var best *arimaFit
	candidates := make([]Candidate, 0, maxP*maxD*maxQ)

	for p := 0; p < maxP; p++ {
		for d := 0; d < maxD; d++ {
			for q := 0; q < maxQ; q++ {
				order := Order{P: p, D: d, Q: q}
				f, err := fit(w, order)
				if err != nil {
					candidates = append(candidates, Candidate{Order: order, Err: err})
					continue
				}
				candidates = append(candidates, Candidate{Order: order, AIC: f.ic.AIC})
				if best == nil || f.ic.AIC < best.ic.AIC {
					best = f
				}
			}
		}
	}

	if best == nil {
		return nil, candidates, fmt.Errorf("no order in grid could be fitted: %w", ErrInsufficientData)
	}
	return best, candidates, nil
}

// failureReason returns a metric label for a candidate fit error.
func failureReason(err error) string {
	switch {
	case errors.Is(err, errTooFewPoints):
		return "too_few_points"
	case errors.Is(err, errNonStationary):
		return "non_stationary"
	case errors.Is(err, errNonInvertible):
		return "non_invertible"
	case errors.Is(err, errSingular):
		return "singular"
	case errors.Is(err, errNonFinite):
		return "non_finite"
	default:
		return "other"
	}
}

// Autoregressive is an ARIMA model with AIC-selected order, fitted on the training
// series or on its first difference when the series failed the stationarity test.
type Autoregressive struct {
	state     autoregressiveState
	residuals []float64
}

type autoregressiveState struct {
	Order          Order     `json:"order"`
	Const          float64   `json:"const"`
	AR             []float64 `json:"ar"`
	MA             []float64 `json:"ma"`
	Sigma2         float64   `json:"sigma2"`
	PreDifferenced bool      `json:"pre_differenced"`
	History        []float64 `json:"history"` // training series, original scale
	Last           time.Time `json:"last_date"`
}

var _ Model = (*Autoregressive)(nil)

func newAutoregressive(st autoregressiveState) *Autoregressive {
	z := difference(st.working(), st.Order.D)
	return &Autoregressive{
		state:     st,
		residuals: arimaResiduals(z, st.Const, st.AR, st.MA),
	}
}

// Kind returns ModelKindAutoregressive.
func (m *Autoregressive) Kind() domain.ModelKind { return domain.ModelKindAutoregressive }

// LastDate returns the last training day.
func (m *Autoregressive) LastDate() time.Time { return m.state.Last }

// Forecast predicts horizon days from start. Days between the last training
// day and start are forecast and discarded.
func (m *Autoregressive) Forecast(start time.Time, horizon int) []domain.ForecastPoint {
	gap := max(daysBetween(m.state.Last, start)-1, 0)
	yhat := m.predict(gap + horizon)[gap:]
	return tenPercentBounds(dateRange(start, horizon), yhat)
}

// predict returns steps recursive forecasts on the original scale. Future shocks are zero.
func (m *Autoregressive) predict(steps int) []float64 {
	st := m.state

	// levels[i] is the working series differenced i times.
	levels := make([][]float64, st.Order.D+1)
	levels[0] = st.working()
	for i := 1; i <= st.Order.D; i++ {
		levels[i] = difference(levels[i-1], 1)
	}
	z := levels[st.Order.D]
	n := len(z)

	extZ := make([]float64, n+steps)
	copy(extZ, z)
	extE := make([]float64, n+steps)
	copy(extE, m.residuals)

	for h := 0; h < steps; h++ {
		t := n + h
		pred := st.Const
		for i, phi := range st.AR {
			if t-i-1 >= 0 {
				pred += phi * extZ[t-i-1]
			}
		}
		for j, theta := range st.MA {
			if t-j-1 >= 0 {
				pred += theta * extE[t-j-1]
			}
		}
		extZ[t] = pred
	}

	forecasts := extZ[n:]
	for i := st.Order.D - 1; i >= 0; i-- {
		forecasts = integrate(levels[i], forecasts)
	}
	if st.PreDifferenced {
		forecasts = integrate(st.History, forecasts)
	}
	return forecasts
}

// working returns the series the order was selected on.
func (st autoregressiveState) working() []float64 {
	if st.PreDifferenced {
		return difference(st.History, 1)
	}
	return st.History
}

func (m *Autoregressive) params() map[string]any {
	return map[string]any{
		"order":           m.state.Order.String(),
		"p":               m.state.Order.P,
		"d":               m.state.Order.D,
		"q":               m.state.Order.Q,
		"const":           m.state.Const,
		"ar":              append([]float64(nil), m.state.AR...),
		"ma":              append([]float64(nil), m.state.MA...),
		"sigma2":          m.state.Sigma2,
		"pre_differenced": m.state.PreDifferenced,
		"interval":        "±10% of yhat",
	}
}

// autoregressiveResult bundles a trained model with its selection diagnostics.
type autoregressiveResult struct {
	model      *Autoregressive
	selected   *arimaFit
	candidates []Candidate
	adf        adfResult
	adfErr     error
}

// trainAutoregressive tests stationarity, differences once if needed, then selects an order.
// A series the stationarity test cannot assess is treated as stationary.
func trainAutoregressive(s series, fit fitFunc) (*autoregressiveResult, error) {
	res := &autoregressiveResult{}
	res.adf, res.adfErr = adfTest(s.y)
	pre := res.adfErr == nil && !res.adf.stationary()

	w := s.y
	if pre {
		w = difference(s.y, 1)
	}

	best, candidates, err := selectOrder(w, fit)
	res.candidates = candidates
	if err != nil {
		return res, err
	}
	res.selected = best

	res.model = newAutoregressive(autoregressiveState{
		Order:          best.order,
		Const:          best.constant,
		AR:             best.ar,
		MA:             best.ma,
		Sigma2:         best.sigma2,
		PreDifferenced: pre,
		History:        append([]float64(nil), s.y...),
		Last:           s.dates[s.len()-1],
	})
	return res, nil
}

// evaluateAutoregressive refits the selected order on the first 80% of history and
// scores its forecast of the remainder.
func evaluateAutoregressive(s series, res *autoregressiveResult, fit fitFunc) Metrics {
	aic := res.selected.ic.AIC
	metrics := Metrics{AIC: &aic}

	n := s.len()
	holdout := max(int(float64(n)*holdoutFraction), 1)
	split := n - holdout

	train := append([]float64(nil), s.y[:split]...)
	w := train
	if res.model.state.PreDifferenced {
		w = difference(train, 1)
	}

	f, err := fit(w, res.selected.order)
	if err != nil {
		metrics.EvalError = fmt.Sprintf("refit %s on %d points: %v", res.selected.order, split, err)
		return metrics
	}

	m := newAutoregressive(autoregressiveState{
		Order:          f.order,
		Const:          f.constant,
		AR:             f.ar,
		MA:             f.ma,
		Sigma2:         f.sigma2,
		PreDifferenced: res.model.state.PreDifferenced,
		History:        train,
		Last:           s.dates[split-1],
	})
	metrics.MAE, metrics.RMSE = errorMetrics(s.y[split:], m.predict(holdout))
	return metrics
}

// difference applies first differencing d times.
func difference(x []float64, d int) []float64 {
	out := x
	for i := 0; i < d; i++ {
		if len(out) < 2 {
			return []float64{}
		}
		next := make([]float64, len(out)-1)
		for j := range next {
			next[j] = out[j+1] - out[j]
		}
		out = next
	}
	return out
}

// integrate undoes one differencing step, anchoring at the last value of level.
func integrate(level, deltas []float64) []float64 {
	out := make([]float64, len(deltas))
	prev := level[len(level)-1]
	for i, d := range deltas {
		prev += d
		out[i] = prev
	}
	return out
}
