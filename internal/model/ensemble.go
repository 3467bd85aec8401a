package model

import (
	"time"

	"stockwise-ml/internal/domain"
)

// Ensemble averages the point forecasts of its surviving members.
type Ensemble struct {
	members []Model
	errs    map[domain.ModelKind]string // members that failed to train
}

var _ Model = (*Ensemble)(nil)

// Kind returns ModelKindEnsemble.
func (m *Ensemble) Kind() domain.ModelKind { return domain.ModelKindEnsemble }

// LastDate returns the latest training day across members.
func (m *Ensemble) LastDate() time.Time {
	var last time.Time
	for _, member := range m.members {
		if d := member.LastDate(); d.After(last) {
			last = d
		}
	}
	return last
}

// Members returns the kinds of the members used at prediction time.
func (m *Ensemble) Members() []domain.ModelKind {
	kinds := make([]domain.ModelKind, len(m.members))
	for i, member := range m.members {
		kinds[i] = member.Kind()
	}
	return kinds
}

// Forecast averages member estimates element-wise. Bounds are ±10% of the average,
// not an average of member bounds.
func (m *Ensemble) Forecast(start time.Time, horizon int) []domain.ForecastPoint {
	sum := make([]float64, horizon)
	for _, member := range m.members {
		for i, p := range member.Forecast(start, horizon) {
			sum[i] += p.Yhat
		}
	}

	n := float64(len(m.members))
	for i := range sum {
		sum[i] /= n
	}
	return tenPercentBounds(dateRange(start, horizon), sum)
}
