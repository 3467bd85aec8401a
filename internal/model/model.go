// Package model trains per-product demand forecasting models.
//
// Three variants are supported: an additive decomposition model (trend, weekly and
// yearly seasonality, holidays), an autoregressive model with automatic order selection,
// and an ensemble averaging both. Fitted models are plain values that can be serialized
// with Marshal and restored with Unmarshal.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"stockwise-ml/internal/domain"
)

// Model errors
var (
	ErrInvalidStrategy  = errors.New("invalid strategy")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoViableModel    = errors.New("no viable model")
	ErrInvalidHorizon   = errors.New("horizon must be positive")
)

// Model is a fitted forecasting model.
type Model interface {
	// Kind returns the variant of the model.
	Kind() domain.ModelKind
	// LastDate returns the last calendar day of the training series.
	LastDate() time.Time
	// Forecast returns horizon consecutive daily points, the first dated start.
	// start must be after LastDate.
	Forecast(start time.Time, horizon int) []domain.ForecastPoint
}

// Target selects the feature column a model is trained on.
type Target string

// Supported targets.
const (
	TargetSales        Target = "sales"
	TargetPurchases    Target = "purchases"
	TargetTransactions Target = "transactions"
)

// values extracts the target column from rows.
func (t Target) values(rows []domain.FeatureRow) ([]float64, error) {
	y := make([]float64, len(rows))
	for i := range rows {
		switch t {
		case TargetSales, "":
			y[i] = rows[i].Sales
		case TargetPurchases:
			y[i] = rows[i].Purchases
		case TargetTransactions:
			y[i] = float64(rows[i].Transactions)
		default:
			return nil, fmt.Errorf("unknown target %q", string(t))
		}
	}
	return y, nil
}

// Metrics holds evaluation results of a fitted model.
type Metrics struct {
	MAE       float64                       `json:"mae"`
	RMSE      float64                       `json:"rmse"`
	MAPE      *float64                      `json:"mape,omitempty"` // decomposition; NULL if every actual is zero
	AIC       *float64                      `json:"aic,omitempty"`  // autoregressive
	InSample  bool                          `json:"in_sample,omitempty"`
	EvalError string                        `json:"eval_error,omitempty"`
	Members   map[domain.ModelKind]*Metrics `json:"members,omitempty"` // ensemble
}

// Fitted is a trained model together with its training metadata.
type Fitted struct {
	ProductID string
	Kind      domain.ModelKind
	Target    Target
	Params    map[string]any
	Metrics   Metrics
	TrainedAt time.Time
	Model     Model
}

// Forecast returns horizon points starting the day after now.
// Days between the end of the training series and now are skipped.
func (f *Fitted) Forecast(now time.Time, horizon int) ([]domain.ForecastPoint, error) {
	if horizon < 1 {
		return nil, ErrInvalidHorizon
	}

	start := domain.TruncateDay(now).AddDate(0, 0, 1)
	if next := f.Model.LastDate().AddDate(0, 0, 1); start.Before(next) {
		start = next
	}
	return f.Model.Forecast(start, horizon), nil
}

// series is the training input shared by all variants.
type series struct {
	dates []time.Time
	y     []float64
}

func (s series) len() int { return len(s.y) }

func (s series) slice(from, to int) series {
	return series{dates: s.dates[from:to], y: s.y[from:to]}
}

// daysBetween returns the number of whole days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// tenPercentBounds returns bounds of ±10% of |yhat|.
// For non-negative estimates this equals yhat*0.9 and yhat*1.1.
func tenPercentBounds(dates []time.Time, yhat []float64) []domain.ForecastPoint {
	points := make([]domain.ForecastPoint, len(yhat))
	for i, v := range yhat {
		band := 0.1 * math.Abs(v)
		points[i] = domain.ForecastPoint{
			Date:      dates[i],
			Yhat:      v,
			YhatLower: v - band,
			YhatUpper: v + band,
		}
	}
	return points
}

func dateRange(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}
