package domain

import "time"

// ForecastPoint is a prediction for one future day. Never persisted.
type ForecastPoint struct {
	Date      time.Time `json:"date"`
	Yhat      float64   `json:"yhat"`
	YhatLower float64   `json:"yhat_lower"`
	YhatUpper float64   `json:"yhat_upper"`
}

// ModelKind identifies a forecasting strategy.
type ModelKind string

// Supported model kinds.
const (
	ModelKindDecomposition  ModelKind = "decomposition"
	ModelKindAutoregressive ModelKind = "autoregressive"
	ModelKindEnsemble       ModelKind = "ensemble"
)

// kindAliases maps request-level strategy names to model kinds.
var kindAliases = map[string]ModelKind{
	"decomposition":  ModelKindDecomposition,
	"prophet":        ModelKindDecomposition,
	"autoregressive": ModelKindAutoregressive,
	"arima":          ModelKindAutoregressive,
	"ensemble":       ModelKindEnsemble,
}

// ParseModelKind resolves a strategy name (including aliases) to a ModelKind.
// Returns false for unknown names.
func ParseModelKind(name string) (ModelKind, bool) {
	k, ok := kindAliases[name]
	return k, ok
}
