package model

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/observability"
)

// ErrInvalidTarget is returned for an unknown target column.
var ErrInvalidTarget = errors.New("invalid target")

// Trainer fits forecasting models on feature series.
// A Trainer is stateless between calls and safe for concurrent use.
type Trainer struct {
	logger *log.Logger
	now    func() time.Time
	fit    fitFunc
}

// TrainerOptions contains configuration for creating a Trainer.
type TrainerOptions struct {
	Clock  func() time.Time // Default: time.Now
	Logger *log.Logger
}

// NewTrainer creates a new Trainer.
func NewTrainer(opts TrainerOptions) *Trainer {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Trainer{
		logger: logger,
		now:    clock,
		fit:    fitARIMA,
	}
}

// Train fits a model of the given kind on rows, predicting target.
// Rows must be one product's series in ascending date order.
func (t *Trainer) Train(rows []domain.FeatureRow, target Target, kind domain.ModelKind) (*Fitted, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("train %s: empty series: %w", kind, ErrInsufficientData)
	}
	if target == "" {
		target = TargetSales
	}

	y, err := target.values(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	dates := make([]time.Time, len(rows))
	for i := range rows {
		dates[i] = rows[i].Date
	}
	s := series{dates: dates, y: y}

	started := time.Now()
	var f *Fitted
	switch kind {
	case domain.ModelKindDecomposition:
		f, err = t.trainDecomposition(s)
	case domain.ModelKindAutoregressive:
		f, err = t.trainAutoregressive(s)
	case domain.ModelKindEnsemble:
		f, err = t.trainEnsemble(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, string(kind))
	}

	elapsed := time.Since(started)
	productID := rows[0].ProductID
	if err != nil {
		observability.RecordTraining(string(kind), "error", elapsed.Seconds())
		t.logger.Printf("Training %s for product %s failed after %v: %v", kind, productID, elapsed, err)
		return nil, fmt.Errorf("train %s: %w", kind, err)
	}
	observability.RecordTraining(string(kind), "success", elapsed.Seconds())

	f.ProductID = productID
	f.Target = target
	f.TrainedAt = t.now().UTC()

	t.logger.Printf("Trained %s for product %s on %d rows in %v (MAE %.3f, RMSE %.3f)",
		kind, productID, len(rows), elapsed, f.Metrics.MAE, f.Metrics.RMSE)
	return f, nil
}

func (t *Trainer) trainDecomposition(s series) (*Fitted, error) {
	m, err := fitDecomposition(s)
	if err != nil {
		return nil, err
	}
	return &Fitted{
		Kind:    domain.ModelKindDecomposition,
		Params:  m.params(),
		Metrics: evaluateDecomposition(s, m),
		Model:   m,
	}, nil
}

func (t *Trainer) trainAutoregressive(s series) (*Fitted, error) {
	res, err := trainAutoregressive(s, t.fit)

	failed := 0
	for _, c := range res.candidates {
		if c.Err != nil {
			failed++
			observability.RecordCandidateFailure(failureReason(c.Err))
		}
	}
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		t.logger.Printf("Order search excluded %d of %d candidates", failed, len(res.candidates))
	}

	params := res.model.params()
	params["aic"] = res.selected.ic.AIC
	params["bic"] = res.selected.ic.BIC
	if !math.IsInf(res.selected.ic.AICc, 0) {
		params["aicc"] = res.selected.ic.AICc
	}
	params["candidates_fitted"] = len(res.candidates) - failed
	params["candidates_failed"] = failed
	if res.adfErr != nil {
		params["adf_skipped"] = res.adfErr.Error()
	} else {
		params["adf_statistic"] = res.adf.Statistic
		params["adf_pvalue"] = res.adf.PValue
		params["adf_lags"] = res.adf.Lags
	}

	return &Fitted{
		Kind:    domain.ModelKindAutoregressive,
		Params:  params,
		Metrics: evaluateAutoregressive(s, res, t.fit),
		Model:   res.model,
	}, nil
}

// trainEnsemble trains both variants independently. A failed member is recorded
// and left out; the ensemble fails only when both members do.
func (t *Trainer) trainEnsemble(s series) (*Fitted, error) {
	ens := &Ensemble{errs: make(map[domain.ModelKind]string)}
	params := map[string]any{}
	metrics := Metrics{Members: make(map[domain.ModelKind]*Metrics)}

	var errs []error
	for _, member := range []struct {
		kind  domain.ModelKind
		train func(series) (*Fitted, error)
	}{
		{domain.ModelKindDecomposition, t.trainDecomposition},
		{domain.ModelKindAutoregressive, t.trainAutoregressive},
	} {
		f, err := member.train(s)
		if err != nil {
			t.logger.Printf("Ensemble member %s failed: %v", member.kind, err)
			ens.errs[member.kind] = err.Error()
			metrics.Members[member.kind] = &Metrics{EvalError: err.Error()}
			errs = append(errs, fmt.Errorf("%s: %w", member.kind, err))
			continue
		}
		ens.members = append(ens.members, f.Model)
		params[string(member.kind)] = f.Params
		memberMetrics := f.Metrics
		metrics.Members[member.kind] = &memberMetrics
	}

	if len(ens.members) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoViableModel, errors.Join(errs...))
	}

	kinds := make([]string, len(ens.members))
	for i, k := range ens.Members() {
		kinds[i] = string(k)
	}
	params["members"] = kinds
	params["interval"] = "±10% of yhat"

	return &Fitted{
		Kind:    domain.ModelKindEnsemble,
		Params:  params,
		Metrics: metrics,
		Model:   ens,
	}, nil
}
