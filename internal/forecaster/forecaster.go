// Package forecaster serves per-product demand forecasts and manages the model lifecycle.
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/model"
	"stockwise-ml/internal/observability"
	"stockwise-ml/internal/storage"
)

// ErrModelNotFound is returned when a product has neither a cached nor a persisted model.
var ErrModelNotFound = errors.New("model not found")

// State is the lifecycle state of a product's model.
type State string

// Model states.
const (
	StateUntrained State = "untrained"
	StateTrained   State = "trained"
	StateStale     State = "stale"
)

// FeatureSource supplies training series.
type FeatureSource interface {
	Snapshot(ctx context.Context, productID string) ([]domain.FeatureRow, error)
}

// Trainer fits models on training series.
type Trainer interface {
	Train(rows []domain.FeatureRow, target model.Target, kind domain.ModelKind) (*model.Fitted, error)
}

// Options contains configuration for creating a Forecaster.
type Options struct {
	Features    FeatureSource
	Trainer     Trainer
	Models      storage.ModelStore
	DefaultKind domain.ModelKind // Default: decomposition
	Target      model.Target     // Default: sales
	MaxModelAge time.Duration    // 0 disables age-based staleness
	Clock       func() time.Time // Default: time.Now
	Logger      *log.Logger
}

// Forecaster owns the fitted model of every product it has served or trained.
type Forecaster struct {
	features    FeatureSource
	trainer     Trainer
	models      storage.ModelStore
	defaultKind domain.ModelKind
	target      model.Target
	maxAge      time.Duration
	now         func() time.Time
	logger      *log.Logger

	mu       sync.RWMutex
	products map[string]*entry
}

// entry is one product's model slot. Readers load fitted without locking;
// trainMu serializes retrains of the product.
type entry struct {
	fitted  atomic.Pointer[model.Fitted]
	stale   atomic.Bool
	trainMu sync.Mutex
}

// New creates a new Forecaster.
func New(opts Options) *Forecaster {
	kind := opts.DefaultKind
	if kind == "" {
		kind = domain.ModelKindDecomposition
	}

	target := opts.Target
	if target == "" {
		target = model.TargetSales
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Forecaster{
		features:    opts.Features,
		trainer:     opts.Trainer,
		models:      opts.Models,
		defaultKind: kind,
		target:      target,
		maxAge:      opts.MaxModelAge,
		now:         clock,
		logger:      logger,
		products:    make(map[string]*entry),
	}
}

// Forecast returns horizon points starting the day after now.
// The model is taken from memory or loaded from the model store on first use.
func (f *Forecaster) Forecast(ctx context.Context, productID string, horizon int) ([]domain.ForecastPoint, error) {
	fitted, err := f.fittedFor(ctx, productID)
	if err != nil {
		observability.RecordForecast(outcomeLabel(err))
		return nil, err
	}

	points, err := fitted.Forecast(f.now(), horizon)
	if err != nil {
		observability.RecordForecast(outcomeLabel(err))
		return nil, fmt.Errorf("forecast %s: %w", productID, err)
	}
	observability.RecordForecast("ok")
	return points, nil
}

// Retrain trains a new model for a product, persists it and swaps it in.
// An empty kind uses the configured default. The feature lock is not held while training.
func (f *Forecaster) Retrain(ctx context.Context, productID string, kind domain.ModelKind) (*model.Fitted, error) {
	if kind == "" {
		kind = f.defaultKind
	}
	if !validKind(kind) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStrategy, string(kind))
	}

	e := f.lockEntry(productID)
	defer f.unlockEntry(productID, e)

	// Events recorded from here on mark the new model stale again.
	wasStale := e.stale.Swap(false)
	fitted, err := f.train(ctx, productID, kind)
	if err != nil {
		if wasStale {
			e.stale.Store(true)
		}
		return nil, err
	}

	e.fitted.Store(fitted)
	f.refreshStaleGauge()
	observability.MarkTrainingSuccess(float64(f.now().Unix()))

	f.logger.Printf("Model %s for product %s is now serving", kind, productID)
	return fitted, nil
}

func (f *Forecaster) train(ctx context.Context, productID string, kind domain.ModelKind) (*model.Fitted, error) {
	rows, err := f.features.Snapshot(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("retrain %s: %w", productID, err)
	}

	fitted, err := f.trainer.Train(rows, f.target, kind)
	if err != nil {
		return nil, fmt.Errorf("retrain %s: %w", productID, err)
	}
	fitted.ProductID = productID

	blob, err := model.Marshal(fitted)
	if err != nil {
		return nil, fmt.Errorf("retrain %s: %w", productID, err)
	}
	err = f.models.Save(ctx, productID, blob)
	observability.RecordModelStore("save", err)
	if err != nil {
		return nil, fmt.Errorf("save model %s: %w", productID, err)
	}
	return fitted, nil
}

// ForecastRequest is a forecast call with optional retraining.
type ForecastRequest struct {
	ProductID string
	Horizon   int
	Retrain   bool
	Kind      domain.ModelKind // used when retraining
}

// ForecastResponse is the result of a ForecastRequest.
type ForecastResponse struct {
	ProductID string                 `json:"product_id"`
	Forecast  []domain.ForecastPoint `json:"forecast"`
}

// Handle serves a ForecastRequest, retraining first when asked to.
func (f *Forecaster) Handle(ctx context.Context, req ForecastRequest) (*ForecastResponse, error) {
	if req.Retrain {
		if _, err := f.Retrain(ctx, req.ProductID, req.Kind); err != nil {
			return nil, err
		}
	}

	points, err := f.Forecast(ctx, req.ProductID, req.Horizon)
	if err != nil {
		return nil, err
	}
	return &ForecastResponse{ProductID: req.ProductID, Forecast: points}, nil
}

// MarkStale flags a product's model as outdated after new events were recorded for it.
// The flag is set under f.mu, so unlockEntry never drops an entry being marked.
func (f *Forecaster) MarkStale(productID string) {
	f.mu.RLock()
	e, ok := f.products[productID]
	changed := ok && !e.stale.Swap(true)
	f.mu.RUnlock()

	if !ok {
		f.mu.Lock()
		e, ok = f.products[productID]
		if !ok {
			e = &entry{}
			f.products[productID] = e
		}
		changed = !e.stale.Swap(true)
		f.mu.Unlock()
	}

	if changed {
		f.refreshStaleGauge()
	}
}

// ColdStart trains each product with the given kind. Failures are logged and
// skipped. Returns the number of products trained.
func (f *Forecaster) ColdStart(ctx context.Context, productIDs []string, kind domain.ModelKind) int {
	trained := 0
	for _, id := range productIDs {
		if ctx.Err() != nil {
			break
		}
		if _, err := f.Retrain(ctx, id, kind); err != nil {
			f.logger.Printf("Cold start skipped product %s: %v", id, err)
			continue
		}
		trained++
	}

	f.logger.Printf("Cold start trained %d of %d products", trained, len(productIDs))
	return trained
}

// RetrainStale retrains every stale product with the kind it was last trained with.
// Returns the number retrained and the joined errors of the rest.
func (f *Forecaster) RetrainStale(ctx context.Context) (int, error) {
	var stale []string
	kinds := make(map[string]domain.ModelKind)

	f.mu.RLock()
	for id, e := range f.products {
		fitted := e.fitted.Load()
		if fitted != nil && f.stateOf(e, fitted) == StateStale {
			stale = append(stale, id)
			kinds[id] = fitted.Kind
		}
	}
	f.mu.RUnlock()
	sort.Strings(stale)

	retrained := 0
	var errs []error
	for _, id := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := f.Retrain(ctx, id, kinds[id]); err != nil {
			errs = append(errs, err)
			continue
		}
		retrained++
	}
	return retrained, errors.Join(errs...)
}

// Status describes a product's model.
type Status struct {
	ProductID string           `json:"product_id"`
	State     State            `json:"state"`
	Kind      domain.ModelKind `json:"model_type,omitempty"`
	TrainedAt *time.Time       `json:"trained_at,omitempty"`
	Metrics   *model.Metrics   `json:"metrics,omitempty"`
	Params    map[string]any   `json:"params,omitempty"`
}

// Status reports a product's state, loading a persisted model if one exists.
func (f *Forecaster) Status(ctx context.Context, productID string) (*Status, error) {
	fitted, err := f.fittedFor(ctx, productID)
	if errors.Is(err, ErrModelNotFound) {
		return &Status{ProductID: productID, State: StateUntrained}, nil
	}
	if err != nil {
		return nil, err
	}

	trainedAt := fitted.TrainedAt
	metrics := fitted.Metrics
	return &Status{
		ProductID: productID,
		State:     f.stateOf(f.entry(productID), fitted),
		Kind:      fitted.Kind,
		TrainedAt: &trainedAt,
		Metrics:   &metrics,
		Params:    fitted.Params,
	}, nil
}

// fittedFor returns the in-memory model, loading it from the store on first use.
// A product with no model anywhere gets no entry.
func (f *Forecaster) fittedFor(ctx context.Context, productID string) (*model.Fitted, error) {
	if e := f.lookup(productID); e != nil {
		if fitted := e.fitted.Load(); fitted != nil {
			return fitted, nil
		}
	}

	blob, err := f.models.Load(ctx, productID)
	observability.RecordModelStore("load", ignoreNotFound(err))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", productID, ErrModelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", productID, err)
	}

	fitted, err := model.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", productID, err)
	}

	// A concurrent retrain or load may have won; keep the model already serving.
	e := f.entry(productID)
	if !e.fitted.CompareAndSwap(nil, fitted) {
		return e.fitted.Load(), nil
	}
	f.logger.Printf("Loaded persisted %s model for product %s", fitted.Kind, productID)
	return fitted, nil
}

func (f *Forecaster) lookup(productID string) *entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.products[productID]
}

func (f *Forecaster) entry(productID string) *entry {
	if e := f.lookup(productID); e != nil {
		return e
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.products[productID]; ok {
		return e
	}
	e := &entry{}
	f.products[productID] = e
	return e
}

// lockEntry returns the product's current entry with trainMu held.
// An entry dropped by unlockEntry between lookup and lock is skipped.
func (f *Forecaster) lockEntry(productID string) *entry {
	for {
		e := f.entry(productID)
		e.trainMu.Lock()
		if f.lookup(productID) == e {
			return e
		}
		e.trainMu.Unlock()
	}
}

// unlockEntry releases trainMu, first dropping an entry left with neither a
// model nor a pending stale flag, such as after a failed first retrain.
func (f *Forecaster) unlockEntry(productID string, e *entry) {
	f.mu.Lock()
	if e.fitted.Load() == nil && !e.stale.Load() && f.products[productID] == e {
		delete(f.products, productID)
	}
	f.mu.Unlock()
	e.trainMu.Unlock()
}

func (f *Forecaster) stateOf(e *entry, fitted *model.Fitted) State {
	switch {
	case fitted == nil:
		return StateUntrained
	case e.stale.Load():
		return StateStale
	case f.maxAge > 0 && f.now().Sub(fitted.TrainedAt) > f.maxAge:
		return StateStale
	default:
		return StateTrained
	}
}

func (f *Forecaster) refreshStaleGauge() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, e := range f.products {
		if f.stateOf(e, e.fitted.Load()) == StateStale {
			n++
		}
	}
	observability.SetStaleModels(n)
}

func validKind(kind domain.ModelKind) bool {
	switch kind {
	case domain.ModelKindDecomposition, domain.ModelKindAutoregressive, domain.ModelKindEnsemble:
		return true
	default:
		return false
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
