package features

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/observability"
	"stockwise-ml/internal/storage"
)

// ErrEmptyHistory is returned when the event store holds no rows for a product
// within the requested window. Callers treat it as a cold start.
var ErrEmptyHistory = errors.New("empty history")

// DefaultDaysBack is the extraction window used when none is configured.
const DefaultDaysBack = 365

// Store owns the per-product feature cache.
// All access goes through its methods; cached series are never handed out by reference.
type Store struct {
	events   storage.EventStore
	daysBack int
	now      func() time.Time
	logger   *log.Logger

	mu    sync.RWMutex
	cells map[string]*cell
}

// cell is one product's cached series. mu serializes every mutation for the product.
type cell struct {
	mu     sync.Mutex
	loaded bool
	aggs   []domain.DailyAggregate
	rows   []domain.FeatureRow
}

// Options contains configuration for creating a Store.
type Options struct {
	Events   storage.EventStore
	DaysBack int              // Default: 365
	Clock    func() time.Time // Default: time.Now
	Logger   *log.Logger
}

// NewStore creates a new feature store.
func NewStore(opts Options) *Store {
	daysBack := opts.DaysBack
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Store{
		events:   opts.Events,
		daysBack: daysBack,
		now:      clock,
		logger:   logger,
		cells:    make(map[string]*cell),
	}
}

// Extract reads the trailing daysBack window of daily aggregates for a product.
// Returns ErrEmptyHistory if there are no rows.
func (s *Store) Extract(ctx context.Context, productID string, daysBack int) ([]domain.DailyAggregate, error) {
	if daysBack <= 0 {
		daysBack = s.daysBack
	}
	since := domain.TruncateDay(s.now()).AddDate(0, 0, -daysBack)

	aggs, err := s.events.DailyAggregates(ctx, productID, since)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", productID, err)
	}
	if len(aggs) == 0 {
		return nil, fmt.Errorf("extract %s: %w", productID, ErrEmptyHistory)
	}

	s.logger.Printf("Extracted %d daily rows for product %s", len(aggs), productID)
	return aggs, nil
}

// Update applies one event to the cached series of a product.
// The day's counters are accumulated, or a new day row is inserted in date order,
// and features are recomputed over the whole series.
// Returns false if the product is not cached; its next read extracts from source.
func (s *Store) Update(productID string, e *domain.Event) bool {
	if s.lookup(productID) == nil {
		return false
	}

	c := s.lockCell(productID)
	defer s.unlockCell(productID, c)

	if !c.loaded {
		return false
	}
	c.applyLocked(productID, e)
	return true
}

// Record appends an event to the event store and, if the product is cached,
// applies it to the cache. The product lock is held across both steps, so a
// concurrent cache fill sees each event exactly once. Recording does not cache
// an uncached product.
func (s *Store) Record(ctx context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	c := s.lockCell(e.ProductID)
	defer s.unlockCell(e.ProductID, c)

	if err := s.events.Append(ctx, e); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if c.loaded {
		c.applyLocked(e.ProductID, e)
	}
	return nil
}

// FeaturesForPrediction returns the most recent feature row for a product.
// On cache miss it extracts and caches the history. With no history at all it
// returns defaults derived from the current date and caches nothing.
func (s *Store) FeaturesForPrediction(ctx context.Context, productID string) (domain.FeatureVector, error) {
	c := s.lockCell(productID)
	defer s.unlockCell(productID, c)

	err := s.loadLocked(ctx, productID, c, false)
	if errors.Is(err, ErrEmptyHistory) {
		return s.defaultVector(productID), nil
	}
	if err != nil {
		return domain.FeatureVector{}, err
	}
	if len(c.rows) == 0 {
		return s.defaultVector(productID), nil
	}
	return vectorOf(productID, &c.rows[len(c.rows)-1]), nil
}

// Snapshot returns a deep copy of a product's cached feature series, loading it on miss.
// The product lock is released before returning, so callers may train on the copy freely.
// Returns ErrEmptyHistory if the product has no rows.
func (s *Store) Snapshot(ctx context.Context, productID string) ([]domain.FeatureRow, error) {
	c := s.lockCell(productID)
	defer s.unlockCell(productID, c)

	if err := s.loadLocked(ctx, productID, c, false); err != nil {
		return nil, err
	}
	if len(c.rows) == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", productID, ErrEmptyHistory)
	}
	return copyRows(c.rows), nil
}

// Warm loads a product's series into the cache. Unlike a read, it keeps the
// product cached even with no history yet, so every event recorded afterwards
// is applied to the cached series.
func (s *Store) Warm(ctx context.Context, productID string) error {
	c := s.lockCell(productID)
	defer s.unlockCell(productID, c)

	return s.loadLocked(ctx, productID, c, true)
}

// Invalidate drops a product's cached series. The next read re-extracts.
func (s *Store) Invalidate(productID string) {
	s.mu.Lock()
	delete(s.cells, productID)
	n := len(s.cells)
	s.mu.Unlock()

	observability.SetFeatureCacheSize(n)
}

// Len returns the number of cached products.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

func (s *Store) lookup(productID string) *cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[productID]
}

func (s *Store) cellFor(productID string) *cell {
	if c := s.lookup(productID); c != nil {
		return c
	}

	s.mu.Lock()
	c, ok := s.cells[productID]
	if !ok {
		c = &cell{}
		s.cells[productID] = c
	}
	n := len(s.cells)
	s.mu.Unlock()

	if !ok {
		observability.SetFeatureCacheSize(n)
	}
	return c
}

// lockCell returns the product's current cell with its lock held.
// A cell dropped by Invalidate between lookup and lock is skipped.
func (s *Store) lockCell(productID string) *cell {
	for {
		c := s.cellFor(productID)
		c.mu.Lock()
		if s.lookup(productID) == c {
			return c
		}
		c.mu.Unlock()
	}
}

// unlockCell releases a cell locked by lockCell. A cell that is still not
// loaded is dropped first, so misses leave nothing behind.
func (s *Store) unlockCell(productID string, c *cell) {
	if !c.loaded {
		s.mu.Lock()
		if s.cells[productID] == c {
			delete(s.cells, productID)
		}
		n := len(s.cells)
		s.mu.Unlock()

		observability.SetFeatureCacheSize(n)
	}
	c.mu.Unlock()
}

// loadLocked fills the cell from the event store once. Empty history leaves the
// cell unloaded and returns ErrEmptyHistory, unless keepEmpty caches it as an
// empty series for later recorded events to extend.
func (s *Store) loadLocked(ctx context.Context, productID string, c *cell, keepEmpty bool) error {
	if c.loaded {
		return nil
	}

	aggs, err := s.Extract(ctx, productID, s.daysBack)
	if err != nil && !(keepEmpty && errors.Is(err, ErrEmptyHistory)) {
		return err
	}

	c.aggs = aggs
	c.rows = Transform(aggs)
	c.loaded = true
	return nil
}

func (c *cell) applyLocked(productID string, e *domain.Event) {
	day := e.Day()

	idx := sort.Search(len(c.aggs), func(i int) bool { return !c.aggs[i].Date.Before(day) })
	if idx < len(c.aggs) && c.aggs[idx].Date.Equal(day) {
		c.aggs[idx].Apply(e)
	} else {
		agg := domain.DailyAggregate{ProductID: productID, Date: day}
		agg.Apply(e)
		c.aggs = append(c.aggs, domain.DailyAggregate{})
		copy(c.aggs[idx+1:], c.aggs[idx:])
		c.aggs[idx] = agg
	}

	// Rolling and lag features of later rows depend on this one.
	c.rows = Transform(c.aggs)
}

func (s *Store) defaultVector(productID string) domain.FeatureVector {
	today := domain.TruncateDay(s.now())
	cal := calendarOf(today)
	return domain.FeatureVector{
		ProductID:    productID,
		Date:         today,
		DayOfWeek:    cal.dayOfWeek,
		Month:        cal.month,
		Quarter:      cal.quarter,
		Year:         cal.year,
		IsWeekend:    cal.isWeekend,
		IsMonthStart: cal.isMonthStart,
		IsMonthEnd:   cal.isMonthEnd,
		Default:      true,
	}
}

func vectorOf(productID string, r *domain.FeatureRow) domain.FeatureVector {
	return domain.FeatureVector{
		ProductID:    productID,
		Date:         r.Date,
		DayOfWeek:    r.DayOfWeek,
		Month:        r.Month,
		Quarter:      r.Quarter,
		Year:         r.Year,
		IsWeekend:    r.IsWeekend,
		IsMonthStart: r.IsMonthStart,
		IsMonthEnd:   r.IsMonthEnd,
		Sales:        r.Sales,
		Purchases:    r.Purchases,
		Transactions: r.Transactions,
		SalesMA7:     r.SalesMA7,
		SalesMA30:    r.SalesMA30,
		SalesLag1:    deref(r.SalesLag1),
		SalesLag7:    deref(r.SalesLag7),
		SalesLag30:   deref(r.SalesLag30),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func copyRows(rows []domain.FeatureRow) []domain.FeatureRow {
	out := make([]domain.FeatureRow, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].SalesLag1 = clonePtr(r.SalesLag1)
		out[i].SalesLag7 = clonePtr(r.SalesLag7)
		out[i].SalesLag30 = clonePtr(r.SalesLag30)
	}
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
