package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
	"stockwise-ml/internal/storage"
)

// CacheSource exposes a consistent copy of a product's cached feature series.
type CacheSource interface {
	Snapshot(ctx context.Context, productID string) ([]domain.FeatureRow, error)
}

// FeatureVerifier implements Verifier against an event store.
type FeatureVerifier struct {
	cache  CacheSource
	events storage.EventStore

	// since bounds the batch extraction. Zero reads the full history.
	since time.Time
}

// FeatureVerifierOptions contains configuration for creating a FeatureVerifier.
type FeatureVerifierOptions struct {
	Cache  CacheSource
	Events storage.EventStore
	Since  time.Time
}

// NewFeatureVerifier creates a new FeatureVerifier.
func NewFeatureVerifier(opts FeatureVerifierOptions) *FeatureVerifier {
	return &FeatureVerifier{
		cache:  opts.Cache,
		events: opts.Events,
		since:  opts.Since,
	}
}

var _ Verifier = (*FeatureVerifier)(nil)

// VerifyProduct recomputes a product's features from the event store and
// compares them with the cached series.
func (v *FeatureVerifier) VerifyProduct(ctx context.Context, productID string) (*VerificationResult, error) {
	// 1. Batch recomputation
	aggs, err := v.events.DailyAggregates(ctx, productID, v.since)
	if err != nil {
		return nil, fmt.Errorf("daily aggregates %s: %w", productID, err)
	}
	expected := features.Transform(aggs)

	// 2. Cached series
	actual, err := v.cache.Snapshot(ctx, productID)
	if err != nil && !errors.Is(err, features.ErrEmptyHistory) {
		return nil, fmt.Errorf("snapshot %s: %w", productID, err)
	}

	// 3. Compare
	divergences := CompareFeatureRows(expected, actual)

	return &VerificationResult{
		ProductID:   productID,
		Match:       len(divergences) == 0,
		Rows:        len(expected),
		CachedRows:  len(actual),
		Divergences: divergences,
	}, nil
}

// VerifyAll verifies every product with at least one event.
func (v *FeatureVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	ids, err := v.events.ProductIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		TotalProducts: len(ids),
		Results:       make([]VerificationResult, 0, len(ids)),
	}

	for _, id := range ids {
		result, err := v.VerifyProduct(ctx, id)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, VerificationResult{
				ProductID: id,
				Match:     false,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentProducts++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedProducts++
		} else {
			report.DivergentProducts++
		}
	}

	return report, nil
}
