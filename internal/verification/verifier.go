// Package verification checks that incrementally maintained feature rows match
// a batch recomputation from the event store.
package verification

import (
	"context"
	"math"
	"time"

	"stockwise-ml/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
// Incremental sums may differ from batch sums in the last bits.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between cached and recomputed values.
type FieldDivergence struct {
	Date     time.Time   // day of the divergent row
	Field    string      // field name
	Expected interface{} // batch value
	Actual   interface{} // cached value
}

// VerificationResult contains the result of verifying one product.
type VerificationResult struct {
	ProductID   string            // verified product
	Match       bool              // true if every row and field matches
	Rows        int               // rows in the batch recomputation
	CachedRows  int               // rows in the cached series
	Divergences []FieldDivergence // list of divergent fields
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalProducts     int                  // products verified
	MatchedProducts   int                  // products that matched exactly
	DivergentProducts int                  // products with divergences
	Results           []VerificationResult // individual results
}

// Verifier compares cached feature series against batch recomputation.
type Verifier interface {
	// VerifyProduct verifies one product's cached series.
	VerifyProduct(ctx context.Context, productID string) (*VerificationResult, error)

	// VerifyAll verifies every product known to the event store.
	VerifyAll(ctx context.Context) (*VerificationReport, error)
}

// CompareFeatureRows compares batch rows against cached rows and returns divergences.
// Rows are matched by date; a row present on one side only is a divergence.
// Uses FloatTolerance for float64 comparisons.
func CompareFeatureRows(expected, actual []domain.FeatureRow) []FieldDivergence {
	var divergences []FieldDivergence

	cached := make(map[time.Time]*domain.FeatureRow, len(actual))
	for i := range actual {
		cached[actual[i].Date] = &actual[i]
	}

	for i := range expected {
		want := &expected[i]
		got, ok := cached[want.Date]
		if !ok {
			divergences = append(divergences, FieldDivergence{
				Date: want.Date, Field: "Row", Expected: "present", Actual: "missing",
			})
			continue
		}
		delete(cached, want.Date)
		divergences = append(divergences, compareRow(want, got)...)
	}

	for i := range actual {
		if _, extra := cached[actual[i].Date]; extra {
			divergences = append(divergences, FieldDivergence{
				Date: actual[i].Date, Field: "Row", Expected: "missing", Actual: "present",
			})
		}
	}

	return divergences
}

func compareRow(want, got *domain.FeatureRow) []FieldDivergence {
	var divergences []FieldDivergence
	add := func(field string, expected, actual interface{}) {
		divergences = append(divergences, FieldDivergence{
			Date: want.Date, Field: field, Expected: expected, Actual: actual,
		})
	}

	floats := []struct {
		field string
		want  float64
		got   float64
	}{
		{"Sales", want.Sales, got.Sales},
		{"Purchases", want.Purchases, got.Purchases},
		{"SalesMA7", want.SalesMA7, got.SalesMA7},
		{"SalesMA30", want.SalesMA30, got.SalesMA30},
	}
	for _, f := range floats {
		if !floatEquals(f.want, f.got) {
			add(f.field, f.want, f.got)
		}
	}

	if want.Transactions != got.Transactions {
		add("Transactions", want.Transactions, got.Transactions)
	}

	lags := []struct {
		field string
		want  *float64
		got   *float64
	}{
		{"SalesLag1", want.SalesLag1, got.SalesLag1},
		{"SalesLag7", want.SalesLag7, got.SalesLag7},
		{"SalesLag30", want.SalesLag30, got.SalesLag30},
	}
	for _, l := range lags {
		if !floatPtrEquals(l.want, l.got) {
			add(l.field, derefOrNil(l.want), derefOrNil(l.got))
		}
	}

	// Calendar fields are a function of the date alone.
	if want.DayOfWeek != got.DayOfWeek || want.IsWeekend != got.IsWeekend ||
		want.IsMonthStart != got.IsMonthStart || want.IsMonthEnd != got.IsMonthEnd {
		add("Calendar", want.DayOfWeek, got.DayOfWeek)
	}

	return divergences
}

// floatEquals compares two float64 values with tolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals compares two *float64 values with tolerance.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}

func derefOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
