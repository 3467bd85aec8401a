package features

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
	"stockwise-ml/internal/storage/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newTestStore(events storage.EventStore) *Store {
	return NewStore(Options{Events: events, Clock: fixedClock})
}

func saleEvent(productID string, day int, qty int64) *domain.Event {
	return &domain.Event{
		ID:         uuid.New(),
		ProductID:  productID,
		Action:     domain.ActionSale,
		Quantity:   qty,
		OccurredAt: day0.AddDate(0, 0, day).Add(10 * time.Hour),
	}
}

func TestStore_IncrementalMatchesBatch(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	incremental := newTestStore(events)

	// Cache the empty series first, so every event below goes through the cache path.
	if err := incremental.Warm(ctx, "p1"); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	for day := 0; day < 45; day++ {
		if day%5 == 3 {
			continue // gap days
		}
		if err := incremental.Record(ctx, saleEvent("p1", day, int64(day%7+1))); err != nil {
			t.Fatalf("Record day %d failed: %v", day, err)
		}
		if day%4 == 0 {
			restock := saleEvent("p1", day, 20)
			restock.Action = domain.ActionPurchase
			if err := incremental.Record(ctx, restock); err != nil {
				t.Fatalf("Record restock day %d failed: %v", day, err)
			}
		}
	}

	got, err := incremental.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	want, err := newTestStore(events).Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Batch snapshot failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("Row count mismatch: incremental %d, batch %d", len(got), len(want))
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("Incremental series differs from batch transform of the same events")
	}
}

func TestStore_LateEventInsertedInOrder(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	s := newTestStore(events)

	for _, day := range []int{0, 1, 3} {
		if err := events.Append(ctx, saleEvent("p1", day, 2)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if _, err := s.Snapshot(ctx, "p1"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Day 2 arrives after day 3 was cached.
	if err := s.Record(ctx, saleEvent("p1", 2, 6)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rows, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if !rows[i].Date.After(rows[i-1].Date) {
			t.Fatalf("Rows not strictly ordered at %d: %v after %v", i, rows[i].Date, rows[i-1].Date)
		}
	}

	// Day 3 lag_1 now points at the late day 2 row.
	if rows[3].SalesLag1 == nil || *rows[3].SalesLag1 != 6 {
		t.Errorf("Day 3 sales_lag_1 = %v, want 6", rows[3].SalesLag1)
	}
	if !almostEqual(rows[3].SalesMA7, 12.0/4.0) {
		t.Errorf("Day 3 sales_ma_7 = %v, want 3", rows[3].SalesMA7)
	}
}

func TestStore_SameDayAccumulates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())

	if err := s.Warm(ctx, "p1"); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, saleEvent("p1", 5, 4)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	rows, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Sales != 12 || rows[0].Transactions != 3 {
		t.Errorf("Day totals = %v sales / %d transactions, want 12 / 3", rows[0].Sales, rows[0].Transactions)
	}
}

func TestStore_EmptyHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())

	if _, err := s.Extract(ctx, "missing", 0); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("Extract: expected ErrEmptyHistory, got %v", err)
	}
	if _, err := s.Snapshot(ctx, "missing"); !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("Snapshot: expected ErrEmptyHistory, got %v", err)
	}
}

func TestStore_UnknownProductsLeaveNoCells(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	s := newTestStore(events)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("unknown-%d", i)
		vec, err := s.FeaturesForPrediction(ctx, id)
		if err != nil {
			t.Fatalf("FeaturesForPrediction failed: %v", err)
		}
		if !vec.Default {
			t.Fatalf("Expected default vector for %s", id)
		}
		if _, err := s.Snapshot(ctx, id); !errors.Is(err, ErrEmptyHistory) {
			t.Fatalf("Snapshot: expected ErrEmptyHistory, got %v", err)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Reads of unknown products cached %d cells, want 0", s.Len())
	}

	// Recording for an uncached product appends without caching it.
	if err := s.Record(ctx, saleEvent("p1", 0, 3)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Record cached %d cells, want 0", s.Len())
	}

	// The first read with history caches it.
	vec, err := s.FeaturesForPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("FeaturesForPrediction failed: %v", err)
	}
	if vec.Default || vec.Sales != 3 {
		t.Errorf("Expected cached row with 3 sales, got %+v", vec)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_WarmKeepsEmptySeries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())

	if err := s.Warm(ctx, "p1"); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len after Warm = %d, want 1", s.Len())
	}
	if !s.Update("p1", saleEvent("p1", 0, 2)) {
		t.Error("Update on warmed product should return true")
	}
}

func TestStore_ExtractWindow(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	s := newTestStore(events)

	old := saleEvent("p1", 0, 1)
	old.OccurredAt = fixedNow.AddDate(-2, 0, 0)
	recent := saleEvent("p1", 0, 1)
	if err := events.AppendBulk(ctx, []*domain.Event{old, recent}); err != nil {
		t.Fatalf("AppendBulk failed: %v", err)
	}

	aggs, err := s.Extract(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(aggs) != 1 || !aggs[0].Date.Equal(day0) {
		t.Errorf("Expected only the recent day, got %+v", aggs)
	}
}

func TestStore_DefaultVector(t *testing.T) {
	s := NewStore(Options{
		Events: memory.NewEventStore(),
		Clock:  func() time.Time { return time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC) },
	})

	vec, err := s.FeaturesForPrediction(context.Background(), "new-product")
	if err != nil {
		t.Fatalf("FeaturesForPrediction failed: %v", err)
	}

	if !vec.Default {
		t.Error("Expected Default flag")
	}
	if vec.DayOfWeek != 2 {
		t.Errorf("DayOfWeek = %d, want 2 (Wednesday)", vec.DayOfWeek)
	}
	if !vec.IsMonthEnd || vec.IsMonthStart || vec.IsWeekend {
		t.Errorf("Calendar flags = end:%v start:%v weekend:%v", vec.IsMonthEnd, vec.IsMonthStart, vec.IsWeekend)
	}
	if vec.Month != 1 || vec.Quarter != 1 || vec.Year != 2024 {
		t.Errorf("Month/Quarter/Year = %d/%d/%d", vec.Month, vec.Quarter, vec.Year)
	}
	if vec.Sales != 0 || vec.SalesMA7 != 0 || vec.SalesLag30 != 0 {
		t.Error("Expected zero sales features")
	}
}

func TestStore_FeaturesForPredictionLatestRow(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	for day := 0; day < 10; day++ {
		if err := events.Append(ctx, saleEvent("p1", day, int64(day+1))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	s := newTestStore(events)

	vec, err := s.FeaturesForPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("FeaturesForPrediction failed: %v", err)
	}
	if vec.Default {
		t.Error("Did not expect default vector")
	}
	if !vec.Date.Equal(day0.AddDate(0, 0, 9)) {
		t.Errorf("Date = %v, want last day", vec.Date)
	}
	if vec.Sales != 10 || vec.SalesLag1 != 9 || vec.SalesLag7 != 3 {
		t.Errorf("Sales/lag1/lag7 = %v/%v/%v, want 10/9/3", vec.Sales, vec.SalesLag1, vec.SalesLag7)
	}
	// Absent lag is reported as zero.
	if vec.SalesLag30 != 0 {
		t.Errorf("SalesLag30 = %v, want 0", vec.SalesLag30)
	}
}

func TestStore_UpdateUncached(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())

	if s.Update("p1", saleEvent("p1", 0, 1)) {
		t.Error("Update on uncached product should return false")
	}
	if s.Len() != 0 {
		t.Errorf("Update should not create cache cells, Len = %d", s.Len())
	}

	if err := s.Warm(ctx, "p1"); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if !s.Update("p1", saleEvent("p1", 0, 1)) {
		t.Error("Update on cached product should return true")
	}
}

func TestStore_DuplicateLeavesCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())

	e := saleEvent("p1", 0, 3)
	if err := s.Record(ctx, e); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := s.Snapshot(ctx, "p1"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if err := s.Record(ctx, e); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	rows, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if rows[0].Sales != 3 || rows[0].Transactions != 1 {
		t.Errorf("Duplicate event changed the cache: %+v", rows[0].DailyAggregate)
	}
}

func TestStore_RecordRejectsInvalid(t *testing.T) {
	s := newTestStore(memory.NewEventStore())

	e := saleEvent("p1", 0, 0)
	if err := s.Record(context.Background(), e); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(memory.NewEventStore())
	for day := 0; day < 3; day++ {
		if err := s.Record(ctx, saleEvent("p1", day, 1)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	rows, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	rows[1].Sales = 999
	*rows[2].SalesLag1 = 999

	again, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if again[1].Sales != 1 || *again[2].SalesLag1 != 1 {
		t.Error("Mutating a snapshot changed the cached series")
	}
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	s := newTestStore(events)

	if err := s.Record(ctx, saleEvent("p1", 0, 1)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := s.Snapshot(ctx, "p1"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Written directly to the event store, bypassing the cache.
	if err := events.Append(ctx, saleEvent("p1", 1, 1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	s.Invalidate("p1")
	if s.Len() != 0 {
		t.Errorf("Len after Invalidate = %d, want 0", s.Len())
	}

	rows, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected re-extracted series of 2 rows, got %d", len(rows))
	}
}

func TestStore_ConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	s := newTestStore(events)

	const products = 4
	const perProduct = 50

	for p := 0; p < products; p++ {
		if err := s.Warm(ctx, fmt.Sprintf("p%d", p)); err != nil {
			t.Fatalf("Warm failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, products*perProduct)
	for p := 0; p < products; p++ {
		for i := 0; i < perProduct; i++ {
			wg.Add(1)
			go func(productID string, day int) {
				defer wg.Done()
				if err := s.Record(ctx, saleEvent(productID, day, 1)); err != nil {
					errCh <- err
				}
			}(fmt.Sprintf("p%d", p), i%20)
		}
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("Record failed: %v", err)
	}

	for p := 0; p < products; p++ {
		id := fmt.Sprintf("p%d", p)
		got, err := s.Snapshot(ctx, id)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		want, err := newTestStore(events).Snapshot(ctx, id)
		if err != nil {
			t.Fatalf("Batch snapshot failed: %v", err)
		}

		var total int64
		for _, r := range got {
			total += r.Transactions
		}
		if total != perProduct {
			t.Errorf("%s: cached transactions = %d, want %d", id, total, perProduct)
		}
		if len(got) != len(want) {
			t.Errorf("%s: cached %d rows, batch %d", id, len(got), len(want))
		}
	}
}
