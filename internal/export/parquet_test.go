package export

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/features"
)

func sampleRows(n int) []domain.FeatureRow {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	aggs := make([]domain.DailyAggregate, n)
	for i := range aggs {
		aggs[i] = domain.DailyAggregate{
			ProductID:    "p1",
			Date:         start.AddDate(0, 0, i),
			Sales:        float64(3 + i%5),
			Purchases:    float64(i % 3),
			Transactions: int64(1 + i%4),
		}
	}
	return features.Transform(aggs)
}

func TestWriteReadFeatures_RoundTrip(t *testing.T) {
	rows := sampleRows(40)
	path := Path(t.TempDir(), "p1")

	if err := WriteFeatures(path, rows); err != nil {
		t.Fatalf("WriteFeatures: %v", err)
	}
	got, err := ReadFeatures(path)
	if err != nil {
		t.Fatalf("ReadFeatures: %v", err)
	}

	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("round trip mismatch:\nfirst got  %+v\nfirst want %+v", got[0], rows[0])
	}
}

func TestWriteFeatures_NullLags(t *testing.T) {
	rows := sampleRows(3)
	path := filepath.Join(t.TempDir(), "nested", "dir", "f.parquet")

	if err := WriteFeatures(path, rows); err != nil {
		t.Fatalf("WriteFeatures: %v", err)
	}
	got, err := ReadFeatures(path)
	if err != nil {
		t.Fatalf("ReadFeatures: %v", err)
	}

	if got[0].SalesLag1 != nil {
		t.Error("first row should have no lag 1")
	}
	if got[1].SalesLag1 == nil || *got[1].SalesLag1 != rows[0].Sales {
		t.Errorf("lag 1 of second row = %v, want %v", got[1].SalesLag1, rows[0].Sales)
	}
	if got[2].SalesLag7 != nil || got[2].SalesLag30 != nil {
		t.Error("short series should have no lag 7 or lag 30")
	}
}

func TestWriteFeatures_Complete(t *testing.T) {
	rows := features.DropIncomplete(sampleRows(40))
	path := Path(t.TempDir(), "p1")

	if err := WriteFeatures(path, rows); err != nil {
		t.Fatalf("WriteFeatures: %v", err)
	}
	got, err := ReadFeatures(path)
	if err != nil {
		t.Fatalf("ReadFeatures: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 complete rows, got %d", len(got))
	}
	for _, r := range got {
		if !r.Complete() {
			t.Errorf("row %s missing lags", r.Date.Format("2006-01-02"))
		}
	}
}

func TestReadFeatures_Missing(t *testing.T) {
	if _, err := ReadFeatures(filepath.Join(t.TempDir(), "none.parquet")); err == nil {
		t.Error("expected error for missing file")
	}
}
