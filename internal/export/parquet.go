// Package export writes feature rows to Parquet for offline analysis.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"stockwise-ml/internal/domain"
)

// FeatureRecord is the Parquet schema for one feature row.
// Lags are optional columns; absent lags are written as nulls.
type FeatureRecord struct {
	ProductID    string   `parquet:"product_id"`
	Date         int64    `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Sales        float64  `parquet:"sales"`
	Purchases    float64  `parquet:"purchases"`
	Transactions int64    `parquet:"transactions"`
	DayOfWeek    int32    `parquet:"day_of_week"`
	Month        int32    `parquet:"month"`
	Quarter      int32    `parquet:"quarter"`
	Year         int32    `parquet:"year"`
	IsWeekend    bool     `parquet:"is_weekend"`
	IsMonthStart bool     `parquet:"is_month_start"`
	IsMonthEnd   bool     `parquet:"is_month_end"`
	SalesMA7     float64  `parquet:"sales_ma_7"`
	SalesMA30    float64  `parquet:"sales_ma_30"`
	SalesLag1    *float64 `parquet:"sales_lag_1,optional"`
	SalesLag7    *float64 `parquet:"sales_lag_7,optional"`
	SalesLag30   *float64 `parquet:"sales_lag_30,optional"`
}

// Record converts a feature row to its Parquet record.
func Record(r domain.FeatureRow) FeatureRecord {
	return FeatureRecord{
		ProductID:    r.ProductID,
		Date:         r.Date.UnixMilli(),
		Sales:        r.Sales,
		Purchases:    r.Purchases,
		Transactions: r.Transactions,
		DayOfWeek:    int32(r.DayOfWeek),
		Month:        int32(r.Month),
		Quarter:      int32(r.Quarter),
		Year:         int32(r.Year),
		IsWeekend:    r.IsWeekend,
		IsMonthStart: r.IsMonthStart,
		IsMonthEnd:   r.IsMonthEnd,
		SalesMA7:     r.SalesMA7,
		SalesMA30:    r.SalesMA30,
		SalesLag1:    r.SalesLag1,
		SalesLag7:    r.SalesLag7,
		SalesLag30:   r.SalesLag30,
	}
}

// Row converts a Parquet record back to a feature row.
func (rec FeatureRecord) Row() domain.FeatureRow {
	return domain.FeatureRow{
		DailyAggregate: domain.DailyAggregate{
			ProductID:    rec.ProductID,
			Date:         time.UnixMilli(rec.Date).UTC(),
			Sales:        rec.Sales,
			Purchases:    rec.Purchases,
			Transactions: rec.Transactions,
		},
		DayOfWeek:    int(rec.DayOfWeek),
		Month:        int(rec.Month),
		Quarter:      int(rec.Quarter),
		Year:         int(rec.Year),
		IsWeekend:    rec.IsWeekend,
		IsMonthStart: rec.IsMonthStart,
		IsMonthEnd:   rec.IsMonthEnd,
		SalesMA7:     rec.SalesMA7,
		SalesMA30:    rec.SalesMA30,
		SalesLag1:    rec.SalesLag1,
		SalesLag7:    rec.SalesLag7,
		SalesLag30:   rec.SalesLag30,
	}
}

// Path returns the export file path for a product under dir:
//
//	<dir>/<product_id>/features.parquet
func Path(dir, productID string) string {
	return filepath.Join(dir, productID, "features.parquet")
}

// WriteFeatures writes rows to path, creating parent directories.
// An existing file is replaced.
func WriteFeatures(path string, rows []domain.FeatureRow) error {
	records := make([]FeatureRecord, len(rows))
	for i, r := range rows {
		records[i] = Record(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFeatures reads rows written by WriteFeatures.
func ReadFeatures(path string) ([]domain.FeatureRow, error) {
	records, err := parquet.ReadFile[FeatureRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows := make([]domain.FeatureRow, len(records))
	for i, rec := range records {
		rows[i] = rec.Row()
	}
	return rows, nil
}
