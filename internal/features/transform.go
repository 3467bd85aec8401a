// Package features turns inventory event history into model-ready feature rows
// and keeps a per-product cache of them up to date as events arrive.
package features

import (
	"time"

	"stockwise-ml/internal/domain"
)

// Trailing windows and lag offsets, in rows.
const (
	shortWindow = 7
	longWindow  = 30
)

var lagOffsets = [...]int{1, 7, 30}

// Transform derives calendar and time-series features from an ordered daily series.
//
// Transform is pure: the output has exactly one row per input row, in the same order.
// Moving averages use min-periods 1, so early rows average whatever trailing rows exist:
//   - sales_ma_7[i]  = mean(sales[max(0, i-6) .. i])
//   - sales_ma_30[i] = mean(sales[max(0, i-29) .. i])
//
// Lags are row offsets; a lag with insufficient history is NULL, never filled in.
func Transform(aggs []domain.DailyAggregate) []domain.FeatureRow {
	if len(aggs) == 0 {
		return nil
	}

	sales := make([]float64, len(aggs))
	for i := range aggs {
		sales[i] = aggs[i].Sales
	}

	rows := make([]domain.FeatureRow, len(aggs))
	for i, agg := range aggs {
		row := domain.FeatureRow{DailyAggregate: agg}
		fillCalendar(&row, agg.Date)

		row.SalesMA7 = trailingMean(sales, i, shortWindow)
		row.SalesMA30 = trailingMean(sales, i, longWindow)

		row.SalesLag1 = lag(sales, i, lagOffsets[0])
		row.SalesLag7 = lag(sales, i, lagOffsets[1])
		row.SalesLag30 = lag(sales, i, lagOffsets[2])

		rows[i] = row
	}
	return rows
}

// DropIncomplete returns the rows that carry every lag feature.
func DropIncomplete(rows []domain.FeatureRow) []domain.FeatureRow {
	result := make([]domain.FeatureRow, 0, len(rows))
	for _, r := range rows {
		if r.Complete() {
			result = append(result, r)
		}
	}
	return result
}

// Aggregates strips derived features, returning the underlying daily series.
func Aggregates(rows []domain.FeatureRow) []domain.DailyAggregate {
	aggs := make([]domain.DailyAggregate, len(rows))
	for i := range rows {
		aggs[i] = rows[i].DailyAggregate
	}
	return aggs
}

func fillCalendar(row *domain.FeatureRow, date time.Time) {
	cal := calendarOf(date)
	row.DayOfWeek = cal.dayOfWeek
	row.Month = cal.month
	row.Quarter = cal.quarter
	row.Year = cal.year
	row.IsWeekend = cal.isWeekend
	row.IsMonthStart = cal.isMonthStart
	row.IsMonthEnd = cal.isMonthEnd
}

type calendar struct {
	dayOfWeek    int
	month        int
	quarter      int
	year         int
	isWeekend    bool
	isMonthStart bool
	isMonthEnd   bool
}

func calendarOf(date time.Time) calendar {
	date = domain.TruncateDay(date)
	dow := (int(date.Weekday()) + 6) % 7 // Monday = 0
	month := int(date.Month())
	return calendar{
		dayOfWeek:    dow,
		month:        month,
		quarter:      (month-1)/3 + 1,
		year:         date.Year(),
		isWeekend:    dow >= 5,
		isMonthStart: date.Day() == 1,
		isMonthEnd:   date.AddDate(0, 0, 1).Day() == 1,
	}
}

func trailingMean(values []float64, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, v := range values[start : i+1] {
		sum += v
	}
	return sum / float64(i-start+1)
}

func lag(values []float64, i, offset int) *float64 {
	if i-offset < 0 {
		return nil
	}
	v := values[i-offset]
	return &v
}
