package domain

import "time"

// FeatureRow is a DailyAggregate enriched with calendar and time-series features.
// Lag fields are NULL when the series is too short to provide them.
type FeatureRow struct {
	DailyAggregate

	DayOfWeek    int  // Monday = 0 ... Sunday = 6
	Month        int  // 1..12
	Quarter      int  // 1..4
	Year         int  // calendar year
	IsWeekend    bool // Saturday or Sunday
	IsMonthStart bool // first day of month
	IsMonthEnd   bool // last day of month

	SalesMA7   float64  // mean of sales over the trailing <=7 rows, inclusive
	SalesMA30  float64  // mean of sales over the trailing <=30 rows, inclusive
	SalesLag1  *float64 // sales 1 row back, NULL if first row
	SalesLag7  *float64 // sales 7 rows back, NULL if fewer than 8 rows
	SalesLag30 *float64 // sales 30 rows back, NULL if fewer than 31 rows
}

// Complete reports whether every lag feature is present.
func (r *FeatureRow) Complete() bool {
	return r.SalesLag1 != nil && r.SalesLag7 != nil && r.SalesLag30 != nil
}

// FeatureVector is the input used at prediction time.
// Default is set when no history exists and values were derived from the date alone.
type FeatureVector struct {
	ProductID    string    `json:"product_id"`
	Date         time.Time `json:"date"`
	DayOfWeek    int       `json:"day_of_week"`
	Month        int       `json:"month"`
	Quarter      int       `json:"quarter"`
	Year         int       `json:"year"`
	IsWeekend    bool      `json:"is_weekend"`
	IsMonthStart bool      `json:"is_month_start"`
	IsMonthEnd   bool      `json:"is_month_end"`
	Sales        float64   `json:"sales"`
	Purchases    float64   `json:"purchases"`
	Transactions int64     `json:"transactions"`
	SalesMA7     float64   `json:"sales_ma_7"`
	SalesMA30    float64   `json:"sales_ma_30"`
	SalesLag1    float64   `json:"sales_lag_1"`
	SalesLag7    float64   `json:"sales_lag_7"`
	SalesLag30   float64   `json:"sales_lag_30"`
	Default      bool      `json:"default"`
}
