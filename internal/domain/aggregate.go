package domain

import (
	"sort"
	"time"
)

// DailyAggregate summarizes one product's events for one calendar day.
type DailyAggregate struct {
	ProductID    string    // product identifier
	Date         time.Time // UTC midnight
	Sales        float64   // total sold quantity
	Purchases    float64   // total purchased quantity
	Transactions int64     // number of events
}

// Apply accumulates one event into the aggregate.
func (a *DailyAggregate) Apply(e *Event) {
	switch e.Action {
	case ActionSale:
		a.Sales += float64(e.Quantity)
	case ActionPurchase:
		a.Purchases += float64(e.Quantity)
	}
	a.Transactions++
}

// AggregateEvents folds events into daily aggregates ordered by date ASC.
// Events for other products are ignored.
func AggregateEvents(productID string, events []*Event) []DailyAggregate {
	byDay := make(map[time.Time]*DailyAggregate)
	var days []time.Time
	for _, e := range events {
		if e.ProductID != productID {
			continue
		}
		day := e.Day()
		agg, ok := byDay[day]
		if !ok {
			agg = &DailyAggregate{ProductID: productID, Date: day}
			byDay[day] = agg
			days = append(days, day)
		}
		agg.Apply(e)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	result := make([]DailyAggregate, len(days))
	for i, d := range days {
		result[i] = *byDay[d]
	}
	return result
}
