package model

import (
	"math"
	"math/rand"
	"time"

	"stockwise-ml/internal/domain"
)

var trainStart = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

// weeklyPattern is added by day of week, Monday first.
var weeklyPattern = [7]float64{0, 2, 4, 6, 4, 2, 0}

func rowsOf(y []float64) []domain.FeatureRow {
	rows := make([]domain.FeatureRow, len(y))
	for i, v := range y {
		rows[i] = domain.FeatureRow{DailyAggregate: domain.DailyAggregate{
			ProductID:    "p1",
			Date:         trainStart.AddDate(0, 0, i),
			Sales:        v,
			Transactions: 1,
		}}
	}
	return rows
}

func seriesOf(y []float64) series {
	dates := make([]time.Time, len(y))
	for i := range y {
		dates[i] = trainStart.AddDate(0, 0, i)
	}
	return series{dates: dates, y: y}
}

// trendWithWeekly returns level + slope*i + weekly seasonality, noise free.
func trendWithWeekly(n int, level, slope float64) []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = level + slope*float64(i) + weeklyPattern[i%7]
	}
	return y
}

// ar1 simulates y[t] = mean + phi*(y[t-1]-mean) + e[t] with standard normal shocks.
func ar1(n int, phi, mean float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	y := make([]float64, n)
	y[0] = mean
	for t := 1; t < n; t++ {
		y[t] = mean + phi*(y[t-1]-mean) + rng.NormFloat64()
	}
	return y
}

// gaussianShocks returns n standard normal draws from a splitmix64 stream through
// Box-Muller. Unlike math/rand the sequence is fixed by the algorithm, so the
// order-selection tests below pin the exact samples they were checked against.
func gaussianShocks(n int, seed uint64) []float64 {
	state := seed
	uniform := func() float64 {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		return (float64(z>>11) + 0.5) / (1 << 53)
	}

	out := make([]float64, n)
	for i := 0; i < n; i += 2 {
		u1, u2 := uniform(), uniform()
		r := math.Sqrt(-2 * math.Log(u1))
		out[i] = r * math.Cos(2*math.Pi*u2)
		if i+1 < n {
			out[i+1] = r * math.Sin(2*math.Pi*u2)
		}
	}
	return out
}

// arProcess is ar1 driven by gaussianShocks.
func arProcess(n int, phi, mean float64, seed uint64) []float64 {
	e := gaussianShocks(n, seed)
	y := make([]float64, n)
	y[0] = mean
	for t := 1; t < n; t++ {
		y[t] = mean + phi*(y[t-1]-mean) + e[t]
	}
	return y
}

// maProcess simulates y[t] = mean + e[t] + theta*e[t-1].
func maProcess(n int, theta, mean float64, seed uint64) []float64 {
	e := gaussianShocks(n, seed)
	y := make([]float64, n)
	y[0] = mean + e[0]
	for t := 1; t < n; t++ {
		y[t] = mean + e[t] + theta*e[t-1]
	}
	return y
}

func newTestTrainer() *Trainer {
	return NewTrainer(TrainerOptions{
		Clock: func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
}
