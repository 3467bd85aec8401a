package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"stockwise-ml/internal/domain"
)

func TestTrain_InvalidStrategy(t *testing.T) {
	_, err := newTestTrainer().Train(rowsOf([]float64{1, 2, 3}), TargetSales, domain.ModelKind("lstm"))
	if !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("Expected ErrInvalidStrategy, got %v", err)
	}
}

func TestTrain_InvalidTarget(t *testing.T) {
	_, err := newTestTrainer().Train(rowsOf([]float64{1, 2, 3}), Target("margin"), domain.ModelKindDecomposition)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Expected ErrInvalidTarget, got %v", err)
	}
}

func TestTrain_EmptyInput(t *testing.T) {
	for _, kind := range []domain.ModelKind{
		domain.ModelKindDecomposition,
		domain.ModelKindAutoregressive,
		domain.ModelKindEnsemble,
	} {
		if _, err := newTestTrainer().Train(nil, TargetSales, kind); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("%s: expected ErrInsufficientData, got %v", kind, err)
		}
	}
}

func TestTrain_Decomposition(t *testing.T) {
	rows := rowsOf(trendWithWeekly(120, 30, 0.2))

	f, err := newTestTrainer().Train(rows, TargetSales, domain.ModelKindDecomposition)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if f.ProductID != "p1" || f.Kind != domain.ModelKindDecomposition || f.Target != TargetSales {
		t.Errorf("Unexpected handle metadata: %s %s %s", f.ProductID, f.Kind, f.Target)
	}
	if !f.TrainedAt.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TrainedAt = %v, want injected clock", f.TrainedAt)
	}
	if f.Metrics.MAPE == nil || f.Metrics.AIC != nil || f.Metrics.InSample {
		t.Errorf("Unexpected decomposition metrics: %+v", f.Metrics)
	}
	if f.Params["weekly_fourier_order"] != weeklyOrder {
		t.Errorf("Params missing weekly order: %v", f.Params)
	}
}

func TestTrain_Autoregressive(t *testing.T) {
	rows := rowsOf(ar1(300, 0.7, 40, 21))

	f, err := newTestTrainer().Train(rows, TargetSales, domain.ModelKindAutoregressive)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if f.Metrics.AIC == nil {
		t.Fatal("Expected AIC in autoregressive metrics")
	}
	if f.Metrics.MAPE != nil {
		t.Error("Autoregressive metrics should not carry MAPE")
	}
	if f.Metrics.EvalError != "" {
		t.Errorf("Unexpected evaluation error: %s", f.Metrics.EvalError)
	}
	if _, ok := f.Params["adf_pvalue"]; !ok {
		t.Errorf("Params missing ADF result: %v", f.Params)
	}
	if f.Params["aic"] != *f.Metrics.AIC {
		t.Errorf("Params AIC %v differs from metrics %v", f.Params["aic"], *f.Metrics.AIC)
	}
}

func TestTrain_OtherTargets(t *testing.T) {
	rows := rowsOf(trendWithWeekly(60, 10, 0))
	for i := range rows {
		rows[i].Purchases = 100
	}

	f, err := newTestTrainer().Train(rows, TargetPurchases, domain.ModelKindDecomposition)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	points, err := f.Forecast(rows[len(rows)-1].Date, 3)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	for _, p := range points {
		if math.Abs(p.Yhat-100) > 1 {
			t.Errorf("Purchases forecast = %v, want ~100", p.Yhat)
		}
	}

	if _, err := newTestTrainer().Train(rows, TargetTransactions, domain.ModelKindDecomposition); err != nil {
		t.Errorf("Train on transactions failed: %v", err)
	}
}

func TestEnsemble_MemberFailure(t *testing.T) {
	rows := rowsOf(trendWithWeekly(90, 20, 0.1))

	tr := newTestTrainer()
	tr.fit = func([]float64, Order) (*arimaFit, error) { return nil, errSingular }

	ens, err := tr.Train(rows, TargetSales, domain.ModelKindEnsemble)
	if err != nil {
		t.Fatalf("Ensemble with one viable member failed: %v", err)
	}
	solo, err := tr.Train(rows, TargetSales, domain.ModelKindDecomposition)
	if err != nil {
		t.Fatalf("Decomposition failed: %v", err)
	}

	now := rows[len(rows)-1].Date
	got, err := ens.Forecast(now, 14)
	if err != nil {
		t.Fatalf("Ensemble forecast failed: %v", err)
	}
	want, err := solo.Forecast(now, 14)
	if err != nil {
		t.Fatalf("Decomposition forecast failed: %v", err)
	}

	if len(got) != 14 {
		t.Fatalf("Expected 14 points, got %d", len(got))
	}
	for i := range got {
		if got[i].Yhat != want[i].Yhat || !got[i].Date.Equal(want[i].Date) {
			t.Errorf("Point %d = %v @ %v, want %v @ %v", i, got[i].Yhat, got[i].Date, want[i].Yhat, want[i].Date)
		}
		band := 0.1 * math.Abs(got[i].Yhat)
		if math.Abs(got[i].YhatUpper-got[i].Yhat-band) > 1e-9 {
			t.Errorf("Point %d bounds not ±10%%: %v", i, got[i])
		}
	}

	members := ens.Metrics.Members
	if members[domain.ModelKindAutoregressive] == nil || members[domain.ModelKindAutoregressive].EvalError == "" {
		t.Error("Failed member should be recorded with its error")
	}
	if members[domain.ModelKindDecomposition] == nil || members[domain.ModelKindDecomposition].EvalError != "" {
		t.Error("Surviving member should carry its metrics")
	}
}

func TestEnsemble_AveragesMembers(t *testing.T) {
	rows := rowsOf(ar1(200, 0.5, 50, 8))
	tr := newTestTrainer()

	ens, err := tr.Train(rows, TargetSales, domain.ModelKindEnsemble)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	dec, err := tr.Train(rows, TargetSales, domain.ModelKindDecomposition)
	if err != nil {
		t.Fatalf("Train decomposition failed: %v", err)
	}
	ar, err := tr.Train(rows, TargetSales, domain.ModelKindAutoregressive)
	if err != nil {
		t.Fatalf("Train autoregressive failed: %v", err)
	}

	now := rows[len(rows)-1].Date
	e, _ := ens.Forecast(now, 7)
	d, _ := dec.Forecast(now, 7)
	a, _ := ar.Forecast(now, 7)
	for i := range e {
		want := (d[i].Yhat + a[i].Yhat) / 2
		if math.Abs(e[i].Yhat-want) > 1e-9 {
			t.Errorf("Point %d = %v, want mean %v", i, e[i].Yhat, want)
		}
	}
}

func TestEnsemble_AllMembersFail(t *testing.T) {
	_, err := newTestTrainer().Train(rowsOf([]float64{4}), TargetSales, domain.ModelKindEnsemble)
	if !errors.Is(err, ErrNoViableModel) {
		t.Errorf("Expected ErrNoViableModel, got %v", err)
	}
}

func TestFitted_ForecastDates(t *testing.T) {
	rows := rowsOf(ar1(60, 0.5, 10, 4))
	f, err := newTestTrainer().Train(rows, TargetSales, domain.ModelKindAutoregressive)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	last := rows[len(rows)-1].Date
	now := last.AddDate(0, 0, 5).Add(13 * time.Hour)
	points, err := f.Forecast(now, 30)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if len(points) != 30 {
		t.Fatalf("Expected 30 points, got %d", len(points))
	}
	want := domain.TruncateDay(now).AddDate(0, 0, 1)
	for i, p := range points {
		if !p.Date.Equal(want.AddDate(0, 0, i)) {
			t.Fatalf("Point %d date = %v, want %v", i, p.Date, want.AddDate(0, 0, i))
		}
	}

	if _, err := f.Forecast(now, 0); !errors.Is(err, ErrInvalidHorizon) {
		t.Errorf("Expected ErrInvalidHorizon, got %v", err)
	}
}
