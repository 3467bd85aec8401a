package model

import (
	"errors"
	"reflect"
	"testing"

	"stockwise-ml/internal/domain"
)

func TestMarshal_RoundTripForecastsIdentically(t *testing.T) {
	rows := rowsOf(ar1(150, 0.6, 25, 13))
	for i := range rows {
		rows[i].Sales += weeklyPattern[i%7]
	}

	for _, kind := range []domain.ModelKind{
		domain.ModelKindDecomposition,
		domain.ModelKindAutoregressive,
		domain.ModelKindEnsemble,
	} {
		t.Run(string(kind), func(t *testing.T) {
			f, err := newTestTrainer().Train(rows, TargetSales, kind)
			if err != nil {
				t.Fatalf("Train failed: %v", err)
			}

			data, err := Marshal(f)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			restored, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if restored.Kind != f.Kind || restored.ProductID != f.ProductID || !restored.TrainedAt.Equal(f.TrainedAt) {
				t.Errorf("Metadata changed: %s/%s/%v", restored.Kind, restored.ProductID, restored.TrainedAt)
			}
			if !reflect.DeepEqual(restored.Metrics, f.Metrics) {
				t.Errorf("Metrics changed: %+v vs %+v", restored.Metrics, f.Metrics)
			}

			now := rows[len(rows)-1].Date.AddDate(0, 0, 2)
			want, err := f.Forecast(now, 30)
			if err != nil {
				t.Fatalf("Forecast failed: %v", err)
			}
			got, err := restored.Forecast(now, 30)
			if err != nil {
				t.Fatalf("Restored forecast failed: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Error("Restored model forecasts differently")
			}
		})
	}
}

func TestMarshal_EnsembleWithFailedMember(t *testing.T) {
	tr := newTestTrainer()
	tr.fit = func([]float64, Order) (*arimaFit, error) { return nil, errTooFewPoints }

	f, err := tr.Train(rowsOf(trendWithWeekly(40, 5, 0.1)), TargetSales, domain.ModelKindEnsemble)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	data, err := Marshal(f)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	ens, ok := restored.Model.(*Ensemble)
	if !ok {
		t.Fatalf("Restored model is %T, want *Ensemble", restored.Model)
	}
	if got := ens.Members(); len(got) != 1 || got[0] != domain.ModelKindDecomposition {
		t.Errorf("Members = %v, want [decomposition]", got)
	}
	if ens.errs[domain.ModelKindAutoregressive] == "" {
		t.Error("Member error lost in round trip")
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{"},
		{name: "wrong version", data: `{"version":99,"kind":"decomposition","state":{}}`},
		{name: "unknown kind", data: `{"version":1,"kind":"lstm","state":{}}`},
		{name: "coefficient mismatch", data: `{"version":1,"kind":"autoregressive","state":{"order":{"p":2,"d":0,"q":0},"ar":[0.1],"history":[1,2,3]}}`},
		{name: "empty ensemble", data: `{"version":1,"kind":"ensemble","state":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tt.data)); !errors.Is(err, ErrCorruptModel) {
				t.Errorf("Expected ErrCorruptModel, got %v", err)
			}
		})
	}
}
