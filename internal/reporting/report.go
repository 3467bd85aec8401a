// Package reporting renders batch training results as Markdown and CSV.
package reporting

import (
	"sort"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/model"
)

// Report represents one batch training run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Kind        domain.ModelKind
	Target      model.Target

	Summary Summary

	// Runs sorted by product ID
	Runs []RunRow
}

// Summary aggregates the outcome of all runs.
type Summary struct {
	Products int
	Trained  int
	Failed   int
	InSample int     // trained models whose metrics are in-sample only
	MeanMAE  float64 // over trained models, 0 if none
	MeanRMSE float64 // over trained models, 0 if none
}

// RunRow represents one product's training result.
type RunRow struct {
	ProductID string
	Kind      domain.ModelKind
	TrainedAt time.Time
	MAE       float64
	RMSE      float64
	MAPE      *float64
	AIC       *float64
	Order     string // autoregressive order, empty otherwise
	InSample  bool
	Error     string // non-empty when training failed
}

// OK reports whether the product was trained.
func (r RunRow) OK() bool {
	return r.Error == ""
}

// Builder collects training results into a Report.
type Builder struct {
	kind   domain.ModelKind
	target model.Target
	runs   []RunRow
	now    func() time.Time // Injectable clock for deterministic output
}

// NewBuilder creates a report builder for a batch trained with kind and target.
func NewBuilder(kind domain.ModelKind, target model.Target) *Builder {
	return &Builder{
		kind:   kind,
		target: target,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Add records the result of training one product.
func (b *Builder) Add(productID string, f *model.Fitted, err error) {
	row := RunRow{ProductID: productID, Kind: b.kind}
	if err != nil {
		row.Error = err.Error()
		b.runs = append(b.runs, row)
		return
	}

	row.Kind = f.Kind
	row.TrainedAt = f.TrainedAt
	row.MAE = f.Metrics.MAE
	row.RMSE = f.Metrics.RMSE
	row.MAPE = f.Metrics.MAPE
	row.AIC = f.Metrics.AIC
	row.InSample = f.Metrics.InSample
	row.Order = orderOf(f)

	// Ensembles carry metrics per member; report the mean of the surviving ones.
	if f.Kind == domain.ModelKindEnsemble {
		row.MAE, row.RMSE, row.InSample = memberMeans(f.Metrics.Members)
	}
	b.runs = append(b.runs, row)
}

// Build produces the report.
func (b *Builder) Build() *Report {
	runs := append([]RunRow(nil), b.runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].ProductID < runs[j].ProductID
	})

	s := Summary{Products: len(runs)}
	for _, r := range runs {
		if !r.OK() {
			s.Failed++
			continue
		}
		s.Trained++
		if r.InSample {
			s.InSample++
		}
		s.MeanMAE += r.MAE
		s.MeanRMSE += r.RMSE
	}
	if s.Trained > 0 {
		s.MeanMAE /= float64(s.Trained)
		s.MeanRMSE /= float64(s.Trained)
	}

	return &Report{
		GeneratedAt: b.now(),
		Kind:        b.kind,
		Target:      b.target,
		Summary:     s,
		Runs:        runs,
	}
}

func orderOf(f *model.Fitted) string {
	params := f.Params
	if f.Kind == domain.ModelKindEnsemble {
		member, ok := f.Params[string(domain.ModelKindAutoregressive)].(map[string]any)
		if !ok {
			return ""
		}
		params = member
	}
	order, _ := params["order"].(string)
	return order
}

func memberMeans(members map[domain.ModelKind]*model.Metrics) (mae, rmse float64, inSample bool) {
	n := 0
	for _, k := range []domain.ModelKind{domain.ModelKindDecomposition, domain.ModelKindAutoregressive} {
		m := members[k]
		if m == nil || m.EvalError != "" {
			continue
		}
		mae += m.MAE
		rmse += m.RMSE
		inSample = inSample || m.InSample
		n++
	}
	if n > 0 {
		mae /= float64(n)
		rmse /= float64(n)
	}
	return mae, rmse, inSample
}
