package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Training Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Model: %s | Target: %s\n\n", r.Kind, r.Target))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Products | %d |\n", r.Summary.Products))
	sb.WriteString(fmt.Sprintf("| Trained | %d |\n", r.Summary.Trained))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Summary.Failed))
	sb.WriteString(fmt.Sprintf("| In-sample metrics only | %d |\n", r.Summary.InSample))
	sb.WriteString(fmt.Sprintf("| Mean MAE | %.4f |\n", r.Summary.MeanMAE))
	sb.WriteString(fmt.Sprintf("| Mean RMSE | %.4f |\n", r.Summary.MeanRMSE))
	sb.WriteString("\n")

	// Per-product results
	sb.WriteString("## Models\n\n")
	trained := 0
	for _, run := range r.Runs {
		if run.OK() {
			trained++
		}
	}
	if trained > 0 {
		sb.WriteString("| Product | Model | Order | MAE | RMSE | MAPE% | AIC | In-sample | Trained At |\n")
		sb.WriteString("|---------|-------|-------|-----|------|-------|-----|-----------|------------|\n")
		for _, run := range r.Runs {
			if !run.OK() {
				continue
			}
			inSample := ""
			if run.InSample {
				inSample = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.4f | %.4f | %s | %s | %s | %s |\n",
				run.ProductID, run.Kind, dash(run.Order), run.MAE, run.RMSE,
				optional(run.MAPE, "%.2f"), optional(run.AIC, "%.2f"), inSample,
				run.TrainedAt.Format(time.RFC3339)))
		}
	} else {
		sb.WriteString("No models trained.\n")
	}
	sb.WriteString("\n")

	// Failures
	if r.Summary.Failed > 0 {
		sb.WriteString("## Failures\n\n")
		for _, run := range r.Runs {
			if !run.OK() {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", run.ProductID, run.Error))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
