package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Output file names written by WriteFiles.
const (
	MarkdownFile = "TRAINING_REPORT.md"
	CSVFile      = "TRAINING_RESULTS.csv"
)

// RenderCSV renders training runs as CSV string.
func RenderCSV(runs []RunRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("product_id,model_type,status,order,mae,rmse,mape,aic,in_sample,trained_at,error\n")

	// Rows
	for _, r := range runs {
		status := "trained"
		trainedAt := r.TrainedAt.Format(time.RFC3339)
		if !r.OK() {
			status = "failed"
			trainedAt = ""
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%.6f,%.6f,%s,%s,%t,%s,%s\n",
			r.ProductID,
			r.Kind,
			status,
			csvQuote(r.Order),
			r.MAE,
			r.RMSE,
			csvFloat(r.MAPE),
			csvFloat(r.AIC),
			r.InSample,
			trainedAt,
			csvQuote(r.Error),
		))
	}

	return sb.String()
}

// WriteFiles writes the Markdown report and the CSV results into dir.
func WriteFiles(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MarkdownFile), []byte(RenderMarkdown(r)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", MarkdownFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, CSVFile), []byte(RenderCSV(r.Runs)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", CSVFile, err)
	}
	return nil
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// csvQuote quotes a field containing separators, quotes or newlines.
func csvQuote(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
