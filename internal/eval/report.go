package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReportRow is one scored method in a comparison report.
type ReportRow struct {
	Method  string
	Metrics *Metrics
}

// GenerateReport renders a markdown comparison table.
func GenerateReport(rows []ReportRow) string {
	var md strings.Builder

	md.WriteString("# Forecast Accuracy\n\n")
	md.WriteString("| Method | Rows | RMSE | MAPE | sMAPE | Residual mean | Residual std |\n")
	md.WriteString("|--------|------|------|------|-------|---------------|--------------|\n")

	for _, row := range rows {
		m := row.Metrics
		md.WriteString(fmt.Sprintf("| %s | %d | %.2f | %s | %s | %.2f | %.2f |\n",
			row.Method,
			m.N,
			m.RMSE,
			FormatPercent(m.MAPE),
			FormatPercent(m.SMAPE),
			m.ResidualMean,
			m.ResidualStd,
		))
	}
	return md.String()
}

// WriteReport writes the comparison table to path.
func WriteReport(path string, rows []ReportRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return os.WriteFile(path, []byte(GenerateReport(rows)), 0644)
}
