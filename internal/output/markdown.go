package output

import (
	"fmt"
	"strings"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/presenter"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatView renders a view as Markdown.
func (f *MarkdownFormatter) FormatView(view presenter.View) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Nutrition analysis\n\n")
	sb.WriteString("| Food | Quantity | Calories | Protein (g) | Carbs (g) | Fat (g) |\n")
	sb.WriteString("|------|----------|----------|-------------|-----------|---------|\n")

	for _, item := range view.Items {
		b := item.Breakdown
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(item.Name),
			escapeMarkdownCell(item.Quantity),
			formatNumber(b.Calories),
			formatNumber(b.ProteinG),
			formatNumber(b.CarbsG),
			formatNumber(b.FatG),
		))
	}

	sb.WriteString(fmt.Sprintf("| **Total** | | %s | %s | %s | %s |\n",
		formatNumber(view.Total.Calories),
		formatNumber(view.Total.ProteinG),
		formatNumber(view.Total.CarbsG),
		formatNumber(view.Total.FatG),
	))

	sb.WriteString(renderSections([]section{distributionSection(view.Total)}, true))
	return sb.String(), nil
}

// FormatHistory renders records as a Markdown table.
func (f *MarkdownFormatter) FormatHistory(records []*core.AnalysisRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| ID | When | File | Items | Calories |\n")
	sb.WriteString("|----|------|------|-------|----------|\n")
	for _, record := range records {
		if record == nil {
			continue
		}
		items, total := resultTotals(record)
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s |\n",
			record.ID,
			record.CreatedAt.UTC().Format("2006-01-02 15:04"),
			escapeMarkdownCell(record.Filename),
			items,
			formatNumber(total.Calories),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
