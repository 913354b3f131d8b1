package output

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/presenter"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatView renders the items with a totals footer and the calorie split.
func (f *TableFormatter) FormatView(view presenter.View) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Food", "Quantity", "Calories", "Protein (g)", "Carbs (g)", "Fat (g)"})

	for _, item := range view.Items {
		b := item.Breakdown
		t.AppendRow(table.Row{
			item.Name,
			item.Quantity,
			formatNumber(b.Calories),
			formatNumber(b.ProteinG),
			formatNumber(b.CarbsG),
			formatNumber(b.FatG),
		})
	}

	t.AppendFooter(table.Row{
		"Total",
		"",
		formatNumber(view.Total.Calories),
		formatNumber(view.Total.ProteinG),
		formatNumber(view.Total.CarbsG),
		formatNumber(view.Total.FatG),
	})

	rendered := t.Render()
	rendered += renderSections([]section{distributionSection(view.Total)}, false)
	return rendered, nil
}

// FormatHistory renders stored analyses one per row.
func (f *TableFormatter) FormatHistory(records []*core.AnalysisRecord) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "When", "File", "Items", "Calories"})

	for _, record := range records {
		if record == nil {
			continue
		}
		items, total := resultTotals(record)
		t.AppendRow(table.Row{
			record.ID,
			record.CreatedAt.Local().Format("2006-01-02 15:04"),
			record.Filename,
			items,
			formatNumber(total.Calories),
		})
	}
	return t.Render(), nil
}
