package output

import (
	"fmt"
	"strings"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/presenter"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
)

// Formatter renders analysis views and history listings.
type Formatter interface {
	FormatView(view presenter.View) (string, error)
	FormatHistory(records []*core.AnalysisRecord) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatResult presents result and renders it in format.
func FormatResult(format Format, result *core.AnalysisResult) (string, error) {
	return NewFormatter(format).FormatView(presenter.Present(result))
}

type section struct {
	Title string
	Lines []string
}

func distributionSection(total presenter.Breakdown) section {
	return section{
		Title: "Calorie distribution",
		Lines: []string{
			macroLine("Protein", total.ProteinG, total.ProteinKcal, total.ProteinPct),
			macroLine("Carbs", total.CarbsG, total.CarbsKcal, total.CarbsPct),
			macroLine("Fat", total.FatG, total.FatKcal, total.FatPct),
		},
	}
}

func macroLine(name string, grams, kcal, pct float64) string {
	return fmt.Sprintf("%s: %sg, %s kcal, %s%%", name, formatNumber(grams), formatNumber(kcal), formatNumber(pct))
}

func renderSections(sections []section, markdown bool) string {
	if len(sections) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		if markdown {
			sb.WriteString(fmt.Sprintf("\n\n### %s\n", s.Title))
			for _, line := range s.Lines {
				sb.WriteString(fmt.Sprintf("- %s\n", line))
			}
		} else {
			sb.WriteString(fmt.Sprintf("\n\n%s:\n", s.Title))
			for _, line := range s.Lines {
				sb.WriteString(fmt.Sprintf("  %s\n", line))
			}
		}
	}
	return sb.String()
}

// formatNumber prints at most one decimal and drops a trailing ".0".
func formatNumber(v float64) string {
	s := fmt.Sprintf("%.1f", presenter.Round1(v))
	return strings.TrimSuffix(s, ".0")
}

func resultTotals(record *core.AnalysisRecord) (int, core.Macros) {
	if record == nil || record.Result == nil {
		return 0, core.Macros{}
	}
	return len(record.Result.Items), record.Result.Total.Macros
}
