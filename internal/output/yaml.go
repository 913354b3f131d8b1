package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/presenter"
)

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct{}

// FormatView renders a view as YAML.
func (f *YAMLFormatter) FormatView(view presenter.View) (string, error) {
	return marshalYAML(view)
}

// FormatHistory renders records as a YAML sequence.
func (f *YAMLFormatter) FormatHistory(records []*core.AnalysisRecord) (string, error) {
	if records == nil {
		records = []*core.AnalysisRecord{}
	}
	return marshalYAML(records)
}

func marshalYAML(value any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
