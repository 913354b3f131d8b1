package output

import (
	"encoding/json"

	"github.com/viflex/platescan/internal/core"
	"github.com/viflex/platescan/internal/presenter"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatView renders a view as JSON.
func (f *JSONFormatter) FormatView(view presenter.View) (string, error) {
	return f.marshal(view)
}

// FormatHistory renders records as a JSON array.
func (f *JSONFormatter) FormatHistory(records []*core.AnalysisRecord) (string, error) {
	if records == nil {
		records = []*core.AnalysisRecord{}
	}
	return f.marshal(records)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
