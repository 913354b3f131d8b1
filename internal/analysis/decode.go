package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/viflex/platescan/internal/core"
)

// The webhook answers either with an envelope object or with a one-element
// array holding it. Both are resolved here and nowhere else.
type envelope struct {
	Output *wireResult `json:"output"`
}

type wireResult struct {
	Status string      `json:"status"`
	Food   *[]wireItem `json:"food"`
	Total  *wireMacros `json:"total"`
}

type wireItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	wireMacros
}

type wireMacros struct {
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Carbs    *float64 `json:"carbs"`
	Fat      *float64 `json:"fat"`
}

// DecodeResult parses a webhook response body into an AnalysisResult. Every
// failure is a *Error of KindMalformed.
func DecodeResult(body []byte) (*core.AnalysisResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, malformed("empty body", nil)
	}

	var env envelope
	switch trimmed[0] {
	case '[':
		var list []envelope
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, malformed("decode response", err)
		}
		if len(list) != 1 {
			return nil, malformed(fmt.Sprintf("expected one result, got %d", len(list)), nil)
		}
		env = list[0]
	case '{':
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, malformed("decode response", err)
		}
	default:
		return nil, malformed("response is not a JSON object or array", nil)
	}

	return env.result()
}

func (e envelope) result() (*core.AnalysisResult, error) {
	if e.Output == nil {
		return nil, malformed("missing output", nil)
	}
	if e.Output.Food == nil {
		return nil, malformed("missing output.food", nil)
	}
	if e.Output.Total == nil {
		return nil, malformed("missing output.total", nil)
	}

	total, err := e.Output.Total.macros("total")
	if err != nil {
		return nil, err
	}

	items := make([]core.NutritionItem, 0, len(*e.Output.Food))
	for i, raw := range *e.Output.Food {
		m, err := raw.macros(fmt.Sprintf("food[%d]", i))
		if err != nil {
			return nil, err
		}
		items = append(items, core.NutritionItem{
			Name:     raw.Name,
			Quantity: raw.Quantity,
			Macros:   m,
		})
	}

	return &core.AnalysisResult{
		Status: e.Output.Status,
		Items:  items,
		Total:  core.NutritionTotal{Macros: total},
	}, nil
}

func (w wireMacros) macros(path string) (core.Macros, error) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"calories", w.Calories},
		{"protein", w.Protein},
		{"carbs", w.Carbs},
		{"fat", w.Fat},
	}
	for _, f := range fields {
		if f.value == nil {
			return core.Macros{}, malformed(fmt.Sprintf("missing %s.%s", path, f.name), nil)
		}
		if *f.value < 0 {
			return core.Macros{}, malformed(fmt.Sprintf("negative %s.%s", path, f.name), nil)
		}
	}
	return core.Macros{
		Calories: *w.Calories,
		ProteinG: *w.Protein,
		CarbsG:   *w.Carbs,
		FatG:     *w.Fat,
	}, nil
}
