// Package presenter derives display values from an analysis result. All
// functions are pure.
package presenter

import (
	"math"

	"github.com/viflex/platescan/internal/core"
)

// Energy density in kcal per gram.
const (
	ProteinKcalPerGram = 4
	CarbsKcalPerGram   = 4
	FatKcalPerGram     = 9
)

// Share returns the percentage of totalCalories contributed by grams of a
// macro at kcalPerGram. A zero or negative total, or any non-finite result,
// yields 0.
func Share(grams, kcalPerGram, totalCalories float64) float64 {
	if totalCalories <= 0 || math.IsNaN(totalCalories) || math.IsInf(totalCalories, 0) {
		return 0
	}
	pct := grams * kcalPerGram / totalCalories * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Breakdown is the calorie split of one item or of the total.
type Breakdown struct {
	Calories   float64 `json:"calories" yaml:"calories"`
	ProteinG   float64 `json:"protein_g" yaml:"protein_g"`
	CarbsG     float64 `json:"carbs_g" yaml:"carbs_g"`
	FatG       float64 `json:"fat_g" yaml:"fat_g"`
	ProteinPct float64 `json:"protein_pct" yaml:"protein_pct"`
	CarbsPct   float64 `json:"carbs_pct" yaml:"carbs_pct"`
	FatPct     float64 `json:"fat_pct" yaml:"fat_pct"`
	// Per-macro calorie contributions.
	ProteinKcal float64 `json:"protein_kcal" yaml:"protein_kcal"`
	CarbsKcal   float64 `json:"carbs_kcal" yaml:"carbs_kcal"`
	FatKcal     float64 `json:"fat_kcal" yaml:"fat_kcal"`
}

// BreakdownOf computes shares for m. Items and totals use this same function.
func BreakdownOf(m core.Macros) Breakdown {
	return Breakdown{
		Calories:    m.Calories,
		ProteinG:    m.ProteinG,
		CarbsG:      m.CarbsG,
		FatG:        m.FatG,
		ProteinPct:  Round1(Share(m.ProteinG, ProteinKcalPerGram, m.Calories)),
		CarbsPct:    Round1(Share(m.CarbsG, CarbsKcalPerGram, m.Calories)),
		FatPct:      Round1(Share(m.FatG, FatKcalPerGram, m.Calories)),
		ProteinKcal: Round1(m.ProteinG * ProteinKcalPerGram),
		CarbsKcal:   Round1(m.CarbsG * CarbsKcalPerGram),
		FatKcal:     Round1(m.FatG * FatKcalPerGram),
	}
}

// ItemView is one display row.
type ItemView struct {
	Name      string    `json:"name" yaml:"name"`
	Quantity  string    `json:"quantity" yaml:"quantity"`
	Breakdown Breakdown `json:"breakdown" yaml:"breakdown"`
}

// View is the display-ready form of an AnalysisResult.
type View struct {
	Status string     `json:"status" yaml:"status"`
	Items  []ItemView `json:"items" yaml:"items"`
	Total  Breakdown  `json:"total" yaml:"total"`
}

// Present converts result into a View. A nil result gives an empty view.
func Present(result *core.AnalysisResult) View {
	if result == nil {
		return View{Items: []ItemView{}}
	}
	items := make([]ItemView, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, ItemView{
			Name:      item.Name,
			Quantity:  item.Quantity,
			Breakdown: BreakdownOf(item.Macros),
		})
	}
	return View{
		Status: result.Status,
		Items:  items,
		Total:  BreakdownOf(result.Total.Macros),
	}
}
