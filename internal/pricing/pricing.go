// Package pricing derives client-side cost totals for proposal line items.
// Figures here are previews; the backend computes and persists its own.
package pricing

import (
	"sort"

	"github.com/hyperengineering/bidkit/internal/types"
)

// ElementTotals returns total_cost = material + labor and
// total_with_markup = total_cost * (1 + markup/100).
func ElementTotals(material, labor, markupPct float64) (totalCost, totalWithMarkup float64) {
	totalCost = material + labor
	totalWithMarkup = totalCost * (1 + markupPct/100)
	return totalCost, totalWithMarkup
}

// Recompute returns ev with TotalCost and TotalWithMarkup derived from its
// current cost fields.
func Recompute(ev types.ElementValue) types.ElementValue {
	total, withMarkup := ElementTotals(ev.MaterialCost.Value, ev.LaborCost.Value, ev.MarkupPercentage)
	ev.TotalCost = &total
	ev.TotalWithMarkup = &withMarkup
	return ev
}

// Totals is the aggregate cost of a set of line items.
type Totals struct {
	Material float64 `json:"material"`
	Labor    float64 `json:"labor"`
	Subtotal float64 `json:"subtotal"`
	Total    float64 `json:"total"`
	Markup   float64 `json:"markup"`
}

// MaterialShare is material's percentage of the subtotal.
func (t Totals) MaterialShare() float64 {
	return Share(t.Material, t.Subtotal)
}

// LaborShare is labor's percentage of the subtotal.
func (t Totals) LaborShare() float64 {
	return Share(t.Labor, t.Subtotal)
}

// Aggregate sums material and labor across values. Total is the sum of each
// element's already computed TotalWithMarkup; a missing value counts as 0.
func Aggregate(values []types.ElementValue) Totals {
	var totals Totals
	for _, v := range values {
		totals.Material += v.MaterialCost.Value
		totals.Labor += v.LaborCost.Value
		if v.TotalWithMarkup != nil {
			totals.Total += *v.TotalWithMarkup
		}
	}
	totals.Subtotal = totals.Material + totals.Labor
	totals.Markup = totals.Total - totals.Subtotal
	return totals
}

// Share returns part as a percentage of whole. A zero whole yields 0.
func Share(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return (part / whole) * 100
}

// FillMissing returns a copy of values where items the backend has not
// totalled yet are recomputed locally. Backend totals are kept as they are.
func FillMissing(values []types.ElementValue) []types.ElementValue {
	out := make([]types.ElementValue, len(values))
	for i, v := range values {
		if v.TotalWithMarkup == nil {
			v = Recompute(v)
		}
		out[i] = v
	}
	return out
}

// ApplyGlobalMarkup previews a proposal-wide markup over a subtotal.
func ApplyGlobalMarkup(subtotal, pct float64) float64 {
	return subtotal * (1 + pct/100)
}

// CategoryTotals is the aggregate for one category's line items.
type CategoryTotals struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name,omitempty"`
	Totals
	Count int `json:"count"`
}

// ByCategory groups values by CategoryID and aggregates each group. Groups
// follow the order of cats; categories with no values are included with zero
// totals, and values whose category is unknown are grouped last.
func ByCategory(values []types.ElementValue, cats []types.Category) []CategoryTotals {
	grouped := make(map[string][]types.ElementValue)
	var unknownOrder []string
	known := make(map[string]bool, len(cats))
	for _, c := range cats {
		known[c.ID] = true
	}
	for _, v := range values {
		if !known[v.CategoryID] {
			if _, seen := grouped[v.CategoryID]; !seen {
				unknownOrder = append(unknownOrder, v.CategoryID)
			}
		}
		grouped[v.CategoryID] = append(grouped[v.CategoryID], v)
	}

	sorted := make([]types.Category, len(cats))
	copy(sorted, cats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return types.CategoryLess(sorted[i], sorted[j])
	})

	out := make([]CategoryTotals, 0, len(sorted)+len(unknownOrder))
	for _, c := range sorted {
		group := grouped[c.ID]
		out = append(out, CategoryTotals{CategoryID: c.ID, Name: c.Name, Totals: Aggregate(group), Count: len(group)})
	}
	for _, id := range unknownOrder {
		group := grouped[id]
		out = append(out, CategoryTotals{CategoryID: id, Totals: Aggregate(group), Count: len(group)})
	}
	return out
}
