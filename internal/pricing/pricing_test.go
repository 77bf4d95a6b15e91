package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/hyperengineering/bidkit/internal/types"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func ptr(f float64) *float64 { return &f }

func TestElementTotals(t *testing.T) {
	tests := []struct {
		name           string
		material       float64
		labor          float64
		markup         float64
		wantTotal      float64
		wantWithMarkup float64
	}{
		{"deck job line", 100, 50, 20, 150, 180},
		{"no markup", 100, 50, 0, 150, 150},
		{"zero costs", 0, 0, 35, 0, 0},
		{"decimal values", 12.5, 7.25, 10, 19.75, 21.725},
		{"large markup", 10, 10, 150, 20, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, withMarkup := ElementTotals(tt.material, tt.labor, tt.markup)
			if !approx(total, tt.wantTotal) {
				t.Errorf("totalCost = %v, want %v", total, tt.wantTotal)
			}
			if !approx(withMarkup, tt.wantWithMarkup) {
				t.Errorf("totalWithMarkup = %v, want %v", withMarkup, tt.wantWithMarkup)
			}
		})
	}
}

func TestRecompute_Property(t *testing.T) {
	// For every element value, total_with_markup equals
	// (material + labor) * (1 + markup/100).
	for material := 0.0; material <= 500; material += 73.3 {
		for labor := 0.0; labor <= 300; labor += 41.7 {
			for markup := 0.0; markup <= 100; markup += 12.5 {
				ev := Recompute(types.ElementValue{
					MaterialCost:     types.NewAmount(material),
					LaborCost:        types.NewAmount(labor),
					MarkupPercentage: markup,
				})
				want := (material + labor) * (1 + markup/100)
				if math.Abs(*ev.TotalWithMarkup-want) > 1e-6 {
					t.Fatalf("material=%v labor=%v markup=%v: got %v, want %v",
						material, labor, markup, *ev.TotalWithMarkup, want)
				}
			}
		}
	}
}

func TestRecompute_DeckJobScenario(t *testing.T) {
	// Given: a line item from a scratch proposal
	ev := types.ElementValue{
		MaterialCost:     types.Amount{Value: 100, Raw: "100"},
		LaborCost:        types.Amount{Value: 50, Raw: "50"},
		MarkupPercentage: 20,
	}

	// When: totals are derived
	got := Recompute(ev)

	// Then: total_cost=150, total_with_markup=180
	if *got.TotalCost != 150 {
		t.Errorf("TotalCost = %v, want 150", *got.TotalCost)
	}
	if !approx(*got.TotalWithMarkup, 180) {
		t.Errorf("TotalWithMarkup = %v, want 180", *got.TotalWithMarkup)
	}
}

func TestFillMissing_KeepsBackendTotals(t *testing.T) {
	// Given one item totalled by the backend and one not yet totalled
	values := []types.ElementValue{
		{ID: "a", MaterialCost: types.Amount{Value: 100}, TotalCost: ptr(90), TotalWithMarkup: ptr(99)},
		{ID: "b", MaterialCost: types.Amount{Value: 100}, LaborCost: types.Amount{Value: 50}, MarkupPercentage: 10},
	}

	// When
	got := FillMissing(values)

	// Then the backend figures stand and the missing one is previewed
	if *got[0].TotalWithMarkup != 99 {
		t.Errorf("backend total replaced: %v", *got[0].TotalWithMarkup)
	}
	if got[1].TotalWithMarkup == nil || !approx(*got[1].TotalWithMarkup, 165) {
		t.Errorf("preview total = %v, want 165", got[1].TotalWithMarkup)
	}
	if values[1].TotalWithMarkup != nil {
		t.Error("input slice was modified")
	}
}

func TestAggregate_Empty(t *testing.T) {
	totals := Aggregate(nil)

	if totals != (Totals{}) {
		t.Errorf("Aggregate(nil) = %+v, want all zero", totals)
	}
	if math.IsNaN(totals.MaterialShare()) || totals.MaterialShare() != 0 {
		t.Errorf("MaterialShare() = %v, want 0", totals.MaterialShare())
	}
	if math.IsNaN(totals.LaborShare()) || totals.LaborShare() != 0 {
		t.Errorf("LaborShare() = %v, want 0", totals.LaborShare())
	}
}

func TestAggregate_SumsTotalsWithMarkup(t *testing.T) {
	values := []types.ElementValue{
		{MaterialCost: types.NewAmount(100), LaborCost: types.NewAmount(50), TotalWithMarkup: ptr(180)},
		{MaterialCost: types.NewAmount(40), LaborCost: types.NewAmount(10), TotalWithMarkup: ptr(55)},
		// Missing total_with_markup falls back to 0.
		{MaterialCost: types.NewAmount(10), LaborCost: types.NewAmount(0)},
	}

	totals := Aggregate(values)

	if totals.Material != 150 {
		t.Errorf("Material = %v, want 150", totals.Material)
	}
	if totals.Labor != 60 {
		t.Errorf("Labor = %v, want 60", totals.Labor)
	}
	if totals.Subtotal != 210 {
		t.Errorf("Subtotal = %v, want 210", totals.Subtotal)
	}
	if totals.Total != 235 {
		t.Errorf("Total = %v, want 235", totals.Total)
	}
	if totals.Markup != 25 {
		t.Errorf("Markup = %v, want 25", totals.Markup)
	}
	if !approx(totals.MaterialShare(), 150.0/210.0*100) {
		t.Errorf("MaterialShare() = %v", totals.MaterialShare())
	}
}

func TestShare(t *testing.T) {
	tests := []struct {
		name        string
		part, whole float64
		want        float64
	}{
		{"half", 50, 100, 50},
		{"zero over zero", 0, 0, 0},
		{"part over zero", 10, 0, 0},
		{"all", 75, 75, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Share(tt.part, tt.whole); got != tt.want {
				t.Errorf("Share(%v, %v) = %v, want %v", tt.part, tt.whole, got, tt.want)
			}
		})
	}
}

func TestApplyGlobalMarkup(t *testing.T) {
	if got := ApplyGlobalMarkup(150, 20); !approx(got, 180) {
		t.Errorf("ApplyGlobalMarkup(150, 20) = %v, want 180", got)
	}
}

func TestByCategory(t *testing.T) {
	cats := []types.Category{
		{ID: "roof", Name: "Roofing", Position: 2},
		{ID: "frame", Name: "Framing", Position: 1},
		{ID: "paint", Name: "Paint", Position: 3},
	}
	values := []types.ElementValue{
		{CategoryID: "roof", MaterialCost: types.NewAmount(200), TotalWithMarkup: ptr(220)},
		{CategoryID: "frame", MaterialCost: types.NewAmount(100), LaborCost: types.NewAmount(50), TotalWithMarkup: ptr(180)},
		{CategoryID: "frame", MaterialCost: types.NewAmount(10), TotalWithMarkup: ptr(10)},
		{CategoryID: "orphan", LaborCost: types.NewAmount(5), TotalWithMarkup: ptr(5)},
	}

	groups := ByCategory(values, cats)

	wantOrder := []string{"frame", "roof", "paint", "orphan"}
	if len(groups) != len(wantOrder) {
		t.Fatalf("len(groups) = %d, want %d", len(groups), len(wantOrder))
	}
	for i, id := range wantOrder {
		if groups[i].CategoryID != id {
			t.Errorf("groups[%d] = %q, want %q", i, groups[i].CategoryID, id)
		}
	}
	if groups[0].Count != 2 || groups[0].Total != 190 {
		t.Errorf("frame group = %+v, want count 2 total 190", groups[0])
	}
	if groups[2].Count != 0 || groups[2].Total != 0 {
		t.Errorf("empty category should have zero totals, got %+v", groups[2])
	}
}

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{180, "$180.00"},
		{1234.5, "$1,234.50"},
		{1234567.891, "$1,234,567.89"},
		{0.3, "$0.30"},
		{2.999, "$2.99"},
		{-42.5, "-$42.50"},
		{999, "$999.00"},
		{1000, "$1,000.00"},
		{1e16, "$10,000,000,000,000,000.00"},
		{1e20, "$100,000,000,000,000,000,000.00"},
		{-1e20, "-$100,000,000,000,000,000,000.00"},
		{math.NaN(), "$NaN"},
		{math.Inf(1), "$Inf"},
		{math.Inf(-1), "-$Inf"},
	}
	for _, tt := range tests {
		if got := FormatCurrency(tt.in); got != tt.want {
			t.Errorf("FormatCurrency(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(20); got != "20%" {
		t.Errorf("FormatPercent(20) = %q", got)
	}
	if got := FormatPercent(71.428571); got != "71.43%" {
		t.Errorf("FormatPercent(71.428571) = %q", got)
	}
}

func TestFormatDate(t *testing.T) {
	d := time.Date(2026, time.March, 7, 15, 0, 0, 0, time.UTC)
	if got := FormatDate(d); got != "Mar 7, 2026" {
		t.Errorf("FormatDate() = %q", got)
	}
	if got := FormatDate(time.Time{}); got != "-" {
		t.Errorf("FormatDate(zero) = %q, want -", got)
	}
}
