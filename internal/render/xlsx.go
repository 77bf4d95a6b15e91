package render

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperengineering/bidkit/internal/pricing"
	"github.com/hyperengineering/bidkit/internal/types"
)

const (
	SheetLineItems = "Line Items"
	SheetVariables = "Variables"
)

// ProposalSheet is the data exported for one proposal.
type ProposalSheet struct {
	Proposal    types.Proposal
	Variables   []types.VariableValue
	Categories  []types.Category
	Values      []types.ElementValue
	GeneratedAt time.Time
}

// numberFormat is excelize's built-in "#,##0.00".
const numberFormat = 4

type styles struct {
	title, header, money, moneyBold, label, category int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "#000000", Style: 1},
		{Type: "top", Color: "#000000", Style: 1},
		{Type: "bottom", Color: "#000000", Style: 1},
		{Type: "right", Color: "#000000", Style: 1},
	}
	if s.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}}); err != nil {
		return s, fmt.Errorf("create title style: %w", err)
	}
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#333333"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	}); err != nil {
		return s, fmt.Errorf("create header style: %w", err)
	}
	if s.money, err = f.NewStyle(&excelize.Style{NumFmt: numberFormat, Border: border}); err != nil {
		return s, fmt.Errorf("create money style: %w", err)
	}
	if s.moneyBold, err = f.NewStyle(&excelize.Style{NumFmt: numberFormat, Font: &excelize.Font{Bold: true}}); err != nil {
		return s, fmt.Errorf("create total style: %w", err)
	}
	if s.label, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "right"},
	}); err != nil {
		return s, fmt.Errorf("create label style: %w", err)
	}
	if s.category, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F0F0F0"}, Pattern: 1},
	}); err != nil {
		return s, fmt.Errorf("create category style: %w", err)
	}
	return s, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// ProposalWorkbook renders a proposal as XLSX bytes with a line item sheet
// and a variables sheet.
func ProposalWorkbook(s ProposalSheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetLineItems); err != nil {
		return nil, fmt.Errorf("set sheet name: %w", err)
	}
	if _, err := f.NewSheet(SheetVariables); err != nil {
		return nil, fmt.Errorf("add variables sheet: %w", err)
	}
	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	if err := writeLineItems(f, st, s); err != nil {
		return nil, err
	}
	if err := writeVariables(f, st, s.Variables); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

var lineHeaders = []string{"Category", "Element", "Material", "Labor", "Markup %", "Total", "Total with Markup"}

func writeLineItems(f *excelize.File, st styles, s ProposalSheet) error {
	sheet := SheetLineItems
	for i, w := range []float64{24, 36, 14, 14, 10, 14, 18} {
		c, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, c, c, w); err != nil {
			return fmt.Errorf("set col width %s: %w", c, err)
		}
	}

	last := cell(len(lineHeaders), 1)
	if err := f.MergeCell(sheet, "A1", last); err != nil {
		return fmt.Errorf("merge title: %w", err)
	}
	f.SetCellValue(sheet, "A1", sanitizeCell(s.Proposal.Name))
	f.SetCellStyle(sheet, "A1", last, st.title)
	f.SetCellValue(sheet, "A2", "Exported "+pricing.FormatDate(s.GeneratedAt))

	for i, h := range lineHeaders {
		f.SetCellValue(sheet, cell(i+1, 4), h)
	}
	f.SetCellStyle(sheet, "A4", cell(len(lineHeaders), 4), st.header)

	values := pricing.FillMissing(s.Values)
	byCat := make(map[string][]types.ElementValue)
	for _, v := range values {
		byCat[v.CategoryID] = append(byCat[v.CategoryID], v)
	}

	r := 5
	for _, ct := range pricing.ByCategory(values, s.Categories) {
		if ct.Count == 0 {
			continue
		}
		name := ct.Name
		if name == "" {
			name = "Uncategorized"
		}
		items := byCat[ct.CategoryID]
		sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
		for _, v := range items {
			f.SetCellValue(sheet, cell(1, r), sanitizeCell(name))
			f.SetCellValue(sheet, cell(2, r), sanitizeCell(v.Name))
			f.SetCellValue(sheet, cell(3, r), v.MaterialCost.Value)
			f.SetCellValue(sheet, cell(4, r), v.LaborCost.Value)
			f.SetCellValue(sheet, cell(5, r), v.MarkupPercentage)
			f.SetCellValue(sheet, cell(6, r), v.MaterialCost.Value+v.LaborCost.Value)
			f.SetCellValue(sheet, cell(7, r), *v.TotalWithMarkup)
			f.SetCellStyle(sheet, cell(3, r), cell(7, r), st.money)
			r++
		}
		f.SetCellValue(sheet, cell(2, r), name+" subtotal")
		f.SetCellValue(sheet, cell(3, r), ct.Material)
		f.SetCellValue(sheet, cell(4, r), ct.Labor)
		f.SetCellValue(sheet, cell(6, r), ct.Subtotal)
		f.SetCellValue(sheet, cell(7, r), ct.Total)
		f.SetCellStyle(sheet, cell(1, r), cell(7, r), st.category)
		r++
	}

	totals := pricing.Aggregate(values)
	r++
	for _, line := range []struct {
		label string
		value float64
	}{
		{"Material", totals.Material},
		{"Labor", totals.Labor},
		{"Subtotal", totals.Subtotal},
		{"Total with Markup", totals.Total},
	} {
		f.SetCellValue(sheet, cell(6, r), line.label)
		f.SetCellStyle(sheet, cell(6, r), cell(6, r), st.label)
		f.SetCellValue(sheet, cell(7, r), line.value)
		f.SetCellStyle(sheet, cell(7, r), cell(7, r), st.moneyBold)
		r++
	}
	return nil
}

func writeVariables(f *excelize.File, st styles, vars []types.VariableValue) error {
	sheet := SheetVariables
	if err := f.SetColWidth(sheet, "A", "A", 30); err != nil {
		return fmt.Errorf("set col width: %w", err)
	}
	for i, h := range []string{"Variable", "Type", "Value", "Unit"} {
		f.SetCellValue(sheet, cell(i+1, 1), h)
	}
	f.SetCellStyle(sheet, "A1", "D1", st.header)
	for i, v := range vars {
		r := i + 2
		f.SetCellValue(sheet, cell(1, r), sanitizeCell(v.Name))
		f.SetCellValue(sheet, cell(2, r), string(v.Type))
		f.SetCellValue(sheet, cell(3, r), v.Value)
		f.SetCellValue(sheet, cell(4, r), v.Type.Unit())
	}
	return nil
}

// sanitizeCell prefixes text that a spreadsheet would evaluate as a formula.
func sanitizeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r', '|':
		return "'" + s
	}
	return s
}
