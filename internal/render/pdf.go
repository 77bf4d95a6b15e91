// Package render produces downloadable documents: contract PDFs and
// proposal spreadsheets.
package render

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/hyperengineering/bidkit/internal/pricing"
	"github.com/hyperengineering/bidkit/internal/types"
)

// ContractDocument is everything printed on a contract.
type ContractDocument struct {
	Contract    types.Contract
	Proposal    types.Proposal
	Categories  []pricing.CategoryTotals
	Totals      pricing.Totals
	GeneratedAt time.Time
}

// NewContractDocument aggregates the proposal's line items for printing.
// Items the backend has not totalled yet are previewed locally.
func NewContractDocument(ct types.Contract, p types.Proposal, values []types.ElementValue, cats []types.Category, now time.Time) ContractDocument {
	values = pricing.FillMissing(values)
	return ContractDocument{
		Contract:    ct,
		Proposal:    p,
		Categories:  pricing.ByCategory(values, cats),
		Totals:      pricing.Aggregate(values),
		GeneratedAt: now,
	}
}

var (
	grey      = &props.Color{Red: 100, Green: 100, Blue: 100}
	lightGrey = &props.Color{Red: 140, Green: 140, Blue: 140}
	headerBg  = &props.Cell{BackgroundColor: &props.Color{Red: 33, Green: 37, Blue: 41}}
	summaryBg = &props.Cell{BackgroundColor: &props.Color{Red: 240, Green: 240, Blue: 240}}
)

// ContractFilename names a downloaded contract after its client and
// version, e.g. contract-dana-client-v2.pdf.
func ContractFilename(ct types.Contract) string {
	name := strings.NewReplacer(" ", "-", "/", "-").Replace(strings.ToLower(strings.TrimSpace(ct.ClientName)))
	if name == "" {
		name = ct.ProposalID
	}
	return fmt.Sprintf("contract-%s-v%d.pdf", name, ct.Version)
}

// ContractPDF renders a contract as PDF bytes.
func ContractPDF(doc ContractDocument) ([]byte, error) {
	cfg := config.NewBuilder().
		WithOrientation(orientation.Vertical).
		WithPageSize(pagesize.A4).
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
			Size:    7,
			Color:   lightGrey,
		}).
		Build()

	m := maroto.New(cfg)
	addContractHeader(m, doc)
	addParties(m, doc.Contract)
	addCostTable(m, doc)
	addTerms(m, doc.Contract.TermsAndConditions)
	addSignatures(m, doc.Contract)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate contract pdf: %w", err)
	}
	return out.GetBytes(), nil
}

func addContractHeader(m core.Maroto, doc ContractDocument) {
	title := "Construction Contract"
	if doc.Contract.IsRevision() {
		title = fmt.Sprintf("Construction Contract (Revision %d)", doc.Contract.Version)
	}
	m.AddRows(
		row.New(12).Add(
			col.New(12).Add(text.New(title, props.Text{Size: 16, Style: fontstyle.Bold, Align: align.Center})),
		),
		row.New(8).Add(
			col.New(6).Add(text.New("Proposal: "+doc.Proposal.Name, props.Text{Size: 9, Color: grey})),
			col.New(6).Add(text.New("Date: "+pricing.FormatDate(doc.GeneratedAt), props.Text{Size: 9, Align: align.Right, Color: grey})),
		),
		row.New(4),
	)
}

func addParties(m core.Maroto, ct types.Contract) {
	label := props.Text{Size: 8, Style: fontstyle.Bold, Color: grey}
	value := props.Text{Size: 10}
	m.AddRows(
		row.New(5).Add(
			col.New(6).Add(text.New("CLIENT", label)),
			col.New(6).Add(text.New("CONTRACTOR", label)),
		),
		row.New(7).Add(
			col.New(6).Add(text.New(ct.ClientName, value)),
			col.New(6).Add(text.New(ct.ContractorName, value)),
		),
		row.New(6),
	)
}

func addCostTable(m core.Maroto, doc ContractDocument) {
	head := props.Text{Size: 8, Style: fontstyle.Bold, Align: align.Right, Color: &props.Color{Red: 255, Green: 255, Blue: 255}}
	headLeft := head
	headLeft.Align = align.Left
	m.AddRows(row.New(8).Add(
		col.New(6).Add(text.New("Category", headLeft)).WithStyle(headerBg),
		col.New(2).Add(text.New("Material", head)).WithStyle(headerBg),
		col.New(2).Add(text.New("Labor", head)).WithStyle(headerBg),
		col.New(2).Add(text.New("Total", head)).WithStyle(headerBg),
	))

	cell := props.Text{Size: 8, Align: align.Right}
	cellLeft := cell
	cellLeft.Align = align.Left
	for _, c := range doc.Categories {
		if c.Count == 0 {
			continue
		}
		name := c.Name
		if name == "" {
			name = "Uncategorized"
		}
		m.AddRows(row.New(7).Add(
			col.New(6).Add(text.New(name, cellLeft)),
			col.New(2).Add(text.New(pricing.FormatCurrency(c.Material), cell)),
			col.New(2).Add(text.New(pricing.FormatCurrency(c.Labor), cell)),
			col.New(2).Add(text.New(pricing.FormatCurrency(c.Total), cell)),
		))
	}

	m.AddRows(row.New(4))
	strong := props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}
	for _, line := range []struct {
		label string
		value float64
	}{
		{"Subtotal", doc.Totals.Subtotal},
		{"Markup", doc.Totals.Markup},
		{"Contract Total", doc.Totals.Total},
	} {
		m.AddRows(row.New(7).Add(
			col.New(8).Add(text.New(line.label, strong)).WithStyle(summaryBg),
			col.New(4).Add(text.New(pricing.FormatCurrency(line.value), strong)).WithStyle(summaryBg),
		))
	}
	m.AddRows(row.New(8))
}

// termsRunesPerLine approximates how many 9pt characters fit across the
// printable width, to size rows for wrapped paragraphs.
const termsRunesPerLine = 105

func addTerms(m core.Maroto, terms string) {
	m.AddRows(row.New(8).Add(
		col.New(12).Add(text.New("Terms and Conditions", props.Text{Size: 11, Style: fontstyle.Bold})),
	))
	body := props.Text{Size: 9, Align: align.Left}
	for _, para := range strings.Split(terms, "\n") {
		para = strings.TrimRight(para, "\r ")
		if para == "" {
			m.AddRows(row.New(3))
			continue
		}
		lines := utf8.RuneCountInString(para)/termsRunesPerLine + 1
		m.AddRows(row.New(float64(lines)*4.5).Add(col.New(12).Add(text.New(para, body))))
	}
	m.AddRows(row.New(10))
}

func signedLine(initials string, at *time.Time) string {
	if at == nil {
		return "Not signed"
	}
	if initials == "" {
		return "Signed " + pricing.FormatDate(*at)
	}
	return fmt.Sprintf("Signed %s by %s", pricing.FormatDate(*at), initials)
}

func addSignatures(m core.Maroto, ct types.Contract) {
	line := props.Text{Size: 8, Align: align.Center, Color: grey}
	label := props.Text{Size: 7, Style: fontstyle.Bold, Align: align.Center, Color: grey}
	m.AddRows(
		row.New(6).Add(
			col.New(6).Add(text.New(signedLine(ct.ClientInitials, ct.ClientSignedAt), line)),
			col.New(6).Add(text.New(signedLine(ct.ContractorInitials, ct.ContractorSignedAt), line)),
		),
		row.New(6).Add(
			col.New(6).Add(text.New("____________________________", line)),
			col.New(6).Add(text.New("____________________________", line)),
		),
		row.New(7).Add(
			col.New(6).Add(text.New("Client Signature", label)),
			col.New(6).Add(text.New("Contractor Signature", label)),
		),
	)
}
