package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/loader"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/pricing"
	"github.com/hyperengineering/bidkit/internal/render"
	"github.com/hyperengineering/bidkit/internal/templatesync"
)

var (
	proposalList proposalListFlags
	exportOutput string
)

type proposalListFlags struct {
	listFlags
	fromTemplate bool
	fromScratch  bool
}

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Inspect and maintain proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals with their totals",
	Args:  cobra.NoArgs,
	RunE:  runProposalsList,
}

var proposalsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a proposal's line items and cost summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsShow,
}

var proposalsSyncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Pull template changes into a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsSync,
}

var proposalsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a proposal as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsExport,
}

func init() {
	addClientFlags(proposalsCmd)

	proposalList.register(proposalsListCmd)
	proposalsListCmd.Flags().BoolVar(&proposalList.fromTemplate, "from-template", false,
		"Only proposals created from a template")
	proposalsListCmd.Flags().BoolVar(&proposalList.fromScratch, "from-scratch", false,
		"Only proposals created from scratch")
	proposalsListCmd.MarkFlagsMutuallyExclusive("from-template", "from-scratch")

	proposalsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"Output file, or - for stdout (default proposal-<id>.xlsx)")

	proposalsCmd.AddCommand(proposalsListCmd)
	proposalsCmd.AddCommand(proposalsShowCmd)
	proposalsCmd.AddCommand(proposalsSyncCmd)
	proposalsCmd.AddCommand(proposalsExportCmd)
}

func (f proposalListFlags) query() (catalog.Query, error) {
	q, err := f.listFlags.query()
	if err != nil {
		return q, err
	}
	switch {
	case f.fromTemplate:
		yes := true
		q.Content.HasTemplate = &yes
	case f.fromScratch:
		no := false
		q.Content.HasTemplate = &no
	}
	return q, nil
}

func runProposalsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	q, err := proposalList.query()
	if err != nil {
		return err
	}
	client, cfg, err := resolveClient()
	if err != nil {
		return err
	}

	l := loader.NewProposalLoader(client, nil, loaderOptions(cfg))
	if err := l.Load(ctx, proposalList.page); err != nil {
		return err
	}
	if err := l.LoadAllDetails(ctx); err != nil {
		return err
	}
	views := catalog.ApplyProposals(l.Views(), q, l.ElementIndex(), timeNow())
	page := l.Page()

	if jsonOutput {
		items := make([]map[string]any, len(views))
		for i, v := range views {
			items[i] = map[string]any{
				"id":            v.ID,
				"name":          v.Name,
				"from_template": v.HasTemplate(),
				"created_at":    v.CreatedAt,
				"totals":        pricing.Aggregate(pricing.FillMissing(v.ElementValues)),
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"proposals": items,
			"total":     page.Total,
			"matched":   len(items),
			"page":      page.Page,
		})
	}

	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No proposals found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tITEMS\tTOTAL\tCREATED")
	for _, v := range views {
		source := "scratch"
		if v.HasTemplate() {
			source = "template"
		}
		t := pricing.Aggregate(pricing.FillMissing(v.ElementValues))
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			v.ID,
			v.Name,
			source,
			len(v.ElementValues),
			pricing.FormatCurrency(t.Total),
			v.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d proposals (page %d)\n", len(views), page.Total, page.Page)
	return nil
}

func runProposalsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	client, cfg, err := resolveClient()
	if err != nil {
		return err
	}
	p, err := client.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	d := loader.NewProposalLoader(client, nil, loaderOptions(cfg)).Details(ctx, id)
	values := pricing.FillMissing(d.ElementValues)
	totals := pricing.Aggregate(values)
	preview := pricing.ApplyGlobalMarkup(totals.Subtotal, p.GlobalMarkupPercentage)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"proposal":              p,
			"variable_values":       d.VariableValues,
			"element_values":        values,
			"totals":                totals,
			"categories":            pricing.ByCategory(values, d.Categories),
			"global_markup_preview": preview,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.ID)
	if p.Description != "" {
		fmt.Fprintln(out, p.Description)
	}
	fmt.Fprintln(out)

	w := newTabWriter(out)
	fmt.Fprintln(w, "CATEGORY\tITEMS\tMATERIAL\tLABOR\tTOTAL")
	for _, c := range pricing.ByCategory(values, d.Categories) {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			orDash(c.Name),
			c.Count,
			pricing.FormatCurrency(c.Material),
			pricing.FormatCurrency(c.Labor),
			pricing.FormatCurrency(c.Total),
		)
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Material:  %s (%s)\n", pricing.FormatCurrency(totals.Material), pricing.FormatPercent(totals.MaterialShare()))
	fmt.Fprintf(out, "Labor:     %s (%s)\n", pricing.FormatCurrency(totals.Labor), pricing.FormatPercent(totals.LaborShare()))
	fmt.Fprintf(out, "Subtotal:  %s\n", pricing.FormatCurrency(totals.Subtotal))
	fmt.Fprintf(out, "Markup:    %s\n", pricing.FormatCurrency(totals.Markup))
	fmt.Fprintf(out, "Total:     %s\n", pricing.FormatCurrency(totals.Total))
	if p.GlobalMarkupPercentage != 0 {
		fmt.Fprintf(out, "With %s global markup: %s\n", pricing.FormatPercent(p.GlobalMarkupPercentage), pricing.FormatCurrency(preview))
	}
	return nil
}

func runProposalsSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := resolveClient()
	if err != nil {
		return err
	}
	p, err := client.GetProposal(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	sum, err := templatesync.New(client, nil).Sync(ctx, *p, notify.Log{})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"proposal_id": p.ID,
			"changed":     sum.Changed(),
			"summary":     sum,
			"message":     sum.String(),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p.Name, sum.String())
	return nil
}

func runProposalsExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	client, cfg, err := resolveClient()
	if err != nil {
		return err
	}
	p, err := client.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	d := loader.NewProposalLoader(client, nil, loaderOptions(cfg)).Details(ctx, id)
	data, err := render.ProposalWorkbook(render.ProposalSheet{
		Proposal:    *p,
		Variables:   d.VariableValues,
		Categories:  d.Categories,
		Values:      d.ElementValues,
		GeneratedAt: timeNow(),
	})
	if err != nil {
		return fmt.Errorf("render workbook: %w", err)
	}

	path := exportOutput
	if path == "" {
		path = fmt.Sprintf("proposal-%s.xlsx", id)
	}
	if err := writeFile(cmd.OutOrStdout(), path, data); err != nil {
		return err
	}
	if path != "-" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}
