package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/loader"
)

// listFlags are shared by the templates and proposals list commands.
type listFlags struct {
	page   int
	search string
	sort   string
	dir    string
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.page, "page", 1, "Page to fetch")
	cmd.Flags().StringVarP(&f.search, "search", "q", "", "Search names, descriptions, variables, categories and elements")
	cmd.Flags().StringVar(&f.sort, "sort", "", "Sort key: name or created_at")
	cmd.Flags().StringVar(&f.dir, "dir", "", "Sort direction: asc or desc")
}

func (f *listFlags) query() (catalog.Query, error) {
	q := catalog.DefaultQuery()
	key, dir, err := catalog.ParseSort(f.sort, f.dir)
	if err != nil {
		return q, err
	}
	q.Search = f.search
	q.SortKey, q.Direction = key, dir
	return q, nil
}

var templateList listFlags

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect proposal templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplatesList,
}

func init() {
	addClientFlags(templatesCmd)
	templateList.register(templatesListCmd)
	templatesCmd.AddCommand(templatesListCmd)
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	q, err := templateList.query()
	if err != nil {
		return err
	}
	client, cfg, err := resolveClient()
	if err != nil {
		return err
	}

	l := loader.NewTemplateLoader(client, nil, loaderOptions(cfg))
	if err := l.Load(ctx, templateList.page); err != nil {
		return err
	}
	// Variables, categories and elements are only searchable once loaded.
	if err := l.LoadAllDetails(ctx); err != nil {
		return err
	}
	views := catalog.ApplyTemplates(l.Views(), q, l.ElementIndex(), timeNow())
	page := l.Page()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"templates": views,
			"total":     page.Total,
			"matched":   len(views),
			"page":      page.Page,
		})
	}

	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tVARIABLES\tCATEGORIES\tCREATED")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			v.ID,
			v.Name,
			len(v.Variables),
			len(v.Categories),
			v.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d templates (page %d)\n", len(views), page.Total, page.Page)
	return nil
}
