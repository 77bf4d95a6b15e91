package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

// TemplateAPI is the subset of the backend client the template loader uses.
type TemplateAPI interface {
	ListTemplates(ctx context.Context, opts bidapi.ListOptions) (types.Page[types.Template], error)
	ListTemplateVariables(ctx context.Context, id string) ([]types.Variable, error)
	ListTemplateCategories(ctx context.Context, id string) ([]types.Category, error)
	ListCategoryElements(ctx context.Context, id string) ([]types.Element, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// Options tunes a loader.
type Options struct {
	PageSize    int
	Concurrency int
}

func (o Options) concurrency() int {
	if o.Concurrency < 1 {
		return 4
	}
	return o.Concurrency
}

// TemplateDetail is the lazily fetched part of a template.
type TemplateDetail struct {
	Variables  []types.Variable
	Categories []types.Category
}

// TemplateLoader holds the templates page the console is showing.
type TemplateLoader struct {
	api  TemplateAPI
	bus  events.Bus
	opts Options

	mu      sync.RWMutex
	page    types.Page[types.Template]
	current int
	err     error

	details *details[TemplateDetail]
}

// NewTemplateLoader creates a loader. bus may be nil.
func NewTemplateLoader(api TemplateAPI, bus events.Bus, opts Options) *TemplateLoader {
	l := &TemplateLoader{api: api, bus: bus, opts: opts, current: 1}
	l.details = newDetails(l.fetchDetail)
	return l
}

// Load fetches one page of templates. On failure the previous page is kept,
// the error is recorded for Err and returned.
func (l *TemplateLoader) Load(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	p, err := l.api.ListTemplates(ctx, bidapi.ListOptions{Page: page, PageSize: l.opts.PageSize})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = page
	if err != nil {
		l.err = fmt.Errorf("load templates: %w", err)
		slog.Error("template list failed",
			"component", "loader",
			"action", "list_failed",
			"page", page,
			"error", err,
		)
		return l.err
	}
	l.page = p
	l.err = nil
	return nil
}

// Reload fetches the current page again.
func (l *TemplateLoader) Reload(ctx context.Context) error {
	l.mu.RLock()
	page := l.current
	l.mu.RUnlock()
	return l.Load(ctx, page)
}

// Err returns the error of the last list fetch, or nil.
func (l *TemplateLoader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Page returns the last successfully fetched page.
func (l *TemplateLoader) Page() types.Page[types.Template] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.page
}

func (l *TemplateLoader) fetchDetail(ctx context.Context, id string) TemplateDetail {
	d := TemplateDetail{Variables: []types.Variable{}, Categories: []types.Category{}}

	var g errgroup.Group
	g.Go(func() error {
		vars, err := l.api.ListTemplateVariables(ctx, id)
		if err != nil {
			logDetailFailure("template", id, "variables", err)
			return nil
		}
		d.Variables = orEmpty(vars)
		return nil
	})
	g.Go(func() error {
		cats, err := l.api.ListTemplateCategories(ctx, id)
		if err != nil {
			logDetailFailure("template", id, "categories", err)
			return nil
		}
		d.Categories = orEmpty(cats)
		return nil
	})
	_ = g.Wait()

	l.fillElements(ctx, d.Categories)
	return d
}

// fillElements fetches elements for categories that arrived without them.
func (l *TemplateLoader) fillElements(ctx context.Context, cats []types.Category) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.concurrency())
	for i := range cats {
		if cats[i].Elements != nil {
			continue
		}
		g.Go(func() error {
			elems, err := l.api.ListCategoryElements(ctx, cats[i].ID)
			if err != nil {
				logDetailFailure("category", cats[i].ID, "elements", err)
				elems = []types.Element{}
			}
			cats[i].Elements = orEmpty(elems)
			return nil
		})
	}
	_ = g.Wait()
}

// Details returns the detail for one template, fetching it on first use.
func (l *TemplateLoader) Details(ctx context.Context, id string) TemplateDetail {
	return l.details.get(ctx, id)
}

// LoadAllDetails fetches detail for every template on the current page with
// bounded parallelism.
func (l *TemplateLoader) LoadAllDetails(ctx context.Context) error {
	items := l.Page().Items
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.concurrency())
	for _, t := range items {
		id := t.ID
		g.Go(func() error {
			l.details.get(ctx, id)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Delete deletes a template, drops it from the page, refetches the list and
// announces the change. The backend DELETE must succeed first.
func (l *TemplateLoader) Delete(ctx context.Context, id string) error {
	if err := l.api.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}

	l.mu.Lock()
	l.page.Items = removeByID(l.page.Items, id, func(t types.Template) string { return t.ID })
	if l.page.Total > 0 {
		l.page.Total--
	}
	l.mu.Unlock()
	l.details.forget(id)

	publish(ctx, l.bus, events.TemplatesChanged(id))

	// The local removal stands even if the refetch fails; Err reports it.
	_ = l.Reload(ctx)
	return nil
}

// Views joins the current page with loaded detail.
func (l *TemplateLoader) Views() []catalog.TemplateView {
	items := l.Page().Items
	views := make([]catalog.TemplateView, 0, len(items))
	for _, t := range items {
		v := catalog.TemplateView{Template: t}
		if d, ok := l.details.peek(t.ID); ok {
			v.Variables = d.Variables
			v.Categories = d.Categories
		}
		views = append(views, v)
	}
	return views
}

// ElementIndex maps each loaded category to its element names.
func (l *TemplateLoader) ElementIndex() catalog.ElementIndex {
	idx := catalog.ElementIndex{}
	for _, t := range l.Page().Items {
		d, ok := l.details.peek(t.ID)
		if !ok {
			continue
		}
		indexCategories(idx, d.Categories)
	}
	return idx
}

// Invalidate drops loaded detail for id, or for every template when id is
// empty.
func (l *TemplateLoader) Invalidate(id string) {
	if id == "" {
		l.details.reset()
		return
	}
	l.details.forget(id)
}

// Run drops detail as templates.changed events arrive until ctx is done.
func (l *TemplateLoader) Run(ctx context.Context) {
	if l.bus == nil {
		return
	}
	watch(ctx, l.bus, events.KindTemplatesChanged, "template-loader", l.Invalidate)
}
