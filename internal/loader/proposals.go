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

// ProposalAPI is the subset of the backend client the proposal loader uses.
type ProposalAPI interface {
	ListProposals(ctx context.Context, opts bidapi.ListOptions) (types.Page[types.Proposal], error)
	ListVariableValues(ctx context.Context, id string) ([]types.VariableValue, error)
	ListElementValues(ctx context.Context, id string) ([]types.ElementValue, error)
	ListProposalCategories(ctx context.Context, id string) ([]types.Category, error)
	DeleteProposal(ctx context.Context, id string) error
}

// ProposalDetail is the lazily fetched part of a proposal.
type ProposalDetail struct {
	VariableValues []types.VariableValue
	ElementValues  []types.ElementValue
	Categories     []types.Category
}

// ProposalLoader holds the proposals page the console is showing.
type ProposalLoader struct {
	api  ProposalAPI
	bus  events.Bus
	opts Options

	mu      sync.RWMutex
	page    types.Page[types.Proposal]
	current int
	err     error

	details *details[ProposalDetail]
}

// NewProposalLoader creates a loader. bus may be nil.
func NewProposalLoader(api ProposalAPI, bus events.Bus, opts Options) *ProposalLoader {
	l := &ProposalLoader{api: api, bus: bus, opts: opts, current: 1}
	l.details = newDetails(l.fetchDetail)
	return l
}

// Load fetches one page of proposals. On failure the previous page is kept,
// the error is recorded for Err and returned.
func (l *ProposalLoader) Load(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	p, err := l.api.ListProposals(ctx, bidapi.ListOptions{Page: page, PageSize: l.opts.PageSize})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = page
	if err != nil {
		l.err = fmt.Errorf("load proposals: %w", err)
		slog.Error("proposal list failed",
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
func (l *ProposalLoader) Reload(ctx context.Context) error {
	l.mu.RLock()
	page := l.current
	l.mu.RUnlock()
	return l.Load(ctx, page)
}

// Err returns the error of the last list fetch, or nil.
func (l *ProposalLoader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Page returns the last successfully fetched page.
func (l *ProposalLoader) Page() types.Page[types.Proposal] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.page
}

// fetchDetail loads the three value collections of a proposal in parallel.
func (l *ProposalLoader) fetchDetail(ctx context.Context, id string) ProposalDetail {
	d := ProposalDetail{
		VariableValues: []types.VariableValue{},
		ElementValues:  []types.ElementValue{},
		Categories:     []types.Category{},
	}

	var g errgroup.Group
	g.Go(func() error {
		if v, err := l.api.ListVariableValues(ctx, id); err != nil {
			logDetailFailure("proposal", id, "variable_values", err)
		} else {
			d.VariableValues = orEmpty(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, err := l.api.ListElementValues(ctx, id); err != nil {
			logDetailFailure("proposal", id, "element_values", err)
		} else {
			d.ElementValues = orEmpty(v)
		}
		return nil
	})
	g.Go(func() error {
		if v, err := l.api.ListProposalCategories(ctx, id); err != nil {
			logDetailFailure("proposal", id, "categories", err)
		} else {
			d.Categories = orEmpty(v)
		}
		return nil
	})
	_ = g.Wait()
	return d
}

// Details returns the detail for one proposal, fetching it on first use.
func (l *ProposalLoader) Details(ctx context.Context, id string) ProposalDetail {
	return l.details.get(ctx, id)
}

// LoadAllDetails fetches detail for every proposal on the current page with
// bounded parallelism.
func (l *ProposalLoader) LoadAllDetails(ctx context.Context) error {
	items := l.Page().Items
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.concurrency())
	for _, p := range items {
		id := p.ID
		g.Go(func() error {
			l.details.get(ctx, id)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Delete deletes a proposal, drops it from the page, refetches the list and
// announces the change.
func (l *ProposalLoader) Delete(ctx context.Context, id string) error {
	if err := l.api.DeleteProposal(ctx, id); err != nil {
		return fmt.Errorf("delete proposal %s: %w", id, err)
	}

	l.mu.Lock()
	l.page.Items = removeByID(l.page.Items, id, func(p types.Proposal) string { return p.ID })
	if l.page.Total > 0 {
		l.page.Total--
	}
	l.mu.Unlock()
	l.details.forget(id)

	publish(ctx, l.bus, events.ProposalsChanged(id))
	_ = l.Reload(ctx)
	return nil
}

// Views joins the current page with loaded detail.
func (l *ProposalLoader) Views() []catalog.ProposalView {
	items := l.Page().Items
	views := make([]catalog.ProposalView, 0, len(items))
	for _, p := range items {
		v := catalog.ProposalView{Proposal: p}
		if d, ok := l.details.peek(p.ID); ok {
			v.VariableValues = d.VariableValues
			v.ElementValues = d.ElementValues
			v.Categories = d.Categories
		}
		views = append(views, v)
	}
	return views
}

// ElementIndex maps each loaded proposal category to its element names.
func (l *ProposalLoader) ElementIndex() catalog.ElementIndex {
	idx := catalog.ElementIndex{}
	for _, p := range l.Page().Items {
		if d, ok := l.details.peek(p.ID); ok {
			indexCategories(idx, d.Categories)
		}
	}
	return idx
}

// Invalidate drops loaded detail for id, or for every proposal when id is
// empty.
func (l *ProposalLoader) Invalidate(id string) {
	if id == "" {
		l.details.reset()
		return
	}
	l.details.forget(id)
}

// Run drops detail as proposals.changed events arrive until ctx is done.
// A template change can alter every derived proposal, so templates.changed
// drops all proposal detail.
func (l *ProposalLoader) Run(ctx context.Context) {
	if l.bus == nil {
		return
	}
	sub := l.bus.Subscribe(events.KindProposalsChanged, events.KindTemplatesChanged)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if e.Kind == events.KindTemplatesChanged {
				l.Invalidate("")
				continue
			}
			l.Invalidate(e.EntityID)
		}
	}
}
