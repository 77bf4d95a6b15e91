package loader

import (
	"context"
	"sync"
)

// Expander tracks the single expanded card on a page. Expanding a card
// fetches its detail.
type Expander struct {
	load func(ctx context.Context, id string)

	mu       sync.Mutex
	expanded string
}

// NewExpander creates an Expander that calls load for each newly expanded id.
func NewExpander(load func(ctx context.Context, id string)) *Expander {
	return &Expander{load: load}
}

// Toggle expands id, collapsing any other card, or collapses id if it is
// already expanded. It reports whether id is expanded afterwards.
func (x *Expander) Toggle(ctx context.Context, id string) bool {
	x.mu.Lock()
	if x.expanded == id {
		x.expanded = ""
		x.mu.Unlock()
		return false
	}
	x.expanded = id
	x.mu.Unlock()

	if x.load != nil {
		x.load(ctx, id)
	}
	return true
}

// Expanded returns the expanded id, or "".
func (x *Expander) Expanded() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.expanded
}

// IsExpanded reports whether id is the expanded card.
func (x *Expander) IsExpanded(id string) bool {
	return id != "" && x.Expanded() == id
}

// Collapse collapses whatever is expanded.
func (x *Expander) Collapse() {
	x.mu.Lock()
	x.expanded = ""
	x.mu.Unlock()
}
