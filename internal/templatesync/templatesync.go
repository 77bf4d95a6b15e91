// Package templatesync reconciles proposals with their templates. The diff
// is computed by the backend; this package decides when to ask for it and
// how to report the outcome.
package templatesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/notify"
	"github.com/hyperengineering/bidkit/internal/types"
)

// ErrNoTemplate is returned when syncing a proposal created from scratch.
var ErrNoTemplate = errors.New("proposal has no template")

// API is the backend call the syncer needs.
type API interface {
	SyncWithTemplate(ctx context.Context, proposalID string) (*types.SyncResult, error)
}

// Summary counts what a sync changed.
type Summary struct {
	AddedVariables   int `json:"added_variables"`
	UpdatedVariables int `json:"updated_variables"`
	AddedElements    int `json:"added_elements"`
}

// Summarize counts the entries of r.
func Summarize(r types.SyncResult) Summary {
	return Summary{
		AddedVariables:   len(r.AddedVariables),
		UpdatedVariables: len(r.UpdatedVariables),
		AddedElements:    len(r.AddedElements),
	}
}

// Changed reports whether anything changed.
func (s Summary) Changed() bool {
	return s.AddedVariables+s.UpdatedVariables+s.AddedElements > 0
}

// String renders the summary for a notice.
func (s Summary) String() string {
	if !s.Changed() {
		return "Already up to date"
	}
	var parts []string
	add := func(n int, noun, verb string) {
		if n == 0 {
			return
		}
		if n != 1 {
			noun += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s %s", n, noun, verb))
	}
	add(s.AddedVariables, "variable", "added")
	add(s.UpdatedVariables, "variable", "updated")
	add(s.AddedElements, "element", "added")
	return strings.Join(parts, ", ")
}

// Syncer triggers template syncs. Mount syncs run once per proposal for the
// lifetime of the Syncer; explicit syncs always run.
type Syncer struct {
	api   API
	bus   events.Bus
	group singleflight.Group

	mu     sync.Mutex
	synced map[string]struct{}
}

// New creates a Syncer. bus may be nil.
func New(api API, bus events.Bus) *Syncer {
	return &Syncer{api: api, bus: bus, synced: make(map[string]struct{})}
}

func (s *Syncer) mounted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.synced[id]
	return ok
}

func (s *Syncer) markMounted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[id] = struct{}{}
}

// Forget lets the next mount of proposalID sync again.
func (s *Syncer) Forget(proposalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.synced, proposalID)
}

// call runs one sync per proposal at a time; concurrent callers share it.
func (s *Syncer) call(ctx context.Context, proposalID string) (Summary, error) {
	v, err, _ := s.group.Do(proposalID, func() (any, error) {
		res, err := s.api.SyncWithTemplate(ctx, proposalID)
		if err != nil {
			return Summary{}, err
		}
		if res == nil {
			res = &types.SyncResult{}
		}
		sum := Summarize(*res)
		if sum.Changed() && s.bus != nil {
			if err := s.bus.Publish(ctx, events.ProposalsChanged(proposalID)); err != nil {
				slog.Warn("event publish failed",
					"component", "templatesync",
					"proposal_id", proposalID,
					"error", err,
				)
			}
		}
		return sum, nil
	})
	return v.(Summary), err
}

// OnMount syncs a proposal the first time it is opened. It does nothing for
// proposals without a template or already synced, never notifies the user,
// and only logs failures. A failed sync is retried on the next mount. The
// boolean reports whether a sync ran successfully.
func (s *Syncer) OnMount(ctx context.Context, p types.Proposal) (Summary, bool) {
	if !p.HasTemplate() || s.mounted(p.ID) {
		return Summary{}, false
	}
	sum, err := s.call(ctx, p.ID)
	if err != nil {
		slog.Warn("silent template sync failed",
			"component", "templatesync",
			"action", "mount_sync_failed",
			"proposal_id", p.ID,
			"template_id", *p.TemplateID,
			"error", err,
		)
		return Summary{}, false
	}
	s.markMounted(p.ID)
	if sum.Changed() {
		slog.Info("template sync applied changes",
			"component", "templatesync",
			"action", "mount_sync",
			"proposal_id", p.ID,
			"summary", sum.String(),
		)
	}
	return sum, true
}

// Sync runs a user-requested sync and reports the result through n.
func (s *Syncer) Sync(ctx context.Context, p types.Proposal, n notify.Notifier) (Summary, error) {
	n = notify.OrDiscard(n)
	if !p.HasTemplate() {
		n.Notify(notify.Error, "This proposal was not created from a template")
		return Summary{}, ErrNoTemplate
	}

	sum, err := s.call(ctx, p.ID)
	if err != nil {
		n.Notify(notify.Error, "Failed to sync with template")
		return Summary{}, fmt.Errorf("sync proposal %s: %w", p.ID, err)
	}
	n.Notify(notify.Success, sum.String())
	return sum, nil
}
