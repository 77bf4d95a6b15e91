// Package events carries change notifications between console components
// and across processes.
//
// Every bus fans published events out to local subscribers through a hub.
// Subscribers that fall behind lose events rather than block publishers;
// consumers treat any event as "refetch", so a dropped event only delays a
// refresh until the next one.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind names what changed.
type Kind string

const (
	KindTemplatesChanged Kind = "templates.changed"
	KindProposalsChanged Kind = "proposals.changed"
	KindContractChanged  Kind = "contract.changed"
	KindRouteChanged     Kind = "route.changed"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Event is one notification. EntityID is the template, proposal or contract
// id the change concerns; Path and Name are set for route changes.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	EntityID string    `json:"entity_id,omitempty"`
	Path     string    `json:"path,omitempty"`
	Name     string    `json:"name,omitempty"`
	At       time.Time `json:"at"`
}

func newEvent(kind Kind, entityID string) Event {
	return Event{
		ID:       ulid.Make().String(),
		Kind:     kind,
		EntityID: entityID,
		At:       time.Now().UTC(),
	}
}

// TemplatesChanged reports that template data changed. id may be empty when
// the whole collection should be refetched.
func TemplatesChanged(id string) Event { return newEvent(KindTemplatesChanged, id) }

// ProposalsChanged reports that proposal data changed.
func ProposalsChanged(id string) Event { return newEvent(KindProposalsChanged, id) }

// ContractChanged reports that the contract of a proposal changed.
func ContractChanged(proposalID string) Event { return newEvent(KindContractChanged, proposalID) }

// RouteChanged reports navigation to path; name is the proposal or template
// being opened, if any.
func RouteChanged(path, name string) Event {
	e := newEvent(KindRouteChanged, "")
	e.Path = path
	e.Name = name
	return e
}

// Bus publishes events and delivers them to subscribers.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(kinds ...Kind) *Subscription
	// LastRefresh is the time of the most recent templates.changed event
	// seen by this bus, or zero.
	LastRefresh() time.Time
	Close() error
}

// Subscription receives events on C until Close is called or the bus closes.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	kinds map[Kind]bool
	hub   *hub
	once  sync.Once
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// hub is the local fan-out shared by every Bus implementation.
type hub struct {
	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	buffer      int
	closed      bool
	lastRefresh time.Time
	name        string
}

func newHub(name string, buffer int) *hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &hub{subs: make(map[*Subscription]struct{}), buffer: buffer, name: name}
}

func (h *hub) subscribe(kinds ...Kind) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

func (h *hub) dispatch(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if e.Kind == KindTemplatesChanged && e.At.After(h.lastRefresh) {
		h.lastRefresh = e.At
	}
	for s := range h.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slog.Warn("event dropped for slow subscriber",
				"component", "events",
				"bus", h.name,
				"kind", string(e.Kind),
				"event_id", e.ID,
			)
		}
	}
}

func (h *hub) noteRefresh(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if at.After(h.lastRefresh) {
		h.lastRefresh = at
	}
}

func (h *hub) last() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRefresh
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.once.Do(func() { close(s.ch) })
	}
	h.subs = nil
}

// MemoryBus delivers events within one process.
type MemoryBus struct {
	hub *hub
}

// NewMemoryBus creates an in-process bus with the given per-subscriber buffer.
func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{hub: newHub("memory", buffer)}
}

// Publish delivers e to current subscribers.
func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	if b.hub.isClosed() {
		return ErrClosed
	}
	b.hub.dispatch(e)
	return nil
}

// Subscribe returns a subscription for the given kinds, or all kinds.
func (b *MemoryBus) Subscribe(kinds ...Kind) *Subscription { return b.hub.subscribe(kinds...) }

// LastRefresh implements Bus.
func (b *MemoryBus) LastRefresh() time.Time { return b.hub.last() }

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.hub.close()
	return nil
}
