// Package contracts drives contract generation and revision and keeps the
// latest contract per proposal cached for the console.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/types"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

// ErrNoContract is returned when a proposal has no contract yet.
var ErrNoContract = errors.New("proposal has no contract")

// Fetcher reads the latest contract of a proposal.
type Fetcher interface {
	GetProposalContract(ctx context.Context, proposalID string) (*types.Contract, error)
}

type entry struct {
	contract *types.Contract // nil when the proposal has none
}

// Cache holds the latest known contract per proposal. Misses and reloads
// always go to the backend; nothing is stored that the backend did not
// return.
type Cache struct {
	api   Fetcher
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCache creates an empty cache.
func NewCache(api Fetcher) *Cache {
	return &Cache{api: api, entries: make(map[string]entry)}
}

// Get returns the cached contract for a proposal, loading it on a miss.
func (c *Cache) Get(ctx context.Context, proposalID string) (*types.Contract, error) {
	c.mu.RLock()
	e, ok := c.entries[proposalID]
	c.mu.RUnlock()
	if ok {
		return e.get()
	}
	return c.Reload(ctx, proposalID)
}

// Reload fetches the contract for a proposal and replaces the cached entry.
// A fetch failure other than not-found leaves the previous entry in place.
func (c *Cache) Reload(ctx context.Context, proposalID string) (*types.Contract, error) {
	v, err, _ := c.group.Do(proposalID, func() (any, error) {
		ct, err := c.api.GetProposalContract(ctx, proposalID)
		switch {
		case errors.Is(err, bidapi.ErrNotFound):
			ct = nil
		case err != nil:
			slog.Warn("contract reload failed",
				"component", "contracts",
				"action", "reload_failed",
				"proposal_id", proposalID,
				"error", err,
			)
			return entry{}, fmt.Errorf("load contract for proposal %s: %w", proposalID, err)
		}
		e := entry{contract: ct}
		c.mu.Lock()
		c.entries[proposalID] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(entry).get()
}

// Invalidate drops the cached entry for a proposal, or every entry when
// proposalID is empty.
func (c *Cache) Invalidate(proposalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if proposalID == "" {
		c.entries = make(map[string]entry)
		return
	}
	delete(c.entries, proposalID)
}

// Run drops cached entries as contract.changed events arrive until ctx is
// done or the bus closes.
func (c *Cache) Run(ctx context.Context, bus events.Bus) {
	sub := bus.Subscribe(events.KindContractChanged)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			c.Invalidate(e.EntityID)
		}
	}
}

func (e entry) get() (*types.Contract, error) {
	if e.contract == nil {
		return nil, ErrNoContract
	}
	ct := *e.contract
	return &ct, nil
}
