// Package loader fetches template and proposal collections for the console
// and lazily fills in per-entity detail.
//
// List failures are page-level errors the caller can retry. Detail failures
// are logged and stored as empty detail, since a brand-new entity with no
// detail yet is indistinguishable from one whose detail could not load.
package loader

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/bidkit/internal/catalog"
	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/internal/types"
)

// details memoizes one detail record per entity id. Concurrent requests for
// the same id share a single fetch.
type details[D any] struct {
	group singleflight.Group
	fetch func(ctx context.Context, id string) D

	mu   sync.Mutex
	gen  uint64
	done map[string]D
}

func newDetails[D any](fetch func(ctx context.Context, id string) D) *details[D] {
	return &details[D]{fetch: fetch, done: make(map[string]D)}
}

func (d *details[D]) get(ctx context.Context, id string) D {
	d.mu.Lock()
	if v, ok := d.done[id]; ok {
		d.mu.Unlock()
		return v
	}
	gen := d.gen
	d.mu.Unlock()

	// The generation is part of the key so callers arriving after a reset
	// never join a fetch that started before it.
	key := strconv.FormatUint(gen, 10) + "/" + id
	v, _, _ := d.group.Do(key, func() (any, error) {
		d.mu.Lock()
		if v, ok := d.done[id]; ok && d.gen == gen {
			d.mu.Unlock()
			return v, nil
		}
		d.mu.Unlock()

		r := d.fetch(ctx, id)
		d.mu.Lock()
		// A cancelled caller got partial detail; leave it for the next one.
		if d.gen == gen && ctx.Err() == nil {
			d.done[id] = r
		}
		d.mu.Unlock()
		return r, nil
	})
	return v.(D)
}

func (d *details[D]) peek(id string) (D, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.done[id]
	return v, ok
}

func (d *details[D]) loaded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.done)
}

func (d *details[D]) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.done, id)
}

func (d *details[D]) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.done = make(map[string]D)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func removeByID[T any](items []T, id string, idOf func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if idOf(it) != id {
			out = append(out, it)
		}
	}
	return out
}

func indexCategories(idx catalog.ElementIndex, cats []types.Category) {
	for _, c := range cats {
		names := make([]string, 0, len(c.Elements))
		for _, e := range c.Elements {
			names = append(names, e.Name)
		}
		idx[c.ID] = names
	}
}

func logDetailFailure(entity, id, part string, err error) {
	slog.Warn("detail fetch failed, treating as empty",
		"component", "loader",
		"action", "detail_failed",
		"entity", entity,
		"entity_id", id,
		"part", part,
		"error", err,
	)
}

func publish(ctx context.Context, bus events.Bus, e events.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed",
			"component", "loader",
			"kind", string(e.Kind),
			"error", err,
		)
	}
}

func watch(ctx context.Context, bus events.Bus, kind events.Kind, name string, invalidate func(id string)) {
	sub := bus.Subscribe(kind)
	defer sub.Close()
	slog.Debug("invalidation watcher started", "component", "loader", "watcher", name)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			invalidate(e.EntityID)
		}
	}
}
