// Package dedupe guarantees at most one active early signal per
// (entity, kind) within and across detection runs.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
)

// Deduper decides whether a finding may be emitted.
type Deduper interface {
	// Allow atomically checks the key and records it when it is free.
	// It returns true when the caller may emit a signal for key.
	Allow(ctx context.Context, key model.Key) (bool, error)

	// Release forgets a key recorded by Allow, e.g. when persisting the
	// finding failed and it should be retried by a later run.
	Release(ctx context.Context, key model.Key)

	// Size returns the number of keys recorded during this run.
	Size() int64
}

// Lookup answers whether an active signal already exists in storage.
type Lookup interface {
	HasActiveEarlySignal(ctx context.Context, entityID int64, kind model.Kind, now time.Time) (bool, error)
}

// Guard implements Deduper over a pre-loaded active key set, falling back
// to a per-key Lookup when no set was loaded.
type Guard struct {
	mu        sync.Mutex
	active    map[model.Key]struct{} // read-only after construction
	preloaded bool
	recorded  map[model.Key]struct{}
	lookup    Lookup
	now       func() time.Time
	size      atomic.Int64
}

var _ Deduper = (*Guard)(nil)

// New creates a guard. Without WithActiveKeys or WithLookup every key is
// free until recorded.
func New(opts ...Option) *Guard {
	g := &Guard{
		recorded: make(map[model.Key]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow atomically checks key and records it if it is free.
func (g *Guard) Allow(ctx context.Context, key model.Key) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.recorded[key]; ok {
		return false, nil
	}

	switch {
	case g.preloaded:
		if _, ok := g.active[key]; ok {
			return false, nil
		}
	case g.lookup != nil:
		exists, err := g.lookup.HasActiveEarlySignal(ctx, key.EntityID, key.Kind, g.now())
		if err != nil {
			return false, fmt.Errorf("active lookup for entity %d kind %s: %w", key.EntityID, key.Kind, err)
		}
		if exists {
			return false, nil
		}
	}

	g.recorded[key] = struct{}{}
	g.size.Add(1)
	return true, nil
}

// Release forgets a key recorded during this run.
func (g *Guard) Release(ctx context.Context, key model.Key) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.recorded[key]; ok {
		delete(g.recorded, key)
		g.size.Add(-1)
	}
}

// Size returns the number of keys recorded during this run.
func (g *Guard) Size() int64 {
	return g.size.Load()
}
