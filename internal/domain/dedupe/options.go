package dedupe

import (
	"time"

	"github.com/okian/starsignal/internal/domain/model"
)

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithActiveKeys installs the pre-loaded set of active keys. The guard never
// writes to it. A nil map still counts as pre-loaded (nothing is active).
func WithActiveKeys(keys map[model.Key]struct{}) Option {
	return func(g *Guard) {
		g.active = keys
		g.preloaded = true
	}
}

// WithLookup sets the per-key fallback used when no set was pre-loaded.
func WithLookup(l Lookup) Option {
	return func(g *Guard) {
		g.lookup = l
	}
}

// WithClock sets the time used for activity checks in the fallback path.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}
