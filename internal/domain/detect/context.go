// Package detect holds the anomaly detectors that turn stored metrics,
// snapshots and mentions into early signals.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/internal/domain/percentile"
)

// SeriesSource reads the recent snapshot series of one entity, newest first.
type SeriesSource interface {
	RecentSnapshots(ctx context.Context, entityID int64, limit int) ([]model.Snapshot, error)
}

// Context is the read-only view detectors evaluate against. It is built
// once per run and shared by all workers.
type Context struct {
	Now        time.Time
	Latest     map[int64]model.Snapshot
	Signals    map[int64]map[model.SignalType]float64
	Percentile *percentile.Index
	Mentions   map[int64][]model.Mention // highest score first
	Series     SeriesSource
}

// Signal returns a stored metric value of an entity.
func (dc *Context) Signal(entityID int64, t model.SignalType) (float64, bool) {
	v, ok := dc.Signals[entityID][t]
	return v, ok
}

// LatestSnapshot returns the newest snapshot of an entity.
func (dc *Context) LatestSnapshot(entityID int64) (model.Snapshot, bool) {
	s, ok := dc.Latest[entityID]
	return s, ok
}

// starCount returns the latest star count, or nil when unknown or zero.
func (dc *Context) starCount(entityID int64) *int64 {
	if s, ok := dc.Latest[entityID]; ok && s.Stars > 0 {
		return model.Int64(s.Stars)
	}
	return nil
}

// GroupMentions indexes mentions by entity with the highest score first.
func GroupMentions(mentions []model.Mention) map[int64][]model.Mention {
	out := make(map[int64][]model.Mention)
	for _, m := range mentions {
		out[m.EntityID] = append(out[m.EntityID], m)
	}
	for _, ms := range out {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Score > ms[j].Score })
	}
	return out
}
