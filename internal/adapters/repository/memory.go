package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/okian/starsignal/pkg/metrics"
)

// MemoryStore is a mutex-guarded, in-process Store.
//
// Every write takes the exclusive lock, which makes upserts atomic with
// respect to concurrent callers (single-writer semantics).
type MemoryStore struct {
	mu sync.RWMutex

	nextEntityID int64
	nextSignalID int64
	entities     map[int64]model.Entity
	names        map[string]int64
	snapshots    map[int64][]model.Snapshot // ascending by Date
	signals      map[int64]map[model.SignalType]model.Signal
	early        map[int64]model.EarlySignal
	mentions     []model.Mention
	closed       bool

	logger logger.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		entities:  make(map[int64]model.Entity),
		names:     make(map[string]int64),
		snapshots: make(map[int64][]model.Snapshot),
		signals:   make(map[int64]map[model.SignalType]model.Signal),
		early:     make(map[int64]model.EarlySignal),
		logger:    o.logger,
	}
}

func observe(op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && *err != nil {
		metrics.RecordStoreError(op)
	}
}

// AddEntity registers a tracked repository; names are unique.
func (s *MemoryStore) AddEntity(ctx context.Context, fullName string) (model.Entity, error) {
	name := strings.TrimSpace(fullName)
	if name == "" {
		return model.Entity{}, fmt.Errorf("%w: empty name", ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Entity{}, ErrClosed
	}
	if id, ok := s.names[name]; ok {
		return s.entities[id], nil
	}
	s.nextEntityID++
	e := model.Entity{ID: s.nextEntityID, FullName: name}
	s.entities[e.ID] = e
	s.names[name] = e.ID
	return e, nil
}

// ListEntities returns all tracked entities ordered by id.
func (s *MemoryStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddSnapshot creates or replaces the snapshot of (entity, day).
func (s *MemoryStore) AddSnapshot(ctx context.Context, snap model.Snapshot) (err error) {
	defer observe("add_snapshot", time.Now(), &err)
	if snap.EntityID <= 0 || snap.Stars < 0 {
		return fmt.Errorf("%w: entity=%d stars=%d", ErrInvalidSnapshot, snap.EntityID, snap.Stars)
	}
	snap.Date = model.Day(snap.Date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.entities[snap.EntityID]; !ok {
		return fmt.Errorf("entity %d: %w", snap.EntityID, ErrNotFound)
	}

	series := s.snapshots[snap.EntityID]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(snap.Date) })
	if i < len(series) && series[i].Date.Equal(snap.Date) {
		series[i] = snap
		return nil
	}
	series = append(series, model.Snapshot{})
	copy(series[i+1:], series[i:])
	series[i] = snap
	s.snapshots[snap.EntityID] = series
	return nil
}

// LatestSnapshot returns the most recent snapshot of an entity, or nil.
func (s *MemoryStore) LatestSnapshot(ctx context.Context, entityID int64) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[entityID]
	if len(series) == 0 {
		return nil, nil
	}
	snap := series[len(series)-1]
	return &snap, nil
}

// SnapshotNear returns the snapshot at day, or the nearest earlier one.
func (s *MemoryStore) SnapshotNear(ctx context.Context, entityID int64, day time.Time) (*model.Snapshot, error) {
	day = model.Day(day)

	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[entityID]
	// first index strictly after day
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(day) })
	if i == 0 {
		return nil, nil
	}
	snap := series[i-1]
	return &snap, nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *MemoryStore) RecentSnapshots(ctx context.Context, entityID int64, limit int) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[entityID]
	if limit <= 0 || limit > len(series) {
		limit = len(series)
	}
	out := make([]model.Snapshot, 0, limit)
	for i := len(series) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, series[i])
	}
	return out, nil
}

// LatestSnapshots bulk-loads the newest snapshot per entity.
func (s *MemoryStore) LatestSnapshots(ctx context.Context, ids []int64) (map[int64]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]model.Snapshot)
	collect := func(id int64) {
		if series := s.snapshots[id]; len(series) > 0 {
			out[id] = series[len(series)-1]
		}
	}
	if ids == nil {
		for id := range s.snapshots {
			collect(id)
		}
		return out, nil
	}
	for _, id := range ids {
		collect(id)
	}
	return out, nil
}

// UpsertSignals creates or replaces the (entity, type) rows under one lock.
func (s *MemoryStore) UpsertSignals(ctx context.Context, entityID int64, signals []model.Signal) (err error) {
	defer observe("upsert_signals", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	row := s.signals[entityID]
	if row == nil {
		row = make(map[model.SignalType]model.Signal, len(signals))
		s.signals[entityID] = row
	}
	for _, sig := range signals {
		sig.EntityID = entityID
		row[sig.Type] = sig
	}
	return nil
}

// SignalValue returns the stored value of one metric, or nil.
func (s *MemoryStore) SignalValue(ctx context.Context, entityID int64, signalType model.SignalType) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signals[entityID][signalType]
	if !ok {
		return nil, nil
	}
	v := sig.Value
	return &v, nil
}

// SignalMap bulk-loads all stored metric values.
func (s *MemoryStore) SignalMap(ctx context.Context, ids []int64) (map[int64]map[model.SignalType]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]map[model.SignalType]float64)
	collect := func(id int64) {
		row, ok := s.signals[id]
		if !ok {
			return
		}
		vals := make(map[model.SignalType]float64, len(row))
		for t, sig := range row {
			vals[t] = sig.Value
		}
		out[id] = vals
	}
	if ids == nil {
		for id := range s.signals {
			collect(id)
		}
		return out, nil
	}
	for _, id := range ids {
		collect(id)
	}
	return out, nil
}

// SignalCount returns the number of stored (entity, type) rows.
func (s *MemoryStore) SignalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.signals {
		n += len(row)
	}
	return n
}

// VelocityValues returns every stored velocity value sorted ascending.
func (s *MemoryStore) VelocityValues(ctx context.Context) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]float64, 0, len(s.signals))
	for _, row := range s.signals {
		if sig, ok := row[model.SignalVelocity]; ok {
			out = append(out, sig.Value)
		}
	}
	sort.Float64s(out)
	return out, nil
}

// ActiveEarlySignalKeys returns the keys of all active early signals.
func (s *MemoryStore) ActiveEarlySignalKeys(ctx context.Context, now time.Time) (map[model.Key]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Key]struct{})
	for _, sig := range s.early {
		if sig.IsActive(now) {
			out[sig.Key()] = struct{}{}
		}
	}
	return out, nil
}

// HasActiveEarlySignal reports whether an active signal exists for (entity, kind).
func (s *MemoryStore) HasActiveEarlySignal(ctx context.Context, entityID int64, kind model.Kind, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sig := range s.early {
		if sig.EntityID == entityID && sig.Kind == kind && sig.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

// InsertEarlySignals stores all signals or none.
func (s *MemoryStore) InsertEarlySignals(ctx context.Context, signals []model.EarlySignal) (_ []model.EarlySignal, err error) {
	defer observe("insert_early_signals", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, sig := range signals {
		if _, ok := s.entities[sig.EntityID]; !ok {
			return nil, fmt.Errorf("entity %d: %w", sig.EntityID, ErrNotFound)
		}
	}

	out := make([]model.EarlySignal, len(signals))
	for i, sig := range signals {
		s.nextSignalID++
		sig.ID = s.nextSignalID
		s.early[sig.ID] = sig
		out[i] = sig
	}
	return out, nil
}

// GetEarlySignal returns a signal by id regardless of its state.
func (s *MemoryStore) GetEarlySignal(ctx context.Context, id int64) (model.EarlySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.early[id]
	if !ok {
		return model.EarlySignal{}, fmt.Errorf("early signal %d: %w", id, ErrNotFound)
	}
	return sig, nil
}

// ListEarlySignals lists signals ordered by severity desc, then detected_at desc.
func (s *MemoryStore) ListEarlySignals(ctx context.Context, f ListFilter) ([]model.EarlySignal, error) {
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.RLock()
	out := make([]model.EarlySignal, 0)
	for _, sig := range s.early {
		if matches(&sig, &f, now) {
			out = append(out, sig)
		}
	}
	s.mu.RUnlock()

	sortEarlySignals(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(sig *model.EarlySignal, f *ListFilter, now time.Time) bool {
	switch {
	case f.EntityID != 0 && sig.EntityID != f.EntityID:
		return false
	case f.Kind != "" && sig.Kind != f.Kind:
		return false
	case f.Severity != "" && sig.Severity != f.Severity:
		return false
	case !f.IncludeAcknowledged && sig.Acknowledged:
		return false
	case !f.IncludeExpired && !sig.ExpiresAt.After(now):
		return false
	}
	return true
}

func sortEarlySignals(sigs []model.EarlySignal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		wi, wj := sigs[i].Severity.Weight(), sigs[j].Severity.Weight()
		if wi != wj {
			return wi > wj
		}
		if !sigs[i].DetectedAt.Equal(sigs[j].DetectedAt) {
			return sigs[i].DetectedAt.After(sigs[j].DetectedAt)
		}
		return sigs[i].ID > sigs[j].ID
	})
}

// AcknowledgeEarlySignal marks one signal as seen. Acknowledging twice keeps
// the first timestamp.
func (s *MemoryStore) AcknowledgeEarlySignal(ctx context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.early[id]
	if !ok {
		return fmt.Errorf("early signal %d: %w", id, ErrNotFound)
	}
	if sig.Acknowledged {
		return nil
	}
	ack := now
	sig.Acknowledged = true
	sig.AcknowledgedAt = &ack
	s.early[id] = sig
	return nil
}

// AcknowledgeAll marks every unacknowledged signal (of kind, if set) as seen.
func (s *MemoryStore) AcknowledgeAll(ctx context.Context, kind model.Kind, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sig := range s.early {
		if sig.Acknowledged || (kind != "" && sig.Kind != kind) {
			continue
		}
		ack := now
		sig.Acknowledged = true
		sig.AcknowledgedAt = &ack
		s.early[id] = sig
		n++
	}
	return n, nil
}

// DeleteEarlySignal removes a signal permanently.
func (s *MemoryStore) DeleteEarlySignal(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.early[id]; !ok {
		return fmt.Errorf("early signal %d: %w", id, ErrNotFound)
	}
	delete(s.early, id)
	return nil
}

// AddMention records an external mention.
func (s *MemoryStore) AddMention(ctx context.Context, m model.Mention) error {
	if m.EntityID <= 0 {
		return fmt.Errorf("%w: mention without entity", ErrInvalidEntity)
	}
	if m.Source == "" {
		m.Source = model.MentionSourceHackerNews
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.mentions = append(s.mentions, m)
	return nil
}

// RecentMentions returns Hacker News mentions fetched at or after since with
// a score of at least minScore.
func (s *MemoryStore) RecentMentions(ctx context.Context, since time.Time, minScore int64) ([]model.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Mention, 0)
	for _, m := range s.mentions {
		if m.Source == model.MentionSourceHackerNews && !m.FetchedAt.Before(since) && m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out, nil
}

// Close marks the store closed; later writes fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
