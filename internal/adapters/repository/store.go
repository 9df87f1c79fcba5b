// Package repository defines the persistence contract of the signal engine
// and its in-memory and gorm-backed implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
)

// SnapshotReader reads the daily snapshot series of an entity.
// Missing data is reported as a nil snapshot, never as an error.
type SnapshotReader interface {
	// LatestSnapshot returns the most recent snapshot of an entity.
	LatestSnapshot(ctx context.Context, entityID int64) (*model.Snapshot, error)
	// SnapshotNear returns the snapshot at day, or the nearest earlier one.
	SnapshotNear(ctx context.Context, entityID int64, day time.Time) (*model.Snapshot, error)
	// RecentSnapshots returns up to limit snapshots, newest first.
	RecentSnapshots(ctx context.Context, entityID int64, limit int) ([]model.Snapshot, error)
}

// SignalWriter persists derived metric values.
type SignalWriter interface {
	// UpsertSignals atomically creates or replaces the (entity, type) rows.
	// All values of one call are committed together.
	UpsertSignals(ctx context.Context, entityID int64, signals []model.Signal) error
}

// ActiveLookup answers the per-key dedup question without a pre-loaded set.
type ActiveLookup interface {
	HasActiveEarlySignal(ctx context.Context, entityID int64, kind model.Kind, now time.Time) (bool, error)
}

// ListFilter narrows ListEarlySignals. Zero values mean "no filter".
type ListFilter struct {
	EntityID            int64
	Kind                model.Kind
	Severity            model.Severity
	IncludeAcknowledged bool
	IncludeExpired      bool
	Limit               int
	Now                 time.Time
}

// Store is the full persistence collaborator of the engine.
type Store interface {
	SnapshotReader
	SignalWriter
	ActiveLookup

	// AddEntity registers a tracked repository.
	AddEntity(ctx context.Context, fullName string) (model.Entity, error)
	// ListEntities returns all tracked entities ordered by id.
	ListEntities(ctx context.Context) ([]model.Entity, error)
	// AddSnapshot creates or replaces the snapshot of (entity, day).
	AddSnapshot(ctx context.Context, snap model.Snapshot) error
	// LatestSnapshots bulk-loads the newest snapshot per entity.
	// A nil ids slice means all entities.
	LatestSnapshots(ctx context.Context, ids []int64) (map[int64]model.Snapshot, error)

	// SignalValue returns the stored value of one metric, or nil.
	SignalValue(ctx context.Context, entityID int64, signalType model.SignalType) (*float64, error)
	// SignalMap bulk-loads all stored metric values. A nil ids slice means all.
	SignalMap(ctx context.Context, ids []int64) (map[int64]map[model.SignalType]float64, error)
	// VelocityValues returns every stored velocity value sorted ascending.
	VelocityValues(ctx context.Context) ([]float64, error)

	// ActiveEarlySignalKeys returns the keys of all active early signals.
	ActiveEarlySignalKeys(ctx context.Context, now time.Time) (map[model.Key]struct{}, error)
	// InsertEarlySignals stores signals in one transaction and returns them with ids.
	InsertEarlySignals(ctx context.Context, signals []model.EarlySignal) ([]model.EarlySignal, error)
	// GetEarlySignal returns a signal by id regardless of its state.
	GetEarlySignal(ctx context.Context, id int64) (model.EarlySignal, error)
	// ListEarlySignals lists signals ordered by severity desc, then detected_at desc.
	ListEarlySignals(ctx context.Context, filter ListFilter) ([]model.EarlySignal, error)
	// AcknowledgeEarlySignal marks one signal as seen.
	AcknowledgeEarlySignal(ctx context.Context, id int64, now time.Time) error
	// AcknowledgeAll marks every unacknowledged signal (of kind, if set) as seen.
	AcknowledgeAll(ctx context.Context, kind model.Kind, now time.Time) (int64, error)
	// DeleteEarlySignal removes a signal permanently.
	DeleteEarlySignal(ctx context.Context, id int64) error

	// AddMention records an external mention.
	AddMention(ctx context.Context, m model.Mention) error
	// RecentMentions returns Hacker News mentions fetched at or after since
	// with a score of at least minScore.
	RecentMentions(ctx context.Context, since time.Time, minScore int64) ([]model.Mention, error)

	Close() error
}
