package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table rows. Times are always written in UTC so that the driver's textual
// encoding compares chronologically.

type repoRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	FullName  string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (repoRow) TableName() string { return "repos" }

type snapshotRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	RepoID       int64     `gorm:"uniqueIndex:idx_snapshot_repo_date;not null"`
	SnapshotDate time.Time `gorm:"uniqueIndex:idx_snapshot_repo_date;not null"`
	Stars        int64
	Forks        int64
	OpenIssues   int64
}

func (snapshotRow) TableName() string { return "repo_snapshots" }

type signalRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	RepoID       int64  `gorm:"uniqueIndex:idx_signal_repo_type;not null"`
	SignalType   string `gorm:"uniqueIndex:idx_signal_repo_type;not null"`
	Value        float64
	CalculatedAt time.Time
}

func (signalRow) TableName() string { return "signals" }

type earlySignalRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	RepoID         int64  `gorm:"index:idx_early_repo_kind;not null"`
	SignalType     string `gorm:"index:idx_early_repo_kind;not null"`
	Severity       string `gorm:"not null"`
	Description    string
	VelocityValue  *float64
	StarCount      *int64
	PercentileRank *float64
	DetectedAt     time.Time `gorm:"index"`
	ExpiresAt      time.Time `gorm:"index"`
	Acknowledged   bool      `gorm:"not null;default:false"`
	AcknowledgedAt *time.Time
}

func (earlySignalRow) TableName() string { return "early_signals" }

type mentionRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RepoID     int64  `gorm:"index;not null"`
	SignalType string `gorm:"index;not null"` // mention source, e.g. hacker_news
	Title      string
	URL        string
	Score      int64
	FetchedAt  time.Time `gorm:"index"`
}

func (mentionRow) TableName() string { return "context_signals" }

const severityOrder = "CASE severity WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC"

// GormStore is a Store backed by gorm. OpenSQLite wires it to SQLite.
type GormStore struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ Store = (*GormStore)(nil)

// OpenSQLite opens (or creates) a SQLite database at path and migrates it.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string, opts ...Option) (*GormStore, error) {
	o := buildOptions(opts)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger(o.logger, o.debug)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one connection: serializes writers and keeps :memory: databases alive
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db, opts...)
}

// NewGormStore wraps an open gorm connection and migrates the schema.
func NewGormStore(db *gorm.DB, opts ...Option) (*GormStore, error) {
	o := buildOptions(opts)
	if err := db.AutoMigrate(&repoRow{}, &snapshotRow{}, &signalRow{}, &earlySignalRow{}, &mentionRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db, logger: o.logger}, nil
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// AddEntity registers a tracked repository; names are unique.
func (s *GormStore) AddEntity(ctx context.Context, fullName string) (_ model.Entity, err error) {
	defer observe("add_entity", time.Now(), &err)
	name := strings.TrimSpace(fullName)
	if name == "" {
		return model.Entity{}, fmt.Errorf("%w: empty name", ErrInvalidEntity)
	}

	row := repoRow{FullName: name, CreatedAt: time.Now().UTC()}
	err = s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "full_name"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return model.Entity{}, err
	}
	if err = s.conn(ctx).Where("full_name = ?", name).Take(&row).Error; err != nil {
		return model.Entity{}, err
	}
	return model.Entity{ID: row.ID, FullName: row.FullName}, nil
}

// ListEntities returns all tracked entities ordered by id.
func (s *GormStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	var rows []repoRow
	if err := s.conn(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Entity, len(rows))
	for i, r := range rows {
		out[i] = model.Entity{ID: r.ID, FullName: r.FullName}
	}
	return out, nil
}

// AddSnapshot creates or replaces the snapshot of (entity, day).
func (s *GormStore) AddSnapshot(ctx context.Context, snap model.Snapshot) (err error) {
	defer observe("add_snapshot", time.Now(), &err)
	if snap.EntityID <= 0 || snap.Stars < 0 {
		return fmt.Errorf("%w: entity=%d stars=%d", ErrInvalidSnapshot, snap.EntityID, snap.Stars)
	}
	var n int64
	if err = s.conn(ctx).Model(&repoRow{}).Where("id = ?", snap.EntityID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entity %d: %w", snap.EntityID, ErrNotFound)
	}

	row := snapshotRow{
		RepoID:       snap.EntityID,
		SnapshotDate: model.Day(snap.Date),
		Stars:        snap.Stars,
		Forks:        snap.Forks,
		OpenIssues:   snap.OpenIssues,
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_id"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"stars", "forks", "open_issues"}),
	}).Create(&row).Error
}

func (r *snapshotRow) toModel() model.Snapshot {
	return model.Snapshot{
		EntityID:   r.RepoID,
		Date:       r.SnapshotDate.UTC(),
		Stars:      r.Stars,
		Forks:      r.Forks,
		OpenIssues: r.OpenIssues,
	}
}

// LatestSnapshot returns the most recent snapshot of an entity, or nil.
func (s *GormStore) LatestSnapshot(ctx context.Context, entityID int64) (*model.Snapshot, error) {
	var rows []snapshotRow
	err := s.conn(ctx).Where("repo_id = ?", entityID).
		Order("snapshot_date DESC").Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	snap := rows[0].toModel()
	return &snap, nil
}

// SnapshotNear returns the snapshot at day, or the nearest earlier one.
func (s *GormStore) SnapshotNear(ctx context.Context, entityID int64, day time.Time) (*model.Snapshot, error) {
	var rows []snapshotRow
	err := s.conn(ctx).Where("repo_id = ? AND snapshot_date <= ?", entityID, model.Day(day)).
		Order("snapshot_date DESC").Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	snap := rows[0].toModel()
	return &snap, nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *GormStore) RecentSnapshots(ctx context.Context, entityID int64, limit int) ([]model.Snapshot, error) {
	q := s.conn(ctx).Where("repo_id = ?", entityID).Order("snapshot_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []snapshotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// LatestSnapshots bulk-loads the newest snapshot per entity in one query.
func (s *GormStore) LatestSnapshots(ctx context.Context, ids []int64) (_ map[int64]model.Snapshot, err error) {
	defer observe("latest_snapshots", time.Now(), &err)

	latest := s.conn(ctx).Model(&snapshotRow{}).
		Select("repo_id, MAX(snapshot_date) AS max_date").
		Group("repo_id")
	q := s.conn(ctx).Table("repo_snapshots AS s").
		Select("s.*").
		Joins("JOIN (?) AS m ON s.repo_id = m.repo_id AND s.snapshot_date = m.max_date", latest)
	if ids != nil {
		if len(ids) == 0 {
			return map[int64]model.Snapshot{}, nil
		}
		q = q.Where("s.repo_id IN ?", ids)
	}

	var rows []snapshotRow
	if err = q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]model.Snapshot, len(rows))
	for i := range rows {
		out[rows[i].RepoID] = rows[i].toModel()
	}
	return out, nil
}

// UpsertSignals creates or replaces the (entity, type) rows in one transaction.
func (s *GormStore) UpsertSignals(ctx context.Context, entityID int64, signals []model.Signal) (err error) {
	defer observe("upsert_signals", time.Now(), &err)
	if len(signals) == 0 {
		return nil
	}

	rows := make([]signalRow, len(signals))
	for i, sig := range signals {
		rows[i] = signalRow{
			RepoID:       entityID,
			SignalType:   string(sig.Type),
			Value:        sig.Value,
			CalculatedAt: sig.CalculatedAt.UTC(),
		}
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repo_id"}, {Name: "signal_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "calculated_at"}),
		}).Create(&rows).Error
	})
}

// SignalValue returns the stored value of one metric, or nil.
func (s *GormStore) SignalValue(ctx context.Context, entityID int64, signalType model.SignalType) (*float64, error) {
	var rows []signalRow
	err := s.conn(ctx).Where("repo_id = ? AND signal_type = ?", entityID, string(signalType)).
		Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	v := rows[0].Value
	return &v, nil
}

// SignalMap bulk-loads all stored metric values.
func (s *GormStore) SignalMap(ctx context.Context, ids []int64) (_ map[int64]map[model.SignalType]float64, err error) {
	defer observe("signal_map", time.Now(), &err)
	q := s.conn(ctx).Select("repo_id", "signal_type", "value")
	if ids != nil {
		if len(ids) == 0 {
			return map[int64]map[model.SignalType]float64{}, nil
		}
		q = q.Where("repo_id IN ?", ids)
	}
	var rows []signalRow
	if err = q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]map[model.SignalType]float64)
	for _, r := range rows {
		vals := out[r.RepoID]
		if vals == nil {
			vals = make(map[model.SignalType]float64)
			out[r.RepoID] = vals
		}
		vals[model.SignalType(r.SignalType)] = r.Value
	}
	return out, nil
}

// VelocityValues returns every stored velocity value sorted ascending.
func (s *GormStore) VelocityValues(ctx context.Context) ([]float64, error) {
	var values []float64
	err := s.conn(ctx).Model(&signalRow{}).
		Where("signal_type = ?", string(model.SignalVelocity)).
		Order("value ASC").
		Pluck("value", &values).Error
	return values, err
}

// ActiveEarlySignalKeys returns the keys of all active early signals.
func (s *GormStore) ActiveEarlySignalKeys(ctx context.Context, now time.Time) (map[model.Key]struct{}, error) {
	var rows []earlySignalRow
	err := s.conn(ctx).Select("repo_id", "signal_type").
		Where("acknowledged = ? AND expires_at > ?", false, now.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[model.Key]struct{}, len(rows))
	for _, r := range rows {
		out[model.Key{EntityID: r.RepoID, Kind: model.Kind(r.SignalType)}] = struct{}{}
	}
	return out, nil
}

// HasActiveEarlySignal reports whether an active signal exists for (entity, kind).
func (s *GormStore) HasActiveEarlySignal(ctx context.Context, entityID int64, kind model.Kind, now time.Time) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&earlySignalRow{}).
		Where("repo_id = ? AND signal_type = ? AND acknowledged = ? AND expires_at > ?",
			entityID, string(kind), false, now.UTC()).
		Count(&n).Error
	return n > 0, err
}

func earlyToRow(e *model.EarlySignal) earlySignalRow {
	row := earlySignalRow{
		ID:             e.ID,
		RepoID:         e.EntityID,
		SignalType:     string(e.Kind),
		Severity:       string(e.Severity),
		Description:    e.Description,
		VelocityValue:  e.VelocityValue,
		StarCount:      e.StarCount,
		PercentileRank: e.PercentileRank,
		DetectedAt:     e.DetectedAt.UTC(),
		ExpiresAt:      e.ExpiresAt.UTC(),
		Acknowledged:   e.Acknowledged,
	}
	if e.AcknowledgedAt != nil {
		at := e.AcknowledgedAt.UTC()
		row.AcknowledgedAt = &at
	}
	return row
}

func (r *earlySignalRow) toModel() model.EarlySignal {
	out := model.EarlySignal{
		ID:             r.ID,
		EntityID:       r.RepoID,
		Kind:           model.Kind(r.SignalType),
		Severity:       model.Severity(r.Severity),
		Description:    r.Description,
		VelocityValue:  r.VelocityValue,
		StarCount:      r.StarCount,
		PercentileRank: r.PercentileRank,
		DetectedAt:     r.DetectedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
		Acknowledged:   r.Acknowledged,
	}
	if r.AcknowledgedAt != nil {
		at := r.AcknowledgedAt.UTC()
		out.AcknowledgedAt = &at
	}
	return out
}

// InsertEarlySignals stores all signals or none.
func (s *GormStore) InsertEarlySignals(ctx context.Context, signals []model.EarlySignal) (_ []model.EarlySignal, err error) {
	defer observe("insert_early_signals", time.Now(), &err)
	if len(signals) == 0 {
		return nil, nil
	}

	rows := make([]earlySignalRow, len(signals))
	for i := range signals {
		rows[i] = earlyToRow(&signals[i])
		rows[i].ID = 0
	}
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("insert %s for entity %d: %w", rows[i].SignalType, rows[i].RepoID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.EarlySignal, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// GetEarlySignal returns a signal by id regardless of its state.
func (s *GormStore) GetEarlySignal(ctx context.Context, id int64) (model.EarlySignal, error) {
	var row earlySignalRow
	err := s.conn(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EarlySignal{}, fmt.Errorf("early signal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.EarlySignal{}, err
	}
	return row.toModel(), nil
}

// ListEarlySignals lists signals ordered by severity desc, then detected_at desc.
func (s *GormStore) ListEarlySignals(ctx context.Context, f ListFilter) (_ []model.EarlySignal, err error) {
	defer observe("list_early_signals", time.Now(), &err)
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}

	q := s.conn(ctx).Model(&earlySignalRow{})
	if f.EntityID != 0 {
		q = q.Where("repo_id = ?", f.EntityID)
	}
	if f.Kind != "" {
		q = q.Where("signal_type = ?", string(f.Kind))
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if !f.IncludeAcknowledged {
		q = q.Where("acknowledged = ?", false)
	}
	if !f.IncludeExpired {
		q = q.Where("expires_at > ?", now.UTC())
	}
	q = q.Order(severityOrder).Order("detected_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []earlySignalRow
	if err = q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.EarlySignal, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// AcknowledgeEarlySignal marks one signal as seen. Acknowledging twice keeps
// the first timestamp.
func (s *GormStore) AcknowledgeEarlySignal(ctx context.Context, id int64, now time.Time) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var row earlySignalRow
		err := tx.Where("id = ?", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("early signal %d: %w", id, ErrNotFound)
		}
		if err != nil || row.Acknowledged {
			return err
		}
		return tx.Model(&earlySignalRow{}).Where("id = ?", id).Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": now.UTC(),
		}).Error
	})
}

// AcknowledgeAll marks every unacknowledged signal (of kind, if set) as seen.
func (s *GormStore) AcknowledgeAll(ctx context.Context, kind model.Kind, now time.Time) (int64, error) {
	q := s.conn(ctx).Model(&earlySignalRow{}).Where("acknowledged = ?", false)
	if kind != "" {
		q = q.Where("signal_type = ?", string(kind))
	}
	res := q.Updates(map[string]any{
		"acknowledged":    true,
		"acknowledged_at": now.UTC(),
	})
	return res.RowsAffected, res.Error
}

// DeleteEarlySignal removes a signal permanently.
func (s *GormStore) DeleteEarlySignal(ctx context.Context, id int64) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&earlySignalRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("early signal %d: %w", id, ErrNotFound)
	}
	return nil
}

// AddMention records an external mention.
func (s *GormStore) AddMention(ctx context.Context, m model.Mention) error {
	if m.EntityID <= 0 {
		return fmt.Errorf("%w: mention without entity", ErrInvalidEntity)
	}
	if m.Source == "" {
		m.Source = model.MentionSourceHackerNews
	}
	row := mentionRow{
		RepoID:     m.EntityID,
		SignalType: m.Source,
		Title:      m.Title,
		URL:        m.URL,
		Score:      m.Score,
		FetchedAt:  m.FetchedAt.UTC(),
	}
	return s.conn(ctx).Create(&row).Error
}

// RecentMentions returns Hacker News mentions fetched at or after since with
// a score of at least minScore.
func (s *GormStore) RecentMentions(ctx context.Context, since time.Time, minScore int64) ([]model.Mention, error) {
	var rows []mentionRow
	err := s.conn(ctx).
		Where("signal_type = ? AND fetched_at >= ? AND score >= ?", model.MentionSourceHackerNews, since.UTC(), minScore).
		Order("score DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Mention, len(rows))
	for i, r := range rows {
		out[i] = model.Mention{
			EntityID:  r.RepoID,
			Source:    r.SignalType,
			Title:     r.Title,
			URL:       r.URL,
			Score:     r.Score,
			FetchedAt: r.FetchedAt.UTC(),
		}
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
