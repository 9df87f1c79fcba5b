// Package model contains domain models passed between layers.
package model

import "time"

// Entity is a tracked repository. The engine only needs its identity.
type Entity struct {
	ID       int64
	FullName string // owner/name, used in log lines only
}

// Snapshot is an immutable daily observation of a repository.
// At most one exists per (EntityID, Date).
type Snapshot struct {
	EntityID   int64
	Date       time.Time // UTC day, see Day
	Stars      int64
	Forks      int64
	OpenIssues int64
}

// SignalType names a derived metric.
type SignalType string

// Derived metric types. Each has exactly one live value per entity.
const (
	SignalStarsDelta7d  SignalType = "stars_delta_7d"
	SignalStarsDelta30d SignalType = "stars_delta_30d"
	SignalVelocity      SignalType = "velocity"
	SignalAcceleration  SignalType = "acceleration"
	SignalTrend         SignalType = "trend" // stored as -1, 0 or 1
)

// SignalTypes returns every metric type in calculation order.
func SignalTypes() []SignalType {
	return []SignalType{
		SignalStarsDelta7d,
		SignalStarsDelta30d,
		SignalVelocity,
		SignalAcceleration,
		SignalTrend,
	}
}

// Signal is the current value of one derived metric for an entity.
type Signal struct {
	EntityID     int64
	Type         SignalType
	Value        float64
	CalculatedAt time.Time
}

// Kind identifies the rule that produced an EarlySignal.
type Kind string

// Early signal kinds, one per detector.
const (
	KindRisingStar   Kind = "rising_star"
	KindSuddenSpike  Kind = "sudden_spike"
	KindBreakout     Kind = "breakout"
	KindViralMention Kind = "viral_mention"
)

// Kinds returns every early-signal kind.
func Kinds() []Kind {
	return []Kind{KindRisingStar, KindSuddenSpike, KindBreakout, KindViralMention}
}

// Severity grades an EarlySignal.
type Severity string

// Severities, lowest first.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight orders severities for listing; unknown values sort last.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// EarlySignal is a classified, time-bounded anomaly finding.
type EarlySignal struct {
	ID             int64
	EntityID       int64
	Kind           Kind
	Severity       Severity
	Description    string
	VelocityValue  *float64
	StarCount      *int64
	PercentileRank *float64
	DetectedAt     time.Time
	ExpiresAt      time.Time
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

// IsActive reports whether the signal is unacknowledged and not yet expired.
func (e *EarlySignal) IsActive(now time.Time) bool {
	return !e.Acknowledged && e.ExpiresAt.After(now)
}

// Key returns the dedup key of the signal.
func (e *EarlySignal) Key() Key {
	return Key{EntityID: e.EntityID, Kind: e.Kind}
}

// Key identifies the (entity, kind) pair of which at most one signal may be active.
type Key struct {
	EntityID int64
	Kind     Kind
}

// MentionSourceHackerNews is the only mention source the engine consumes.
const MentionSourceHackerNews = "hacker_news"

// Mention is an external reference to an entity, e.g. a Hacker News story.
type Mention struct {
	EntityID  int64
	Source    string
	Title     string
	URL       string
	Score     int64
	FetchedAt time.Time
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
