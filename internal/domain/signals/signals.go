// Package signals derives star-growth metrics (delta, velocity,
// acceleration, trend) from the daily snapshot series of an entity.
package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/okian/starsignal/pkg/metrics"
)

// Default calculation windows.
const (
	DefaultVelocityDays = 7
	shortWindowDays     = 7
	longWindowDays      = 30
	accelerationWeek    = 7
)

// Thresholds are the cut-offs of the acceleration and trend rules.
type Thresholds struct {
	// NearZeroVelocity is the |velocity| under which the prior week counts as flat.
	NearZeroVelocity float64
	// TrendUpVelocity and TrendUpMinAcceleration gate an upward trend.
	TrendUpVelocity        float64
	TrendUpMinAcceleration float64
	// TrendDownVelocity and TrendDownAcceleration gate a downward trend.
	TrendDownVelocity     float64
	TrendDownAcceleration float64
}

// DefaultThresholds returns the stock trend cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NearZeroVelocity:       0.001,
		TrendUpVelocity:        0.5,
		TrendUpMinAcceleration: -0.1,
		TrendDownVelocity:      -0.5,
		TrendDownAcceleration:  -0.3,
	}
}

// SnapshotSource resolves the snapshot at a day or the nearest earlier one.
type SnapshotSource interface {
	SnapshotNear(ctx context.Context, entityID int64, day time.Time) (*model.Snapshot, error)
}

// Store is what CalculateAndStore needs from persistence.
type Store interface {
	SnapshotSource
	UpsertSignals(ctx context.Context, entityID int64, signals []model.Signal) error
}

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithClock overrides the time source. "Today" is the UTC day of its result.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithThresholds replaces the trend thresholds.
func WithThresholds(t Thresholds) Option {
	return func(c *Calculator) {
		c.thresholds = t
	}
}

// WithVelocityDays sets the window of the stored velocity metric.
func WithVelocityDays(days int) Option {
	return func(c *Calculator) {
		if days > 0 {
			c.velocityDays = days
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Calculator computes and persists derived metrics. It is stateless apart
// from its configuration and safe for concurrent use.
type Calculator struct {
	store        Store
	thresholds   Thresholds
	velocityDays int
	now          func() time.Time
	logger       logger.Logger
}

// New creates a Calculator over store.
func New(store Store, opts ...Option) *Calculator {
	c := &Calculator{
		store:        store,
		thresholds:   DefaultThresholds(),
		velocityDays: DefaultVelocityDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("signals")
	}
	return c
}

// Thresholds returns the active thresholds.
func (c *Calculator) Thresholds() Thresholds { return c.thresholds }

func (c *Calculator) today() time.Time { return model.Day(c.now()) }

// Delta returns the star change over the trailing days window, anchored at
// today and today-days (each resolved to the nearest earlier snapshot).
// It is nil when either anchor is missing and 0 when both resolve to the
// same snapshot.
func (c *Calculator) Delta(ctx context.Context, entityID int64, days int) (*float64, error) {
	today := c.today()
	current, err := c.store.SnapshotNear(ctx, entityID, today)
	if err != nil {
		return nil, fmt.Errorf("current snapshot: %w", err)
	}
	past, err := c.store.SnapshotNear(ctx, entityID, today.AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("past snapshot: %w", err)
	}
	return deltaBetween(current, past), nil
}

func deltaBetween(current, past *model.Snapshot) *float64 {
	if current == nil || past == nil {
		return nil
	}
	if current.Date.Equal(past.Date) {
		return model.Float64(0)
	}
	return model.Float64(float64(current.Stars - past.Stars))
}

// Velocity returns stars per day over the trailing window.
func (c *Calculator) Velocity(ctx context.Context, entityID int64, days int) (*float64, error) {
	d, err := c.Delta(ctx, entityID, days)
	if err != nil {
		return nil, err
	}
	return VelocityFromDelta(d, days), nil
}

// VelocityFromDelta divides a delta by its window. Nil stays nil.
func VelocityFromDelta(delta *float64, days int) *float64 {
	if delta == nil || days <= 0 {
		return nil
	}
	return model.Float64(*delta / float64(days))
}

// Acceleration compares this week's velocity with the previous week's.
func (c *Calculator) Acceleration(ctx context.Context, entityID int64) (*float64, error) {
	today := c.today()
	var anchors [3]*model.Snapshot
	for i := range anchors {
		snap, err := c.store.SnapshotNear(ctx, entityID, today.AddDate(0, 0, -i*accelerationWeek))
		if err != nil {
			return nil, fmt.Errorf("acceleration anchor %d: %w", i, err)
		}
		if snap == nil {
			return nil, nil
		}
		anchors[i] = snap
	}

	this := float64(anchors[0].Stars-anchors[1].Stars) / accelerationWeek
	prior := float64(anchors[1].Stars-anchors[2].Stars) / accelerationWeek
	v := c.AccelerationFromVelocities(this, prior)
	return &v, nil
}

// AccelerationFromVelocities returns the relative change from prior to this.
// A flat prior week yields +1, -1 or 0 by the sign of this.
func (c *Calculator) AccelerationFromVelocities(this, prior float64) float64 {
	eps := c.thresholds.NearZeroVelocity
	if math.Abs(prior) < eps {
		switch {
		case this > eps:
			return 1
		case this < -eps:
			return -1
		default:
			return 0
		}
	}
	return (this - prior) / math.Abs(prior)
}

// Trend classifies growth as 1 (up), -1 (down) or 0 (stable).
func (c *Calculator) Trend(velocity, acceleration *float64) int {
	t := c.thresholds
	if velocity == nil {
		return 0
	}
	if *velocity > t.TrendUpVelocity && (acceleration == nil || *acceleration > t.TrendUpMinAcceleration) {
		return 1
	}
	if *velocity < t.TrendDownVelocity || (acceleration != nil && *acceleration < t.TrendDownAcceleration) {
		return -1
	}
	return 0
}

// CalculateAndStore computes every metric for an entity and upserts the
// non-nil ones in a single store call. Trend is always written.
func (c *Calculator) CalculateAndStore(ctx context.Context, entityID int64) (map[model.SignalType]float64, error) {
	values, err := c.calculate(ctx, entityID)
	if err != nil {
		metrics.RecordSignalCalculationError()
		return nil, fmt.Errorf("calculate signals for entity %d: %w", entityID, err)
	}

	at := c.now().UTC()
	rows := make([]model.Signal, 0, len(values))
	for _, t := range model.SignalTypes() {
		v, ok := values[t]
		if !ok {
			continue
		}
		rows = append(rows, model.Signal{EntityID: entityID, Type: t, Value: v, CalculatedAt: at})
	}
	if err := c.store.UpsertSignals(ctx, entityID, rows); err != nil {
		metrics.RecordSignalCalculationError()
		return nil, fmt.Errorf("store signals for entity %d: %w", entityID, err)
	}
	for _, r := range rows {
		metrics.RecordSignalCalculated(string(r.Type))
	}

	c.logger.Debug(ctx, "signals calculated",
		logger.Int64("entity_id", entityID),
		logger.Int("count", len(rows)))
	return values, nil
}

func (c *Calculator) calculate(ctx context.Context, entityID int64) (map[model.SignalType]float64, error) {
	d7, err := c.Delta(ctx, entityID, shortWindowDays)
	if err != nil {
		return nil, err
	}
	d30, err := c.Delta(ctx, entityID, longWindowDays)
	if err != nil {
		return nil, err
	}
	velocity := VelocityFromDelta(d7, shortWindowDays)
	if c.velocityDays != shortWindowDays {
		if velocity, err = c.Velocity(ctx, entityID, c.velocityDays); err != nil {
			return nil, err
		}
	}
	accel, err := c.Acceleration(ctx, entityID)
	if err != nil {
		return nil, err
	}

	values := make(map[model.SignalType]float64, 5)
	set := func(t model.SignalType, v *float64) {
		if v != nil {
			values[t] = *v
		}
	}
	set(model.SignalStarsDelta7d, d7)
	set(model.SignalStarsDelta30d, d30)
	set(model.SignalVelocity, velocity)
	set(model.SignalAcceleration, accel)
	values[model.SignalTrend] = float64(c.Trend(velocity, accel))
	return values, nil
}
