// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Threshold fields map onto the domain packages through SignalThresholds
//   and DetectorThresholds; fields absent from the file keep the defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/signals"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file. ":memory:" keeps everything in RAM.
	DBPath string `koanf:"db_path"`

	// WorkerCount sets the number of detection workers.
	WorkerCount int `koanf:"worker_count"`

	// DetectionInterval is the period of the background cycle. Zero disables it.
	DetectionInterval time.Duration `koanf:"detection_interval"`

	// SignalVelocityDays is the window of the stored velocity metric.
	SignalVelocityDays int `koanf:"signal_velocity_days"`

	// Trend cut-offs.
	TrendNearZero          float64 `koanf:"trend_near_zero"`
	TrendUpVelocity        float64 `koanf:"trend_up_velocity"`
	TrendUpMinAcceleration float64 `koanf:"trend_up_min_acceleration"`
	TrendDownVelocity      float64 `koanf:"trend_down_velocity"`
	TrendDownAcceleration  float64 `koanf:"trend_down_acceleration"`

	// Detector cut-offs.
	RisingStarMaxStars        int64   `koanf:"rising_star_max_stars"`
	RisingStarMinVelocity     float64 `koanf:"rising_star_min_velocity"`
	RisingStarVelocityRatio   float64 `koanf:"rising_star_velocity_ratio"`
	SuddenSpikeMultiplier     float64 `koanf:"sudden_spike_multiplier"`
	SuddenSpikeMinAbsolute    int64   `koanf:"sudden_spike_min_absolute"`
	BreakoutVelocityThreshold float64 `koanf:"breakout_velocity_threshold"`
	ViralMinScore             int64   `koanf:"viral_min_score"`
	ViralWindowHours          int     `koanf:"viral_window_hours"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	st := signals.DefaultThresholds()
	dt := detect.DefaultThresholds()
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		DBPath:             "starsignal.db",
		WorkerCount:        runtime.NumCPU(),
		DetectionInterval:  time.Hour,
		SignalVelocityDays: 7,

		TrendNearZero:          st.NearZeroVelocity,
		TrendUpVelocity:        st.TrendUpVelocity,
		TrendUpMinAcceleration: st.TrendUpMinAcceleration,
		TrendDownVelocity:      st.TrendDownVelocity,
		TrendDownAcceleration:  st.TrendDownAcceleration,

		RisingStarMaxStars:        dt.RisingStarMaxStars,
		RisingStarMinVelocity:     dt.RisingStarMinVelocity,
		RisingStarVelocityRatio:   dt.RisingStarVelocityRatio,
		SuddenSpikeMultiplier:     dt.SuddenSpikeMultiplier,
		SuddenSpikeMinAbsolute:    dt.SuddenSpikeMinAbsolute,
		BreakoutVelocityThreshold: dt.BreakoutVelocityThreshold,
		ViralMinScore:             dt.ViralMinScore,
		ViralWindowHours:          int(dt.ViralWindow / time.Hour),
	}
}

// Validate reports the first invalid field wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.DBPath) == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count must not be negative", ErrInvalidConfig)
	case c.DetectionInterval < 0:
		return fmt.Errorf("%w: detection_interval must not be negative", ErrInvalidConfig)
	case c.SignalVelocityDays <= 0:
		return fmt.Errorf("%w: signal_velocity_days must be positive", ErrInvalidConfig)
	case c.RisingStarMaxStars <= 0:
		return fmt.Errorf("%w: rising_star_max_stars must be positive", ErrInvalidConfig)
	case c.SuddenSpikeMultiplier <= 0:
		return fmt.Errorf("%w: sudden_spike_multiplier must be positive", ErrInvalidConfig)
	case c.ViralWindowHours <= 0:
		return fmt.Errorf("%w: viral_window_hours must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// SignalThresholds maps the trend fields onto signals.Thresholds.
func (c *Config) SignalThresholds() signals.Thresholds {
	return signals.Thresholds{
		NearZeroVelocity:       c.TrendNearZero,
		TrendUpVelocity:        c.TrendUpVelocity,
		TrendUpMinAcceleration: c.TrendUpMinAcceleration,
		TrendDownVelocity:      c.TrendDownVelocity,
		TrendDownAcceleration:  c.TrendDownAcceleration,
	}
}

// DetectorThresholds overlays the configurable detector fields on the stock
// thresholds. Severity bands and TTLs are not configurable.
func (c *Config) DetectorThresholds() detect.Thresholds {
	t := detect.DefaultThresholds()
	t.RisingStarMaxStars = c.RisingStarMaxStars
	t.RisingStarMinVelocity = c.RisingStarMinVelocity
	t.RisingStarVelocityRatio = c.RisingStarVelocityRatio
	t.SuddenSpikeMultiplier = c.SuddenSpikeMultiplier
	t.SuddenSpikeMinAbsolute = c.SuddenSpikeMinAbsolute
	t.BreakoutVelocityThreshold = c.BreakoutVelocityThreshold
	t.ViralMinScore = c.ViralMinScore
	t.ViralWindow = time.Duration(c.ViralWindowHours) * time.Hour
	return t
}
