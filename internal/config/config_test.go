package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/starsignal/internal/config"
	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/signals"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DBPath, convey.ShouldEqual, "starsignal.db")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.DetectionInterval, convey.ShouldEqual, time.Hour)
			convey.So(cfg.SignalVelocityDays, convey.ShouldEqual, 7)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the thresholds match the domain defaults", func() {
			convey.So(cfg.SignalThresholds(), convey.ShouldResemble, signals.DefaultThresholds())
			convey.So(cfg.DetectorThresholds(), convey.ShouldResemble, detect.DefaultThresholds())
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		cases := []struct {
			msg    string
			mutate func(*config.Config)
		}{
			{"addr must not be empty", func(c *config.Config) { c.Addr = " " }},
			{"db_path must not be empty", func(c *config.Config) { c.DBPath = "" }},
			{"worker_count must not be negative", func(c *config.Config) { c.WorkerCount = -1 }},
			{"detection_interval must not be negative", func(c *config.Config) { c.DetectionInterval = -time.Second }},
			{"signal_velocity_days must be positive", func(c *config.Config) { c.SignalVelocityDays = 0 }},
			{"viral_window_hours must be positive", func(c *config.Config) { c.ViralWindowHours = 0 }},
			{"unknown log_format", func(c *config.Config) { c.LogFormat = "xml" }},
		}
		for _, tc := range cases {
			convey.Convey("When "+tc.msg+" is violated", func() {
				tc.mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then an invalid config error is returned", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, tc.msg)
				})
			})
		}
	})
}

func TestConfig_DetectorThresholds(t *testing.T) {
	convey.Convey("Given overridden detector fields", t, func() {
		cfg := config.New(context.Background())
		cfg.RisingStarMaxStars = 1000
		cfg.ViralMinScore = 50
		cfg.ViralWindowHours = 24
		cfg.TrendUpVelocity = 2

		convey.Convey("Then the overrides reach the domain thresholds", func() {
			dt := cfg.DetectorThresholds()
			convey.So(dt.RisingStarMaxStars, convey.ShouldEqual, 1000)
			convey.So(dt.ViralMinScore, convey.ShouldEqual, 50)
			convey.So(dt.ViralWindow, convey.ShouldEqual, 24*time.Hour)
			convey.So(dt.SuddenSpikeTTL, convey.ShouldEqual, detect.DefaultThresholds().SuddenSpikeTTL)
			convey.So(cfg.SignalThresholds().TrendUpVelocity, convey.ShouldEqual, 2)
		})
	})
}
