package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/okian/starsignal/internal/adapters/repository"
	"github.com/okian/starsignal/internal/config"
	"github.com/okian/starsignal/internal/seed"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("STARSIGNAL_ADDR", ":8080")
			_ = os.Setenv("STARSIGNAL_WORKER_COUNT", "4")
			_ = os.Setenv("STARSIGNAL_LOG_FORMAT", "json")
			defer func() {
				_ = os.Unsetenv("STARSIGNAL_ADDR")
				_ = os.Unsetenv("STARSIGNAL_WORKER_COUNT")
				_ = os.Unsetenv("STARSIGNAL_LOG_FORMAT")
			}()

			convey.Convey("Then configuration should be loadable and applied", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(configureLogging(cfg), convey.ShouldBeNil)
				convey.So(logger.InitWith(os.Stdout, logger.FormatText), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the log level is invalid", func() {
			cfg := config.New(context.Background())
			cfg.LogLevel = "loud"

			convey.Convey("Then configuring logging fails", func() {
				convey.So(configureLogging(cfg), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a seeded sqlite store and the configured service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := repository.OpenSQLite(":memory:")
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()
		_, err = seed.Populate(ctx, store, seed.Scenario(), 31, time.Now().UTC())
		convey.So(err, convey.ShouldBeNil)

		cfg := config.New(ctx)
		cfg.DetectionInterval = 0
		svc := newService(cfg, store, logger.Get())
		srv := newHTTPServer(ctx, ":0", svc)

		convey.Convey("When detection is triggered over HTTP", func() {
			req := httptest.NewRequest(http.MethodPost, "/detect?recalculate=true", nil)
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, req)

			convey.Convey("Then the run result is returned", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `"entities_scanned":3`)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `"signals_detected":4`)
			})

			convey.Convey("And the metric updaters run without panicking", func() {
				convey.So(func() {
					updateSystemMetrics()
					updateServiceMetrics(ctx, svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When the updaters are started with a short-lived context", func() {
			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()

			convey.Convey("Then they return once it is done", func() {
				convey.So(func() {
					startSystemMetricsUpdater(short)
					startServiceMetricsUpdater(short, svc)
				}, convey.ShouldNotPanic)
			})
		})
	})
}
