package service

import (
	"time"

	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/signals"
	"github.com/okian/starsignal/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of detection workers per run.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithInterval sets the period of the background cycle started by Start.
// Zero disables the loop.
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the wall clock used for "today" and signal expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSignalThresholds sets the trend cut-offs of the calculator.
func WithSignalThresholds(t signals.Thresholds) Option {
	return func(s *Service) {
		s.signalThresholds = t
	}
}

// WithVelocityDays sets the window of the stored velocity metric.
func WithVelocityDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.velocityDays = days
		}
	}
}

// WithDetectorThresholds sets the cut-offs of the stock detectors.
func WithDetectorThresholds(t detect.Thresholds) Option {
	return func(s *Service) {
		s.detectorThresholds = t
	}
}

// WithBattery replaces the detector battery. Thresholds set through
// WithDetectorThresholds are ignored when a battery is supplied.
func WithBattery(b *detect.Battery) Option {
	return func(s *Service) {
		s.battery = b
	}
}
