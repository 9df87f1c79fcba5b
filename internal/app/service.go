// Package service wires the signal calculator, the detector battery and the
// dedup guard to a store and schedules detection runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/starsignal/internal/adapters/mq/queue"
	"github.com/okian/starsignal/internal/adapters/mq/worker"
	"github.com/okian/starsignal/internal/adapters/repository"
	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/internal/domain/signals"
	"github.com/okian/starsignal/internal/domain/types"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/okian/starsignal/pkg/metrics"
)

// Service is the detection orchestrator.
type Service struct {
	mu    sync.RWMutex
	runMu sync.Mutex

	// Core components
	store      repository.Store
	calculator *signals.Calculator
	battery    *detect.Battery

	// Configuration
	workerCount        int
	interval           time.Duration
	velocityDays       int
	signalThresholds   signals.Thresholds
	detectorThresholds detect.Thresholds
	now                func() time.Time

	// State
	started bool
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Bool
	runs    int64
	lastRun types.DetectionResult
	lastAt  time.Time
	lastErr error

	logger logger.Logger
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:              store,
		workerCount:        runtime.NumCPU(),
		velocityDays:       7,
		signalThresholds:   signals.DefaultThresholds(),
		detectorThresholds: detect.DefaultThresholds(),
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.calculator = signals.New(store,
		signals.WithClock(s.now),
		signals.WithThresholds(s.signalThresholds),
		signals.WithVelocityDays(s.velocityDays),
	)
	if s.battery == nil {
		s.battery = detect.NewBattery(s.detectorThresholds)
	}

	return s
}

// Start launches the background cycle when an interval is configured.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.started = true

	if s.interval <= 0 {
		close(s.done)
		s.logger.Info(ctx, "service started without schedule")
		return nil
	}

	go s.loop(ctx, s.stopCh, s.done)
	s.logger.Info(ctx, "service started",
		logger.Duration("interval", s.interval),
		logger.Int("workers", s.workerCount),
	)
	return nil
}

func (s *Service) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_, err := s.RunCycle(ctx)
			switch {
			case errors.Is(err, ErrRunInProgress):
				s.logger.Debug(ctx, "skipping tick, run in progress")
			case err != nil:
				s.logger.Error(ctx, "scheduled cycle failed", logger.Error(err))
			}
		}
	}
}

// Stop stops scheduling future runs. A run in flight completes.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.done
	s.started = false
	s.mu.Unlock()

	<-done
	s.logger.Info(context.Background(), "service stopped")
}

// CalculateAndStore recomputes and persists the metrics of one entity.
func (s *Service) CalculateAndStore(ctx context.Context, entityID int64) (map[model.SignalType]float64, error) {
	return s.calculator.CalculateAndStore(ctx, entityID)
}

// CalculateAll recomputes the metrics of every entity on the worker pool and
// returns how many succeeded. Per-entity failures are logged and skipped.
func (s *Service) CalculateAll(ctx context.Context) (int, error) {
	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}

	var ok atomic.Int64
	s.fanOut(ctx, "", entities, worker.ProcessorFunc(func(ctx context.Context, job queue.Job) error {
		if _, err := s.calculator.CalculateAndStore(ctx, job.Entity.ID); err != nil {
			return fmt.Errorf("calculate %s: %w", job.Entity.FullName, err)
		}
		ok.Add(1)
		return nil
	}))

	s.logger.Info(ctx, "signals calculated",
		logger.Int("entities", len(entities)),
		logger.Int64("succeeded", ok.Load()),
	)
	return int(ok.Load()), nil
}

// fanOut runs p for every entity on a fresh queue and pool and returns once
// all jobs are processed. Cancellation of ctx does not cut the batch short.
func (s *Service) fanOut(ctx context.Context, runID string, entities []model.Entity, p worker.Processor) {
	if len(entities) == 0 {
		return
	}
	runCtx := context.WithoutCancel(ctx)

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(entities)))
	pool := worker.NewPool(s.workerCount, q, p)
	pool.Start(runCtx)

	for _, e := range entities {
		if !q.Enqueue(runCtx, queue.Job{RunID: runID, Entity: e}) {
			s.logger.Warn(ctx, "entity not enqueued", logger.Int64("entity_id", e.ID))
		}
	}
	_ = q.Close()
	if err := pool.Wait(runCtx); err != nil {
		s.logger.Error(ctx, "worker pool did not drain", logger.Error(err))
	}
}

// Acknowledge marks one early signal as seen.
func (s *Service) Acknowledge(ctx context.Context, id int64) error {
	if err := s.store.AcknowledgeEarlySignal(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("acknowledge signal %d: %w", id, err)
	}
	return nil
}

// AcknowledgeAll marks every unacknowledged signal, of kind when set, as seen.
func (s *Service) AcknowledgeAll(ctx context.Context, kind model.Kind) (int64, error) {
	n, err := s.store.AcknowledgeAll(ctx, kind, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("acknowledge all: %w", err)
	}
	return n, nil
}

// Delete removes an early signal permanently.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteEarlySignal(ctx, id); err != nil {
		return fmt.Errorf("delete signal %d: %w", id, err)
	}
	return nil
}

// Get returns one early signal regardless of its state.
func (s *Service) Get(ctx context.Context, id int64) (model.EarlySignal, error) {
	return s.store.GetEarlySignal(ctx, id)
}

// List returns early signals matching f.
func (s *Service) List(ctx context.Context, f repository.ListFilter) ([]model.EarlySignal, error) {
	if f.Now.IsZero() {
		f.Now = s.now().UTC()
	}
	return s.store.ListEarlySignals(ctx, f)
}

// ListActive returns unacknowledged, unexpired signals matching f.
func (s *Service) ListActive(ctx context.Context, f repository.ListFilter) ([]model.EarlySignal, error) {
	f.IncludeAcknowledged = false
	f.IncludeExpired = false
	return s.List(ctx, f)
}

// Summary aggregates the currently active signals.
func (s *Service) Summary(ctx context.Context) (types.ActiveSummary, error) {
	active, err := s.ListActive(ctx, repository.ListFilter{})
	if err != nil {
		return types.ActiveSummary{}, fmt.Errorf("list active signals: %w", err)
	}

	sum := types.ActiveSummary{
		TotalActive: len(active),
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
	}
	entities := make(map[int64]struct{})
	for _, sig := range active {
		sum.ByKind[string(sig.Kind)]++
		sum.BySeverity[string(sig.Severity)]++
		entities[sig.EntityID] = struct{}{}
	}
	sum.EntitiesWithSignals = len(entities)

	metrics.UpdateActiveSignals(sum.TotalActive)
	return sum, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"workerCount":   s.workerCount,
		"interval":      s.interval.String(),
		"runInProgress": s.running.Load(),
		"runs":          s.runs,
	}
	if !s.lastAt.IsZero() {
		stats["lastRunId"] = s.lastRun.RunID
		stats["lastRunAt"] = s.lastAt.Format(time.RFC3339)
		stats["lastEntitiesScanned"] = s.lastRun.EntitiesScanned
		stats["lastSignalsDetected"] = s.lastRun.SignalsDetected
	}
	if s.lastErr != nil {
		stats["lastError"] = s.lastErr.Error()
	}
	return stats
}
