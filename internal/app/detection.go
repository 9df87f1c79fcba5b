package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/starsignal/internal/adapters/mq/queue"
	"github.com/okian/starsignal/internal/adapters/mq/worker"
	"github.com/okian/starsignal/internal/domain/dedupe"
	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/internal/domain/percentile"
	"github.com/okian/starsignal/internal/domain/types"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/okian/starsignal/pkg/metrics"
)

// DetectAll evaluates every entity and returns the findings that survive
// deduplication. Nothing is persisted.
func (s *Service) DetectAll(ctx context.Context) ([]model.EarlySignal, error) {
	found, _, _, err := s.detectBatch(ctx, uuid.NewString())
	return found, err
}

// DetectAllForEntity evaluates one entity on demand. Without a pre-loaded
// active set the guard asks the store per finding. Nothing is persisted.
func (s *Service) DetectAllForEntity(ctx context.Context, entityID int64) ([]model.EarlySignal, error) {
	e, err := s.entity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	dc, err := s.buildContext(ctx, []int64{entityID}, now)
	if err != nil {
		return nil, err
	}
	guard := dedupe.New(dedupe.WithLookup(s.store), dedupe.WithClock(s.now))
	return s.evaluate(ctx, "", e, dc, guard), nil
}

// RunDetection runs DetectAll and persists the findings, one transaction
// per entity. Runs never overlap; a concurrent call gets ErrRunInProgress.
// When a commit fails the run aborts and reports zero detections.
func (s *Service) RunDetection(ctx context.Context) (types.DetectionResult, error) {
	if !s.runMu.TryLock() {
		return types.DetectionResult{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	return s.runDetection(ctx)
}

// RunCycle recalculates the metrics of every entity and then runs detection.
func (s *Service) RunCycle(ctx context.Context) (types.DetectionResult, error) {
	if !s.runMu.TryLock() {
		return types.DetectionResult{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	if _, err := s.CalculateAll(ctx); err != nil {
		return types.DetectionResult{}, err
	}
	return s.runDetection(ctx)
}

func (s *Service) runDetection(ctx context.Context) (types.DetectionResult, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	start := time.Now()
	runID := uuid.NewString()
	result := types.DetectionResult{RunID: runID, ByKind: make(map[string]int)}
	s.logger.Info(ctx, "detection run started", logger.String("run_id", runID))

	found, scanned, guard, err := s.detectBatch(ctx, runID)
	if err != nil {
		s.finishRun(ctx, result, start, err)
		return result, err
	}
	result.EntitiesScanned = scanned

	stored, err := s.persist(ctx, runID, found, guard)
	if err != nil {
		s.finishRun(ctx, result, start, err)
		return result, err
	}
	for _, sig := range stored {
		result.SignalsDetected++
		result.ByKind[string(sig.Kind)]++
	}

	s.finishRun(ctx, result, start, nil)
	return result, nil
}

func (s *Service) finishRun(ctx context.Context, result types.DetectionResult, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.RecordDetectionRun(status, float64(elapsed.Microseconds())/1000)
	metrics.UpdateEntitiesScanned(result.EntitiesScanned)

	s.mu.Lock()
	s.runs++
	s.lastRun = result
	s.lastAt = s.now().UTC()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "detection run failed",
			logger.String("run_id", result.RunID),
			logger.Duration("elapsed", elapsed),
			logger.Error(err),
		)
		return
	}
	s.logger.Info(ctx, "detection run complete",
		logger.String("run_id", result.RunID),
		logger.Int("entities_scanned", result.EntitiesScanned),
		logger.Int("signals_detected", result.SignalsDetected),
		logger.Any("by_kind", result.ByKind),
		logger.Duration("elapsed", elapsed),
	)
}

// detectBatch pre-loads the run's view, evaluates every entity on the worker
// pool and returns the surviving findings grouped by entity id.
func (s *Service) detectBatch(ctx context.Context, runID string) ([]model.EarlySignal, int, dedupe.Deduper, error) {
	now := s.now().UTC()

	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list entities: %w", err)
	}
	dc, err := s.buildContext(ctx, nil, now)
	if err != nil {
		return nil, 0, nil, err
	}
	active, err := s.store.ActiveEarlySignalKeys(ctx, now)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("load active keys: %w", err)
	}
	guard := dedupe.New(dedupe.WithActiveKeys(active), dedupe.WithClock(s.now))

	var (
		mu    sync.Mutex
		found []model.EarlySignal
	)
	s.fanOut(ctx, runID, entities, worker.ProcessorFunc(func(ctx context.Context, job queue.Job) error {
		kept := s.evaluate(ctx, job.RunID, job.Entity, dc, guard)
		if len(kept) > 0 {
			mu.Lock()
			found = append(found, kept...)
			mu.Unlock()
		}
		return nil
	}))

	// each entity's findings were appended together in battery order
	sort.SliceStable(found, func(i, j int) bool { return found[i].EntityID < found[j].EntityID })
	return found, len(entities), guard, nil
}

// buildContext bulk-loads what the detectors read. A nil ids slice loads
// every entity.
func (s *Service) buildContext(ctx context.Context, ids []int64, now time.Time) (*detect.Context, error) {
	latest, err := s.store.LatestSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshots: %w", err)
	}
	sigs, err := s.store.SignalMap(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	velocities, err := s.store.VelocityValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("load velocities: %w", err)
	}
	t := s.battery.Thresholds()
	mentions, err := s.store.RecentMentions(ctx, now.Add(-t.ViralWindow), t.ViralMinScore)
	if err != nil {
		return nil, fmt.Errorf("load mentions: %w", err)
	}

	return &detect.Context{
		Now:        now,
		Latest:     latest,
		Signals:    sigs,
		Percentile: percentile.FromSorted(velocities),
		Mentions:   detect.GroupMentions(mentions),
		Series:     s.store,
	}, nil
}

// evaluate runs the battery for one entity and filters the findings through
// the guard. Detector and guard failures are logged and skipped.
func (s *Service) evaluate(ctx context.Context, runID string, e model.Entity, dc *detect.Context, guard dedupe.Deduper) []model.EarlySignal {
	found, failures := s.battery.Run(ctx, e, dc)
	for _, f := range failures {
		metrics.RecordDetectorError(f.Detector)
		s.logger.Error(ctx, "detector failed",
			logger.String("run_id", runID),
			logger.Int64("entity_id", e.ID),
			logger.String("entity", e.FullName),
			logger.String("detector", f.Detector),
			logger.Error(f.Err),
		)
	}

	kept := found[:0]
	for _, sig := range found {
		ok, err := guard.Allow(ctx, sig.Key())
		if err != nil {
			s.logger.Error(ctx, "dedup check failed",
				logger.String("run_id", runID),
				logger.Int64("entity_id", e.ID),
				logger.String("kind", string(sig.Kind)),
				logger.Error(err),
			)
			continue
		}
		if !ok {
			metrics.RecordDetectionSuppressed(string(sig.Kind))
			continue
		}
		kept = append(kept, sig)
	}
	return kept
}

// persist commits the findings of each entity in its own transaction. On
// the first failure the keys of that entity are released and the error is
// returned.
func (s *Service) persist(ctx context.Context, runID string, found []model.EarlySignal, guard dedupe.Deduper) ([]model.EarlySignal, error) {
	stored := make([]model.EarlySignal, 0, len(found))
	for i := 0; i < len(found); {
		j := i
		for j < len(found) && found[j].EntityID == found[i].EntityID {
			j++
		}
		batch := found[i:j]

		saved, err := s.store.InsertEarlySignals(ctx, batch)
		if err != nil {
			for _, sig := range batch {
				guard.Release(ctx, sig.Key())
			}
			return stored, fmt.Errorf("persist findings of entity %d: %w", batch[0].EntityID, err)
		}
		for _, sig := range saved {
			metrics.RecordDetection(string(sig.Kind), string(sig.Severity))
			s.logger.Debug(ctx, "early signal stored",
				logger.String("run_id", runID),
				logger.Int64("entity_id", sig.EntityID),
				logger.String("kind", string(sig.Kind)),
				logger.String("severity", string(sig.Severity)),
			)
		}
		stored = append(stored, saved...)
		i = j
	}
	return stored, nil
}

func (s *Service) entity(ctx context.Context, id int64) (model.Entity, error) {
	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return model.Entity{}, fmt.Errorf("list entities: %w", err)
	}
	for _, e := range entities {
		if e.ID == id {
			return e, nil
		}
	}
	return model.Entity{}, fmt.Errorf("%w: %d", ErrEntityNotFound, id)
}
