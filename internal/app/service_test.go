package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/starsignal/internal/app"
	"github.com/okian/starsignal/internal/adapters/repository"
	"github.com/okian/starsignal/internal/domain/detect"
	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/internal/seed"
	"github.com/okian/starsignal/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// seeded returns a memory store holding the scenario and the entities by name.
func seeded(ctx context.Context) (*repository.MemoryStore, map[string]model.Entity) {
	store := repository.NewMemoryStore()
	if _, err := seed.Populate(ctx, store, seed.Scenario(), 31, now); err != nil {
		panic(err)
	}
	entities, _ := store.ListEntities(ctx)
	byName := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byName[e.FullName] = e
	}
	return store, byName
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New(repository.NewMemoryStore())

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["runs"], ShouldEqual, int64(0))
		})
	})
}

func TestService_CalculateAll(t *testing.T) {
	Convey("Given a seeded store", t, func() {
		ctx := context.Background()
		store, repos := seeded(ctx)
		svc := service.New(store, service.WithClock(clock), service.WithWorkerCount(2))

		Convey("When all metrics are calculated", func() {
			n, err := svc.CalculateAll(ctx)

			Convey("Then every entity stores its five metrics", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
				So(store.SignalCount(), ShouldEqual, 15)

				v, _ := store.SignalValue(ctx, repos["acme/rocket"].ID, model.SignalVelocity)
				So(*v, ShouldEqual, 20)
				trend, _ := store.SignalValue(ctx, repos["acme/rocket"].ID, model.SignalTrend)
				So(*trend, ShouldEqual, 1)
			})
		})
	})
}

func TestService_RunDetection(t *testing.T) {
	Convey("Given a seeded store with calculated metrics", t, func() {
		ctx := context.Background()
		store, repos := seeded(ctx)
		svc := service.New(store, service.WithClock(clock), service.WithWorkerCount(3))
		_, err := svc.CalculateAll(ctx)
		So(err, ShouldBeNil)

		Convey("When detection runs", func() {
			result, err := svc.RunDetection(ctx)

			Convey("Then every scenario finding is persisted", func() {
				So(err, ShouldBeNil)
				So(result.RunID, ShouldNotBeEmpty)
				So(result.EntitiesScanned, ShouldEqual, 3)
				So(result.SignalsDetected, ShouldEqual, 4)
				So(result.ByKind, ShouldResemble, map[string]int{
					"rising_star":   1,
					"sudden_spike":  1,
					"breakout":      1,
					"viral_mention": 1,
				})
			})

			Convey("Then the rising star carries its percentile", func() {
				list, _ := svc.ListActive(ctx, repository.ListFilter{Kind: model.KindRisingStar})
				So(list, ShouldHaveLength, 1)
				So(list[0].EntityID, ShouldEqual, repos["acme/rocket"].ID)
				So(list[0].Severity, ShouldEqual, model.SeverityMedium)
				So(*list[0].PercentileRank, ShouldAlmostEqual, 100.0/3, 0.001)
				So(list[0].Description, ShouldEqual, "Rising star: 2,000 stars with 20.0 stars/day velocity")
			})

			Convey("Then the summary counts the active signals", func() {
				sum, err := svc.Summary(ctx)
				So(err, ShouldBeNil)
				So(sum.TotalActive, ShouldEqual, 4)
				So(sum.EntitiesWithSignals, ShouldEqual, 3)
				So(sum.BySeverity, ShouldResemble, map[string]int{"medium": 3, "high": 1})
			})

			Convey("And detection runs again", func() {
				again, err := svc.RunDetection(ctx)

				Convey("Then active signals suppress duplicates", func() {
					So(err, ShouldBeNil)
					So(again.EntitiesScanned, ShouldEqual, 3)
					So(again.SignalsDetected, ShouldEqual, 0)
					So(again.RunID, ShouldNotEqual, result.RunID)
				})
			})

			Convey("And a signal is acknowledged before the next run", func() {
				list, _ := svc.ListActive(ctx, repository.ListFilter{Kind: model.KindBreakout})
				So(svc.Acknowledge(ctx, list[0].ID), ShouldBeNil)
				again, err := svc.RunDetection(ctx)

				Convey("Then only that kind fires again", func() {
					So(err, ShouldBeNil)
					So(again.SignalsDetected, ShouldEqual, 1)
					So(again.ByKind["breakout"], ShouldEqual, 1)
				})
			})
		})
	})
}

func TestService_DetectAll(t *testing.T) {
	Convey("Given a seeded store with calculated metrics", t, func() {
		ctx := context.Background()
		store, repos := seeded(ctx)
		svc := service.New(store, service.WithClock(clock))
		_, _ = svc.CalculateAll(ctx)

		Convey("When DetectAll runs", func() {
			found, err := svc.DetectAll(ctx)

			Convey("Then findings are returned in entity order without being stored", func() {
				So(err, ShouldBeNil)
				So(found, ShouldHaveLength, 4)
				So(found[0].EntityID, ShouldEqual, repos["acme/rocket"].ID)
				So(found[1].Kind, ShouldEqual, model.KindSuddenSpike)
				So(found[2].Kind, ShouldEqual, model.KindBreakout)
				list, _ := svc.List(ctx, repository.ListFilter{IncludeAcknowledged: true, IncludeExpired: true})
				So(list, ShouldBeEmpty)
			})
		})

		Convey("When one entity is evaluated on demand", func() {
			found, err := svc.DetectAllForEntity(ctx, repos["acme/spike"].ID)

			Convey("Then its two findings are returned", func() {
				So(err, ShouldBeNil)
				So(found, ShouldHaveLength, 2)
				So(found[0].Description, ShouldEqual, "Sudden spike: +800 stars today (vs avg 0/day)")
				So(*found[0].StarCount, ShouldEqual, 10800)
				So(found[1].Severity, ShouldEqual, model.SeverityHigh)
			})

			Convey("And after a run has stored them", func() {
				_, err := svc.RunDetection(ctx)
				So(err, ShouldBeNil)
				found, err := svc.DetectAllForEntity(ctx, repos["acme/spike"].ID)

				Convey("Then the store lookup suppresses them", func() {
					So(err, ShouldBeNil)
					So(found, ShouldBeEmpty)
				})
			})
		})

		Convey("When an unknown entity is evaluated", func() {
			_, err := svc.DetectAllForEntity(ctx, 999)

			Convey("Then ErrEntityNotFound is returned", func() {
				So(errors.Is(err, service.ErrEntityNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_CorruptEntity(t *testing.T) {
	Convey("Given a battery with a detector that panics on one entity", t, func() {
		ctx := context.Background()
		store, repos := seeded(ctx)
		corrupt := repos["acme/quiet"].ID

		battery := detect.NewBattery(detect.DefaultThresholds())
		battery.Register("corrupt", model.KindBreakout, func(_ context.Context, e model.Entity, _ *detect.Context) (*model.EarlySignal, error) {
			if e.ID == corrupt {
				panic("corrupt row")
			}
			return nil, nil
		})
		svc := service.New(store, service.WithClock(clock), service.WithBattery(battery))
		_, _ = svc.CalculateAll(ctx)

		Convey("When detection runs", func() {
			result, err := svc.RunDetection(ctx)

			Convey("Then the batch still scans every entity", func() {
				So(err, ShouldBeNil)
				So(result.EntitiesScanned, ShouldEqual, 3)
				So(result.SignalsDetected, ShouldEqual, 4)
			})
		})
	})
}

// failingStore fails InsertEarlySignals for one entity.
type failingStore struct {
	repository.Store
	failFor int64
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) InsertEarlySignals(ctx context.Context, sigs []model.EarlySignal) ([]model.EarlySignal, error) {
	for _, s := range sigs {
		if s.EntityID == f.failFor {
			return nil, errDiskFull
		}
	}
	return f.Store.InsertEarlySignals(ctx, sigs)
}

func TestService_CommitFailure(t *testing.T) {
	Convey("Given a store that cannot commit one entity", t, func() {
		ctx := context.Background()
		store, repos := seeded(ctx)
		svc := service.New(&failingStore{Store: store, failFor: repos["acme/spike"].ID}, service.WithClock(clock))
		_, _ = svc.CalculateAll(ctx)

		Convey("When detection runs", func() {
			result, err := svc.RunDetection(ctx)

			Convey("Then the error surfaces and zero detections are reported", func() {
				So(errors.Is(err, errDiskFull), ShouldBeTrue)
				So(result.SignalsDetected, ShouldEqual, 0)
				So(result.ByKind, ShouldBeEmpty)
				So(svc.GetStats()["lastError"], ShouldContainSubstring, "disk full")
			})

			Convey("Then no finding of the failed entity is stored", func() {
				list, _ := svc.ListActive(ctx, repository.ListFilter{EntityID: repos["acme/spike"].ID})
				So(list, ShouldBeEmpty)
			})
		})
	})
}

// blockingStore parks ListEntities until released.
type blockingStore struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListEntities(ctx context.Context) ([]model.Entity, error) {
	select {
	case b.entered <- struct{}{}:
		<-b.release
	default:
	}
	return b.Store.ListEntities(ctx)
}

func TestService_RunsDoNotOverlap(t *testing.T) {
	Convey("Given a run that is in flight", t, func() {
		ctx := context.Background()
		store, _ := seeded(ctx)
		bs := &blockingStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
		svc := service.New(bs, service.WithClock(clock))

		done := make(chan error, 1)
		go func() {
			_, err := svc.RunDetection(ctx)
			done <- err
		}()
		<-bs.entered

		Convey("When another run is requested", func() {
			_, err := svc.RunDetection(ctx)
			_, cycleErr := svc.RunCycle(ctx)
			close(bs.release)

			Convey("Then it is rejected and the first run completes", func() {
				So(errors.Is(err, service.ErrRunInProgress), ShouldBeTrue)
				So(errors.Is(cycleErr, service.ErrRunInProgress), ShouldBeTrue)
				So(<-done, ShouldBeNil)
			})
		})
	})
}

func TestService_Management(t *testing.T) {
	Convey("Given stored findings", t, func() {
		ctx := context.Background()
		store, _ := seeded(ctx)
		svc := service.New(store, service.WithClock(clock))
		_, err := svc.RunCycle(ctx)
		So(err, ShouldBeNil)

		Convey("When all rising stars are acknowledged", func() {
			n, err := svc.AcknowledgeAll(ctx, model.KindRisingStar)

			Convey("Then only that kind leaves the active set", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				sum, _ := svc.Summary(ctx)
				So(sum.TotalActive, ShouldEqual, 3)
				So(sum.ByKind["rising_star"], ShouldEqual, 0)
			})
		})

		Convey("When a signal is deleted", func() {
			list, _ := svc.ListActive(ctx, repository.ListFilter{})
			So(svc.Delete(ctx, list[0].ID), ShouldBeNil)

			Convey("Then it cannot be read back", func() {
				_, err := svc.Get(ctx, list[0].ID)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(svc.Delete(ctx, list[0].ID), repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When listing active signals", func() {
			list, _ := svc.ListActive(ctx, repository.ListFilter{})

			Convey("Then the most severe come first", func() {
				So(list, ShouldHaveLength, 4)
				So(list[0].Severity, ShouldEqual, model.SeverityHigh)
			})
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a service with a short interval", t, func() {
		ctx := context.Background()
		store, _ := seeded(ctx)
		svc := service.New(store, service.WithClock(clock), service.WithInterval(10*time.Millisecond))

		Convey("When it is started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			deadline := time.Now().Add(5 * time.Second)
			for svc.GetStats()["runs"].(int64) == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			svc.Stop()

			Convey("Then scheduled cycles run until it is stopped", func() {
				stats := svc.GetStats()
				So(stats["runs"], ShouldBeGreaterThan, int64(0))
				So(stats["started"], ShouldEqual, false)
				So(stats["lastEntitiesScanned"], ShouldEqual, 3)
			})
		})
	})

	Convey("Given a service without an interval", t, func() {
		svc := service.New(repository.NewMemoryStore(), service.WithInterval(0))

		Convey("Then start and stop return immediately", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}
