package dedupe_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dedupe "github.com/okian/starsignal/internal/domain/dedupe"
	"github.com/okian/starsignal/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type stubLookup struct {
	active map[model.Key]bool
	calls  int
	err    error
}

func (s *stubLookup) HasActiveEarlySignal(_ context.Context, id int64, kind model.Kind, _ time.Time) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.active[model.Key{EntityID: id, Kind: kind}], nil
}

func TestGuard(t *testing.T) {
	ctx := context.Background()
	rising := model.Key{EntityID: 1, Kind: model.KindRisingStar}
	spike := model.Key{EntityID: 1, Kind: model.KindSuddenSpike}

	Convey("Given a guard with a pre-loaded active set", t, func() {
		g := dedupe.New(dedupe.WithActiveKeys(map[model.Key]struct{}{rising: {}}))

		Convey("When the key is already active", func() {
			ok, err := g.Allow(ctx, rising)

			Convey("Then the finding is suppressed", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(g.Size(), ShouldEqual, 0)
			})
		})

		Convey("When a free key is emitted twice in one run", func() {
			first, _ := g.Allow(ctx, spike)
			second, _ := g.Allow(ctx, spike)

			Convey("Then only the first is allowed", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				So(g.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a recorded key is released", func() {
			_, _ = g.Allow(ctx, spike)
			g.Release(ctx, spike)
			again, _ := g.Allow(ctx, spike)

			Convey("Then it can be emitted again", func() {
				So(again, ShouldBeTrue)
				So(g.Size(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a guard without a pre-loaded set", t, func() {
		lookup := &stubLookup{active: map[model.Key]bool{rising: true}}
		g := dedupe.New(dedupe.WithLookup(lookup))

		Convey("When checking keys", func() {
			activeOK, _ := g.Allow(ctx, rising)
			freeOK, _ := g.Allow(ctx, spike)

			Convey("Then it falls back to the per-key lookup", func() {
				So(activeOK, ShouldBeFalse)
				So(freeOK, ShouldBeTrue)
				So(lookup.calls, ShouldEqual, 2)
			})
		})

		Convey("When the lookup fails", func() {
			lookup.err = errors.New("db down")
			ok, err := g.Allow(ctx, spike)

			Convey("Then the finding is dropped and the error returned", func() {
				So(ok, ShouldBeFalse)
				So(err, ShouldNotBeNil)
				So(g.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given concurrent callers racing on one key", t, func() {
		g := dedupe.New(dedupe.WithActiveKeys(nil))
		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := g.Allow(ctx, spike); ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins", func() {
			So(allowed, ShouldEqual, 1)
		})
	})
}
