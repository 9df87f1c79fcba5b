package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/starsignal/internal/adapters/repository"
	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/internal/seed"
	"github.com/okian/starsignal/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestSeries(t *testing.T) {
	Convey("Given the scenario repositories", t, func() {
		repos := seed.Scenario()

		Convey("When a steady series is generated", func() {
			s := seed.Series(repos[0], 31, now)

			Convey("Then it grows by Daily and ends today", func() {
				So(s, ShouldHaveLength, 31)
				So(s[0].Stars, ShouldEqual, 1400)
				So(s[30].Stars, ShouldEqual, 2000)
				So(s[30].Date, ShouldEqual, model.Day(now))
				So(s[0].Date, ShouldEqual, model.Day(now).AddDate(0, 0, -30))
			})
		})

		Convey("When a spike series is generated", func() {
			s := seed.Series(repos[1], 31, now)

			Convey("Then only today jumps", func() {
				So(s[29].Stars, ShouldEqual, 10000)
				So(s[30].Stars, ShouldEqual, 10800)
			})
		})

		Convey("When a steady series shrinks below zero", func() {
			s := seed.Series(seed.Repo{Profile: seed.ProfileSteady, Base: 10, Daily: -5}, 5, now)

			Convey("Then stars are clamped at zero", func() {
				So(s[4].Stars, ShouldEqual, 0)
			})
		})
	})
}

func TestPlan(t *testing.T) {
	Convey("Given a seed", t, func() {
		Convey("Then the same seed yields the same plan", func() {
			So(seed.Plan(20, 42), ShouldResemble, seed.Plan(20, 42))
		})

		Convey("Then different seeds yield different names", func() {
			So(seed.Plan(1, 1)[0].Name, ShouldNotEqual, seed.Plan(1, 2)[0].Name)
		})
	})
}

func TestPopulate(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()

		Convey("When the scenario is populated", func() {
			st, err := seed.Populate(ctx, store, seed.Scenario(), 31, now)

			Convey("Then every entity, snapshot and mention is written", func() {
				So(err, ShouldBeNil)
				So(st, ShouldResemble, seed.Stats{Entities: 3, Snapshots: 93, Mentions: 1})

				mentions, _ := store.RecentMentions(ctx, now.Add(-2*time.Hour), 0)
				So(mentions, ShouldHaveLength, 1)
				So(mentions[0].Score, ShouldEqual, 250)
			})
		})

		Convey("When the store is closed", func() {
			_ = store.Close()
			_, err := seed.Populate(ctx, store, seed.Scenario(), 31, now)

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
