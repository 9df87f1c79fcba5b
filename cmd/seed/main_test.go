package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/okian/starsignal/internal/adapters/repository"
	"github.com/okian/starsignal/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestRun(t *testing.T) {
	convey.Convey("Given an empty database file", t, func() {
		ctx := context.Background()
		db := filepath.Join(t.TempDir(), "seed.db")

		convey.Convey("When the scenario and a small plan are seeded with detection", func() {
			err := run(ctx, db, 5, 31, 7, true, true)

			convey.Convey("Then every repository is stored", func() {
				convey.So(err, convey.ShouldBeNil)

				store, err := repository.OpenSQLite(db)
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = store.Close() }()

				entities, err := store.ListEntities(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(entities, convey.ShouldHaveLength, 8)
			})
		})

		convey.Convey("When the database path cannot be opened", func() {
			err := run(ctx, filepath.Join(t.TempDir(), "missing", "dir", "seed.db"), 1, 2, 1, false, false)

			convey.Convey("Then an error is returned", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
