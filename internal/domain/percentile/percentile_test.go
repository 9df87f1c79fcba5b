package percentile_test

import (
	"testing"

	percentile "github.com/okian/starsignal/internal/domain/percentile"
	. "github.com/smartystreets/goconvey/convey"
)

func TestIndexRank(t *testing.T) {
	Convey("Given an index of ten distinct velocities", t, func() {
		idx := percentile.New([]float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5})

		Convey("Then the maximum ranks at 90", func() {
			So(idx.Rank(10), ShouldEqual, 90)
		})

		Convey("Then the minimum ranks at 0", func() {
			So(idx.Rank(1), ShouldEqual, 0)
		})

		Convey("Then a value above everything ranks at 100", func() {
			So(idx.Rank(11), ShouldEqual, 100)
		})

		Convey("Then a value between entries counts strictly smaller ones", func() {
			So(idx.Rank(5.5), ShouldEqual, 50)
		})
	})

	Convey("Given an index with ties", t, func() {
		idx := percentile.New([]float64{3, 3, 3, 1})

		Convey("Then equal values are not counted as below", func() {
			So(idx.Rank(3), ShouldEqual, 25)
		})
	})

	Convey("Given an empty index", t, func() {
		idx := percentile.New(nil)

		Convey("Then every rank is 0", func() {
			So(idx.Rank(42), ShouldEqual, 0)
			So(idx.Len(), ShouldEqual, 0)
		})
	})

	Convey("Given a caller-owned slice", t, func() {
		values := []float64{3, 1, 2}
		idx := percentile.New(values)

		Convey("Then building the index does not reorder it", func() {
			So(values, ShouldResemble, []float64{3, 1, 2})
			So(idx.Len(), ShouldEqual, 3)
		})
	})
}
