package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/starsignal/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDetectionResultJSON(t *testing.T) {
	Convey("Given a detection result", t, func() {
		res := types.DetectionResult{
			RunID:           "run-1",
			EntitiesScanned: 3,
			SignalsDetected: 2,
			ByKind:          map[string]int{"rising_star": 1, "breakout": 1},
		}

		Convey("When encoding it", func() {
			raw, err := json.Marshal(res)

			Convey("Then it uses snake_case keys", func() {
				So(err, ShouldBeNil)
				So(string(raw), ShouldContainSubstring, `"entities_scanned":3`)
				So(string(raw), ShouldContainSubstring, `"signals_detected":2`)
				So(string(raw), ShouldContainSubstring, `"by_kind"`)
			})
		})
	})
}

func TestActiveSummaryZeroValue(t *testing.T) {
	Convey("Given an empty active summary", t, func() {
		var s types.ActiveSummary

		Convey("Then its counters are zero", func() {
			So(s.TotalActive, ShouldEqual, 0)
			So(s.EntitiesWithSignals, ShouldEqual, 0)
			So(s.ByKind, ShouldBeNil)
		})
	})
}
