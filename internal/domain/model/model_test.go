package model_test

import (
	"testing"
	"time"

	model "github.com/okian/starsignal/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEarlySignalActive(t *testing.T) {
	convey.Convey("Given an early signal", t, func() {
		now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		sig := model.EarlySignal{
			EntityID:   7,
			Kind:       model.KindRisingStar,
			Severity:   model.SeverityLow,
			DetectedAt: now,
			ExpiresAt:  now.Add(7 * 24 * time.Hour),
		}

		convey.Convey("When it is fresh and unacknowledged", func() {
			convey.Convey("Then it is active", func() {
				convey.So(sig.IsActive(now), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When it is acknowledged", func() {
			ack := now
			sig.Acknowledged = true
			sig.AcknowledgedAt = &ack

			convey.Convey("Then it is no longer active", func() {
				convey.So(sig.IsActive(now), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the clock reaches the expiry exactly", func() {
			convey.Convey("Then it is no longer active", func() {
				convey.So(sig.IsActive(sig.ExpiresAt), convey.ShouldBeFalse)
				convey.So(sig.IsActive(sig.ExpiresAt.Add(-time.Nanosecond)), convey.ShouldBeTrue)
			})
		})

		convey.Convey("Then its key combines entity and kind", func() {
			convey.So(sig.Key(), convey.ShouldResemble, model.Key{EntityID: 7, Kind: model.KindRisingStar})
		})
	})
}

func TestSeverityWeight(t *testing.T) {
	convey.Convey("Given the severities", t, func() {
		convey.Convey("Then high outranks medium outranks low", func() {
			convey.So(model.SeverityHigh.Weight(), convey.ShouldBeGreaterThan, model.SeverityMedium.Weight())
			convey.So(model.SeverityMedium.Weight(), convey.ShouldBeGreaterThan, model.SeverityLow.Weight())
			convey.So(model.Severity("bogus").Weight(), convey.ShouldEqual, 0)
		})
	})
}

func TestDay(t *testing.T) {
	convey.Convey("Given a timestamp in a non-UTC zone", t, func() {
		loc := time.FixedZone("UTC+9", 9*3600)
		ts := time.Date(2026, 3, 10, 2, 30, 0, 0, loc) // 2026-03-09 17:30 UTC

		convey.Convey("Then Day truncates to the UTC calendar day", func() {
			convey.So(model.Day(ts), convey.ShouldEqual, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
		})
	})
}

func TestEnumerations(t *testing.T) {
	convey.Convey("Given the enumerations", t, func() {
		convey.Convey("Then every signal type and kind is listed once", func() {
			convey.So(model.SignalTypes(), convey.ShouldHaveLength, 5)
			convey.So(model.Kinds(), convey.ShouldHaveLength, 4)
		})
	})
}
