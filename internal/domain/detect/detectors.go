package detect

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/okian/starsignal/internal/domain/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrNoSeries is returned by SuddenSpike when the Context has no SeriesSource.
var ErrNoSeries = errors.New("detect: context has no snapshot series source")

const viralTitleRunes = 50

var printer = message.NewPrinter(language.English)

// Detector evaluates one rule for one entity. It returns nil when the rule
// does not fire.
type Detector func(ctx context.Context, e model.Entity, dc *Context) (*model.EarlySignal, error)

func newSignal(e model.Entity, kind model.Kind, sev model.Severity, dc *Context, ttl time.Duration) *model.EarlySignal {
	return &model.EarlySignal{
		EntityID:   e.ID,
		Kind:       kind,
		Severity:   sev,
		DetectedAt: dc.Now,
		ExpiresAt:  dc.Now.Add(ttl),
	}
}

// RisingStar flags small repositories that gain stars fast in absolute or
// relative terms.
func RisingStar(t Thresholds) Detector {
	return func(_ context.Context, e model.Entity, dc *Context) (*model.EarlySignal, error) {
		snap, ok := dc.LatestSnapshot(e.ID)
		if !ok || snap.Stars >= t.RisingStarMaxStars {
			return nil, nil
		}
		velocity, ok := dc.Signal(e.ID, model.SignalVelocity)
		if !ok {
			return nil, nil
		}

		var ratio float64
		if snap.Stars > 0 {
			ratio = velocity / float64(snap.Stars)
		}
		if velocity < t.RisingStarMinVelocity && ratio < t.RisingStarVelocityRatio {
			return nil, nil
		}

		sev := model.SeverityLow
		switch {
		case velocity >= t.RisingStarHighVelocity || ratio >= t.RisingStarHighRatio:
			sev = model.SeverityHigh
		case velocity >= t.RisingStarMediumVelocity || ratio >= t.RisingStarMediumRatio:
			sev = model.SeverityMedium
		}

		var rank float64
		if dc.Percentile != nil {
			rank = dc.Percentile.Rank(velocity)
		}

		sig := newSignal(e, model.KindRisingStar, sev, dc, t.RisingStarTTL)
		sig.Description = fmt.Sprintf("Rising star: %s stars with %.1f stars/day velocity", thousands(snap.Stars), velocity)
		sig.VelocityValue = model.Float64(velocity)
		sig.StarCount = model.Int64(snap.Stars)
		sig.PercentileRank = model.Float64(rank)
		return sig, nil
	}
}

// SuddenSpike flags a latest daily gain far above the recent daily average.
func SuddenSpike(t Thresholds) Detector {
	return func(ctx context.Context, e model.Entity, dc *Context) (*model.EarlySignal, error) {
		if dc.Series == nil {
			return nil, ErrNoSeries
		}
		series, err := dc.Series.RecentSnapshots(ctx, e.ID, t.SuddenSpikeWindow)
		if err != nil {
			return nil, fmt.Errorf("recent snapshots: %w", err)
		}
		if len(series) < 2 {
			return nil, nil
		}

		deltas := make([]int64, len(series)-1)
		for i := range deltas {
			deltas[i] = series[i].Stars - series[i+1].Stars
		}
		latest := deltas[0]
		var baseline float64
		if rest := deltas[1:]; len(rest) > 0 {
			var sum int64
			for _, d := range rest {
				sum += d
			}
			baseline = float64(sum) / float64(len(rest))
		}

		if float64(latest) <= baseline*t.SuddenSpikeMultiplier || latest < t.SuddenSpikeMinAbsolute {
			return nil, nil
		}

		sev := model.SeverityLow
		switch {
		case latest >= t.SuddenSpikeHigh:
			sev = model.SeverityHigh
		case latest >= t.SuddenSpikeMedium:
			sev = model.SeverityMedium
		}

		sig := newSignal(e, model.KindSuddenSpike, sev, dc, t.SuddenSpikeTTL)
		sig.Description = fmt.Sprintf("Sudden spike: +%s stars today (vs avg %.0f/day)", thousands(latest), baseline)
		sig.VelocityValue = model.Float64(float64(latest))
		if series[0].Stars > 0 {
			sig.StarCount = model.Int64(series[0].Stars)
		}
		return sig, nil
	}
}

// Breakout flags a repository whose earlier weeks were flat or shrinking but
// whose current week grows. The prior velocity spreads the 30d-7d
// difference over BreakoutPriorDays.
func Breakout(t Thresholds) Detector {
	return func(_ context.Context, e model.Entity, dc *Context) (*model.EarlySignal, error) {
		d7, ok7 := dc.Signal(e.ID, model.SignalStarsDelta7d)
		d30, ok30 := dc.Signal(e.ID, model.SignalStarsDelta30d)
		if !ok7 || !ok30 {
			return nil, nil
		}

		var current, prior float64
		if d7 != 0 {
			current = d7 / 7
		}
		if d30 != 0 {
			prior = (d30 - d7) / t.BreakoutPriorDays
		}
		if prior > 0 || current < t.BreakoutVelocityThreshold {
			return nil, nil
		}

		sev := model.SeverityLow
		switch {
		case current >= t.BreakoutHigh:
			sev = model.SeverityHigh
		case current >= t.BreakoutMedium:
			sev = model.SeverityMedium
		}

		sig := newSignal(e, model.KindBreakout, sev, dc, t.BreakoutTTL)
		sig.Description = fmt.Sprintf("Breakout: velocity went from %.1f to %.1f stars/day", prior, current)
		sig.VelocityValue = model.Float64(current)
		sig.StarCount = dc.starCount(e.ID)
		return sig, nil
	}
}

// ViralMention flags a recent, highly scored Hacker News mention. The best
// scored qualifying mention wins.
func ViralMention(t Thresholds) Detector {
	return func(_ context.Context, e model.Entity, dc *Context) (*model.EarlySignal, error) {
		cutoff := dc.Now.Add(-t.ViralWindow)
		var best *model.Mention
		for i := range dc.Mentions[e.ID] {
			m := &dc.Mentions[e.ID][i]
			if m.Source != model.MentionSourceHackerNews || m.FetchedAt.Before(cutoff) || m.Score < t.ViralMinScore {
				continue
			}
			if best == nil || m.Score > best.Score {
				best = m
			}
		}
		if best == nil {
			return nil, nil
		}

		sev := model.SeverityLow
		switch {
		case best.Score >= t.ViralHigh:
			sev = model.SeverityHigh
		case best.Score >= t.ViralMedium:
			sev = model.SeverityMedium
		}

		sig := newSignal(e, model.KindViralMention, sev, dc, t.ViralTTL)
		sig.Description = fmt.Sprintf("Viral on HN: \"%s...\" (%d points)", truncate(best.Title, viralTitleRunes), best.Score)
		sig.StarCount = dc.starCount(e.ID)
		return sig, nil
	}
}

// thousands renders n with English digit grouping, e.g. 12,345.
func thousands(n int64) string {
	return printer.Sprintf("%d", n)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
