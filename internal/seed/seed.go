// Package seed generates deterministic repositories with daily star
// histories and writes them to a store.
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/okian/starsignal/internal/domain/model"
	"github.com/okian/starsignal/pkg/logger"
)

// Profile shapes the star history of a generated repository.
type Profile string

// Generated history shapes.
const (
	ProfileFlat   Profile = "flat"   // constant stars
	ProfileSteady Profile = "steady" // Base + Daily per day
	ProfileSpike  Profile = "spike"  // flat, then Jump stars today
	ProfileViral  Profile = "viral"  // flat, plus a Hacker News mention
)

// Profiles returns every profile in generation order.
func Profiles() []Profile {
	return []Profile{ProfileFlat, ProfileSteady, ProfileSpike, ProfileViral}
}

const (
	defaultDays = 31
	mentionAge  = time.Hour
)

// Repo describes one generated repository.
type Repo struct {
	Name         string
	Profile      Profile
	Base         int64
	Daily        int64
	Jump         int64
	MentionScore int64
}

// Writer is the part of a store Populate needs.
type Writer interface {
	AddEntity(ctx context.Context, fullName string) (model.Entity, error)
	AddSnapshot(ctx context.Context, snap model.Snapshot) error
	AddMention(ctx context.Context, m model.Mention) error
}

// Stats counts what Populate wrote.
type Stats struct {
	Entities  int
	Snapshots int
	Mentions  int
}

// Scenario returns a fixed set of repositories with known detector outcomes:
// a rising star, a spike that is also a breakout, and a quiet repository
// that is viral on Hacker News.
func Scenario() []Repo {
	return []Repo{
		{Name: "acme/rocket", Profile: ProfileSteady, Base: 1400, Daily: 20},
		{Name: "acme/spike", Profile: ProfileSpike, Base: 10000, Jump: 800},
		{Name: "acme/quiet", Profile: ProfileViral, Base: 300, MentionScore: 250},
	}
}

// Plan generates n repositories from seed. The same seed yields the same plan.
func Plan(n int, seed uint64) []Repo {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	profiles := Profiles()

	repos := make([]Repo, n)
	for i := range repos {
		p := profiles[rng.IntN(len(profiles))]
		name := uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "starsignal/%d/%d", seed, i))
		r := Repo{
			Name:    "seed/" + name.String()[:8],
			Profile: p,
			Base:    rng.Int64N(20000),
		}
		switch p {
		case ProfileSteady:
			r.Daily = rng.Int64N(60) - 5
		case ProfileSpike:
			r.Jump = 100 + rng.Int64N(1500)
		case ProfileViral:
			r.MentionScore = 50 + rng.Int64N(700)
		}
		repos[i] = r
	}
	return repos
}

// Series returns the snapshots of r for days days ending today, oldest first.
// EntityID is left zero.
func Series(r Repo, days int, today time.Time) []model.Snapshot {
	if days <= 0 {
		days = defaultDays
	}
	today = model.Day(today)

	out := make([]model.Snapshot, days)
	for i := range out {
		age := days - 1 - i
		stars := r.Base
		switch r.Profile {
		case ProfileSteady:
			stars = r.Base + r.Daily*int64(i)
		case ProfileSpike:
			if age == 0 {
				stars = r.Base + r.Jump
			}
		}
		if stars < 0 {
			stars = 0
		}
		out[i] = model.Snapshot{
			Date:  today.AddDate(0, 0, -age),
			Stars: stars,
			Forks: stars / 10,
		}
	}
	return out
}

// Populate writes repos with days of history ending at now. Viral repositories
// get a mention fetched an hour before now.
func Populate(ctx context.Context, w Writer, repos []Repo, days int, now time.Time) (Stats, error) {
	var st Stats
	for _, r := range repos {
		e, err := w.AddEntity(ctx, r.Name)
		if err != nil {
			return st, fmt.Errorf("add entity %s: %w", r.Name, err)
		}
		st.Entities++

		for _, snap := range Series(r, days, now) {
			snap.EntityID = e.ID
			if err := w.AddSnapshot(ctx, snap); err != nil {
				return st, fmt.Errorf("add snapshot %s %s: %w", r.Name, snap.Date.Format(time.DateOnly), err)
			}
			st.Snapshots++
		}

		if r.Profile == ProfileViral {
			m := model.Mention{
				EntityID:  e.ID,
				Source:    model.MentionSourceHackerNews,
				Title:     "Show HN: " + r.Name,
				URL:       "https://news.ycombinator.com/item?id=" + fmt.Sprint(e.ID),
				Score:     r.MentionScore,
				FetchedAt: now.Add(-mentionAge),
			}
			if err := w.AddMention(ctx, m); err != nil {
				return st, fmt.Errorf("add mention %s: %w", r.Name, err)
			}
			st.Mentions++
		}
	}

	logger.Get().Named("seed").Info(ctx, "seed data written",
		logger.Int("entities", st.Entities),
		logger.Int("snapshots", st.Snapshots),
		logger.Int("mentions", st.Mentions),
	)
	return st, nil
}
