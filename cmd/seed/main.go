package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/okian/starsignal/internal/adapters/repository"
	app "github.com/okian/starsignal/internal/app"
	"github.com/okian/starsignal/internal/seed"
	"github.com/okian/starsignal/pkg/logger"
)

// Default configuration constants.
const (
	defaultRepos   = 100
	defaultDays    = 31
	defaultSeed    = 1
	defaultTimeout = 5 * time.Minute
)

func main() {
	var (
		dbPath   = flag.String("db", "starsignal.db", "SQLite database file to populate")
		repos    = flag.Int("repos", defaultRepos, "Number of generated repositories")
		days     = flag.Int("days", defaultDays, "Days of snapshot history per repository")
		seedVal  = flag.Uint64("seed", defaultSeed, "Random seed for the generated plan")
		scenario = flag.Bool("scenario", false, "Add the fixed rocket/spike/viral scenario repositories")
		detect   = flag.Bool("detect", false, "Recalculate metrics and run detection after seeding")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	err := run(ctx, *dbPath, *repos, *days, *seedVal, *scenario, *detect)
	cancel()
	if err != nil {
		logger.Named("seed").Error(context.Background(), "seed failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string, repos, days int, seedVal uint64, scenario, detect bool) error {
	log := logger.Named("seed")

	store, err := repository.OpenSQLite(dbPath, repository.WithLogger(logger.Named("store")))
	if err != nil {
		return fmt.Errorf("open store %s: %w", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	plan := seed.Plan(repos, seedVal)
	if scenario {
		plan = append(seed.Scenario(), plan...)
	}

	stats, err := seed.Populate(ctx, store, plan, days, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	log.Info(ctx, "seeded store",
		logger.String("db_path", dbPath),
		logger.Int("entities", stats.Entities),
		logger.Int("snapshots", stats.Snapshots),
		logger.Int("mentions", stats.Mentions))

	if !detect {
		return nil
	}
	svc := app.New(store, app.WithLogger(logger.Named("service")))
	res, err := svc.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	log.Info(ctx, "detection finished",
		logger.String("run_id", res.RunID),
		logger.Int("entities_scanned", res.EntitiesScanned),
		logger.Int("signals_detected", res.SignalsDetected))
	return nil
}
