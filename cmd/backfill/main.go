package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailrank/internal/app"
	"mailrank/internal/backfill"
	"mailrank/internal/config"
	"mailrank/internal/scheduler"

	"github.com/rs/zerolog"
)

// resolveWindow turns the inclusive -from/-to dates into a backfill window. Without dates,
// days > 0 selects the trailing days up to now and days == 0 selects everything.
func resolveWindow(from, to string, days int, now time.Time) (backfill.Window, error) {
	var window backfill.Window

	if from == "" && to == "" {
		if days > 0 {
			window.From = now.UTC().AddDate(0, 0, -days)
		}
		return window, nil
	}

	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return window, fmt.Errorf("invalid -from %q, expected YYYY-MM-DD", from)
		}
		window.From = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return window, fmt.Errorf("invalid -to %q, expected YYYY-MM-DD", to)
		}
		window.To = t.AddDate(0, 0, 1)
	}
	if !window.From.IsZero() && !window.To.IsZero() && !window.From.Before(window.To) {
		return window, fmt.Errorf("-to %s is before -from %s", to, from)
	}
	return window, nil
}

func runOnce(ctx context.Context, runner *backfill.Runner, window backfill.Window, logger zerolog.Logger) error {
	stats, err := runner.Run(ctx, window)
	if err != nil {
		return err
	}
	logger.Info().Interface("summary", stats.Summary()).Msg("Backfill complete")
	return nil
}

func main() {
	from := flag.String("from", "", "First received date to process, YYYY-MM-DD")
	to := flag.String("to", "", "Last received date to process, YYYY-MM-DD")
	days := flag.Int("days", 0, "Process the trailing N days when -from/-to are not set (0 = all)")
	cronMode := flag.Bool("cron", false, "Run on BACKFILL_SCHEDULE instead of once")
	schedule := flag.String("schedule", "", "Cron expression overriding BACKFILL_SCHEDULE")
	workers := flag.Int("workers", 0, "Worker shards, overrides BACKFILL_WORKERS")
	flag.Parse()

	cfg := config.Load()
	logger := cfg.SetupLogger().With().Str("component", "backfill").Logger()
	if *workers > 0 {
		cfg.BackfillWorkers = *workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := app.Open(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open email index")
	}
	defer func() { _ = env.Close() }()

	logger.Info().
		Str("classifier_mode", string(env.Classifier.Mode())).
		Str("classifier_version", env.Classifier.Version()).
		Msg("Classifier ready")

	runner := env.Runner()

	if !*cronMode {
		window, err := resolveWindow(*from, *to, *days, time.Now())
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid window")
		}
		if err := runOnce(ctx, runner, window, logger); err != nil {
			logger.Fatal().Err(err).Msg("Backfill failed")
		}
		return
	}

	spec := cfg.BackfillSchedule
	if *schedule != "" {
		spec = *schedule
	}
	windowDays := *days
	if windowDays == 0 {
		windowDays = cfg.BackfillWindowDays
	}

	sched, err := scheduler.New(spec, func(jobCtx context.Context) {
		// Each run reloads the model so a newly trained artifact is picked up
		if cfg.ModelPath != "" {
			_ = env.Classifier.LoadModel(cfg.ModelPath)
		}
		window, _ := resolveWindow("", "", windowDays, time.Now())
		if err := runOnce(jobCtx, runner, window, logger); err != nil {
			logger.Error().Err(err).Msg("Scheduled backfill failed")
		}
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid schedule")
	}

	sched.Start()
	logger.Info().Str("schedule", spec).Int("window_days", windowDays).Msg("Waiting for scheduled backfills")
	<-ctx.Done()
	sched.Stop()
}
