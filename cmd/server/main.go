package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailrank/internal/app"
	"mailrank/internal/cache"
	"mailrank/internal/config"
	"mailrank/internal/database"
	"mailrank/internal/k8s"
	"mailrank/internal/server"

	"github.com/rs/zerolog"
)

func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) cache.Store {
	if cfg.RedisURL == "" {
		return cache.New()
	}
	redisCache, err := cache.NewRedisCacheFromURL(ctx, cfg.RedisURL, "mailrank:")
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
		return cache.New()
	}
	logger.Info().Msg("Using Redis cache")
	return redisCache
}

func main() {
	cfg := config.Load()
	logger := cfg.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Cache: newCache(ctx, cfg, logger)}

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL, logger)
	if err == nil && cfg.WaitForTunnel {
		err = database.WaitForDatabase(ctx, db, 30, 2*time.Second, logger)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Database connection failed")
		logger.Info().Msg("Starting server without email index")
		ranking := app.LoadRanking(cfg, logger)
		deps.Ranking = ranking
		deps.Classifier = app.NewClassifier(ranking, cfg.ModelPath, nil, logger)
	} else {
		logger.Info().Msg("Database connection established successfully")
		env, err := app.Open(ctx, cfg, db, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open email index")
		}
		defer func() { _ = env.Close() }()

		deps.DB = db
		deps.Store = env.Store
		deps.Ranking = env.Ranking
		deps.Classifier = env.Classifier
		deps.Analytics = env.Analytics
	}

	if jobs, err := k8s.NewClient(cfg.K8sNamespace); err != nil {
		logger.Warn().Err(err).Msg("Kubernetes client unavailable, backfill jobs disabled")
	} else {
		deps.Jobs = jobs
	}

	logger.Info().
		Str("classifier_mode", string(deps.Classifier.Mode())).
		Str("classifier_version", deps.Classifier.Version()).
		Str("default_scale", string(deps.Ranking.DefaultScale)).
		Msg("Classifier ready")

	srv := server.New(cfg, deps, logger)
	srv.Initialize()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
}
