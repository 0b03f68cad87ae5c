// Package app wires the services shared by the mailrank binaries.
package app

import (
	"context"
	"fmt"

	"mailrank/internal/analytics"
	"mailrank/internal/backfill"
	"mailrank/internal/classifier"
	"mailrank/internal/config"
	"mailrank/internal/database"
	"mailrank/internal/index"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Env holds the connected services. Analytics is nil when its tables cannot be created.
type Env struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Ranking    *config.Ranking
	Writer     *database.WriteClient
	Store      *index.Store
	Analytics  *analytics.Service
	Classifier *classifier.Classifier
}

// LoadRanking resolves the ranking policy, falling back to the built-in one when the
// configured policy is invalid
func LoadRanking(cfg *config.Config, logger zerolog.Logger) *config.Ranking {
	ranking, err := cfg.LoadRanking()
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.RankingConfigPath).Msg("Invalid ranking configuration, using defaults")
		return config.DefaultRanking()
	}
	return ranking
}

// NewClassifier builds the classifier for ranking and loads the model at modelPath. A
// missing or corrupt model leaves it in rules-only mode and is reported to tracker.
func NewClassifier(ranking *config.Ranking, modelPath string, tracker *analytics.Service, logger zerolog.Logger) *classifier.Classifier {
	opts := classifier.Options{
		Threshold:  ranking.Threshold,
		Precedence: ranking.Precedence,
		Logger:     logger,
	}
	if tracker != nil {
		opts.OnDegraded = func(err error) {
			if trackErr := tracker.TrackClassificationDegraded(context.Background(), err.Error()); trackErr != nil {
				logger.Warn().Err(trackErr).Msg("Failed to track degraded classification")
			}
		}
	}

	cls := classifier.New(ranking.Rules, opts)
	if modelPath != "" {
		_ = cls.LoadModel(modelPath) // degraded mode is logged and tracked
	}
	return cls
}

// Open connects to the email index and prepares its schema. reader may be nil, in which
// case reads share the write connection.
func Open(ctx context.Context, cfg *config.Config, reader *sqlx.DB, logger zerolog.Logger) (*Env, error) {
	writer, err := database.NewWriteClient(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to email index: %w", err)
	}

	store := index.NewStore(reader, writer, logger)
	if err := store.CreateTables(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to create email tables: %w", err)
	}

	analyticsSvc, err := analytics.NewService(ctx, writer, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Analytics disabled")
		analyticsSvc = nil
	}

	ranking := LoadRanking(cfg, logger)
	return &Env{
		Config:     cfg,
		Logger:     logger,
		Ranking:    ranking,
		Writer:     writer,
		Store:      store,
		Analytics:  analyticsSvc,
		Classifier: NewClassifier(ranking, cfg.ModelPath, analyticsSvc, logger),
	}, nil
}

// Runner returns a backfill runner over the environment's index and classifier
func (e *Env) Runner() *backfill.Runner {
	opts := backfill.Options{
		Workers:   e.Config.BackfillWorkers,
		BatchSize: e.Config.BackfillBatchSize,
		Logger:    e.Logger,
	}
	if e.Analytics != nil {
		opts.Tracker = e.Analytics
	}
	return backfill.NewRunner(e.Store, e.Classifier, opts)
}

// Close releases the database connection
func (e *Env) Close() error {
	return e.Writer.Close()
}
