package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailrank/internal/database"
	"mailrank/internal/models"
)

// EventType constants for tracking different events
const (
	EventEmailImport              = "email_import"
	EventBackfillRun              = "backfill_run"
	EventDocumentsBackfilled      = "documents_backfilled"
	EventBackfillFailure          = "backfill_failure"
	EventDataQuality              = "data_quality_error"
	EventClassificationDegraded   = "classification_degraded"
	EventQueryCorrection          = "query_param_corrected"
	EventSearch                   = "search"
	EventTrainingRun              = "training_run"
	EventTrainingDataInsufficient = "training_data_insufficient"
	EventModelReload              = "model_reload"
)

// Period constants for analytics queries
const (
	PeriodToday      = "today"
	PeriodYesterday  = "yesterday"
	PeriodLast7Days  = "last_7_days"
	PeriodLast30Days = "last_30_days"
)

// Service handles analytics tracking and retrieval
type Service struct {
	writeClient *database.WriteClient
	dialect     database.Dialect
	logger      zerolog.Logger
	mu          sync.Mutex
}

// NewService creates a new analytics service
func NewService(ctx context.Context, writeClient *database.WriteClient, logger zerolog.Logger) (*Service, error) {
	if writeClient == nil {
		return nil, fmt.Errorf("write client is required for analytics service")
	}

	service := &Service{
		writeClient: writeClient,
		dialect:     writeClient.Dialect(),
		logger:      logger,
	}

	if err := service.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create analytics tables: %w", err)
	}

	return service, nil
}

func (s *Service) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS analytics_events (
			id SERIAL PRIMARY KEY,
			event_type VARCHAR(50) NOT NULL,
			count INT DEFAULT 1,
			metadata TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_event_type ON analytics_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_created_at ON analytics_events(created_at)`,
		`CREATE TABLE IF NOT EXISTS analytics_daily (
			id SERIAL PRIMARY KEY,
			date DATE NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			total_count INT DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(date, event_type)
		)`,
	}
	if s.dialect.Driver == database.DriverMySQL {
		queries = []string{
			`CREATE TABLE IF NOT EXISTS analytics_events (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				event_type VARCHAR(50) NOT NULL,
				count INT DEFAULT 1,
				metadata TEXT,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				KEY idx_analytics_event_type (event_type),
				KEY idx_analytics_created_at (created_at)
			)`,
			`CREATE TABLE IF NOT EXISTS analytics_daily (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				date DATE NOT NULL,
				event_type VARCHAR(50) NOT NULL,
				total_count INT DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE KEY uq_analytics_daily (date, event_type)
			)`,
		}
	}

	for _, query := range queries {
		if _, err := s.writeClient.ExecuteWriteQuery(ctx, query); err != nil {
			// Ignore "already exists" errors
			s.logger.Debug().Err(err).Msg("Analytics schema statement skipped")
			continue
		}
	}

	return nil
}

// TrackEvent records an analytics event and bumps the daily aggregate
func (s *Service) TrackEvent(ctx context.Context, eventType string, count int, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON *string
	if metadata != nil {
		jsonBytes, err := json.Marshal(metadata)
		if err == nil {
			str := string(jsonBytes)
			metadataJSON = &str
		}
	}

	query := s.dialect.Rebind(`INSERT INTO analytics_events (event_type, count, metadata) VALUES (?, ?, ?)`)
	if _, err := s.writeClient.ExecuteWriteQuery(ctx, query, eventType, count, metadataJSON); err != nil {
		return fmt.Errorf("failed to track event: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	aggregateQuery := `
		INSERT INTO analytics_daily (date, event_type, total_count)
		VALUES (?, ?, ?)
		ON CONFLICT (date, event_type) DO UPDATE SET
			total_count = analytics_daily.total_count + EXCLUDED.total_count,
			updated_at = CURRENT_TIMESTAMP`
	if s.dialect.Driver == database.DriverMySQL {
		aggregateQuery = `
		INSERT INTO analytics_daily (date, event_type, total_count)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_count = total_count + VALUES(total_count),
			updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := s.writeClient.ExecuteWriteQuery(ctx, s.dialect.Rebind(aggregateQuery), today, eventType, count); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("Failed to update daily aggregate")
	}

	return nil
}

// TrackEmailImport records an import run
func (s *Service) TrackEmailImport(ctx context.Context, imported, failed int) error {
	return s.TrackEvent(ctx, EventEmailImport, imported, map[string]interface{}{
		"imported": imported,
		"failed":   failed,
	})
}

// TrackBackfillRun records a finished backfill run and the documents it wrote
func (s *Service) TrackBackfillRun(ctx context.Context, runID string, processed, failed, dataQuality int, duration time.Duration) error {
	metadata := map[string]interface{}{
		"run_id":       runID,
		"processed":    processed,
		"failed":       failed,
		"data_quality": dataQuality,
		"duration_ms":  duration.Milliseconds(),
	}
	if err := s.TrackEvent(ctx, EventBackfillRun, 1, metadata); err != nil {
		return err
	}
	if processed > 0 {
		if err := s.TrackEvent(ctx, EventDocumentsBackfilled, processed, nil); err != nil {
			return err
		}
	}
	if failed > 0 {
		return s.TrackEvent(ctx, EventBackfillFailure, failed, nil)
	}
	return nil
}

// TrackDataQuality records documents indexed with a data-quality error
func (s *Service) TrackDataQuality(ctx context.Context, code string, count int) error {
	return s.TrackEvent(ctx, EventDataQuality, count, map[string]interface{}{"code": code})
}

// TrackClassificationDegraded records a fall back to rules-only classification
func (s *Service) TrackClassificationDegraded(ctx context.Context, reason string) error {
	return s.TrackEvent(ctx, EventClassificationDegraded, 1, map[string]interface{}{"reason": reason})
}

// TrackQueryCorrection records a search parameter replaced by its default
func (s *Service) TrackQueryCorrection(ctx context.Context, param, value string) error {
	return s.TrackEvent(ctx, EventQueryCorrection, 1, map[string]interface{}{
		"param": param,
		"value": value,
	})
}

// TrackSearch records a served search request
func (s *Service) TrackSearch(ctx context.Context, scale string, hits int) error {
	return s.TrackEvent(ctx, EventSearch, 1, map[string]interface{}{
		"scale": scale,
		"hits":  hits,
	})
}

// TrackTrainingRun records a training run outcome
func (s *Service) TrackTrainingRun(ctx context.Context, modelVersion string, trainSize int, accuracy float64) error {
	return s.TrackEvent(ctx, EventTrainingRun, 1, map[string]interface{}{
		"model_version":    modelVersion,
		"train_size":       trainSize,
		"holdout_accuracy": accuracy,
	})
}

// TrackTrainingDataInsufficient records an aborted training run
func (s *Service) TrackTrainingDataInsufficient(ctx context.Context, detail string) error {
	return s.TrackEvent(ctx, EventTrainingDataInsufficient, 1, map[string]interface{}{"detail": detail})
}

// TrackModelReload records an attempt to swap in a new model artifact
func (s *Service) TrackModelReload(ctx context.Context, version string, success bool) error {
	return s.TrackEvent(ctx, EventModelReload, 1, map[string]interface{}{
		"model_version": version,
		"success":       success,
	})
}

// PeriodRange resolves a period name to its UTC bounds; unknown names fall back to today
func PeriodRange(period string, now time.Time) (string, time.Time, time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch period {
	case PeriodYesterday:
		return period, midnight.AddDate(0, 0, -1), midnight
	case PeriodLast7Days:
		return period, now.AddDate(0, 0, -7), now
	case PeriodLast30Days:
		return period, now.AddDate(0, 0, -30), now
	default:
		return PeriodToday, midnight, now
	}
}

// GetSummary retrieves analytics summary for a time period
func (s *Service) GetSummary(ctx context.Context, period string) (*models.AnalyticsSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	period, startDate, endDate := PeriodRange(period, time.Now())
	summary := &models.AnalyticsSummary{
		Period:    period,
		StartDate: startDate,
		EndDate:   endDate,
	}

	var totals []struct {
		EventType string `db:"event_type"`
		Total     int    `db:"total"`
	}
	query := s.dialect.Rebind(`
		SELECT event_type, COALESCE(SUM(total_count), 0) AS total
		FROM analytics_daily
		WHERE date >= ? AND date <= ?
		GROUP BY event_type`)
	err := s.writeClient.ExecuteWriteQueryWithResult(ctx, &totals, query,
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics summary: %w", err)
	}

	for _, t := range totals {
		switch t.EventType {
		case EventEmailImport:
			summary.EmailsImported = t.Total
		case EventBackfillRun:
			summary.BackfillRuns = t.Total
		case EventDocumentsBackfilled:
			summary.DocumentsBackfilled = t.Total
		case EventBackfillFailure:
			summary.BackfillFailures = t.Total
		case EventDataQuality:
			summary.DataQualityErrors = t.Total
		case EventClassificationDegraded:
			summary.DegradedClassifications = t.Total
		case EventQueryCorrection:
			summary.QueryCorrections = t.Total
		case EventSearch:
			summary.Searches = t.Total
		case EventTrainingRun:
			summary.TrainingRuns = t.Total
		case EventTrainingDataInsufficient:
			summary.TrainingAborted = t.Total
		case EventModelReload:
			summary.ModelReloads = t.Total
		}
	}

	// Index totals are best effort; the emails table may not exist yet
	db := s.writeClient.GetDB()
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&summary.TotalEmails)
	_ = db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM emails WHERE replied = ?`), true).Scan(&summary.RepliedEmails)

	return summary, nil
}
