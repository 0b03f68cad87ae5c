package models

import "time"

// AnalyticsEvent represents a tracked event
type AnalyticsEvent struct {
	ID        int       `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"` // email_import, backfill_run, data_quality_error, classification_degraded, ...
	Count     int       `db:"count" json:"count"`
	Metadata  *string   `db:"metadata" json:"metadata,omitempty"` // JSON metadata (run id, error code, etc.)
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AnalyticsSummary represents aggregated analytics for a time period
type AnalyticsSummary struct {
	Period    string    `json:"period"`     // "today", "yesterday", "last_7_days", "last_30_days"
	StartDate time.Time `json:"start_date"` // Period start
	EndDate   time.Time `json:"end_date"`   // Period end

	EmailsImported          int `json:"emails_imported"`
	BackfillRuns            int `json:"backfill_runs"`
	DocumentsBackfilled     int `json:"documents_backfilled"`
	BackfillFailures        int `json:"backfill_failures"`         // Documents that could not be processed
	DataQualityErrors       int `json:"data_quality_errors"`       // Documents indexed with a data-quality flag
	DegradedClassifications int `json:"degraded_classifications"` // Fallbacks to rules-only classification
	Searches                int `json:"searches"`
	QueryCorrections        int `json:"query_corrections"` // Search parameters replaced by defaults
	TrainingRuns            int `json:"training_runs"`
	TrainingAborted         int `json:"training_aborted"`
	ModelReloads            int `json:"model_reloads"`

	// Index totals at query time
	TotalEmails   int `json:"total_emails"`
	RepliedEmails int `json:"replied_emails"`
}

// AnalyticsResponse represents the API response for analytics
// @Description Analytics response payload
type AnalyticsResponse struct {
	Success bool              `json:"success" example:"true"`
	Summary *AnalyticsSummary `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty" example:""`
}
