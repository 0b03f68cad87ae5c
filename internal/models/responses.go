package models

import "time"

// HealthResponse represents a basic health check response
// @Description Health check response
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`                 // Health status
	Timestamp time.Time `json:"timestamp" example:"2023-01-01T00:00:00Z"` // Timestamp of the check
	Version   string    `json:"version" example:"1.0.0"`                  // Application version
	Mode      string    `json:"classifier_mode,omitempty" example:"rules_only"`
}

// DBHealthResponse represents a database health check response
// @Description Database health check response
type DBHealthResponse struct {
	Status    string        `json:"status" example:"healthy"`                   // Health status
	Timestamp time.Time     `json:"timestamp" example:"2023-01-01T00:00:00Z"`   // Timestamp of the check
	Connected bool          `json:"connected" example:"true"`                   // Database connection status
	Latency   time.Duration `json:"latency" swaggertype:"string" example:"1ms"` // Database ping latency
	Error     string        `json:"error,omitempty" example:""`                 // Error message if any
}

// ErrorResponse is returned by API endpoints on failure
type ErrorResponse struct {
	Error string `json:"error" example:"search temporarily unavailable"`
}

// ClassifyRequest is an ad-hoc document to classify
// @Description Classification preview request
type ClassifyRequest struct {
	Sender   string `json:"sender" example:"no-reply@greenhouse.io"`
	Subject  string `json:"subject" example:"Interview invitation"`
	BodyText string `json:"body_text" example:"We would like to schedule an interview"`
}

// ClassifyResponse shows how a document would be labeled
// @Description Classification preview response
type ClassifyResponse struct {
	Labels          []string           `json:"labels"`
	LabelConfidence map[string]float64 `json:"label_confidence"`
	LabelSource     string             `json:"label_source" example:"rules"`
	Rules           []string           `json:"rules,omitempty"`
	Probabilities   map[string]float64 `json:"probabilities,omitempty"` // model distribution, absent in rules-only mode
	Mode            string             `json:"mode" example:"rules_only"`
	Version         string             `json:"classifier_version"`
}

// LabelCount is one label facet
type LabelCount struct {
	Label string `json:"label" example:"interview"`
	Count int    `json:"count" example:"12"`
}

// LabelsResponse lists label facets in display order
// @Description Label facet counts
type LabelsResponse struct {
	Labels []LabelCount `json:"labels"`
}

// BackfillJobRequest configures a re-backfill job
// @Description Backfill job trigger request
type BackfillJobRequest struct {
	From string `json:"from,omitempty" example:"2024-03-01"` // YYYY-MM-DD, inclusive
	To   string `json:"to,omitempty" example:"2024-03-31"`   // YYYY-MM-DD, inclusive
}

// BackfillJobResponse is the result of triggering a backfill job
// @Description Backfill job trigger response
type BackfillJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	JobName string `json:"job_name,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JobStatus represents the status of a Kubernetes job
type JobStatus struct {
	JobName        string  `json:"job_name"`
	Status         string  `json:"status"`
	Active         int32   `json:"active"`
	Succeeded      int32   `json:"succeeded"`
	Failed         int32   `json:"failed"`
	StartTime      *string `json:"start_time,omitempty"`
	CompletionTime *string `json:"completion_time,omitempty"`
}

// ModelReloadResponse reports the classifier state after a reload
// @Description Model reload response
type ModelReloadResponse struct {
	Success  bool   `json:"success"`
	Mode     string `json:"mode" example:"rules_plus_model"`
	Version  string `json:"classifier_version"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}
