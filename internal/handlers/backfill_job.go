package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"mailrank/internal/k8s"
	"mailrank/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	batchv1 "k8s.io/api/batch/v1"
)

// BackfillJobs creates and inspects backfill jobs
type BackfillJobs interface {
	CreateBackfillJob(ctx context.Context, jobName string, spec k8s.BackfillJobSpec) error
	GetJobStatus(ctx context.Context, jobName string) (*batchv1.Job, error)
}

// TriggerBackfillHandler starts a Kubernetes Job that re-runs classification and reply
// metrics over a window. jobs may be nil when no cluster is reachable.
// @Summary Trigger backfill job
// @Description Creates a Kubernetes Job running the backfill binary over the requested window
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.BackfillJobRequest false "Backfill window"
// @Success 200 {object} models.BackfillJobResponse
// @Failure 400 {object} models.BackfillJobResponse
// @Failure 500 {object} models.BackfillJobResponse
// @Failure 503 {object} models.BackfillJobResponse
// @Router /api/admin/backfill [post]
func TriggerBackfillHandler(jobs BackfillJobs, image string, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if jobs == nil {
			return c.JSON(http.StatusServiceUnavailable, models.BackfillJobResponse{
				Error: "Kubernetes client not available",
			})
		}

		var req models.BackfillJobRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.BackfillJobResponse{Error: "Invalid request body"})
		}

		spec, err := backfillSpec(req, image)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.BackfillJobResponse{Error: err.Error()})
		}

		jobName := k8s.NewJobName()
		ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
		defer cancel()

		if err := jobs.CreateBackfillJob(ctx, jobName, spec); err != nil {
			logger.Error().Err(err).Str("job_name", jobName).Msg("Failed to create backfill job")
			return c.JSON(http.StatusInternalServerError, models.BackfillJobResponse{
				Error: fmt.Sprintf("Failed to create Kubernetes job: %v", err),
			})
		}

		logger.Info().Str("job_name", jobName).Str("from", req.From).Str("to", req.To).Msg("Backfill job created")
		return c.JSON(http.StatusOK, models.BackfillJobResponse{
			Success: true,
			Message: "Backfill job triggered successfully",
			JobName: jobName,
		})
	}
}

// backfillSpec validates the request window. to is inclusive.
func backfillSpec(req models.BackfillJobRequest, image string) (k8s.BackfillJobSpec, error) {
	spec := k8s.BackfillJobSpec{Image: image}
	if req.From != "" {
		from, err := time.Parse(time.DateOnly, req.From)
		if err != nil {
			return spec, fmt.Errorf("invalid from date %q, expected YYYY-MM-DD", req.From)
		}
		spec.From = from
	}
	if req.To != "" {
		to, err := time.Parse(time.DateOnly, req.To)
		if err != nil {
			return spec, fmt.Errorf("invalid to date %q, expected YYYY-MM-DD", req.To)
		}
		spec.To = to
	}
	if !spec.From.IsZero() && !spec.To.IsZero() && spec.To.Before(spec.From) {
		return spec, fmt.Errorf("to date %s is before from date %s", req.To, req.From)
	}
	return spec, nil
}

// GetBackfillStatusHandler gets the status of a backfill job
// @Summary Get backfill job status
// @Tags admin
// @Produce json
// @Param jobName path string true "Job name"
// @Success 200 {object} models.JobStatus
// @Failure 404 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /api/admin/backfill/{jobName} [get]
func GetBackfillStatusHandler(jobs BackfillJobs, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if jobs == nil {
			return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "Kubernetes client not available"})
		}

		jobName := c.Param("jobName")
		ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
		defer cancel()

		job, err := jobs.GetJobStatus(ctx, jobName)
		if err != nil {
			logger.Warn().Err(err).Str("job_name", jobName).Msg("Failed to get job status")
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Job not found: %v", err)})
		}

		var startTime, completionTime *string
		if job.Status.StartTime != nil {
			st := job.Status.StartTime.UTC().Format(time.RFC3339)
			startTime = &st
		}
		if job.Status.CompletionTime != nil {
			ct := job.Status.CompletionTime.UTC().Format(time.RFC3339)
			completionTime = &ct
		}

		return c.JSON(http.StatusOK, models.JobStatus{
			JobName:        jobName,
			Status:         k8s.JobPhase(job),
			Active:         job.Status.Active,
			Succeeded:      job.Status.Succeeded,
			Failed:         job.Status.Failed,
			StartTime:      startTime,
			CompletionTime: completionTime,
		})
	}
}
