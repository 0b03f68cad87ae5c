package handlers

import (
	"context"
	"net/http"

	"mailrank/internal/analytics"
	"mailrank/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SummarySource aggregates analytics counters
type SummarySource interface {
	GetSummary(ctx context.Context, period string) (*models.AnalyticsSummary, error)
}

// AnalyticsHandler returns analytics summary for a given period
// @Summary Get analytics summary
// @Description Get analytics summary for a specified time period (today, yesterday, last_7_days, last_30_days)
// @Tags analytics
// @Accept json
// @Produce json
// @Param period query string false "Time period (today, yesterday, last_7_days, last_30_days)" default(yesterday)
// @Success 200 {object} models.AnalyticsResponse
// @Failure 500 {object} models.AnalyticsResponse
// @Failure 503 {object} models.AnalyticsResponse
// @Router /api/analytics [get]
func AnalyticsHandler(source SummarySource, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		period := c.QueryParam("period")
		if period == "" {
			period = analytics.PeriodYesterday
		}
		return summaryResponse(c, source, period, logger)
	}
}

// DailyReportHandler returns the previous day's counters
// @Summary Get daily analytics report
// @Tags analytics
// @Produce json
// @Success 200 {object} models.AnalyticsResponse
// @Failure 500 {object} models.AnalyticsResponse
// @Router /api/analytics/daily-report [get]
func DailyReportHandler(source SummarySource, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		return summaryResponse(c, source, analytics.PeriodYesterday, logger)
	}
}

func summaryResponse(c echo.Context, source SummarySource, period string, logger zerolog.Logger) error {
	if source == nil {
		return c.JSON(http.StatusServiceUnavailable, models.AnalyticsResponse{Error: "Analytics not available"})
	}

	summary, err := source.GetSummary(c.Request().Context(), period)
	if err != nil {
		logger.Error().Err(err).Str("period", period).Msg("Failed to get analytics summary")
		return c.JSON(http.StatusInternalServerError, models.AnalyticsResponse{
			Error: "Failed to get analytics summary",
		})
	}

	logger.Debug().
		Str("period", summary.Period).
		Int("searches", summary.Searches).
		Int("backfill_runs", summary.BackfillRuns).
		Msg("Analytics summary retrieved")
	return c.JSON(http.StatusOK, models.AnalyticsResponse{Success: true, Summary: summary})
}
