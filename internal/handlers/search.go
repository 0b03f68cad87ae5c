package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"mailrank/internal/cache"
	"mailrank/internal/index"
	"mailrank/internal/models"
	"mailrank/internal/replies"
	"mailrank/internal/scoring"
	"mailrank/internal/search"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// labelCountsKey is the cache key of the label facet counts
const labelCountsKey = "labels:counts"

// LabelCounter returns per-label document counts
type LabelCounter interface {
	LabelCounts(ctx context.Context) (map[string]int, error)
}

// EmailGetter loads one classified email
type EmailGetter interface {
	GetEmail(ctx context.Context, id string) (*models.EmailDocument, error)
}

// SearchHandler serves ranked email search
// @Summary Search emails
// @Description Full-text search reranked by category importance and recency. Invalid parameters are replaced by defaults and reported in warnings.
// @Tags search
// @Produce json
// @Param q query string false "Search text"
// @Param scale query string false "Recency scale (3d, 7d, 14d)"
// @Param replied query bool false "Filter by reply state"
// @Param labels query string false "Comma separated labels, any-of"
// @Param from query string false "Start date YYYY-MM-DD, inclusive"
// @Param to query string false "End date YYYY-MM-DD, inclusive"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} search.Response
// @Failure 503 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/search [get]
func SearchHandler(svc *search.Service, defaultScale scoring.Scale, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		params, warnings := search.ParseParams(c.QueryParams(), defaultScale)
		for _, w := range warnings {
			logger.Debug().Str("param", w.Param).Str("value", w.Value).Msg("Search parameter corrected")
		}

		resp, err := svc.Search(c.Request().Context(), params, warnings)
		if err != nil {
			if errors.Is(err, index.ErrSearchUnavailable) {
				logger.Warn().Err(err).Msg("Search unavailable")
				return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "search temporarily unavailable"})
			}
			logger.Error().Err(err).Str("query", params.Query).Msg("Search failed")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "search failed"})
		}

		return c.JSON(http.StatusOK, resp)
	}
}

// LabelsHandler returns label facet counts in display order. Counts are cached for ttl.
// @Summary Label facets
// @Description Number of indexed emails carrying each label
// @Tags search
// @Produce json
// @Success 200 {object} models.LabelsResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/labels [get]
func LabelsHandler(counter LabelCounter, store cache.Store, ttl time.Duration, cfg scoring.Config, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		counts, err := cache.Fetch(c.Request().Context(), store, labelCountsKey, ttl, counter.LabelCounts)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to count labels")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to count labels"})
		}

		return c.JSON(http.StatusOK, models.LabelsResponse{Labels: labelFacets(counts, cfg)})
	}
}

func labelFacets(counts map[string]int, cfg scoring.Config) []models.LabelCount {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	facets := make([]models.LabelCount, 0, len(labels))
	for _, label := range scoring.SortLabels(labels, cfg) {
		facets = append(facets, models.LabelCount{Label: label, Count: counts[label]})
	}
	return facets
}

// emailDetail is a stored document with its display fields
type emailDetail struct {
	models.EmailDocument
	Labels     []string `json:"labels"`
	TTRDisplay string   `json:"ttr_display"`
}

// EmailHandler returns one classified email by message id
// @Summary Get email
// @Description Stored labels and reply metrics of one email
// @Tags search
// @Produce json
// @Param id path string true "Message-ID"
// @Success 200 {object} models.EmailDocument
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/emails/{id} [get]
func EmailHandler(getter EmailGetter, cfg scoring.Config, logger zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		doc, err := getter.GetEmail(c.Request().Context(), id)
		if errors.Is(err, index.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "email not found"})
		}
		if err != nil {
			logger.Error().Err(err).Str("message_id", id).Msg("Failed to load email")
			return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load email"})
		}

		return c.JSON(http.StatusOK, emailDetail{
			EmailDocument: *doc,
			Labels:        scoring.SortLabels(doc.Labels, cfg),
			TTRDisplay:    replies.FormatTTR(doc.TTRHours),
		})
	}
}
