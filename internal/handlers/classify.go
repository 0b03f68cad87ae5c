package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"mailrank/internal/classifier"
	"mailrank/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ReloadTracker records model reloads. Degraded classification is reported by the
// classifier's own OnDegraded hook.
type ReloadTracker interface {
	TrackModelReload(ctx context.Context, version string, success bool) error
}

// ClassifyHandler previews how an ad-hoc document would be labeled
// @Summary Classification preview
// @Description Runs the rules and the loaded model on a document without storing it
// @Tags classify
// @Accept json
// @Produce json
// @Param request body models.ClassifyRequest true "Document"
// @Success 200 {object} models.ClassifyResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/classify [post]
func ClassifyHandler(cls *classifier.Classifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.ClassifyRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		}
		if strings.TrimSpace(req.Sender+req.Subject+req.BodyText) == "" {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "sender, subject or body_text is required"})
		}

		doc := &models.EmailDocument{
			Sender:   req.Sender,
			Subject:  req.Subject,
			BodyText: req.BodyText,
		}
		res := cls.Preview(doc)

		return c.JSON(http.StatusOK, models.ClassifyResponse{
			Labels:          res.Labels,
			LabelConfidence: res.Confidences,
			LabelSource:     res.Source,
			Rules:           res.Rules,
			Probabilities:   res.Probabilities,
			Mode:            string(res.Mode),
			Version:         res.Version,
		})
	}
}

// ModelReloadHandler reloads the model artifact and swaps it in. A failed reload leaves
// the classifier in rules-only mode.
// @Summary Reload classifier model
// @Description Loads the model artifact from MODEL_PATH and atomically replaces the active model
// @Tags admin
// @Produce json
// @Success 200 {object} models.ModelReloadResponse
// @Failure 503 {object} models.ModelReloadResponse
// @Router /api/admin/model/reload [post]
func ModelReloadHandler(cls *classifier.Classifier, modelPath string, tracker ReloadTracker, logger zerolog.Logger) echo.HandlerFunc {
	var mu sync.Mutex

	return func(c echo.Context) error {
		mu.Lock()
		err := cls.LoadModel(modelPath)
		mu.Unlock()

		ctx := c.Request().Context()
		resp := models.ModelReloadResponse{
			Success: err == nil,
			Mode:    string(cls.Mode()),
			Version: cls.Version(),
		}

		if tracker != nil {
			if trackErr := tracker.TrackModelReload(ctx, resp.Version, resp.Success); trackErr != nil {
				logger.Warn().Err(trackErr).Msg("Failed to track model reload")
			}
		}

		if err != nil {
			resp.Degraded = errors.Is(err, classifier.ErrClassificationDegraded)
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}

		logger.Info().Str("classifier_version", resp.Version).Msg("Model reloaded")
		return c.JSON(http.StatusOK, resp)
	}
}
