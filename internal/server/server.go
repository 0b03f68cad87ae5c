package server

import (
	"context"
	"net/http"
	"time"

	"mailrank/internal/analytics"
	"mailrank/internal/cache"
	"mailrank/internal/classifier"
	"mailrank/internal/config"
	"mailrank/internal/handlers"
	"mailrank/internal/index"
	"mailrank/internal/k8s"
	"mailrank/internal/models"
	"mailrank/internal/search"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// Deps are the services behind the HTTP API. Store, Analytics and Jobs may be nil when
// their backend is unreachable; the routes that need them then answer 503.
type Deps struct {
	DB         *sqlx.DB
	Store      *index.Store
	Classifier *classifier.Classifier
	Ranking    *config.Ranking
	Analytics  *analytics.Service
	Jobs       *k8s.Client
	Cache      cache.Store
}

// Server represents the application server
type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Deps
	logger zerolog.Logger
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	if deps.Ranking == nil {
		deps.Ranking = config.DefaultRanking()
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(deps.Ranking.Rules, classifier.Options{
			Threshold:  deps.Ranking.Threshold,
			Precedence: deps.Ranking.Precedence,
			Logger:     logger,
		})
	}
	if deps.Cache == nil {
		deps.Cache = cache.New()
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.HideBanner = true

	s.setupRoutes()
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupRoutes configures all the application routes
func (s *Server) setupRoutes() {
	cls := s.deps.Classifier
	ranking := s.deps.Ranking

	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	// Health endpoints (keep at root level for monitoring)
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version, func() string { return string(cls.Mode()) }))
	s.echo.GET("/healthz/db", handlers.DBHealthHandler(s.deps.DB))

	api := s.echo.Group("/api")
	api.GET("/", handlers.RootHandler(s.config.Version))
	api.POST("/classify", handlers.ClassifyHandler(cls))

	if store := s.deps.Store; store != nil {
		var tracker search.Tracker
		if s.deps.Analytics != nil {
			tracker = s.deps.Analytics
		}
		svc := search.NewService(store, ranking.Scoring, search.Options{
			CandidatePool: s.config.SearchCandidatePool,
			Logger:        s.logger,
			Tracker:       tracker,
		})
		labelTTL := time.Duration(s.config.LabelCacheTTL) * time.Second

		api.GET("/search", handlers.SearchHandler(svc, ranking.DefaultScale, s.logger))
		api.GET("/labels", handlers.LabelsHandler(store, s.deps.Cache, labelTTL, ranking.Scoring, s.logger))
		api.GET("/emails/:id", handlers.EmailHandler(store, ranking.Scoring, s.logger))
	} else {
		unavailable := unavailableHandler("email index not available")
		api.GET("/search", unavailable)
		api.GET("/labels", unavailable)
		api.GET("/emails/:id", unavailable)
	}

	var summaries handlers.SummarySource
	var reloads handlers.ReloadTracker
	if s.deps.Analytics != nil {
		summaries = s.deps.Analytics
		reloads = s.deps.Analytics
	}
	api.GET("/analytics", handlers.AnalyticsHandler(summaries, s.logger))
	api.GET("/analytics/daily-report", handlers.DailyReportHandler(summaries, s.logger))

	var jobs handlers.BackfillJobs
	if s.deps.Jobs != nil {
		jobs = s.deps.Jobs
	}
	admin := api.Group("/admin")
	admin.POST("/backfill", handlers.TriggerBackfillHandler(jobs, s.config.BackfillImage, s.logger))
	admin.GET("/backfill/:jobName", handlers.GetBackfillStatusHandler(jobs, s.logger))
	admin.POST("/model/reload", handlers.ModelReloadHandler(cls, s.config.ModelPath, reloads, s.logger))
}

func unavailableHandler(message string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: message})
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
