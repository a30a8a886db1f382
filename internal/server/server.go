// Package server exposes the translation core over HTTP: translate
// endpoints (plain, adaptive, progressive), model lifecycle, language
// listings, health and metrics.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/meriley/lingua-nexus-sub001/internal/cache"
	"github.com/meriley/lingua-nexus-sub001/internal/config"
	"github.com/meriley/lingua-nexus-sub001/internal/controller"
	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/registry"
)

// defaultMaxLatencyMS applies when a request does not set its own
// latency budget.
const defaultMaxLatencyMS = 30000

// Server is the HTTP front-end. It owns only the echo instance; every
// core component is injected.
type Server struct {
	e          *echo.Echo
	cfg        *config.Config
	controller *controller.Controller
	registry   *registry.Registry
	languages  *language.Registry
	cache      *cache.Cache
	logger     *slog.Logger
}

// Opt customises the server at construction.
type Opt func(*Server)

// WithMetrics mounts the prometheus handler for gatherer at /metrics.
func WithMetrics(g prometheus.Gatherer) Opt {
	return func(s *Server) {
		s.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

func New(
	cfg *config.Config,
	ctrl *controller.Controller,
	reg *registry.Registry,
	langs *language.Registry,
	ca *cache.Cache,
	logger *slog.Logger,
	opts ...Opt,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	s := &Server{
		e:          e,
		cfg:        cfg,
		controller: ctrl,
		registry:   reg,
		languages:  langs,
		cache:      ca,
		logger:     logger,
	}

	api := e.Group("")
	api.Use(s.authMiddleware)
	if cfg.RateLimitRPM > 0 {
		api.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(float64(cfg.RateLimitRPM) / 60.0))))
	}

	api.POST("/translate", s.handleTranslate)
	api.POST("/translate/adaptive", s.handleTranslateAdaptive)
	api.POST("/translate/adaptive/progressive", s.handleTranslateProgressive)

	api.GET("/models", s.handleListModels)
	api.POST("/models/:name/load", s.handleLoadModel)
	api.DELETE("/models/:name", s.handleUnloadModel)

	api.GET("/languages", s.handleListLanguages)
	api.GET("/languages/:backend", s.handleListBackendLanguages)

	e.GET("/health", s.handleHealth)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server starting", "addr", addr)
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// authMiddleware enforces the configured API key. Requests may present
// it as a bearer token or an X-API-Key header.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.APIKey == "" {
			return next(c)
		}
		presented := c.Request().Header.Get("X-API-Key")
		if presented == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				presented = auth[len(prefix):]
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			return s.errorResponse(c, nexuserr.New(nexuserr.KindUnauthorized, "missing or invalid API key"))
		}
		return next(c)
	}
}

// errorResponse renders an error in the structured wire shape.
func (s *Server) errorResponse(c echo.Context, err error) error {
	status := nexuserr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	return c.JSON(status, nexuserr.ToResponse(err))
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	loaded := s.registry.LoadedNames()
	status := "ok"
	if len(loaded) == 0 {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":        status,
		"loaded_models": loaded,
		"cache_health":  s.cache.Health(ctx),
	})
}
