// Package server is the daemon's local HTTP surface: health and metrics
// for operations, plus a small JSON API that drives the same protocol
// messages the interactive surfaces use.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/joblens/internal/bus"
	"github.com/fyrsmithlabs/joblens/internal/config"
	"github.com/fyrsmithlabs/joblens/internal/fault"
	"github.com/fyrsmithlabs/joblens/internal/messages"
	"github.com/fyrsmithlabs/joblens/internal/store"
)

// requestTimeout bounds one API call's trip through the coordinator.
const requestTimeout = 90 * time.Second

// Server is the HTTP server.
type Server struct {
	cfg    config.ServerConfig
	echo   *echo.Echo
	nc     *nats.Conn
	store  *store.Store
	logger *zap.Logger
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// AnalyzeBody is the request body for POST /v1/analyze.
type AnalyzeBody struct {
	JobText string `json:"jobText"`
}

// ErrorResponse is the JSON error body. Kind carries the protocol error
// classification so clients can react like any other surface.
type ErrorResponse struct {
	Error string     `json:"error"`
	Kind  fault.Kind `json:"kind,omitempty"`
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, nc *nats.Conn, st *store.Store, reg *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:    cfg,
		echo:   e,
		nc:     nc,
		store:  st,
		logger: logger,
	}
	s.registerRoutes(reg)
	return s
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	if reg != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/v1")
	v1.POST("/analyze", s.handleAnalyze)
	v1.GET("/analysis/current", s.handleCurrentAnalysis)
	v1.DELETE("/analysis/current", s.handleClearAnalysis)
	v1.GET("/analysis/history", s.handleHistory)
	v1.GET("/auth/state", s.handleAuthState)
	v1.GET("/preferences", s.handleGetPreferences)
	v1.PUT("/preferences", s.handlePutPreferences)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "joblensd"})
}

// handleAnalyze runs an analysis through the coordinator, exactly like any
// other surface: the request crosses the bus and the response carries the
// result or a classified failure.
func (s *Server) handleAnalyze(c echo.Context) error {
	var body AnalyzeBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if body.JobText == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "jobText is required", Kind: fault.NoContent})
	}

	payload, err := messages.Encode(messages.NewAnalyzeRequest(body.JobText))
	if err != nil {
		return s.internalError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	reply, err := s.nc.RequestWithContext(ctx, bus.SubjectCoordinator, payload)
	if err != nil {
		return s.internalError(c, fmt.Errorf("reach coordinator: %w", err))
	}

	var resp messages.AnalyzeResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return s.internalError(c, fmt.Errorf("decode coordinator response: %w", err))
	}

	if !resp.Success {
		return c.JSON(statusForKind(resp.ErrorKind), ErrorResponse{Error: resp.Error, Kind: resp.ErrorKind})
	}
	return c.JSON(http.StatusOK, resp.Analysis)
}

func (s *Server) handleCurrentAnalysis(c echo.Context) error {
	analysis, err := s.store.CurrentAnalysis()
	if err != nil {
		return s.internalError(c, err)
	}
	if analysis == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no current analysis"})
	}
	return c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleClearAnalysis(c echo.Context) error {
	payload, err := messages.Encode(messages.NewClearAnalysis())
	if err != nil {
		return s.internalError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if _, err := s.nc.RequestWithContext(ctx, bus.SubjectCoordinator, payload); err != nil {
		return s.internalError(c, fmt.Errorf("reach coordinator: %w", err))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHistory(c echo.Context) error {
	history, err := s.store.RecentAnalyses()
	if err != nil {
		return s.internalError(c, err)
	}
	if history == nil {
		history = []messages.JobAnalysis{}
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleAuthState(c echo.Context) error {
	state, err := s.store.AuthState()
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, messages.NewAuthStateMessage(state))
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	prefs, err := s.store.Preferences()
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(c echo.Context) error {
	var prefs messages.Preferences
	if err := c.Bind(&prefs); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if err := s.store.SavePreferences(prefs); err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) internalError(c echo.Context, err error) error {
	s.logger.Error("request failed",
		zap.String("path", c.Request().URL.Path),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: fault.Display(err), Kind: fault.KindOf(err)})
}

// statusForKind maps protocol error kinds onto HTTP statuses.
func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.ConfigurationMissing, fault.NoContent:
		return http.StatusBadRequest
	case fault.InvalidCredential, fault.NotAuthenticated:
		return http.StatusUnauthorized
	case fault.RestrictedPage:
		return http.StatusForbidden
	case fault.ResponseFormat:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for tests and extensions.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
