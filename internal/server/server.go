// Package server exposes story generation over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ImpactStory/internal/pipeline"
)

// Generator runs the story pipeline. *pipeline.Runner satisfies it.
type Generator interface {
	Run(ctx context.Context, subject, userContext string) (*pipeline.Result, error)
}

// Options configures optional server features.
type Options struct {
	// JWTSecret enables bearer-token checks on story routes when set.
	JWTSecret []byte
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	echo   *echo.Echo
	runner Generator
	logger *zap.Logger
}

// GenerationRequest is the body of POST /stories/generation.
type GenerationRequest struct {
	OrgID      string `json:"orgID"`
	UserPrompt string `json:"user_prompt"`
}

// New creates the server and registers its routes.
func New(runner Generator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, runner: runner, logger: logger}
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	stories := e.Group("/stories")
	if len(opts.JWTSecret) > 0 {
		stories.Use(authMiddleware(opts.JWTSecret))
	} else {
		logger.Warn("no JWT secret configured; story routes are unauthenticated")
	}
	stories.POST("/generation", s.handleGeneration)

	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleGeneration(c echo.Context) error {
	var req GenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.OrgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "orgID is required")
	}

	res, err := s.runner.Run(c.Request().Context(), req.OrgID, req.UserPrompt)
	if err != nil {
		var f *pipeline.Failure
		if errors.As(err, &f) {
			return echo.NewHTTPError(http.StatusBadGateway, f.Error()).SetInternal(err)
		}
		return err
	}
	if sub, ok := c.Get(userKey).(string); ok {
		s.logger.Info("story generated",
			zap.String("user", sub),
			zap.String("org_id", res.OrgID),
			zap.String("status", res.Status))
	}
	return c.JSON(http.StatusOK, res)
}

// handleError renders every error as {"detail": message}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	req := c.Request()
	fields := []zap.Field{
		zap.Int("code", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}

	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"detail": msg})
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
