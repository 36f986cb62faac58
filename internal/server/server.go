// Package server exposes the query operations over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"calagg/internal/aggregator"
	"calagg/internal/config"
	"calagg/internal/failure"
	"calagg/internal/query"
)

const shutdownTimeout = 5 * time.Second

// Querier is satisfied by *query.Service.
type Querier interface {
	Today(ctx context.Context) (*aggregator.Result, error)
	Tomorrow(ctx context.Context) (*aggregator.Result, error)
	Upcoming(ctx context.Context, hours int) (*aggregator.Result, error)
	Find(ctx context.Context, text string) (*aggregator.Result, error)
	Execute(ctx context.Context, cmd query.Command) (*aggregator.Result, error)
}

type Server struct {
	echo   *echo.Echo
	query  Querier
	cfg    config.ServerConfig
	logger *slog.Logger
}

func New(logger *slog.Logger, q Querier, cfg config.ServerConfig) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListen
	}
	s := &Server{echo: echo.New(), query: q, cfg: cfg, logger: logger}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("Handled request", "method", v.Method, "path", v.URIPath, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	if s.basicAuthEnabled() {
		s.echo.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper:   func(c echo.Context) bool { return c.Request().URL.Path == "/health" },
			Validator: s.checkCredentials,
			Realm:     "calagg",
		}))
	}
	s.registerRoutes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "listen", s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- s.echo.Start(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api/v1")
	api.GET("/events/today", s.handleToday)
	api.GET("/events/tomorrow", s.handleTomorrow)
	api.GET("/events/upcoming", s.handleUpcoming)
	api.GET("/events/find", s.handleFind)
	api.POST("/query", s.handleQuery)
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg.BasicAuth != nil && s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) checkCredentials(user, pass string, _ echo.Context) (bool, error) {
	okUser := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.BasicAuth.Username)) == 1
	okPass := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.BasicAuth.Password)) == 1
	return okUser && okPass, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToday(c echo.Context) error {
	return s.respond(c, func(ctx context.Context) (*aggregator.Result, error) {
		return s.query.Today(ctx)
	})
}

func (s *Server) handleTomorrow(c echo.Context) error {
	return s.respond(c, func(ctx context.Context) (*aggregator.Result, error) {
		return s.query.Tomorrow(ctx)
	})
}

func (s *Server) handleUpcoming(c echo.Context) error {
	hours := query.DefaultUpcomingHours
	if raw := c.QueryParam("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return s.fail(c, failure.Invalid("hours must be an integer, got %q", raw))
		}
		hours = n
	}
	return s.respond(c, func(ctx context.Context) (*aggregator.Result, error) {
		return s.query.Upcoming(ctx, hours)
	})
}

func (s *Server) handleFind(c echo.Context) error {
	text := c.QueryParam("q")
	return s.respond(c, func(ctx context.Context) (*aggregator.Result, error) {
		return s.query.Find(ctx, text)
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var cmd query.Command
	if err := c.Bind(&cmd); err != nil {
		return s.fail(c, failure.Invalid("request body is not a command: %v", err))
	}
	return s.respond(c, func(ctx context.Context) (*aggregator.Result, error) {
		return s.query.Execute(ctx, cmd)
	})
}

func (s *Server) respond(c echo.Context, run func(context.Context) (*aggregator.Result, error)) error {
	res, err := run(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewResponse(res))
}

func (s *Server) fail(c echo.Context, err error) error {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Query failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, body)
}

// errorResponse checks ErrAllProvidersUnavailable first: its causes may
// themselves carry ErrInvalidArgument.
func errorResponse(err error) (int, ErrorBody) {
	switch {
	case errors.Is(err, aggregator.ErrAllProvidersUnavailable):
		body := ErrorBody{Code: "all_providers_unavailable", Message: aggregator.ErrAllProvidersUnavailable.Error()}
		var ue *aggregator.UnavailableError
		if errors.As(err, &ue) {
			for _, cause := range ue.Causes {
				body.Causes = append(body.Causes, newSourceStatus(aggregator.Status{
					Provider: cause.Provider,
					Source:   sourceOf(cause),
					Err:      cause,
				}))
			}
		}
		return http.StatusServiceUnavailable, body
	case errors.Is(err, failure.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorBody{Code: "invalid_argument", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "internal", Message: err.Error()}
	}
}
