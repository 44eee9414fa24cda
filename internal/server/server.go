// Package server exposes the registry over a JSON REST API.
//
// The boundary owns HTTP verbs, routing, status codes, and response
// shapes; the registry core never sees transport details.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"muster/internal/config"
	"muster/internal/listener"
	"muster/internal/logging"
	"muster/internal/notify"
	"muster/internal/reaper"
	"muster/internal/registry"
)

// Version is set at build time.
var Version = "dev"

// Config holds server configuration.
type Config struct {
	// Store is the registry the API operates on. Required.
	Store *registry.Store

	// Directory receives webhook subscriptions. Required.
	Directory *listener.Directory

	// Dispatcher contributes delivery counters to /metrics. Optional.
	Dispatcher *notify.Dispatcher

	// Reaper contributes sweep counters to /metrics. Optional.
	Reaper *reaper.Reaper

	// RateLimit throttles shape-changing routes per client IP.
	// Heartbeats and lookups are never limited.
	RateLimit config.RateLimit

	// Now returns the current time, used to compute record ages.
	// Defaults to time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, logging is disabled.
	// The server scopes this logger with component="server".
	Logger *slog.Logger
}

// Server is the HTTP server for the registry API.
type Server struct {
	store      *registry.Store
	directory  *listener.Directory
	dispatcher *notify.Dispatcher
	reaper     *reaper.Reaper
	limiter    *rateLimiter
	now        func() time.Time
	logger     *slog.Logger
	startTime  time.Time

	echo *echo.Echo

	mu            sync.Mutex
	server        *http.Server
	cleanupCancel context.CancelFunc
	cleanupWG     sync.WaitGroup
	draining      atomic.Bool
}

// New creates a Server. It fails when the store or directory is
// missing.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("server: directory is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		store:      cfg.Store,
		directory:  cfg.Directory,
		dispatcher: cfg.Dispatcher,
		reaper:     cfg.Reaper,
		now:        cfg.Now,
		logger:     logging.Default(cfg.Logger).With("component", "server"),
		startTime:  time.Now(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.echo = s.buildEcho()
	return s, nil
}

// buildEcho wires routes, middleware, and the central error handler.
func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler
	e.Use(s.requestLogger)

	// Shape-changing routes are rate limited when configured;
	// heartbeats and lookups are high-frequency and never throttled.
	var limited []echo.MiddlewareFunc
	if s.limiter != nil {
		limited = append(limited, s.limiter.middleware)
	}

	v1 := e.Group("/v1")
	v1.POST("/register", s.handleRegister, limited...)
	v1.DELETE("/providers/:uuid", s.handleDeregister, limited...)
	v1.PUT("/heartbeat/:uuid", s.handleHeartbeat)
	v1.GET("/providers/:uuid", s.handleGetProvider)
	v1.GET("/services/:service", s.handleLookupByName)
	v1.GET("/tags/:tag", s.handleLookupByTag)
	v1.GET("/snapshot", s.handleSnapshot)
	v1.POST("/subscriptions/services/:service", s.handleSubscribeName, limited...)
	v1.POST("/subscriptions/tags/:tag", s.handleSubscribeTag, limited...)
	v1.POST("/subscriptions/all", s.handleSubscribeAll, limited...)

	s.registerProbes(e)
	e.GET("/metrics", s.handleMetrics)

	return e
}

// registerProbes adds Kubernetes liveness and readiness endpoints.
func (s *Server) registerProbes(e *echo.Echo) {
	// Liveness: 200 while the process is alive.
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// Readiness: 503 once draining.
	e.GET("/readyz", func(c echo.Context) error {
		if s.draining.Load() {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
}

// requestLogger logs each request at debug level after it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"remote", c.RealIP(),
			"duration", time.Since(start),
		)
		return err
	}
}

// Serve starts the server on the given listener with h2c (HTTP/2
// cleartext) support. It blocks until the server is stopped or fails.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.server = &http.Server{
		Handler: h2c.NewHandler(s.echo, &http2.Server{}),
	}
	s.cleanupCancel = cancel
	if s.limiter != nil {
		s.limiter.startCleanup(ctx, &s.cleanupWG, time.Minute, 10*time.Minute)
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", ln.Addr().String())

	err := server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Stop gracefully stops the server: readiness flips first so load
// balancers drain, then in-flight requests complete within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.draining.Store(true)

	s.mu.Lock()
	server := s.server
	cancel := s.cleanupCancel
	s.server = nil
	s.cleanupCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.cleanupWG.Wait()
	}
	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	return server.Shutdown(ctx)
}

// Handler returns the server's http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
