// Package server exposes the analytics request path and the live channel over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"solana-token-analytics/internal/analytics"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/gateway"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
	"solana-token-analytics/internal/subscription"
)

// Analyzer serves analytics requests.
type Analyzer interface {
	Analyze(ctx context.Context, req analytics.Request) (*domain.AnalyticsReport, error)
	AnalyzeBatch(ctx context.Context, tokens []string, kinds []domain.MetricKind) (map[string]domain.BatchResult, error)
}

// Upstream reports upstream health. Implemented by *gateway.Gateway.
type Upstream interface {
	Health(ctx context.Context) error
	BreakerStates() map[string]gateway.BreakerState
}

// CacheSizer reports the number of cache entries.
type CacheSizer interface {
	Len() int
}

// Options for creating Server.
type Options struct {
	// Required
	Analytics Analyzer
	Live      *subscription.Manager

	Upstream         Upstream   // optional, health reports ok without it
	Cache            CacheSizer // optional
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration // wait for the first live channel message
	Logger           *logger.Logger
}

// Server handles HTTP and live channel requests.
type Server struct {
	analytics        Analyzer
	live             *subscription.Manager
	upstream         Upstream
	cache            CacheSizer
	requestTimeout   time.Duration
	handshakeTimeout time.Duration
	upgrader         websocket.Upgrader
	log              *logger.Logger
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		analytics:        opts.Analytics,
		live:             opts.Live,
		upstream:         opts.Upstream,
		cache:            opts.Cache,
		requestTimeout:   opts.RequestTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		log:              opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 60 * time.Second
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = 10 * time.Second
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Get("/tokens/{address}/analytics", s.handleAnalytics)
		r.Post("/analytics/batch", s.handleBatch)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/ws/tokens/{address}", s.handleLive)
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infow("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// instrument logs each request and records it by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, status)
		s.log.Debugw("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
