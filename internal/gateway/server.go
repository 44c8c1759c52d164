// Package gateway exposes the monitor over WebSocket and HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chainmonitor/internal/hub"
	"chainmonitor/internal/model"
)

// Source is the monitor surface the gateway serves.
type Source interface {
	Subscribe() (*hub.Subscriber, error)
	Unsubscribe(id string)
	GetStats() model.Stats
	Running() bool
}

// Config controls the HTTP listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	AllowOrigins []string
}

// Server serves /ws, /api/stats, /healthz and /metrics.
type Server struct {
	cfg    Config
	source Source
	logger *zap.Logger
	router *chi.Mux
	server *http.Server
}

// NewServer builds the router and HTTP server.
func NewServer(cfg Config, source Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		source: source,
		logger: logger.With(zap.String("component", "gateway")),
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	// No WriteTimeout: websocket connections are long lived.
	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.handleWebSocket)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", zap.String("addr", s.cfg.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.GetStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": s.source.Running(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
