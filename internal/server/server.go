package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/config"
	"trendpulse/internal/metrics"
)

// Server exposes the ops surface: health and prometheus metrics. It carries
// no pipeline API; runs are driven by the command and by NATS subjects.
type Server struct {
	httpServer *http.Server
	db         *pgxpool.Pool
	nats       *nats.Conn
	redis      *redis.Client
	logger     *logrus.Entry
}

// New creates the ops server. The redis client may be nil when the memory
// cache backend is active.
func New(cfg config.ServerConfig, db *pgxpool.Pool, nc *nats.Conn, rdb *redis.Client, m *metrics.Metrics, logger *logrus.Entry) *Server {
	s := &Server{
		db:     db,
		nats:   nc,
		redis:  rdb,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Ops server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server error: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Time       time.Time         `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:     "ok",
		Components: make(map[string]string),
		Time:       time.Now(),
	}

	if err := s.db.Ping(ctx); err != nil {
		status.Components["database"] = "down"
		status.Status = "degraded"
	} else {
		status.Components["database"] = "ok"
	}

	if s.nats == nil || !s.nats.IsConnected() {
		status.Components["nats"] = "down"
		status.Status = "degraded"
	} else {
		status.Components["nats"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status.Components["redis"] = "down"
			status.Status = "degraded"
		} else {
			status.Components["redis"] = "ok"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.WithError(err).Error("Failed to write health response")
	}
}
