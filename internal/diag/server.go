// Package diag serves the local diagnostics HTTP endpoints.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/config"
)

// Snapshot is the body of the /status endpoint.
type Snapshot struct {
	MonitoringStatus  string                         `json:"monitoring_status"`
	MQTTConnected     bool                           `json:"mqtt_connected"`
	ReaderUtilization map[string]bacnet.ReaderStatus `json:"reader_utilization"`
	Time              string                         `json:"time"`
}

// StatusFunc supplies the current snapshot on demand.
type StatusFunc func() Snapshot

// Server is the diagnostics HTTP server. Bound to localhost by default;
// it exposes liveness, readiness, metrics and a status summary.
type Server struct {
	cfg    config.DiagConfig
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg config.DiagConfig, status StatusFunc, ready func() bool, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() {
	s.logger.Info("diagnostics server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("diagnostics server failed", slog.String("error", err.Error()))
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
