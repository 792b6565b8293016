// Package api exposes the operational HTTP surface: health, readiness,
// run status, and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/avitolab/listings-crawler/internal/metrics"
	"github.com/avitolab/listings-crawler/internal/proxy"
	"github.com/avitolab/listings-crawler/internal/queue"
)

// Server serves the ops endpoints for a running crawl.
type Server struct {
	router chi.Router
	queue  *queue.TaskQueue
	pool   *proxy.Pool
	runID  string
	ready  atomic.Bool
	logger *zap.Logger
}

// NewServer constructs a Server over the live queue and pool.
func NewServer(taskQueue *queue.TaskQueue, pool *proxy.Pool, runID string, logger *zap.Logger) *Server {
	s := &Server{
		queue:  taskQueue,
		pool:   pool,
		runID:  runID,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe once tasks are loaded and workers run.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	RunID   string      `json:"run_id"`
	Queue   queueStatus `json:"queue"`
	Proxies proxyStatus `json:"proxies"`
}

type queueStatus struct {
	Total   int  `json:"total"`
	Pending int  `json:"pending"`
	Paused  bool `json:"paused"`
}

type proxyStatus struct {
	Total   int `json:"total"`
	Blocked int `json:"blocked"`
	InUse   int `json:"in_use"`
	Free    int `json:"free"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	total, blocked, inUse := s.pool.Stats()
	s.writeJSON(w, http.StatusOK, statusResponse{
		RunID: s.runID,
		Queue: queueStatus{
			Total:   s.queue.Len(),
			Pending: s.queue.PendingCount(),
			Paused:  s.queue.Paused(),
		},
		Proxies: proxyStatus{
			Total:   total,
			Blocked: blocked,
			InUse:   inUse,
			Free:    total - blocked - inUse,
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}
