// Package web serves the read-only status API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/agent"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/store"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcron"
)

// Dependencies is what the status API reads from the rest of the agent.
// Nil members are reported as absent.
type Dependencies struct {
	Schedulers []SchedulerStats
	Cron       CronStatus
	Jobs       JobLister
	History    HistoryStore
	Suppressed SuppressionLister
	EventBus   EventSubscriber
	Log        *slog.Logger
}

// SchedulerStats reports queue and worker usage.
type SchedulerStats interface {
	Stats() action.Stats
}

// CronStatus reports the dispatcher's last round.
type CronStatus interface {
	Status() wpcron.Status
}

// JobLister lists periodic jobs.
type JobLister interface {
	Entries() []agent.EntryStatus
}

// HistoryStore reads finished actions.
type HistoryStore interface {
	ListActions(limit int) ([]store.ActionRecord, error)
}

// SuppressionLister reads the integrity suppression set.
type SuppressionLister interface {
	ListSuppressed() (map[string]time.Time, error)
	IsSuppressed(path string) (bool, error)
}

// EventSubscriber is the part of events.Bus the stream uses.
type EventSubscriber interface {
	Subscribe() (<-chan events.Event, func())
	Subscribers() int
}

// Server is the status HTTP server.
type Server struct {
	deps    Dependencies
	mux     *http.ServeMux
	server  *http.Server
	started time.Time
}

// NewServer creates a Server with every route registered.
func NewServer(deps Dependencies) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the event stream is long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("status API listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /api/status", s.apiStatus)
	s.mux.HandleFunc("GET /api/actions", s.apiActions)
	s.mux.HandleFunc("GET /api/suppressed", s.apiSuppressed)
	s.mux.HandleFunc("GET /api/events", s.apiEvents)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
