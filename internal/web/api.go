package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/agent"
	"github.com/Will-Luck/Site-Sentinel/internal/store"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcron"
)

const (
	defaultActionLimit = 50
	maxActionLimit     = 1000
)

type statusResponse struct {
	Uptime     string              `json:"uptime"`
	Schedulers []action.Stats      `json:"schedulers"`
	Cron       *wpcron.Status      `json:"cron,omitempty"`
	Jobs       []agent.EntryStatus `json:"jobs,omitempty"`
	// Listeners counts open event subscriptions, streams and notifiers alike.
	Listeners *int `json:"event_listeners,omitempty"`
}

func (s *Server) apiStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Schedulers: make([]action.Stats, 0, len(s.deps.Schedulers)),
	}
	for _, sc := range s.deps.Schedulers {
		resp.Schedulers = append(resp.Schedulers, sc.Stats())
	}
	if s.deps.Cron != nil {
		st := s.deps.Cron.Status()
		resp.Cron = &st
	}
	if s.deps.Jobs != nil {
		resp.Jobs = s.deps.Jobs.Entries()
	}
	if s.deps.EventBus != nil {
		n := s.deps.EventBus.Subscribers()
		resp.Listeners = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) apiActions(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}
	limit := defaultActionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActionLimit)
	}
	records, err := s.deps.History.ListActions(limit)
	if err != nil {
		s.deps.Log.Error("failed to list actions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if records == nil {
		records = []store.ActionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type suppressionCheck struct {
	Path       string `json:"path"`
	Suppressed bool   `json:"suppressed"`
}

// apiSuppressed lists the suppression set, or with ?path= reports whether
// that path is covered by it.
func (s *Server) apiSuppressed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Suppressed == nil {
		writeError(w, http.StatusServiceUnavailable, "suppression list not available")
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		ok, err := s.deps.Suppressed.IsSuppressed(path)
		if err != nil {
			s.deps.Log.Error("failed to check suppression", "path", path, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read suppression list")
			return
		}
		writeJSON(w, http.StatusOK, suppressionCheck{Path: path, Suppressed: ok})
		return
	}
	paths, err := s.deps.Suppressed.ListSuppressed()
	if err != nil {
		s.deps.Log.Error("failed to list suppressed paths", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read suppression list")
		return
	}
	writeJSON(w, http.StatusOK, paths)
}
