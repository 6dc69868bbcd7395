package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/agent"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/store"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcron"
)

type fixedStats action.Stats

func (f fixedStats) Stats() action.Stats { return action.Stats(f) }

type fixedCron wpcron.Status

func (f fixedCron) Status() wpcron.Status { return wpcron.Status(f) }

type fixedJobs []agent.EntryStatus

func (f fixedJobs) Entries() []agent.EntryStatus { return f }

type fakeHistory struct {
	records []store.ActionRecord
	err     error
	limit   int
}

func (f *fakeHistory) ListActions(limit int) ([]store.ActionRecord, error) {
	f.limit = limit
	if limit < len(f.records) {
		return f.records[:limit], f.err
	}
	return f.records, f.err
}

type fakeSuppressed map[string]time.Time

func (f fakeSuppressed) ListSuppressed() (map[string]time.Time, error) { return f, nil }

func (f fakeSuppressed) IsSuppressed(path string) (bool, error) {
	for p := range f {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true, nil
		}
	}
	return false, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewServer(Dependencies{}).Handler(), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	srv := NewServer(Dependencies{
		Schedulers: []SchedulerStats{
			fixedStats{Name: "actions", Workers: 4, Queued: 2},
			fixedStats{Name: "cron", Workers: 8, Running: 1},
		},
		Cron: fixedCron{Strategy: "lowlatency", Rounds: 7, Tracked: 12},
		Jobs: fixedJobs{{Name: "auto-install", Spec: "@hourly"}},
	})
	rec := get(t, srv.Handler(), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Schedulers) != 2 || resp.Schedulers[0].Queued != 2 || resp.Schedulers[1].Name != "cron" {
		t.Errorf("schedulers = %+v", resp.Schedulers)
	}
	if resp.Cron == nil || resp.Cron.Tracked != 12 {
		t.Errorf("cron = %+v", resp.Cron)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].Name != "auto-install" {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
}

func TestStatusWithoutCron(t *testing.T) {
	rec := get(t, NewServer(Dependencies{}).Handler(), "/api/status")
	if strings.Contains(rec.Body.String(), `"cron"`) {
		t.Errorf("body = %s, want cron omitted", rec.Body.String())
	}
}

func TestActionsLimit(t *testing.T) {
	hist := &fakeHistory{records: []store.ActionRecord{{Description: "a"}, {Description: "b"}, {Description: "c"}}}
	h := NewServer(Dependencies{History: hist}).Handler()

	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"", http.StatusOK, defaultActionLimit},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=999999", http.StatusOK, maxActionLimit},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=ten", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			hist.limit = 0
			rec := get(t, h, "/api/actions"+tt.query)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if hist.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", hist.limit, tt.wantLimit)
			}
		})
	}
}

func TestActionsEmptyAndErrors(t *testing.T) {
	rec := get(t, NewServer(Dependencies{History: &fakeHistory{}}).Handler(), "/api/actions")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}

	rec = get(t, NewServer(Dependencies{History: &fakeHistory{err: errors.New("db closed")}}).Handler(), "/api/actions")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}

	rec = get(t, NewServer(Dependencies{}).Handler(), "/api/actions")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503 without history", rec.Code)
	}
}

func TestSuppressed(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := get(t, NewServer(Dependencies{Suppressed: fakeSuppressed{"/wp-content/plugins/x": at}}).Handler(), "/api/suppressed")
	var got map[string]time.Time
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got["/wp-content/plugins/x"].Equal(at) {
		t.Errorf("got %v", got)
	}
}

func TestSuppressedPathCheck(t *testing.T) {
	h := NewServer(Dependencies{Suppressed: fakeSuppressed{"/wp-content/plugins/x": time.Now()}}).Handler()
	tests := []struct {
		path string
		want bool
	}{
		{"/wp-content/plugins/x/x.php", true},
		{"/wp-content/plugins/xy", false},
	}
	for _, tt := range tests {
		rec := get(t, h, "/api/suppressed?path="+tt.path)
		var got struct {
			Path       string `json:"path"`
			Suppressed bool   `json:"suppressed"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Path != tt.path || got.Suppressed != tt.want {
			t.Errorf("%s: got %+v, want suppressed=%v", tt.path, got, tt.want)
		}
	}
}

func TestStatusCountsListeners(t *testing.T) {
	bus := events.New()
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	rec := get(t, NewServer(Dependencies{EventBus: bus}).Handler(), "/api/status")
	var got struct {
		Listeners *int `json:"event_listeners"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Listeners == nil || *got.Listeners != 1 {
		t.Errorf("event_listeners = %v, want 1", got.Listeners)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, NewServer(Dependencies{}).Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.New()
	ts := httptest.NewServer(NewServer(Dependencies{EventBus: bus}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var name string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "event: ") {
				name = strings.TrimPrefix(line, "event: ")
			}
			if line == "" && name != "" {
				return name
			}
		}
	}

	if got := readEvent(); got != "connected" {
		t.Fatalf("first event = %q", got)
	}
	bus.Dispatch(events.Event{Type: events.TypeInstalled, Component: "akismet"})
	if got := readEvent(); got != string(events.TypeInstalled) {
		t.Errorf("event = %q", got)
	}
}
