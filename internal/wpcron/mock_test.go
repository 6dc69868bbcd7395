package wpcron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(t time.Time) *mockClock { return &mockClock{now: t} }

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *mockClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }
func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockSource serves fixed site and hook listings and records firings.
type mockSource struct {
	mu       sync.Mutex
	sites    []string
	sitesErr error
	hooks    map[string][]Hook
	hooksErr map[string]error
	runs     []string
	runErr   error
	onSites  func()
}

func newMockSource(sites ...string) *mockSource {
	return &mockSource{
		sites:    sites,
		hooks:    make(map[string][]Hook),
		hooksErr: make(map[string]error),
	}
}

func (m *mockSource) Sites(context.Context) ([]string, error) {
	if m.onSites != nil {
		m.onSites()
	}
	return m.sites, m.sitesErr
}

func (m *mockSource) Hooks(_ context.Context, site string) ([]Hook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Hook(nil), m.hooks[site]...), m.hooksErr[site]
}

func (m *mockSource) setHooks(site string, hooks ...Hook) {
	m.mu.Lock()
	m.hooks[site] = hooks
	m.mu.Unlock()
}

func (m *mockSource) RunHooks(_ context.Context, site string, hooks ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hooks {
		m.runs = append(m.runs, site+":"+h)
	}
	return m.runErr
}

func (m *mockSource) fired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.runs...)
}

// recordingSubmitter forwards to a real scheduler and remembers every
// submission.
type recordingSubmitter struct {
	sched *action.Scheduler

	mu      sync.Mutex
	actions []*action.Action
	delays  []time.Duration
	now     int
	failAll bool
}

func (r *recordingSubmitter) SubmitNow(a *action.Action) (*action.Handle, error) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.now++
	r.mu.Unlock()
	return r.sched.SubmitNow(a)
}

func (r *recordingSubmitter) SubmitAfter(a *action.Action, d time.Duration) (*action.Handle, error) {
	r.mu.Lock()
	if r.failAll {
		r.mu.Unlock()
		return nil, errors.New("scheduler unavailable")
	}
	r.actions = append(r.actions, a)
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return r.sched.SubmitAfter(a, d)
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}
