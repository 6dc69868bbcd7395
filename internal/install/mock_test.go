package install

import (
	"context"
	"errors"
	"sync"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// scriptedSource answers successive lookups from a script. Once the script
// runs out the last answer repeats.
type scriptedSource struct {
	mu      sync.Mutex
	script  []*Component
	lookups int
	stale   int
	err     error
}

func (s *scriptedSource) Lookup(context.Context, string, Kind, string) (*Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	i := s.lookups
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.lookups++
	if i < 0 || s.script[i] == nil {
		return nil, nil
	}
	c := *s.script[i]
	return &c, nil
}

func (s *scriptedSource) MarkStale(string, Kind) {
	s.mu.Lock()
	s.stale++
	s.mu.Unlock()
}

type opCall struct {
	verb  string
	id    string
	force bool
}

type fakeOperator struct {
	mu    sync.Mutex
	calls []opCall
	err   error
	panic bool
	// during runs inside every call, while the directory is suppressed.
	during func()
}

func (f *fakeOperator) record(c opCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if f.panic {
		panic("tool crashed")
	}
	return f.err
}

func (f *fakeOperator) Install(_ context.Context, _, _, id string, force bool) error {
	return f.record(opCall{verb: "install", id: id, force: force})
}

func (f *fakeOperator) Update(_ context.Context, _, _, id, _ string) error {
	return f.record(opCall{verb: "update", id: id})
}

type fakeSuppressor struct {
	mu     sync.Mutex
	active map[string]int
	log    []string
	err    error
}

func newFakeSuppressor() *fakeSuppressor {
	return &fakeSuppressor{active: make(map[string]int)}
}

func (f *fakeSuppressor) Suppress(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[path]++
	f.log = append(f.log, "+"+path)
	return f.err
}

func (f *fakeSuppressor) Unsuppress(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[path]--
	f.log = append(f.log, "-"+path)
	return nil
}

func (f *fakeSuppressor) suppressed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[path] > 0
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeBus) Dispatch(evt events.Event) {
	f.mu.Lock()
	f.events = append(f.events, evt)
	f.mu.Unlock()
}

var errTool = errors.New("exit status 1")

// setSuppressor is a plain idempotent path set, like the bbolt store.
type setSuppressor struct {
	mu  sync.Mutex
	set map[string]bool
}

func (s *setSuppressor) Suppress(path string) error {
	s.mu.Lock()
	s.set[path] = true
	s.mu.Unlock()
	return nil
}

func (s *setSuppressor) Unsuppress(path string) error {
	s.mu.Lock()
	delete(s.set, path)
	s.mu.Unlock()
	return nil
}

func (s *setSuppressor) suppressed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[path]
}

// perSite tracks installs per site so concurrent sites see their own state.
type perSite struct {
	mu        sync.Mutex
	installed map[string]bool
}

func (p *perSite) Lookup(_ context.Context, site string, _ Kind, id string) (*Component, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.installed[site] {
		return nil, nil
	}
	return &Component{ID: id, Kind: "plugin", Version: "5.3"}, nil
}

func (p *perSite) MarkStale(string, Kind) {}

// sharedDirOperator writes into one directory for every site. gate, when
// set for a site, holds that site's install until it is closed.
type sharedDirOperator struct {
	src     *perSite
	sup     *setSuppressor
	path    string
	gate    map[string]chan struct{}
	started chan string

	mu        sync.Mutex
	writing   int
	overlap   bool
	unguarded bool
}

func (o *sharedDirOperator) Install(_ context.Context, site, _, _ string, _ bool) error {
	o.mu.Lock()
	o.writing++
	if o.writing > 1 {
		o.overlap = true
	}
	o.mu.Unlock()
	o.started <- site

	if g, ok := o.gate[site]; ok {
		<-g
	}

	o.mu.Lock()
	if !o.sup.suppressed(o.path) {
		o.unguarded = true
	}
	o.writing--
	o.mu.Unlock()

	o.src.mu.Lock()
	o.src.installed[site] = true
	o.src.mu.Unlock()
	return nil
}

func (o *sharedDirOperator) Update(context.Context, string, string, string, string) error {
	return nil
}
