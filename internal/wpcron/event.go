// Package wpcron turns the scheduled hooks of every site into precisely
// timed, deduplicated firings on an action scheduler.
package wpcron

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
)

// ErrAlreadyAttached is returned when a second action is attached to an event.
var ErrAlreadyAttached = errors.New("cron event already has an action attached")

// DefaultCoalesceWindow is the largest gap between two events on one site
// that still lets them share a single firing.
const DefaultCoalesceWindow = 15 * time.Second

// Hook is one scheduled hook of a site. Hooks are equal by name within a site.
type Hook struct {
	Name     string    `json:"hook"`
	NextRun  time.Time `json:"next_run"`
	Schedule string    `json:"recurrence,omitempty"`
}

// eventKey identifies an event by site, hook and second-resolution instant.
type eventKey struct {
	site string
	hook string
	at   int64
}

// Event is a hook occurrence on a site, at whole-second precision. It refers
// to, but does not own, the action scheduled to fire it.
type Event struct {
	Site string
	Hook string
	At   time.Time

	handle  *action.Handle
	firing  *firing
	primary bool
}

// NewEvent builds the event for hook h on site.
func NewEvent(site string, h Hook) *Event {
	return &Event{
		Site: site,
		Hook: h.Name,
		At:   h.NextRun.Truncate(time.Second),
	}
}

func (e *Event) key() eventKey {
	return eventKey{site: e.Site, hook: e.Hook, at: e.At.Unix()}
}

// Coalescable reports whether e and o may share one firing: same site and
// instants no more than window apart.
func (e *Event) Coalescable(o *Event, window time.Duration) bool {
	if e.Site != o.Site {
		return false
	}
	d := e.At.Sub(o.At)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Attach binds the scheduled action to the event.
func (e *Event) Attach(h *action.Handle) error {
	if e.handle != nil {
		return ErrAlreadyAttached
	}
	e.handle = h
	return nil
}

// Handle returns the attached action handle, or nil.
func (e *Event) Handle() *action.Handle { return e.handle }

// pending reports whether the attached action has not started yet, so more
// hooks can still join its firing.
func (e *Event) pending() bool {
	return e.handle != nil && e.handle.State() == action.StateScheduled
}

// finished reports whether the attached action reached a terminal state.
func (e *Event) finished() bool {
	return e.handle != nil && e.handle.State().Terminal()
}

// firing is the set of hooks one cron action runs on one site. Hooks join
// while the action is still waiting for its delay; once the action takes
// its hook list the firing is sealed.
type firing struct {
	site string

	mu     sync.Mutex
	hooks  []string
	sealed bool
}

func newFiring(site, hook string) *firing {
	return &firing{site: site, hooks: []string{hook}}
}

// add joins hook to the firing. It reports false once the firing is sealed,
// in which case the hook needs an action of its own.
func (f *firing) add(hook string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sealed {
		return false
	}
	for _, h := range f.hooks {
		if h == hook {
			return true
		}
	}
	f.hooks = append(f.hooks, hook)
	return true
}

func (f *firing) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hooks...)
}

// seal closes the firing to new hooks and returns the final list.
func (f *firing) seal() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sealed = true
	return append([]string(nil), f.hooks...)
}

func (f *firing) describe() string {
	return "cron " + f.site + " [" + strings.Join(f.names(), ",") + "]"
}
