package wpcron

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
)

// DefaultScanPeriod is how often the low-latency strategy re-reads hooks.
const DefaultScanPeriod = 5 * time.Minute

// LowLatency schedules every known hook, due or upcoming, for its exact
// instant. Hooks on one site that fall within the coalescing window share
// one firing. The tracked events are owned by the dispatcher's loop and
// must not be touched from other goroutines.
type LowLatency struct {
	src     Source
	sched   Submitter
	log     *logging.Logger
	clock   clock.Clock
	window  time.Duration
	timeout time.Duration

	events  map[eventKey]*Event
	bySite  map[string][]*Event
	tracked atomic.Int64
}

// NewLowLatency creates the low-latency strategy. window is the coalescing
// window and timeout bounds each firing.
func NewLowLatency(src Source, sched Submitter, window, timeout time.Duration, log *logging.Logger, clk clock.Clock) *LowLatency {
	return &LowLatency{
		src:     src,
		sched:   sched,
		log:     log.With("strategy", "lowlatency"),
		clock:   clk,
		window:  window,
		timeout: timeout,
		events:  make(map[eventKey]*Event),
		bySite:  make(map[string][]*Event),
	}
}

func (l *LowLatency) Name() string { return "lowlatency" }

// Tracked returns the number of outstanding events after the last round.
func (l *LowLatency) Tracked() int { return int(l.tracked.Load()) }

// Scan schedules every hook not already tracked, then forgets events whose
// firing has finished. A canceled ctx stops the site loop early.
func (l *LowLatency) Scan(ctx context.Context) error {
	defer l.cleanup()

	sites, err := l.src.Sites(ctx)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		hooks, err := l.src.Hooks(ctx, site)
		if err != nil {
			l.log.Warn("failed to list cron hooks", "site", site, "error", err)
			continue
		}
		now := l.clock.Now()
		for _, h := range hooks {
			l.track(site, h, now)
		}
	}
	return nil
}

func (l *LowLatency) track(site string, h Hook, now time.Time) {
	ev := NewEvent(site, h)
	key := ev.key()
	if _, ok := l.events[key]; ok {
		return
	}

	if host := l.coalescable(ev); host != nil && host.firing.add(ev.Hook) {
		ev.firing = host.firing
		if err := ev.Attach(host.handle); err != nil {
			l.log.Error("failed to attach coalesced event", "site", site, "hook", ev.Hook, "error", err)
			return
		}
		l.remember(ev)
		metrics.CronEventsCoalesced.Inc()
		l.log.Debug("cron event coalesced", "site", site, "hook", ev.Hook, "at", ev.At, "with", host.Hook)
		return
	}

	f := newFiring(site, ev.Hook)
	a := action.New(action.CategoryCron, f.describe, l.fire(f), action.WithTimeout(l.timeout))
	delay := time.Duration(clock.SecondsBetween(now, h.NextRun)) * time.Second
	handle, err := l.sched.SubmitAfter(a, delay)
	if err != nil {
		l.log.Warn("failed to schedule cron event", "site", site, "hook", ev.Hook, "error", err)
		return
	}
	ev.firing = f
	ev.primary = true
	if err := ev.Attach(handle); err != nil {
		l.log.Error("failed to attach cron event", "site", site, "hook", ev.Hook, "error", err)
		return
	}
	l.remember(ev)
	metrics.CronEventsScheduled.Inc()
	l.log.Debug("cron event scheduled", "site", site, "hook", ev.Hook, "at", ev.At, "delay", delay)
}

// coalescable finds the event that created a firing on the same site, has
// not started yet, and lies within the window. Only the creating event is
// compared so a chain of close hooks cannot stretch one firing beyond the
// window.
func (l *LowLatency) coalescable(ev *Event) *Event {
	for _, other := range l.bySite[ev.Site] {
		if other.primary && other.pending() && other.Coalescable(ev, l.window) {
			return other
		}
	}
	return nil
}

func (l *LowLatency) remember(ev *Event) {
	l.events[ev.key()] = ev
	l.bySite[ev.Site] = append(l.bySite[ev.Site], ev)
}

// cleanup drops every event whose action is terminal.
func (l *LowLatency) cleanup() {
	for key, ev := range l.events {
		if ev.finished() {
			delete(l.events, key)
		}
	}
	for site, evs := range l.bySite {
		kept := evs[:0]
		for _, ev := range evs {
			if !ev.finished() {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(l.bySite, site)
			continue
		}
		l.bySite[site] = kept
	}
	l.tracked.Store(int64(len(l.events)))
	metrics.CronEventsTracked.Set(float64(len(l.events)))
}

func (l *LowLatency) fire(f *firing) action.Operation {
	return func(ctx context.Context) (bool, error) {
		hooks := f.seal()
		if err := l.src.RunHooks(ctx, f.site, hooks...); err != nil {
			return false, fmt.Errorf("run %d hooks on %s: %w", len(hooks), f.site, err)
		}
		return true, nil
	}
}
