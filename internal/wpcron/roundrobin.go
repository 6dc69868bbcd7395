package wpcron

import (
	"context"
	"fmt"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
)

// RoundRobin fires hooks that are already due, one action per hook, with no
// coalescing or memory between rounds.
type RoundRobin struct {
	src     Source
	sched   Submitter
	log     *logging.Logger
	clock   clock.Clock
	timeout time.Duration
	spread  time.Duration
}

// NewRoundRobin creates the round-robin strategy.
func NewRoundRobin(src Source, sched Submitter, timeout time.Duration, log *logging.Logger, clk clock.Clock) *RoundRobin {
	return &RoundRobin{
		src:     src,
		sched:   sched,
		log:     log.With("strategy", "roundrobin"),
		clock:   clk,
		timeout: timeout,
	}
}

// SetSpread jitters each due hook by a random delay below d so that sites
// sharing a schedule do not all fire at once. Zero submits hooks directly.
func (r *RoundRobin) SetSpread(d time.Duration) {
	r.spread = d
}

func (r *RoundRobin) Name() string { return "roundrobin" }

// Scan submits every due hook on every site.
func (r *RoundRobin) Scan(ctx context.Context) error {
	sites, err := r.src.Sites(ctx)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		hooks, err := r.src.Hooks(ctx, site)
		if err != nil {
			r.log.Warn("failed to list cron hooks", "site", site, "error", err)
			continue
		}
		now := r.clock.Now()
		for _, h := range hooks {
			if h.NextRun.After(now) {
				continue
			}
			f := newFiring(site, h.Name)
			a := action.New(action.CategoryCron, f.describe, func(ctx context.Context) (bool, error) {
				if err := r.src.RunHooks(ctx, f.site, f.seal()...); err != nil {
					return false, err
				}
				return true, nil
			}, action.WithTimeout(r.timeout))
			if err := r.submit(a, now); err != nil {
				r.log.Warn("failed to submit due hook", "site", site, "hook", h.Name, "error", err)
				continue
			}
			metrics.CronEventsScheduled.Inc()
		}
	}
	return nil
}

func (r *RoundRobin) submit(a *action.Action, now time.Time) error {
	if r.spread <= 0 {
		_, err := r.sched.SubmitNow(a)
		return err
	}
	at := action.Jitter(now, r.spread).RandomMoment()
	_, err := r.sched.SubmitAfter(a, at.Sub(now))
	return err
}
