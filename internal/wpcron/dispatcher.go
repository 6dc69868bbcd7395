package wpcron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
)

// Source is the live view of sites and their scheduled hooks.
type Source interface {
	Sites(ctx context.Context) ([]string, error)
	Hooks(ctx context.Context, site string) ([]Hook, error)
	RunHooks(ctx context.Context, site string, hooks ...string) error
}

// Submitter is the part of action.Scheduler the dispatcher drives.
type Submitter interface {
	SubmitNow(a *action.Action) (*action.Handle, error)
	SubmitAfter(a *action.Action, delay time.Duration) (*action.Handle, error)
}

// Scanner performs one scan round of a dispatch strategy.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) error
}

// Status is a snapshot of the dispatcher for the status API.
type Status struct {
	Strategy string        `json:"strategy"`
	Period   time.Duration `json:"period"`
	Rounds   int64         `json:"rounds"`
	LastScan time.Time     `json:"last_scan"`
	LastErr  string        `json:"last_error,omitempty"`
	Tracked  int           `json:"tracked"`
}

// Publisher receives a summary event after every round.
type Publisher interface {
	Dispatch(evt events.Event)
}

// Dispatcher runs a Scanner in a loop, one round per period.
type Dispatcher struct {
	scanner Scanner
	period  time.Duration
	log     *logging.Logger
	clock   clock.Clock
	bus     Publisher

	mu     sync.Mutex
	status Status
}

// NewDispatcher creates a Dispatcher that scans every period.
func NewDispatcher(scanner Scanner, period time.Duration, log *logging.Logger, clk clock.Clock) *Dispatcher {
	return &Dispatcher{
		scanner: scanner,
		period:  period,
		log:     log.With("component", "cron"),
		clock:   clk,
		status:  Status{Strategy: scanner.Name(), Period: period},
	}
}

// SetPublisher announces each finished round on bus. Call before Run.
func (d *Dispatcher) SetPublisher(bus Publisher) {
	d.bus = bus
}

// Run scans until ctx is canceled. A round that overruns the period is
// followed by the next one immediately; rounds are never skipped.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("cron dispatcher started", "strategy", d.scanner.Name(), "period", d.period)
	for {
		if ctx.Err() != nil {
			d.log.Info("cron dispatcher stopped")
			return nil
		}

		deadline := d.clock.Now().Add(d.period)
		d.round(ctx)

		wait := d.clock.Until(deadline)
		if wait <= 0 {
			continue
		}
		select {
		case <-d.clock.After(wait):
		case <-ctx.Done():
			d.log.Info("cron dispatcher stopped")
			return nil
		}
	}
}

// round runs one scan and keeps any failure local to it.
func (d *Dispatcher) round(ctx context.Context) {
	start := d.clock.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scan panicked: %v", r)
			}
		}()
		err = d.scanner.Scan(ctx)
	}()

	metrics.CronScansTotal.WithLabelValues(d.scanner.Name()).Inc()
	metrics.CronScanDuration.Observe(d.clock.Since(start).Seconds())

	d.mu.Lock()
	d.status.Rounds++
	d.status.LastScan = start
	d.status.LastErr = ""
	if err != nil && ctx.Err() == nil {
		d.status.LastErr = err.Error()
	}
	if t, ok := d.scanner.(interface{ Tracked() int }); ok {
		d.status.Tracked = t.Tracked()
	}
	st := d.status
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Dispatch(events.Event{
			Type:      events.TypeCronScan,
			Message:   fmt.Sprintf("strategy=%s round=%d tracked=%d", st.Strategy, st.Rounds, st.Tracked),
			Timestamp: start,
		})
	}

	if err != nil && ctx.Err() == nil {
		d.log.Error("cron scan failed", "strategy", d.scanner.Name(), "error", err)
	}
}

// Status returns a snapshot of the dispatcher.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
