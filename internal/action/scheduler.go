package action

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
)

// ErrSchedulerClosed is returned by submissions made after Shutdown started.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// DefaultGracePeriod is how long Shutdown waits for outstanding actions.
const DefaultGracePeriod = 30 * time.Second

// Observer is told about every action that leaves the scheduler.
type Observer interface {
	ActionFinished(scheduler string, a *Action)
}

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Name    string `json:"name"`
	Workers int    `json:"workers"`
	Queued  int64  `json:"queued"`
	Running int64  `json:"running"`
	Closed  bool   `json:"closed"`
}

// Scheduler executes actions on a fixed number of workers. Submission never
// blocks; excess work waits its turn in FIFO order.
type Scheduler struct {
	name     string
	workers  int
	log      *logging.Logger
	clock    clock.Clock
	grace    time.Duration
	observer Observer

	sem     *semaphore.Weighted
	queued  atomic.Int64
	running atomic.Int64

	mu       sync.Mutex
	closed   bool
	live     map[*Action]struct{}
	wg       sync.WaitGroup
	draining chan struct{}

	// killCtx is the parent of every operation context. It is canceled when
	// the shutdown grace period expires.
	killCtx context.Context
	kill    context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewScheduler creates a Scheduler named name with the given pool width.
func NewScheduler(name string, workers int, log *logging.Logger, clk clock.Clock) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		name:     name,
		workers:  workers,
		log:      log.With("scheduler", name),
		clock:    clk,
		grace:    DefaultGracePeriod,
		sem:      semaphore.NewWeighted(int64(workers)),
		live:     make(map[*Action]struct{}),
		draining: make(chan struct{}),
		killCtx:  ctx,
		kill:     cancel,
	}
}

// SetGracePeriod overrides how long Shutdown waits before forcing.
func (s *Scheduler) SetGracePeriod(d time.Duration) {
	s.grace = d
}

// SetObserver attaches an observer for finished actions.
func (s *Scheduler) SetObserver(o Observer) {
	s.observer = o
}

// Name returns the scheduler name used in logs and metrics.
func (s *Scheduler) Name() string { return s.name }

// SubmitNow runs a as soon as a worker is free.
func (s *Scheduler) SubmitNow(a *Action) (*Handle, error) {
	return s.submit(a, 0)
}

// SubmitAfter runs a once delay has elapsed and a worker is free.
func (s *Scheduler) SubmitAfter(a *Action, delay time.Duration) (*Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.submit(a, delay)
}

// SubmitWithin runs a at a random moment inside w.
func (s *Scheduler) SubmitWithin(a *Action, w TimeWindow) (*Handle, error) {
	return s.SubmitAfter(a, w.RandomMoment().Sub(s.clock.Now()))
}

func (s *Scheduler) submit(a *Action, delay time.Duration) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	if err := a.markSubmitted(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.live[a] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.queued.Add(1)
	metrics.ActionsQueued.WithLabelValues(s.name).Inc()
	s.log.Debug("action scheduled", "action", a.Description(), "category", a.Category(), "delay", delay)

	go s.dispatch(a, delay)
	return &Handle{a: a, now: s.clock.Now}, nil
}

// dispatch waits out the delay, then for a worker slot, then runs a.
func (s *Scheduler) dispatch(a *Action, delay time.Duration) {
	defer s.wg.Done()
	defer s.release(a)

	dequeue := sync.OnceFunc(func() {
		s.queued.Add(-1)
		metrics.ActionsQueued.WithLabelValues(s.name).Dec()
	})
	defer dequeue()

	if delay > 0 {
		select {
		case <-s.clock.After(delay):
		case <-s.draining:
			if a.abort(StateCanceled, s.clock.Now()) {
				s.log.Debug("delayed action dropped by shutdown", "action", a.Description())
			}
			return
		case <-a.Done():
			return
		}
	}

	if err := s.sem.Acquire(s.killCtx, 1); err != nil {
		a.abort(StateCanceled, s.clock.Now())
		return
	}
	defer s.sem.Release(1)

	dequeue()
	s.run(a)
}

func (s *Scheduler) run(a *Action) {
	ctx, ok := a.begin(s.killCtx, s.clock.Now())
	if !ok {
		return
	}
	s.running.Add(1)
	metrics.ActionsRunning.WithLabelValues(s.name).Inc()
	defer func() {
		s.running.Add(-1)
		metrics.ActionsRunning.WithLabelValues(s.name).Dec()
	}()

	if a.Timeout() > 0 {
		go s.watch(a)
	}

	ok, err := s.invoke(ctx, a)
	if !a.finish(ok, err, s.clock.Now()) {
		return
	}
	switch {
	case err != nil:
		s.log.Error("action failed", "action", a.Description(), "category", a.Category(), "error", err)
	case !ok:
		s.log.Info("action reported failure", "action", a.Description(), "category", a.Category())
	default:
		s.log.Debug("action succeeded", "action", a.Description(), "category", a.Category())
	}
}

// invoke runs the operation and converts a panic into a failure so one
// broken action cannot take the pool down.
func (s *Scheduler) invoke(ctx context.Context, a *Action) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("action panicked: %v", r)
			s.log.Error("action panicked", "action", a.Description(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return a.op(ctx)
}

func (s *Scheduler) release(a *Action) {
	s.mu.Lock()
	delete(s.live, a)
	s.mu.Unlock()

	state := a.State()
	metrics.ActionsTotal.WithLabelValues(s.name, string(a.Category()), state.String()).Inc()
	if _, started, completed := a.Times(); !started.IsZero() && !completed.IsZero() {
		metrics.ActionDuration.WithLabelValues(s.name, string(a.Category())).Observe(completed.Sub(started).Seconds())
	}
	if s.observer != nil {
		s.observer.ActionFinished(s.name, a)
	}
}

// Stats returns current queue and worker usage.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return Stats{
		Name:    s.name,
		Workers: s.workers,
		Queued:  s.queued.Load(),
		Running: s.running.Load(),
		Closed:  closed,
	}
}

// Shutdown stops accepting submissions and waits up to the grace period for
// queued and running actions. Actions still outstanding after that are
// canceled and their operations' contexts are canceled. Actions waiting on
// a delay are canceled immediately. Shutdown is idempotent; every call
// returns the result of the first.
func (s *Scheduler) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.draining)
		s.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			s.log.Info("scheduler drained")
		case <-s.clock.After(s.grace):
			s.kill()
			n := s.abortLive()
			s.shutdownErr = fmt.Errorf("scheduler %s: forced termination of %d actions after %s", s.name, n, s.grace)
			s.log.Warn("scheduler grace period exceeded", "forced", n, "grace", s.grace)
		}
		s.kill()
	})
	return s.shutdownErr
}

func (s *Scheduler) abortLive() int {
	s.mu.Lock()
	pending := make([]*Action, 0, len(s.live))
	for a := range s.live {
		pending = append(pending, a)
	}
	s.mu.Unlock()

	n := 0
	now := s.clock.Now()
	for _, a := range pending {
		if a.abort(StateCanceled, now) {
			n++
		}
	}
	return n
}
