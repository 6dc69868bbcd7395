package action

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := NewScheduler("test", workers, logging.New(false), clock.Real{})
	s.SetGracePeriod(2 * time.Second)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func describe(s string) func() string { return func() string { return s } }

func succeed(context.Context) (bool, error) { return true, nil }

func waitState(t *testing.T, h *Handle, within time.Duration) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("action %q not terminal after %s (state %s)", h.Action().Description(), within, st)
	}
	return st
}

// blocker returns an operation that ignores cancellation until released.
func blocker(t *testing.T) (Operation, func()) {
	t.Helper()
	release := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(release) }) }
	t.Cleanup(stop)
	return func(context.Context) (bool, error) {
		<-release
		return true, nil
	}, stop
}

func TestSubmitNowSucceeds(t *testing.T) {
	s := newTestScheduler(t, 2)
	a := New(CategoryMaintenance, describe("noop"), succeed)
	if a.State() != StateCreated {
		t.Fatalf("new action state = %s, want created", a.State())
	}

	h, err := s.SubmitNow(a)
	if err != nil {
		t.Fatalf("SubmitNow: %v", err)
	}
	if st := waitState(t, h, time.Second); st != StateSucceeded {
		t.Errorf("state = %s, want succeeded", st)
	}
	created, started, completed := a.Times()
	if started.IsZero() || completed.IsZero() {
		t.Fatal("start/completion timestamps not recorded")
	}
	if started.Before(created) || completed.Before(started) {
		t.Errorf("timestamps out of order: %v %v %v", created, started, completed)
	}
}

func TestOperationOutcomes(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		op      Operation
		want    State
		wantErr error
	}{
		{"true", succeed, StateSucceeded, nil},
		{"false", func(context.Context) (bool, error) { return false, nil }, StateFailed, nil},
		{"error", func(context.Context) (bool, error) { return true, boom }, StateFailed, boom},
	}
	s := newTestScheduler(t, 3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := s.SubmitNow(New(CategoryOther, describe(tt.name), tt.op))
			if err != nil {
				t.Fatal(err)
			}
			if st := waitState(t, h, time.Second); st != tt.want {
				t.Errorf("state = %s, want %s", st, tt.want)
			}
			if _, err := h.Action().Result(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Result() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPanicIsContained(t *testing.T) {
	s := newTestScheduler(t, 1)
	h, err := s.SubmitNow(New(CategoryOther, describe("panics"), func(context.Context) (bool, error) {
		panic("kaboom")
	}))
	if err != nil {
		t.Fatal(err)
	}
	if st := waitState(t, h, time.Second); st != StateFailed {
		t.Errorf("state = %s, want failed", st)
	}
	if _, err := h.Action().Result(); err == nil {
		t.Error("expected panic to surface as an error result")
	}

	// The single worker must still be usable.
	h2, err := s.SubmitNow(New(CategoryOther, describe("after panic"), succeed))
	if err != nil {
		t.Fatal(err)
	}
	if st := waitState(t, h2, time.Second); st != StateSucceeded {
		t.Errorf("follow-up state = %s, want succeeded", st)
	}
}

func TestSubmitTwiceRejected(t *testing.T) {
	s := newTestScheduler(t, 1)
	a := New(CategoryOther, describe("once"), succeed)
	if _, err := s.SubmitNow(a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SubmitAfter(a, time.Second); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second submit error = %v, want ErrAlreadySubmitted", err)
	}
}

func TestTimeoutBound(t *testing.T) {
	s := newTestScheduler(t, 1)
	op, _ := blocker(t)
	h, err := s.SubmitNow(New(CategoryCron, describe("hangs"), op, WithTimeout(time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	st := waitState(t, h, 1500*time.Millisecond)
	if st != StateTimedOut {
		t.Errorf("state = %s, want timed_out", st)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("timed out too early after %s", elapsed)
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	s := newTestScheduler(t, 1)
	observed := make(chan struct{})
	h, err := s.SubmitNow(New(CategoryCron, describe("cooperative"), func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		close(observed)
		return true, nil
	}, WithTimeout(100*time.Millisecond)))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("operation context not canceled by watchdog")
	}
	// The late return must not overwrite the timeout.
	time.Sleep(20 * time.Millisecond)
	if st := h.State(); st != StateTimedOut {
		t.Errorf("state = %s, want timed_out", st)
	}
}

func TestWatchdogLeavesCompletedActions(t *testing.T) {
	s := newTestScheduler(t, 2)
	ok := New(CategoryOther, describe("quick ok"), succeed, WithTimeout(150*time.Millisecond))
	bad := New(CategoryOther, describe("quick fail"), func(context.Context) (bool, error) {
		return false, nil
	}, WithTimeout(150*time.Millisecond))

	h1, _ := s.SubmitNow(ok)
	h2, _ := s.SubmitNow(bad)
	waitState(t, h1, time.Second)
	waitState(t, h2, time.Second)

	time.Sleep(300 * time.Millisecond)
	if st := ok.State(); st != StateSucceeded {
		t.Errorf("quick ok state = %s, want succeeded", st)
	}
	if st := bad.State(); st != StateFailed {
		t.Errorf("quick fail state = %s, want failed", st)
	}
}

func TestCancelQueuedAction(t *testing.T) {
	s := newTestScheduler(t, 1)
	op, release := blocker(t)
	first, _ := s.SubmitNow(New(CategoryOther, describe("occupies worker"), op))

	var ran atomic.Bool
	second, err := s.SubmitNow(New(CategoryOther, describe("queued"), func(context.Context) (bool, error) {
		ran.Store(true)
		return true, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cancel() {
		t.Fatal("Cancel() = false for queued action")
	}
	if second.Cancel() {
		t.Error("second Cancel() should report already terminal")
	}
	release()
	waitState(t, first, time.Second)
	time.Sleep(50 * time.Millisecond)

	if st := second.State(); st != StateCanceled {
		t.Errorf("state = %s, want canceled", st)
	}
	if ran.Load() {
		t.Error("canceled action was executed")
	}
}

func TestSubmitAfterWithholdsExecution(t *testing.T) {
	s := newTestScheduler(t, 1)
	start := time.Now()
	h, err := s.SubmitAfter(New(CategoryOther, describe("later"), succeed), 150*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if st := h.State(); st != StateScheduled {
		t.Errorf("state right after submit = %s, want scheduled", st)
	}
	waitState(t, h, time.Second)
	_, started, _ := h.Action().Times()
	if started.Sub(start) < 150*time.Millisecond {
		t.Errorf("started after %s, want >= 150ms", started.Sub(start))
	}
}

func TestSubmitWithinRunsInsideWindow(t *testing.T) {
	s := newTestScheduler(t, 1)
	now := time.Now()
	w, err := NewTimeWindow(now, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	h, err := s.SubmitWithin(New(CategoryMaintenance, describe("core update"), succeed), w)
	if err != nil {
		t.Fatal(err)
	}
	if st := waitState(t, h, 2*time.Second); st != StateSucceeded {
		t.Errorf("state = %s, want succeeded", st)
	}
}

func TestPoolWidthIsBounded(t *testing.T) {
	s := newTestScheduler(t, 2)
	var active, peak atomic.Int32
	op := func(context.Context) (bool, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return true, nil
	}
	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, err := s.SubmitNow(New(CategoryOther, describe("work"), op))
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		waitState(t, h, 2*time.Second)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestShutdownDrainsQueuedWork(t *testing.T) {
	s := NewScheduler("drain", 1, logging.New(false), clock.Real{})
	s.SetGracePeriod(2 * time.Second)
	op := func(context.Context) (bool, error) {
		time.Sleep(50 * time.Millisecond)
		return true, nil
	}
	h1, _ := s.SubmitNow(New(CategoryOther, describe("one"), op))
	h2, _ := s.SubmitNow(New(CategoryOther, describe("two"), op))

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, h := range []*Handle{h1, h2} {
		if st := h.State(); st != StateSucceeded {
			t.Errorf("%s state = %s, want succeeded", h.Action().Description(), st)
		}
	}
}

func TestShutdownForcesAfterGrace(t *testing.T) {
	s := NewScheduler("force", 1, logging.New(false), clock.Real{})
	s.SetGracePeriod(200 * time.Millisecond)
	op, _ := blocker(t)
	running, _ := s.SubmitNow(New(CategoryOther, describe("stuck"), op))
	queued, _ := s.SubmitNow(New(CategoryOther, describe("never runs"), succeed))

	start := time.Now()
	err := s.Shutdown()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %s, want close to the 200ms grace", elapsed)
	}
	if err == nil {
		t.Error("expected forced shutdown to report an error")
	}
	for _, h := range []*Handle{running, queued} {
		if st := h.State(); st != StateCanceled {
			t.Errorf("%s state = %s, want canceled", h.Action().Description(), st)
		}
	}

	if _, err := s.SubmitNow(New(CategoryOther, describe("late"), succeed)); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("submit after shutdown error = %v, want ErrSchedulerClosed", err)
	}
	if err2 := s.Shutdown(); err2 != err {
		t.Errorf("second Shutdown() = %v, want %v", err2, err)
	}
}

func TestShutdownDropsDelayedActions(t *testing.T) {
	s := NewScheduler("delayed", 1, logging.New(false), clock.Real{})
	h, _ := s.SubmitAfter(New(CategoryCron, describe("in an hour"), succeed), time.Hour)

	start := time.Now()
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Shutdown waited on a delayed action")
	}
	if st := h.State(); st != StateCanceled {
		t.Errorf("state = %s, want canceled", st)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingObserver) ActionFinished(scheduler string, a *Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, scheduler+":"+a.Description())
}

func TestObserverSeesFinishedActions(t *testing.T) {
	s := NewScheduler("observed", 1, logging.New(false), clock.Real{})
	obs := &recordingObserver{}
	s.SetObserver(obs)
	h, _ := s.SubmitNow(New(CategoryData, describe("export"), succeed))
	waitState(t, h, time.Second)
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.names) != 1 || obs.names[0] != "observed:export" {
		t.Errorf("observer saw %v", obs.names)
	}
	if st := s.Stats(); !st.Closed || st.Queued != 0 || st.Running != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}
