package action

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadySubmitted is returned when an action is handed to a scheduler
// more than once.
var ErrAlreadySubmitted = errors.New("action already submitted")

// Operation is the body of an action. It reports success with true and may
// return an error to explain a failure. It must watch ctx and return
// promptly once ctx is canceled.
type Operation func(ctx context.Context) (bool, error)

// Action is one schedulable, cancelable, timed unit of work.
type Action struct {
	category Category
	describe func() string
	op       Operation
	timeout  time.Duration

	mu        sync.Mutex
	state     State
	submitted bool
	created   time.Time
	started   time.Time
	completed time.Time
	ok        bool
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option customises an Action at construction time.
type Option func(*Action)

// WithTimeout bounds the running time of the action. A watchdog cancels it
// once d elapses after it starts. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Action) { a.timeout = d }
}

// New creates an action in StateCreated. describe is evaluated lazily every
// time the description is needed and must not have side effects.
func New(cat Category, describe func() string, op Operation, opts ...Option) *Action {
	a := &Action{
		category: cat,
		describe: describe,
		op:       op,
		state:    StateCreated,
		created:  time.Now(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Category returns the informational tag of the action.
func (a *Action) Category() Category { return a.category }

// Timeout returns the declared timeout, or zero when unbounded.
func (a *Action) Timeout() time.Duration { return a.timeout }

// Description returns the human readable description.
func (a *Action) Description() string {
	if a.describe == nil {
		return string(a.category)
	}
	return a.describe()
}

// State returns the current lifecycle state.
func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Times returns the creation, start and completion timestamps. Unset
// timestamps are zero.
func (a *Action) Times() (created, started, completed time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.created, a.started, a.completed
}

// Result returns what the operation reported. It is meaningful only once
// the action is terminal.
func (a *Action) Result() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ok, a.err
}

// Done is closed once the action reaches a terminal state.
func (a *Action) Done() <-chan struct{} { return a.done }

// markSubmitted binds the action to a scheduling call.
func (a *Action) markSubmitted() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitted || a.state != StateCreated {
		return ErrAlreadySubmitted
	}
	a.submitted = true
	a.state = StateScheduled
	return nil
}

// begin moves a scheduled action to running and derives the context handed
// to the operation. It reports false when the action was already stopped.
func (a *Action) begin(parent context.Context, now time.Time) (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, StateRunning) {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.state = StateRunning
	a.started = now
	return ctx, true
}

// finish records the operation outcome. It reports false when a watchdog or
// caller already forced the action into a terminal state.
func (a *Action) finish(ok bool, err error, now time.Time) bool {
	to := StateSucceeded
	if !ok || err != nil {
		to = StateFailed
		ok = false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return false
	}
	a.ok, a.err = ok, err
	a.complete(to, now)
	return true
}

// abort forces a non-terminal action into to (canceled or timed out) and
// requests cooperative cancellation of the running operation.
func (a *Action) abort(to State, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return false
	}
	a.complete(to, now)
	return true
}

// complete must be called with a.mu held.
func (a *Action) complete(to State, now time.Time) {
	a.state = to
	a.completed = now
	if a.cancel != nil {
		a.cancel()
	}
	close(a.done)
}

// Handle refers to a submitted action. It does not own the action; the
// scheduler governs its execution.
type Handle struct {
	a   *Action
	now func() time.Time
}

// Action returns the referenced action.
func (h *Handle) Action() *Action { return h.a }

// State returns the current state of the referenced action.
func (h *Handle) State() State { return h.a.State() }

// Done is closed once the action reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.a.done }

// Wait blocks until the action is terminal or ctx is done. It never cancels
// the action.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.a.done:
		return h.a.State(), nil
	case <-ctx.Done():
		return h.a.State(), ctx.Err()
	}
}

// Cancel requests cancellation. It reports false when the action was
// already terminal. It never blocks on the operation.
func (h *Handle) Cancel() bool {
	return h.a.abort(StateCanceled, h.now())
}
