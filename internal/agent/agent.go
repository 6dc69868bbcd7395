// Package agent runs the periodic jobs that feed work into the action
// schedulers: component installs, core updates and history pruning.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Will-Luck/Site-Sentinel/internal/logging"
)

// Job is one periodic task.
type Job interface {
	Name() string
	Run(ctx context.Context)
}

// EntryStatus describes one registered job for the status API.
type EntryStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

type entry struct {
	id   cron.EntryID
	name string
	spec string
}

// Agent runs jobs on cron schedules. A job still running when its next
// tick arrives skips that tick; a panicking job is logged and recovered.
type Agent struct {
	cron *cron.Cron
	log  *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries []entry
}

// New creates an idle Agent.
func New(log *logging.Logger) *Agent {
	log = log.With("component", "agent")
	cl := cronLogger{log: log}
	return &Agent{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithLogger(cl),
			// Recover sits inside SkipIfStillRunning so a panicking run still
			// hands back the running token.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		log: log,
		ctx: context.Background(),
	}
}

// Add schedules job with a standard five-field spec or a descriptor such
// as "@hourly" or "@every 30m".
func (a *Agent) Add(spec string, job Job) error {
	id, err := a.cron.AddFunc(spec, func() {
		a.mu.Lock()
		ctx := a.ctx
		a.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		a.log.Debug("job started", "job", job.Name())
		job.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s job %q: %w", job.Name(), spec, err)
	}
	a.mu.Lock()
	a.entries = append(a.entries, entry{id: id, name: job.Name(), spec: spec})
	a.mu.Unlock()
	a.log.Info("job scheduled", "job", job.Name(), "spec", spec)
	return nil
}

// Run starts the schedule and blocks until ctx is canceled, then waits for
// running jobs to return.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.cron.Start()
	<-ctx.Done()
	<-a.cron.Stop().Done()
	a.log.Info("agent stopped")
	return nil
}

// Entries lists the registered jobs with their next and previous run.
func (a *Agent) Entries() []EntryStatus {
	a.mu.Lock()
	entries := append([]entry(nil), a.entries...)
	a.mu.Unlock()

	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		ce := a.cron.Entry(e.id)
		out = append(out, EntryStatus{Name: e.name, Spec: e.spec, Next: ce.Next, Prev: ce.Prev})
	}
	return out
}

// cronLogger feeds the cron library's log calls into the agent logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}
