package agent

import (
	"context"
	"sync"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/config"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/install"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/window"
)

// SiteLister lists site URLs.
type SiteLister interface {
	Sites(ctx context.Context) ([]string, error)
}

// InstallBuilder turns a target into an install action.
type InstallBuilder interface {
	Action(t install.Target) *action.Action
}

// NowSubmitter submits actions for immediate execution.
type NowSubmitter interface {
	SubmitNow(a *action.Action) (*action.Handle, error)
}

// WindowSubmitter submits actions at a random moment of a window.
type WindowSubmitter interface {
	SubmitWithin(a *action.Action, w action.TimeWindow) (*action.Handle, error)
}

// Targets converts policy file entries into install targets for site.
// Entries with an unknown kind are skipped.
func Targets(site string, comps []config.Component) []install.Target {
	targets := make([]install.Target, 0, len(comps))
	for _, c := range comps {
		kind, err := install.ParseKind(c.Kind)
		if err != nil {
			continue
		}
		targets = append(targets, install.Target{
			Site: site,
			Kind: kind,
			ID:   c.ID,
			Policy: install.Policy{
				Install:    c.Install,
				Update:     c.Update,
				MaxVersion: c.MaxVersion,
			},
		})
	}
	return targets
}

// AutoInstall submits one install action per site and configured component.
type AutoInstall struct {
	sites      SiteLister
	components []config.Component
	builder    InstallBuilder
	sched      NowSubmitter
	log        *logging.Logger
}

// NewAutoInstall creates the auto-install job.
func NewAutoInstall(sites SiteLister, components []config.Component, builder InstallBuilder, sched NowSubmitter, log *logging.Logger) *AutoInstall {
	return &AutoInstall{sites: sites, components: components, builder: builder, sched: sched, log: log}
}

func (j *AutoInstall) Name() string { return "auto-install" }

func (j *AutoInstall) Run(ctx context.Context) {
	if len(j.components) == 0 {
		return
	}
	sites, err := j.sites.Sites(ctx)
	if err != nil {
		j.log.Warn("auto-install could not list sites", "error", err)
		return
	}
	submitted := 0
	for _, site := range sites {
		for _, t := range Targets(site, j.components) {
			if _, err := j.sched.SubmitNow(j.builder.Action(t)); err != nil {
				j.log.Warn("failed to submit install", "target", t.String(), "error", err)
				return
			}
			submitted++
		}
	}
	j.log.Info("auto-install submitted", "sites", len(sites), "actions", submitted)
}

// CoreUpdater runs the core update.
type CoreUpdater interface {
	CoreUpdate(ctx context.Context) error
}

// SettingsSaver persists a setting.
type SettingsSaver interface {
	SaveSetting(key, value string) error
}

// LastCoreUpdateKey is the setting holding the last successful core update.
const LastCoreUpdateKey = "last_core_update"

// CoreUpdate schedules a core update at a random moment of the next
// maintenance window. Only one update is outstanding at a time.
type CoreUpdate struct {
	window   *window.MaintenanceWindow
	cli      CoreUpdater
	sched    WindowSubmitter
	bus      install.Dispatcher
	settings SettingsSaver
	timeout  time.Duration
	clock    clock.Clock
	log      *logging.Logger

	mu      sync.Mutex
	pending *action.Handle
}

// NewCoreUpdate creates the core update job.
func NewCoreUpdate(win *window.MaintenanceWindow, cli CoreUpdater, sched WindowSubmitter, bus install.Dispatcher,
	settings SettingsSaver, timeout time.Duration, log *logging.Logger, clk clock.Clock) *CoreUpdate {
	return &CoreUpdate{
		window:   win,
		cli:      cli,
		sched:    sched,
		bus:      bus,
		settings: settings,
		timeout:  timeout,
		clock:    clk,
		log:      log,
	}
}

func (j *CoreUpdate) Name() string { return "core-update" }

func (j *CoreUpdate) Run(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pending != nil && !j.pending.State().Terminal() {
		j.log.Debug("core update already scheduled")
		return
	}

	tw, ok := j.window.Next(j.clock.Now())
	if !ok {
		j.log.Warn("no maintenance window ahead, core update not scheduled")
		return
	}
	a := action.New(action.CategoryMaintenance, func() string { return "core update" }, j.update, action.WithTimeout(j.timeout))
	h, err := j.sched.SubmitWithin(a, tw)
	if err != nil {
		j.log.Warn("failed to schedule core update", "error", err)
		return
	}
	j.pending = h
	j.log.Info("core update scheduled", "earliest", tw.Earliest, "latest", tw.Latest)
}

func (j *CoreUpdate) update(ctx context.Context) (bool, error) {
	if err := j.cli.CoreUpdate(ctx); err != nil {
		return false, err
	}
	now := j.clock.Now()
	if err := j.settings.SaveSetting(LastCoreUpdateKey, now.UTC().Format(time.RFC3339)); err != nil {
		j.log.Warn("failed to record core update", "error", err)
	}
	j.bus.Dispatch(events.Event{Type: events.TypeCoreUpdated, Message: "core files and databases updated", Timestamp: now})
	return true, nil
}

// Pruner trims the action history.
type Pruner interface {
	PruneActions(keep int) (int, error)
}

// HistoryPrune keeps the action history bounded.
type HistoryPrune struct {
	store Pruner
	keep  int
	log   *logging.Logger
}

// NewHistoryPrune creates the prune job.
func NewHistoryPrune(store Pruner, keep int, log *logging.Logger) *HistoryPrune {
	return &HistoryPrune{store: store, keep: keep, log: log}
}

func (j *HistoryPrune) Name() string { return "history-prune" }

func (j *HistoryPrune) Run(context.Context) {
	n, err := j.store.PruneActions(j.keep)
	if err != nil {
		j.log.Warn("failed to prune action history", "error", err)
		return
	}
	if n > 0 {
		j.log.Info("action history pruned", "removed", n, "kept", j.keep)
	}
}
