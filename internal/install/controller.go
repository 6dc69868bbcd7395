// Package install brings components to their configured state on a site,
// verifying the result and retrying once when the tool did not deliver.
package install

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
)

// ErrPolicyForbidden is returned when configuration does not allow the
// change a component needs.
var ErrPolicyForbidden = errors.New("change not allowed by component policy")

// Outcome labels for metrics.InstallsTotal.
const (
	outcomeOK        = "ok"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeForbidden = "forbidden"
)

// Operator performs file-mutating component changes.
type Operator interface {
	Install(ctx context.Context, site, kind, id string, force bool) error
	Update(ctx context.Context, site, kind, id, version string) error
}

// Suppressor tells the integrity checker to ignore changes under a path.
// Both calls are idempotent.
type Suppressor interface {
	Suppress(path string) error
	Unsuppress(path string) error
}

// Dispatcher receives install and update notifications.
type Dispatcher interface {
	Dispatch(evt events.Event)
}

// Policy is what configuration allows for one component.
type Policy struct {
	Install    bool
	Update     bool
	MaxVersion string
}

// Target names one component on one site.
type Target struct {
	Site   string
	Kind   Kind
	ID     string
	Policy Policy
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s on %s", t.Kind, t.ID, t.Site)
}

// Controller builds install actions.
type Controller struct {
	src        ComponentSource
	op         Operator
	sup        Suppressor
	bus        Dispatcher
	contentDir string
	timeout    time.Duration
	log        *logging.Logger

	// Component directories are shared by every site of the network, so
	// mutations of one directory run one at a time.
	mu    sync.Mutex
	paths map[string]*semaphore.Weighted
}

// NewController creates a Controller. contentDir is the root under which
// component directories are suppressed; timeout bounds each action.
func NewController(src ComponentSource, op Operator, sup Suppressor, bus Dispatcher, contentDir string, timeout time.Duration, log *logging.Logger) *Controller {
	return &Controller{
		src:        src,
		op:         op,
		sup:        sup,
		bus:        bus,
		contentDir: contentDir,
		timeout:    timeout,
		log:        log.With("component", "install"),
		paths:      make(map[string]*semaphore.Weighted),
	}
}

// Action wraps Ensure for t as a schedulable install action. A policy
// refusal is a quiet failure; every other problem is logged as a warning.
func (c *Controller) Action(t Target) *action.Action {
	return action.New(action.CategoryInstall, t.String, func(ctx context.Context) (ok bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("install panicked", "kind", t.Kind, "id", t.ID, "site", t.Site, "panic", r)
				metrics.InstallsTotal.WithLabelValues(t.Kind.String(), outcomeFailed).Inc()
				ok, err = false, fmt.Errorf("install %s panicked: %v", t, r)
			}
		}()
		err = c.Ensure(ctx, t)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrPolicyForbidden):
			c.log.Info("component change not allowed", "kind", t.Kind, "id", t.ID, "site", t.Site, "reason", err)
			return false, nil
		default:
			c.log.Warn("component not brought up to date", "kind", t.Kind, "id", t.ID, "site", t.Site, "error", err)
			return false, nil
		}
	}, action.WithTimeout(c.timeout))
}

// Ensure installs t when absent and updates it when an allowed update
// exists, then verifies the result. A missing component or an unchanged
// version after the change gets exactly one forced reinstall.
func (c *Controller) Ensure(ctx context.Context, t Target) error {
	kind := t.Kind.String()
	before, err := c.src.Lookup(ctx, t.Site, t.Kind, t.ID)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues(kind, outcomeFailed).Inc()
		return fmt.Errorf("look up %s: %w", t, err)
	}

	switch {
	case before == nil && !t.Policy.Install:
		metrics.InstallsTotal.WithLabelValues(kind, outcomeForbidden).Inc()
		return fmt.Errorf("%s is not installed and install is disabled: %w", t, ErrPolicyForbidden)
	case before == nil:
		c.log.Info("installing component", "kind", t.Kind, "id", t.ID, "site", t.Site)
		c.mutate(ctx, t, func() error { return c.op.Install(ctx, t.Site, kind, t.ID, false) })
	case !c.updateAvailable(before, t.Policy):
		return nil
	case !t.Policy.Update:
		metrics.InstallsTotal.WithLabelValues(kind, outcomeForbidden).Inc()
		return fmt.Errorf("%s has update %s but update is disabled: %w", t, before.Latest, ErrPolicyForbidden)
	default:
		c.log.Info("updating component", "kind", t.Kind, "id", t.ID, "site", t.Site,
			"from", before.Version, "to", before.Latest)
		c.mutate(ctx, t, func() error { return c.op.Update(ctx, t.Site, kind, t.ID, "") })
	}

	after, err := c.verify(ctx, t, before)
	if after != nil {
		c.notify(t, before, after)
	}
	return err
}

// verify re-reads the component after a change and retries once with a
// forced install when the change did not take.
func (c *Controller) verify(ctx context.Context, t Target, before *Component) (*Component, error) {
	kind := t.Kind.String()
	after, err := c.src.Lookup(ctx, t.Site, t.Kind, t.ID)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues(kind, outcomeFailed).Inc()
		return nil, fmt.Errorf("re-read %s: %w", t, err)
	}
	if c.took(before, after) {
		metrics.InstallsTotal.WithLabelValues(kind, outcomeOK).Inc()
		return after, nil
	}

	if after == nil {
		c.log.Warn("component missing after install, forcing a fresh install", "kind", t.Kind, "id", t.ID, "site", t.Site)
	} else {
		c.log.Warn("component didn't register a version change, forcing a reinstall", "kind", t.Kind, "id", t.ID,
			"site", t.Site, "version", after.Version)
	}
	c.mutate(ctx, t, func() error { return c.op.Install(ctx, t.Site, kind, t.ID, true) })

	after, err = c.src.Lookup(ctx, t.Site, t.Kind, t.ID)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues(kind, outcomeFailed).Inc()
		return nil, fmt.Errorf("re-read %s after retry: %w", t, err)
	}
	if !c.took(before, after) {
		metrics.InstallsTotal.WithLabelValues(kind, outcomeFailed).Inc()
		if after == nil {
			return nil, fmt.Errorf("%s still missing after forced install", t)
		}
		return after, fmt.Errorf("%s still at version %s after forced reinstall", t, after.Version)
	}
	metrics.InstallsTotal.WithLabelValues(kind, outcomeRetried).Inc()
	return after, nil
}

// took reports whether after reflects a completed change from before.
func (c *Controller) took(before, after *Component) bool {
	if after == nil {
		return false
	}
	return before == nil || after.Version != before.Version
}

// updateAvailable applies the version ceiling to the reported update.
func (c *Controller) updateAvailable(cur *Component, p Policy) bool {
	if cur.Latest == "" || cur.Latest == cur.Version {
		return false
	}
	return p.MaxVersion == "" || compareVersions(cur.Latest, p.MaxVersion) <= 0
}

// pathLock returns the lock serializing mutations under path.
func (c *Controller) pathLock(path string) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.paths[path]
	if !ok {
		l = semaphore.NewWeighted(1)
		c.paths[path] = l
	}
	return l
}

// mutate runs fn with the component directory locked and suppressed, then
// releases both and drops the cached listing on every exit path. A failing
// fn is logged; the caller verifies the outcome by re-reading.
func (c *Controller) mutate(ctx context.Context, t Target, fn func() error) {
	path := t.Kind.Path(c.contentDir, t.ID)
	lock := c.pathLock(path)
	if err := lock.Acquire(ctx, 1); err != nil {
		return
	}
	defer lock.Release(1)

	if err := c.sup.Suppress(path); err != nil {
		c.log.Warn("failed to suppress integrity checks", "path", path, "error", err)
	}
	defer func() {
		if err := c.sup.Unsuppress(path); err != nil {
			c.log.Warn("failed to lift integrity suppression", "path", path, "error", err)
		}
		c.src.MarkStale(t.Site, t.Kind)
	}()

	if err := fn(); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("component command failed", "kind", t.Kind, "id", t.ID, "site", t.Site, "error", err)
	}
}

func (c *Controller) notify(t Target, before, after *Component) {
	evt := events.Event{
		Type:      events.TypeInstalled,
		Site:      t.Site,
		Kind:      t.Kind.String(),
		Component: t.ID,
		Version:   after.Version,
	}
	if before != nil {
		evt.Type = events.TypeUpdated
		evt.PreviousVersion = before.Version
	}
	c.bus.Dispatch(evt)
}
