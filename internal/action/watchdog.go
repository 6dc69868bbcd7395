package action

import "github.com/Will-Luck/Site-Sentinel/internal/metrics"

// watch enforces the declared timeout of a running action. It never touches
// an action that already reached a terminal state.
func (s *Scheduler) watch(a *Action) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("watchdog failed", "action", a.Description(), "panic", r)
		}
	}()

	select {
	case <-a.Done():
	case <-s.clock.After(a.Timeout()):
		if a.abort(StateTimedOut, s.clock.Now()) {
			metrics.ActionTimeouts.WithLabelValues(s.name).Inc()
			s.log.Warn("action timed out", "action", a.Description(), "category", a.Category(), "timeout", a.Timeout())
		}
	case <-s.killCtx.Done():
		if a.abort(StateCanceled, s.clock.Now()) {
			s.log.Warn("action interrupted while waiting for completion", "action", a.Description(), "category", a.Category())
		}
	}
}
