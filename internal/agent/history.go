package agent

import (
	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/install"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/store"
)

// Recorder persists finished actions.
type Recorder interface {
	RecordAction(rec store.ActionRecord) error
}

// History records every action that leaves a scheduler and announces it on
// the bus. It implements action.Observer.
type History struct {
	rec Recorder
	bus install.Dispatcher
	log *logging.Logger
}

// NewHistory creates a History observer.
func NewHistory(rec Recorder, bus install.Dispatcher, log *logging.Logger) *History {
	return &History{rec: rec, bus: bus, log: log}
}

func (h *History) ActionFinished(scheduler string, a *action.Action) {
	created, started, completed := a.Times()
	_, err := a.Result()
	rec := store.ActionRecord{
		Scheduler:   scheduler,
		Category:    string(a.Category()),
		Description: a.Description(),
		State:       a.State().String(),
		Created:     created,
		Completed:   completed,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if !started.IsZero() && !completed.IsZero() {
		rec.Duration = completed.Sub(started)
	}
	if err := h.rec.RecordAction(rec); err != nil {
		h.log.Warn("failed to record action", "action", rec.Description, "error", err)
	}
	h.bus.Dispatch(events.Event{
		Type:      events.TypeAction,
		Message:   rec.Description + ": " + rec.State,
		Timestamp: completed,
	})
}
