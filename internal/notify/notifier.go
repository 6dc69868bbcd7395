// Package notify relays agent events to external systems.
package notify

import (
	"context"
	"sync"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// Notifier sends an event to one external system.
type Notifier interface {
	Send(ctx context.Context, evt events.Event) error
	Name() string
}

// Logger is the part of logging.Logger notifiers use.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Multi sends each event to every notifier. A failing notifier is logged
// and does not stop the others.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
	log       Logger
}

// NewMulti creates a Multi over notifiers.
func NewMulti(log Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, log: log}
}

// Notify reports whether at least one notifier accepted the event. With no
// notifiers configured it reports true.
func (m *Multi) Notify(ctx context.Context, evt events.Event) bool {
	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()

	if len(notifiers) == 0 {
		return true
	}
	anyOK := false
	for _, n := range notifiers {
		if err := n.Send(ctx, evt); err != nil {
			m.log.Error("notification failed",
				"provider", n.Name(),
				"type", string(evt.Type),
				"site", evt.Site,
				"error", err.Error(),
			)
			continue
		}
		anyOK = true
	}
	return anyOK
}

// Names lists the configured providers.
func (m *Multi) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}
