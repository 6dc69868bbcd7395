package notify

import (
	"context"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// typeSet is a set of event types. The empty set matches every type.
type typeSet map[events.Type]struct{}

func newTypeSet(types ...events.Type) typeSet {
	s := make(typeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s typeSet) has(t events.Type) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[t]
	return ok
}

// Filtered passes only events of the given types to inner. With no types
// every event passes.
type Filtered struct {
	inner   Notifier
	allowed typeSet
}

// NewFiltered wraps inner.
func NewFiltered(inner Notifier, types ...events.Type) *Filtered {
	return &Filtered{inner: inner, allowed: newTypeSet(types...)}
}

func (f *Filtered) Name() string { return f.inner.Name() }

func (f *Filtered) Send(ctx context.Context, evt events.Event) error {
	if !f.allowed.has(evt.Type) {
		return nil
	}
	return f.inner.Send(ctx, evt)
}
