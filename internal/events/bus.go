// Package events fans agent events out to the status stream and notifiers.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeInstalled   Type = "component_installed"
	TypeUpdated     Type = "component_updated"
	TypeCoreUpdated Type = "core_updated"
	TypeCronScan    Type = "cron_scan"
	TypeAction      Type = "action_finished"
)

// Event is one notification published on the bus.
type Event struct {
	Type            Type      `json:"type"`
	Site            string    `json:"site,omitempty"`
	Kind            string    `json:"kind,omitempty"`
	Component       string    `json:"component,omitempty"`
	Version         string    `json:"version,omitempty"`
	PreviousVersion string    `json:"previous_version,omitempty"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const subscriberBuffer = 64

// Bus delivers every event to every subscriber registered before it was
// published. A subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
	now  func() time.Time
}

// New creates a Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]chan Event), now: time.Now}
}

// Dispatch stamps evt when it carries no timestamp and publishes it without
// waiting for any subscriber.
func (b *Bus) Dispatch(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}
	b.Publish(evt)
}

// Publish sends evt as is.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; calling it more than once is harmless.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
