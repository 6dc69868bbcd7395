package notify

import (
	"context"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// sendTimeout bounds one delivery to the notifier chain.
const sendTimeout = 30 * time.Second

// Subscriber is the part of events.Bus Forward reads from.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

// Forward relays bus events of the given types (all when none are given) to
// m until ctx is canceled.
func Forward(ctx context.Context, bus Subscriber, m *Multi, types ...events.Type) {
	ch, cancel := bus.Subscribe()
	defer cancel()
	relay := newTypeSet(types...)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !relay.has(evt.Type) {
				continue
			}
			sendCtx, done := context.WithTimeout(ctx, sendTimeout)
			m.Notify(sendCtx, evt)
			done()
		}
	}
}
