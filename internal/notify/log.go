package notify

import (
	"context"

	"github.com/Will-Luck/Site-Sentinel/internal/events"
)

// LogNotifier records every event as a log line. It is always enabled.
type LogNotifier struct {
	log Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(_ context.Context, evt events.Event) error {
	l.log.Info("notification event",
		"type", string(evt.Type),
		"site", evt.Site,
		"kind", evt.Kind,
		"component", evt.Component,
		"version", evt.Version,
		"previous_version", evt.PreviousVersion,
		"message", evt.Message,
		"timestamp", evt.Timestamp.String(),
	)
	return nil
}
