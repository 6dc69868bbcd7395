// Package window parses maintenance window expressions and turns them into
// concrete time windows for disruptive work such as core updates.
package window

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

// MaintenanceWindow is a set of weekly recurring intervals during which
// disruptive operations are allowed. A nil window is always open.
type MaintenanceWindow struct {
	spans []span
}

// span is a half-open interval of length minutes starting at start minutes
// after Sunday 00:00. It may wrap past the end of the week.
type span struct {
	start, length int
}

func (s span) containsMinute(m int) bool {
	return (m-s.start+minutesPerWeek)%minutesPerWeek < s.length
}

// ParseWindow parses a maintenance window expression.
//
//	"02:00-06:00"              every day (may cross midnight: "23:00-05:00")
//	"Sat 02:00-06:00"          one weekday
//	"Sat 22:00-Sun 06:00"      across days
//	"02:00-04:00;Sun 00:00-06:00"  several windows
//
// An empty expression returns nil (no restriction).
func ParseWindow(expr string) (*MaintenanceWindow, error) {
	var spans []span
	for _, part := range strings.Split(expr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := parseSpans(part)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q: %w", part, err)
		}
		spans = append(spans, parsed...)
	}
	if len(spans) == 0 {
		return nil, nil
	}
	return &MaintenanceWindow{spans: spans}, nil
}

// IsOpen reports whether t falls inside any window.
func (w *MaintenanceWindow) IsOpen(t time.Time) bool {
	if w == nil || len(w.spans) == 0 {
		return true
	}
	m := minuteOfWeek(t)
	for _, s := range w.spans {
		if s.containsMinute(m) {
			return true
		}
	}
	return false
}

// Next returns the window that is open at from, or else the first one to
// open after it, truncated so it never starts before from. A nil
// MaintenanceWindow returns the empty window at from.
func (w *MaintenanceWindow) Next(from time.Time) (action.TimeWindow, bool) {
	if w == nil || len(w.spans) == 0 {
		return action.TimeWindow{Earliest: from, Latest: from}, true
	}

	base := from.Truncate(time.Minute)
	m := minuteOfWeek(from)

	var best action.TimeWindow
	found := false
	for _, s := range w.spans {
		var cand action.TimeWindow
		if s.containsMinute(m) {
			into := (m - s.start + minutesPerWeek) % minutesPerWeek
			cand = action.TimeWindow{
				Earliest: from,
				Latest:   base.Add(time.Duration(s.length-into) * time.Minute),
			}
		} else {
			wait := (s.start - m + minutesPerWeek) % minutesPerWeek
			start := base.Add(time.Duration(wait) * time.Minute)
			cand = action.TimeWindow{
				Earliest: start,
				Latest:   start.Add(time.Duration(s.length) * time.Minute),
			}
		}
		if !found || cand.Earliest.Before(best.Earliest) ||
			(cand.Earliest.Equal(best.Earliest) && cand.Latest.After(best.Latest)) {
			best, found = cand, true
		}
	}
	return best, found
}

func minuteOfWeek(t time.Time) int {
	return int(t.Weekday())*minutesPerDay + t.Hour()*60 + t.Minute()
}

var errZeroLength = errors.New("window has zero length")

var weekdays = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// parseSpans expands one "[Day] HH:MM-[Day] HH:MM" expression. A daily
// window becomes seven spans.
func parseSpans(expr string) ([]span, error) {
	from, to, ok := strings.Cut(expr, "-")
	if !ok {
		return nil, fmt.Errorf("expected HH:MM-HH:MM format")
	}
	startDay, startMin, err := parseBound(from)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	endDay, endMin, err := parseBound(to)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	if startDay < 0 {
		if endDay >= 0 {
			return nil, fmt.Errorf("end weekday given without start weekday")
		}
		length := (endMin - startMin + minutesPerDay) % minutesPerDay
		if length == 0 {
			return nil, errZeroLength
		}
		spans := make([]span, 0, 7)
		for d := 0; d < 7; d++ {
			spans = append(spans, span{start: d*minutesPerDay + startMin, length: length})
		}
		return spans, nil
	}

	if endDay < 0 {
		endDay = startDay
	}
	start := startDay*minutesPerDay + startMin
	end := endDay*minutesPerDay + endMin
	length := (end - start + minutesPerWeek) % minutesPerWeek
	if length == 0 {
		return nil, errZeroLength
	}
	if endDay == startDay && endMin < startMin {
		// "Sat 23:00-Sat 01:00" runs into the following morning.
		length = (endMin - startMin + minutesPerDay) % minutesPerDay
	}
	return []span{{start: start, length: length}}, nil
}

// parseBound parses "[Day ]HH:MM" into a weekday (-1 when absent) and
// minutes since midnight.
func parseBound(s string) (int, int, error) {
	fields := strings.Fields(s)
	day := -1
	switch len(fields) {
	case 1:
	case 2:
		d, ok := weekdays[strings.ToLower(fields[0])]
		if !ok {
			return 0, 0, fmt.Errorf("unknown weekday %q", fields[0])
		}
		day = d
		fields = fields[1:]
	default:
		return 0, 0, fmt.Errorf("expected [Day ]HH:MM, got %q", strings.TrimSpace(s))
	}

	hh, mm, ok := strings.Cut(fields[0], ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", fields[0])
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", mm)
	}
	return day, h*60 + m, nil
}
