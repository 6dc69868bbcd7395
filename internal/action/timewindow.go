package action

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrInvalidWindow is returned for a window whose earliest bound is after
// its latest bound.
var ErrInvalidWindow = errors.New("invalid time window")

// TimeWindow is the interval [Earliest, Latest) used to spread disruptive
// work and to jitter synchronized schedules.
type TimeWindow struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// NewTimeWindow validates and builds a TimeWindow.
func NewTimeWindow(earliest, latest time.Time) (TimeWindow, error) {
	if earliest.After(latest) {
		return TimeWindow{}, fmt.Errorf("%w: %s is after %s", ErrInvalidWindow, earliest.Format(time.RFC3339), latest.Format(time.RFC3339))
	}
	return TimeWindow{Earliest: earliest, Latest: latest}, nil
}

// Jitter returns a window of width spread starting at from.
func Jitter(from time.Time, spread time.Duration) TimeWindow {
	if spread < 0 {
		spread = 0
	}
	return TimeWindow{Earliest: from, Latest: from.Add(spread)}
}

// Span returns the width of the window.
func (w TimeWindow) Span() time.Duration {
	return w.Latest.Sub(w.Earliest)
}

// RandomMoment returns a uniformly random whole-second offset from Earliest
// that stays strictly before Latest. An empty window yields Earliest.
func (w TimeWindow) RandomMoment() time.Time {
	return w.moment(rand.Int63n)
}

func (w TimeWindow) moment(intn func(int64) int64) time.Time {
	span := w.Span()
	if span <= 0 {
		return w.Earliest
	}
	// Round up so a fractional tail second is still reachable.
	slots := int64((span + time.Second - 1) / time.Second)
	return w.Earliest.Add(time.Duration(intn(slots)) * time.Second)
}
