package clock

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
}

// Real uses the standard library time functions.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Since(t time.Time) time.Duration        { return time.Since(t) }
func (Real) Until(t time.Time) time.Duration        { return time.Until(t) }

// SecondsBetween returns the whole seconds from a to b, clamped to zero when
// b is not after a.
func SecondsBetween(a, b time.Time) int64 {
	d := b.Sub(a)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
