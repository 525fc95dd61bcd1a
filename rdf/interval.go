package rdf

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned when an interval ends before it starts.
var ErrInvalidInterval = errors.New("interval end before start")

// TimeInterval is a closed validity window. Start == End is a valid
// zero-length instant.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// NewTimeInterval validates start <= end.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if end.Before(start) {
		return TimeInterval{}, fmt.Errorf("%w: %s > %s", ErrInvalidInterval,
			start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
	return TimeInterval{Start: start, End: end}, nil
}

// Instant returns the zero-length interval at t.
func Instant(t time.Time) TimeInterval {
	return TimeInterval{Start: t, End: t}
}

// Valid reports whether the interval satisfies start <= end.
func (i TimeInterval) Valid() bool {
	return !i.End.Before(i.Start)
}

// Duration returns End - Start.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether t lies inside the closed interval.
func (i TimeInterval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && !t.After(i.End)
}

// Overlap returns the intersection of a and b. Intervals that only touch at
// a boundary overlap in a zero-length instant.
func Overlap(a, b TimeInterval) (TimeInterval, bool) {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if start.After(end) {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: start, End: end}, true
}
