package types

import "time"

// MaxTime is the end-of-time sentinel used when an offer or lease is created
// without an end time. It serializes on the wire as the maximum ISO-8601
// timestamp rather than an explicit marker.
var MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Window is a half-open interval [Start, End) in UTC.
type Window struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// NewWindow builds a window, substituting defaults: a zero start means now,
// a zero end means the end-of-time sentinel.
func NewWindow(start, end time.Time) Window {
	if start.IsZero() {
		start = time.Now().UTC()
	}
	if end.IsZero() {
		end = MaxTime
	}
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether Start is strictly before End.
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// Intersects reports whether two half-open windows overlap. Touching
// boundaries (w.End == other.Start) do not conflict.
func (w Window) Intersects(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether other lies entirely inside w.
func (w Window) Contains(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Includes reports whether the instant t falls inside the window.
func (w Window) Includes(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZeroLength reports whether the window covers no time at all.
func (w Window) IsZeroLength() bool {
	return !w.Start.Before(w.End)
}
