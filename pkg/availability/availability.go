// Package availability holds the pure interval algebra of the temporal
// conflict engine: conflict tests over half-open windows and the gap
// computation that turns a set of committed child windows into the free
// segments of an offer.
package availability

import (
	"sort"

	"github.com/metalease/metalease/pkg/types"
)

// Conflicts reports whether candidate intersects any of the given windows.
// Windows are half-open, so touching boundaries never conflict.
func Conflicts(candidate types.Window, held []types.Window) bool {
	for _, w := range held {
		if candidate.Intersects(w) {
			return true
		}
	}
	return false
}

// Sort orders windows by start time, end time breaking ties.
func Sort(windows []types.Window) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Start.Equal(windows[j].Start) {
			return windows[i].End.Before(windows[j].End)
		}
		return windows[i].Start.Before(windows[j].Start)
	})
}

// Coalesce merges overlapping and adjacent windows and drops zero-length
// segments. The input is not modified; the result is sorted.
func Coalesce(windows []types.Window) []types.Window {
	in := make([]types.Window, 0, len(windows))
	for _, w := range windows {
		if !w.IsZeroLength() {
			in = append(in, w)
		}
	}
	if len(in) == 0 {
		return nil
	}
	Sort(in)

	out := []types.Window{in[0]}
	for _, w := range in[1:] {
		last := &out[len(out)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		out = append(out, w)
	}
	return out
}

// Gaps returns the complement of the busy windows inside bounds: the free
// segments, sorted, with adjacent and zero-length segments coalesced. Busy
// windows are clamped to bounds first. Together with the coalesced busy set
// the result tiles bounds exactly.
func Gaps(bounds types.Window, busy []types.Window) []types.Window {
	if bounds.IsZeroLength() {
		return nil
	}

	clamped := make([]types.Window, 0, len(busy))
	for _, w := range busy {
		if !w.Intersects(bounds) {
			continue
		}
		if w.Start.Before(bounds.Start) {
			w.Start = bounds.Start
		}
		if w.End.After(bounds.End) {
			w.End = bounds.End
		}
		clamped = append(clamped, w)
	}
	merged := Coalesce(clamped)

	var gaps []types.Window
	cursor := bounds.Start
	for _, w := range merged {
		if cursor.Before(w.Start) {
			gaps = append(gaps, types.Window{Start: cursor, End: w.Start})
		}
		cursor = w.End
	}
	if cursor.Before(bounds.End) {
		gaps = append(gaps, types.Window{Start: cursor, End: bounds.End})
	}
	return gaps
}
