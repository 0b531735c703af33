package availability

import (
	"testing"
	"time"

	"github.com/metalease/metalease/pkg/types"
)

var d0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return d0.AddDate(0, 0, n)
}

func win(startDay, endDay int) types.Window {
	return types.Window{Start: day(startDay), End: day(endDay)}
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		name      string
		candidate types.Window
		held      []types.Window
		want      bool
	}{
		{"empty held", win(0, 10), nil, false},
		{"disjoint", win(0, 10), []types.Window{win(20, 30)}, false},
		{"overlap", win(5, 15), []types.Window{win(10, 20)}, true},
		{"contained", win(12, 14), []types.Window{win(10, 20)}, true},
		{"touching end is free", win(0, 10), []types.Window{win(10, 20)}, false},
		{"touching start is free", win(20, 30), []types.Window{win(10, 20)}, false},
		{"exact match", win(10, 20), []types.Window{win(10, 20)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Conflicts(tt.candidate, tt.held); got != tt.want {
				t.Errorf("Conflicts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoalesce(t *testing.T) {
	got := Coalesce([]types.Window{
		win(10, 20),
		win(20, 30), // adjacent, merges
		win(50, 60),
		win(55, 58), // contained, absorbed
		win(5, 5),   // zero-length, dropped
	})

	want := []types.Window{win(10, 30), win(50, 60)}
	if len(got) != len(want) {
		t.Fatalf("Coalesce() returned %d windows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("window %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// Mirrors the canonical gap scenario: a 100-day offer with child leases at
// [10,20), [20,30) and [50,60) leaves exactly three free segments.
func TestGaps(t *testing.T) {
	bounds := win(0, 100)
	busy := []types.Window{win(10, 20), win(20, 30), win(50, 60)}

	got := Gaps(bounds, busy)
	want := []types.Window{win(0, 10), win(30, 50), win(60, 100)}

	if len(got) != len(want) {
		t.Fatalf("Gaps() returned %d windows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("gap %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGapsFullyBooked(t *testing.T) {
	if got := Gaps(win(0, 10), []types.Window{win(0, 10)}); len(got) != 0 {
		t.Errorf("expected no gaps, got %v", got)
	}
}

func TestGapsNoBusy(t *testing.T) {
	got := Gaps(win(0, 10), nil)
	if len(got) != 1 || !got[0].Start.Equal(day(0)) || !got[0].End.Equal(day(10)) {
		t.Errorf("expected the whole bounds back, got %v", got)
	}
}

// Gaps plus the coalesced busy set must tile the bounds with no overlap and
// no gap.
func TestGapsTileBounds(t *testing.T) {
	bounds := win(0, 100)
	busy := []types.Window{win(3, 8), win(8, 12), win(40, 90), win(35, 45)}

	segments := append(Gaps(bounds, busy), Coalesce(busy)...)
	Sort(segments)

	cursor := bounds.Start
	for i, seg := range segments {
		if !seg.Start.Equal(cursor) {
			t.Fatalf("segment %d starts at %v, want %v", i, seg.Start, cursor)
		}
		cursor = seg.End
	}
	if !cursor.Equal(bounds.End) {
		t.Fatalf("tiling ends at %v, want %v", cursor, bounds.End)
	}
}
