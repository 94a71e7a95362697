package availability

import (
	"errors"
	"testing"
	"time"
)

func day(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
}

func at(base time.Time, hour, min int) time.Time {
	return base.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestSlots_Basic(t *testing.T) {
	base := day(t)
	cfg := Config{Duration: 30 * time.Minute, Step: 30 * time.Minute}
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 11, 0)}}

	slots, err := Slots(cfg, windows, nil, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(base, 9, 0)) || !slots[0].End.Equal(at(base, 9, 30)) {
		t.Fatalf("expected first slot 09:00-09:30, got %s-%s", slots[0].Start, slots[0].End)
	}
	if !slots[3].Start.Equal(at(base, 10, 30)) {
		t.Fatalf("expected last slot start 10:30, got %s", slots[3].Start)
	}
}

func TestSlots_BoundaryInclusion(t *testing.T) {
	// Window 09:00-12:00, duration 60, no buffer, step 30: the last accepted
	// start is 11:00 (block end exactly 12:00); 11:30 must be rejected.
	base := day(t)
	cfg := Config{Duration: 60 * time.Minute, Step: 30 * time.Minute}
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 12, 0)}}

	slots, err := Slots(cfg, windows, nil, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 5 {
		t.Fatalf("expected 5 slots, got %d", len(slots))
	}
	last := slots[len(slots)-1]
	if !last.Start.Equal(at(base, 11, 0)) {
		t.Fatalf("expected last start 11:00, got %s", last.Start)
	}
}

func TestSlots_MinNotice(t *testing.T) {
	base := day(t)
	cfg := Config{Duration: 60 * time.Minute, Step: 30 * time.Minute}
	windows := []Interval{{Start: at(base, 10, 30), End: at(base, 14, 30)}}

	// now 10:00 with a two hour notice: nothing before 12:00.
	minNotice := at(base, 12, 0)
	slots, err := Slots(cfg, windows, nil, minNotice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots after the notice cutoff")
	}
	for _, s := range slots {
		if s.Start.Before(minNotice) {
			t.Fatalf("slot %s starts before the notice cutoff", s.Start)
		}
	}
	if !slots[0].Start.Equal(at(base, 12, 0)) {
		t.Fatalf("expected first slot 12:00, got %s", slots[0].Start)
	}
}

func TestSlots_TimeOffExclusion(t *testing.T) {
	base := day(t)
	cfg := Config{Duration: 60 * time.Minute, Step: 60 * time.Minute}
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 17, 0)}}
	busy := []Interval{{Start: at(base, 13, 0), End: at(base, 14, 0)}}

	slots, err := Slots(cfg, windows, busy, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range slots {
		if s.Start.Equal(at(base, 13, 0)) {
			t.Fatal("13:00 should be excluded by time off")
		}
	}
	// The adjacent slots survive: 12:00 ends exactly at the time-off start,
	// 14:00 starts exactly at its end.
	wantKept := []time.Time{at(base, 12, 0), at(base, 14, 0)}
	for _, want := range wantKept {
		found := false
		for _, s := range slots {
			if s.Start.Equal(want) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected slot at %s to survive", want)
		}
	}
}

func TestSlots_BufferExpansion(t *testing.T) {
	base := day(t)
	cfg := Config{
		Duration:     30 * time.Minute,
		BufferBefore: 15 * time.Minute,
		BufferAfter:  15 * time.Minute,
		Step:         30 * time.Minute,
	}
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 12, 0)}}

	booked := []Interval{{Start: at(base, 10, 0), End: at(base, 11, 0)}}
	busy := ExpandBusy(booked, cfg.BufferBefore, cfg.BufferAfter)
	if !busy[0].Start.Equal(at(base, 9, 45)) || !busy[0].End.Equal(at(base, 11, 15)) {
		t.Fatalf("expected expanded busy 09:45-11:15, got %s-%s", busy[0].Start, busy[0].End)
	}

	slots, err := Slots(cfg, windows, busy, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00 block ends 09:45, exactly the expanded start: kept. Everything
	// from 09:30 through 11:00 collides; 11:30 no longer fits the window.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(base, 9, 0)) {
		t.Fatalf("expected slot 09:00, got %s", slots[0].Start)
	}
}

func TestSlots_Deterministic(t *testing.T) {
	base := day(t)
	cfg := Config{Duration: 45 * time.Minute, BufferAfter: 15 * time.Minute, Step: 15 * time.Minute}
	windows := []Interval{
		{Start: at(base, 9, 0), End: at(base, 12, 0)},
		{Start: at(base, 13, 0), End: at(base, 17, 0)},
	}
	busy := []Interval{
		{Start: at(base, 10, 0), End: at(base, 10, 30)},
		{Start: at(base, 15, 0), End: at(base, 16, 0)},
	}

	first, err := Slots(cfg, windows, busy, at(base, 9, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Slots(cfg, windows, busy, at(base, 9, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("slot counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || !first[i].End.Equal(second[i].End) {
			t.Fatalf("slot %d differs: %v vs %v", i, first[i], second[i])
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i].Start.Before(first[i-1].Start) {
			t.Fatalf("slots out of order at %d", i)
		}
	}
}

func TestSlots_InvalidGrid(t *testing.T) {
	base := day(t)
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 12, 0)}}

	if _, err := Slots(Config{Duration: 30 * time.Minute}, windows, nil, time.Time{}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected ErrInvalidGrid for zero step, got %v", err)
	}
	if _, err := Slots(Config{Step: 30 * time.Minute}, windows, nil, time.Time{}); !errors.Is(err, ErrInvalidGrid) {
		t.Fatalf("expected ErrInvalidGrid for zero duration, got %v", err)
	}
}

func TestSlots_WindowTooShort(t *testing.T) {
	base := day(t)
	cfg := Config{Duration: 60 * time.Minute, BufferAfter: 15 * time.Minute, Step: 15 * time.Minute}

	// Window shorter than duration+buffer produces nothing.
	windows := []Interval{{Start: at(base, 9, 0), End: at(base, 10, 0)}}
	slots, err := Slots(cfg, windows, nil, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}

	// Zero-length window likewise.
	slots, err = Slots(cfg, []Interval{{Start: at(base, 9, 0), End: at(base, 9, 0)}}, nil, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots for empty window, got %d", len(slots))
	}
}

func TestDayWindows(t *testing.T) {
	base := day(t)
	windows := DayWindows(base, [][2]int{{540, 720}, {780, 1020}, {600, 600}})
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if !windows[0].Start.Equal(at(base, 9, 0)) || !windows[0].End.Equal(at(base, 12, 0)) {
		t.Fatalf("expected 09:00-12:00, got %s-%s", windows[0].Start, windows[0].End)
	}
	if !windows[1].Start.Equal(at(base, 13, 0)) || !windows[1].End.Equal(at(base, 17, 0)) {
		t.Fatalf("expected 13:00-17:00, got %s-%s", windows[1].Start, windows[1].End)
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	base := day(t)
	b := Interval{Start: at(base, 10, 0), End: at(base, 11, 0)}

	if Overlaps(at(base, 9, 0), at(base, 10, 0), b) {
		t.Fatal("interval ending at busy start must not overlap")
	}
	if Overlaps(at(base, 11, 0), at(base, 12, 0), b) {
		t.Fatal("interval starting at busy end must not overlap")
	}
	if !Overlaps(at(base, 9, 0), at(base, 10, 1), b) {
		t.Fatal("one minute of overlap must be detected")
	}
}
