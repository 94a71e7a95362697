package availability

import (
	"errors"
	"time"
)

// Interval is a half-open [Start, End) span of time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [b.Start,b.End) intersect: aStart < b.End && b.Start < aEnd.
func Overlaps(aStart, aEnd time.Time, b Interval) bool {
	return aStart.Before(b.End) && b.Start.Before(aEnd)
}

// Config carries the service timing parameters for slot generation.
type Config struct {
	Duration     time.Duration
	BufferBefore time.Duration
	BufferAfter  time.Duration
	Step         time.Duration
}

// ErrInvalidGrid is returned when the slot grid is misconfigured. It signals
// bad workspace configuration, not bad user input.
var ErrInvalidGrid = errors.New("availability: slot duration and step must be positive")

// Slots enumerates candidate booking intervals within the given working
// windows on a grid of cfg.Step, ascending.
//
// A cursor is accepted when its block [cursor, cursor+Duration+BufferAfter)
// fits inside the window, starts no earlier than minNotice, and does not
// intersect any busy interval. Busy intervals for existing appointments are
// expected to be pre-expanded with ExpandBusy; time-off spans are passed raw.
//
// A rejected cursor advances by one step rather than skipping to the end of
// the conflicting interval. This keeps the grid aligned to the window start
// across the whole day.
//
// All times must share one location. Output is a pure function of the inputs.
func Slots(cfg Config, windows []Interval, busy []Interval, minNotice time.Time) ([]Interval, error) {
	if cfg.Duration <= 0 || cfg.Step <= 0 {
		return nil, ErrInvalidGrid
	}
	block := cfg.Duration + cfg.BufferAfter

	var slots []Interval
	for _, win := range windows {
		if !win.End.After(win.Start) {
			continue
		}
		for cursor := win.Start; ; cursor = cursor.Add(cfg.Step) {
			blockEnd := cursor.Add(block)
			if blockEnd.After(win.End) {
				break
			}
			if cursor.Before(minNotice) {
				continue
			}
			if overlapsAny(cursor, blockEnd, busy) {
				continue
			}
			slots = append(slots, Interval{Start: cursor, End: cursor.Add(cfg.Duration)})
		}
	}
	return slots, nil
}

// ExpandBusy widens each booked interval by the service buffers, producing
// the exclusion zones that candidate blocks are tested against.
func ExpandBusy(booked []Interval, before, after time.Duration) []Interval {
	if len(booked) == 0 {
		return nil
	}
	out := make([]Interval, 0, len(booked))
	for _, b := range booked {
		out = append(out, Interval{
			Start: b.Start.Add(-before),
			End:   b.End.Add(after),
		})
	}
	return out
}

// DayWindows converts weekly-template minute offsets into absolute intervals
// on the given day.
func DayWindows(day time.Time, ranges [][2]int) []Interval {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	out := make([]Interval, 0, len(ranges))
	for _, r := range ranges {
		start := midnight.Add(time.Duration(r[0]) * time.Minute)
		end := midnight.Add(time.Duration(r[1]) * time.Minute)
		if end.After(start) {
			out = append(out, Interval{Start: start, End: end})
		}
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b) {
			return true
		}
	}
	return false
}
