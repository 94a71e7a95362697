package availability

import (
	"sort"
	"time"
)

// StaffSlot is one bookable slot attributed to a staff member.
type StaffSlot struct {
	Start     time.Time
	End       time.Time
	StaffID   string
	StaffName string
}

// SortSlots orders slots ascending by start time, ties broken by staff id so
// the output is deterministic for identical inputs.
func SortSlots(slots []StaffSlot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].StaffID < slots[j].StaffID
	})
}

// ReduceRoundRobin collapses slots sharing a start timestamp down to a single
// slot assigned to the least-loaded staff member. load maps staff id to the
// number of upcoming non-cancelled appointments; absent staff count as zero.
// Ties go to the lexically smallest staff id.
//
// The load snapshot is taken once per request by the caller, so one response
// assigns consistently even while bookings land concurrently.
func ReduceRoundRobin(slots []StaffSlot, load map[string]int) []StaffSlot {
	if len(slots) == 0 {
		return slots
	}

	byTime := make(map[int64]StaffSlot, len(slots))
	order := make([]int64, 0, len(slots))
	for _, s := range slots {
		key := s.Start.UnixNano()
		best, seen := byTime[key]
		if !seen {
			byTime[key] = s
			order = append(order, key)
			continue
		}
		if load[s.StaffID] < load[best.StaffID] ||
			(load[s.StaffID] == load[best.StaffID] && s.StaffID < best.StaffID) {
			byTime[key] = s
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]StaffSlot, 0, len(order))
	for _, key := range order {
		out = append(out, byTime[key])
	}
	return out
}
