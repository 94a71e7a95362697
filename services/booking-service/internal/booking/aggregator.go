package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bookflowhq/bookflow/services/booking-service/internal/availability"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/storage"
)

const (
	ModePerStaff   = "per_staff"
	ModeRoundRobin = "round_robin"
)

const (
	msgOutsideWindow = "Date outside booking window"
	msgNoStaff       = "No available staff"
	msgLoadFailed    = "Unable to load availability"
)

// Catalog is the read side the aggregator needs: services, staff, weekly
// templates, time off, and workspace settings.
type Catalog interface {
	GetService(ctx context.Context, workspaceID, serviceID string) (model.Service, error)
	GetBookingSettings(ctx context.Context, workspaceID string) (model.BookingSettings, error)
	ListEligibleStaff(ctx context.Context, workspaceID, serviceID, staffID string) ([]model.StaffMember, error)
	ListAvailabilityRules(ctx context.Context, staffID string, weekday int) ([]model.AvailabilityRule, error)
	ListTimeOff(ctx context.Context, staffID string, from, to time.Time) ([]model.TimeOff, error)
}

// Schedule exposes the appointment reads slot listing depends on.
type Schedule interface {
	ListBookedIntervals(ctx context.Context, workspaceID, staffID string, start, end time.Time) ([]model.Appointment, error)
	CountUpcomingByStaff(ctx context.Context, workspaceID string, from, to time.Time) (map[string]int, error)
}

// Aggregator produces the bookable slot list for one service on one day:
// slot generation per eligible staff member, merged, and in round-robin mode
// reduced to one staff member per timestamp.
type Aggregator struct {
	catalog Catalog
	repo    Schedule
	logger  *slog.Logger
}

func NewAggregator(catalog Catalog, repo Schedule, logger *slog.Logger) *Aggregator {
	return &Aggregator{catalog: catalog, repo: repo, logger: logger}
}

type SlotsQuery struct {
	WorkspaceID string
	ServiceID   string
	StaffID     string // narrows to one staff member and forces per-staff mode
	Mode        string
	Date        time.Time // midnight UTC of the requested day
	Now         time.Time
}

// SlotsResult is the listing outcome. Message is set on the degenerate
// non-error outcomes (outside booking window, no staff, load degradation).
type SlotsResult struct {
	Service model.Service
	Mode    string
	Slots   []availability.StaffSlot
	Message string
}

// resolveMode picks the listing mode. Round-robin must be asked for
// explicitly and only applies across staff; everything else is per-staff.
func resolveMode(requested, staffID string) string {
	if staffID == "" && requested == ModeRoundRobin {
		return ModeRoundRobin
	}
	return ModePerStaff
}

// withinBookingWindow reports whether any part of the requested day falls in
// [now+min_notice, now+max_advance_days].
func withinBookingWindow(dayStart time.Time, settings model.BookingSettings, now time.Time) bool {
	dayEnd := dayStart.Add(24 * time.Hour)
	minNotice := now.Add(time.Duration(settings.MinNoticeHours) * time.Hour)
	maxAdvance := now.AddDate(0, 0, settings.MaxAdvanceDays)
	return dayEnd.After(minNotice) && !dayStart.After(maxAdvance)
}

// Slots lists bookable slots. The listing is advisory: database failures at
// any stage degrade to an empty list with a message instead of an error,
// because commit re-validates against live data anyway. The only propagated
// errors are an unknown service and a misconfigured grid.
func (a *Aggregator) Slots(ctx context.Context, q SlotsQuery) (SlotsResult, error) {
	mode := resolveMode(q.Mode, q.StaffID)

	svc, err := a.catalog.GetService(ctx, q.WorkspaceID, q.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return SlotsResult{}, ErrServiceNotFound
		}
		a.logger.Warn("failed to load service for listing", "err", err, "service_id", q.ServiceID)
		return SlotsResult{Mode: mode, Message: msgLoadFailed}, nil
	}
	res := SlotsResult{Service: svc, Mode: mode}

	settings, err := a.catalog.GetBookingSettings(ctx, q.WorkspaceID)
	if err != nil {
		a.logger.Warn("failed to load booking settings", "err", err, "workspace_id", q.WorkspaceID)
		res.Message = msgLoadFailed
		return res, nil
	}

	dayStart := time.Date(q.Date.Year(), q.Date.Month(), q.Date.Day(), 0, 0, 0, 0, time.UTC)
	if !withinBookingWindow(dayStart, settings, q.Now) {
		res.Message = msgOutsideWindow
		return res, nil
	}
	dayEnd := dayStart.Add(24 * time.Hour)
	minNotice := q.Now.Add(time.Duration(settings.MinNoticeHours) * time.Hour)

	staff, err := a.catalog.ListEligibleStaff(ctx, q.WorkspaceID, q.ServiceID, q.StaffID)
	if err != nil {
		a.logger.Warn("failed to load eligible staff", "err", err, "service_id", q.ServiceID)
		res.Message = msgLoadFailed
		return res, nil
	}
	if len(staff) == 0 {
		res.Message = msgNoStaff
		return res, nil
	}

	cfg := availability.Config{
		Duration:     time.Duration(svc.DurationMins) * time.Minute,
		BufferBefore: time.Duration(svc.BufferBeforeMins) * time.Minute,
		BufferAfter:  time.Duration(svc.BufferAfterMins) * time.Minute,
		Step:         time.Duration(settings.SlotIntervalMins) * time.Minute,
	}

	var slots []availability.StaffSlot
	degraded := false
	for _, sm := range staff {
		staffSlots, err := a.staffSlots(ctx, cfg, sm, dayStart, dayEnd, minNotice)
		if err != nil {
			if errors.Is(err, availability.ErrInvalidGrid) {
				return SlotsResult{}, err
			}
			a.logger.Warn("failed to load staff availability", "err", err, "staff_id", sm.ID)
			degraded = true
			continue
		}
		slots = append(slots, staffSlots...)
	}
	availability.SortSlots(slots)

	if mode == ModeRoundRobin {
		load, err := a.repo.CountUpcomingByStaff(ctx, q.WorkspaceID, q.Now, q.Now.Add(loadWindow))
		if err != nil {
			a.logger.Warn("failed to load staff appointment counts", "err", err)
			load = nil
		}
		slots = availability.ReduceRoundRobin(slots, load)
	}

	res.Slots = slots
	if len(slots) == 0 && degraded {
		res.Message = msgLoadFailed
	}
	return res, nil
}

func (a *Aggregator) staffSlots(ctx context.Context, cfg availability.Config, sm model.StaffMember, dayStart, dayEnd, minNotice time.Time) ([]availability.StaffSlot, error) {
	rules, err := a.catalog.ListAvailabilityRules(ctx, sm.ID, int(dayStart.Weekday()))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	ranges := make([][2]int, 0, len(rules))
	for _, rule := range rules {
		ranges = append(ranges, [2]int{rule.StartMinute, rule.EndMinute})
	}
	windows := availability.DayWindows(dayStart, ranges)

	timeOff, err := a.catalog.ListTimeOff(ctx, sm.ID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	booked, err := a.repo.ListBookedIntervals(ctx, sm.WorkspaceID, sm.ID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	// Time off blocks as stored; appointments block with the service buffers
	// applied around them.
	bookedIntervals := make([]availability.Interval, 0, len(booked))
	for _, appt := range booked {
		bookedIntervals = append(bookedIntervals, availability.Interval{Start: appt.StartTime, End: appt.EndTime})
	}
	busy := availability.ExpandBusy(bookedIntervals, cfg.BufferBefore, cfg.BufferAfter)
	for _, off := range timeOff {
		busy = append(busy, availability.Interval{Start: off.StartTime, End: off.EndTime})
	}

	intervals, err := availability.Slots(cfg, windows, busy, minNotice)
	if err != nil {
		return nil, err
	}
	out := make([]availability.StaffSlot, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, availability.StaffSlot{
			Start:     iv.Start,
			End:       iv.End,
			StaffID:   sm.ID,
			StaffName: sm.Name,
		})
	}
	return out, nil
}
