package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
)

// A Wednesday; the fixture's now is noon the day before.
var (
	listDay = time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)
	listNow = time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
)

type fakeCatalog struct {
	service     model.Service
	serviceErr  error
	settings    model.BookingSettings
	settingsErr error
	staff       []model.StaffMember
	staffErr    error
	rules       map[string][][2]int
	timeOff     map[string][]model.TimeOff
}

func (f *fakeCatalog) GetService(_ context.Context, _, _ string) (model.Service, error) {
	if f.serviceErr != nil {
		return model.Service{}, f.serviceErr
	}
	return f.service, nil
}

func (f *fakeCatalog) GetBookingSettings(_ context.Context, _ string) (model.BookingSettings, error) {
	if f.settingsErr != nil {
		return model.BookingSettings{}, f.settingsErr
	}
	return f.settings, nil
}

func (f *fakeCatalog) ListEligibleStaff(_ context.Context, _, _, staffID string) ([]model.StaffMember, error) {
	if f.staffErr != nil {
		return nil, f.staffErr
	}
	if staffID == "" {
		return f.staff, nil
	}
	for _, sm := range f.staff {
		if sm.ID == staffID {
			return []model.StaffMember{sm}, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) ListAvailabilityRules(_ context.Context, staffID string, weekday int) ([]model.AvailabilityRule, error) {
	rules := make([]model.AvailabilityRule, 0, len(f.rules[staffID]))
	for _, r := range f.rules[staffID] {
		rules = append(rules, model.AvailabilityRule{
			StaffID:     staffID,
			Weekday:     weekday,
			StartMinute: r[0],
			EndMinute:   r[1],
			IsAvailable: true,
		})
	}
	return rules, nil
}

func (f *fakeCatalog) ListTimeOff(_ context.Context, staffID string, _, _ time.Time) ([]model.TimeOff, error) {
	return f.timeOff[staffID], nil
}

type fakeSchedule struct {
	booked   map[string][]model.Appointment
	counts   map[string]int
	countErr error
}

func (f *fakeSchedule) ListBookedIntervals(_ context.Context, _, staffID string, _, _ time.Time) ([]model.Appointment, error) {
	return f.booked[staffID], nil
}

func (f *fakeSchedule) CountUpcomingByStaff(_ context.Context, _ string, _, _ time.Time) (map[string]int, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	return f.counts, nil
}

// listingFixture builds a workspace with two interchangeable staff members
// working 09:00-12:00 on the requested day. A 60-minute service on a
// 30-minute grid yields five starts per staff: 09:00 through 11:00.
func listingFixture() (*fakeCatalog, *fakeSchedule) {
	catalog := &fakeCatalog{
		service: model.Service{
			ID:           "svc_cut",
			WorkspaceID:  "ws_1",
			Name:         "Haircut",
			DurationMins: 60,
		},
		settings: model.BookingSettings{
			WorkspaceID:      "ws_1",
			MinNoticeHours:   2,
			MaxAdvanceDays:   30,
			SlotIntervalMins: 30,
			AutoConfirm:      true,
		},
		staff: []model.StaffMember{
			{ID: "st_anna", WorkspaceID: "ws_1", Name: "Anna", IsActive: true, AcceptsBookings: true},
			{ID: "st_ben", WorkspaceID: "ws_1", Name: "Ben", IsActive: true, AcceptsBookings: true},
		},
		rules: map[string][][2]int{
			"st_anna": {{540, 720}},
			"st_ben":  {{540, 720}},
		},
	}
	return catalog, &fakeSchedule{}
}

func newTestAggregator(catalog Catalog, repo Schedule) *Aggregator {
	return NewAggregator(catalog, repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func baseQuery() SlotsQuery {
	return SlotsQuery{
		WorkspaceID: "ws_1",
		ServiceID:   "svc_cut",
		Date:        listDay,
		Now:         listNow,
	}
}

func TestSlots_DateBeyondMaxAdvance(t *testing.T) {
	catalog, repo := listingFixture()
	agg := newTestAggregator(catalog, repo)

	q := baseQuery()
	q.Date = listNow.AddDate(0, 0, 45)
	res, err := agg.Slots(context.Background(), q)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(res.Slots) != 0 {
		t.Fatalf("got %d slots, want none", len(res.Slots))
	}
	if res.Message != "Date outside booking window" {
		t.Fatalf("got message %q, want %q", res.Message, "Date outside booking window")
	}
}

func TestSlots_DateBeforeMinNotice(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.settings.MinNoticeHours = 72
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Message != "Date outside booking window" {
		t.Fatalf("got message %q, want %q", res.Message, "Date outside booking window")
	}
}

func TestSlots_NoEligibleStaff(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.staff = nil
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(res.Slots) != 0 {
		t.Fatalf("got %d slots, want none", len(res.Slots))
	}
	if res.Message != "No available staff" {
		t.Fatalf("got message %q, want %q", res.Message, "No available staff")
	}
}

func TestSlots_DefaultsToPerStaff(t *testing.T) {
	catalog, repo := listingFixture()
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Mode != ModePerStaff {
		t.Fatalf("got mode %s, want %s", res.Mode, ModePerStaff)
	}
	// Both staff share the window, so each timestamp appears twice.
	if len(res.Slots) != 10 {
		t.Fatalf("got %d slots, want 10", len(res.Slots))
	}
	if res.Slots[0].StaffID != "st_anna" || res.Slots[1].StaffID != "st_ben" {
		t.Fatalf("first timestamp staff = %s, %s; want st_anna, st_ben", res.Slots[0].StaffID, res.Slots[1].StaffID)
	}
}

func TestSlots_RoundRobinPicksLeastLoaded(t *testing.T) {
	catalog, repo := listingFixture()
	repo.counts = map[string]int{"st_anna": 3, "st_ben": 1}
	agg := newTestAggregator(catalog, repo)

	q := baseQuery()
	q.Mode = ModeRoundRobin
	res, err := agg.Slots(context.Background(), q)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Mode != ModeRoundRobin {
		t.Fatalf("got mode %s, want %s", res.Mode, ModeRoundRobin)
	}
	if len(res.Slots) != 5 {
		t.Fatalf("got %d slots, want 5", len(res.Slots))
	}
	for _, s := range res.Slots {
		if s.StaffID != "st_ben" {
			t.Fatalf("slot at %v assigned to %s, want st_ben", s.Start, s.StaffID)
		}
	}
}

func TestSlots_StaffIDForcesPerStaff(t *testing.T) {
	catalog, repo := listingFixture()
	agg := newTestAggregator(catalog, repo)

	q := baseQuery()
	q.Mode = ModeRoundRobin
	q.StaffID = "st_anna"
	res, err := agg.Slots(context.Background(), q)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Mode != ModePerStaff {
		t.Fatalf("got mode %s, want %s", res.Mode, ModePerStaff)
	}
	if len(res.Slots) != 5 {
		t.Fatalf("got %d slots, want 5", len(res.Slots))
	}
	for _, s := range res.Slots {
		if s.StaffID != "st_anna" {
			t.Fatalf("slot at %v assigned to %s, want st_anna", s.Start, s.StaffID)
		}
	}
}

func TestSlots_UnknownService(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.serviceErr = pgx.ErrNoRows
	agg := newTestAggregator(catalog, repo)

	_, err := agg.Slots(context.Background(), baseQuery())
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("got err %v, want ErrServiceNotFound", err)
	}
}

func TestSlots_DegradesOnServiceLoadFailure(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.serviceErr = errors.New("connection refused")
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Message != "Unable to load availability" {
		t.Fatalf("got message %q, want %q", res.Message, "Unable to load availability")
	}
}

func TestSlots_DegradesOnSettingsLoadFailure(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.settingsErr = errors.New("connection refused")
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(res.Slots) != 0 || res.Message != "Unable to load availability" {
		t.Fatalf("got %d slots, message %q; want empty with load message", len(res.Slots), res.Message)
	}
}

func TestSlots_DegradesOnStaffLoadFailure(t *testing.T) {
	catalog, repo := listingFixture()
	catalog.staffErr = errors.New("connection refused")
	agg := newTestAggregator(catalog, repo)

	res, err := agg.Slots(context.Background(), baseQuery())
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.Message != "Unable to load availability" {
		t.Fatalf("got message %q, want %q", res.Message, "Unable to load availability")
	}
}

func TestSlots_RoundRobinSurvivesLoadCountFailure(t *testing.T) {
	catalog, repo := listingFixture()
	repo.countErr = errors.New("connection refused")
	agg := newTestAggregator(catalog, repo)

	q := baseQuery()
	q.Mode = ModeRoundRobin
	res, err := agg.Slots(context.Background(), q)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	// Zero load all around: each timestamp still collapses to one staff.
	if len(res.Slots) != 5 {
		t.Fatalf("got %d slots, want 5", len(res.Slots))
	}
}

func TestResolveMode(t *testing.T) {
	cases := []struct {
		requested string
		staffID   string
		want      string
	}{
		{"", "", ModePerStaff},
		{ModePerStaff, "", ModePerStaff},
		{ModeRoundRobin, "", ModeRoundRobin},
		{ModeRoundRobin, "st_anna", ModePerStaff},
		{"bogus", "", ModePerStaff},
	}
	for _, c := range cases {
		if got := resolveMode(c.requested, c.staffID); got != c.want {
			t.Errorf("resolveMode(%q, %q) = %s, want %s", c.requested, c.staffID, got, c.want)
		}
	}
}
