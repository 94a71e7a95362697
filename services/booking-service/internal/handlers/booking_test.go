package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bookflowhq/bookflow/services/booking-service/internal/booking"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
)

func testHandler() *BookingHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBookingHandler(nil, nil, nil, nil, logger)
}

type stubAggregator struct {
	result booking.SlotsResult
	err    error
}

func (s stubAggregator) Slots(context.Context, booking.SlotsQuery) (booking.SlotsResult, error) {
	return s.result, s.err
}

type stubCommitter struct {
	commitErr error
}

func (s stubCommitter) Commit(context.Context, booking.CommitRequest) (booking.CommitResult, error) {
	return booking.CommitResult{}, s.commitErr
}

func (s stubCommitter) Cancel(context.Context, string, string, string) (time.Time, error) {
	return time.Time{}, nil
}

func (s stubCommitter) Reschedule(context.Context, booking.RescheduleRequest) (booking.RescheduleResult, error) {
	return booking.RescheduleResult{}, nil
}

type stubCatalog struct {
	settings model.BookingSettings
	services []model.Service
	staff    []model.StaffMember
}

func (s stubCatalog) GetBookingSettings(context.Context, string) (model.BookingSettings, error) {
	return s.settings, nil
}

func (s stubCatalog) ListBookableServices(context.Context, string) ([]model.Service, error) {
	return s.services, nil
}

func (s stubCatalog) ListBookingStaff(context.Context, string) ([]model.StaffMember, error) {
	return s.staff, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	return body["error"]
}

func TestSlots_MissingParams(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/slots?service_id=svc", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "workspace_id") {
		t.Fatalf("expected field message, got %q", msg)
	}
}

func TestSlots_InvalidDate(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/slots?workspace_id=ws&service_id=svc&date=03-04-2026", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSlots_MethodNotAllowed(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/slots", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCreate_InvalidJSON(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/create", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreate_MissingFields(t *testing.T) {
	h := testHandler()

	body := `{"workspace_id":"ws","service_id":"svc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "start_time") {
		t.Fatalf("expected start_time in message, got %q", msg)
	}
}

func TestCreate_MissingCustomer(t *testing.T) {
	h := testHandler()

	body := `{"workspace_id":"ws","service_id":"svc","start_time":"2026-03-04T10:00:00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "customer") {
		t.Fatalf("expected customer in message, got %q", msg)
	}
}

func TestCreate_InvalidStartTime(t *testing.T) {
	h := testHandler()

	body := `{"workspace_id":"ws","service_id":"svc","start_time":"tomorrow","customer":{"name":"Jamie"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancel_MissingFields(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/appointments/cancel", strings.NewReader(`{"workspace_id":"ws"}`))
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReschedule_MissingFields(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/appointments/reschedule", strings.NewReader(`{"workspace_id":"ws","appointment_id":"apt"}`))
	rec := httptest.NewRecorder()
	h.Reschedule(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestList_MissingWorkspace(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/appointments", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSlots_DegenerateListingStays200(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := stubAggregator{result: booking.SlotsResult{
		Service: model.Service{ID: "svc", Name: "Haircut", DurationMins: 60},
		Mode:    booking.ModePerStaff,
		Message: "Unable to load availability",
	}}
	h := NewBookingHandler(agg, nil, nil, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/slots?workspace_id=ws&service_id=svc&date=2026-03-04", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Slots   []json.RawMessage `json:"slots"`
			Message string            `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body.Data.Slots) != 0 {
		t.Fatalf("expected empty slots, got %d", len(body.Data.Slots))
	}
	if body.Data.Message != "Unable to load availability" {
		t.Fatalf("expected degradation message, got %q", body.Data.Message)
	}
}

func TestCreate_NoStaffAvailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewBookingHandler(nil, stubCommitter{commitErr: booking.ErrNoStaffAvailable}, nil, nil, logger)

	body := `{"workspace_id":"ws","service_id":"svc","start_time":"2026-03-04T10:00:00","customer":{"name":"Jamie"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/booking/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "no available staff") {
		t.Fatalf("expected staff message, got %q", msg)
	}
}

func TestPage_IncludesSettings(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := stubCatalog{
		settings: model.BookingSettings{MinNoticeHours: 2, MaxAdvanceDays: 30, SlotIntervalMins: 15, AutoConfirm: true},
		services: []model.Service{{ID: "svc", Name: "Haircut", DurationMins: 60, Price: "35.00"}},
		staff:    []model.StaffMember{{ID: "st_anna", Name: "Anna"}},
	}
	h := NewBookingHandler(nil, nil, catalog, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking/page?workspace_id=ws", nil)
	rec := httptest.NewRecorder()
	h.Page(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data struct {
			Settings pageSettings  `json:"settings"`
			Services []pageService `json:"services"`
			Staff    []pageStaff   `json:"staff"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Data.Settings.MaxAdvanceDays != 30 || body.Data.Settings.SlotIntervalMinutes != 15 {
		t.Fatalf("settings not surfaced: %+v", body.Data.Settings)
	}
	if !body.Data.Settings.AutoConfirm {
		t.Fatal("auto_confirm not surfaced")
	}
	if len(body.Data.Services) != 1 || len(body.Data.Staff) != 1 {
		t.Fatalf("got %d services, %d staff", len(body.Data.Services), len(body.Data.Staff))
	}
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2026-03-04T10:30:00")
	if err != nil {
		t.Fatalf("zoneless parse failed: %v", err)
	}
	want := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	got, err = parseTime("2026-03-04T10:30:00+02:00")
	if err != nil {
		t.Fatalf("rfc3339 parse failed: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 4, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("offset not honored: %s", got)
	}

	if _, err := parseTime("not-a-time"); err == nil {
		t.Fatal("expected parse error")
	}
}
