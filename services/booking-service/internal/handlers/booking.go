package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookflowhq/bookflow/services/booking-service/internal/booking"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
)

// slotTimeLayout is the zoneless wall-clock format used for slot and
// appointment times in the public API. All values are UTC.
const slotTimeLayout = "2006-01-02T15:04:05"

type Aggregator interface {
	Slots(ctx context.Context, q booking.SlotsQuery) (booking.SlotsResult, error)
}

type Committer interface {
	Commit(ctx context.Context, req booking.CommitRequest) (booking.CommitResult, error)
	Cancel(ctx context.Context, workspaceID, appointmentID, reason string) (time.Time, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error)
}

type Catalog interface {
	GetBookingSettings(ctx context.Context, workspaceID string) (model.BookingSettings, error)
	ListBookableServices(ctx context.Context, workspaceID string) ([]model.Service, error)
	ListBookingStaff(ctx context.Context, workspaceID string) ([]model.StaffMember, error)
}

type AppointmentStore interface {
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	aggregator Aggregator
	committer  Committer
	catalog    Catalog
	repo       AppointmentStore
	logger     *slog.Logger
}

func NewBookingHandler(aggregator Aggregator, committer Committer, catalog Catalog, repo AppointmentStore, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		aggregator: aggregator,
		committer:  committer,
		catalog:    catalog,
		repo:       repo,
		logger:     logger,
	}
}

type slotsService struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
}

type slotItem struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name"`
}

type slotsData struct {
	Date    string       `json:"date"`
	Service slotsService `json:"service"`
	Mode    string       `json:"mode"`
	Slots   []slotItem   `json:"slots"`
	Message string       `json:"message,omitempty"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	workspaceID := strings.TrimSpace(q.Get("workspace_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if workspaceID == "" || serviceID == "" || dateStr == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, service_id, and date are required")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	res, err := h.aggregator.Slots(r.Context(), booking.SlotsQuery{
		WorkspaceID: workspaceID,
		ServiceID:   serviceID,
		StaffID:     strings.TrimSpace(q.Get("staff_id")),
		Mode:        strings.TrimSpace(q.Get("mode")),
		Date:        day,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, booking.ErrServiceNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("slot listing failed", "err", err, "workspace_id", workspaceID, "service_id", serviceID)
		writeError(w, http.StatusInternalServerError, "failed to load slots")
		return
	}

	items := make([]slotItem, 0, len(res.Slots))
	for _, s := range res.Slots {
		items = append(items, slotItem{
			Start:     s.Start.UTC().Format(slotTimeLayout),
			End:       s.End.UTC().Format(slotTimeLayout),
			StaffID:   s.StaffID,
			StaffName: s.StaffName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": slotsData{
		Date: dateStr,
		Service: slotsService{
			ID:              res.Service.ID,
			Name:            res.Service.Name,
			DurationMinutes: res.Service.DurationMins,
			Price:           res.Service.Price,
		},
		Mode:    res.Mode,
		Slots:   items,
		Message: res.Message,
	}})
}

type createCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

type createBookingRequest struct {
	WorkspaceID   string          `json:"workspace_id"`
	ServiceID     string          `json:"service_id"`
	StaffID       string          `json:"staff_id"`
	StartTime     string          `json:"start_time"`
	Customer      createCustomer  `json:"customer"`
	BookingPageID string          `json:"booking_page_id"`
	Answers       json.RawMessage `json:"answers"`
}

type createBookingData struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Service       string `json:"service"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Email = strings.TrimSpace(req.Customer.Email)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)

	if req.WorkspaceID == "" || req.ServiceID == "" || req.StartTime == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, service_id, and start_time are required")
		return
	}
	if req.Customer.Name == "" && req.Customer.Email == "" && req.Customer.Phone == "" {
		writeError(w, http.StatusBadRequest, "customer name, email, or phone is required")
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}

	result, err := h.committer.Commit(r.Context(), booking.CommitRequest{
		WorkspaceID: req.WorkspaceID,
		ServiceID:   req.ServiceID,
		StaffID:     req.StaffID,
		StartTime:   start,
		Customer: booking.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
			Notes: req.Customer.Notes,
		},
		BookingPageID: strings.TrimSpace(req.BookingPageID),
		Answers:       req.Answers,
	})
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrServiceNotFound):
			writeError(w, http.StatusNotFound, "service not found")
		case errors.Is(err, booking.ErrNoStaffAvailable):
			writeError(w, http.StatusBadRequest, "no available staff for this service")
		case errors.Is(err, booking.ErrSlotTaken):
			writeError(w, http.StatusConflict, "slot no longer available, please re-fetch slots")
		default:
			h.logger.Error("booking commit failed", "err", err, "workspace_id", req.WorkspaceID)
			writeError(w, http.StatusInternalServerError, "failed to create appointment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data": createBookingData{
			AppointmentID: result.AppointmentID,
			Status:        string(result.Status),
			Service:       result.ServiceName,
			StartTime:     result.StartTime.UTC().Format(slotTimeLayout),
			EndTime:       result.EndTime.UTC().Format(slotTimeLayout),
		},
	})
}

type cancelBookingRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.WorkspaceID == "" || req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id and appointment_id are required")
		return
	}

	cancelledAt, err := h.committer.Cancel(r.Context(), req.WorkspaceID, req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			writeError(w, http.StatusNotFound, "appointment not found")
		case errors.Is(err, booking.ErrAlreadyCancelled):
			writeError(w, http.StatusBadRequest, "appointment is already cancelled")
		case errors.Is(err, booking.ErrTerminalStatus):
			writeError(w, http.StatusConflict, "appointment cannot be cancelled")
		default:
			h.logger.Error("cancellation failed", "err", err, "appointment_id", req.AppointmentID)
			writeError(w, http.StatusInternalServerError, "failed to cancel appointment")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]string{
			"appointment_id": req.AppointmentID,
			"status":         "cancelled",
			"cancelled_at":   cancelledAt.UTC().Format(slotTimeLayout),
		},
	})
}

type rescheduleRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	StaffID       string `json:"staff_id"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.WorkspaceID == "" || req.AppointmentID == "" || req.StartTime == "" {
		writeError(w, http.StatusBadRequest, "workspace_id, appointment_id, and start_time are required")
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time")
		return
	}

	result, err := h.committer.Reschedule(r.Context(), booking.RescheduleRequest{
		WorkspaceID:   req.WorkspaceID,
		AppointmentID: req.AppointmentID,
		StartTime:     start,
		StaffID:       strings.TrimSpace(req.StaffID),
	})
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			writeError(w, http.StatusNotFound, "appointment not found")
		case errors.Is(err, booking.ErrTerminalStatus):
			writeError(w, http.StatusConflict, "appointment cannot be rescheduled")
		case errors.Is(err, booking.ErrSlotTaken):
			writeError(w, http.StatusConflict, "slot no longer available, please re-fetch slots")
		default:
			h.logger.Error("reschedule failed", "err", err, "appointment_id", req.AppointmentID)
			writeError(w, http.StatusInternalServerError, "failed to reschedule appointment")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]string{
			"appointment_id": result.AppointmentID,
			"status":         string(result.Status),
			"staff_id":       result.StaffID,
			"start_time":     result.StartTime.UTC().Format(slotTimeLayout),
			"end_time":       result.EndTime.UTC().Format(slotTimeLayout),
		},
	})
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	Title         string `json:"title"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	ReminderSent  bool   `json:"reminder_sent"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id required")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByWorkspace(r.Context(), workspaceID, limit)
	if err != nil {
		h.logger.Error("appointment listing failed", "err", err, "workspace_id", workspaceID)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			ServiceID:     appt.ServiceID,
			Title:         appt.Title,
			StartTime:     appt.StartTime.UTC().Format(slotTimeLayout),
			EndTime:       appt.EndTime.UTC().Format(slotTimeLayout),
			Status:        string(appt.Status),
			ReminderSent:  appt.ReminderSent,
			CreatedAt:     appt.CreatedAt.UTC().Format(slotTimeLayout),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(slotTimeLayout)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

type pageService struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
}

type pageStaff struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pageSettings struct {
	MinNoticeHours      int  `json:"min_notice_hours"`
	MaxAdvanceDays      int  `json:"max_advance_days"`
	SlotIntervalMinutes int  `json:"slot_interval_minutes"`
	AutoConfirm         bool `json:"auto_confirm"`
}

// Page returns the catalog a public booking page renders: the workspace
// booking settings, online-bookable services, and the staff who take
// bookings.
func (h *BookingHandler) Page(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id required")
		return
	}

	settings, err := h.catalog.GetBookingSettings(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("settings lookup failed", "err", err, "workspace_id", workspaceID)
		writeError(w, http.StatusInternalServerError, "failed to load booking page")
		return
	}
	services, err := h.catalog.ListBookableServices(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("service listing failed", "err", err, "workspace_id", workspaceID)
		writeError(w, http.StatusInternalServerError, "failed to load booking page")
		return
	}
	staff, err := h.catalog.ListBookingStaff(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("staff listing failed", "err", err, "workspace_id", workspaceID)
		writeError(w, http.StatusInternalServerError, "failed to load booking page")
		return
	}

	svcItems := make([]pageService, 0, len(services))
	for _, s := range services {
		svcItems = append(svcItems, pageService{
			ID:              s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMins,
			Price:           s.Price,
		})
	}
	staffItems := make([]pageStaff, 0, len(staff))
	for _, s := range staff {
		staffItems = append(staffItems, pageStaff{ID: s.ID, Name: s.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"settings": pageSettings{
			MinNoticeHours:      settings.MinNoticeHours,
			MaxAdvanceDays:      settings.MaxAdvanceDays,
			SlotIntervalMinutes: settings.SlotIntervalMins,
			AutoConfirm:         settings.AutoConfirm,
		},
		"services": svcItems,
		"staff":    staffItems,
	}})
}

// parseTime accepts RFC 3339 or the zoneless layout the slots endpoint
// emits. Zoneless values are UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(slotTimeLayout, s, time.UTC)
}
