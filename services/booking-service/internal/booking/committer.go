package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookflowhq/bookflow/services/booking-service/internal/jobs"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/outbox"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/storage"
)

// Committer turns a chosen slot into a persisted appointment. All mutations
// run inside one transaction: staff advisory lock, locked overlap re-check,
// insert, contact resolution, and reminder scheduling commit or roll back
// together. The appointments exclusion constraint is the backstop if two
// transactions slip past the re-check.
type Committer struct {
	repo    *storage.BookingRepository
	catalog *storage.CatalogRepository
	jobs    *jobs.Repository
	outbox  *outbox.Repository
	logger  *slog.Logger
}

func NewCommitter(repo *storage.BookingRepository, catalog *storage.CatalogRepository, jobsRepo *jobs.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Committer {
	return &Committer{
		repo:    repo,
		catalog: catalog,
		jobs:    jobsRepo,
		outbox:  outboxRepo,
		logger:  logger,
	}
}

type Customer struct {
	Name  string
	Email string
	Phone string
	Notes string
}

type CommitRequest struct {
	WorkspaceID   string
	ServiceID     string
	StaffID       string // empty: pick least-loaded at commit time
	StartTime     time.Time
	Customer      Customer
	BookingPageID string
	Answers       json.RawMessage
}

type CommitResult struct {
	AppointmentID string
	Status        model.Status
	ServiceName   string
	StartTime     time.Time
	EndTime       time.Time
}

const loadWindow = 7 * 24 * time.Hour

// Commit books the slot. Returns ErrServiceNotFound, ErrNoStaffAvailable, or
// ErrSlotTaken for the client-addressable failures.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	svc, err := c.catalog.GetService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return CommitResult{}, ErrServiceNotFound
		}
		return CommitResult{}, err
	}
	settings, err := c.catalog.GetBookingSettings(ctx, req.WorkspaceID)
	if err != nil {
		return CommitResult{}, err
	}

	var page model.BookingPage
	if req.BookingPageID != "" {
		page, err = c.catalog.GetBookingPage(ctx, req.BookingPageID)
		if err != nil && !storage.IsNotFound(err) {
			return CommitResult{}, err
		}
	}

	start := req.StartTime.UTC()
	end := start.Add(time.Duration(svc.DurationMins) * time.Minute)
	now := time.Now().UTC()

	tx, err := c.repo.Begin(ctx)
	if err != nil {
		return CommitResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	staffID := req.StaffID
	if staffID == "" {
		staffID, err = c.repo.PickLeastLoadedStaff(ctx, tx, req.WorkspaceID, req.ServiceID, now, now.Add(loadWindow))
		if err != nil {
			if storage.IsNotFound(err) {
				return CommitResult{}, ErrNoStaffAvailable
			}
			return CommitResult{}, err
		}
	}

	if err := c.repo.LockStaffSchedule(ctx, tx, staffID); err != nil {
		return CommitResult{}, err
	}

	// Same buffer policy as slot generation: the re-check window is the
	// candidate expanded by the service buffers.
	before := time.Duration(svc.BufferBeforeMins) * time.Minute
	after := time.Duration(svc.BufferAfterMins) * time.Minute
	overlapping, err := c.repo.ListOverlapping(ctx, tx, staffID, start.Add(-before), end.Add(after), "")
	if err != nil {
		return CommitResult{}, err
	}
	if len(overlapping) > 0 {
		return CommitResult{}, ErrSlotTaken
	}

	contactID, err := c.resolveContact(ctx, tx, req.WorkspaceID, req.Customer)
	if err != nil {
		return CommitResult{}, err
	}

	status := ResolveStatus(svc, settings, page)
	appt := &model.Appointment{
		WorkspaceID:   req.WorkspaceID,
		ContactID:     contactID,
		StaffID:       staffID,
		ServiceID:     svc.ID,
		Title:         svc.Name,
		StartTime:     start,
		EndTime:       end,
		Status:        status,
		Price:         svc.Price,
		Notes:         req.Customer.Notes,
		Source:        "public_booking",
		BookingPageID: req.BookingPageID,
		CustomAnswers: req.Answers,
		PaymentStatus: "pending",
	}
	id, err := c.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			return CommitResult{}, ErrSlotTaken
		}
		return CommitResult{}, err
	}

	c.emit(ctx, tx, outbox.EventAppointmentBooked, id, map[string]any{
		"appointment_id": id,
		"workspace_id":   req.WorkspaceID,
		"staff_id":       staffID,
		"service_id":     svc.ID,
		"contact_id":     contactID,
		"start_time":     start.Format(time.RFC3339),
		"end_time":       end.Format(time.RFC3339),
		"status":         status,
	})

	c.scheduleConfirmation(ctx, tx, id, req.WorkspaceID, svc.Name, start, req.Customer, now)
	c.scheduleReminders(ctx, tx, id, req.WorkspaceID, settings.ReminderOffsetMins, start, now)

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return CommitResult{}, ErrSlotTaken
		}
		return CommitResult{}, err
	}

	return CommitResult{
		AppointmentID: id,
		Status:        status,
		ServiceName:   svc.Name,
		StartTime:     start,
		EndTime:       end,
	}, nil
}

// Cancel marks the appointment cancelled and withdraws its scheduled
// reminders. Cancelling a cancelled appointment returns ErrAlreadyCancelled.
func (c *Committer) Cancel(ctx context.Context, workspaceID, appointmentID, reason string) (time.Time, error) {
	tx, err := c.repo.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := c.repo.GetAppointmentForUpdate(ctx, tx, workspaceID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return time.Time{}, ErrAppointmentNotFound
		}
		return time.Time{}, err
	}
	if appt.Status == model.StatusCancelled {
		return time.Time{}, ErrAlreadyCancelled
	}
	if !appt.Status.CanTransition(model.StatusCancelled) {
		return time.Time{}, ErrTerminalStatus
	}

	cancelledAt, err := c.repo.CancelAppointment(ctx, tx, workspaceID, appointmentID, reason)
	if err != nil {
		return time.Time{}, err
	}

	if err := c.jobs.CancelByKeyPrefix(ctx, tx, jobs.ReminderKeyPrefix(appointmentID)); err != nil {
		return time.Time{}, err
	}
	if err := c.jobs.CancelByKeyPrefix(ctx, tx, jobs.ConfirmationKey(appointmentID)); err != nil {
		return time.Time{}, err
	}

	c.emit(ctx, tx, outbox.EventAppointmentCancelled, appointmentID, map[string]any{
		"appointment_id": appointmentID,
		"workspace_id":   workspaceID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	})

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}
	return cancelledAt, nil
}

type RescheduleRequest struct {
	WorkspaceID   string
	AppointmentID string
	StartTime     time.Time
	StaffID       string // empty: keep the current staff member
}

type RescheduleResult struct {
	AppointmentID string
	StaffID       string
	Status        model.Status
	StartTime     time.Time
	EndTime       time.Time
}

// Reschedule moves an appointment to a new validated slot. Status is
// preserved; the reminder_sent flag resets and reminder jobs are re-keyed to
// the new start.
func (c *Committer) Reschedule(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	tx, err := c.repo.Begin(ctx)
	if err != nil {
		return RescheduleResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := c.repo.GetAppointmentForUpdate(ctx, tx, req.WorkspaceID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return RescheduleResult{}, ErrAppointmentNotFound
		}
		return RescheduleResult{}, err
	}
	if appt.Status.Terminal() {
		return RescheduleResult{}, ErrTerminalStatus
	}

	staffID := req.StaffID
	if staffID == "" {
		staffID = appt.StaffID
	}
	start := req.StartTime.UTC()
	end := start.Add(appt.EndTime.Sub(appt.StartTime))

	// Buffers come from the service when it still exists; a retired service
	// falls back to the raw interval.
	var before, after time.Duration
	if svc, err := c.catalog.GetService(ctx, req.WorkspaceID, appt.ServiceID); err == nil {
		before = time.Duration(svc.BufferBeforeMins) * time.Minute
		after = time.Duration(svc.BufferAfterMins) * time.Minute
	} else if !storage.IsNotFound(err) {
		return RescheduleResult{}, err
	}

	if err := c.repo.LockStaffSchedule(ctx, tx, staffID); err != nil {
		return RescheduleResult{}, err
	}
	overlapping, err := c.repo.ListOverlapping(ctx, tx, staffID, start.Add(-before), end.Add(after), appt.ID)
	if err != nil {
		return RescheduleResult{}, err
	}
	if len(overlapping) > 0 {
		return RescheduleResult{}, ErrSlotTaken
	}

	if err := c.repo.Reschedule(ctx, tx, req.WorkspaceID, appt.ID, staffID, start, end); err != nil {
		if storage.IsConflict(err) {
			return RescheduleResult{}, ErrSlotTaken
		}
		return RescheduleResult{}, err
	}

	settings, err := c.catalog.GetBookingSettings(ctx, req.WorkspaceID)
	if err != nil {
		return RescheduleResult{}, err
	}
	if err := c.jobs.CancelByKeyPrefix(ctx, tx, jobs.ReminderKeyPrefix(appt.ID)); err != nil {
		return RescheduleResult{}, err
	}
	c.scheduleReminders(ctx, tx, appt.ID, req.WorkspaceID, settings.ReminderOffsetMins, start, time.Now().UTC())

	c.emit(ctx, tx, outbox.EventAppointmentRescheduled, appt.ID, map[string]any{
		"appointment_id": appt.ID,
		"workspace_id":   req.WorkspaceID,
		"staff_id":       staffID,
		"service_id":     appt.ServiceID,
		"start_time":     start.Format(time.RFC3339),
		"end_time":       end.Format(time.RFC3339),
	})

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return RescheduleResult{}, ErrSlotTaken
		}
		return RescheduleResult{}, err
	}
	return RescheduleResult{
		AppointmentID: appt.ID,
		StaffID:       staffID,
		Status:        appt.Status,
		StartTime:     start,
		EndTime:       end,
	}, nil
}

// ResolveStatus decides the initial appointment status: pending when the
// service wants manual confirmation, the workspace disabled auto-confirm, or
// the booking page collects payment first; confirmed otherwise.
func ResolveStatus(svc model.Service, settings model.BookingSettings, page model.BookingPage) model.Status {
	if svc.RequiresConfirmation || !settings.AutoConfirm || page.RequiresPayment {
		return model.StatusPending
	}
	return model.StatusConfirmed
}

// SplitName separates a display name into first/last on the first space.
func SplitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (c *Committer) resolveContact(ctx context.Context, tx pgx.Tx, workspaceID string, cust Customer) (string, error) {
	id, ok, err := c.repo.FindContact(ctx, tx, workspaceID, cust.Email, cust.Phone)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	first, last := SplitName(cust.Name)
	return c.repo.CreateContact(ctx, tx, model.Contact{
		WorkspaceID: workspaceID,
		FirstName:   first,
		LastName:    last,
		Email:       cust.Email,
		Phone:       cust.Phone,
		Source:      "booking",
	})
}

// scheduleJob runs the upsert inside a savepoint so a failure rolls back the
// job write alone, not the enclosing booking transaction.
func (c *Committer) scheduleJob(ctx context.Context, tx pgx.Tx, job jobs.Job) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := c.jobs.Schedule(ctx, sp, job); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (c *Committer) scheduleConfirmation(ctx context.Context, tx pgx.Tx, appointmentID, workspaceID, serviceName string, start time.Time, cust Customer, now time.Time) {
	if cust.Email == "" && cust.Phone == "" {
		return
	}
	err := c.scheduleJob(ctx, tx, jobs.Job{
		IdempotencyKey: jobs.ConfirmationKey(appointmentID),
		AppointmentID:  appointmentID,
		WorkspaceID:    workspaceID,
		JobType:        jobs.TypeConfirmation,
		RunAt:          now,
		Payload: map[string]any{
			"service":        serviceName,
			"start_time":     start.Format(time.RFC3339),
			"customer_name":  cust.Name,
			"customer_email": cust.Email,
			"customer_phone": cust.Phone,
		},
	})
	if err != nil {
		c.logger.Error("failed to schedule confirmation", "err", err, "appointment_id", appointmentID)
	}
}

func (c *Committer) scheduleReminders(ctx context.Context, tx pgx.Tx, appointmentID, workspaceID string, offsetsMins []int, start, now time.Time) {
	for _, mins := range offsetsMins {
		if mins <= 0 {
			continue
		}
		offset := time.Duration(mins) * time.Minute
		runAt := start.Add(-offset)
		if runAt.Before(now) {
			continue
		}
		err := c.scheduleJob(ctx, tx, jobs.Job{
			IdempotencyKey: jobs.ReminderKey(appointmentID, offset),
			AppointmentID:  appointmentID,
			WorkspaceID:    workspaceID,
			JobType:        jobs.TypeReminder,
			RunAt:          runAt,
			Payload: map[string]any{
				"start_time": start.Format(time.RFC3339),
			},
		})
		if err != nil {
			c.logger.Error("failed to schedule reminder", "err", err, "appointment_id", appointmentID)
		}
	}
}

// emit writes a domain event into the outbox. The insert runs inside a
// savepoint: a failure rolls back only the event write and is logged, so
// event delivery can never fail the booking itself.
func (c *Committer) emit(ctx context.Context, tx pgx.Tx, eventType, appointmentID string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to build event payload", "err", err, "event_type", eventType)
		return
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		c.logger.Error("failed to open savepoint for outbox event", "err", err, "event_type", eventType)
		return
	}
	if err := c.outbox.Insert(ctx, sp, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		_ = sp.Rollback(ctx)
		c.logger.Error("failed to write outbox event", "err", err, "event_type", eventType)
		return
	}
	if err := sp.Commit(ctx); err != nil {
		c.logger.Error("failed to commit outbox savepoint", "err", err, "event_type", eventType)
	}
}
