package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookflowhq/bookflow/libs/db"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
)

// BookingRepository owns the appointment and contact tables, including the
// locked reads the commit path depends on.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockStaffSchedule serializes concurrent commits for one staff member. The
// advisory lock is transaction-scoped: it releases on commit or rollback.
func (r *BookingRepository) LockStaffSchedule(ctx context.Context, tx pgx.Tx, staffID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, staffID)
	return err
}

// ListOverlapping returns the staff member's non-cancelled appointments whose
// stored [start_time, end_time) intersects [start, end), locked FOR UPDATE so
// the rows cannot change under the caller's transaction. excludeID skips one
// appointment (the one being rescheduled).
func (r *BookingRepository) ListOverlapping(ctx context.Context, tx pgx.Tx, staffID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, workspace_id::text, staff_id::text, service_id::text, start_time, end_time, status
		FROM appointments
		WHERE staff_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time
		FOR UPDATE
	`, staffID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.StaffID, &a.ServiceID, &a.StartTime, &a.EndTime, &a.Status); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// ListBookedIntervals is the read-only variant used by slot listing.
// Cancelled appointments do not block.
func (r *BookingRepository) ListBookedIntervals(ctx context.Context, workspaceID, staffID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, staff_id::text, start_time, end_time
		FROM appointments
		WHERE workspace_id = $1
			AND staff_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time
	`, workspaceID, staffID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.StaffID, &a.StartTime, &a.EndTime); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// CountUpcomingByStaff snapshots each staff member's non-cancelled
// appointment count in [from, to) for the round-robin reduction.
func (r *BookingRepository) CountUpcomingByStaff(ctx context.Context, workspaceID string, from, to time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id::text, COUNT(*)
		FROM appointments
		WHERE workspace_id = $1
			AND status <> 'cancelled'
			AND start_time >= $2
			AND start_time < $3
		GROUP BY staff_id
	`, workspaceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// PickLeastLoadedStaff selects the eligible staff member with the fewest
// non-cancelled appointments starting in [from, to), ties broken by id.
// Returns pgx.ErrNoRows when nobody is eligible.
func (r *BookingRepository) PickLeastLoadedStaff(ctx context.Context, tx pgx.Tx, workspaceID, serviceID string, from, to time.Time) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		SELECT sm.id::text
		FROM staff_members sm
		JOIN staff_services ss ON ss.staff_id = sm.id
		WHERE ss.service_id = $2
			AND sm.workspace_id = $1
			AND sm.is_active
			AND sm.accepts_bookings
		ORDER BY (
			SELECT COUNT(*) FROM appointments a
			WHERE a.staff_id = sm.id
				AND a.status <> 'cancelled'
				AND a.start_time >= $3
				AND a.start_time < $4
		) ASC, sm.id ASC
		LIMIT 1
	`, workspaceID, serviceID, from, to).Scan(&id)
	return id, err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(workspace_id, contact_id, staff_id, service_id, title, start_time, end_time,
			 status, price, notes, source, booking_page_id, custom_answers, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, '')::uuid, $13, $14)
		RETURNING id::text
	`, appt.WorkspaceID, appt.ContactID, appt.StaffID, appt.ServiceID, appt.Title,
		appt.StartTime, appt.EndTime, appt.Status, appt.Price, appt.Notes, appt.Source,
		appt.BookingPageID, appt.CustomAnswers, appt.PaymentStatus).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, workspaceID, appointmentID string) (model.Appointment, error) {
	var a model.Appointment
	var bookingPageID, rescheduledFrom *string
	err := tx.QueryRow(ctx, `
		SELECT id::text, workspace_id::text, contact_id::text, staff_id::text, service_id::text,
			title, start_time, end_time, status, price::text, COALESCE(notes, ''), source,
			booking_page_id::text, rescheduled_from::text, payment_status, reminder_sent,
			COALESCE(cancellation_reason, ''), cancelled_at, created_at
		FROM appointments
		WHERE id = $1 AND workspace_id = $2
		FOR UPDATE
	`, appointmentID, workspaceID).Scan(
		&a.ID, &a.WorkspaceID, &a.ContactID, &a.StaffID, &a.ServiceID,
		&a.Title, &a.StartTime, &a.EndTime, &a.Status, &a.Price, &a.Notes, &a.Source,
		&bookingPageID, &rescheduledFrom, &a.PaymentStatus, &a.ReminderSent,
		&a.CancelReason, &a.CancelledAt, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if bookingPageID != nil {
		a.BookingPageID = *bookingPageID
	}
	if rescheduledFrom != nil {
		a.RescheduledFrom = *rescheduledFrom
	}
	return a, nil
}

func (r *BookingRepository) CancelAppointment(ctx context.Context, tx pgx.Tx, workspaceID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3,
			updated_at = now()
		WHERE id = $1 AND workspace_id = $2
		RETURNING cancelled_at
	`, appointmentID, workspaceID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// Reschedule moves an appointment, marks where it came from, and resets the
// reminder_sent flag so a fresh reminder can fire.
func (r *BookingRepository) Reschedule(ctx context.Context, tx pgx.Tx, workspaceID, appointmentID, staffID string, start, end time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET staff_id = $3,
			start_time = $4,
			end_time = $5,
			rescheduled_from = id,
			reminder_sent = FALSE,
			updated_at = now()
		WHERE id = $1 AND workspace_id = $2
	`, appointmentID, workspaceID, staffID, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BookingRepository) MarkReminderSent(ctx context.Context, appointmentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = TRUE, updated_at = now()
		WHERE id = $1
	`, appointmentID)
	return err
}

func (r *BookingRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, workspace_id::text, contact_id::text, staff_id::text, service_id::text,
			title, start_time, end_time, status, price::text, source, reminder_sent,
			COALESCE(cancellation_reason, ''), cancelled_at, created_at
		FROM appointments
		WHERE workspace_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID, &a.WorkspaceID, &a.ContactID, &a.StaffID, &a.ServiceID,
			&a.Title, &a.StartTime, &a.EndTime, &a.Status, &a.Price, &a.Source, &a.ReminderSent,
			&a.CancelReason, &a.CancelledAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// FindContact matches an existing contact by email first, then phone.
// Returns ok=false when neither matches.
func (r *BookingRepository) FindContact(ctx context.Context, tx pgx.Tx, workspaceID, email, phone string) (string, bool, error) {
	if email != "" {
		var id string
		err := tx.QueryRow(ctx, `
			SELECT id::text FROM contacts WHERE workspace_id = $1 AND email = $2
		`, workspaceID, email).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, err
		}
	}
	if phone != "" {
		var id string
		err := tx.QueryRow(ctx, `
			SELECT id::text FROM contacts WHERE workspace_id = $1 AND phone = $2
		`, workspaceID, phone).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, err
		}
	}
	return "", false, nil
}

func (r *BookingRepository) CreateContact(ctx context.Context, tx pgx.Tx, c model.Contact) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO contacts (id, workspace_id, first_name, last_name, email, phone, source)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`, id, c.WorkspaceID, c.FirstName, c.LastName, c.Email, c.Phone, c.Source)
	if err != nil {
		return "", err
	}
	return id, nil
}

// IsConflict reports whether err is the appointments exclusion constraint
// (23P01) or a unique violation (23505) raised by a concurrent insert.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
