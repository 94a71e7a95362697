package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookflowhq/bookflow/libs/db"
	"github.com/bookflowhq/bookflow/services/booking-service/internal/model"
)

// CatalogRepository reads the booking configuration: services, staff, weekly
// availability templates, time off, settings, and booking pages. All of it is
// read-only at booking time.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetService(ctx context.Context, workspaceID, serviceID string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, workspace_id::text, name, duration_minutes, buffer_before_minutes,
			buffer_after_minutes, price::text, is_active, allow_online_booking, requires_confirmation
		FROM services
		WHERE id = $1 AND workspace_id = $2 AND is_active
	`, serviceID, workspaceID).Scan(
		&s.ID, &s.WorkspaceID, &s.Name, &s.DurationMins, &s.BufferBeforeMins,
		&s.BufferAfterMins, &s.Price, &s.IsActive, &s.AllowOnlineBooking, &s.RequiresConfirmation,
	)
	if err != nil {
		return model.Service{}, err
	}
	return s, nil
}

// ListEligibleStaff returns active, booking-accepting staff assigned to the
// service, optionally narrowed to one staff member.
func (r *CatalogRepository) ListEligibleStaff(ctx context.Context, workspaceID, serviceID, staffID string) ([]model.StaffMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sm.id::text, sm.workspace_id::text, sm.name, sm.is_active, sm.accepts_bookings
		FROM staff_members sm
		JOIN staff_services ss ON ss.staff_id = sm.id
		WHERE ss.service_id = $2
			AND sm.workspace_id = $1
			AND sm.is_active
			AND sm.accepts_bookings
			AND ($3 = '' OR sm.id::text = $3)
		ORDER BY sm.id
	`, workspaceID, serviceID, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []model.StaffMember
	for rows.Next() {
		var s model.StaffMember
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.IsActive, &s.AcceptsBookings); err != nil {
			return nil, err
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}

func (r *CatalogRepository) ListAvailabilityRules(ctx context.Context, staffID string, weekday int) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id::text, weekday, start_minute, end_minute, is_available
		FROM staff_availability
		WHERE staff_id = $1 AND weekday = $2 AND is_available
		ORDER BY start_minute
	`, staffID, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var rule model.AvailabilityRule
		if err := rows.Scan(&rule.StaffID, &rule.Weekday, &rule.StartMinute, &rule.EndMinute, &rule.IsAvailable); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *CatalogRepository) ListTimeOff(ctx context.Context, staffID string, from, to time.Time) ([]model.TimeOff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, staff_id::text, start_time, end_time, COALESCE(reason, '')
		FROM staff_time_off
		WHERE staff_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time
	`, staffID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offs []model.TimeOff
	for rows.Next() {
		var t model.TimeOff
		if err := rows.Scan(&t.ID, &t.StaffID, &t.StartTime, &t.EndTime, &t.Reason); err != nil {
			return nil, err
		}
		offs = append(offs, t)
	}
	return offs, rows.Err()
}

// GetBookingSettings returns the workspace settings, falling back to defaults
// when the workspace never configured them.
func (r *CatalogRepository) GetBookingSettings(ctx context.Context, workspaceID string) (model.BookingSettings, error) {
	s := model.BookingSettings{
		WorkspaceID:        workspaceID,
		MinNoticeHours:     1,
		MaxAdvanceDays:     60,
		SlotIntervalMins:   30,
		AutoConfirm:        true,
		ReminderOffsetMins: []int{1440},
	}
	err := r.pool.QueryRow(ctx, `
		SELECT min_notice_hours, max_advance_days, slot_interval_minutes, auto_confirm, reminder_offsets_minutes
		FROM booking_settings
		WHERE workspace_id = $1
	`, workspaceID).Scan(&s.MinNoticeHours, &s.MaxAdvanceDays, &s.SlotIntervalMins, &s.AutoConfirm, &s.ReminderOffsetMins)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return model.BookingSettings{}, err
	}
	if len(s.ReminderOffsetMins) == 0 {
		s.ReminderOffsetMins = []int{1440}
	}
	return s, nil
}

func (r *CatalogRepository) GetBookingPage(ctx context.Context, pageID string) (model.BookingPage, error) {
	var p model.BookingPage
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, workspace_id::text, name, requires_payment
		FROM booking_pages
		WHERE id = $1
	`, pageID).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.RequiresPayment)
	if err != nil {
		return model.BookingPage{}, err
	}
	return p, nil
}

// ListBookableServices powers the public booking page.
func (r *CatalogRepository) ListBookableServices(ctx context.Context, workspaceID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, workspace_id::text, name, duration_minutes, buffer_before_minutes,
			buffer_after_minutes, price::text, is_active, allow_online_booking, requires_confirmation
		FROM services
		WHERE workspace_id = $1 AND is_active AND allow_online_booking
		ORDER BY name
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(
			&s.ID, &s.WorkspaceID, &s.Name, &s.DurationMins, &s.BufferBeforeMins,
			&s.BufferAfterMins, &s.Price, &s.IsActive, &s.AllowOnlineBooking, &s.RequiresConfirmation,
		); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *CatalogRepository) ListBookingStaff(ctx context.Context, workspaceID string) ([]model.StaffMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, workspace_id::text, name, is_active, accepts_bookings
		FROM staff_members
		WHERE workspace_id = $1 AND is_active AND accepts_bookings
		ORDER BY name
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []model.StaffMember
	for rows.Next() {
		var s model.StaffMember
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.IsActive, &s.AcceptsBookings); err != nil {
			return nil, err
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}
