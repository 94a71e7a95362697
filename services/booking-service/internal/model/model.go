package model

import "time"

// Service is a bookable offering. Read-only input to slot generation.
type Service struct {
	ID                   string
	WorkspaceID          string
	Name                 string
	DurationMins         int
	BufferBeforeMins     int
	BufferAfterMins      int
	Price                string
	IsActive             bool
	AllowOnlineBooking   bool
	RequiresConfirmation bool
}

type StaffMember struct {
	ID              string
	WorkspaceID     string
	Name            string
	IsActive        bool
	AcceptsBookings bool
}

// AvailabilityRule is one weekly-template row: a working window for a staff
// member on a given weekday, expressed as minutes from midnight.
type AvailabilityRule struct {
	StaffID     string
	Weekday     int
	StartMinute int
	EndMinute   int
	IsAvailable bool
}

type TimeOff struct {
	ID        string
	StaffID   string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
}

// BookingSettings holds the per-workspace booking window and grid settings.
type BookingSettings struct {
	WorkspaceID        string
	MinNoticeHours     int
	MaxAdvanceDays     int
	SlotIntervalMins   int
	AutoConfirm        bool
	ReminderOffsetMins []int
}

type BookingPage struct {
	ID              string
	WorkspaceID     string
	Name            string
	RequiresPayment bool
}

type Contact struct {
	ID          string
	WorkspaceID string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Source      string
}

type Appointment struct {
	ID              string
	WorkspaceID     string
	ContactID       string
	StaffID         string
	ServiceID       string
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	Status          Status
	Price           string
	Notes           string
	Source          string
	BookingPageID   string
	CustomAnswers   []byte
	PaymentStatus   string
	ReminderSent    bool
	RescheduledFrom string
	CancelReason    string
	CancelledAt     *time.Time
	CreatedAt       time.Time
}

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Cancelled and completed are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}
