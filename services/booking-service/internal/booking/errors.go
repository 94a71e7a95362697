package booking

import "errors"

var (
	// ErrServiceNotFound: the requested service is missing or inactive.
	ErrServiceNotFound = errors.New("service not found")
	// ErrNoStaffAvailable: no eligible staff member can take the booking.
	ErrNoStaffAvailable = errors.New("no available staff for this service")
	// ErrSlotTaken: a concurrent request claimed the slot between listing
	// and commit. Clients should re-fetch slots.
	ErrSlotTaken = errors.New("time slot is no longer available")
	// ErrAppointmentNotFound: unknown appointment id for the workspace.
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrAlreadyCancelled: cancelling twice is rejected, not repeated.
	ErrAlreadyCancelled = errors.New("appointment already cancelled")
	// ErrTerminalStatus: the appointment lifecycle forbids the mutation.
	ErrTerminalStatus = errors.New("appointment cannot be modified in its current status")
)
