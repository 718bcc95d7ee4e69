package scheduling

import (
	"errors"
	"fmt"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

// Stable conflict reason codes surfaced to callers.
const (
	ReasonDoctorUnavailable     = "DOCTOR_UNAVAILABLE"
	ReasonOutsideHours          = "OUTSIDE_HOURS"
	ReasonAlreadyBooked         = "ALREADY_BOOKED"
	ReasonDoctorBreak           = "DOCTOR_BREAK"
	ReasonEmergencySlotRequired = "EMERGENCY_SLOT_REQUIRED"
)

var (
	ErrNotAuthorized         = errors.New("caller is not a participant in this appointment")
	ErrNegotiationInProgress = errors.New("a reschedule negotiation is already pending")
	ErrNoNegotiation         = errors.New("no reschedule negotiation is pending")
)

// ValidationError rejects malformed input before the store is touched.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is a booking-time conflict, carrying the stable reason code
// and nearby open slots the caller could take instead.
type ConflictError struct {
	Reason       string
	Alternatives []calendar.TimeSlot
	cause        error
}

func (e *ConflictError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.Reason
}

func (e *ConflictError) Unwrap() error { return e.cause }

// conflict wraps a calendar availability failure with its reason code.
// Alternatives are attached where suggesting another slot makes sense.
func conflict(err error, alternatives []calendar.TimeSlot) *ConflictError {
	reason := ""
	switch {
	case errors.Is(err, calendar.ErrDoctorUnavailable), errors.Is(err, calendar.ErrCalendarNotFound):
		reason = ReasonDoctorUnavailable
	case errors.Is(err, calendar.ErrOutsideHours), errors.Is(err, calendar.ErrSlotNotFound):
		reason = ReasonOutsideHours
	case errors.Is(err, calendar.ErrAlreadyBooked):
		reason = ReasonAlreadyBooked
	case errors.Is(err, calendar.ErrDoctorBreak):
		reason = ReasonDoctorBreak
	case errors.Is(err, calendar.ErrEmergencySlotRequired):
		reason = ReasonEmergencySlotRequired
	default:
		reason = ReasonOutsideHours
	}
	return &ConflictError{Reason: reason, Alternatives: alternatives, cause: err}
}

// TransitionError names the blocked source/target pair for the acting role.
type TransitionError struct {
	Role appointment.Role
	From appointment.Status
	To   appointment.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s may not move appointment from %q to %q", e.Role, e.From, e.To)
}
