package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrAppointmentModified means the stored status no longer matches the one
	// a transition was validated against; the caller must re-read and retry.
	ErrAppointmentModified = errors.New("appointment was modified concurrently")
)

// EventLog is one durable audit row describing a scheduling event.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Repository contains all DB interactions needed by the scheduling service.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Create(ctx context.Context, appt *Appointment) error

	// Update persists the appointment only while its stored status still
	// equals expected, so a transition validated against a stale read can
	// never overwrite a newer one. ErrAppointmentModified reports the miss.
	Update(ctx context.Context, appt *Appointment, expected Status) error

	// ListForDay feeds the queue manager: appointments for one doctor/date,
	// optionally filtered to the given statuses.
	ListForDay(ctx context.Context, doctorID uuid.UUID, day calendar.Date, statuses ...Status) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
