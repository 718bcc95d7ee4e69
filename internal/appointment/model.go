package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

type Status string

const (
	StatusPending                    Status = "pending"
	StatusConfirmed                  Status = "confirmed"
	StatusInProgress                 Status = "in-progress"
	StatusCompleted                  Status = "completed"
	StatusCancelled                  Status = "cancelled"
	StatusRejected                   Status = "rejected"
	StatusNoShow                     Status = "no-show"
	StatusPendingReschedule          Status = "pending_reschedule"
	StatusPendingPatientConfirmation Status = "pending_patient_confirmation"
)

// IsTerminal reports whether no further transition may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusNoShow:
		return true
	}
	return false
}

// Active reports whether the appointment still holds a claim on its slot.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusRejected
}

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Actor is the authenticated caller principal, resolved once at the API
// boundary and passed into the engine as an opaque pair.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// StatusRecord is one append-only history entry, written on every transition.
type StatusRecord struct {
	Status    Status    `json:"status"`
	ActorID   uuid.UUID `json:"actorId"`
	ActorRole Role      `json:"actorRole"`
	Notes     string    `json:"notes,omitempty"`
	At        time.Time `json:"at"`
}

// RescheduleRequest is a pending negotiation: the proposed slot held alongside
// the canonical one until the counterpart resolves it. At most one may exist
// per appointment at a time.
type RescheduleRequest struct {
	ProposedBy Role               `json:"proposedBy"`
	Day        calendar.Date      `json:"date"`
	Start      calendar.ClockTime `json:"startTime"`
	End        calendar.ClockTime `json:"endTime"`
	Notes      string             `json:"notes,omitempty"`
	At         time.Time          `json:"at"`
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Day         calendar.Date
	Start       calendar.ClockTime
	End         calendar.ClockTime
	Status      Status
	History     []StatusRecord
	Reschedule  *RescheduleRequest
	IsEmergency bool

	QueueNumber   int
	EstimatedWait int // minutes, derived by the queue manager

	CancelledBy  Role
	CancelReason string

	PaymentStatus string

	StartedAt  *time.Time // stamped on -> in-progress
	FinishedAt *time.Time // stamped on -> completed, only if StartedAt exists

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record appends one history entry and moves the canonical status.
func (a *Appointment) Record(status Status, actor Actor, notes string, at time.Time) {
	a.Status = status
	a.History = append(a.History, StatusRecord{
		Status:    status,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Notes:     notes,
		At:        at,
	})
	a.UpdatedAt = at
}

// Participant reports whether the actor is the doctor or patient bound to
// this appointment.
func (a *Appointment) Participant(actor Actor) bool {
	switch actor.Role {
	case RoleDoctor:
		return actor.ID == a.DoctorID
	case RolePatient:
		return actor.ID == a.PatientID
	}
	return false
}
