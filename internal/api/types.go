package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/queue"
	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID    string `json:"doctorId"`
	PatientID   string `json:"patientId"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsEmergency bool   `json:"isEmergency"`
	Notes       string `json:"notes,omitempty"`
}

type StatusUpdateRequest struct {
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
	CancelReason string `json:"cancelReason,omitempty"`
	DoctorID     string `json:"doctorId,omitempty"`
}

type RescheduleBody struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Notes     string `json:"notes,omitempty"`
}

// DecisionBody answers a pending negotiation: confirm/reject for patients,
// approve/reject for doctors.
type DecisionBody struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
}

type HoursBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CalendarUpdateRequest struct {
	RegularHours   HoursBody   `json:"regularHours"`
	EmergencyHours *HoursBody  `json:"emergencyHours,omitempty"`
	Breaks         []HoursBody `json:"breaks,omitempty"`
	SlotMinutes    int         `json:"slotMinutes,omitempty"`
	Unavailable    bool        `json:"unavailable,omitempty"`
}

type QueueDelayRequest struct {
	DelayMinutes int `json:"delayMinutes"`
}

type QueueEntryUpdateRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID            uuid.UUID                      `json:"id"`
	DoctorID      uuid.UUID                      `json:"doctorId"`
	PatientID     uuid.UUID                      `json:"patientId"`
	Date          calendar.Date                  `json:"date"`
	StartTime     calendar.ClockTime             `json:"startTime"`
	EndTime       calendar.ClockTime             `json:"endTime"`
	Status        string                         `json:"status"`
	IsEmergency   bool                           `json:"isEmergency"`
	QueueNumber   int                            `json:"queueNumber,omitempty"`
	EstimatedWait int                            `json:"estimatedWaitTime,omitempty"`
	CancelledBy   string                         `json:"cancelledBy,omitempty"`
	CancelReason  string                         `json:"cancelReason,omitempty"`
	PaymentStatus string                         `json:"paymentStatus,omitempty"`
	History       []appointment.StatusRecord     `json:"statusHistory,omitempty"`
	Reschedule    *appointment.RescheduleRequest `json:"requestedReschedule,omitempty"`
	StartedAt     *time.Time                     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time                     `json:"finishedAt,omitempty"`
	CreatedAt     time.Time                      `json:"createdAt"`
	UpdatedAt     time.Time                      `json:"updatedAt"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Day,
		StartTime:     a.Start,
		EndTime:       a.End,
		Status:        string(a.Status),
		IsEmergency:   a.IsEmergency,
		QueueNumber:   a.QueueNumber,
		EstimatedWait: a.EstimatedWait,
		CancelledBy:   string(a.CancelledBy),
		CancelReason:  a.CancelReason,
		PaymentStatus: a.PaymentStatus,
		History:       a.History,
		Reschedule:    a.Reschedule,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type BookingResponse struct {
	Appointment   AppointmentResponse `json:"appointment"`
	QueuePosition int                 `json:"queuePosition"`
	EstimatedWait int                 `json:"estimatedWaitTime"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID             `json:"doctorId"`
	Date     calendar.Date         `json:"date"`
	Slots    []scheduling.SlotView `json:"slots"`
}

type QueueResponse struct {
	DoctorID     uuid.UUID     `json:"doctorId"`
	Date         calendar.Date `json:"date"`
	CurrentDelay int           `json:"currentDelayMinutes"`
	Entries      []queue.Entry `json:"entries"`
}

func newQueueResponse(q *queue.Queue) QueueResponse {
	return QueueResponse{
		DoctorID:     q.DoctorID,
		Date:         q.Day,
		CurrentDelay: q.CurrentDelay,
		Entries:      q.Entries,
	}
}

type ErrorResponse struct {
	Error            string              `json:"error"`
	Details          string              `json:"details,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	AlternativeSlots []calendar.TimeSlot `json:"alternativeSlots,omitempty"`
}
