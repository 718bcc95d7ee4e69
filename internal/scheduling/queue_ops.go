package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/notify"
	"github.com/carebridge/clinic-scheduling/internal/queue"
)

// Queue returns the doctor's queue for the day with fresh wait estimates.
func (s *Service) Queue(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*queue.Queue, error) {
	return s.queues.Get(ctx, doctorID, day)
}

// SetQueueDelay is a doctor control: record the running delay and push the
// new estimates out.
func (s *Service) SetQueueDelay(ctx context.Context, doctorID uuid.UUID, actor appointment.Actor, day calendar.Date, delayMinutes int) (*queue.Queue, error) {
	if actor.Role != appointment.RoleDoctor || actor.ID != doctorID {
		return nil, ErrNotAuthorized
	}
	if delayMinutes < 0 {
		return nil, validationf("delay must not be negative")
	}

	q, err := s.queues.SetDelay(ctx, doctorID, day, delayMinutes)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.Event{
		Type:     notify.EventQueueUpdated,
		DoctorID: doctorID,
		Payload: map[string]any{
			"date":          day.String(),
			"delay_minutes": delayMinutes,
		},
		At: time.Now(),
	})
	return q, nil
}

// UpdateQueueEntry is a doctor control over one entry's visit status.
func (s *Service) UpdateQueueEntry(ctx context.Context, doctorID uuid.UUID, actor appointment.Actor, day calendar.Date, appointmentID uuid.UUID, status queue.EntryStatus) (*queue.Queue, error) {
	if actor.Role != appointment.RoleDoctor || actor.ID != doctorID {
		return nil, ErrNotAuthorized
	}

	q, err := s.queues.SetEntryStatus(ctx, doctorID, day, appointmentID, status)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.Event{
		Type:          notify.EventQueueUpdated,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		Payload: map[string]any{
			"date":   day.String(),
			"status": string(status),
		},
		At: time.Now(),
	})
	return q, nil
}
