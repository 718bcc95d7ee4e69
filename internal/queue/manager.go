package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

// Manager derives per-(doctor,date) queues from confirmed and in-progress
// appointments and keeps wait estimates current. Every operation persists the
// queue it touched; sync is idempotent and safe to re-run after any lifecycle
// event.
type Manager struct {
	repo       Repository
	avgMinutes int
}

func NewManager(repo Repository, avgConsultationMinutes int) *Manager {
	if avgConsultationMinutes <= 0 {
		avgConsultationMinutes = DefaultConsultationMinutes
	}
	return &Manager{repo: repo, avgMinutes: avgConsultationMinutes}
}

// load fetches the queue or starts an empty one for the day.
func (m *Manager) load(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*Queue, error) {
	q, err := m.repo.Get(ctx, doctorID, day)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return New(doctorID, day), nil
		}
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return q, nil
}

// Get returns the queue with estimates freshly computed.
func (m *Manager) Get(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*Queue, error) {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	q.RecomputeWaits(m.avgMinutes)
	return q, nil
}

// Sync folds the given confirmed/in-progress appointments into the queue.
// Missing appointments get a new entry; existing entries are never removed
// here — the lifecycle machine finalizes them through its side effects.
func (m *Manager) Sync(ctx context.Context, doctorID uuid.UUID, day calendar.Date, appts []appointment.Appointment) (*Queue, error) {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	for _, a := range appts {
		if a.Status != appointment.StatusConfirmed && a.Status != appointment.StatusInProgress {
			continue
		}
		status := EntryWaiting
		if a.Status == appointment.StatusInProgress {
			status = EntryInProgress
		}
		priority := PriorityNormal
		if a.IsEmergency {
			priority = PriorityEmergency
		}
		q.Add(Entry{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			Scheduled:     a.Start,
			Status:        status,
			Priority:      priority,
		})
	}

	q.RecomputeWaits(m.avgMinutes)

	if err := m.repo.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}
	return q, nil
}

// SetEntryStatus mutates one entry and recomputes estimates.
func (m *Manager) SetEntryStatus(ctx context.Context, doctorID uuid.UUID, day calendar.Date, appointmentID uuid.UUID, status EntryStatus) (*Queue, error) {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if err := q.SetStatus(appointmentID, status); err != nil {
		return nil, err
	}
	q.RecomputeWaits(m.avgMinutes)

	if err := m.repo.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}
	return q, nil
}

// RemoveEntry drops an appointment's entry after it was cancelled or
// rejected, then recomputes the remaining estimates.
func (m *Manager) RemoveEntry(ctx context.Context, doctorID uuid.UUID, day calendar.Date, appointmentID uuid.UUID) error {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return err
	}
	if !q.Remove(appointmentID) {
		return ErrEntryNotFound
	}
	q.RecomputeWaits(m.avgMinutes)

	if err := m.repo.Save(ctx, q); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// SetDelay records the doctor's running delay and refreshes every estimate.
func (m *Manager) SetDelay(ctx context.Context, doctorID uuid.UUID, day calendar.Date, delayMinutes int) (*Queue, error) {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	q.CurrentDelay = delayMinutes
	q.RecomputeWaits(m.avgMinutes)

	if err := m.repo.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}
	return q, nil
}

// EstimateForNewEntry is the wait a booking would see if it joined now.
func (m *Manager) EstimateForNewEntry(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (position, waitMinutes int, err error) {
	q, err := m.load(ctx, doctorID, day)
	if err != nil {
		return 0, 0, err
	}
	waiting := q.WaitingCount()
	return waiting + 1, waiting*m.avgMinutes + q.CurrentDelay, nil
}
