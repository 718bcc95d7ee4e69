// Package scheduling is the core engine: it drives the appointment lifecycle
// state machine, consults the slot allocator under the per-(doctor,date)
// lock, runs the reschedule negotiation protocol and keeps the visit queue in
// step with every transition.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/notify"
	"github.com/carebridge/clinic-scheduling/internal/queue"
	redisclient "github.com/carebridge/clinic-scheduling/internal/redis"
)

type Service struct {
	calendars calendar.Store
	appts     appointment.Repository
	queues    *queue.Manager
	locker    redisclient.Locker
	notifier  notify.Notifier
	log       zerolog.Logger

	slotMinutes int
	alternativeLimit int
}

func NewService(
	calendars calendar.Store,
	appts appointment.Repository,
	queues *queue.Manager,
	locker redisclient.Locker,
	notifier notify.Notifier,
	log zerolog.Logger,
	slotMinutes int,
) *Service {
	if slotMinutes <= 0 {
		slotMinutes = calendar.DefaultSlotMinutes
	}
	return &Service{
		calendars:        calendars,
		appts:            appts,
		queues:           queues,
		locker:           locker,
		notifier:         notifier,
		log:              log,
		slotMinutes:      slotMinutes,
		alternativeLimit: 3,
	}
}

// BookRequest asks for one slot on a doctor's day.
type BookRequest struct {
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Day         calendar.Date
	Start       calendar.ClockTime
	End         calendar.ClockTime
	IsEmergency bool
	Notes       string
}

// BookingResult is the created appointment plus where the patient would land
// in the day's queue.
type BookingResult struct {
	Appointment   *appointment.Appointment
	QueuePosition int
	EstimatedWait int
}

func (r BookRequest) validate() error {
	if r.DoctorID == uuid.Nil {
		return validationf("doctorId is required")
	}
	if r.PatientID == uuid.Nil {
		return validationf("patientId is required")
	}
	if r.Day.IsZero() {
		return validationf("date is required")
	}
	if !r.Start.Valid() || !r.End.Valid() || r.End <= r.Start {
		return validationf("invalid slot times %s-%s", r.Start, r.End)
	}
	return nil
}

// Book allocates the requested slot and creates a pending appointment. The
// availability check and the reservation run inside the calendar lock so two
// concurrent requests for the same slot cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookRequest) (*BookingResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *BookingResult

	err := s.locker.WithCalendarLock(ctx, req.DoctorID, []calendar.Date{req.Day}, func(lockCtx context.Context) error {
		cal, err := s.calendars.Get(lockCtx, req.DoctorID, req.Day)
		if err != nil {
			if errors.Is(err, calendar.ErrCalendarNotFound) {
				return conflict(calendar.ErrDoctorUnavailable, nil)
			}
			return fmt.Errorf("load calendar: %w", err)
		}

		if _, err := cal.CheckAvailability(req.Start, req.End, req.IsEmergency); err != nil {
			if errors.Is(err, calendar.ErrEmergencySlotRequired) {
				// Regular open slots are no use to an emergency; suggest nothing.
				return conflict(err, nil)
			}
			return conflict(err, cal.FindAlternatives(req.Start, s.alternativeLimit))
		}

		now := time.Now()
		appt := &appointment.Appointment{
			ID:          uuid.New(),
			DoctorID:    req.DoctorID,
			PatientID:   req.PatientID,
			Day:         req.Day,
			Start:       req.Start,
			End:         req.End,
			IsEmergency: req.IsEmergency,
			CreatedAt:   now,
		}
		appt.Record(appointment.StatusPending, appointment.Actor{ID: req.PatientID, Role: appointment.RolePatient}, req.Notes, now)

		if err := cal.Reserve(req.Start, appt.ID, req.PatientID); err != nil {
			return conflict(err, cal.FindAlternatives(req.Start, s.alternativeLimit))
		}

		if err := s.appts.Create(lockCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := s.calendars.Save(lockCtx, cal); err != nil {
			return fmt.Errorf("save calendar: %w", err)
		}

		position, wait, err := s.queues.EstimateForNewEntry(lockCtx, req.DoctorID, req.Day)
		if err != nil {
			s.log.Warn().Err(err).Msg("estimate queue position")
			position, wait = 0, 0
		}
		appt.EstimatedWait = wait

		result = &BookingResult{Appointment: appt, QueuePosition: position, EstimatedWait: wait}

		s.logEvent(lockCtx, appt.ID, notify.EventAppointmentBooked, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": req.PatientID.String(),
			"date":       req.Day.String(),
			"start":      req.Start.String(),
			"emergency":  req.IsEmergency,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.Event{
		Type:          notify.EventAppointmentBooked,
		AppointmentID: result.Appointment.ID,
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		Payload: map[string]any{
			"date":  req.Day.String(),
			"start": req.Start.String(),
		},
		At: time.Now(),
	})

	return result, nil
}

// StatusChange is a role-scoped request to move an appointment to a new
// status.
type StatusChange struct {
	To           appointment.Status
	Notes        string
	CancelReason string

	// DoctorID, when supplied by the request body, is cross-checked against
	// the appointment before the transition is considered.
	DoctorID *uuid.UUID
}

// UpdateStatus runs one lifecycle transition: authorization first, then
// legality per the role-scoped table, then the per-target side effects.
// Re-applying the current status is a no-op that still succeeds.
func (s *Service) UpdateStatus(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, change StatusChange) (*appointment.Appointment, error) {
	appt, err := s.appts.Get(ctx, apptID)
	if err != nil {
		return nil, err
	}

	if change.DoctorID != nil && *change.DoctorID != appt.DoctorID {
		return nil, ErrNotAuthorized
	}
	if !appt.Participant(actor) {
		return nil, ErrNotAuthorized
	}

	if appt.Status == change.To {
		return appt, nil // idempotent re-application
	}

	if !appointment.CanTransition(actor.Role, appt.Status, change.To) {
		return nil, &TransitionError{Role: actor.Role, From: appt.Status, To: change.To}
	}

	var oldStatus appointment.Status
	applied := false
	now := time.Now()

	err = s.locker.WithCalendarLock(ctx, appt.DoctorID, []calendar.Date{appt.Day}, func(lockCtx context.Context) error {
		// The pre-lock read is only good enough to pick the lock key. A
		// concurrent transition may have landed since, so legality is
		// re-checked against a fresh read inside the critical section.
		fresh, err := s.appts.Get(lockCtx, apptID)
		if err != nil {
			return err
		}
		appt = fresh

		if appt.Status == change.To {
			return nil
		}
		if !appointment.CanTransition(actor.Role, appt.Status, change.To) {
			return &TransitionError{Role: actor.Role, From: appt.Status, To: change.To}
		}
		oldStatus = appt.Status

		if err := s.applyTransitionEffects(lockCtx, appt, actor, change, now); err != nil {
			return err
		}

		appt.Record(change.To, actor, change.Notes, now)

		if err := s.appts.Update(lockCtx, appt, oldStatus); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return appt, nil
	}

	s.resyncQueue(ctx, appt)

	s.logEvent(ctx, appt.ID, notify.EventStatusChanged, map[string]any{
		"from":  string(oldStatus),
		"to":    string(change.To),
		"actor": string(actor.Role),
	})
	s.emit(ctx, notify.Event{
		Type:          notify.EventStatusChanged,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Payload: map[string]any{
			"from":  string(oldStatus),
			"to":    string(change.To),
			"actor": string(actor.Role),
		},
		At: now,
	})

	return appt, nil
}

// applyTransitionEffects runs the slot and stamping side effects for the
// target status. Queue effects that only touch derived state are deferred to
// the post-transition resync.
func (s *Service) applyTransitionEffects(ctx context.Context, appt *appointment.Appointment, actor appointment.Actor, change StatusChange, now time.Time) error {
	switch change.To {
	case appointment.StatusConfirmed:
		// Reserve if not already held; covers doctor-approved bookings and
		// reschedule approvals alike.
		cal, err := s.calendars.Get(ctx, appt.DoctorID, appt.Day)
		if err != nil {
			return fmt.Errorf("load calendar: %w", err)
		}
		if err := cal.Reserve(appt.Start, appt.ID, appt.PatientID); err != nil {
			return conflict(err, cal.FindAlternatives(appt.Start, s.alternativeLimit))
		}
		if err := s.calendars.Save(ctx, cal); err != nil {
			return fmt.Errorf("save calendar: %w", err)
		}

	case appointment.StatusCancelled, appointment.StatusRejected:
		if err := s.releaseSlot(ctx, appt); err != nil {
			return err
		}
		if change.To == appointment.StatusCancelled {
			appt.CancelledBy = actor.Role
			appt.CancelReason = change.CancelReason
		}

	case appointment.StatusInProgress:
		started := now
		appt.StartedAt = &started

	case appointment.StatusCompleted:
		// The end stamp requires a start stamp; completing straight from
		// confirmed leaves both unset.
		if appt.StartedAt != nil {
			finished := now
			appt.FinishedAt = &finished
		}
	}
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, appt *appointment.Appointment) error {
	cal, err := s.calendars.Get(ctx, appt.DoctorID, appt.Day)
	if err != nil {
		if errors.Is(err, calendar.ErrCalendarNotFound) {
			return nil // nothing to free
		}
		return fmt.Errorf("load calendar: %w", err)
	}
	if err := cal.Release(appt.Start); err != nil && !errors.Is(err, calendar.ErrSlotNotFound) {
		return fmt.Errorf("release slot: %w", err)
	}
	if err := s.calendars.Save(ctx, cal); err != nil {
		return fmt.Errorf("save calendar: %w", err)
	}
	return nil
}

// resyncQueue reconciles the day's queue after a lifecycle event. The queue
// is derived state: failures are logged, never surfaced to the caller.
func (s *Service) resyncQueue(ctx context.Context, appt *appointment.Appointment) {
	day := appt.Day
	if !day.Equal(calendar.Today()) {
		return
	}

	switch appt.Status {
	case appointment.StatusCancelled, appointment.StatusRejected:
		if err := s.queues.RemoveEntry(ctx, appt.DoctorID, day, appt.ID); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("remove queue entry")
		}
		return
	case appointment.StatusPendingReschedule, appointment.StatusPendingPatientConfirmation:
		// A negotiating appointment is neither confirmed nor in progress, so
		// it leaves the queue until the negotiation lands it back on confirmed.
		if err := s.queues.RemoveEntry(ctx, appt.DoctorID, day, appt.ID); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("remove negotiating queue entry")
		}
		return
	case appointment.StatusInProgress:
		if _, err := s.queues.SetEntryStatus(ctx, appt.DoctorID, day, appt.ID, queue.EntryInProgress); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark queue entry in progress")
		}
		return
	case appointment.StatusCompleted:
		if _, err := s.queues.SetEntryStatus(ctx, appt.DoctorID, day, appt.ID, queue.EntryCompleted); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark queue entry completed")
		}
		return
	case appointment.StatusNoShow:
		if _, err := s.queues.SetEntryStatus(ctx, appt.DoctorID, day, appt.ID, queue.EntryNoShow); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("mark queue entry no-show")
		}
		return
	}

	appts, err := s.appts.ListForDay(ctx, appt.DoctorID, day, appointment.StatusConfirmed, appointment.StatusInProgress)
	if err != nil {
		s.log.Warn().Err(err).Str("doctor_id", appt.DoctorID.String()).Msg("list appointments for queue sync")
		return
	}
	if _, err := s.queues.Sync(ctx, appt.DoctorID, day, appts); err != nil {
		s.log.Warn().Err(err).Str("doctor_id", appt.DoctorID.String()).Msg("sync queue")
	}
}

// dropQueueEntry clears the entry an appointment left behind on a day it no
// longer belongs to, after a reschedule moved it. Derived state, non-fatal.
func (s *Service) dropQueueEntry(ctx context.Context, doctorID uuid.UUID, day calendar.Date, apptID uuid.UUID) {
	if !day.Equal(calendar.Today()) {
		return
	}
	if err := s.queues.RemoveEntry(ctx, doctorID, day, apptID); err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
		s.log.Warn().Err(err).Str("appointment_id", apptID.String()).Msg("drop stale queue entry")
	}
}

// GetAppointment returns one appointment visible to a participant.
func (s *Service) GetAppointment(ctx context.Context, apptID uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error) {
	appt, err := s.appts.Get(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if !appt.Participant(actor) {
		return nil, ErrNotAuthorized
	}
	return appt, nil
}

// SlotView is one annotated calendar slot for the day listing.
type SlotView struct {
	Start         calendar.ClockTime `json:"startTime"`
	End           calendar.ClockTime `json:"endTime"`
	Type          calendar.SlotType  `json:"type"`
	State         string             `json:"state"` // AVAILABLE | BOOKED | BREAK
	EstimatedWait *int               `json:"estimatedWaitTime,omitempty"`
}

// DoctorSlots lists a doctor's slots for one date with their booking state
// and, for open slots, the wait estimate a new booking would see.
func (s *Service) DoctorSlots(ctx context.Context, doctorID uuid.UUID, day calendar.Date) ([]SlotView, error) {
	cal, err := s.calendars.Get(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	_, wait, err := s.queues.EstimateForNewEntry(ctx, doctorID, day)
	if err != nil {
		s.log.Warn().Err(err).Msg("estimate wait for slot listing")
		wait = 0
	}

	views := make([]SlotView, 0, len(cal.Slots))
	for _, slot := range cal.Slots {
		v := SlotView{Start: slot.Start, End: slot.End, Type: slot.Type}
		switch {
		case slot.IsBreak:
			v.State = "BREAK"
		case slot.IsBooked:
			v.State = "BOOKED"
		default:
			v.State = "AVAILABLE"
			w := wait
			v.EstimatedWait = &w
		}
		views = append(views, v)
	}
	return views, nil
}

// CalendarUpdate sets a doctor's day: hours, optional emergency hours, breaks
// and availability. Slots are regenerated, surviving bookings carried over.
type CalendarUpdate struct {
	RegularHours   calendar.HoursRange
	EmergencyHours *calendar.HoursRange
	Breaks         []calendar.HoursRange
	SlotMinutes    int
	Unavailable    bool
}

func (s *Service) UpsertCalendar(ctx context.Context, doctorID uuid.UUID, day calendar.Date, update CalendarUpdate) (*calendar.DayCalendar, error) {
	if doctorID == uuid.Nil {
		return nil, validationf("doctorId is required")
	}
	if day.IsZero() {
		return nil, validationf("date is required")
	}

	var saved *calendar.DayCalendar

	err := s.locker.WithCalendarLock(ctx, doctorID, []calendar.Date{day}, func(lockCtx context.Context) error {
		cal, err := s.calendars.Get(lockCtx, doctorID, day)
		if err != nil {
			if !errors.Is(err, calendar.ErrCalendarNotFound) {
				return fmt.Errorf("load calendar: %w", err)
			}
			cal = &calendar.DayCalendar{DoctorID: doctorID, Day: day}
		}

		cal.RegularHours = update.RegularHours
		cal.EmergencyHours = update.EmergencyHours
		cal.Breaks = update.Breaks
		cal.Unavailable = update.Unavailable
		if update.SlotMinutes > 0 {
			cal.SlotMinutes = update.SlotMinutes
		} else {
			cal.SlotMinutes = s.slotMinutes
		}

		if err := cal.Validate(); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
		cal.Regenerate()

		if err := s.calendars.Save(lockCtx, cal); err != nil {
			return fmt.Errorf("save calendar: %w", err)
		}
		saved = cal
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// logEvent writes the durable audit row. Failures are logged and swallowed;
// an audit miss never rolls back a scheduling transaction.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.appts.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("insert event log")
	}
}

func (s *Service) emit(ctx context.Context, ev notify.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, ev)
}
