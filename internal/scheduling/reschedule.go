package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/notify"
)

// RescheduleRequest proposes a new slot for an existing appointment.
type RescheduleRequest struct {
	Day   calendar.Date
	Start calendar.ClockTime
	End   calendar.ClockTime
	Notes string
}

func (r RescheduleRequest) validate() error {
	if r.Day.IsZero() {
		return validationf("date is required")
	}
	if !r.Start.Valid() || !r.End.Valid() || r.End <= r.Start {
		return validationf("invalid slot times %s-%s", r.Start, r.End)
	}
	return nil
}

// Reschedule opens a negotiation. Doctor-initiated: the canonical slot moves
// immediately (old released, new reserved as one unit) and the patient must
// confirm. Patient-initiated: the proposal is parked on the appointment and
// the doctor must approve. Only one negotiation may be pending at a time.
func (s *Service) Reschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, req RescheduleRequest) (*appointment.Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	appt, err := s.appts.Get(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if !appt.Participant(actor) {
		return nil, ErrNotAuthorized
	}
	if appt.Reschedule != nil {
		return nil, ErrNegotiationInProgress
	}
	if appt.Status != appointment.StatusPending && appt.Status != appointment.StatusConfirmed {
		target := appointment.StatusPendingReschedule
		if actor.Role == appointment.RoleDoctor {
			target = appointment.StatusPendingPatientConfirmation
		}
		return nil, &TransitionError{Role: actor.Role, From: appt.Status, To: target}
	}

	now := time.Now()
	lockedDay := appt.Day
	var oldStatus appointment.Status
	oldDay := appt.Day

	err = s.locker.WithCalendarLock(ctx, appt.DoctorID, []calendar.Date{appt.Day, req.Day}, func(lockCtx context.Context) error {
		// Re-read under the lock; the negotiation guards were checked against
		// a read that may be stale by now.
		fresh, err := s.appts.Get(lockCtx, apptID)
		if err != nil {
			return err
		}
		appt = fresh
		if appt.Reschedule != nil {
			return ErrNegotiationInProgress
		}
		if appt.Status != appointment.StatusPending && appt.Status != appointment.StatusConfirmed {
			target := appointment.StatusPendingReschedule
			if actor.Role == appointment.RoleDoctor {
				target = appointment.StatusPendingPatientConfirmation
			}
			return &TransitionError{Role: actor.Role, From: appt.Status, To: target}
		}
		// The lock keys were derived from the stale read; if the canonical
		// day moved in between, this critical section holds the wrong days.
		if !appt.Day.Equal(lockedDay) {
			return appointment.ErrAppointmentModified
		}
		oldStatus = appt.Status
		oldDay = appt.Day

		targetCal, err := s.calendars.Get(lockCtx, appt.DoctorID, req.Day)
		if err != nil {
			if errors.Is(err, calendar.ErrCalendarNotFound) {
				return conflict(calendar.ErrDoctorUnavailable, nil)
			}
			return fmt.Errorf("load target calendar: %w", err)
		}

		if _, err := targetCal.CheckAvailability(req.Start, req.End, appt.IsEmergency); err != nil {
			if errors.Is(err, calendar.ErrEmergencySlotRequired) {
				return conflict(err, nil)
			}
			return conflict(err, targetCal.FindAlternatives(req.Start, s.alternativeLimit))
		}

		proposal := &appointment.RescheduleRequest{
			ProposedBy: actor.Role,
			Day:        req.Day,
			Start:      req.Start,
			End:        req.End,
			Notes:      req.Notes,
			At:         now,
		}

		if actor.Role == appointment.RoleDoctor {
			// Canonical slot moves now; the release and reserve land in one
			// store transaction.
			if err := s.swapSlots(lockCtx, appt, targetCal, req.Day, req.Start); err != nil {
				return err
			}
			appt.Day = req.Day
			appt.Start = req.Start
			appt.End = req.End
			appt.Reschedule = proposal
			appt.Record(appointment.StatusPendingPatientConfirmation, actor, req.Notes, now)
		} else {
			// Canonical slot untouched until the doctor approves.
			appt.Reschedule = proposal
			appt.Record(appointment.StatusPendingReschedule, actor, req.Notes, now)
		}

		if err := s.appts.Update(lockCtx, appt, oldStatus); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !oldDay.Equal(appt.Day) {
		s.dropQueueEntry(ctx, appt.DoctorID, oldDay, appt.ID)
	}
	s.resyncQueue(ctx, appt)

	s.logEvent(ctx, appt.ID, notify.EventRescheduleProposed, map[string]any{
		"proposed_by": string(actor.Role),
		"from_status": string(oldStatus),
		"date":        req.Day.String(),
		"start":       req.Start.String(),
	})
	s.emit(ctx, notify.Event{
		Type:          notify.EventRescheduleProposed,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Payload: map[string]any{
			"proposed_by": string(actor.Role),
			"date":        req.Day.String(),
			"start":       req.Start.String(),
		},
		At: now,
	})

	return appt, nil
}

// swapSlots releases the appointment's current slot and reserves the new one,
// persisting both calendars in a single unit of work. Neither side may be
// observable without the other.
func (s *Service) swapSlots(ctx context.Context, appt *appointment.Appointment, targetCal *calendar.DayCalendar, newDay calendar.Date, newStart calendar.ClockTime) error {
	sameDay := appt.Day.Equal(newDay)

	oldCal := targetCal
	if !sameDay {
		var err error
		oldCal, err = s.calendars.Get(ctx, appt.DoctorID, appt.Day)
		if err != nil && !errors.Is(err, calendar.ErrCalendarNotFound) {
			return fmt.Errorf("load current calendar: %w", err)
		}
	}

	if oldCal != nil {
		if err := oldCal.Release(appt.Start); err != nil && !errors.Is(err, calendar.ErrSlotNotFound) {
			return fmt.Errorf("release old slot: %w", err)
		}
	}
	if err := targetCal.Reserve(newStart, appt.ID, appt.PatientID); err != nil {
		return conflict(err, targetCal.FindAlternatives(newStart, s.alternativeLimit))
	}

	if sameDay || oldCal == nil {
		if err := s.calendars.Save(ctx, targetCal); err != nil {
			return fmt.Errorf("save calendar: %w", err)
		}
		return nil
	}
	if err := s.calendars.SaveAll(ctx, oldCal, targetCal); err != nil {
		return fmt.Errorf("save calendars: %w", err)
	}
	return nil
}

// ConfirmReschedule is the patient's answer to a doctor-initiated move:
// accept lands on confirmed; reject cancels the appointment and frees the new
// slot (the old one was already vacated by the doctor).
func (s *Service) ConfirmReschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, accept bool, notes string) (*appointment.Appointment, error) {
	appt, err := s.appts.Get(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if actor.Role != appointment.RolePatient || !appt.Participant(actor) {
		return nil, ErrNotAuthorized
	}
	if appt.Status != appointment.StatusPendingPatientConfirmation || appt.Reschedule == nil {
		return nil, ErrNoNegotiation
	}

	now := time.Now()
	lockedDay := appt.Day

	err = s.locker.WithCalendarLock(ctx, appt.DoctorID, []calendar.Date{appt.Day}, func(lockCtx context.Context) error {
		fresh, err := s.appts.Get(lockCtx, apptID)
		if err != nil {
			return err
		}
		appt = fresh
		if appt.Status != appointment.StatusPendingPatientConfirmation || appt.Reschedule == nil {
			return ErrNoNegotiation
		}
		if !appt.Day.Equal(lockedDay) {
			return appointment.ErrAppointmentModified
		}

		if accept {
			appt.Reschedule = nil
			appt.Record(appointment.StatusConfirmed, actor, notes, now)
		} else {
			if err := s.releaseSlot(lockCtx, appt); err != nil {
				return err
			}
			appt.Reschedule = nil
			appt.CancelledBy = appointment.RolePatient
			appt.CancelReason = notes
			if appt.CancelReason == "" {
				appt.CancelReason = "reschedule declined"
			}
			appt.Record(appointment.StatusCancelled, actor, notes, now)
		}

		if err := s.appts.Update(lockCtx, appt, appointment.StatusPendingPatientConfirmation); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resyncQueue(ctx, appt)
	s.finishNegotiation(ctx, appt, actor, accept)

	return appt, nil
}

// RespondReschedule is the doctor's answer to a patient-initiated proposal:
// approve applies the proposal and swaps the slots; reject restores confirmed
// with the canonical slot untouched. Both resolutions clear the proposal.
func (s *Service) RespondReschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, approve bool, notes string) (*appointment.Appointment, error) {
	appt, err := s.appts.Get(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if actor.Role != appointment.RoleDoctor || !appt.Participant(actor) {
		return nil, ErrNotAuthorized
	}
	if appt.Status != appointment.StatusPendingReschedule || appt.Reschedule == nil {
		return nil, ErrNoNegotiation
	}

	proposal := *appt.Reschedule
	now := time.Now()
	lockedDay := appt.Day
	oldDay := appt.Day

	err = s.locker.WithCalendarLock(ctx, appt.DoctorID, []calendar.Date{appt.Day, proposal.Day}, func(lockCtx context.Context) error {
		fresh, err := s.appts.Get(lockCtx, apptID)
		if err != nil {
			return err
		}
		appt = fresh
		if appt.Status != appointment.StatusPendingReschedule || appt.Reschedule == nil {
			return ErrNoNegotiation
		}
		if !appt.Day.Equal(lockedDay) || !appt.Reschedule.Day.Equal(proposal.Day) {
			return appointment.ErrAppointmentModified
		}
		proposal = *appt.Reschedule
		oldDay = appt.Day

		if approve {
			targetCal, err := s.calendars.Get(lockCtx, appt.DoctorID, proposal.Day)
			if err != nil {
				if errors.Is(err, calendar.ErrCalendarNotFound) {
					return conflict(calendar.ErrDoctorUnavailable, nil)
				}
				return fmt.Errorf("load target calendar: %w", err)
			}

			// The proposed slot may have been taken since the patient asked.
			if _, err := targetCal.CheckAvailability(proposal.Start, proposal.End, appt.IsEmergency); err != nil {
				return conflict(err, targetCal.FindAlternatives(proposal.Start, s.alternativeLimit))
			}

			if err := s.swapSlots(lockCtx, appt, targetCal, proposal.Day, proposal.Start); err != nil {
				return err
			}
			appt.Day = proposal.Day
			appt.Start = proposal.Start
			appt.End = proposal.End
		}

		appt.Reschedule = nil
		appt.Record(appointment.StatusConfirmed, actor, notes, now)

		if err := s.appts.Update(lockCtx, appt, appointment.StatusPendingReschedule); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !oldDay.Equal(appt.Day) {
		s.dropQueueEntry(ctx, appt.DoctorID, oldDay, appt.ID)
	}
	s.resyncQueue(ctx, appt)
	s.finishNegotiation(ctx, appt, actor, approve)

	return appt, nil
}

func (s *Service) finishNegotiation(ctx context.Context, appt *appointment.Appointment, actor appointment.Actor, accepted bool) {
	s.logEvent(ctx, appt.ID, notify.EventRescheduleResolved, map[string]any{
		"resolved_by": string(actor.Role),
		"accepted":    accepted,
		"status":      string(appt.Status),
	})
	s.emit(ctx, notify.Event{
		Type:          notify.EventRescheduleResolved,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Payload: map[string]any{
			"resolved_by": string(actor.Role),
			"accepted":    accepted,
			"status":      string(appt.Status),
			"date":        appt.Day.String(),
			"start":       appt.Start.String(),
		},
		At: time.Now(),
	})
}
