package calendar

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Conflict reasons surfaced by availability checks. The scheduling layer maps
// these onto its conflict taxonomy; they are stable wire values.
var (
	ErrDoctorUnavailable     = errors.New("doctor is not available on this date")
	ErrOutsideHours          = errors.New("requested time is outside working hours")
	ErrAlreadyBooked         = errors.New("slot is already booked")
	ErrDoctorBreak           = errors.New("requested time falls in a break")
	ErrEmergencySlotRequired = errors.New("emergency bookings require an emergency slot")
)

// CheckAvailability reports whether the [start, end) slot can take a new
// booking. Emergency bookings are only admitted on emergency-typed slots.
func (c *DayCalendar) CheckAvailability(start, end ClockTime, emergency bool) (SlotType, error) {
	if c.Unavailable {
		return "", ErrDoctorUnavailable
	}
	slot := c.slotAt(start, end)
	if slot == nil {
		return "", ErrOutsideHours
	}
	if emergency && slot.Type != SlotEmergency {
		return slot.Type, ErrEmergencySlotRequired
	}
	if slot.IsBreak {
		return slot.Type, ErrDoctorBreak
	}
	if slot.IsBooked {
		return slot.Type, ErrAlreadyBooked
	}
	return slot.Type, nil
}

// FindAlternatives returns up to limit open, non-break slots ordered by
// absolute minute distance from the preferred start, ties broken by the
// earlier start time.
func (c *DayCalendar) FindAlternatives(preferred ClockTime, limit int) []TimeSlot {
	if limit <= 0 {
		limit = 3
	}
	var open []TimeSlot
	for _, s := range c.Slots {
		if !s.IsBooked && !s.IsBreak {
			open = append(open, s)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		di, dj := open[i].Start.MinutesFrom(preferred), open[j].Start.MinutesFrom(preferred)
		if di != dj {
			return di < dj
		}
		return open[i].Start < open[j].Start
	})
	if len(open) > limit {
		open = open[:limit]
	}
	return open
}

// Reserve books the slot starting at start for the given appointment. It is a
// conditional write: it fails if the slot is gone, a break, or already booked,
// so a stale availability check can never double-book under the calendar lock.
func (c *DayCalendar) Reserve(start ClockTime, appointmentID, patientID uuid.UUID) error {
	slot := c.slotStarting(start)
	if slot == nil {
		return ErrSlotNotFound
	}
	if slot.IsBreak {
		return ErrDoctorBreak
	}
	if slot.IsBooked {
		if slot.AppointmentID != nil && *slot.AppointmentID == appointmentID {
			return nil // already held by this appointment
		}
		return ErrAlreadyBooked
	}
	apptID, patID := appointmentID, patientID
	slot.IsBooked = true
	slot.AppointmentID = &apptID
	slot.PatientID = &patID
	return nil
}

// Release clears the booking on the slot starting at start, whatever the
// reason for freeing it.
func (c *DayCalendar) Release(start ClockTime) error {
	slot := c.slotStarting(start)
	if slot == nil {
		return ErrSlotNotFound
	}
	slot.IsBooked = false
	slot.AppointmentID = nil
	slot.PatientID = nil
	return nil
}

// BookedSlot returns the slot currently held by the appointment, if any.
func (c *DayCalendar) BookedSlot(appointmentID uuid.UUID) *TimeSlot {
	for i := range c.Slots {
		s := &c.Slots[i]
		if s.IsBooked && s.AppointmentID != nil && *s.AppointmentID == appointmentID {
			return s
		}
	}
	return nil
}
