package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type SlotType string

const (
	SlotRegular   SlotType = "regular"
	SlotEmergency SlotType = "emergency"
)

const DefaultSlotMinutes = 30

// TimeSlot is one bookable interval inside a doctor's day. A booked slot
// carries the appointment and patient it is bound to; a break slot keeps any
// booking fields it had before the break was applied.
type TimeSlot struct {
	Start         ClockTime  `json:"startTime"`
	End           ClockTime  `json:"endTime"`
	Type          SlotType   `json:"type"`
	IsBooked      bool       `json:"isBooked"`
	IsBreak       bool       `json:"isBreak"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	PatientID     *uuid.UUID `json:"patientId,omitempty"`
}

// HoursRange is a half-open [Start, End) window within one day.
type HoursRange struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

func (h HoursRange) Contains(start, end ClockTime) bool {
	return start >= h.Start && end <= h.End
}

func (h HoursRange) Overlaps(o HoursRange) bool {
	return h.Start < o.End && o.Start < h.End
}

var (
	ErrInvalidHours       = errors.New("working hours end must be after start")
	ErrBreakOutsideHours  = errors.New("break window falls outside working hours")
	ErrOverlappingBreaks  = errors.New("break windows overlap")
	ErrSlotNotFound       = errors.New("no slot at the requested time")
)

// DayCalendar is one doctor's bookable day: working hours, optional emergency
// hours, break windows and the generated fixed-duration slots. It is the unit
// of serialized access; all mutation happens under the per-(doctor,date) lock.
type DayCalendar struct {
	DoctorID       uuid.UUID   `json:"doctorId"`
	Day            Date        `json:"date"`
	Unavailable    bool        `json:"unavailable"`
	RegularHours   HoursRange  `json:"regularHours"`
	EmergencyHours *HoursRange `json:"emergencyHours,omitempty"`
	Breaks         []HoursRange `json:"breaks,omitempty"`
	SlotMinutes    int         `json:"slotMinutes"`
	Slots          []TimeSlot  `json:"timeSlots"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func NewDayCalendar(doctorID uuid.UUID, day Date, regular HoursRange) (*DayCalendar, error) {
	c := &DayCalendar{
		DoctorID:     doctorID,
		Day:          day,
		RegularHours: regular,
		SlotMinutes:  DefaultSlotMinutes,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Regenerate()
	return c, nil
}

func (c *DayCalendar) Validate() error {
	if c.SlotMinutes <= 0 {
		c.SlotMinutes = DefaultSlotMinutes
	}
	if c.RegularHours.End <= c.RegularHours.Start {
		return ErrInvalidHours
	}
	if eh := c.EmergencyHours; eh != nil && eh.End <= eh.Start {
		return ErrInvalidHours
	}
	for i, b := range c.Breaks {
		if b.End <= b.Start {
			return fmt.Errorf("break %s-%s: %w", b.Start, b.End, ErrInvalidHours)
		}
		if !c.withinAnyHours(b) {
			return fmt.Errorf("break %s-%s: %w", b.Start, b.End, ErrBreakOutsideHours)
		}
		for _, other := range c.Breaks[i+1:] {
			if b.Overlaps(other) {
				return fmt.Errorf("break %s-%s: %w", b.Start, b.End, ErrOverlappingBreaks)
			}
		}
	}
	return nil
}

func (c *DayCalendar) withinAnyHours(w HoursRange) bool {
	if c.RegularHours.Contains(w.Start, w.End) {
		return true
	}
	return c.EmergencyHours != nil && c.EmergencyHours.Contains(w.Start, w.End)
}

// Regenerate rebuilds the slot list from the configured hours, carrying over
// bookings whose slot tuple still exists afterwards, then re-applies breaks.
func (c *DayCalendar) Regenerate() {
	carried := make(map[ClockTime]TimeSlot, len(c.Slots))
	for _, s := range c.Slots {
		if s.IsBooked {
			carried[s.Start] = s
		}
	}

	slots := chunkHours(c.RegularHours, c.SlotMinutes, SlotRegular)
	if c.EmergencyHours != nil {
		slots = append(slots, chunkHours(*c.EmergencyHours, c.SlotMinutes, SlotEmergency)...)
	}
	sortSlots(slots)

	for i := range slots {
		if old, ok := carried[slots[i].Start]; ok && old.End == slots[i].End {
			slots[i].IsBooked = true
			slots[i].AppointmentID = old.AppointmentID
			slots[i].PatientID = old.PatientID
		}
	}

	c.Slots = slots
	c.applyBreaks()
}

// chunkHours expands a window into contiguous fixed-duration slots. The final
// partial chunk, if any, is dropped.
func chunkHours(h HoursRange, minutes int, typ SlotType) []TimeSlot {
	var out []TimeSlot
	for s := h.Start; s.Add(minutes) <= h.End; s = s.Add(minutes) {
		out = append(out, TimeSlot{
			Start: s,
			End:   s.Add(minutes),
			Type:  typ,
		})
	}
	return out
}

func sortSlots(slots []TimeSlot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
}

// applyBreaks flags every slot fully contained in a break window. Booking
// fields are left alone so a slot can keep its history after becoming a break.
func (c *DayCalendar) applyBreaks() {
	for i := range c.Slots {
		c.Slots[i].IsBreak = false
		for _, b := range c.Breaks {
			if b.Contains(c.Slots[i].Start, c.Slots[i].End) {
				c.Slots[i].IsBreak = true
				break
			}
		}
	}
}

// SetBreaks replaces the break windows and re-derives the slot flags.
func (c *DayCalendar) SetBreaks(breaks []HoursRange) error {
	prev := c.Breaks
	c.Breaks = breaks
	if err := c.Validate(); err != nil {
		c.Breaks = prev
		return err
	}
	c.applyBreaks()
	return nil
}

func (c *DayCalendar) slotAt(start, end ClockTime) *TimeSlot {
	for i := range c.Slots {
		if c.Slots[i].Start == start && c.Slots[i].End == end {
			return &c.Slots[i]
		}
	}
	return nil
}

func (c *DayCalendar) slotStarting(start ClockTime) *TimeSlot {
	for i := range c.Slots {
		if c.Slots[i].Start == start {
			return &c.Slots[i]
		}
	}
	return nil
}
