package queue

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

type EntryStatus string

const (
	EntryWaiting    EntryStatus = "waiting"
	EntryInProgress EntryStatus = "in-progress"
	EntryCompleted  EntryStatus = "completed"
	EntryNoShow     EntryStatus = "no-show"
)

const (
	PriorityNormal    = 0
	PriorityEmergency = 1
)

const DefaultConsultationMinutes = 15

var (
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrAnotherInProgress  = errors.New("another patient is already in progress")
	ErrInvalidEntryStatus = errors.New("invalid queue entry status")
)

// Entry is the derived queue representation of one confirmed or in-progress
// appointment for same-day visit tracking.
type Entry struct {
	AppointmentID uuid.UUID          `json:"appointmentId"`
	PatientID     uuid.UUID          `json:"patientId"`
	Scheduled     calendar.ClockTime `json:"scheduledTime"`
	Status        EntryStatus        `json:"status"`
	Priority      int                `json:"priority"`
	Number        int                `json:"queueNumber"`
	EstimatedWait int                `json:"estimatedWaitTime"`
}

// Queue is the per-(doctor,date) aggregate the entries live in. Entries are
// kept ordered by priority (emergencies first), then scheduled time.
type Queue struct {
	DoctorID     uuid.UUID `json:"doctorId"`
	Day          calendar.Date `json:"date"`
	CurrentDelay int       `json:"currentDelayMinutes"`
	Entries      []Entry   `json:"entries"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func New(doctorID uuid.UUID, day calendar.Date) *Queue {
	return &Queue{DoctorID: doctorID, Day: day}
}

func validEntryStatus(s EntryStatus) bool {
	switch s {
	case EntryWaiting, EntryInProgress, EntryCompleted, EntryNoShow:
		return true
	}
	return false
}

func (q *Queue) find(appointmentID uuid.UUID) *Entry {
	for i := range q.Entries {
		if q.Entries[i].AppointmentID == appointmentID {
			return &q.Entries[i]
		}
	}
	return nil
}

// Current returns the single in-progress entry, or nil.
func (q *Queue) Current() *Entry {
	for i := range q.Entries {
		if q.Entries[i].Status == EntryInProgress {
			return &q.Entries[i]
		}
	}
	return nil
}

// Add appends an entry for the appointment unless one already exists.
// It reports whether a new entry was created.
func (q *Queue) Add(e Entry) bool {
	if q.find(e.AppointmentID) != nil {
		return false
	}
	if e.Number == 0 {
		e.Number = q.nextNumber()
	}
	q.Entries = append(q.Entries, e)
	q.reorder()
	return true
}

func (q *Queue) nextNumber() int {
	max := 0
	for _, e := range q.Entries {
		if e.Number > max {
			max = e.Number
		}
	}
	return max + 1
}

// SetStatus moves one entry to a new status. A second in-progress entry is
// refused so the queue never shows two patients in the room at once.
func (q *Queue) SetStatus(appointmentID uuid.UUID, status EntryStatus) error {
	if !validEntryStatus(status) {
		return ErrInvalidEntryStatus
	}
	entry := q.find(appointmentID)
	if entry == nil {
		return ErrEntryNotFound
	}
	if status == EntryInProgress {
		if cur := q.Current(); cur != nil && cur.AppointmentID != appointmentID {
			return ErrAnotherInProgress
		}
	}
	entry.Status = status
	return nil
}

// Remove drops the entry for an appointment that left the queue-eligible
// statuses entirely (cancelled or rejected). Sync never removes; only the
// lifecycle machine calls this.
func (q *Queue) Remove(appointmentID uuid.UUID) bool {
	for i := range q.Entries {
		if q.Entries[i].AppointmentID == appointmentID {
			q.Entries = append(q.Entries[:i], q.Entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) reorder() {
	sort.SliceStable(q.Entries, func(i, j int) bool {
		if q.Entries[i].Priority != q.Entries[j].Priority {
			return q.Entries[i].Priority > q.Entries[j].Priority
		}
		return q.Entries[i].Scheduled < q.Entries[j].Scheduled
	})
}

// RecomputeWaits assigns each waiting entry its estimate: entries ahead of it
// in queue order times the average consultation length, plus the doctor's
// accumulated delay.
func (q *Queue) RecomputeWaits(avgConsultationMinutes int) {
	if avgConsultationMinutes <= 0 {
		avgConsultationMinutes = DefaultConsultationMinutes
	}
	ahead := 0
	for i := range q.Entries {
		if q.Entries[i].Status != EntryWaiting {
			continue
		}
		q.Entries[i].EstimatedWait = ahead*avgConsultationMinutes + q.CurrentDelay
		ahead++
	}
}

// WaitingCount is the number of entries still waiting to be seen.
func (q *Queue) WaitingCount() int {
	n := 0
	for _, e := range q.Entries {
		if e.Status == EntryWaiting {
			n++
		}
	}
	return n
}
