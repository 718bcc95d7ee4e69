package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/notify"
	"github.com/carebridge/clinic-scheduling/internal/queue"
)

// The fakes below stand in for Postgres and Redis. They clone on every read
// and write so a failed operation can never leak partial mutations into the
// store, which is exactly the property the real transaction gives us.

func jsonClone[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return out
}

type memCalendars struct {
	mu   sync.Mutex
	cals map[string]*calendar.DayCalendar

	saveAllCalls int
}

func newMemCalendars() *memCalendars {
	return &memCalendars{cals: map[string]*calendar.DayCalendar{}}
}

func calKey(doctorID uuid.UUID, day calendar.Date) string {
	return fmt.Sprintf("%s:%s", doctorID, day)
}

func (s *memCalendars) Get(_ context.Context, doctorID uuid.UUID, day calendar.Date) (*calendar.DayCalendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, ok := s.cals[calKey(doctorID, day)]
	if !ok {
		return nil, calendar.ErrCalendarNotFound
	}
	return jsonClone(cal), nil
}

func (s *memCalendars) Save(_ context.Context, cal *calendar.DayCalendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cals[calKey(cal.DoctorID, cal.Day)] = jsonClone(cal)
	return nil
}

func (s *memCalendars) SaveAll(_ context.Context, cals ...*calendar.DayCalendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveAllCalls++
	for _, cal := range cals {
		s.cals[calKey(cal.DoctorID, cal.Day)] = jsonClone(cal)
	}
	return nil
}

type memAppts struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*appointment.Appointment
	events []appointment.EventLog
}

func newMemAppts() *memAppts {
	return &memAppts{appts: map[uuid.UUID]*appointment.Appointment{}}
}

func (r *memAppts) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return jsonClone(appt), nil
}

func (r *memAppts) Create(_ context.Context, appt *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[appt.ID] = jsonClone(appt)
	return nil
}

func (r *memAppts) Update(_ context.Context, appt *appointment.Appointment, expected appointment.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.appts[appt.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	if stored.Status != expected {
		return appointment.ErrAppointmentModified
	}
	r.appts[appt.ID] = jsonClone(appt)
	return nil
}

func (r *memAppts) ListForDay(_ context.Context, doctorID uuid.UUID, day calendar.Date, statuses ...appointment.Status) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.Appointment
	for _, appt := range r.appts {
		if appt.DoctorID != doctorID || !appt.Day.Equal(day) {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if appt.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *jsonClone(appt))
	}
	return out, nil
}

func (r *memAppts) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type memQueues struct {
	mu     sync.Mutex
	queues map[string]*queue.Queue
}

func newMemQueues() *memQueues {
	return &memQueues{queues: map[string]*queue.Queue{}}
}

func (r *memQueues) Get(_ context.Context, doctorID uuid.UUID, day calendar.Date) (*queue.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[calKey(doctorID, day)]
	if !ok {
		return nil, queue.ErrQueueNotFound
	}
	return jsonClone(q), nil
}

func (r *memQueues) Save(_ context.Context, q *queue.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[calKey(q.DoctorID, q.Day)] = jsonClone(q)
	return nil
}

// memLocker serializes callbacks with a plain mutex, standing in for the
// Redis lock. onAcquire, when set, fires once right after the lock is taken
// and before the critical section runs, so a test can slip a competing write
// into the window between a caller's stale read and its locked section.
type memLocker struct {
	mu        sync.Mutex
	calls     int
	onAcquire func()
}

func (l *memLocker) WithCalendarLock(ctx context.Context, _ uuid.UUID, _ []calendar.Date, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if hook := l.onAcquire; hook != nil {
		l.onAcquire = nil
		hook()
	}
	return fn(ctx)
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Publish(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *captureNotifier) byType(eventType string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	cals     *memCalendars
	appts    *memAppts
	notifier *captureNotifier
	locker   *memLocker
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cals:     newMemCalendars(),
		appts:    newMemAppts(),
		notifier: &captureNotifier{},
		locker:   &memLocker{},
	}
	queues := queue.NewManager(newMemQueues(), 15)
	f.svc = NewService(f.cals, f.appts, queues, f.locker, f.notifier, zerolog.Nop(), calendar.DefaultSlotMinutes)
	return f
}

func clk(t *testing.T, s string) calendar.ClockTime {
	t.Helper()
	c, err := calendar.ParseClock(s)
	if err != nil {
		t.Fatalf("parse clock %q: %v", s, err)
	}
	return c
}

// seedCalendar stores a 09:00-17:00 day for the doctor and returns it.
func (f *fixture) seedCalendar(t *testing.T, doctorID uuid.UUID, day calendar.Date) *calendar.DayCalendar {
	t.Helper()
	cal, err := calendar.NewDayCalendar(doctorID, day, calendar.HoursRange{
		Start: clk(t, "09:00"),
		End:   clk(t, "17:00"),
	})
	if err != nil {
		t.Fatalf("new calendar: %v", err)
	}
	if err := f.cals.Save(context.Background(), cal); err != nil {
		t.Fatalf("save calendar: %v", err)
	}
	return cal
}

// storedCalendar reads the persisted calendar back, bypassing the service.
func (f *fixture) storedCalendar(t *testing.T, doctorID uuid.UUID, day calendar.Date) *calendar.DayCalendar {
	t.Helper()
	cal, err := f.cals.Get(context.Background(), doctorID, day)
	if err != nil {
		t.Fatalf("load stored calendar: %v", err)
	}
	return cal
}

func (f *fixture) storedAppointment(t *testing.T, id uuid.UUID) *appointment.Appointment {
	t.Helper()
	appt, err := f.appts.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load stored appointment: %v", err)
	}
	return appt
}

// book creates a pending appointment through the service.
func (f *fixture) book(t *testing.T, doctorID, patientID uuid.UUID, day calendar.Date, start string) *appointment.Appointment {
	t.Helper()
	res, err := f.svc.Book(context.Background(), BookRequest{
		DoctorID:  doctorID,
		PatientID: patientID,
		Day:       day,
		Start:     clk(t, start),
		End:       clk(t, start).Add(30),
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return res.Appointment
}

// confirmed books and doctor-confirms in one step.
func (f *fixture) confirmed(t *testing.T, doctorID, patientID uuid.UUID, day calendar.Date, start string) *appointment.Appointment {
	t.Helper()
	appt := f.book(t, doctorID, patientID, day, start)
	out, err := f.svc.UpdateStatus(context.Background(), appt.ID, appointment.Actor{ID: doctorID, Role: appointment.RoleDoctor}, StatusChange{To: appointment.StatusConfirmed})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return out
}
