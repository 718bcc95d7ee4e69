package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

func clock(t *testing.T, s string) calendar.ClockTime {
	t.Helper()
	c, err := calendar.ParseClock(s)
	if err != nil {
		t.Fatalf("parse clock %q: %v", s, err)
	}
	return c
}

func entry(t *testing.T, scheduled string, priority int) Entry {
	t.Helper()
	return Entry{
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		Scheduled:     clock(t, scheduled),
		Status:        EntryWaiting,
		Priority:      priority,
	}
}

func TestQueueOrdering(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	late := entry(t, "11:00", PriorityNormal)
	early := entry(t, "09:00", PriorityNormal)
	emergency := entry(t, "10:30", PriorityEmergency)

	q.Add(late)
	q.Add(early)
	q.Add(emergency)

	want := []uuid.UUID{emergency.AppointmentID, early.AppointmentID, late.AppointmentID}
	for i, id := range want {
		if q.Entries[i].AppointmentID != id {
			t.Fatalf("position %d: wrong entry, order is not priority desc then scheduled asc", i)
		}
	}
}

func TestQueueAdd(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	e := entry(t, "09:00", PriorityNormal)

	if !q.Add(e) {
		t.Fatal("first add should create an entry")
	}
	if q.Add(e) {
		t.Fatal("second add of same appointment should be a no-op")
	}
	if len(q.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(q.Entries))
	}
	if q.Entries[0].Number != 1 {
		t.Errorf("first entry should get number 1, got %d", q.Entries[0].Number)
	}

	// Numbers keep counting up even when an earlier-scheduled entry arrives
	// later; the number is the arrival token, not the position.
	second := entry(t, "08:00", PriorityNormal)
	q.Add(second)
	if got := q.find(second.AppointmentID).Number; got != 2 {
		t.Errorf("second arrival should get number 2, got %d", got)
	}
	if q.Entries[0].AppointmentID != second.AppointmentID {
		t.Error("earlier-scheduled entry should sort first regardless of number")
	}
}

func TestRecomputeWaits(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	first := entry(t, "09:00", PriorityNormal)
	second := entry(t, "09:30", PriorityNormal)
	third := entry(t, "10:00", PriorityNormal)
	q.Add(first)
	q.Add(second)
	q.Add(third)
	q.CurrentDelay = 10

	q.RecomputeWaits(15)

	wants := map[uuid.UUID]int{
		first.AppointmentID:  10, // 0*15 + 10
		second.AppointmentID: 25, // 1*15 + 10
		third.AppointmentID:  40, // 2*15 + 10
	}
	for id, want := range wants {
		if got := q.find(id).EstimatedWait; got != want {
			t.Errorf("entry %s: wait %d, want %d", id, got, want)
		}
	}
}

func TestRecomputeWaits_SkipsNonWaiting(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	inRoom := entry(t, "09:00", PriorityNormal)
	waiting := entry(t, "09:30", PriorityNormal)
	q.Add(inRoom)
	q.Add(waiting)
	if err := q.SetStatus(inRoom.AppointmentID, EntryInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}

	q.RecomputeWaits(15)

	// The in-progress entry does not count as ahead of the waiting one.
	if got := q.find(waiting.AppointmentID).EstimatedWait; got != 0 {
		t.Errorf("waiting entry behind in-progress should wait 0, got %d", got)
	}
}

func TestSetStatus_SingleInProgress(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	a := entry(t, "09:00", PriorityNormal)
	b := entry(t, "09:30", PriorityNormal)
	q.Add(a)
	q.Add(b)

	if err := q.SetStatus(a.AppointmentID, EntryInProgress); err != nil {
		t.Fatalf("first in-progress: %v", err)
	}
	if err := q.SetStatus(b.AppointmentID, EntryInProgress); !errors.Is(err, ErrAnotherInProgress) {
		t.Fatalf("second in-progress: got %v, want ErrAnotherInProgress", err)
	}
	// Re-asserting the same entry is fine.
	if err := q.SetStatus(a.AppointmentID, EntryInProgress); err != nil {
		t.Errorf("re-set same entry: %v", err)
	}

	if err := q.SetStatus(a.AppointmentID, EntryCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := q.SetStatus(b.AppointmentID, EntryInProgress); err != nil {
		t.Errorf("next patient after completion: %v", err)
	}

	if err := q.SetStatus(b.AppointmentID, "lost"); !errors.Is(err, ErrInvalidEntryStatus) {
		t.Errorf("bad status: got %v, want ErrInvalidEntryStatus", err)
	}
	if err := q.SetStatus(uuid.New(), EntryWaiting); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("unknown appointment: got %v, want ErrEntryNotFound", err)
	}
}

func TestQueueRemove(t *testing.T) {
	q := New(uuid.New(), calendar.NewDate(2026, 3, 16))
	a := entry(t, "09:00", PriorityNormal)
	q.Add(a)

	if !q.Remove(a.AppointmentID) {
		t.Fatal("remove should drop the entry")
	}
	if q.Remove(a.AppointmentID) {
		t.Fatal("second remove should report absence")
	}
	if len(q.Entries) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(q.Entries))
	}
}

// memRepo is an in-memory Repository for manager tests.
type memRepo struct {
	queues map[string]*Queue
	saves  int
}

func newMemRepo() *memRepo {
	return &memRepo{queues: map[string]*Queue{}}
}

func (r *memRepo) key(doctorID uuid.UUID, day calendar.Date) string {
	return fmt.Sprintf("%s:%s", doctorID, day)
}

func (r *memRepo) Get(_ context.Context, doctorID uuid.UUID, day calendar.Date) (*Queue, error) {
	q, ok := r.queues[r.key(doctorID, day)]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return cloneQueue(q), nil
}

func (r *memRepo) Save(_ context.Context, q *Queue) error {
	r.saves++
	r.queues[r.key(q.DoctorID, q.Day)] = cloneQueue(q)
	return nil
}

func cloneQueue(q *Queue) *Queue {
	raw, _ := json.Marshal(q)
	var out Queue
	_ = json.Unmarshal(raw, &out)
	return &out
}

func testAppointment(t *testing.T, doctorID uuid.UUID, day calendar.Date, start string, status appointment.Status, emergency bool) appointment.Appointment {
	t.Helper()
	return appointment.Appointment{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		PatientID:   uuid.New(),
		Day:         day,
		Start:       clock(t, start),
		End:         clock(t, start).Add(30),
		Status:      status,
		IsEmergency: emergency,
	}
}

func TestManagerSync(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	mgr := NewManager(repo, 15)
	doctorID := uuid.New()
	day := calendar.NewDate(2026, 3, 16)

	confirmed := testAppointment(t, doctorID, day, "09:00", appointment.StatusConfirmed, false)
	inProgress := testAppointment(t, doctorID, day, "08:30", appointment.StatusInProgress, false)
	pending := testAppointment(t, doctorID, day, "10:00", appointment.StatusPending, false)
	emergency := testAppointment(t, doctorID, day, "11:00", appointment.StatusConfirmed, true)

	q, err := mgr.Sync(ctx, doctorID, day, []appointment.Appointment{confirmed, inProgress, pending, emergency})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(q.Entries) != 3 {
		t.Fatalf("pending must not enter the queue: got %d entries, want 3", len(q.Entries))
	}
	if q.Entries[0].AppointmentID != emergency.ID {
		t.Error("emergency entry should lead the queue")
	}
	if q.Current() == nil || q.Current().AppointmentID != inProgress.ID {
		t.Error("in-progress appointment should sync as the current entry")
	}

	// Re-running sync is idempotent and never removes entries, even when an
	// appointment no longer appears in the input.
	q, err = mgr.Sync(ctx, doctorID, day, []appointment.Appointment{confirmed})
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if len(q.Entries) != 3 {
		t.Fatalf("resync changed entry count to %d", len(q.Entries))
	}
}

func TestManagerSetEntryStatusPersists(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	mgr := NewManager(repo, 15)
	doctorID := uuid.New()
	day := calendar.NewDate(2026, 3, 16)
	appt := testAppointment(t, doctorID, day, "09:00", appointment.StatusConfirmed, false)

	if _, err := mgr.Sync(ctx, doctorID, day, []appointment.Appointment{appt}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := mgr.SetEntryStatus(ctx, doctorID, day, appt.ID, EntryInProgress); err != nil {
		t.Fatalf("set entry status: %v", err)
	}

	got, err := mgr.Get(ctx, doctorID, day)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Current() == nil || got.Current().AppointmentID != appt.ID {
		t.Error("status change did not survive a reload")
	}
}

func TestManagerRemoveEntry(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	mgr := NewManager(repo, 15)
	doctorID := uuid.New()
	day := calendar.NewDate(2026, 3, 16)
	appt := testAppointment(t, doctorID, day, "09:00", appointment.StatusConfirmed, false)

	if _, err := mgr.Sync(ctx, doctorID, day, []appointment.Appointment{appt}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := mgr.RemoveEntry(ctx, doctorID, day, appt.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := mgr.RemoveEntry(ctx, doctorID, day, appt.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second remove: got %v, want ErrEntryNotFound", err)
	}

	got, err := mgr.Get(ctx, doctorID, day)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Errorf("entry still present after remove")
	}
}

func TestManagerSetDelay(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	mgr := NewManager(repo, 15)
	doctorID := uuid.New()
	day := calendar.NewDate(2026, 3, 16)
	a := testAppointment(t, doctorID, day, "09:00", appointment.StatusConfirmed, false)
	b := testAppointment(t, doctorID, day, "09:30", appointment.StatusConfirmed, false)

	if _, err := mgr.Sync(ctx, doctorID, day, []appointment.Appointment{a, b}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	q, err := mgr.SetDelay(ctx, doctorID, day, 20)
	if err != nil {
		t.Fatalf("set delay: %v", err)
	}
	if q.Entries[0].EstimatedWait != 20 || q.Entries[1].EstimatedWait != 35 {
		t.Errorf("delay not folded into estimates: got %d and %d", q.Entries[0].EstimatedWait, q.Entries[1].EstimatedWait)
	}
}

func TestEstimateForNewEntry(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	mgr := NewManager(repo, 15)
	doctorID := uuid.New()
	day := calendar.NewDate(2026, 3, 16)

	// Empty day: first in line, no wait.
	pos, wait, err := mgr.EstimateForNewEntry(ctx, doctorID, day)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if pos != 1 || wait != 0 {
		t.Errorf("empty queue: got position %d wait %d, want 1 and 0", pos, wait)
	}

	a := testAppointment(t, doctorID, day, "09:00", appointment.StatusConfirmed, false)
	b := testAppointment(t, doctorID, day, "09:30", appointment.StatusConfirmed, false)
	if _, err := mgr.Sync(ctx, doctorID, day, []appointment.Appointment{a, b}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := mgr.SetDelay(ctx, doctorID, day, 5); err != nil {
		t.Fatalf("set delay: %v", err)
	}

	pos, wait, err = mgr.EstimateForNewEntry(ctx, doctorID, day)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if pos != 3 {
		t.Errorf("position %d, want 3", pos)
	}
	if wait != 2*15+5 {
		t.Errorf("wait %d, want 35", wait)
	}
}
