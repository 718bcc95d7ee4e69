package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Hours, breaks and slots live in jsonb columns; the (doctor_id, day) pair is
// the primary key and the only thing ever queried on.
func scanCalendar(row pgx.Row) (*DayCalendar, error) {
	var (
		c              DayCalendar
		day            time.Time
		regularHours   []byte
		emergencyHours []byte
		breaks         []byte
		slots          []byte
	)

	err := row.Scan(
		&c.DoctorID,
		&day,
		&c.Unavailable,
		&c.SlotMinutes,
		&regularHours,
		&emergencyHours,
		&breaks,
		&slots,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}

	c.Day = DateOf(day)
	if err := json.Unmarshal(regularHours, &c.RegularHours); err != nil {
		return nil, fmt.Errorf("decode regular hours: %w", err)
	}
	if emergencyHours != nil {
		var eh HoursRange
		if err := json.Unmarshal(emergencyHours, &eh); err != nil {
			return nil, fmt.Errorf("decode emergency hours: %w", err)
		}
		c.EmergencyHours = &eh
	}
	if breaks != nil {
		if err := json.Unmarshal(breaks, &c.Breaks); err != nil {
			return nil, fmt.Errorf("decode breaks: %w", err)
		}
	}
	if err := json.Unmarshal(slots, &c.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	return &c, nil
}

func (s *PgStore) Get(ctx context.Context, doctorID uuid.UUID, day Date) (*DayCalendar, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT doctor_id, day, unavailable, slot_minutes,
		       regular_hours, emergency_hours, breaks, time_slots, updated_at
		FROM doctor_calendars
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day.Time())
	return scanCalendar(row)
}

func (s *PgStore) Save(ctx context.Context, cal *DayCalendar) error {
	return s.SaveAll(ctx, cal)
}

func (s *PgStore) SaveAll(ctx context.Context, cals ...*DayCalendar) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin calendar save: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, cal := range cals {
		if err := upsertCalendar(ctx, tx, cal); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func upsertCalendar(ctx context.Context, tx pgx.Tx, cal *DayCalendar) error {
	regularHours, err := json.Marshal(cal.RegularHours)
	if err != nil {
		return fmt.Errorf("encode regular hours: %w", err)
	}
	var emergencyHours []byte
	if cal.EmergencyHours != nil {
		if emergencyHours, err = json.Marshal(cal.EmergencyHours); err != nil {
			return fmt.Errorf("encode emergency hours: %w", err)
		}
	}
	var breaks []byte
	if cal.Breaks != nil {
		if breaks, err = json.Marshal(cal.Breaks); err != nil {
			return fmt.Errorf("encode breaks: %w", err)
		}
	}
	slots, err := json.Marshal(cal.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO doctor_calendars
			(doctor_id, day, unavailable, slot_minutes,
			 regular_hours, emergency_hours, breaks, time_slots, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (doctor_id, day) DO UPDATE SET
			unavailable     = EXCLUDED.unavailable,
			slot_minutes    = EXCLUDED.slot_minutes,
			regular_hours   = EXCLUDED.regular_hours,
			emergency_hours = EXCLUDED.emergency_hours,
			breaks          = EXCLUDED.breaks,
			time_slots      = EXCLUDED.time_slots,
			updated_at      = now()
	`, cal.DoctorID, cal.Day.Time(), cal.Unavailable, cal.SlotMinutes,
		regularHours, emergencyHours, breaks, slots)
	if err != nil {
		return fmt.Errorf("upsert calendar %s/%s: %w", cal.DoctorID, cal.Day, err)
	}

	return nil
}
