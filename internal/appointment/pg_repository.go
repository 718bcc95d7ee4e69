package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const apptColumns = `
	id, doctor_id, patient_id, day, start_minute, end_minute, status,
	history, reschedule, is_emergency, queue_number, estimated_wait,
	cancelled_by, cancel_reason, payment_status,
	started_at, finished_at, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a            Appointment
		day          time.Time
		start, end   int
		history      []byte
		reschedule   []byte
		cancelledBy  *string
		cancelReason *string
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&day,
		&start,
		&end,
		&a.Status,
		&history,
		&reschedule,
		&a.IsEmergency,
		&a.QueueNumber,
		&a.EstimatedWait,
		&cancelledBy,
		&cancelReason,
		&a.PaymentStatus,
		&a.StartedAt,
		&a.FinishedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Day = calendar.DateOf(day)
	a.Start = calendar.ClockTime(start)
	a.End = calendar.ClockTime(end)
	if history != nil {
		if err := json.Unmarshal(history, &a.History); err != nil {
			return nil, fmt.Errorf("decode status history: %w", err)
		}
	}
	if reschedule != nil {
		var r RescheduleRequest
		if err := json.Unmarshal(reschedule, &r); err != nil {
			return nil, fmt.Errorf("decode reschedule request: %w", err)
		}
		a.Reschedule = &r
	}
	if cancelledBy != nil {
		a.CancelledBy = Role(*cancelledBy)
	}
	if cancelReason != nil {
		a.CancelReason = *cancelReason
	}

	return &a, nil
}

func encodeAppointment(a *Appointment) (history, reschedule []byte, err error) {
	if a.History != nil {
		if history, err = json.Marshal(a.History); err != nil {
			return nil, nil, fmt.Errorf("encode status history: %w", err)
		}
	}
	if a.Reschedule != nil {
		if reschedule, err = json.Marshal(a.Reschedule); err != nil {
			return nil, nil, fmt.Errorf("encode reschedule request: %w", err)
		}
	}
	return history, reschedule, nil
}

func nullableRole(r Role) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	history, reschedule, err := encodeAppointment(a)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments
			(id, doctor_id, patient_id, day, start_minute, end_minute, status,
			 history, reschedule, is_emergency, queue_number, estimated_wait,
			 cancelled_by, cancel_reason, payment_status,
			 started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
	`, a.ID, a.DoctorID, a.PatientID, a.Day.Time(), int(a.Start), int(a.End), a.Status,
		history, reschedule, a.IsEmergency, a.QueueNumber, a.EstimatedWait,
		nullableRole(a.CancelledBy), nullableString(a.CancelReason), a.PaymentStatus,
		a.StartedAt, a.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	return nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, expected Status) error {
	history, reschedule, err := encodeAppointment(a)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET day = $2,
		    start_minute = $3,
		    end_minute = $4,
		    status = $5,
		    history = $6,
		    reschedule = $7,
		    queue_number = $8,
		    estimated_wait = $9,
		    cancelled_by = $10,
		    cancel_reason = $11,
		    payment_status = $12,
		    started_at = $13,
		    finished_at = $14,
		    updated_at = now()
		WHERE id = $1 AND status = $15
	`, a.ID, a.Day.Time(), int(a.Start), int(a.End), a.Status,
		history, reschedule, a.QueueNumber, a.EstimatedWait,
		nullableRole(a.CancelledBy), nullableString(a.CancelReason), a.PaymentStatus,
		a.StartedAt, a.FinishedAt, expected)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, a.ID); errors.Is(err, ErrAppointmentNotFound) {
			return ErrAppointmentNotFound
		}
		return ErrAppointmentModified
	}

	return nil
}

func (r *PgRepository) ListForDay(ctx context.Context, doctorID uuid.UUID, day calendar.Date, statuses ...Status) ([]Appointment, error) {
	query := `
		SELECT ` + apptColumns + `
		FROM appointments
		WHERE doctor_id = $1 AND day = $2`
	args := []any{doctorID, day.Time()}

	if len(statuses) > 0 {
		set := make([]string, len(statuses))
		for i, s := range statuses {
			set[i] = string(s)
		}
		query += ` AND status = ANY($3)`
		args = append(args, set)
	}
	query += ` ORDER BY start_minute`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
