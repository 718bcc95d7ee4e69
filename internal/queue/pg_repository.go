package queue

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

func scanQueue(row pgx.Row) (*Queue, error) {
	var (
		q       Queue
		day     time.Time
		entries []byte
	)

	err := row.Scan(
		&q.DoctorID,
		&day,
		&q.CurrentDelay,
		&entries,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}

	q.Day = calendar.DateOf(day)
	if entries != nil {
		if err := json.Unmarshal(entries, &q.Entries); err != nil {
			return nil, fmt.Errorf("decode queue entries: %w", err)
		}
	}

	return &q, nil
}

func (r *PgRepository) Get(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*Queue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT doctor_id, day, current_delay, entries, updated_at
		FROM visit_queues
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day.Time())
	return scanQueue(row)
}

func (r *PgRepository) Save(ctx context.Context, q *Queue) error {
	entries, err := json.Marshal(q.Entries)
	if err != nil {
		return fmt.Errorf("encode queue entries: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO visit_queues (doctor_id, day, current_delay, entries, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doctor_id, day) DO UPDATE SET
			current_delay = EXCLUDED.current_delay,
			entries       = EXCLUDED.entries,
			updated_at    = now()
	`, q.DoctorID, q.Day.Time(), q.CurrentDelay, entries)
	if err != nil {
		return fmt.Errorf("upsert queue %s/%s: %w", q.DoctorID, q.Day, err)
	}

	return nil
}
