package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
)

var ErrQueueNotFound = errors.New("queue not found")

// Repository persists one Queue per (doctor, date) key.
type Repository interface {
	Get(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*Queue, error)
	Save(ctx context.Context, q *Queue) error
}
