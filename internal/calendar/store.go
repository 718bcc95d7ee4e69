package calendar

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrCalendarNotFound = errors.New("calendar not found")

// Store persists one DayCalendar per (doctor, date) key. SaveAll writes every
// calendar in a single unit of work; the reschedule slot swap depends on that.
type Store interface {
	Get(ctx context.Context, doctorID uuid.UUID, day Date) (*DayCalendar, error)
	Save(ctx context.Context, cal *DayCalendar) error
	SaveAll(ctx context.Context, cals ...*DayCalendar) error
}
