package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebridge/clinic-scheduling/internal/appointment"
	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/queue"
	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

// SchedulingService is the engine surface the handlers talk to.
type SchedulingService interface {
	Book(ctx context.Context, req scheduling.BookRequest) (*scheduling.BookingResult, error)
	UpdateStatus(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, change scheduling.StatusChange) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, req scheduling.RescheduleRequest) (*appointment.Appointment, error)
	ConfirmReschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, accept bool, notes string) (*appointment.Appointment, error)
	RespondReschedule(ctx context.Context, apptID uuid.UUID, actor appointment.Actor, approve bool, notes string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, apptID uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	DoctorSlots(ctx context.Context, doctorID uuid.UUID, day calendar.Date) ([]scheduling.SlotView, error)
	UpsertCalendar(ctx context.Context, doctorID uuid.UUID, day calendar.Date, update scheduling.CalendarUpdate) (*calendar.DayCalendar, error)
	Queue(ctx context.Context, doctorID uuid.UUID, day calendar.Date) (*queue.Queue, error)
	SetQueueDelay(ctx context.Context, doctorID uuid.UUID, actor appointment.Actor, day calendar.Date, delayMinutes int) (*queue.Queue, error)
	UpdateQueueEntry(ctx context.Context, doctorID uuid.UUID, actor appointment.Actor, day calendar.Date, appointmentID uuid.UUID, status queue.EntryStatus) (*queue.Queue, error)
}

type RouterConfig struct {
	Service SchedulingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(PrincipalMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Put("/appointments/{id}/status", updateStatusHandler(cfg.Service))
	r.Put("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service))
	r.Put("/appointments/{id}/confirm-reschedule", confirmRescheduleHandler(cfg.Service))
	r.Put("/appointments/{id}/respond-reschedule", respondRescheduleHandler(cfg.Service))

	// Doctor calendar endpoints
	r.Get("/doctors/{id}/slots/{date}", doctorSlotsHandler(cfg.Service))
	r.Put("/doctors/{id}/calendar/{date}", upsertCalendarHandler(cfg.Service))

	// Queue endpoints
	r.Get("/queue/{doctorId}", getQueueHandler(cfg.Service))
	r.Put("/queue/{doctorId}/delay", queueDelayHandler(cfg.Service))
	r.Put("/queue/{doctorId}/entries/{appointmentId}", queueEntryHandler(cfg.Service))

	return r
}
