// Package notify carries domain events out of the scheduling engine. Delivery
// is fire-and-forget: a sink that fails is logged and never affects the
// transition that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event types emitted by the engine.
const (
	EventAppointmentBooked  = "APPOINTMENT_BOOKED"
	EventStatusChanged      = "APPOINTMENT_STATUS_CHANGED"
	EventRescheduleProposed = "RESCHEDULE_PROPOSED"
	EventRescheduleResolved = "RESCHEDULE_RESOLVED"
	EventQueueUpdated       = "QUEUE_UPDATED"
)

// Event is one domain event with the identifiers a transport adapter needs to
// route it.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointmentId,omitempty"`
	DoctorID      uuid.UUID      `json:"doctorId,omitempty"`
	PatientID     uuid.UUID      `json:"patientId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	At            time.Time      `json:"at"`
}

// Notifier accepts events for asynchronous delivery.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// LogNotifier writes every event to the structured log. It doubles as the
// fallback sink when no live transport is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(_ context.Context, ev Event) {
	n.log.Info().
		Str("event", ev.Type).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("doctor_id", ev.DoctorID.String()).
		Str("patient_id", ev.PatientID.String()).
		Interface("payload", ev.Payload).
		Msg("domain event")
}

// RedisNotifier publishes events on a pub/sub channel for whatever live
// notification transport subscribes to it.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisNotifier(client *redis.Client, channel string, log zerolog.Logger) *RedisNotifier {
	if channel == "" {
		channel = "clinic:events"
	}
	return &RedisNotifier{client: client, channel: channel, log: log}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Str("event", ev.Type).Msg("marshal event")
		return
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		n.log.Error().Err(err).Str("event", ev.Type).Msg("publish event")
	}
}

// Fanout delivers each event to every sink on its own goroutine. The caller
// never waits on delivery.
type Fanout struct {
	sinks []Notifier
}

func NewFanout(sinks ...Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, ev Event) {
	for _, sink := range f.sinks {
		go func(s Notifier) {
			// Detach from the request context so an ended request does not
			// cancel a delivery already in flight.
			deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			s.Publish(deliverCtx, ev)
		}(sink)
	}
}
