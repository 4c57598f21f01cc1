package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/ticket"
)

const (
	// JobsQueue is the Redis list notification jobs are pushed to.
	JobsQueue = "jobs"
	// EventsChannel is the Redis pub/sub channel UI refresh events go to.
	EventsChannel = "events"
)

// Notifier receives the engine's notification triggers. Implementations are
// fire-and-forget: failures are logged, never returned.
type Notifier interface {
	EscalationCreated(ctx context.Context, t ticket.Ticket, e ticket.Escalation)
	TicketAutoClosed(ctx context.Context, t ticket.Ticket, reason string)
	Broadcast(ctx context.Context, ev Event)
}

// Event represents a message broadcast to subscribers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Job is the envelope pushed to JobsQueue.
type Job struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type escalationJob struct {
	TicketID    string          `json:"ticket_id"`
	Title       string          `json:"title"`
	Priority    ticket.Priority `json:"priority"`
	Reason      string          `json:"reason"`
	Severity    ticket.Severity `json:"severity"`
	EscalatedBy *string         `json:"escalated_by,omitempty"`
	EscalatedAt time.Time       `json:"escalated_at"`
}

type autoCloseJob struct {
	TicketID string   `json:"ticket_id"`
	Title    string   `json:"title"`
	Reason   string   `json:"reason"`
	Tags     []string `json:"tags"`
}

// Redis queues notification jobs and publishes UI events.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) enqueue(ctx context.Context, job Job) {
	if r.rdb == nil {
		return
	}
	b, err := json.Marshal(job)
	if err != nil {
		log.Error().Err(err).Str("type", job.Type).Msg("marshal notification job")
		return
	}
	if err := r.rdb.RPush(ctx, JobsQueue, b).Err(); err != nil {
		log.Error().Err(err).Str("type", job.Type).Msg("enqueue notification job")
	}
}

func (r *Redis) EscalationCreated(ctx context.Context, t ticket.Ticket, e ticket.Escalation) {
	r.enqueue(ctx, Job{Type: "sla_escalation", Data: escalationJob{
		TicketID:    t.ID,
		Title:       t.Title,
		Priority:    t.Priority,
		Reason:      e.Reason,
		Severity:    e.Severity,
		EscalatedBy: e.EscalatedBy,
		EscalatedAt: e.EscalatedAt,
	}})
	r.Broadcast(ctx, Event{Type: "ticket_escalated", Data: map[string]string{"ticket_id": t.ID, "severity": string(e.Severity)}})
}

func (r *Redis) TicketAutoClosed(ctx context.Context, t ticket.Ticket, reason string) {
	r.enqueue(ctx, Job{Type: "ticket_auto_closed", Data: autoCloseJob{
		TicketID: t.ID,
		Title:    t.Title,
		Reason:   reason,
		Tags:     t.Tags,
	}})
	r.Broadcast(ctx, Event{Type: "ticket_updated", Data: map[string]string{"ticket_id": t.ID, "status": string(t.Status)}})
}

// Broadcast sends an event to the Redis "events" channel.
func (r *Redis) Broadcast(ctx context.Context, ev Event) {
	if r.rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return
	}
	if err := r.rdb.Publish(ctx, EventsChannel, b).Err(); err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("publish event")
	}
}

// Noop discards every notification.
type Noop struct{}

func (Noop) EscalationCreated(context.Context, ticket.Ticket, ticket.Escalation) {}
func (Noop) TicketAutoClosed(context.Context, ticket.Ticket, string)             {}
func (Noop) Broadcast(context.Context, Event)                                    {}
