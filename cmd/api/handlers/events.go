package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/internal/notify"
)

// staffOnly lists event types requesters never see.
var staffOnly = map[string]bool{
	"ticket_escalated": true,
	"sla_escalations":  true,
}

// PublishEvent sends an event to the Redis events channel.
func PublishEvent(ctx context.Context, rdb *redis.Client, ev notify.Event) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, notify.EventsChannel, b).Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("type", ev.Type).Msg("publish event")
	}
}

// Events streams server-sent events to the client.
func Events(rdb *redis.Client) gin.HandlerFunc {
	return events(rdb, 25*time.Second, 32)
}

// events relays the pub/sub channel with a heartbeat comment every hb.
// At most backlog messages are buffered for a slow client; the rest are
// dropped.
func events(rdb *redis.Client, hb time.Duration, backlog int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			apppkg.AbortError(c, http.StatusServiceUnavailable, "events_unavailable", "events not available", nil)
			return
		}
		staff := apppkg.ActorFrom(c).IsStaff()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		ctx := c.Request.Context()
		sub := rdb.Subscribe(ctx, notify.EventsChannel)
		defer sub.Close()

		queue := make(chan string, backlog)
		go func() {
			for msg := range sub.Channel() {
				select {
				case queue <- msg.Payload:
				default:
				}
			}
		}()

		heart := time.NewTicker(hb)
		defer heart.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heart.C:
				fmt.Fprint(c.Writer, ":hb\n\n")
				flusher.Flush()
			case payload := <-queue:
				var ev notify.Event
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					continue
				}
				if staffOnly[ev.Type] && !staff {
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\n", ev.Type)
				fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}
