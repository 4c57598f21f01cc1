package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/scheduler"
)

type Job struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type worker struct {
	cfg    Config
	rdb    *redis.Client
	runner *scheduler.Runner
	send   func(Config, EmailJob) error
}

// processQueueJob pops one job from either queue, waiting up to timeout.
// It reports whether a job was handled.
func (w *worker) processQueueJob(ctx context.Context, timeout time.Duration) (bool, error) {
	res, err := w.rdb.BLPop(ctx, timeout, scheduler.RunQueue, notify.JobsQueue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) < 2 {
		return false, nil
	}
	if res[0] == scheduler.RunQueue {
		_, err := w.runner.Handle(ctx, []byte(res[1]))
		return true, err
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		log.Error().Err(err).Msg("decode job")
		return true, nil
	}
	return true, w.deliver(job)
}

func (w *worker) deliver(job Job) error {
	switch job.Type {
	case "sla_escalation", "ticket_auto_closed":
	default:
		log.Warn().Str("type", job.Type).Msg("unknown job type")
		return nil
	}
	if w.cfg.SMTPHost == "" || w.cfg.NotifyTo == "" {
		log.Debug().Str("type", job.Type).Msg("smtp not configured, dropping notification")
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(job.Data, &data); err != nil {
		log.Error().Err(err).Str("type", job.Type).Msg("decode job data")
		return nil
	}
	err := w.send(w.cfg, EmailJob{To: w.cfg.NotifyTo, Template: job.Type, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", job.Type).Interface("ticket", data["ticket_id"]).Msg("send email")
	}
	return err
}
