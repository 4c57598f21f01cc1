package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RunQueue is the Redis list on-demand runs are pushed to.
const RunQueue = "sla_jobs"

const (
	JobEscalation = "escalation"
	JobAutoClose  = "autoclose"

	resultPrefix = "sla_job:"
	resultTTL    = 24 * time.Hour
)

// RunRequest asks the worker to run one job immediately.
type RunRequest struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunResult is stored under sla_job:<id>.
type RunResult struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Status     string           `json:"status"` // queued, done, skipped or error
	Escalated  int              `json:"escalated,omitempty"`
	AutoClose  *AutoCloseResult `json:"autoclose,omitempty"`
	Error      string           `json:"error,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func resultKey(id string) string { return resultPrefix + id }

func saveResult(ctx context.Context, rdb *redis.Client, r RunResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, resultKey(r.ID), b, resultTTL).Err()
}

// Enqueue pushes a run request and records it as queued.
func Enqueue(ctx context.Context, rdb *redis.Client, typ string) (string, error) {
	if typ != JobEscalation && typ != JobAutoClose {
		return "", fmt.Errorf("unknown job type %q", typ)
	}
	req := RunRequest{ID: uuid.NewString(), Type: typ, RequestedAt: time.Now()}
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	if err := saveResult(ctx, rdb, RunResult{ID: req.ID, Type: typ, Status: "queued"}); err != nil {
		return "", err
	}
	if err := rdb.RPush(ctx, RunQueue, b).Err(); err != nil {
		return "", err
	}
	return req.ID, nil
}

// LoadResult returns the stored state of run id.
func LoadResult(ctx context.Context, rdb *redis.Client, id string) (RunResult, error) {
	var r RunResult
	b, err := rdb.Get(ctx, resultKey(id)).Bytes()
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(b, &r)
	return r, err
}

// Runner executes run requests popped from RunQueue.
type Runner struct {
	rdb *redis.Client
	esc *Escalation
	ac  *AutoClose
	now func() time.Time
}

func NewRunner(rdb *redis.Client, esc *Escalation, ac *AutoClose) *Runner {
	return &Runner{rdb: rdb, esc: esc, ac: ac, now: time.Now}
}

// Handle runs the request in payload and stores its result.
func (r *Runner) Handle(ctx context.Context, payload []byte) (RunResult, error) {
	var req RunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return RunResult{}, fmt.Errorf("decode run request: %w", err)
	}
	res := RunResult{ID: req.ID, Type: req.Type}
	var err error
	switch req.Type {
	case JobEscalation:
		res.Escalated, err = r.esc.Run(ctx)
	case JobAutoClose:
		var ac AutoCloseResult
		ac, err = r.ac.RunOnce(ctx)
		res.AutoClose = &ac
	default:
		err = fmt.Errorf("unknown job type %q", req.Type)
	}
	switch {
	case errors.Is(err, ErrSkipped):
		res.Status = "skipped"
	case err != nil:
		res.Status = "error"
		res.Error = err.Error()
	default:
		res.Status = "done"
	}
	now := r.now()
	res.FinishedAt = &now
	log.Info().Str("job", req.Type).Str("id", req.ID).Str("status", res.Status).Msg("on-demand run")
	if req.ID != "" {
		if serr := saveResult(ctx, r.rdb, res); serr != nil {
			return res, serr
		}
	}
	return res, nil
}
