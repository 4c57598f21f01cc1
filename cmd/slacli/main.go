package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/config"
	"github.com/mark3748/servicedesk/internal/scheduler"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

const usage = `usage:
  slacli due <priority> <location> [category] [created RFC3339]
  slacli run escalation|autoclose
  slacli status <job_id>`

var errUsage = errors.New(usage)

type cli struct {
	out      io.Writer
	rdb      *redis.Client
	rules    sla.RuleSource
	cals     *sla.Calendars
	defaults sla.Target
	now      func() time.Time
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	cfg := config.Load()
	ctx := context.Background()
	c := &cli{
		out:      os.Stdout,
		cals:     sla.NewCalendars(),
		defaults: cfg.SLA.DefaultTarget(),
		now:      time.Now,
	}
	if len(os.Args) > 1 && os.Args[1] == "due" {
		st, pool, err := store.Open(ctx, cfg.Store, cfg.DatabaseURL, false)
		if err != nil {
			log.Fatal().Err(err).Msg("open store")
		}
		if pool != nil {
			defer pool.Close()
			if _, err := sla.LoadHolidays(ctx, pool, c.cals); err != nil {
				log.Error().Err(err).Msg("load holidays")
			}
		}
		c.rules = st
	} else {
		c.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer c.rdb.Close()
	}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "due":
		return c.due(ctx, args[1:])
	case "run":
		if len(args) < 2 {
			return errUsage
		}
		id, err := scheduler.Enqueue(ctx, c.rdb, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, id)
		return nil
	case "status":
		if len(args) < 2 {
			return fmt.Errorf("job id required")
		}
		res, err := scheduler.LoadResult(ctx, c.rdb, args[1])
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s not found", args[1])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func (c *cli) due(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	q := sla.Query{
		Priority: ticket.Priority(strings.ToUpper(args[0])),
		Location: strings.ToUpper(args[1]),
	}
	if !q.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", args[0])
	}
	if len(args) > 2 && args[2] != "" {
		cat := args[2]
		q.Category = &cat
	}
	created := c.now()
	if len(args) > 3 {
		t, err := time.Parse(time.RFC3339, args[3])
		if err != nil {
			return fmt.Errorf("created: %w", err)
		}
		created = t
	}

	target, err := sla.NewResolver(c.rules, c.defaults).Resolve(ctx, q)
	if err != nil {
		return err
	}
	d, err := c.cals.For(q.Location).ComputeDeadlines(created, target)
	if err != nil {
		return err
	}
	tz := sla.TimezoneFor(q.Location)
	fmt.Fprintf(c.out, "rule:           %s\n", target.Source)
	fmt.Fprintf(c.out, "timezone:       %s\n", tz)
	fmt.Fprintf(c.out, "response due:   %s\n", d.ResponseDue.In(tz).Format(time.RFC3339))
	fmt.Fprintf(c.out, "resolution due: %s\n", d.ResolutionDue.In(tz).Format(time.RFC3339))
	return nil
}
