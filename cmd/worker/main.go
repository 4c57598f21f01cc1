package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/config"
	"github.com/mark3748/servicedesk/internal/desk"
	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/scheduler"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
)

type Config struct {
	config.Config
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string
	NotifyTo string
}

func cfg() Config {
	return Config{
		Config:   config.Load(),
		SMTPHost: config.GetEnv("SMTP_HOST", ""),
		SMTPPort: config.GetEnv("SMTP_PORT", "25"),
		SMTPUser: config.GetEnv("SMTP_USER", ""),
		SMTPPass: config.GetEnv("SMTP_PASS", ""),
		SMTPFrom: config.GetEnv("SMTP_FROM", ""),
		NotifyTo: config.GetEnv("NOTIFY_EMAIL", ""),
	}
}

func main() {
	c := cfg()
	if c.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, pool, err := store.Open(ctx, c.Store, c.DatabaseURL, c.RunMigrations)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	cals := sla.NewCalendars()
	if pool != nil {
		defer pool.Close()
		if n, err := sla.LoadHolidays(ctx, pool, cals); err != nil {
			log.Error().Err(err).Msg("load holidays")
		} else {
			log.Info().Int("count", n).Msg("holidays loaded")
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("redis ping failed (queue not active yet)")
	}
	defer rdb.Close()

	notifier := notify.NewRedis(rdb)
	d := desk.New(st, sla.NewResolver(st, c.SLA.DefaultTarget()), cals, notifier)
	esc := scheduler.NewEscalation(st, notifier, scheduler.RealClock{}, scheduler.EscalationConfig{
		ThresholdPercent: c.SLA.EscalationThresholdPercent,
		OpenStatuses:     c.SLA.OpenStatuses,
		Interval:         c.SLA.EscalationInterval(),
	})
	ac := scheduler.NewAutoClose(st, d, notifier, cals, scheduler.RealClock{}, scheduler.AutoCloseConfig{
		BusinessDays:     c.SLA.AutoCloseBusinessDays,
		ConfirmationDays: c.SLA.AutoCloseConfirmationDays,
		Interval:         c.SLA.AutoCloseInterval(),
	})
	esc.Start(ctx)
	ac.Start(ctx)
	defer esc.Stop()
	defer ac.Stop()

	ms := &http.Server{Addr: c.MetricsAddr, Handler: promhttp.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listen")
		}
	}()
	defer ms.Close()

	w := &worker{cfg: c, rdb: rdb, runner: scheduler.NewRunner(rdb, esc, ac), send: sendEmail}
	log.Info().Str("metrics", c.MetricsAddr).Msg("worker started")
	for ctx.Err() == nil {
		if _, err := w.processQueueJob(ctx, 5*time.Second); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("process job")
			time.Sleep(time.Second)
		}
	}
	log.Info().Msg("worker stopping")
}
