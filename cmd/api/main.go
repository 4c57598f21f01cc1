package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/internal/config"
	"github.com/mark3748/servicedesk/internal/desk"
	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/ratelimit"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
)

func main() {
	cfg := config.Load()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, pool, err := store.Open(ctx, cfg.Store, cfg.DatabaseURL, cfg.RunMigrations)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("open store")
	}
	cals := sla.NewCalendars()
	if pool != nil {
		defer pool.Close()
		n, err := sla.LoadHolidays(ctx, pool, cals)
		if err != nil {
			log.Error().Err(err).Msg("load holidays")
		} else {
			log.Info().Int("count", n).Msg("holidays loaded")
		}
	}

	// Redis client (optional)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	resolver := sla.NewResolver(st, cfg.SLA.DefaultTarget())
	d := desk.New(st, resolver, cals, notify.NewRedis(rdb))
	a := apppkg.NewApp(cfg, d, rdb)

	var writes *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 && rdb != nil {
		writes = ratelimit.New(rdb, cfg.RateLimitPerMinute, time.Minute, "writes")
	}
	registerRoutes(a, writes)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()
	log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}
