package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSkipped is returned when a run is requested while another is in flight.
var ErrSkipped = errors.New("scheduler run already in progress")

// Ticker is the part of time.Ticker the schedulers use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies the current time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// loop runs a job on every tick with a single-flight latch: a tick that
// arrives while a run is in flight is skipped, not queued.
type loop struct {
	job      string
	interval time.Duration
	clock    Clock
	running  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// guard runs fn unless another run holds the latch.
func (l *loop) guard(ctx context.Context, fn func(context.Context) error) error {
	if !l.running.CompareAndSwap(false, true) {
		schedulerSkipped.WithLabelValues(l.job).Inc()
		log.Debug().Str("job", l.job).Msg("previous run still in progress, skipping")
		return ErrSkipped
	}
	defer l.running.Store(false)
	err := fn(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	schedulerRuns.WithLabelValues(l.job, result).Inc()
	return err
}

func (l *loop) start(ctx context.Context, tick func(context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	t := l.clock.NewTicker(l.interval)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer t.Stop()
		log.Info().Str("job", l.job).Dur("interval", l.interval).Msg("scheduler started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				l.wg.Add(1)
				go func() {
					defer l.wg.Done()
					tick(ctx)
				}()
			}
		}
	}()
}

// stop cancels the loop and waits for in-flight runs.
func (l *loop) stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	log.Info().Str("job", l.job).Msg("scheduler stopped")
}
