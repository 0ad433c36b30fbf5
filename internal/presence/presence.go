// Package presence keeps the background process visibly busy with a cheap
// periodic self-ping so the host does not reclaim it while idle.
package presence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"btcwatch/internal/lifecycle"
	"btcwatch/internal/metrics"
	"btcwatch/internal/scheduler"
)

const defaultInterval = 20 * time.Second

// PingFunc performs one self-check.
type PingFunc func(ctx context.Context) error

// Options configure a Keeper.
type Options struct {
	Interval time.Duration
}

// Keeper runs the self-ping loop.
type Keeper struct {
	interval time.Duration
	ping     PingFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeeper builds a Keeper. A nil ping falls back to Heartbeat.
func NewKeeper(opts Options, ping PingFunc, logger zerolog.Logger) *Keeper {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if ping == nil {
		ping = Heartbeat
	}
	return &Keeper{
		interval: opts.Interval,
		ping:     ping,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Start launches the ping loop. The first ping runs immediately.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		return errors.New("presence keeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sched := scheduler.New(scheduler.Options{Interval: k.interval, Immediate: true}, k.logger)
	done := make(chan struct{})
	k.sched, k.cancel, k.done = sched, cancel, done

	go func() {
		defer close(done)
		_ = sched.Run(runCtx, k.tick)
	}()
	k.logger.Info().Dur("interval", k.interval).Msg("presence keeper started")
	return nil
}

// Stop cancels the loop and waits for an in-flight ping to return.
func (k *Keeper) Stop() {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.sched, k.cancel, k.done = nil, nil, nil
	k.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	k.logger.Info().Msg("presence keeper stopped")
}

// Handle re-arms the keeper on any host lifecycle event: the interval
// restarts and a ping runs right away.
func (k *Keeper) Handle(ev lifecycle.Event) {
	k.mu.Lock()
	sched := k.sched
	k.mu.Unlock()
	if sched == nil {
		return
	}
	k.logger.Debug().Str("event", ev.String()).Msg("re-arming presence keeper")
	sched.Trigger()
}

func (k *Keeper) tick(ctx context.Context, _ time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PresencePings.WithLabelValues("panic").Inc()
			k.logger.Error().Interface("panic", r).Msg("presence ping panicked")
			err = nil
		}
	}()

	if err := k.ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.PresencePings.WithLabelValues("error").Inc()
		return fmt.Errorf("presence ping: %w", err)
	}
	metrics.PresencePings.WithLabelValues("ok").Inc()
	return nil
}

// Heartbeat is the no-op ping used when nothing else is listening.
func Heartbeat(context.Context) error {
	return nil
}

// HTTPPing returns a ping that GETs url and expects a 2xx answer.
func HTTPPing(client *http.Client, url string) PingFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
