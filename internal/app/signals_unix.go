//go:build unix

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"btcwatch/internal/lifecycle"
)

var lifecycleSignals = map[os.Signal]lifecycle.Event{
	syscall.SIGHUP:  lifecycle.Startup,
	syscall.SIGTSTP: lifecycle.Suspend,
	syscall.SIGCONT: lifecycle.SuspendCanceled,
	syscall.SIGUSR1: lifecycle.Restart,
}

// watchLifecycleSignals publishes host signals as lifecycle events until the
// returned stop func is called or ctx ends.
func watchLifecycleSignals(ctx context.Context, bus *lifecycle.Bus, logger zerolog.Logger) func() {
	ch := make(chan os.Signal, 4)
	sigs := make([]os.Signal, 0, len(lifecycleSignals))
	for sig := range lifecycleSignals {
		sigs = append(sigs, sig)
	}
	signal.Notify(ch, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				ev, ok := lifecycleSignals[sig]
				if !ok {
					continue
				}
				logger.Debug().Str("signal", sig.String()).Str("event", ev.String()).Msg("host signal")
				bus.Publish(ev)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		cancel()
		<-done
	}
}
