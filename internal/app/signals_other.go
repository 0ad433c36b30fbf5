//go:build !unix

package app

import (
	"context"

	"github.com/rs/zerolog"

	"btcwatch/internal/lifecycle"
)

// watchLifecycleSignals is a no-op where the host has no suspend or reload signals.
func watchLifecycleSignals(context.Context, *lifecycle.Bus, zerolog.Logger) func() {
	return func() {}
}
