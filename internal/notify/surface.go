package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// LogSurface writes notifications to the log instead of a user-facing channel.
type LogSurface struct {
	logger zerolog.Logger
}

// NewLogSurface builds a LogSurface.
func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (s *LogSurface) Create(_ context.Context, req Request) error {
	s.logger.Info().
		Str("id", req.ID).
		Str("title", req.Title).
		Str("message", req.Message).
		Int("priority", req.Priority).
		Bool("require_interaction", req.RequireInteraction).
		Msg("notification")
	return nil
}

func (s *LogSurface) Clear(_ context.Context, id string) error {
	s.logger.Debug().Str("id", id).Msg("notification cleared")
	return nil
}

// PartialError reports a Fanout create that reached some surfaces but not all.
// The notification is live on the others and still needs clearing.
type PartialError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d surfaces failed: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Fanout sends every call to all of its surfaces.
type Fanout []Surface

func (f Fanout) Create(ctx context.Context, req Request) error {
	var errs []error
	for _, s := range f {
		if err := s.Create(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) < len(f) {
		return &PartialError{Failed: len(errs), Total: len(f), Err: errors.Join(errs...)}
	}
	return errors.Join(errs...)
}

func (f Fanout) Clear(ctx context.Context, id string) error {
	var errs []error
	for _, s := range f {
		if err := s.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Surface = (*LogSurface)(nil)
	_ Surface = Fanout(nil)
)
