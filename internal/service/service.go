package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcwatch/internal/alarm"
	"btcwatch/internal/market"
	"btcwatch/internal/metrics"
	"btcwatch/internal/notify"
	"btcwatch/internal/storage"
)

// AlarmRepository is the alarm set the service evaluates.
type AlarmRepository interface {
	Update(ctx context.Context, fn func([]alarm.Alarm) ([]alarm.Alarm, error)) error
}

// Dispatcher sends notifications for fired alarms.
type Dispatcher interface {
	Dispatch(ctx context.Context, fired []alarm.Alarm, tick market.PriceTick) []notify.Record
}

// Snapshot is the latest observed tick together with the price it replaced.
type Snapshot struct {
	Tick          market.PriceTick
	PreviousPrice decimal.Decimal
}

// BadgeColor colours the badge by comparing against the previous tick.
func (s Snapshot) BadgeColor(ccy market.Currency) string {
	return market.BadgeColor(s.PreviousPrice, s.Tick.Price(ccy))
}

// Service wires price ticks into alarm evaluation and notification.
type Service struct {
	alarms     AlarmRepository
	dispatcher Dispatcher
	logger     zerolog.Logger

	// evalMu makes each tick's evaluate+dispatch atomic with respect to the next.
	evalMu sync.Mutex

	mu       sync.RWMutex
	latest   market.PriceTick
	previous decimal.Decimal
	seen     bool
}

// New constructs the monitoring service.
func New(alarms AlarmRepository, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		alarms:     alarms,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// HandleTick is the price source subscriber. Failures are logged and the
// tick is otherwise ignored; the next tick retries.
func (s *Service) HandleTick(ctx context.Context, tick market.PriceTick) {
	s.remember(tick)
	if _, err := s.evaluate(ctx, tick); err != nil {
		s.logger.Error().Err(err).Time("observed_at", tick.ObservedAt()).Msg("alarm cycle skipped")
	}
}

// Simulate runs one evaluation pass on a synthetic tick without touching the
// latest price snapshot.
func (s *Service) Simulate(ctx context.Context, tick market.PriceTick) ([]notify.Record, error) {
	return s.evaluate(ctx, tick)
}

// Latest returns the most recent tick seen by HandleTick.
func (s *Service) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Tick: s.latest, PreviousPrice: s.previous}, s.seen
}

func (s *Service) remember(tick market.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen {
		s.previous = s.latest.Price(market.USD)
	} else {
		s.previous = tick.Price(market.USD)
	}
	s.latest = tick
	s.seen = true
}

// evaluate reads the alarm set fresh, persists the remaining partition and only
// then dispatches, so a failed write can never cause a double notification.
func (s *Service) evaluate(ctx context.Context, tick market.PriceTick) ([]notify.Record, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	var fired []alarm.Alarm
	err := s.alarms.Update(ctx, func(current []alarm.Alarm) ([]alarm.Alarm, error) {
		res := alarm.Evaluate(tick, current)
		if len(res.Fired) == 0 {
			fired = nil
			return nil, storage.ErrNoChange
		}
		fired = res.Fired
		return res.Remaining, nil
	})
	switch {
	case errors.Is(err, storage.ErrNoChange):
		s.logger.Debug().Str("usd", tick.Price(market.USD).String()).Msg("no alarm fired")
		return nil, nil
	case err != nil:
		metrics.StorageFailures.Inc()
		return nil, fmt.Errorf("update alarm set: %w", err)
	}

	for _, a := range fired {
		metrics.AlarmsFired.WithLabelValues(string(a.Direction), string(a.EffectiveCurrency())).Inc()
		s.logger.Info().Str("alarm_id", a.ID).Str("condition", a.Describe()).Msg("alarm fired")
	}

	if s.dispatcher == nil {
		return nil, nil
	}
	return s.dispatcher.Dispatch(ctx, fired, tick), nil
}
