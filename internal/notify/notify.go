// Package notify turns fired alarms into user-visible notifications and
// clears each one after a fixed visibility window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"btcwatch/internal/alarm"
	"btcwatch/internal/market"
	"btcwatch/internal/metrics"
)

const (
	alertTitle              = "Bitcoin Price Alert!"
	alertPriority           = 2
	defaultVisibilityWindow = 30 * time.Second
	defaultClearTimeout     = 10 * time.Second
)

// Request is one notification handed to a Surface.
type Request struct {
	ID                 string
	Title              string
	Message            string
	Priority           int
	RequireInteraction bool
}

// Surface shows and clears notifications.
type Surface interface {
	Create(ctx context.Context, req Request) error
	Clear(ctx context.Context, id string) error
}

// Record tracks one live notification. Records are never persisted.
type Record struct {
	AlarmID        string    `json:"alarmId"`
	NotificationID string    `json:"notificationId"`
	FiredAt        time.Time `json:"firedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Options configure a Dispatcher.
type Options struct {
	VisibilityWindow time.Duration
	ClearTimeout     time.Duration
}

type pending struct {
	record Record
	timer  *time.Timer
}

// Dispatcher creates notifications for fired alarms and clears them later.
type Dispatcher struct {
	surface Surface
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	used    map[string]struct{}
	pending map[string]*pending
	closed  bool
}

// NewDispatcher builds a Dispatcher on top of surface.
func NewDispatcher(surface Surface, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.VisibilityWindow <= 0 {
		opts.VisibilityWindow = defaultVisibilityWindow
	}
	if opts.ClearTimeout <= 0 {
		opts.ClearTimeout = defaultClearTimeout
	}
	return &Dispatcher{
		surface: surface,
		opts:    opts,
		logger:  logger.With().Str("component", "notify").Logger(),
		now:     time.Now,
		used:    make(map[string]struct{}),
		pending: make(map[string]*pending),
	}
}

// Dispatch notifies every fired alarm and returns the records that were
// created. A failed create is logged and the rest of the batch still goes out.
func (d *Dispatcher) Dispatch(ctx context.Context, fired []alarm.Alarm, tick market.PriceTick) []Record {
	records := make([]Record, 0, len(fired))
	for _, a := range fired {
		firedAt := d.now()
		id, ok := d.reserve(a.ID, firedAt)
		if !ok {
			d.logger.Warn().Str("alarm_id", a.ID).Msg("dispatcher closed, notification skipped")
			continue
		}

		req := Request{
			ID:                 id,
			Title:              alertTitle,
			Message:            Message(a, tick),
			Priority:           alertPriority,
			RequireInteraction: true,
		}
		var partial *PartialError
		switch err := d.surface.Create(ctx, req); {
		case errors.As(err, &partial):
			// shown somewhere, so it is tracked and cleared like any other
			metrics.NotificationsSent.WithLabelValues("partial").Inc()
			d.logger.Warn().Err(err).Str("alarm_id", a.ID).Str("notification_id", id).Msg("notification reached only some surfaces")
		case err != nil:
			d.release(id)
			metrics.NotificationsSent.WithLabelValues("error").Inc()
			d.logger.Error().Err(err).Str("alarm_id", a.ID).Str("notification_id", id).Msg("create notification failed")
			continue
		default:
			metrics.NotificationsSent.WithLabelValues("ok").Inc()
		}

		rec := Record{
			AlarmID:        a.ID,
			NotificationID: id,
			FiredAt:        firedAt,
			ExpiresAt:      firedAt.Add(d.opts.VisibilityWindow),
		}
		if !d.track(rec) {
			// Closed while the create was in flight.
			d.clear(id)
			continue
		}
		d.logger.Info().Str("alarm_id", a.ID).Str("notification_id", id).Str("condition", a.Describe()).Msg("alarm notification sent")
		records = append(records, rec)
	}
	return records
}

// Outstanding lists the notifications that have not been cleared yet, oldest first.
func (d *Dispatcher) Outstanding() []Record {
	d.mu.Lock()
	out := make([]Record, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, p.record)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].NotificationID < out[j].NotificationID
		}
		return out[i].FiredAt.Before(out[j].FiredAt)
	})
	return out
}

// Close cancels pending clear timers and clears every outstanding notification.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	ids := make([]string, 0, len(d.pending))
	for id, p := range d.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	d.pending = make(map[string]*pending)
	d.used = make(map[string]struct{})
	d.mu.Unlock()

	sort.Strings(ids)
	var errs []error
	for _, id := range ids {
		if err := d.clear(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message renders the notification body for a fired alarm.
func Message(a alarm.Alarm, tick market.PriceTick) string {
	ccy := a.EffectiveCurrency()
	return fmt.Sprintf("Bitcoin price is now %s!\nCurrent price: %s%s",
		a.Describe(), ccy.Sign(), market.FormatPrice(tick.Price(ccy)))
}

func (d *Dispatcher) reserve(alarmID string, firedAt time.Time) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", false
	}

	base := fmt.Sprintf("alarm_%s_%d", alarmID, firedAt.UnixMilli())
	id := base
	for n := 1; ; n++ {
		if _, taken := d.used[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	d.used[id] = struct{}{}
	return id, true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.used, id)
	d.mu.Unlock()
}

func (d *Dispatcher) track(rec Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	id := rec.NotificationID
	d.pending[id] = &pending{
		record: rec,
		timer:  time.AfterFunc(d.opts.VisibilityWindow, func() { d.expire(id) }),
	}
	return true
}

func (d *Dispatcher) expire(id string) {
	d.mu.Lock()
	_, ok := d.pending[id]
	delete(d.pending, id)
	delete(d.used, id)
	d.mu.Unlock()

	if ok {
		_ = d.clear(id)
	}
}

func (d *Dispatcher) clear(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ClearTimeout)
	defer cancel()
	if err := d.surface.Clear(ctx, id); err != nil {
		d.logger.Warn().Err(err).Str("notification_id", id).Msg("clear notification failed")
		return fmt.Errorf("clear %s: %w", id, err)
	}
	d.logger.Debug().Str("notification_id", id).Msg("notification cleared")
	return nil
}
