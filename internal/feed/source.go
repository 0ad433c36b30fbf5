package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"btcwatch/internal/market"
	"btcwatch/internal/metrics"
	"btcwatch/internal/scheduler"
)

var errRestartRequested = errors.New("restart requested")

// Options configure a Source.
type Options struct {
	Mode          Mode
	Symbols       Symbols
	StreamBaseURL string
	PollInterval  time.Duration
	// AlignPolls snaps scheduled polls to wall-clock multiples of PollInterval.
	AlignPolls           bool
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	// StaleAfter closes a stream session that delivered nothing for this long. Zero disables it.
	StaleAfter time.Duration
	// OnStatus observes every state transition.
	OnStatus func(Status)
}

// Source is the price source. In stream mode it walks the connection state
// machine and polls while the stream is in the failed state.
type Source struct {
	opts    Options
	fetcher Fetcher
	dialer  Dialer
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	handlers []TickHandler
	cancel   context.CancelFunc
	done     chan struct{}
	poller   *scheduler.Scheduler

	restart  chan struct{}
	state    atomic.Int32
	attempts atomic.Int32
	polling  atomic.Bool
}

// NewSource wires a price source. fetcher serves poll mode and the stream fallback.
func NewSource(opts Options, fetcher Fetcher, dialer Dialer, logger zerolog.Logger) *Source {
	if opts.Mode == "" {
		opts.Mode = ModePoll
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 5 * time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if dialer == nil {
		dialer = WSDialer{}
	}

	return &Source{
		opts:    opts,
		fetcher: fetcher,
		dialer:  dialer,
		logger:  logger.With().Str("component", "price_source").Logger(),
		now:     time.Now,
		restart: make(chan struct{}, 1),
	}
}

// Subscribe registers h for every tick emitted from now on.
func (s *Source) Subscribe(h TickHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

// Start launches the source worker. It returns immediately.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("price source already running")
	}
	if s.fetcher == nil {
		return errors.New("price source requires a ticker fetcher")
	}
	if s.opts.Mode == ModeStream && len(s.opts.Symbols) == 0 {
		return errors.New("stream mode requires at least one symbol")
	}

	select {
	case <-s.restart:
	default:
	}
	s.attempts.Store(0)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		s.run(runCtx)
	}()
	return nil
}

// Stop cancels every pending timer and open stream and waits for the worker.
// No handler is invoked after Stop returns.
func (s *Source) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.polling.Store(false)
	s.setState(Disconnected)
}

// Restart requests a manual restart: a failed stream leaves the polling
// fallback and reconnects with a fresh attempt budget, a connected stream is
// reopened, and a poller fetches right away.
func (s *Source) Restart() {
	select {
	case s.restart <- struct{}{}:
	default:
	}
}

// Refresh asks an active poller for an immediate fetch. Streams push on their own.
func (s *Source) Refresh() {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p != nil {
		p.Trigger()
	}
}

// State reports the connection state alone.
func (s *Source) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Status reports the current state.
func (s *Source) Status() Status {
	st := ConnectionState(s.state.Load())
	return Status{
		Mode:              s.opts.Mode,
		State:             st,
		StateName:         st.String(),
		ReconnectAttempts: int(s.attempts.Load()),
		Polling:           s.polling.Load(),
	}
}

func (s *Source) run(ctx context.Context) {
	s.logger.Info().Str("mode", string(s.opts.Mode)).Msg("price source started")
	defer s.logger.Info().Msg("price source stopped")

	if s.opts.Mode == ModePoll {
		s.polling.Store(true)
		s.poll(ctx, false)
		return
	}
	s.stream(ctx)
}

func (s *Source) stream(ctx context.Context) {
	for {
		s.setState(Connecting)
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.setState(Disconnected)

		if errors.Is(err, errRestartRequested) {
			s.logger.Info().Msg("stream restart requested")
			s.attempts.Store(0)
			continue
		}

		attempts := int(s.attempts.Load())
		if attempts < s.opts.MaxReconnectAttempts {
			s.attempts.Store(int32(attempts + 1))
			metrics.Reconnects.Inc()
			s.logger.Warn().Err(err).
				Int("attempt", attempts+1).
				Int("max_attempts", s.opts.MaxReconnectAttempts).
				Dur("backoff", s.opts.ReconnectBackoff).
				Msg("stream lost, reconnect scheduled")
			if !s.backoff(ctx) {
				return
			}
			continue
		}

		s.logger.Error().Err(err).Int("attempts", attempts).Msg("stream failed, falling back to polling")
		metrics.PollingFallbacks.Inc()
		s.polling.Store(true)
		s.setState(Failed)

		restarted := s.poll(ctx, true)
		s.polling.Store(false)
		if !restarted {
			return
		}
		s.logger.Info().Msg("manual restart, leaving polling fallback")
		s.attempts.Store(0)
	}
}

func (s *Source) backoff(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.ReconnectBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.restart:
		s.attempts.Store(0)
		return true
	case <-timer.C:
		return true
	}
}

type streamMessage struct {
	ccy     market.Currency
	payload []byte
}

func (s *Source) session(ctx context.Context) error {
	sessCtx, cancel := context.WithCancel(ctx)
	var (
		conns []Conn
		wg    sync.WaitGroup
	)
	defer func() {
		cancel()
		for _, c := range conns {
			_ = c.Close()
		}
		wg.Wait()
	}()

	currencies := s.opts.Symbols.Currencies()
	for _, ccy := range currencies {
		symbol := s.opts.Symbols[ccy]
		conn, err := s.dialer.Dial(sessCtx, StreamURL(s.opts.StreamBaseURL, symbol))
		if err != nil {
			return fmt.Errorf("open %s stream: %w", symbol, err)
		}
		conns = append(conns, conn)
	}

	s.attempts.Store(0)
	s.setState(Connected)
	s.logger.Info().Int("streams", len(conns)).Msg("ticker streams connected")

	msgs := make(chan streamMessage)
	errs := make(chan error, len(conns))
	for i, conn := range conns {
		wg.Add(1)
		go func(ccy market.Currency, conn Conn) {
			defer wg.Done()
			for {
				payload, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("read %s stream: %w", ccy, err)
					return
				}
				select {
				case msgs <- streamMessage{ccy: ccy, payload: payload}:
				case <-sessCtx.Done():
					return
				}
			}
		}(currencies[i], conn)
	}

	var (
		staleTimer *time.Timer
		stale      <-chan time.Time
	)
	if s.opts.StaleAfter > 0 {
		staleTimer = time.NewTimer(s.opts.StaleAfter)
		defer staleTimer.Stop()
		stale = staleTimer.C
	}

	quotes := make(map[market.Currency]market.Quote, len(currencies))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.restart:
			return errRestartRequested
		case err := <-errs:
			return err
		case <-stale:
			return fmt.Errorf("no stream data for %s", s.opts.StaleAfter)
		case msg := <-msgs:
			q, err := parseStreamQuote(msg.payload)
			if err != nil {
				metrics.TicksDropped.WithLabelValues("stream", "shape").Inc()
				s.logger.Warn().Err(err).Str("currency", string(msg.ccy)).Msg("dropping stream payload")
				continue
			}
			if staleTimer != nil {
				staleTimer.Reset(s.opts.StaleAfter)
			}
			quotes[msg.ccy] = q
			if len(quotes) == len(currencies) {
				s.emit(ctx, "stream", market.NewPriceTick(s.now().UTC(), quotes))
			}
		}
	}
}

func (s *Source) poll(ctx context.Context, untilRestart bool) bool {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     s.opts.PollInterval,
		AlignToStart: s.opts.AlignPolls,
		Immediate:    true,
	}, s.logger)
	s.setPoller(sched)
	defer s.setPoller(nil)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = sched.Run(pollCtx, s.pollOnce)
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-finished
			return false
		case <-s.restart:
			if untilRestart {
				cancel()
				<-finished
				return true
			}
			sched.Trigger()
		}
	}
}

func (s *Source) pollOnce(ctx context.Context, _ time.Time) error {
	tick, err := s.fetcher.FetchTick(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		reason := "network"
		if errors.Is(err, ErrDataShape) {
			reason = "shape"
		}
		metrics.TicksDropped.WithLabelValues("poll", reason).Inc()
		return fmt.Errorf("fetch ticker: %w", err)
	}
	s.emit(ctx, "poll", tick)
	return nil
}

func (s *Source) emit(ctx context.Context, strategy string, tick market.PriceTick) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	handlers := append([]TickHandler(nil), s.handlers...)
	s.mu.Unlock()

	metrics.TicksEmitted.WithLabelValues(strategy).Inc()
	for _, h := range handlers {
		s.invoke(ctx, h, tick)
	}
}

func (s *Source) invoke(ctx context.Context, h TickHandler, tick market.PriceTick) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("tick handler panicked")
		}
	}()
	h(ctx, tick)
}

func (s *Source) setPoller(p *scheduler.Scheduler) {
	s.mu.Lock()
	s.poller = p
	s.mu.Unlock()
}

func (s *Source) setState(st ConnectionState) {
	s.state.Store(int32(st))
	metrics.ConnectionState.Set(float64(st))
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(s.Status())
	}
}
