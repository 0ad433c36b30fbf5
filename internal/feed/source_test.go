package feed

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcwatch/internal/market"
)

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	urls  []string
	dial  func(n int, url string) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.urls = append(d.urls, url)
	dial := d.dial
	d.mu.Unlock()
	return dial(n, url)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func failingDialer() *fakeDialer {
	return &fakeDialer{dial: func(int, string) (Conn, error) { return nil, errors.New("connection refused") }}
}

type fakeFetcher struct {
	calls atomic.Int32
	fetch func(n int32) (market.PriceTick, error)
}

func (f *fakeFetcher) FetchTick(ctx context.Context) (market.PriceTick, error) {
	return f.fetch(f.calls.Add(1))
}

func staticFetcher(usd int64) *fakeFetcher {
	return &fakeFetcher{fetch: func(int32) (market.PriceTick, error) {
		return market.NewPriceTick(time.Now(), map[market.Currency]market.Quote{
			market.USD: {Last: decimal.NewFromInt(usd)},
		}), nil
	}}
}

type transition struct {
	state    ConnectionState
	attempts int
}

type recorder struct {
	mu      sync.Mutex
	seen    []transition
	stopped bool
	late    []transition
}

func (r *recorder) observe(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		r.late = append(r.late, transition{st.State, st.ReconnectAttempts})
		return
	}
	r.seen = append(r.seen, transition{st.State, st.ReconnectAttempts})
}

func (r *recorder) markStopped() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.seen...)
}

type tickSink struct {
	mu    sync.Mutex
	ticks []market.PriceTick
}

func (s *tickSink) handle(_ context.Context, tick market.PriceTick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
}

func (s *tickSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func (s *tickSink) last() market.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[len(s.ticks)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bothSymbols() Symbols {
	return Symbols{market.USD: "BTCUSDT", market.EUR: "BTCEUR"}
}

func TestStreamEmitsMergedTick(t *testing.T) {
	conns := map[string]*fakeConn{"btcusdt": newFakeConn(), "btceur": newFakeConn()}
	dialer := &fakeDialer{dial: func(_ int, url string) (Conn, error) {
		for sym, c := range conns {
			if strings.Contains(url, "/ws/"+sym+"@ticker") {
				return c, nil
			}
		}
		return nil, errors.New("unexpected url " + url)
	}}

	src := NewSource(Options{Mode: ModeStream, Symbols: bothSymbols(), StreamBaseURL: "wss://example.test/", MaxReconnectAttempts: 3}, staticFetcher(1), dialer, zerolog.Nop())
	sink := &tickSink{}
	src.Subscribe(sink.handle)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "connected", func() bool { return src.Status().State == Connected })

	conns["btcusdt"].msgs <- []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"50000.10","h":"51000","l":"49000","P":"1.50"}`)
	time.Sleep(20 * time.Millisecond)
	if sink.len() != 0 {
		t.Fatal("tick must wait until every currency has a quote")
	}

	conns["btceur"].msgs <- []byte(`{"e":"24hrTicker","s":"BTCEUR","c":"46000","h":"47000","l":"45000","P":"-0.25"}`)
	waitFor(t, "merged tick", func() bool { return sink.len() == 1 })

	tick := sink.last()
	if !tick.Price(market.USD).Equal(decimal.RequireFromString("50000.10")) {
		t.Fatalf("unexpected usd price %s", tick.Price(market.USD))
	}
	if !tick.Price(market.EUR).Equal(decimal.NewFromInt(46000)) {
		t.Fatalf("unexpected eur price %s", tick.Price(market.EUR))
	}
	if !tick.High24h().Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("unexpected high %s", tick.High24h())
	}
	if src.Status().Polling {
		t.Fatal("a healthy stream must not poll")
	}
}

func TestStreamFallsBackToPollingAfterMaxAttempts(t *testing.T) {
	rec := &recorder{}
	fetcher := staticFetcher(50000)
	dialer := failingDialer()
	pollInterval := 50 * time.Millisecond

	src := NewSource(Options{
		Mode:                 ModeStream,
		Symbols:              Symbols{market.USD: "BTCUSDT"},
		MaxReconnectAttempts: 2,
		ReconnectBackoff:     time.Millisecond,
		PollInterval:         pollInterval,
		OnStatus:             rec.observe,
	}, fetcher, dialer, zerolog.Nop())
	sink := &tickSink{}
	src.Subscribe(sink.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "failed state", func() bool { return len(rec.transitions()) == 7 })
	failedAt := time.Now()

	want := []transition{
		{Connecting, 0}, {Disconnected, 0},
		{Connecting, 1}, {Disconnected, 1},
		{Connecting, 2}, {Disconnected, 2},
		{Failed, 2},
	}
	if got := rec.transitions(); !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	if dialer.count() != 3 {
		t.Fatalf("expected 3 dials, got %d", dialer.count())
	}

	waitFor(t, "fallback poll", func() bool { return sink.len() > 0 })
	if elapsed := time.Since(failedAt); elapsed > pollInterval+time.Second {
		t.Fatalf("fallback took %s", elapsed)
	}
	if !src.Status().Polling {
		t.Fatal("status should report polling fallback")
	}
}

func TestStopDuringScheduledReconnect(t *testing.T) {
	rec := &recorder{}
	dialer := failingDialer()
	src := NewSource(Options{
		Mode:                 ModeStream,
		Symbols:              Symbols{market.USD: "BTCUSDT"},
		MaxReconnectAttempts: 5,
		ReconnectBackoff:     time.Hour,
		OnStatus:             rec.observe,
	}, staticFetcher(1), dialer, zerolog.Nop())
	sink := &tickSink{}
	src.Subscribe(sink.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "reconnect scheduled", func() bool { return src.Status().ReconnectAttempts == 1 })

	rec.markStopped()
	stopped := make(chan struct{})
	go func() {
		src.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop must cancel the pending backoff")
	}

	time.Sleep(30 * time.Millisecond)
	if dialer.count() != 1 {
		t.Fatalf("no dial may happen after stop, got %d dials", dialer.count())
	}
	for _, tr := range rec.late {
		if tr.state == Connecting {
			t.Fatal("observed CONNECTING after stop")
		}
	}
	if sink.len() != 0 {
		t.Fatal("no tick may be emitted")
	}
}

func TestRestartLeavesPollingFallback(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{dial: func(n int, _ string) (Conn, error) {
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}}
	src := NewSource(Options{
		Mode:                 ModeStream,
		Symbols:              Symbols{market.USD: "BTCUSDT"},
		MaxReconnectAttempts: 0,
		PollInterval:         time.Hour,
	}, staticFetcher(1), dialer, zerolog.Nop())

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "failed state", func() bool { return src.Status().State == Failed })
	src.Restart()
	waitFor(t, "reconnected", func() bool { return src.Status().State == Connected })

	st := src.Status()
	if st.Polling || st.ReconnectAttempts != 0 {
		t.Fatalf("restart should reset the stream, got %+v", st)
	}
}

func TestConnectedStreamReconnectsAfterClose(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{dial: func(n int, _ string) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}}
	src := NewSource(Options{
		Mode:                 ModeStream,
		Symbols:              Symbols{market.USD: "BTCUSDT"},
		MaxReconnectAttempts: 3,
		ReconnectBackoff:     time.Millisecond,
	}, staticFetcher(1), dialer, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "connected", func() bool { return src.Status().State == Connected })
	first.Close()

	waitFor(t, "second session", func() bool { return dialer.count() == 2 && src.Status().State == Connected })
	if src.Status().ReconnectAttempts != 0 {
		t.Fatal("a successful open resets the attempt counter")
	}
}

func TestStreamDropsMalformedPayload(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{dial: func(int, string) (Conn, error) { return conn, nil }}
	src := NewSource(Options{Mode: ModeStream, Symbols: Symbols{market.USD: "BTCUSDT"}, MaxReconnectAttempts: 1}, staticFetcher(1), dialer, zerolog.Nop())
	sink := &tickSink{}
	src.Subscribe(sink.handle)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	conn.msgs <- []byte(`{"c":"50000"}`)
	conn.msgs <- []byte(`not json`)
	conn.msgs <- []byte(`{"c":"50100","h":"51000","l":"49000","P":"0.2"}`)

	waitFor(t, "valid tick", func() bool { return sink.len() == 1 })
	if dialer.count() != 1 {
		t.Fatal("malformed payloads must not reconnect the stream")
	}
	if !sink.last().Price(market.USD).Equal(decimal.NewFromInt(50100)) {
		t.Fatal("unexpected tick price")
	}
}

func TestStaleStreamIsReopened(t *testing.T) {
	dialer := &fakeDialer{dial: func(int, string) (Conn, error) { return newFakeConn(), nil }}
	src := NewSource(Options{
		Mode:                 ModeStream,
		Symbols:              Symbols{market.USD: "BTCUSDT"},
		MaxReconnectAttempts: 10,
		ReconnectBackoff:     time.Millisecond,
		StaleAfter:           10 * time.Millisecond,
	}, staticFetcher(1), dialer, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "stale reconnect", func() bool { return dialer.count() >= 2 })
}

func TestPollModeSurvivesFailedRoundTrip(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(n int32) (market.PriceTick, error) {
		if n == 1 {
			return market.PriceTick{}, errors.New("timeout")
		}
		return market.NewPriceTick(time.Now(), map[market.Currency]market.Quote{market.USD: {Last: decimal.NewFromInt(int64(n))}}), nil
	}}
	src := NewSource(Options{Mode: ModePoll, PollInterval: 10 * time.Millisecond}, fetcher, nil, zerolog.Nop())
	sink := &tickSink{}
	src.Subscribe(sink.handle)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "tick after failure", func() bool { return sink.len() >= 2 })
	src.Stop()

	count := sink.len()
	time.Sleep(40 * time.Millisecond)
	if sink.len() != count {
		t.Fatal("ticks emitted after Stop returned")
	}
}

func TestAlignedPollsKeepPolling(t *testing.T) {
	fetcher := staticFetcher(1)
	src := NewSource(Options{Mode: ModePoll, PollInterval: 10 * time.Millisecond, AlignPolls: true}, fetcher, nil, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "aligned polls", func() bool { return fetcher.calls.Load() >= 3 })
}

func TestRefreshTriggersImmediatePoll(t *testing.T) {
	fetcher := staticFetcher(1)
	src := NewSource(Options{Mode: ModePoll, PollInterval: time.Hour}, fetcher, nil, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "initial poll", func() bool { return fetcher.calls.Load() == 1 })
	src.Refresh()
	waitFor(t, "refresh poll", func() bool { return fetcher.calls.Load() == 2 })
}

func TestStartTwiceFails(t *testing.T) {
	src := NewSource(Options{Mode: ModePoll, PollInterval: time.Hour}, staticFetcher(1), nil, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()
	if err := src.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	src.Stop()
	src.Stop()
}

func TestPanickingHandlerDoesNotStopSource(t *testing.T) {
	fetcher := staticFetcher(1)
	src := NewSource(Options{Mode: ModePoll, PollInterval: 5 * time.Millisecond}, fetcher, nil, zerolog.Nop())
	src.Subscribe(func(context.Context, market.PriceTick) { panic("boom") })
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer src.Stop()

	waitFor(t, "polling continues", func() bool { return fetcher.calls.Load() >= 3 })
}
