// Package feed produces BTC price ticks either by polling the exchange REST
// ticker or by holding one ticker stream per symbol open, falling back to
// polling when the streams keep failing.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"btcwatch/internal/market"
)

// ErrDataShape marks a payload that is missing expected fields.
var ErrDataShape = errors.New("unexpected payload shape")

// Mode selects the price source strategy.
type Mode string

const (
	ModePoll   Mode = "poll"
	ModeStream Mode = "stream"
)

// ParseMode validates a configured strategy name.
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case ModePoll:
		return ModePoll, nil
	case ModeStream:
		return ModeStream, nil
	default:
		return "", fmt.Errorf("unknown feed mode %q", v)
	}
}

// ConnectionState is the stream state machine position.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the source.
type Status struct {
	Mode              Mode            `json:"mode"`
	State             ConnectionState `json:"-"`
	StateName         string          `json:"state"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	Polling           bool            `json:"polling"`
}

// TickHandler consumes emitted ticks. Handlers run one at a time in emission order.
type TickHandler func(ctx context.Context, tick market.PriceTick)

// Fetcher performs a single round-trip for the latest tick.
type Fetcher interface {
	FetchTick(ctx context.Context) (market.PriceTick, error)
}

// Symbols maps each tracked currency to its exchange symbol, e.g. USD -> BTCUSDT.
type Symbols map[market.Currency]string

// Currencies returns the tracked currencies in a stable order.
func (s Symbols) Currencies() []market.Currency {
	out := make([]market.Currency, 0, len(s))
	for ccy := range s {
		out = append(out, ccy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Symbols) bySymbol() map[string]market.Currency {
	out := make(map[string]market.Currency, len(s))
	for ccy, sym := range s {
		out[strings.ToUpper(sym)] = ccy
	}
	return out
}
