package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"btcwatch/internal/market"
)

// Conn is one open ticker stream.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens ticker streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer opens streams over gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to url and returns the stream.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return wsConn{conn}, nil
}

type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.Conn.ReadMessage()
	return payload, err
}

// StreamURL builds the per-symbol ticker stream address.
func StreamURL(base, symbol string) string {
	return strings.TrimRight(base, "/") + "/ws/" + strings.ToLower(symbol) + "@ticker"
}

func parseStreamQuote(payload []byte) (market.Quote, error) {
	if !gjson.ValidBytes(payload) {
		return market.Quote{}, fmt.Errorf("%w: invalid json", ErrDataShape)
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return market.Quote{}, fmt.Errorf("%w: expected ticker object", ErrDataShape)
	}
	return quoteFrom(doc, "c", "h", "l", "P")
}

var _ Dialer = WSDialer{}
