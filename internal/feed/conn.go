package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"trade_sim/internal/domain"

	"github.com/gorilla/websocket"
)

// DefaultUserAgent is sent on the websocket handshake.
const DefaultUserAgent = "trade_sim/1.0"

// Conn is the subset of a websocket connection the adapter needs.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials websocket endpoints with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial connects to url. Failures are returned as retriable network errors.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	header := d.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", DefaultUserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			// 4xx means the endpoint or symbol is wrong; retrying won't help
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, domain.NewFatalNetworkError("dial", fmt.Errorf("%s: %w", resp.Status, err))
			}
		}
		return nil, domain.NewNetworkError("dial", err)
	}
	return conn, nil
}
