package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WebSocket close codes.
const (
	// NormalClosure ends an intentional shutdown.
	NormalClosure = 1000
	// GoingAway releases a connection that already failed.
	GoingAway = 1001
)

// ErrClosed is returned by Conn operations after Close.
var ErrClosed = errors.New("channel: connection closed")

// Conn is one open transport connection.
type Conn interface {
	// ReadMessage blocks until the next raw message arrives. Any error ends
	// the connection.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Transport opens connections to the remote service.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
	Name() string
}

const (
	TransportWebSocket = "websocket"
	TransportPoll      = "poll"
)

// TransportConfig selects and configures a transport.
type TransportConfig struct {
	Kind         string
	WebSocketURL string
	PollInterval time.Duration
	Fetcher      Fetcher
	Logger       *slog.Logger
}

// NewTransport builds the transport named by cfg.Kind. An empty kind means
// WebSocket.
func NewTransport(cfg TransportConfig) (Transport, error) {
	switch cfg.Kind {
	case "", TransportWebSocket:
		if cfg.WebSocketURL == "" {
			return nil, errors.New("websocket transport: url is required")
		}
		return NewWebSocketTransport(cfg.WebSocketURL), nil
	case TransportPoll:
		if cfg.Fetcher == nil {
			return nil, errors.New("poll transport: api client is required")
		}
		return NewPollTransport(cfg.Fetcher, cfg.PollInterval, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}
