package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// maxMessageSize bounds a single inbound frame; agent status snapshots
	// are the largest messages the service sends.
	maxMessageSize = 4 << 20
)

// WebSocketTransport dials the service's live channel.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
}

func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		header: http.Header{},
	}
}

// SetHeader adds a header sent with the handshake, e.g. Authorization.
func (t *WebSocketTransport) SetHeader(key, value string) {
	t.header.Set(key, value)
}

func (t *WebSocketTransport) Name() string { return TransportWebSocket }

func (t *WebSocketTransport) Open(ctx context.Context) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	// Best effort: the peer may already be gone.
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
