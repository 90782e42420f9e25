package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/events"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Options tunes timing. Zero values take the defaults above.
type Options struct {
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// Client implements Channel over a Transport.
//
// Every opened connection gets a new generation number. Disconnect and each
// reconnect bump it, and every callback from a connection (read errors,
// heartbeat ticks, reconnect timers) checks its generation first, so a
// connection that has been replaced or shut down cannot revive the client.
type Client struct {
	transport Transport
	opts      Options
	logger    *slog.Logger
	subs      *registry

	mu             sync.Mutex
	state          State
	gen            uint64
	conn           Conn
	attempts       int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	cancelOpen     context.CancelFunc
	lastHeartbeat  time.Time

	writeMu sync.Mutex
}

// New returns a disconnected Client. Call Connect to start it.
func New(transport Transport, opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		opts:      opts,
		logger:    logger,
		subs:      newRegistry(),
	}
}

// TransportName reports which transport the client runs on.
func (c *Client) TransportName() string {
	return c.transport.Name()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat returns when the remote side last answered a heartbeat.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Connect opens the transport. It is a no-op while connecting or connected,
// including while a reconnect is pending. An explicit Connect resets the
// reconnect attempt budget.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	gen := c.beginOpenLocked()
	c.mu.Unlock()

	c.logger.Debug("channel: connecting", "transport", c.transport.Name())
	go c.open(gen)
}

// beginOpenLocked moves to Connecting under a fresh generation. c.mu must
// be held.
func (c *Client) beginOpenLocked() uint64 {
	c.stopReconnectLocked()
	c.gen++
	c.state = StateConnecting
	return c.gen
}

func (c *Client) open(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelOpen = cancel
	c.mu.Unlock()

	conn, err := c.transport.Open(ctx)

	c.mu.Lock()
	c.cancelOpen = nil
	if gen != c.gen {
		c.mu.Unlock()
		cancel()
		if conn != nil {
			conn.Close(NormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		cancel()
		c.connectionLost(gen, err, false)
		return
	}
	c.conn = conn
	c.state = StateConnected
	// A successful open ends the run of consecutive failures.
	c.attempts = 0
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()
	cancel()

	c.logger.Info("channel: connected", "transport", c.transport.Name())
	go c.heartbeat(gen, conn, stop)
	c.emitCurrent(gen, events.Connected, events.Event{Type: events.Connected, ReceivedAt: time.Now()})
	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, err, true)
			return
		}
		if !c.current(gen) {
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// connectionLost handles an abnormal closure: a failed open or a connection
// that dropped without a local Disconnect. The dead connection is closed and
// a reconnect scheduled until MaxReconnectAttempts consecutive failures have
// been retried.
func (c *Client) connectionLost(gen uint64, cause error, wasConnected bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	dead := c.conn
	c.conn = nil
	c.mu.Unlock()

	// Release the failed connection before any replacement is opened.
	if dead != nil {
		c.writeMu.Lock()
		if err := dead.Close(GoingAway, ReasonConnectionLost); err != nil {
			c.logger.Debug("channel: close failed connection", "err", err)
		}
		c.writeMu.Unlock()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	retry := c.attempts < c.opts.MaxReconnectAttempts
	attempt := 0
	if retry {
		c.attempts++
		attempt = c.attempts
		c.state = StateConnecting
		c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() { c.reconnect(gen) })
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.logger.Warn("channel: connection failed",
		"transport", c.transport.Name(),
		"err", cause,
		"reconnect_attempt", attempt,
		"max_attempts", c.opts.MaxReconnectAttempts,
	)
	c.emit(events.Error, newErrorEvent(cause))

	switch {
	case !retry:
		c.logger.Warn("channel: reconnect attempts exhausted", "transport", c.transport.Name())
		c.emit(events.Disconnected, newDisconnectedEvent(ReasonAttemptsExhausted, false))
	case wasConnected:
		c.emit(events.Disconnected, newDisconnectedEvent(cause.Error(), true))
	}
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	next := c.beginOpenLocked()
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("channel: reconnecting", "attempt", attempt)
	c.open(next)
}

// Disconnect shuts the channel down. Pending reconnects and the heartbeat
// are cancelled before it returns; late errors from the closed connection
// are ignored.
func (c *Client) Disconnect() {
	c.mu.Lock()
	prev := c.state
	pending := c.reconnectTimer != nil
	c.gen++
	gen := c.gen
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	if c.cancelOpen != nil {
		c.cancelOpen()
		c.cancelOpen = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosing
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		if err := conn.Close(NormalClosure, ReasonClientDisconnect); err != nil {
			c.logger.Debug("channel: close failed", "err", err)
		}
		c.writeMu.Unlock()
	}

	c.mu.Lock()
	if gen == c.gen {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if prev != StateDisconnected || pending {
		c.logger.Info("channel: disconnected", "transport", c.transport.Name())
		c.emit(events.Disconnected, newDisconnectedEvent(ReasonClientDisconnect, false))
	}
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

type heartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (c *Client) heartbeat(gen uint64, conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			data, _ := json.Marshal(heartbeatMessage{
				Type:      "heartbeat",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			live, err := c.writeCurrent(gen, conn, data)
			if !live {
				return
			}
			if err != nil {
				// The read loop notices a dead connection; a failed heartbeat
				// alone does not tear it down.
				c.logger.Debug("channel: heartbeat failed", "err", err)
			}
		}
	}
}

// Send writes v as JSON to the remote side. When the channel is not
// connected the message is dropped and logged.
func (c *Client) Send(v any) {
	var data []byte
	switch m := v.(type) {
	case []byte:
		data = m
	case string:
		data = []byte(m)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			c.logger.Warn("channel: send: encode failed", "err", err)
			return
		}
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		c.logger.Warn("channel: not connected, dropping message", "state", state.String())
		return
	}
	if err := c.write(conn, data); err != nil {
		c.logger.Warn("channel: send failed", "err", err)
	}
}

func (c *Client) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

// writeCurrent writes only if gen is still the live generation. The check
// happens under writeMu, which Disconnect also takes to close the
// connection, so nothing is written once Disconnect has returned.
func (c *Client) writeCurrent(gen uint64, conn Conn, data []byte) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.current(gen) {
		return false, nil
	}
	return true, conn.WriteMessage(data)
}

// On registers h for events of type t. Subscribe to events.Message to see
// every classified event.
func (c *Client) On(t events.EventType, h Handler) *Subscription {
	return c.subs.add(t, h)
}

// Off removes a subscription. It is safe to call from inside a handler and
// on an already removed subscription.
func (c *Client) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	c.subs.remove(sub)
}

// Subscribers reports how many handlers are registered for t.
func (c *Client) Subscribers(t events.EventType) int {
	return c.subs.count(t)
}

func (c *Client) dispatch(data []byte) {
	env, err := events.Decode(data)
	if err != nil {
		c.logger.Warn("channel: dropping malformed message", "err", err, "bytes", len(data))
		return
	}
	t, ok := events.Classify(env.Type)
	if !ok {
		c.logger.Debug("channel: ignoring unrecognized message", "type", env.Type)
		return
	}
	now := time.Now()
	if t == events.Heartbeat {
		c.mu.Lock()
		c.lastHeartbeat = now
		c.mu.Unlock()
		return
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	e := events.Event{Type: t, Kind: env.Type, Payload: payload, ReceivedAt: now}
	c.emit(events.Message, e)
	c.emit(t, e)
}

// emitCurrent delivers e while gen is still the live generation. A handler
// that disconnects or reconnects stops the remaining deliveries.
func (c *Client) emitCurrent(gen uint64, key events.EventType, e events.Event) {
	for _, sub := range c.subs.snapshot(key) {
		if !c.current(gen) {
			return
		}
		if sub.removed.Load() {
			continue
		}
		c.call(sub, e)
	}
}

func (c *Client) emit(key events.EventType, e events.Event) {
	for _, sub := range c.subs.snapshot(key) {
		if sub.removed.Load() {
			continue
		}
		c.call(sub, e)
	}
}

func (c *Client) call(sub *Subscription, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("channel: handler panicked", "event", string(e.Type), "panic", r)
		}
	}()
	sub.handler(e)
}

func newErrorEvent(err error) events.Event {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return events.Event{Type: events.Error, Payload: payload, ReceivedAt: time.Now()}
}

// Disconnect reasons that do not come from a transport error.
const (
	ReasonClientDisconnect  = "client disconnect"
	ReasonAttemptsExhausted = "reconnect attempts exhausted"
	ReasonConnectionLost    = "connection lost"
)

// DisconnectInfo is the payload of a disconnected event.
type DisconnectInfo struct {
	Reason       string `json:"reason"`
	Reconnecting bool   `json:"reconnecting"`
}

func newDisconnectedEvent(reason string, reconnecting bool) events.Event {
	payload, _ := json.Marshal(DisconnectInfo{Reason: reason, Reconnecting: reconnecting})
	return events.Event{Type: events.Disconnected, Payload: payload, ReceivedAt: time.Now()}
}
