package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/agent-dashboard/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClientMsg struct {
	Type string `json:"type"`
}

// snapshot is the first event every stream client receives.
func (s *Server) snapshot() events.Event {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	payload, _ := json.Marshal(map[string]any{
		"channel": st.String(),
		"summary": s.view.Summary(),
	})
	return events.Event{Type: "snapshot", Payload: payload, ReceivedAt: time.Now()}
}

// handleWS streams the same events as /events over a WebSocket, one JSON
// event per text frame. Clients may send {"type":"heartbeat"} and get one
// back.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 64)
	s.addClient(ch)
	defer s.removeClient(ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	ping := func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	}

	if err := write(s.snapshot()); err != nil {
		return
	}

	// Read loop: heartbeats from the client; any error ends the stream.
	go func() {
		defer cancel()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsClientMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Type == "heartbeat" {
				write(map[string]string{
					"type":      "heartbeat",
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
				time.Now().Add(time.Second))
			writeMu.Unlock()
			return
		case e := <-ch:
			if err := write(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := ping(); err != nil {
				return
			}
		}
	}
}
