package notify_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/events"
	"github.com/zsprackett/agent-dashboard/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quiet(n *notify.Notifier) *notify.Notifier {
	n.SetCommandRunner(func(string, ...string) error { return nil })
	return n
}

func TestNtfyNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	n := quiet(notify.New(notify.Config{
		Enabled: true,
		NtfyURL: srv.URL + "/test-topic",
	}, discardLogger()))

	n.Notify(events.TaskMessage{
		Type:        "task_failed",
		TaskID:      "1234567890",
		Description: "write a haiku",
		Error:       "agent crashed",
	})

	if received == nil {
		t.Fatal("no POST received")
	}
	if received["title"] != "write a haiku failed" {
		t.Errorf("unexpected title: %v", received["title"])
	}
	if received["message"] != "agent crashed" {
		t.Errorf("unexpected message: %v", received["message"])
	}
}

func TestWebhookPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer srv.Close()

	n := quiet(notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger()))
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: "t1", Status: "completed", Result: "ok"})

	if received["task_id"] != "t1" || received["event"] != "task_completed" || received["result"] != "ok" {
		t.Errorf("unexpected payload: %v", received)
	}
}

func TestNotify_WebhookErrorLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Invalid URL forces a POST error.
	n := quiet(notify.New(notify.Config{Enabled: true, Webhook: "http://127.0.0.1:1"}, logger))
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: "t1"})

	if !strings.Contains(buf.String(), "webhook") {
		t.Errorf("expected warn log mentioning webhook, got: %q", buf.String())
	}
}

func TestNotify_DisabledNoOp(t *testing.T) {
	called := false
	n := notify.New(notify.Config{Enabled: false}, discardLogger())
	n.SetCommandRunner(func(string, ...string) error { called = true; return nil })
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: "t1"})
	if called {
		t.Error("disabled notifier ran a command")
	}
}

func TestNotify_OncePerOutcome(t *testing.T) {
	var mu sync.Mutex
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		posts++
		mu.Unlock()
	}))
	defer srv.Close()

	n := quiet(notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger()))
	msg := events.TaskMessage{Type: "task_completed", TaskID: "t1"}
	n.Notify(msg)
	n.Notify(msg)
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: "t2"})

	mu.Lock()
	defer mu.Unlock()
	if posts != 2 {
		t.Errorf("expected 2 posts, got %d", posts)
	}
}

func TestNotify_ForgetsOldestOutcomes(t *testing.T) {
	var mu sync.Mutex
	posts := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		posts[p["task_id"].(string)]++
		mu.Unlock()
	}))
	defer srv.Close()

	n := quiet(notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger()))
	for i := 0; i <= notify.MaxTracked; i++ {
		n.Notify(events.TaskMessage{Type: "task_completed", TaskID: fmt.Sprintf("t%d", i)})
	}
	// t0 fell out of the window; the newest outcome is still remembered.
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: "t0"})
	n.Notify(events.TaskMessage{Type: "task_completed", TaskID: fmt.Sprintf("t%d", notify.MaxTracked)})

	mu.Lock()
	defer mu.Unlock()
	if posts["t0"] != 2 {
		t.Errorf("expected t0 to be announced again, got %d posts", posts["t0"])
	}
	if got := posts[fmt.Sprintf("t%d", notify.MaxTracked)]; got != 1 {
		t.Errorf("expected newest task announced once, got %d posts", got)
	}
}

// stubChannel hands the registered handler back to the test.
type stubChannel struct {
	handler channel.Handler
	removed bool
}

func (s *stubChannel) Connect()             {}
func (s *stubChannel) Disconnect()          {}
func (s *stubChannel) Send(any)             {}
func (s *stubChannel) State() channel.State { return channel.StateConnected }
func (s *stubChannel) On(t events.EventType, h channel.Handler) *channel.Subscription {
	if t == events.TaskUpdate {
		s.handler = h
	}
	return &channel.Subscription{}
}
func (s *stubChannel) Off(*channel.Subscription) { s.removed = true }

func TestWatch_OnlyFinishedTasks(t *testing.T) {
	var mu sync.Mutex
	var kinds []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		kinds = append(kinds, p["event"].(string))
		mu.Unlock()
	}))
	defer srv.Close()

	n := quiet(notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger()))
	ch := &stubChannel{}
	stop := n.Watch(ch)
	if ch.handler == nil {
		t.Fatal("Watch did not subscribe to task updates")
	}

	for _, kind := range []string{"task_created", "task_started", "task_completed", "task_failed"} {
		ch.handler(events.Event{
			Type:    events.TaskUpdate,
			Kind:    kind,
			Payload: json.RawMessage(`{"type":"` + kind + `","task_id":"t9"}`),
		})
	}
	stop()
	if !ch.removed {
		t.Error("stop did not unsubscribe")
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(kinds, ",") != "task_completed,task_failed" {
		t.Errorf("unexpected notifications: %v", kinds)
	}
}
