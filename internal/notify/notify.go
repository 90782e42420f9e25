package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/events"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

// Notifier fires system notifications and optional webhook POSTs when a
// task finishes.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	// run executes the desktop notification command.
	run func(name string, args ...string) error

	mu   sync.Mutex
	seen map[string]bool
	// order holds seen keys oldest first.
	order []string
}

// MaxTracked is how many task outcomes are remembered for deduplication.
// Older outcomes are forgotten first.
const MaxTracked = 1000

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		seen: make(map[string]bool),
	}
}

// SetCommandRunner replaces how desktop notifications are launched. Used in
// tests only.
func (n *Notifier) SetCommandRunner(fn func(name string, args ...string) error) {
	n.run = fn
}

// Watch subscribes to task updates on ch and notifies on completion or
// failure. Call the returned function to unsubscribe.
func (n *Notifier) Watch(ch channel.Channel) func() {
	sub := ch.On(events.TaskUpdate, n.handle)
	return func() { ch.Off(sub) }
}

func (n *Notifier) handle(e events.Event) {
	if e.Kind != "task_completed" && e.Kind != "task_failed" {
		return
	}
	var msg events.TaskMessage
	if err := e.DecodePayload(&msg); err != nil {
		n.logger.Warn("notify: bad task payload", "kind", e.Kind, "err", err)
		return
	}
	if msg.Type == "" {
		msg.Type = e.Kind
	}
	n.Notify(msg)
}

// Notify sends a system notification and optional webhook POSTs for a
// finished task. Each task id and outcome is announced once.
func (n *Notifier) Notify(msg events.TaskMessage) {
	if !n.cfg.Enabled {
		return
	}
	key := msg.TaskID + "|" + msg.Type
	n.mu.Lock()
	dup := n.seen[key]
	if !dup {
		n.remember(key)
	}
	n.mu.Unlock()
	if dup {
		return
	}

	title, body := describe(msg)
	n.sendSystemNotification(title, body)

	if n.cfg.Webhook != "" {
		n.sendWebhook(msg)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(msg, title, body)
	}
}

// remember records key as announced. n.mu must be held.
func (n *Notifier) remember(key string) {
	n.seen[key] = true
	n.order = append(n.order, key)
	if len(n.order) <= MaxTracked {
		return
	}
	drop := len(n.order) - MaxTracked
	for _, k := range n.order[:drop] {
		delete(n.seen, k)
	}
	n.order = append([]string(nil), n.order[drop:]...)
}

func describe(msg events.TaskMessage) (title, body string) {
	name := msg.Description
	if name == "" {
		name = msg.Name
	}
	if name == "" {
		name = "Task " + shortID(msg.TaskID)
	}
	if msg.Type == "task_failed" {
		body = msg.Error
		if body == "" {
			body = msg.Result
		}
		return name + " failed", body
	}
	body = msg.Result
	if msg.ExecutionTime > 0 {
		body = fmt.Sprintf("finished in %.1fs", msg.ExecutionTime)
	}
	return name + " completed", body
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (n *Notifier) sendSystemNotification(title, body string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title "agent-dashboard" subtitle %q`, body, title)
		err = n.run("osascript", "-e", script)
	case "linux":
		err = n.run("notify-send", "agent-dashboard: "+title, body)
	default:
		return
	}
	if err != nil {
		n.logger.Debug("notify: system notification failed", "err", err)
	}
}

type webhookPayload struct {
	TaskID    string `json:"task_id"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (n *Notifier) sendWebhook(msg events.TaskMessage) {
	payload := webhookPayload{
		TaskID:    msg.TaskID,
		Event:     msg.Type,
		Status:    msg.Status,
		Result:    msg.Result,
		Error:     msg.Error,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.post("webhook", n.cfg.Webhook, payload)
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(msg events.TaskMessage, title, body string) {
	payload := ntfyPayload{
		Title:    title,
		Message:  body,
		Priority: 3,
		Tags:     []string{"white_check_mark"},
	}
	if msg.Type == "task_failed" {
		payload.Priority = 4
		payload.Tags = []string{"rotating_light"}
	}
	n.post("ntfy", n.cfg.NtfyURL, payload)
}

func (n *Notifier) post(kind, url string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("notify: "+kind+" post failed", "url", url, "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("notify: "+kind+" rejected", "url", url, "status", resp.StatusCode)
	}
}
