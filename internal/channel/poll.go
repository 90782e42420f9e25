package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/api"
)

const DefaultPollInterval = 2 * time.Second

// Fetcher is the subset of the REST client the poll transport needs.
type Fetcher interface {
	Health(ctx context.Context) error
	ListAgents(ctx context.Context) ([]api.Agent, error)
	ListTasks(ctx context.Context) ([]api.Task, error)
}

// PollTransport simulates a push channel for deployments that only allow
// request/response traffic. Each connection polls the agent and task lists
// and turns snapshot differences into the messages the live channel would
// have pushed.
type PollTransport struct {
	api      Fetcher
	interval time.Duration
	logger   *slog.Logger
}

func NewPollTransport(f Fetcher, interval time.Duration, logger *slog.Logger) *PollTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollTransport{api: f, interval: interval, logger: logger}
}

func (t *PollTransport) Name() string { return TransportPoll }

// Open checks /health and starts the poll loop.
func (t *PollTransport) Open(ctx context.Context) (Conn, error) {
	if err := t.api.Health(ctx); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	pc := &pollConn{
		api:      t.api,
		interval: t.interval,
		logger:   t.logger,
		items:    make(chan pollItem, 64),
		done:     make(chan struct{}),
		tasks:    make(map[string]taskSnapshot),
	}
	go pc.run()
	return pc, nil
}

type pollItem struct {
	data []byte
	err  error
}

type taskSnapshot struct {
	status  api.TaskStatus
	lastLog string
}

type pollConn struct {
	api      Fetcher
	interval time.Duration
	logger   *slog.Logger

	items     chan pollItem
	done      chan struct{}
	closeOnce sync.Once

	// owned by run
	seeded    bool
	agentsSig string
	tasks     map[string]taskSnapshot
}

func (p *pollConn) ReadMessage() ([]byte, error) {
	select {
	case it := <-p.items:
		if it.err != nil {
			return nil, it.err
		}
		return it.data, nil
	case <-p.done:
		return nil, ErrClosed
	}
}

// WriteMessage accepts and discards outbound messages; polling has no
// upstream path for them.
func (p *pollConn) WriteMessage(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
		return nil
	}
}

func (p *pollConn) Close(code int, reason string) error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *pollConn) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if !p.poll(ctx) {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if !p.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches one snapshot and queues the resulting messages. It returns
// false once the connection has failed or been closed.
func (p *pollConn) poll(ctx context.Context) bool {
	agents, err := p.api.ListAgents(ctx)
	if err != nil {
		return p.fail(fmt.Errorf("poll agents: %w", err))
	}
	tasks, err := p.api.ListTasks(ctx)
	if err != nil {
		return p.fail(fmt.Errorf("poll tasks: %w", err))
	}
	for _, msg := range p.diff(agents, tasks) {
		if !p.push(pollItem{data: msg}) {
			return false
		}
	}
	return true
}

func (p *pollConn) fail(err error) bool {
	select {
	case <-p.done:
	default:
		p.push(pollItem{err: err})
	}
	return false
}

func (p *pollConn) push(it pollItem) bool {
	select {
	case p.items <- it:
		return true
	case <-p.done:
		return false
	}
}

// diff compares a snapshot against the previous one. The first snapshot
// only seeds state and reports the agent list, matching the initial
// agent_statuses message of the live channel.
func (p *pollConn) diff(agents []api.Agent, tasks []api.Task) [][]byte {
	var out [][]byte

	agentsJSON, _ := json.Marshal(agents)
	if sig := string(agentsJSON); sig != p.agentsSig || !p.seeded {
		p.agentsSig = sig
		out = append(out, encode(map[string]any{
			"type":      "agent_statuses",
			"agents":    json.RawMessage(agentsJSON),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}))
	}

	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[t.TaskID] = true
		prev, known := p.tasks[t.TaskID]
		snap := taskSnapshot{status: t.Status, lastLog: prev.lastLog}
		if n := len(t.ExecutionLog); n > 0 {
			snap.lastLog = logKey(t.ExecutionLog[n-1])
		}
		p.tasks[t.TaskID] = snap
		if !p.seeded {
			continue
		}

		if !known {
			out = append(out, encode(map[string]any{
				"type":             "task_created",
				"task_id":          t.TaskID,
				"task_description": t.Description,
				"status":           string(t.Status),
			}))
		}
		for _, entry := range newLogEntries(t.ExecutionLog, prev.lastLog, known) {
			out = append(out, encode(map[string]any{
				"type":          "execution_log",
				"task_id":       t.TaskID,
				"log":           entry,
				"task_progress": t.Progress,
				"current_agent": t.CurrentAgent,
				"current_step":  t.CurrentStep,
			}))
		}
		if !known || prev.status != t.Status {
			if msg := statusMessage(t); msg != nil {
				out = append(out, msg)
			}
		}
	}
	for id := range p.tasks {
		if !seen[id] {
			delete(p.tasks, id)
		}
	}
	p.seeded = true
	return out
}

func statusMessage(t api.Task) []byte {
	switch t.Status {
	case api.TaskRunning:
		return encode(map[string]any{"type": "task_started", "task_id": t.TaskID, "status": string(t.Status)})
	case api.TaskCompleted:
		return encode(map[string]any{"type": "task_completed", "task_id": t.TaskID, "status": string(t.Status), "result": t.Result})
	case api.TaskFailed:
		return encode(map[string]any{"type": "task_failed", "task_id": t.TaskID, "status": string(t.Status), "error": t.Result})
	}
	return nil
}

// newLogEntries returns the entries after the one identified by lastKey.
// Task listings may carry only a window of recent entries; when lastKey
// has scrolled out of the window every entry is treated as new.
func newLogEntries(entries []api.LogEntry, lastKey string, known bool) []api.LogEntry {
	if !known || lastKey == "" {
		return entries
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if logKey(entries[i]) == lastKey {
			return entries[i+1:]
		}
	}
	return entries
}

func logKey(e api.LogEntry) string {
	return e.Timestamp + "|" + e.Agent + "|" + e.Action + "|" + e.Message
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
