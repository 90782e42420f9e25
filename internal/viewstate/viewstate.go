// Package viewstate keeps the dashboard's picture of the remote service:
// the agent list, the task list and a bounded buffer of recent execution
// log entries. Snapshots come from the REST API; the live channel tells the
// aggregator when to refetch and streams log entries directly.
package viewstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/events"
)

const (
	DefaultLogCapacity    = 100
	DefaultRequestTimeout = 10 * time.Second
	maxErrors             = 20
)

// Fetcher is the subset of the REST client the aggregator reads from.
type Fetcher interface {
	ListAgents(ctx context.Context) ([]api.Agent, error)
	ListTasks(ctx context.Context) ([]api.Task, error)
}

// Notifier surfaces request failures to the user, usually a toast.Queue.
type Notifier interface {
	Error(message string) string
}

// Recorder persists observed task events, usually a db.DB.
type Recorder interface {
	RecordEvent(e events.Event) error
}

type Options struct {
	LogCapacity    int
	RequestTimeout time.Duration
	Notifier       Notifier
	Recorder       Recorder
	Logger         *slog.Logger
}

type collection int

const (
	agentsCollection collection = iota
	tasksCollection
)

func (c collection) String() string {
	if c == agentsCollection {
		return "agents"
	}
	return "tasks"
}

// RefreshError records one failed snapshot request.
type RefreshError struct {
	Collection string
	Err        error
	At         time.Time
}

type Aggregator struct {
	api    Fetcher
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	agents      []api.Agent
	tasks       []api.Task
	logs        []api.LogEntry // newest first
	errs        []RefreshError
	lastRefresh map[collection]time.Time
	inflight    map[collection]bool
	dirty       map[collection]bool
	waiting     map[collection][]chan<- error
	onChange    func()

	ch   channel.Channel
	subs []*channel.Subscription

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(f Fetcher, opts Options) *Aggregator {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		api:         f,
		opts:        opts,
		logger:      logger,
		lastRefresh: make(map[collection]time.Time),
		inflight:    make(map[collection]bool),
		dirty:       make(map[collection]bool),
		waiting:     make(map[collection][]chan<- error),
	}
}

// OnChange sets a callback run after every mutation, without the
// aggregator lock held.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

func (a *Aggregator) changed() {
	a.mu.Lock()
	fn := a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *Aggregator) Agents() []api.Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.Agent(nil), a.agents...)
}

func (a *Aggregator) Tasks() []api.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.Task(nil), a.tasks...)
}

// Logs returns the buffered execution log entries, newest first.
func (a *Aggregator) Logs() []api.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]api.LogEntry(nil), a.logs...)
}

// Errors returns recent refresh failures, oldest first.
func (a *Aggregator) Errors() []RefreshError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RefreshError(nil), a.errs...)
}

// LastRefresh reports when agents and tasks were last fetched successfully.
func (a *Aggregator) LastRefresh() (agents, tasks time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRefresh[agentsCollection], a.lastRefresh[tasksCollection]
}

// RefreshAgents refetches the agent list in the background.
func (a *Aggregator) RefreshAgents() { a.trigger(agentsCollection, nil) }

// RefreshTasks refetches the task list in the background.
func (a *Aggregator) RefreshTasks() { a.trigger(tasksCollection, nil) }

func (a *Aggregator) RefreshAll() {
	a.RefreshAgents()
	a.RefreshTasks()
}

// trigger starts a refresh unless one is already running for c, in which
// case c is marked dirty and refetched once the running request finishes.
// A non-nil done receives the result of the first fetch that starts after
// the call. It must have room for one value.
func (a *Aggregator) trigger(c collection, done chan<- error) {
	a.mu.Lock()
	if done != nil {
		a.waiting[c] = append(a.waiting[c], done)
	}
	if a.inflight[c] {
		a.dirty[c] = true
		a.mu.Unlock()
		return
	}
	a.inflight[c] = true
	a.mu.Unlock()

	go a.run(c)
}

func (a *Aggregator) run(c collection) {
	for {
		a.mu.Lock()
		a.dirty[c] = false
		waiters := a.waiting[c]
		a.waiting[c] = nil
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.RequestTimeout)
		err := a.fetch(ctx, c)
		cancel()
		for _, w := range waiters {
			w <- err
		}

		a.mu.Lock()
		if !a.dirty[c] {
			a.inflight[c] = false
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()
	}
}

// Refresh refetches both collections and waits for the results, returning
// the first error. It shares the coalescing of background refreshes, so a
// request already in flight is followed by one more fetch rather than run
// alongside. ctx bounds the wait; the fetches themselves use
// RequestTimeout. Failures are also recorded and reported as for
// background refreshes.
func (a *Aggregator) Refresh(ctx context.Context) error {
	agents := make(chan error, 1)
	tasks := make(chan error, 1)
	a.trigger(agentsCollection, agents)
	a.trigger(tasksCollection, tasks)

	var errs [2]error
	for i, ch := range []chan error{agents, tasks} {
		select {
		case errs[i] = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if errs[0] != nil {
		return errs[0]
	}
	return errs[1]
}

func (a *Aggregator) fetch(ctx context.Context, c collection) error {
	var err error
	switch c {
	case agentsCollection:
		var agents []api.Agent
		if agents, err = a.api.ListAgents(ctx); err == nil {
			a.mu.Lock()
			a.agents = agents
			a.lastRefresh[c] = time.Now()
			a.mu.Unlock()
		}
	case tasksCollection:
		var tasks []api.Task
		if tasks, err = a.api.ListTasks(ctx); err == nil {
			a.mu.Lock()
			a.tasks = tasks
			a.lastRefresh[c] = time.Now()
			a.mu.Unlock()
		}
	}
	if err != nil {
		a.fail(c, err)
		return fmt.Errorf("refresh %s: %w", c, err)
	}
	a.changed()
	return nil
}

// fail records a refresh error. The collection keeps its last known state.
func (a *Aggregator) fail(c collection, err error) {
	a.logger.Warn("viewstate: refresh failed", "collection", c.String(), "err", err)
	a.mu.Lock()
	a.errs = append(a.errs, RefreshError{Collection: c.String(), Err: err, At: time.Now()})
	if n := len(a.errs); n > maxErrors {
		a.errs = append([]RefreshError(nil), a.errs[n-maxErrors:]...)
	}
	a.mu.Unlock()
	if a.opts.Notifier != nil {
		a.opts.Notifier.Error(fmt.Sprintf("Failed to load %s: %v", c, err))
	}
	a.changed()
}

// AppendLog adds an entry to the front of the log buffer, dropping the
// oldest entry once the buffer is full.
func (a *Aggregator) AppendLog(entry api.LogEntry) {
	a.mu.Lock()
	next := make([]api.LogEntry, 0, min(len(a.logs)+1, a.opts.LogCapacity))
	next = append(next, entry)
	for _, e := range a.logs {
		if len(next) == a.opts.LogCapacity {
			break
		}
		next = append(next, e)
	}
	a.logs = next
	a.mu.Unlock()
	a.changed()
}

// Bind subscribes the aggregator to ch. Binding again replaces the
// previous subscriptions.
func (a *Aggregator) Bind(ch channel.Channel) {
	a.Unbind()
	subs := []*channel.Subscription{
		ch.On(events.Connected, func(events.Event) { a.RefreshAll() }),
		ch.On(events.AgentUpdate, func(events.Event) { a.RefreshAgents() }),
		ch.On(events.TaskUpdate, func(e events.Event) {
			a.record(e)
			a.RefreshTasks()
		}),
		ch.On(events.ExecutionLog, a.handleExecutionLog),
		ch.On(events.Disconnected, func(events.Event) { a.changed() }),
	}
	a.mu.Lock()
	a.ch = ch
	a.subs = subs
	a.mu.Unlock()
}

// Unbind removes the subscriptions made by Bind.
func (a *Aggregator) Unbind() {
	a.mu.Lock()
	ch, subs := a.ch, a.subs
	a.ch, a.subs = nil, nil
	a.mu.Unlock()
	for _, s := range subs {
		ch.Off(s)
	}
}

func (a *Aggregator) handleExecutionLog(e events.Event) {
	var msg events.ExecutionLogMessage
	if err := e.DecodePayload(&msg); err != nil {
		a.logger.Warn("viewstate: bad execution_log payload", "err", err)
		return
	}
	a.record(e)

	a.mu.Lock()
	for i := range a.tasks {
		if a.tasks[i].TaskID != msg.TaskID {
			continue
		}
		if msg.TaskProgress > 0 {
			a.tasks[i].Progress = msg.TaskProgress
		}
		if msg.CurrentAgent != "" {
			a.tasks[i].CurrentAgent = msg.CurrentAgent
		}
		if msg.CurrentStep != "" {
			a.tasks[i].CurrentStep = msg.CurrentStep
		}
		break
	}
	a.mu.Unlock()

	a.AppendLog(msg.Entry())
}

func (a *Aggregator) record(e events.Event) {
	if a.opts.Recorder == nil {
		return
	}
	if err := a.opts.Recorder.RecordEvent(e); err != nil {
		a.logger.Debug("viewstate: record event failed", "kind", e.Kind, "err", err)
	}
}

// Start refreshes everything now and then every interval until Stop.
func (a *Aggregator) Start(interval time.Duration) {
	a.mu.Lock()
	if a.stop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.stop = stop
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.RefreshAll()
		if interval <= 0 {
			<-stop
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.RefreshAll()
			case <-stop:
				return
			}
		}
	}()
}

func (a *Aggregator) Stop() {
	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	a.wg.Wait()
}

// Summary counts tasks by status and agents by status.
type Summary struct {
	Agents       int `json:"agents"`
	AgentsBusy   int `json:"agents_busy"`
	Tasks        int `json:"tasks"`
	TasksRunning int `json:"tasks_running"`
	TasksDone    int `json:"tasks_done"`
	TasksFailed  int `json:"tasks_failed"`
}

func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Summary{Agents: len(a.agents), Tasks: len(a.tasks)}
	for _, ag := range a.agents {
		if ag.Status != "" && ag.Status != "idle" {
			s.AgentsBusy++
		}
	}
	for _, t := range a.tasks {
		switch t.Status {
		case api.TaskRunning:
			s.TasksRunning++
		case api.TaskCompleted:
			s.TasksDone++
		case api.TaskFailed:
			s.TasksFailed++
		}
	}
	return s
}
