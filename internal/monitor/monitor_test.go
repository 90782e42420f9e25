package monitor_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/config"
	"github.com/zsprackett/agent-dashboard/internal/db"
	"github.com/zsprackett/agent-dashboard/internal/events"
	"github.com/zsprackett/agent-dashboard/internal/monitor"
	"github.com/zsprackett/agent-dashboard/internal/settings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeService serves the orchestration REST surface from mutable state.
type fakeService struct {
	mu     sync.Mutex
	agents []api.Agent
	tasks  []api.Task
}

func (f *fakeService) setTasks(tasks ...api.Task) {
	f.mu.Lock()
	f.tasks = tasks
	f.mu.Unlock()
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"agents": f.agents})
	})
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"tasks": f.tasks})
	})
	return mux
}

func newStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func pollSettings(url string) settings.Settings {
	s := settings.Defaults()
	s.APIURL = url
	s.Transport = "poll"
	s.PollIntervalMs = 250
	s.RefreshIntervalMs = 0
	s.Notifications = false
	return s
}

type captureAttacher struct {
	mu     sync.Mutex
	kinds  []string
	detach int
}

func (c *captureAttacher) Attach(ch channel.Channel) func() {
	sub := ch.On(events.Message, func(e events.Event) {
		c.mu.Lock()
		c.kinds = append(c.kinds, e.Kind)
		c.mu.Unlock()
	})
	return func() {
		ch.Off(sub)
		c.mu.Lock()
		c.detach++
		c.mu.Unlock()
	}
}

func (c *captureAttacher) seen(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestMonitor_PollPipeline(t *testing.T) {
	svc := &fakeService{agents: []api.Agent{{Name: "planner", Status: "idle"}}}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	store := newStore(t)
	var updates sync.WaitGroup
	updates.Add(1)
	var once sync.Once

	mon, err := monitor.New(monitor.Options{
		Config:   config.Defaults(),
		Settings: pollSettings(srv.URL),
		Store:    store,
		OnUpdate: func() { once.Do(updates.Done) },
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, channel.TransportPoll, mon.Channel().TransportName())
	assert.Nil(t, mon.Notifier(), "notifications disabled in settings")

	relay := &captureAttacher{}
	mon.Attach(relay)
	mon.Start()

	require.Eventually(t, func() bool {
		return mon.Channel().State() == channel.StateConnected && len(mon.View().Agents()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	updates.Wait()

	svc.setTasks(api.Task{
		TaskID:      "t1",
		Status:      api.TaskCompleted,
		Description: "write a haiku",
		Result:      "five seven five",
		ExecutionLog: []api.LogEntry{
			{Timestamp: "2024-01-01T00:00:00Z", Agent: "writer", Action: "draft", Message: "first pass"},
		},
	})

	require.Eventually(t, func() bool {
		evts, _ := store.GetTaskEvents("t1", 10)
		return len(evts) >= 3 && len(mon.View().Logs()) == 1 && len(mon.View().Tasks()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, relay.seen("task_completed"))

	mon.Stop()
	assert.Equal(t, channel.StateDisconnected, mon.Channel().State())
	relay.mu.Lock()
	assert.Equal(t, 1, relay.detach)
	relay.mu.Unlock()

	// Stop is idempotent.
	mon.Stop()
}

func TestMonitor_PrunesHistory(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	store := newStore(t)
	require.NoError(t, store.InsertTaskEvent(db.TaskEvent{
		TaskID: "old", Kind: "task_created", Ts: time.Now().AddDate(0, 0, -90),
	}))
	require.NoError(t, store.InsertTaskEvent(db.TaskEvent{TaskID: "new", Kind: "task_created"}))

	cfg := config.Defaults()
	cfg.HistoryRetentionDays = 30
	mon, err := monitor.New(monitor.Options{
		Config:   cfg,
		Settings: pollSettings(srv.URL),
		Store:    store,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	mon.Start()
	defer mon.Stop()

	require.Eventually(t, func() bool {
		evts, _ := store.GetTaskEvents("old", 10)
		return len(evts) == 0
	}, 2*time.Second, 20*time.Millisecond)
	evts, err := store.GetTaskEvents("new", 10)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestMonitor_RejectsBadSettings(t *testing.T) {
	s := settings.Defaults()
	s.APIURL = "ftp://nowhere"
	_, err := monitor.New(monitor.Options{Config: config.Defaults(), Settings: s})
	assert.Error(t, err)

	s = settings.Defaults()
	s.Transport = "carrier-pigeon"
	_, err = monitor.New(monitor.Options{Config: config.Defaults(), Settings: s})
	assert.Error(t, err)
}

func TestMonitor_NotifierFollowsSettings(t *testing.T) {
	s := settings.Defaults()
	s.Notifications = true
	mon, err := monitor.New(monitor.Options{Config: config.Defaults(), Settings: s, Logger: discardLogger()})
	require.NoError(t, err)
	assert.NotNil(t, mon.Notifier())
	assert.Equal(t, channel.TransportWebSocket, mon.Channel().TransportName())
}
