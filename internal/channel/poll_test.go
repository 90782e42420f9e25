package channel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/events"
)

type fakeFetcher struct {
	mu        sync.Mutex
	healthErr error
	tasksErr  error
	agents    []api.Agent
	tasks     []api.Task
}

func (f *fakeFetcher) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeFetcher) ListAgents(ctx context.Context) ([]api.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Agent(nil), f.agents...), nil
}

func (f *fakeFetcher) ListTasks(ctx context.Context) ([]api.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tasksErr != nil {
		return nil, f.tasksErr
	}
	out := make([]api.Task, len(f.tasks))
	for i, t := range f.tasks {
		t.ExecutionLog = append([]api.LogEntry(nil), t.ExecutionLog...)
		out[i] = t
	}
	return out, nil
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func readKind(t *testing.T, conn channel.Conn) (string, []byte) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := conn.ReadMessage()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		env, err := events.Decode(r.data)
		require.NoError(t, err)
		return env.Type, r.data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll message")
		return "", nil
	}
}

func TestPollTransport_HealthCheck(t *testing.T) {
	f := &fakeFetcher{healthErr: errors.New("service unavailable")}
	tr := channel.NewPollTransport(f, 10*time.Millisecond, discardLogger())
	assert.Equal(t, channel.TransportPoll, tr.Name())
	_, err := tr.Open(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check")
}

func TestPollTransport_SynthesizesTaskLifecycle(t *testing.T) {
	f := &fakeFetcher{
		agents: []api.Agent{{Name: "planner", Status: "idle"}},
		tasks:  []api.Task{{TaskID: "old", Status: api.TaskCompleted}},
	}
	tr := channel.NewPollTransport(f, 10*time.Millisecond, discardLogger())
	conn, err := tr.Open(t.Context())
	require.NoError(t, err)
	defer conn.Close(channel.NormalClosure, "")

	// The first snapshot only reports agents; existing tasks are baseline.
	kind, _ := readKind(t, conn)
	assert.Equal(t, "agent_statuses", kind)

	f.set(func(f *fakeFetcher) {
		f.tasks = append(f.tasks, api.Task{
			TaskID:      "t1",
			Status:      api.TaskRunning,
			Description: "write a haiku",
			ExecutionLog: []api.LogEntry{
				{Timestamp: "2026-01-01T00:00:00", Agent: "planner", Action: "plan", Message: "planning"},
			},
		})
	})
	kind, _ = readKind(t, conn)
	assert.Equal(t, "task_created", kind)
	kind, data := readKind(t, conn)
	assert.Equal(t, "execution_log", kind)
	var logMsg events.ExecutionLogMessage
	require.NoError(t, events.Event{Payload: data}.DecodePayload(&logMsg))
	assert.Equal(t, "t1", logMsg.Entry().TaskID)
	assert.Equal(t, "planning", logMsg.Log.Message)
	kind, _ = readKind(t, conn)
	assert.Equal(t, "task_started", kind)

	f.set(func(f *fakeFetcher) {
		t1 := &f.tasks[1]
		t1.Status = api.TaskCompleted
		t1.Result = "five seven five"
		t1.ExecutionLog = append(t1.ExecutionLog, api.LogEntry{
			Timestamp: "2026-01-01T00:00:05", Agent: "writer", Action: "write", Message: "done",
		})
	})
	kind, data = readKind(t, conn)
	assert.Equal(t, "execution_log", kind)
	require.NoError(t, events.Event{Payload: data}.DecodePayload(&logMsg))
	assert.Equal(t, "done", logMsg.Log.Message)
	kind, data = readKind(t, conn)
	assert.Equal(t, "task_completed", kind)
	var done events.TaskMessage
	require.NoError(t, events.Event{Payload: data}.DecodePayload(&done))
	assert.Equal(t, "five seven five", done.Result)

	f.set(func(f *fakeFetcher) {
		f.agents[0].Status = "busy"
	})
	kind, _ = readKind(t, conn)
	assert.Equal(t, "agent_statuses", kind)
}

func TestPollTransport_FetchErrorEndsConnection(t *testing.T) {
	f := &fakeFetcher{}
	tr := channel.NewPollTransport(f, 10*time.Millisecond, discardLogger())
	conn, err := tr.Open(t.Context())
	require.NoError(t, err)
	defer conn.Close(channel.NormalClosure, "")

	kind, _ := readKind(t, conn)
	assert.Equal(t, "agent_statuses", kind)

	f.set(func(f *fakeFetcher) { f.tasksErr = errors.New("connection refused") })
	_, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll tasks")
}

func TestPollTransport_CloseUnblocksReader(t *testing.T) {
	f := &fakeFetcher{}
	tr := channel.NewPollTransport(f, time.Hour, discardLogger())
	conn, err := tr.Open(t.Context())
	require.NoError(t, err)
	readKind(t, conn)

	require.NoError(t, conn.Close(channel.NormalClosure, ""))
	require.NoError(t, conn.Close(channel.NormalClosure, ""))
	_, err = conn.ReadMessage()
	assert.ErrorIs(t, err, channel.ErrClosed)
	assert.ErrorIs(t, conn.WriteMessage([]byte("{}")), channel.ErrClosed)
}

func TestPollTransport_DrivesClient(t *testing.T) {
	f := &fakeFetcher{agents: []api.Agent{{Name: "planner"}}}
	tr, err := channel.NewTransport(channel.TransportConfig{
		Kind:         channel.TransportPoll,
		Fetcher:      f,
		PollInterval: 10 * time.Millisecond,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)

	c := channel.New(tr, fastOptions())
	defer c.Disconnect()
	var agents, tasks recorder
	c.On(events.AgentUpdate, agents.handle)
	c.On(events.TaskUpdate, tasks.handle)
	c.Connect()

	require.Eventually(t, func() bool { return agents.count() == 1 }, time.Second, 5*time.Millisecond)
	f.set(func(f *fakeFetcher) {
		f.tasks = []api.Task{{TaskID: "t1", Status: api.TaskPending}}
	})
	require.Eventually(t, func() bool { return tasks.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "task_created", tasks.all()[0].Kind)
}
