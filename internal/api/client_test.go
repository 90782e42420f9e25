package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/agent-dashboard/internal/api"
)

func newClient(t *testing.T, h http.Handler) *api.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := api.New(srv.URL, time.Second)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadScheme(t *testing.T) {
	_, err := api.New("ftp://example.com", 0)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.NoError(t, c.Health(context.Background()))
}

func TestHealth_Non2xx(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	err := c.Health(context.Background())
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "down", se.Body)
}

func TestListAgentsAndTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"agents":[{"name":"execution_monitor","role":"Execution Monitor","status":"ready","last_activity":"2026-01-02T03:04:05.123456","total_tasks_completed":3}],"total":1}`))
	})
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tasks":[{"task_id":"t1","status":"running","progress":40,"execution_log":[{"timestamp":"2026-01-02T03:04:05","agent":"system","action":"task_started","message":"go","status":"running"}]}],"total":1}`))
	})
	c := newClient(t, mux)

	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "execution_monitor", agents[0].Name)
	assert.Equal(t, 3, agents[0].TotalTasksCompleted)
	assert.False(t, agents[0].LastActive().IsZero())

	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, api.TaskRunning, tasks[0].Status)
	require.Len(t, tasks[0].ExecutionLog, 1)
	assert.Equal(t, "task_started", tasks[0].ExecutionLog[0].Action)
}

func TestGetTask_NotFound(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/missing", r.URL.Path)
		http.Error(w, `{"detail":"Task not found"}`, http.StatusNotFound)
	}))
	_, err := c.GetTask(context.Background(), "missing")
	assert.True(t, api.IsNotFound(err))
}

func TestGetTaskLogs(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/t1/logs", r.URL.Path)
		w.Write([]byte(`{"task_id":"t1","logs":[{"agent":"a","action":"x"},{"agent":"b","action":"y"}]}`))
	}))
	logs, err := c.GetTaskLogs(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestCreateTask(t *testing.T) {
	var got map[string]string
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"task_id":"new-id","status":"created"}`))
	}))
	id, err := c.CreateTask(context.Background(), "  summarize the logs ", "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.Equal(t, "summarize the logs", got["task_description"])
	assert.Equal(t, "u1", got["user_id"])
}

func TestCreateTask_EmptyDescriptionMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	_, err := c.CreateTask(context.Background(), "   ", "")
	assert.ErrorIs(t, err, api.ErrEmptyDescription)
	_, err = c.CreateAgent(context.Background(), "", "")
	assert.ErrorIs(t, err, api.ErrEmptyDescription)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCreateAgent(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/create", r.URL.Path)
		w.Write([]byte(`{"agent_id":"a1","name":"market_researcher","role":"Market Researcher","tools":["search"]}`))
	}))
	a, err := c.CreateAgent(context.Background(), "someone who researches markets", "")
	require.NoError(t, err)
	assert.Equal(t, "market_researcher", a.Name)
	assert.Equal(t, []string{"search"}, a.Tools)
}

func TestCreateTaskPlan(t *testing.T) {
	var got map[string]any
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks/create", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"task_id":"p1","name":"Quarterly report","description":"summarize Q3","agent":"writer","priority":2,"complexity":"medium","success_criteria":["accurate"],"deliverables":["report.md"],"created_at":"2026-01-02T03:04:05"}`))
	}))

	p, err := c.CreateTaskPlan(context.Background(), "  summarize Q3  ", []string{"writer"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.TaskID)
	assert.Equal(t, "writer", p.Agent)
	assert.Equal(t, 2, p.Priority)
	assert.Equal(t, []string{"report.md"}, p.Deliverables)
	assert.Equal(t, "summarize Q3", got["description"])
	assert.Equal(t, []any{"writer"}, got["available_agents"])
	assert.Equal(t, "u1", got["user_id"])
}

func TestCreateTaskPlan_EmptyDescriptionMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	_, err := c.CreateTaskPlan(context.Background(), " \t", nil, "")
	assert.ErrorIs(t, err, api.ErrEmptyDescription)
	assert.Zero(t, calls.Load())
}

func TestCreatedTasksAndAgents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks/created", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tasks":[{"task_id":"p1","name":"Report"},{"task_id":"p2","name":"Haiku"}],"total":2}`))
	})
	mux.HandleFunc("GET /tasks/created/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p1" {
			http.Error(w, `{"detail":"Task not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"task_id":"p1","name":"Report"}`))
	})
	mux.HandleFunc("GET /agents/created", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"agents":[{"agent_id":"a1","name":"market_researcher"}],"total":1}`))
	})
	mux.HandleFunc("GET /agents/created/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Agent not found"}`, http.StatusNotFound)
	})
	c := newClient(t, mux)
	ctx := context.Background()

	plans, err := c.ListCreatedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "Haiku", plans[1].Name)

	p, err := c.GetCreatedTask(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Report", p.Name)
	_, err = c.GetCreatedTask(ctx, "nope")
	assert.True(t, api.IsNotFound(err))

	agents, err := c.ListCreatedAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].AgentID)
	_, err = c.GetCreatedAgent(ctx, "a9")
	assert.True(t, api.IsNotFound(err))
}

func TestExecuteTask(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/tasks/execute/p1":
			w.Write([]byte(`{"execution_task_id":"e1","original_task_id":"p1","status":"started","message":"Task execution started"}`))
		default:
			http.Error(w, `{"detail":"Task not found"}`, http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	started, err := c.ExecuteTask(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "e1", started.ExecutionTaskID)
	assert.Equal(t, "p1", started.OriginalTaskID)
	assert.Equal(t, "started", started.Status)

	_, err = c.ExecuteTask(ctx, "missing")
	assert.True(t, api.IsNotFound(err))

	_, err = c.ExecuteTask(ctx, " ")
	assert.Error(t, err)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, api.TaskCompleted.Terminal())
	assert.True(t, api.TaskFailed.Terminal())
	assert.False(t, api.TaskRunning.Terminal())
	assert.False(t, api.TaskPending.Terminal())
}
