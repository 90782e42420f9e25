package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrEmptyDescription is returned before any request is made when a task
// or agent description is blank.
var ErrEmptyDescription = errors.New("description must not be empty")

// StatusError reports a non-2xx response from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client talks to the agent orchestration service REST API.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a Client for the service rooted at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Health calls GET /health. Any 2xx is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var resp agentsResponse
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *Client) GetAgent(ctx context.Context, name string) (*Agent, error) {
	var a Agent
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(name), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp tasksResponse
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskLogs returns the full execution log for a task. ListTasks only
// carries the most recent entries.
func (c *Client) GetTaskLogs(ctx context.Context, id string) ([]LogEntry, error) {
	var resp taskLogsResponse
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/logs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// CreateTask submits a task for execution and returns its id.
func (c *Client) CreateTask(ctx context.Context, description, userID string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", ErrEmptyDescription
	}
	var resp createTaskResponse
	req := createTaskRequest{TaskDescription: description, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", errors.New("create task: response has no task_id")
	}
	return resp.TaskID, nil
}

// CreateAgent asks the service to build an agent from a natural-language
// description.
func (c *Client) CreateAgent(ctx context.Context, description, userID string) (*CreatedAgent, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrEmptyDescription
	}
	var a CreatedAgent
	req := createAgentRequest{Description: description, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/agents/create", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTaskPlan turns a natural-language description into a structured
// task without running it. agents, when set, limits which agents the
// service may assign.
func (c *Client) CreateTaskPlan(ctx context.Context, description string, agents []string, userID string) (*TaskPlan, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrEmptyDescription
	}
	var p TaskPlan
	req := createPlanRequest{Description: description, AvailableAgents: agents, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/tasks/create", req, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, errors.New("create task plan: response has no task_id")
	}
	return &p, nil
}

func (c *Client) ListCreatedTasks(ctx context.Context) ([]TaskPlan, error) {
	var resp plansResponse
	if err := c.do(ctx, http.MethodGet, "/tasks/created", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) GetCreatedTask(ctx context.Context, id string) (*TaskPlan, error) {
	var p TaskPlan
	if err := c.do(ctx, http.MethodGet, "/tasks/created/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ExecuteTask runs a planned task. Progress is reported under the returned
// ExecutionTaskID, not the plan id.
func (c *Client) ExecuteTask(ctx context.Context, id string) (*ExecutionStarted, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("execute task: empty task id")
	}
	var resp ExecutionStarted
	if err := c.do(ctx, http.MethodPost, "/tasks/execute/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.ExecutionTaskID == "" {
		return nil, errors.New("execute task: response has no execution_task_id")
	}
	return &resp, nil
}

func (c *Client) ListCreatedAgents(ctx context.Context) ([]CreatedAgent, error) {
	var resp createdAgentsResponse
	if err := c.do(ctx, http.MethodGet, "/agents/created", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *Client) GetCreatedAgent(ctx context.Context, id string) (*CreatedAgent, error) {
	var a CreatedAgent
	if err := c.do(ctx, http.MethodGet, "/agents/created/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
