package api

import (
	"time"

	"github.com/zsprackett/agent-dashboard/internal/events"
)

// LogEntry is an execution step; the channel delivers the same shape.
type LogEntry = events.LogEntry

type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the task will not change status again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type Agent struct {
	Name                string `json:"name"`
	Role                string `json:"role"`
	Status              string `json:"status"`
	CurrentTask         string `json:"current_task,omitempty"`
	LastActivity        string `json:"last_activity,omitempty"`
	TotalTasksCompleted int    `json:"total_tasks_completed"`
}

// LastActive parses LastActivity. Zero when unset or malformed.
func (a Agent) LastActive() time.Time {
	return events.ParseTime(a.LastActivity)
}

type Task struct {
	TaskID       string     `json:"task_id"`
	Status       TaskStatus `json:"status"`
	Description  string     `json:"description,omitempty"`
	Result       string     `json:"result,omitempty"`
	CreatedAt    string     `json:"created_at,omitempty"`
	CompletedAt  string     `json:"completed_at,omitempty"`
	ExecutionLog []LogEntry `json:"execution_log"`
	CurrentAgent string     `json:"current_agent,omitempty"`
	CurrentStep  string     `json:"current_step,omitempty"`
	Progress     int        `json:"progress"`
}

// Created parses CreatedAt. Zero when unset or malformed.
func (t Task) Created() time.Time {
	return events.ParseTime(t.CreatedAt)
}

// CreatedAgent is the agent definition returned by natural-language agent
// creation.
type CreatedAgent struct {
	AgentID            string   `json:"agent_id"`
	Name               string   `json:"name"`
	Role               string   `json:"role"`
	Goal               string   `json:"goal"`
	Backstory          string   `json:"backstory"`
	Tools              []string `json:"tools"`
	Specializations    []string `json:"specializations"`
	CollaborationStyle string   `json:"collaboration_style"`
	ExpertiseLevel     string   `json:"expertise_level"`
	CreatedAt          string   `json:"created_at"`
}

// TaskPlan is a structured task the service derived from a
// natural-language description. It runs only when executed.
type TaskPlan struct {
	TaskID          string   `json:"task_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ExpectedOutput  string   `json:"expected_output"`
	Agent           string   `json:"agent"`
	Priority        int      `json:"priority"`
	Complexity      string   `json:"complexity"`
	SuccessCriteria []string `json:"success_criteria"`
	Deliverables    []string `json:"deliverables"`
	CreatedAt       string   `json:"created_at"`
}

// ExecutionStarted acknowledges that a planned task was queued. The
// execution runs under its own task id.
type ExecutionStarted struct {
	ExecutionTaskID string `json:"execution_task_id"`
	OriginalTaskID  string `json:"original_task_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
}

type agentsResponse struct {
	Agents []Agent `json:"agents"`
}

type tasksResponse struct {
	Tasks []Task `json:"tasks"`
}

type taskLogsResponse struct {
	TaskID string     `json:"task_id"`
	Logs   []LogEntry `json:"logs"`
}

type createTaskRequest struct {
	TaskDescription string `json:"task_description"`
	UserID          string `json:"user_id,omitempty"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

type createPlanRequest struct {
	Description     string   `json:"description"`
	AvailableAgents []string `json:"available_agents,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
}

type plansResponse struct {
	Tasks []TaskPlan `json:"tasks"`
}

type createdAgentsResponse struct {
	Agents []CreatedAgent `json:"agents"`
}

type createAgentRequest struct {
	Description string `json:"description"`
	UserID      string `json:"user_id,omitempty"`
}
