package events

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType names an event delivered to channel subscribers.
type EventType string

const (
	Connected    EventType = "connected"
	Disconnected EventType = "disconnected"
	AgentUpdate  EventType = "agent_update"
	TaskUpdate   EventType = "task_update"
	ExecutionLog EventType = "execution_log"
	Error        EventType = "error"
	Heartbeat    EventType = "heartbeat"

	// Message is a subscription key only: every classified event is also
	// delivered to Message subscribers.
	Message EventType = "message"
)

// Event is a normalized update from the remote service. Kind holds the
// remote "type" discriminator (for example "task_completed") and is empty
// for lifecycle events.
type Event struct {
	Type       EventType       `json:"type"`
	Kind       string          `json:"kind,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Broadcaster sends events to connected relay clients.
type Broadcaster interface {
	Broadcast(e Event)
}

var classification = map[string]EventType{
	"agent_heartbeat": AgentUpdate,
	"agent_statuses":  AgentUpdate,
	"task_created":    TaskUpdate,
	"task_started":    TaskUpdate,
	"task_completed":  TaskUpdate,
	"task_failed":     TaskUpdate,
	"execution_log":   ExecutionLog,
	"heartbeat":       Heartbeat,
}

// Classify maps a remote discriminator to its event type. The match is
// case-sensitive; unknown kinds report false and must be ignored.
func Classify(kind string) (EventType, bool) {
	t, ok := classification[kind]
	return t, ok
}

// ErrNoType is returned by Decode when a message has no "type" field.
var ErrNoType = errors.New("message has no type")

// Envelope is the discriminator shared by every remote message.
type Envelope struct {
	Type string `json:"type"`
}

// Decode extracts the discriminator from a raw message.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	if env.Type == "" {
		return env, ErrNoType
	}
	return env, nil
}

// TaskMessage is the payload of task_created, task_started, task_completed
// and task_failed messages.
type TaskMessage struct {
	Type          string  `json:"type"`
	TaskID        string  `json:"task_id"`
	Status        string  `json:"status,omitempty"`
	Description   string  `json:"task_description,omitempty"`
	Name          string  `json:"name,omitempty"`
	Result        string  `json:"result,omitempty"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"execution_time,omitempty"`
}

// LogEntry is a single execution step reported by the remote service.
type LogEntry struct {
	TaskID    string `json:"task_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	Action    string `json:"action"`
	Message   string `json:"message"`
	Status    string `json:"status"`
}

// Time parses the entry timestamp. Returns the zero time on parse failure.
func (e LogEntry) Time() time.Time {
	return ParseTime(e.Timestamp)
}

// timeLayouts covers RFC3339 and the zone-less ISO format the remote
// service emits.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime converts a remote timestamp string to a time.Time.
// Returns the zero time on parse failure.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ExecutionLogMessage is the payload of an execution_log message.
type ExecutionLogMessage struct {
	Type         string   `json:"type"`
	TaskID       string   `json:"task_id"`
	Log          LogEntry `json:"log"`
	TaskProgress int      `json:"task_progress"`
	CurrentAgent string   `json:"current_agent,omitempty"`
	CurrentStep  string   `json:"current_step,omitempty"`
}

// Entry returns the log entry with its owning task filled in.
func (m ExecutionLogMessage) Entry() LogEntry {
	e := m.Log
	if e.TaskID == "" {
		e.TaskID = m.TaskID
	}
	return e
}

// AgentsMessage is the payload of agent_statuses and agent_heartbeat.
type AgentsMessage struct {
	Type   string            `json:"type"`
	Agents []json.RawMessage `json:"agents"`
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}
