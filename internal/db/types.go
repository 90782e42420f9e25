package db

import "time"

// TaskEvent is one observed change to a task on the remote service: a
// lifecycle transition or an execution log step.
type TaskEvent struct {
	ID     int64     `json:"id"`
	TaskID string    `json:"task_id"`
	Ts     time.Time `json:"ts"`
	Kind   string    `json:"kind"`
	Status string    `json:"status,omitempty"`
	Agent  string    `json:"agent,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

type Account struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type RefreshToken struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
}
