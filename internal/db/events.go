package db

import (
	"fmt"
	"time"

	"github.com/zsprackett/agent-dashboard/internal/events"
)

func (d *DB) InsertTaskEvent(e TaskEvent) error {
	if e.TaskID == "" {
		return fmt.Errorf("insert task event: empty task id")
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	_, err := d.sql.Exec(
		`INSERT INTO task_events (task_id, ts, kind, status, agent, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Ts.UnixMilli(), e.Kind, e.Status, e.Agent, e.Detail,
	)
	return err
}

// GetTaskEvents returns up to limit events for one task, most recent first.
func (d *DB) GetTaskEvents(taskID string, limit int) ([]TaskEvent, error) {
	return d.queryTaskEvents(
		`SELECT id, task_id, ts, kind, status, agent, detail
		 FROM task_events
		 WHERE task_id = ?
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`,
		taskID, limit,
	)
}

// RecentTaskEvents returns up to limit events across all tasks, most recent
// first.
func (d *DB) RecentTaskEvents(limit int) ([]TaskEvent, error) {
	return d.queryTaskEvents(
		`SELECT id, task_id, ts, kind, status, agent, detail
		 FROM task_events
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`,
		limit,
	)
}

// PruneTaskEvents deletes events recorded before cutoff.
func (d *DB) PruneTaskEvents(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec(`DELETE FROM task_events WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) queryTaskEvents(query string, args ...any) ([]TaskEvent, error) {
	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskEvent
	for rows.Next() {
		var e TaskEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.TaskID, &ts, &e.Kind, &e.Status, &e.Agent, &e.Detail); err != nil {
			return nil, err
		}
		e.Ts = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEvent stores a task_update or execution_log channel event. Other
// event types are ignored.
func (d *DB) RecordEvent(e events.Event) error {
	switch e.Type {
	case events.TaskUpdate:
		var m events.TaskMessage
		if err := e.DecodePayload(&m); err != nil {
			return fmt.Errorf("record %s: %w", e.Kind, err)
		}
		detail := m.Result
		if m.Error != "" {
			detail = m.Error
		}
		if detail == "" {
			detail = m.Description
		}
		return d.InsertTaskEvent(TaskEvent{
			TaskID: m.TaskID,
			Ts:     e.ReceivedAt,
			Kind:   e.Kind,
			Status: m.Status,
			Detail: detail,
		})
	case events.ExecutionLog:
		var m events.ExecutionLogMessage
		if err := e.DecodePayload(&m); err != nil {
			return fmt.Errorf("record %s: %w", e.Kind, err)
		}
		entry := m.Entry()
		return d.InsertTaskEvent(TaskEvent{
			TaskID: entry.TaskID,
			Ts:     e.ReceivedAt,
			Kind:   e.Kind,
			Status: entry.Status,
			Agent:  entry.Agent,
			Detail: fmt.Sprintf("%s: %s", entry.Action, entry.Message),
		})
	}
	return nil
}
