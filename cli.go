package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/applog"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/events"
)

var (
	submitWait    bool
	submitTimeout time.Duration
	statusJSON    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <description>",
	Short: "Submit a task to the orchestration service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(cmd.Context(), strings.Join(args, " "))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service health, agents and tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "follow the task until it completes or fails")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Minute, "give up waiting after this long")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(submitCmd, statusCmd)
}

func runSubmit(ctx context.Context, description string) error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	s := e.prefs.Current()

	client, err := api.New(s.APIURL, e.cfg.Service.RequestTimeout())
	if err != nil {
		return err
	}

	var w *taskWatch
	if submitWait {
		// Subscribe before submitting so no update is missed.
		if w, err = watchTasks(e, client); err != nil {
			return err
		}
		defer w.Close()
	}

	id, err := client.CreateTask(ctx, description, e.cfg.Service.UserID)
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	fmt.Printf("%s %s\n", color.GreenString("Task submitted:"), id)
	if w == nil {
		return nil
	}
	return w.follow(ctx, id, submitTimeout)
}

// taskWatch buffers task updates and execution logs from a live channel.
type taskWatch struct {
	ch      *channel.Client
	updates chan events.TaskMessage
	logs    chan events.ExecutionLogMessage
}

func watchTasks(e *env, client *api.Client) (*taskWatch, error) {
	s := e.prefs.Current()
	transport, err := channel.NewTransport(channel.TransportConfig{
		Kind:         s.Transport,
		WebSocketURL: s.WSURL,
		PollInterval: time.Duration(s.PollIntervalMs) * time.Millisecond,
		Fetcher:      client,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, err
	}
	w := &taskWatch{
		ch: channel.New(transport, channel.Options{
			HeartbeatInterval:    e.cfg.Channel.HeartbeatInterval(),
			ReconnectDelay:       e.cfg.Channel.ReconnectDelay(),
			MaxReconnectAttempts: e.cfg.Channel.MaxReconnectAttempts,
			Logger:               e.logger,
		}),
		updates: make(chan events.TaskMessage, 64),
		logs:    make(chan events.ExecutionLogMessage, 256),
	}
	w.ch.On(events.TaskUpdate, func(ev events.Event) {
		var msg events.TaskMessage
		if ev.DecodePayload(&msg) != nil {
			return
		}
		select {
		case w.updates <- msg:
		default:
		}
	})
	w.ch.On(events.ExecutionLog, func(ev events.Event) {
		var msg events.ExecutionLogMessage
		if ev.DecodePayload(&msg) != nil {
			return
		}
		select {
		case w.logs <- msg:
		default:
		}
	})
	w.ch.Connect()
	return w, nil
}

func (w *taskWatch) Close() { w.ch.Disconnect() }

// follow prints execution steps for id until the task finishes.
func (w *taskWatch) follow(ctx context.Context, id string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-w.logs:
			if msg.TaskID != id {
				continue
			}
			l := msg.Entry()
			fmt.Printf("  %s %s %s\n", color.CyanString(l.Agent), color.BlueString(l.Action), l.Message)
		case msg := <-w.updates:
			if msg.TaskID != id {
				continue
			}
			switch msg.Type {
			case "task_failed":
				return fmt.Errorf("task %s failed: %s", id, firstNonEmpty(msg.Error, msg.Result))
			case "task_completed":
				fmt.Printf("%s %s\n", color.GreenString("Task completed:"), msg.Result)
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out waiting for task %s", id)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "no detail"
}

func runStatus(ctx context.Context) error {
	e, err := setup(applog.DefaultPrefix, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := api.New(e.prefs.Current().APIURL, e.cfg.Service.RequestTimeout())
	if err != nil {
		return err
	}
	healthErr := client.Health(ctx)
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	tasks, err := client.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"healthy": healthErr == nil,
			"agents":  agents,
			"tasks":   tasks,
		})
	}

	if healthErr != nil {
		fmt.Printf("%s %s (%v)\n", color.RedString("●"), client.BaseURL(), healthErr)
	} else {
		fmt.Printf("%s %s\n", color.GreenString("●"), client.BaseURL())
	}

	fmt.Printf("\n=== Agents (%d) ===\n", len(agents))
	for _, a := range agents {
		active := "-"
		if t := a.LastActive(); !t.IsZero() {
			active = humanize.Time(t)
		}
		fmt.Printf("  %-20s %-10s %-24s %s\n", a.Name, statusColor(a.Status), a.Role, active)
	}

	fmt.Printf("\n=== Tasks (%d) ===\n", len(tasks))
	for _, t := range tasks {
		desc := t.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Printf("  %-10s %-10s %s\n", shortTaskID(t.TaskID), statusColor(string(t.Status)), desc)
	}
	return nil
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return color.GreenString(status)
	case "failed", "error":
		return color.RedString(status)
	case "running", "busy", "working":
		return color.CyanString(status)
	case "created", "pending", "waiting":
		return color.YellowString(status)
	default:
		return status
	}
}

func shortTaskID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
