package ui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/config"
	"github.com/zsprackett/agent-dashboard/internal/db"
	"github.com/zsprackett/agent-dashboard/internal/events"
	"github.com/zsprackett/agent-dashboard/internal/monitor"
	"github.com/zsprackett/agent-dashboard/internal/settings"
	"github.com/zsprackett/agent-dashboard/internal/toast"
	"github.com/zsprackett/agent-dashboard/internal/ui/dialogs"
)

// clockInterval re-renders relative times.
const clockInterval = 5 * time.Second

type App struct {
	tapp   *tview.Application
	pages  *tview.Pages
	home   *Home
	store  *db.DB
	prefs  *settings.Manager
	toasts *toast.Queue
	cfg    config.Config
	logger *slog.Logger

	// mon and subs are only touched on the UI goroutine.
	mon  *monitor.Monitor
	subs []*channel.Subscription
}

func NewApp(store *db.DB, cfg config.Config, prefs *settings.Manager, logger *slog.Logger) (*App, error) {
	a := &App{
		store:  store,
		prefs:  prefs,
		toasts: toast.New(),
		cfg:    cfg,
		logger: logger,
	}

	a.tapp = tview.NewApplication()
	a.pages = tview.NewPages()
	a.home = NewHome(a.tapp)

	mon, err := a.newMonitor(prefs.Current())
	if err != nil {
		return nil, err
	}
	a.mon = mon
	a.toasts.OnChange(a.queueRender)

	a.pages.AddPage("home", a.home, true, true)
	a.tapp.SetRoot(a.pages, true).EnableMouse(false)
	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == '?' && !a.dialogOpen() {
			a.showHelp()
			return nil
		}
		return event
	})

	a.home.SetCallbacks(Callbacks{
		OnNewTask:    a.onNewTask,
		OnNewAgent:   a.onNewAgent,
		OnPlanTask:   a.onPlanTask,
		OnPlans:      a.onPlans,
		OnRefresh:    a.onRefresh,
		OnReconnect:  a.onReconnect,
		OnDisconnect: a.onDisconnect,
		OnSettings:   a.onSettings,
		OnTask:       a.onTask,
		OnQuit:       func() { a.tapp.Stop() },
	})

	return a, nil
}

func (a *App) newMonitor(s settings.Settings) (*monitor.Monitor, error) {
	return monitor.New(monitor.Options{
		Config:   a.cfg,
		Settings: s,
		Store:    a.store,
		Notifier: a.toasts,
		OnUpdate: a.queueRender,
		Logger:   a.logger,
	})
}

func (a *App) Run() error {
	a.home.SetCompact(a.prefs.Current().Compact)
	a.startMonitor()
	defer func() { a.stopMonitor() }()

	if !a.prefs.WelcomeSeen() {
		a.showWelcome()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(clockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.queueRender()
			}
		}
	}()

	a.render()
	return a.tapp.Run()
}

// startMonitor subscribes the connection toasts and starts the pipeline.
func (a *App) startMonitor() {
	ch := a.mon.Channel()
	a.subs = []*channel.Subscription{
		ch.On(events.Connected, func(events.Event) {
			a.toasts.Success("Connected to live updates")
		}),
		ch.On(events.Disconnected, func(e events.Event) {
			var info channel.DisconnectInfo
			e.DecodePayload(&info)
			switch {
			case info.Reconnecting:
				a.toasts.Warning("Connection lost, reconnecting...")
			case info.Reason != "" && info.Reason != channel.ReasonClientDisconnect:
				a.toasts.Error("Connection lost. Press c to reconnect")
			}
			a.queueRender()
		}),
		ch.On(events.Error, func(events.Event) { a.queueRender() }),
	}
	a.mon.Start()
}

func (a *App) stopMonitor() {
	ch := a.mon.Channel()
	for _, sub := range a.subs {
		ch.Off(sub)
	}
	a.subs = nil
	a.mon.Stop()
}

// queueRender schedules a redraw. Safe from any goroutine, including the
// UI goroutine itself.
func (a *App) queueRender() {
	go a.tapp.QueueUpdateDraw(a.render)
}

func (a *App) render() {
	view := a.mon.View()
	a.home.Update(Snapshot{
		State:     a.mon.Channel().State(),
		Transport: a.mon.Channel().TransportName(),
		Agents:    view.Agents(),
		Tasks:     view.Tasks(),
		Logs:      view.Logs(),
		Summary:   view.Summary(),
		Toasts:    a.toasts.List(),
	})
}

func (a *App) dialogOpen() bool {
	name, _ := a.pages.GetFrontPage()
	return name != "home"
}

func (a *App) showDialog(name string, widget tview.Primitive, width, height int) {
	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(widget, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, modal, true, true)
	a.tapp.SetFocus(widget)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	a.tapp.SetFocus(a.home.agents)
}

func (a *App) showHelp() {
	help := dialogs.HelpDialog(func() {
		a.closeDialog("help")
	})
	a.showDialog("help", help, 66, 30)
}

func (a *App) showWelcome() {
	welcome := dialogs.WelcomeDialog(func() {
		a.closeDialog("welcome")
		if err := a.prefs.MarkWelcomeSeen(); err != nil {
			a.logger.Warn("ui: mark welcome seen failed", "err", err)
		}
	})
	a.showDialog("welcome", welcome, 70, 20)
}

func (a *App) invalid(err error) {
	a.toasts.Warning(capitalize(err.Error()))
}

func (a *App) onNewTask() {
	client := a.mon.API()
	form := dialogs.NewTaskDialog(func(desc string) {
		a.closeDialog("new-task")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.RequestTimeout())
			defer cancel()
			id, err := client.CreateTask(ctx, desc, a.cfg.Service.UserID)
			if err != nil {
				a.logger.Warn("ui: create task failed", "err", err)
				a.toasts.Error(fmt.Sprintf("Failed to submit task: %v", err))
				return
			}
			a.toasts.Success(fmt.Sprintf("Task %s submitted", shortID(id)))
			a.tapp.QueueUpdate(func() { a.mon.View().RefreshTasks() })
		}()
	}, a.invalid, func() { a.closeDialog("new-task") })
	a.showDialog("new-task", form, 62, 14)
}

func (a *App) onNewAgent() {
	client := a.mon.API()
	form := dialogs.NewAgentDialog(func(desc string) {
		a.closeDialog("new-agent")
		a.toasts.Info("Creating agent...")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Service.RequestTimeout())
			defer cancel()
			agent, err := client.CreateAgent(ctx, desc, a.cfg.Service.UserID)
			if err != nil {
				a.logger.Warn("ui: create agent failed", "err", err)
				a.toasts.Error(fmt.Sprintf("Failed to create agent: %v", err))
				return
			}
			a.toasts.Success(fmt.Sprintf("Agent %s created", agent.Name))
			a.tapp.QueueUpdate(func() { a.mon.View().RefreshAgents() })
		}()
	}, a.invalid, func() { a.closeDialog("new-agent") })
	a.showDialog("new-agent", form, 62, 14)
}

func (a *App) onPlanTask() {
	client := a.mon.API()
	var agents []string
	for _, ag := range a.mon.View().Agents() {
		agents = append(agents, ag.Name)
	}
	form := dialogs.NewPlanDialog(func(desc string) {
		a.closeDialog("plan-task")
		a.toasts.Info("Planning task...")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Service.RequestTimeout())
			defer cancel()
			plan, err := client.CreateTaskPlan(ctx, desc, agents, a.cfg.Service.UserID)
			if err != nil {
				a.logger.Warn("ui: plan task failed", "err", err)
				a.toasts.Error(fmt.Sprintf("Failed to plan task: %v", err))
				return
			}
			a.toasts.Success(fmt.Sprintf("Planned %q for %s. Press x to run it", plan.Name, plan.Agent))
		}()
	}, a.invalid, func() { a.closeDialog("plan-task") })
	a.showDialog("plan-task", form, 62, 14)
}

func (a *App) onPlans() {
	client := a.mon.API()
	var d *dialogs.PlansDialog
	load := func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.RequestTimeout())
		defer cancel()
		plans, err := client.ListCreatedTasks(ctx)
		a.tapp.QueueUpdateDraw(func() {
			if err != nil {
				d.SetError(err)
				return
			}
			d.SetPlans(plans)
		})
	}
	execute := func(p api.TaskPlan) {
		a.closeDialog("plans")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.RequestTimeout())
			defer cancel()
			started, err := client.ExecuteTask(ctx, p.TaskID)
			if err != nil {
				a.logger.Warn("ui: execute task failed", "task_id", p.TaskID, "err", err)
				a.toasts.Error(fmt.Sprintf("Failed to run %q: %v", p.Name, err))
				return
			}
			a.toasts.Success(fmt.Sprintf("Task %s started", shortID(started.ExecutionTaskID)))
			a.tapp.QueueUpdate(func() { a.mon.View().RefreshTasks() })
		}()
	}
	d = dialogs.NewPlansDialog(execute, func() { a.closeDialog("plans") }, load)
	a.showDialog("plans", d, 80, 20)
	go load()
}

func (a *App) onRefresh() {
	a.mon.View().RefreshAll()
	a.toasts.Info("Refreshing...")
}

func (a *App) onReconnect() {
	switch a.mon.Channel().State() {
	case channel.StateConnected:
		a.toasts.Info("Already connected")
	default:
		a.mon.Channel().Connect()
		a.render()
	}
}

func (a *App) onDisconnect() {
	if a.mon.Channel().State() == channel.StateDisconnected {
		return
	}
	modal := dialogs.ConfirmDialog("Disconnect from live updates?\n\nPress c to connect again.", "Disconnect",
		func() {
			a.closeDialog("confirm-disconnect")
			a.mon.Channel().Disconnect()
			a.toasts.Info("Disconnected")
		},
		func() { a.closeDialog("confirm-disconnect") },
	)
	a.pages.AddPage("confirm-disconnect", modal, true, true)
}

func (a *App) onSettings() {
	form := dialogs.SettingsDialog(a.prefs.Current(),
		func(s settings.Settings) {
			a.closeDialog("settings")
			prev := a.prefs.Current()
			if err := a.prefs.Save(s); err != nil {
				a.invalid(err)
				return
			}
			a.apply(prev, a.prefs.Current())
			a.toasts.Success("Settings saved")
		},
		a.invalid,
		func() {
			a.closeDialog("settings")
			prev := a.prefs.Current()
			s, err := a.prefs.Reset()
			if err != nil {
				a.toasts.Error(fmt.Sprintf("Reset failed: %v", err))
				return
			}
			a.apply(prev, s)
			a.toasts.Success("Settings reset to defaults")
		},
		func() { a.closeDialog("settings") },
	)
	a.showDialog("settings", form, 66, 21)
}

// apply switches to new settings, rebuilding the pipeline when the
// connection changed.
func (a *App) apply(prev, next settings.Settings) {
	a.home.SetCompact(next.Compact)
	if !needsRebuild(prev, next) {
		return
	}
	mon, err := a.newMonitor(next)
	if err != nil {
		a.toasts.Error(fmt.Sprintf("Cannot use new settings: %v", err))
		return
	}
	old, oldSubs := a.mon, a.subs
	a.mon, a.subs = mon, nil
	go func() {
		for _, sub := range oldSubs {
			old.Channel().Off(sub)
		}
		old.Stop()
	}()
	a.startMonitor()
	a.render()
}

func needsRebuild(prev, next settings.Settings) bool {
	return prev.APIURL != next.APIURL ||
		prev.WSURL != next.WSURL ||
		prev.Transport != next.Transport ||
		prev.PollIntervalMs != next.PollIntervalMs ||
		prev.RefreshIntervalMs != next.RefreshIntervalMs ||
		prev.Notifications != next.Notifications
}

func (a *App) onTask(taskID string) {
	client := a.mon.API()
	var d *dialogs.TaskDetailDialog
	load := func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.RequestTimeout())
		defer cancel()
		task, err := client.GetTask(ctx, taskID)
		if err == nil {
			// The listing only carries recent steps.
			if logs, lerr := client.GetTaskLogs(ctx, taskID); lerr == nil && len(logs) > 0 {
				task.ExecutionLog = logs
			}
		}
		a.tapp.QueueUpdateDraw(func() {
			if err != nil {
				d.SetError(err)
				return
			}
			d.SetTask(task)
		})
	}
	d = dialogs.NewTaskDetailDialog(taskID, func() { a.closeDialog("task") }, load)
	a.showDialog("task", d, 90, 30)
	go load()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
