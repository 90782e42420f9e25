package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/api"
	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/toast"
	"github.com/zsprackett/agent-dashboard/internal/viewstate"
)

// Snapshot is everything the home screen renders in one pass.
type Snapshot struct {
	State     channel.State
	Transport string
	Agents    []api.Agent
	Tasks     []api.Task
	Logs      []api.LogEntry
	Summary   viewstate.Summary
	Toasts    []toast.Toast
	Now       time.Time
}

// Callbacks are the home screen's key actions.
type Callbacks struct {
	OnNewTask    func()
	OnNewAgent   func()
	OnPlanTask   func()
	OnPlans      func()
	OnRefresh    func()
	OnReconnect  func()
	OnDisconnect func()
	OnSettings   func()
	OnTask       func(taskID string)
	OnQuit       func()
}

// Home is the main screen: agents and tasks on the left, the live
// execution log on the right.
type Home struct {
	*tview.Flex
	app    *tview.Application
	header *tview.TextView
	agents *tview.Table
	tasks  *tview.Table
	logs   *tview.TextView
	toasts *tview.TextView
	footer *tview.TextView

	snap    Snapshot
	compact bool
	cb      Callbacks
}

func NewHome(app *tview.Application) *Home {
	h := &Home{app: app}

	h.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.header.SetBackgroundColor(ColorBackgroundPanel)

	h.agents = newTable(" Agents ")
	h.tasks = newTable(" Tasks ")

	h.logs = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	h.logs.SetBorder(true).SetTitle(" Execution Log ").SetTitleAlign(tview.AlignLeft)
	h.logs.SetBorderColor(ColorBorder)
	h.logs.SetBackgroundColor(ColorBackground)

	h.toasts = tview.NewTextView().SetDynamicColors(true)
	h.toasts.SetBackgroundColor(ColorBackground)

	h.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.footer.SetBackgroundColor(ColorBackgroundPanel)
	h.footer.SetText(
		"[green]↑↓[-] navigate  [green]Tab[-] switch  [green]Enter[-] details  " +
			"[green]n[-] new task  [green]a[-] new agent  [green]p[-] plan  [green]x[-] planned  " +
			"[green]r[-] refresh  [green]c[-] connect  " +
			"[green]d[-] disconnect  [green]s[-] settings  [green]?[-] help  [green]q[-] quit")

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(h.agents, 0, 1, true).
		AddItem(h.tasks, 0, 2, false)

	content := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(left, 0, 45, true).
		AddItem(h.logs, 0, 55, false)

	h.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(h.header, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(h.toasts, 1, 0, false).
		AddItem(h.footer, 1, 0, false)

	h.setupInput()
	return h
}

func newTable(title string) *tview.Table {
	t := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetSelectedStyle(tcell.StyleDefault.
			Background(ColorSelected).
			Foreground(ColorSelectedText))
	t.SetBorder(true).SetTitle(title).SetTitleAlign(tview.AlignLeft)
	t.SetBorderColor(ColorBorder)
	t.SetBackgroundColor(ColorBackground)
	return t
}

func (h *Home) SetCallbacks(cb Callbacks) {
	h.cb = cb
}

// SetCompact drops the secondary columns.
func (h *Home) SetCompact(compact bool) {
	h.compact = compact
	h.render()
}

func (h *Home) Update(snap Snapshot) {
	if snap.Now.IsZero() {
		snap.Now = time.Now()
	}
	h.snap = snap
	h.render()
}

func (h *Home) render() {
	h.header.SetText(headerText(h.snap))
	h.renderAgents()
	h.renderTasks()
	h.logs.SetText(logsText(h.snap.Logs))
	h.logs.ScrollToBeginning()
	h.toasts.SetText(toastText(h.snap.Toasts))
}

func headerCell(text string) *tview.TableCell {
	return tview.NewTableCell(text).
		SetTextColor(ColorPrimary).
		SetBackgroundColor(ColorBackgroundElem).
		SetSelectable(false)
}

func (h *Home) renderAgents() {
	row, _ := h.agents.GetSelection()
	h.agents.Clear()
	cols := []string{"", "Name", "Status", "Task", "Done"}
	if !h.compact {
		cols = append(cols, "Role", "Active")
	}
	for i, c := range cols {
		h.agents.SetCell(0, i, headerCell(c))
	}
	for i, a := range h.snap.Agents {
		icon, color := StatusIcon(a.Status)
		cells := agentCells(a, h.snap.Now)
		h.agents.SetCell(i+1, 0, tview.NewTableCell(icon).SetTextColor(color))
		for j, text := range cells[:len(cols)-1] {
			h.agents.SetCell(i+1, j+1, tview.NewTableCell(text).
				SetTextColor(ColorText).
				SetExpansion(boolInt(j == 0)))
		}
	}
	clampSelection(h.agents, row, len(h.snap.Agents))
}

func (h *Home) renderTasks() {
	row, _ := h.tasks.GetSelection()
	h.tasks.Clear()
	cols := []string{"", "Task", "Status", "Progress", "Description"}
	if !h.compact {
		cols = append(cols, "Agent", "Created")
	}
	for i, c := range cols {
		h.tasks.SetCell(0, i, headerCell(c))
	}
	for i, t := range h.snap.Tasks {
		icon, color := StatusIcon(string(t.Status))
		cells := taskCells(t, h.snap.Now)
		h.tasks.SetCell(i+1, 0, tview.NewTableCell(icon).SetTextColor(color))
		for j, text := range cells[:len(cols)-1] {
			h.tasks.SetCell(i+1, j+1, tview.NewTableCell(text).
				SetTextColor(ColorText).
				SetMaxWidth(maxWidth(j == 3, 40)).
				SetExpansion(boolInt(j == 3)))
		}
	}
	clampSelection(h.tasks, row, len(h.snap.Tasks))
}

func clampSelection(t *tview.Table, row, n int) {
	if n == 0 {
		return
	}
	if row < 1 {
		row = 1
	}
	if row > n {
		row = n
	}
	t.Select(row, 0)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func maxWidth(limited bool, w int) int {
	if limited {
		return w
	}
	return 0
}

// selectedTaskID returns the task under the cursor in the tasks table.
func (h *Home) selectedTaskID() (string, bool) {
	row, _ := h.tasks.GetSelection()
	if row < 1 || row > len(h.snap.Tasks) {
		return "", false
	}
	return h.snap.Tasks[row-1].TaskID, true
}

func (h *Home) setupInput() {
	capture := func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab, tcell.KeyBacktab:
			if h.agents.HasFocus() {
				h.app.SetFocus(h.tasks)
			} else {
				h.app.SetFocus(h.agents)
			}
			return nil
		case tcell.KeyEnter:
			if h.tasks.HasFocus() && h.cb.OnTask != nil {
				if id, ok := h.selectedTaskID(); ok {
					h.cb.OnTask(id)
				}
			}
			return nil
		}

		var fn func()
		switch event.Rune() {
		case 'n':
			fn = h.cb.OnNewTask
		case 'a':
			fn = h.cb.OnNewAgent
		case 'p':
			fn = h.cb.OnPlanTask
		case 'x':
			fn = h.cb.OnPlans
		case 'r':
			fn = h.cb.OnRefresh
		case 'c':
			fn = h.cb.OnReconnect
		case 'd':
			fn = h.cb.OnDisconnect
		case 's':
			fn = h.cb.OnSettings
		case 'q':
			fn = h.cb.OnQuit
		default:
			return event
		}
		if fn != nil {
			fn()
		}
		return nil
	}
	h.agents.SetInputCapture(capture)
	h.tasks.SetInputCapture(capture)
}

func headerText(s Snapshot) string {
	transport := ""
	if s.Transport != "" {
		transport = " via " + s.Transport
	}
	return fmt.Sprintf(
		"[blue]AGENT DASHBOARD[-]   %s%s   agents %d ([blue]%d busy[-])   tasks %d  [blue]● %d running[-]  [green]✓ %d done[-]  [red]✗ %d failed[-]",
		StateTag(s.State), transport,
		s.Summary.Agents, s.Summary.AgentsBusy,
		s.Summary.Tasks, s.Summary.TasksRunning, s.Summary.TasksDone, s.Summary.TasksFailed)
}

// agentCells renders name, status, current task, completed count, role and
// last activity.
func agentCells(a api.Agent, now time.Time) []string {
	task := a.CurrentTask
	if task == "" {
		task = "-"
	}
	return []string{
		a.Name,
		a.Status,
		shortID(task),
		humanize.Comma(int64(a.TotalTasksCompleted)),
		a.Role,
		relTime(a.LastActive(), now),
	}
}

// taskCells renders id, status, progress, description, current agent and
// creation time.
func taskCells(t api.Task, now time.Time) []string {
	agent := t.CurrentAgent
	if agent == "" {
		agent = "-"
	}
	return []string{
		shortID(t.TaskID),
		string(t.Status),
		progressText(t),
		tview.Escape(t.Description),
		agent,
		relTime(t.Created(), now),
	}
}

func progressText(t api.Task) string {
	switch t.Status {
	case api.TaskCompleted:
		return "100%"
	case api.TaskRunning:
		return fmt.Sprintf("%d%%", t.Progress)
	default:
		return "-"
	}
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if now.Sub(t) < time.Second {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// logsText renders the log buffer in the order given (newest first).
func logsText(entries []api.LogEntry) string {
	if len(entries) == 0 {
		return "[gray]Waiting for execution logs...[-]"
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(logLine(e))
	}
	return sb.String()
}

func logLine(e api.LogEntry) string {
	ts := e.Timestamp
	if t := e.Time(); !t.IsZero() {
		ts = t.Local().Format("15:04:05")
	}
	color := "white"
	switch e.Status {
	case "completed", "success":
		color = "green"
	case "failed", "error":
		color = "red"
	}
	return fmt.Sprintf("[gray]%s[-] [%s]%s[-] [blue]%s[-] %s",
		tview.Escape(ts), color, tview.Escape(e.Agent), tview.Escape(e.Action), tview.Escape(e.Message))
}

// toastText shows the active toasts, oldest first, on one line.
func toastText(ts []toast.Toast) string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, fmt.Sprintf("[%s]▌ %s[-]", severityTag(t.Severity), tview.Escape(t.Message)))
	}
	return strings.Join(parts, "  ")
}
