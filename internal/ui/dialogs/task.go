package dialogs

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/api"
)

// TaskDetailDialog shows one task with its full execution log. The caller loads
// the task in the background and calls SetTask or SetError.
type TaskDetailDialog struct {
	*tview.TextView
	taskID string
}

func NewTaskDetailDialog(taskID string, onClose func(), onRefresh func()) *TaskDetailDialog {
	d := &TaskDetailDialog{TextView: tview.NewTextView(), taskID: taskID}
	d.SetBorder(true).SetTitle(fmt.Sprintf(" Task %s ", taskID)).SetTitleAlign(tview.AlignLeft)
	d.SetDynamicColors(true)
	d.SetScrollable(true)
	d.SetBackgroundColor(tcell.ColorDefault)
	d.SetText("\n  [yellow]Loading...[-]")

	d.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q', event.Rune() == 'Q':
			onClose()
			return nil
		case event.Rune() == 'r', event.Rune() == 'R':
			d.SetText(d.GetText(false) + "\n\n  [yellow]Refreshing...[-]")
			go onRefresh()
			return nil
		}
		return event
	})
	return d
}

func (d *TaskDetailDialog) SetTask(t *api.Task) {
	d.SetText(taskText(t))
	d.ScrollToBeginning()
}

func (d *TaskDetailDialog) SetError(err error) {
	d.SetText(fmt.Sprintf("\n  [red]Could not load task %s:[-] %s\n\n  [green]R[-] retry  [green]Q/Esc[-] close",
		d.taskID, tview.Escape(err.Error())))
}

func taskText(t *api.Task) string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  [yellow]Status[-]      %s\n", statusTag(string(t.Status)))
	progress := t.Progress
	if t.Status == api.TaskCompleted {
		progress = 100
	}
	fmt.Fprintf(&sb, "  [yellow]Progress[-]    %s %d%%\n", progressBar(float64(progress)/100, 30), progress)
	if t.CurrentAgent != "" {
		fmt.Fprintf(&sb, "  [yellow]Agent[-]       %s", tview.Escape(t.CurrentAgent))
		if t.CurrentStep != "" {
			fmt.Fprintf(&sb, " (%s)", tview.Escape(t.CurrentStep))
		}
		sb.WriteString("\n")
	}
	if t.CreatedAt != "" {
		fmt.Fprintf(&sb, "  [yellow]Created[-]     %s\n", t.CreatedAt)
	}
	if t.CompletedAt != "" {
		fmt.Fprintf(&sb, "  [yellow]Finished[-]    %s\n", t.CompletedAt)
	}
	fmt.Fprintf(&sb, "\n  [yellow]Description[-]\n  %s\n", tview.Escape(t.Description))
	if t.Result != "" {
		fmt.Fprintf(&sb, "\n  [yellow]Result[-]\n  %s\n", tview.Escape(t.Result))
	}

	sb.WriteString("\n  [yellow]Execution Log[-]\n")
	if len(t.ExecutionLog) == 0 {
		sb.WriteString("  [gray]No steps yet.[-]\n")
	}
	for _, e := range t.ExecutionLog {
		fmt.Fprintf(&sb, "  [gray]%s[-] [blue]%s[-] %s: %s\n",
			tview.Escape(e.Timestamp), tview.Escape(e.Agent), tview.Escape(e.Action), tview.Escape(e.Message))
	}
	sb.WriteString("\n  [green]R[-] refresh  [green]Q/Esc[-] close")
	return sb.String()
}

func statusTag(status string) string {
	switch status {
	case "completed":
		return "[green]completed[-]"
	case "failed":
		return "[red]failed[-]"
	case "running":
		return "[blue]running[-]"
	default:
		return status
	}
}

// progressBar renders a text progress bar for a fraction in [0,1].
func progressBar(frac float64, width int) string {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * float64(width))
	color := "blue"
	if frac >= 1 {
		color = "green"
	}
	return fmt.Sprintf("[%s][%s%s][-]", color, strings.Repeat("█", filled), strings.Repeat("░", width-filled))
}
