package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const welcomeText = `[yellow]Welcome to the agent dashboard[-]

This screen watches a multi-agent orchestration service.

  [blue]Agents[-]         every agent, its status and current task
  [blue]Tasks[-]          submitted tasks with live progress
  [blue]Execution Log[-]  agent steps as they happen, newest first

Press [green]n[-] to submit your first task. Progress streams in over
the live channel; the header shows whether it is connected.

Press [green]s[-] to point the dashboard at another service and
[green]?[-] for all keys.

Press [green]Enter[-] or [green]Escape[-] to start.`

// WelcomeDialog is the first-run guide.
func WelcomeDialog(onClose func()) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetBorder(true).SetTitle(" Getting Started ").SetTitleAlign(tview.AlignLeft)
	tv.SetDynamicColors(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(welcomeText)
	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyEnter:
			onClose()
			return nil
		}
		return event
	})
	return tv
}
