package dialogs

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const helpText = `[yellow]Dashboard Keys[-]

  [green]↑/k[-]      Navigate up
  [green]↓/j[-]      Navigate down
  [green]Tab[-]      Switch between agents and tasks
  [green]Enter[-]    Task details and execution log
  [green]n[-]        Submit a new task
  [green]a[-]        Create an agent from a description
  [green]p[-]        Plan a task without running it
  [green]x[-]        Planned tasks; Enter runs the selected one
  [green]r[-]        Refresh agents and tasks
  [green]c[-]        Connect the live channel
  [green]d[-]        Disconnect the live channel
  [green]s[-]        Settings
  [green]?[-]        This help
  [green]q[-]        Quit

[yellow]Connection[-]

  The header shows the live channel state. A dropped channel
  retries every few seconds. After five failed attempts in a
  row it stops; press [green]c[-] to start over.

Press [green]Escape[-] or [green]?[-] to close.`

func HelpDialog(onClose func()) *tview.TextView {
	tv := tview.NewTextView()
	tv.SetBorder(true).SetTitle(" Help ").SetTitleAlign(tview.AlignLeft)
	tv.SetDynamicColors(true)
	tv.SetBackgroundColor(tcell.ColorDefault)
	tv.SetText(helpText)
	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == '?' {
			onClose()
			return nil
		}
		return event
	})
	return tv
}
