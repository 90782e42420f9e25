package dialogs

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/api"
)

// NewPlanDialog asks for a task description to plan without running.
func NewPlanDialog(onSubmit func(string), onInvalid func(error), onCancel func()) *tview.Form {
	return DescriptionDialog("Plan Task", "Describe the task", "Plan", onSubmit, onInvalid, onCancel)
}

// PlansDialog lists planned tasks. Enter runs the selected one. The caller
// loads the list in the background and calls SetPlans or SetError.
type PlansDialog struct {
	*tview.List
	plans     []api.TaskPlan
	onExecute func(api.TaskPlan)
}

func NewPlansDialog(onExecute func(api.TaskPlan), onClose func(), onReload func()) *PlansDialog {
	d := &PlansDialog{List: tview.NewList(), onExecute: onExecute}
	d.SetBorder(true).SetTitle(" Planned Tasks ").SetTitleAlign(tview.AlignLeft)
	d.SetBackgroundColor(tcell.ColorDefault)
	d.SetSecondaryTextColor(tcell.ColorGray)
	d.SetSelectedFocusOnly(false)
	d.AddItem("Loading...", "", 0, nil)
	d.SetSelectedFunc(func(int, string, string, rune) { d.ExecuteSelected() })

	d.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q', event.Rune() == 'Q':
			onClose()
			return nil
		case event.Rune() == 'r', event.Rune() == 'R':
			d.Clear()
			d.AddItem("Refreshing...", "", 0, nil)
			go onReload()
			return nil
		}
		return event
	})
	return d
}

// SetPlans replaces the listed tasks, newest first as the service returns
// them.
func (d *PlansDialog) SetPlans(plans []api.TaskPlan) {
	d.plans = plans
	d.Clear()
	if len(plans) == 0 {
		d.AddItem("No planned tasks. Press p on the dashboard to plan one.", "", 0, nil)
		return
	}
	for _, p := range plans {
		d.AddItem(planTitle(p), planSummary(p), 0, nil)
	}
}

func (d *PlansDialog) SetError(err error) {
	d.plans = nil
	d.Clear()
	d.AddItem("[red]Could not load planned tasks[-]", tview.Escape(err.Error()), 0, nil)
}

// ExecuteSelected runs the task under the cursor. Placeholder rows are
// ignored.
func (d *PlansDialog) ExecuteSelected() {
	i := d.GetCurrentItem()
	if i < 0 || i >= len(d.plans) {
		return
	}
	d.onExecute(d.plans[i])
}

func planTitle(p api.TaskPlan) string {
	name := p.Name
	if name == "" {
		name = p.TaskID
	}
	return fmt.Sprintf("%s  [blue]%s[-]  p%d", tview.Escape(name), tview.Escape(p.Agent), p.Priority)
}

func planSummary(p api.TaskPlan) string {
	s := p.Description
	if len(s) > 70 {
		s = s[:67] + "..."
	}
	if p.Complexity != "" {
		s = p.Complexity + ": " + s
	}
	return tview.Escape(s)
}
