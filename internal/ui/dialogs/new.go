package dialogs

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/api"
)

// ValidateDescription trims a free-text description and rejects blank input
// before anything is sent upstream.
func ValidateDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", api.ErrEmptyDescription
	}
	return s, nil
}

// DescriptionDialog shows a form with one multi-line description field.
// onSubmit only runs for non-blank input; onInvalid gets the validation
// error otherwise. onCancel runs on Cancel or Escape.
func DescriptionDialog(title, label, submit string,
	onSubmit func(string), onInvalid func(error), onCancel func()) *tview.Form {

	form := tview.NewForm()
	form.SetBorder(true).SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	form.AddTextArea(label, "", 54, 6, 0, nil)

	form.AddButton(submit, func() {
		text := form.GetFormItemByLabel(label).(*tview.TextArea).GetText()
		desc, err := ValidateDescription(text)
		if err != nil {
			if onInvalid != nil {
				onInvalid(err)
			}
			return
		}
		onSubmit(desc)
	})
	form.AddButton("Cancel", onCancel)

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})
	return form
}

// NewTaskDialog asks for a task description.
func NewTaskDialog(onSubmit func(string), onInvalid func(error), onCancel func()) *tview.Form {
	return DescriptionDialog("New Task", "Description", "Submit", onSubmit, onInvalid, onCancel)
}

// NewAgentDialog asks for a natural-language agent description.
func NewAgentDialog(onSubmit func(string), onInvalid func(error), onCancel func()) *tview.Form {
	return DescriptionDialog("New Agent", "Describe the agent", "Create", onSubmit, onInvalid, onCancel)
}
