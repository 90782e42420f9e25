package dialogs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/agent-dashboard/internal/settings"
)

var transports = []string{"websocket", "poll"}

// SettingsValues holds the raw form input.
type SettingsValues struct {
	APIURL          string
	WSURL           string
	Transport       string
	PollInterval    string
	RefreshInterval string
	Notifications   bool
	Compact         bool
}

// ParseSettings applies form input over base and validates the result.
func ParseSettings(base settings.Settings, v SettingsValues) (settings.Settings, error) {
	poll, err := strconv.Atoi(strings.TrimSpace(v.PollInterval))
	if err != nil {
		return base, fmt.Errorf("%w: poll interval %q is not a number", settings.ErrInvalid, v.PollInterval)
	}
	refresh, err := strconv.Atoi(strings.TrimSpace(v.RefreshInterval))
	if err != nil {
		return base, fmt.Errorf("%w: refresh interval %q is not a number", settings.ErrInvalid, v.RefreshInterval)
	}
	s := base
	s.APIURL = strings.TrimRight(strings.TrimSpace(v.APIURL), "/")
	s.WSURL = strings.TrimSpace(v.WSURL)
	s.Transport = v.Transport
	s.PollIntervalMs = poll
	s.RefreshIntervalMs = refresh
	s.Notifications = v.Notifications
	s.Compact = v.Compact
	if err := s.Validate(); err != nil {
		return base, err
	}
	return s, nil
}

// SettingsDialog edits the persisted preferences. onSave receives the
// parsed settings; onInvalid the parse or validation error. onReset asks
// the caller to restore defaults.
func SettingsDialog(cur settings.Settings,
	onSave func(settings.Settings), onInvalid func(error), onReset func(), onCancel func()) *tview.Form {

	form := tview.NewForm()
	form.SetBorder(true).SetTitle(" Settings ").SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(tcell.ColorDefault)
	form.SetFieldBackgroundColor(tcell.ColorDefault)

	transportIdx := 0
	for i, t := range transports {
		if t == cur.Transport {
			transportIdx = i
		}
	}

	form.AddInputField("API URL", cur.APIURL, 40, nil, nil)
	form.AddInputField("Channel URL", cur.WSURL, 40, nil, nil)
	form.AddDropDown("Transport", transports, transportIdx, nil)
	form.AddInputField("Poll interval (ms)", strconv.Itoa(cur.PollIntervalMs), 8, tview.InputFieldInteger, nil)
	form.AddInputField("Refresh interval (ms)", strconv.Itoa(cur.RefreshIntervalMs), 8, tview.InputFieldInteger, nil)
	form.AddCheckbox("Notifications", cur.Notifications, nil)
	form.AddCheckbox("Compact tables", cur.Compact, nil)

	text := func(label string) string {
		return form.GetFormItemByLabel(label).(*tview.InputField).GetText()
	}
	checked := func(label string) bool {
		return form.GetFormItemByLabel(label).(*tview.Checkbox).IsChecked()
	}

	form.AddButton("Save", func() {
		_, transport := form.GetFormItemByLabel("Transport").(*tview.DropDown).GetCurrentOption()
		s, err := ParseSettings(cur, SettingsValues{
			APIURL:          text("API URL"),
			WSURL:           text("Channel URL"),
			Transport:       transport,
			PollInterval:    text("Poll interval (ms)"),
			RefreshInterval: text("Refresh interval (ms)"),
			Notifications:   checked("Notifications"),
			Compact:         checked("Compact tables"),
		})
		if err != nil {
			onInvalid(err)
			return
		}
		onSave(s)
	})
	form.AddButton("Reset", onReset)
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
