package ui

import (
	"github.com/gdamore/tcell/v2"

	"github.com/zsprackett/agent-dashboard/internal/channel"
	"github.com/zsprackett/agent-dashboard/internal/toast"
)

// Theme colors for the TUI.
var (
	ColorBackground      = tcell.NewHexColor(0x1e1e2e)
	ColorBackgroundPanel = tcell.NewHexColor(0x181825)
	ColorBackgroundElem  = tcell.NewHexColor(0x313244)
	ColorPrimary         = tcell.NewHexColor(0x89b4fa) // blue
	ColorAccent          = tcell.NewHexColor(0xcba6f7) // mauve
	ColorText            = tcell.NewHexColor(0xcdd6f4)
	ColorTextMuted       = tcell.NewHexColor(0x6c7086)
	ColorSuccess         = tcell.NewHexColor(0xa6e3a1) // green
	ColorWarning         = tcell.NewHexColor(0xf9e2af) // yellow
	ColorError           = tcell.NewHexColor(0xf38ba8) // red
	ColorBorder          = tcell.NewHexColor(0x45475a)
	ColorSelected        = tcell.NewHexColor(0x89b4fa)
	ColorSelectedText    = tcell.NewHexColor(0x1e1e2e)
)

// Status icons
const (
	IconRunning = "●"
	IconWaiting = "◐"
	IconIdle    = "○"
	IconDone    = "✓"
	IconStopped = "◻"
	IconError   = "✗"
)

// StatusIcon maps an agent or task status reported by the service.
func StatusIcon(status string) (string, tcell.Color) {
	switch status {
	case "running", "busy", "working":
		return IconRunning, ColorPrimary
	case "created", "pending", "waiting":
		return IconWaiting, ColorWarning
	case "completed":
		return IconDone, ColorSuccess
	case "failed", "error":
		return IconError, ColorError
	case "offline", "stopped":
		return IconStopped, ColorTextMuted
	default:
		return IconIdle, ColorTextMuted
	}
}

// StateTag renders a connection state as a tview color-tagged label.
func StateTag(st channel.State) string {
	switch st {
	case channel.StateConnected:
		return "[green]● live[-]"
	case channel.StateConnecting:
		return "[yellow]◐ connecting[-]"
	case channel.StateClosing:
		return "[yellow]◐ closing[-]"
	default:
		return "[red]○ offline[-]"
	}
}

func severityTag(s toast.Severity) string {
	switch s {
	case toast.Success:
		return "green"
	case toast.Warning:
		return "yellow"
	case toast.Error:
		return "red"
	default:
		return "blue"
	}
}
