// Package theme provides the Lip Gloss palette and styles shared by the
// picker and the lcu-watch output. It is a leaf package with no internal
// imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Event type colors.
var (
	ColorCreate = lipgloss.Color("#22c55e")
	ColorUpdate = lipgloss.Color("#3b82f6")
	ColorDelete = lipgloss.Color("#dc2626")
	ColorOther  = lipgloss.Color("#9ca3af")
)

// Lifecycle colors.
var (
	ColorOpen       = lipgloss.Color("#7c3aed")
	ColorReady      = lipgloss.Color("#16a34a")
	ColorClose      = lipgloss.Color("#4b5563")
	ColorDisconnect = lipgloss.Color("#d97706")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorAccent = lipgloss.Color("#c8aa6e")
)

var (
	Title = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	Dim   = lipgloss.NewStyle().Foreground(ColorDimmed)
	Badge = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	Selected = lipgloss.NewStyle().Bold(true).Foreground(ColorBright).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorAccent).PaddingLeft(1)
	Unselected = lipgloss.NewStyle().Foreground(ColorDimmed).PaddingLeft(2)
)

// EventTypeColor returns the color for a websocket event type.
func EventTypeColor(eventType string) lipgloss.Color {
	switch eventType {
	case "CREATE":
		return ColorCreate
	case "UPDATE":
		return ColorUpdate
	case "DELETE":
		return ColorDelete
	default:
		return ColorOther
	}
}

// LifecycleColor returns the color for a connection lifecycle event name.
func LifecycleColor(name string) lipgloss.Color {
	switch name {
	case "open":
		return ColorOpen
	case "ready":
		return ColorReady
	case "disconnect":
		return ColorDisconnect
	default:
		return ColorClose
	}
}

// Tag renders s as a colored fixed-width badge.
func Tag(s string, color lipgloss.Color) string {
	return Badge.Foreground(color).Width(12).Render(s)
}
