package console

import "github.com/charmbracelet/lipgloss"

// Color palette and base styles. The teacher's own internal/ui/styles
// package (apply.go/section.go) is referenced throughout internal/ui and
// internal/mode but its defining source is absent from this retrieval —
// only its tests survived (internal/ui/styles/apply_test.go,
// section_test.go). These styles are authored fresh in lipgloss's
// ordinary NewStyle().Foreground()... idiom, the same one filter.go and
// coordinator_pane.go in the pack both use.
var (
	colorDimmed    = lipgloss.Color("240")
	colorHighlight = lipgloss.Color("39")
	colorGood      = lipgloss.Color("42")
	colorWarn      = lipgloss.Color("214")
	colorBad       = lipgloss.Color("196")
	colorBorder    = lipgloss.Color("62")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorDimmed)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")).
				Background(colorBorder)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorDimmed)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorBad).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// statusStyle colors a job/execution status string for the row it
// appears in.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return lipgloss.NewStyle().Foreground(colorGood)
	case "failed", "cancelled":
		return lipgloss.NewStyle().Foreground(colorBad)
	case "retrying", "processing", "running":
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Foreground(colorDimmed)
	}
}
