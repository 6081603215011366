package console

import "github.com/charmbracelet/lipgloss"

// Status indicator glyphs, one style per job/execution status. Grounded
// on the teacher's chatrender.StatusIndicator (internal/ui/shared/
// chatrender/agentstatus.go), generalized from agent process status to
// job/execution status.
var (
	iconDoneStyle    = lipgloss.NewStyle().Foreground(colorGood)
	iconActiveStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	iconFailedStyle  = lipgloss.NewStyle().Foreground(colorBad)
	iconPendingStyle = lipgloss.NewStyle().Foreground(colorDimmed)
)

// statusIcon returns the indicator glyph and style for a job/execution
// status, for compact display next to a status label.
func statusIcon(status string) (string, lipgloss.Style) {
	switch status {
	case "completed":
		return "●", iconDoneStyle
	case "processing", "retrying", "running":
		return "◐", iconActiveStyle
	case "failed", "cancelled":
		return "✗", iconFailedStyle
	case "queued":
		return "○", iconPendingStyle
	default:
		return "?", iconPendingStyle
	}
}
