package console

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// FilterState manages the job list's text/status filter. Grounded on
// the teacher's dashboard.FilterState (internal/mode/dashboard/
// filter.go), generalized from a workflow name/state filter to a job
// UUID/status filter.
type FilterState struct {
	textInput   textinput.Model
	active      bool
	filterText  string
	statusFilter string
}

// NewFilterState builds an inactive, empty filter.
func NewFilterState() FilterState {
	ti := textinput.New()
	ti.Placeholder = "Filter jobs..."
	ti.Prompt = " "
	ti.CharLimit = 50
	ti.Width = 30
	return FilterState{textInput: ti}
}

func (f FilterState) Activate() FilterState {
	f.active = true
	f.textInput.Focus()
	return f
}

func (f FilterState) Deactivate() FilterState {
	f.active = false
	f.textInput.Blur()
	return f
}

func (f FilterState) Clear() FilterState {
	f.active = false
	f.filterText = ""
	f.statusFilter = ""
	f.textInput.SetValue("")
	f.textInput.Blur()
	return f
}

func (f FilterState) IsActive() bool { return f.active }

func (f FilterState) HasFilter() bool {
	return f.filterText != "" || f.statusFilter != ""
}

func (f FilterState) SetStatusFilter(status string) FilterState {
	f.statusFilter = status
	return f
}

func (f FilterState) StatusFilter() string { return f.statusFilter }

// Update forwards key messages to the text input while active; Esc
// clears, Enter confirms and blurs.
func (f FilterState) Update(msg tea.Msg) (FilterState, tea.Cmd) {
	if !f.active {
		return f, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc:
			return f.Clear(), nil
		case tea.KeyEnter:
			f.filterText = f.textInput.Value()
			f.active = false
			f.textInput.Blur()
			return f, nil
		}
	}

	var cmd tea.Cmd
	f.textInput, cmd = f.textInput.Update(msg)
	f.filterText = f.textInput.Value()
	return f, cmd
}

// Apply narrows jobs to those matching the current status/text filter.
func (f FilterState) Apply(jobs []JobView) []JobView {
	if !f.HasFilter() {
		return jobs
	}
	filterText := strings.ToLower(f.filterText)

	var result []JobView
	for _, j := range jobs {
		if f.statusFilter != "" && j.Status != f.statusFilter {
			continue
		}
		if filterText != "" && !strings.Contains(strings.ToLower(j.UUID), filterText) {
			continue
		}
		result = append(result, j)
	}
	return result
}

// View renders the filter bar, or an empty string when there is nothing
// to show.
func (f FilterState) View() string {
	if !f.active && !f.HasFilter() {
		return ""
	}

	var b strings.Builder
	icon := lipgloss.NewStyle().Foreground(colorDimmed).Render(" ")

	if f.active {
		b.WriteString(icon)
		b.WriteString(f.textInput.View())
		return b.String()
	}

	desc := ""
	if f.filterText != "" {
		desc = "\"" + f.filterText + "\""
	}
	if f.statusFilter != "" {
		if desc != "" {
			desc += " "
		}
		desc += "[" + f.statusFilter + "]"
	}

	b.WriteString(icon)
	b.WriteString(lipgloss.NewStyle().Foreground(colorHighlight).Italic(true).Render("Filter: " + desc))
	b.WriteString(lipgloss.NewStyle().Foreground(colorDimmed).Render(" (Esc to clear)"))
	return b.String()
}

// Init returns the cursor-blink command when the filter is active.
func (f FilterState) Init() tea.Cmd {
	if f.active {
		return textinput.Blink
	}
	return nil
}
