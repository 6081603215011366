package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
)

const refreshInterval = 3 * time.Second

// Model is the ratchet-console root bubbletea model: a read-only view
// over one coordinator's jobs and executions, refreshed by polling
// ratchet.list_jobs and by a live notifications/task/progress SSE
// stream. Grounded on the teacher's internal/mode/kanban.Model shape
// (New/Init/Update/View plus a flat struct of sub-components and
// width/height/loading/err fields).
type Model struct {
	client *Client

	list   JobList
	filter FilterState
	cursor int

	progress map[int64]ProgressEvent // keyed by execution id

	width, height int
	loading       bool
	err           error
	lastRefresh   time.Time

	showHelp bool
	detail   *jobDetail
	sources  *sourceCache

	showLogs bool
	logs     []string
	logsErr  error

	streamCtx    context.Context
	cancelStream context.CancelFunc
}

// jobDetail holds the executions fetched for the currently selected job,
// and the rendered task source/diff once requested.
type jobDetail struct {
	job        JobView
	executions []ExecutionView
	err        error
	source     string
}

// New builds the console model for a coordinator reachable at addr.
func New(addr, token string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:       NewClient(addr, token),
		list:         NewJobList(),
		filter:       NewFilterState(),
		progress:     make(map[int64]ProgressEvent),
		sources:      newSourceCache(),
		streamCtx:    ctx,
		cancelStream: cancel,
	}
}

type jobsLoadedMsg struct {
	jobs []JobView
	err  error
}

type executionsLoadedMsg struct {
	jobID      int64
	executions []ExecutionView
	err        error
}

type progressMsg struct {
	ev ProgressEvent
	ok bool
}

type progressStreamMsg struct {
	ch  <-chan ProgressEvent
	err error
}

type tickMsg time.Time

type taskSourceLoadedMsg struct {
	jobID  int64
	source string
	err    error
}

type logsLoadedMsg struct {
	lines []string
	err   error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchJobsCmd(), m.openStreamCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchJobsCmd() tea.Cmd {
	client := m.client
	status := m.filter.StatusFilter()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs, err := client.ListJobs(ctx, status)
		return jobsLoadedMsg{jobs: jobs, err: err}
	}
}

func (m Model) fetchExecutionsCmd(jobID int64) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		execs, err := client.ListExecutions(ctx, jobID)
		return executionsLoadedMsg{jobID: jobID, executions: execs, err: err}
	}
}

// fetchSourceCmd fetches the task backing jobID and renders it (full
// source, or a diff against whatever version was last viewed).
func (m Model) fetchSourceCmd(jobID, taskID int64) tea.Cmd {
	client := m.client
	sources := m.sources
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tv, err := client.GetTask(ctx, taskID)
		if err != nil {
			return taskSourceLoadedMsg{jobID: jobID, err: err}
		}
		return taskSourceLoadedMsg{jobID: jobID, source: sources.render(tv)}
	}
}

// fetchLogsCmd pulls the coordinator's recent in-memory log lines for
// the log overlay (the console's own client-side log stream would be
// empty: ratchet-console runs in a separate process from ratchetd, so it
// reads ratchetd's buffer over ratchet.get_logs rather than a local one).
func (m Model) fetchLogsCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lines, err := client.GetLogs(ctx, 200)
		return logsLoadedMsg{lines: lines, err: err}
	}
}

func (m Model) openStreamCmd() tea.Cmd {
	ctx := m.streamCtx
	client := m.client
	return func() tea.Msg {
		ch, err := client.StreamProgress(ctx)
		return progressStreamMsg{ch: ch, err: err}
	}
}

// waitProgressCmd pumps one event off ch per invocation, re-issuing
// itself from Update — the standard bubbletea "drain a channel"
// pattern.
func waitProgressCmd(ch <-chan ProgressEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		return progressMsg{ev: ev, ok: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchJobsCmd(), tickCmd())

	case jobsLoadedMsg:
		m.loading = false
		m.lastRefresh = time.Now()
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.list = m.list.SetJobs(msg.jobs)
		if m.cursor >= len(m.filteredJobs()) {
			m.cursor = 0
		}
		return m, nil

	case executionsLoadedMsg:
		if m.detail != nil && m.detail.job.JobID == msg.jobID {
			m.detail.executions = msg.executions
			m.detail.err = msg.err
		}
		return m, nil

	case taskSourceLoadedMsg:
		if m.detail != nil && m.detail.job.JobID == msg.jobID {
			if msg.err != nil {
				m.detail.err = msg.err
			} else {
				m.detail.source = msg.source
			}
		}
		return m, nil

	case logsLoadedMsg:
		m.logs = msg.lines
		m.logsErr = msg.err
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case progressStreamMsg:
		if msg.err != nil {
			// Retry after a short delay rather than give up; the
			// coordinator may still be starting.
			openStream := m.openStreamCmd()
			return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return openStream() })
		}
		return m, waitProgressCmd(msg.ch)

	case progressMsg:
		if !msg.ok {
			return m, nil
		}
		m.progress[msg.ev.ExecutionID] = msg.ev
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filter.IsActive() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, tea.Batch(cmd, m.fetchJobsCmd())
	}

	if m.showLogs {
		switch msg.String() {
		case "esc", "q", "L":
			m.showLogs = false
			return m, nil
		case "r":
			return m, m.fetchLogsCmd()
		}
		return m, nil
	}

	if m.detail != nil {
		switch msg.String() {
		case "esc", "q":
			m.detail = nil
			return m, nil
		case "v":
			return m, m.fetchSourceCmd(m.detail.job.JobID, m.detail.job.TaskID)
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		if m.cancelStream != nil {
			m.cancelStream()
		}
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "L":
		m.showLogs = true
		return m, m.fetchLogsCmd()
	case "j", "down":
		m.cursor = m.list.MoveDown(m.cursor, len(m.filteredJobs()))
		return m, nil
	case "k", "up":
		m.cursor = m.list.MoveUp(m.cursor)
		return m, nil
	case "r":
		m.loading = true
		return m, m.fetchJobsCmd()
	case "/":
		m.filter = m.filter.Activate()
		return m, m.filter.Init()
	case "esc":
		m.filter = m.filter.Clear()
		return m, m.fetchJobsCmd()
	case "s":
		m.list = m.list.ToggleSort(SortByStatus)
		return m, nil
	case "p":
		m.list = m.list.ToggleSort(SortByPriority)
		return m, nil
	case "t":
		m.list = m.list.ToggleSort(SortByQueuedAt)
		return m, nil
	case "enter":
		jobs := m.filteredJobs()
		if m.cursor < len(jobs) {
			job := jobs[m.cursor]
			m.detail = &jobDetail{job: job}
			return m, m.fetchExecutionsCmd(job.JobID)
		}
		return m, nil
	}
	return m, nil
}

// handleMouse selects whichever job row a click landed in, using the
// zone markers renderJobRow lays down in View.
func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}
	jobs := m.filteredJobs()
	for i, j := range jobs {
		if zone.Get(makeJobZoneID(j.JobID)).InBounds(msg) {
			m.cursor = i
			return m, nil
		}
	}
	return m, nil
}

func (m Model) filteredJobs() []JobView {
	return m.filter.Apply(m.list.Jobs())
}

// visibleRows is how many job rows fit the terminal, reserving lines for
// the header, filter bar, and footer. Returns 0 (no cap) if height is
// unknown yet.
func (m Model) visibleRows() int {
	if m.height == 0 {
		return 0
	}
	const chrome = 6
	rows := m.height - chrome
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading console..."
	}
	if m.showLogs {
		return zone.Scan(m.renderLogs())
	}
	if m.detail != nil {
		return zone.Scan(m.renderDetail())
	}

	var b strings.Builder
	header := m.summaryLine()
	if m.loading {
		header += "  refreshing..."
	}
	b.WriteString(titleStyle.Render("ratchet console") + "  " + headerStyle.Render(header) + "\n\n")

	jobs := m.filteredJobs()
	if len(jobs) == 0 {
		b.WriteString(helpStyle.Render("no jobs") + "\n")
	}
	visible := jobs
	if maxRows := m.visibleRows(); maxRows > 0 && len(jobs) > maxRows {
		start := m.cursor - maxRows/2
		if start < 0 {
			start = 0
		}
		if start+maxRows > len(jobs) {
			start = len(jobs) - maxRows
		}
		visible = jobs[start : start+maxRows]
		for i, j := range visible {
			line := m.renderJobRow(j)
			if start+i == m.cursor {
				line = selectedRowStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
	} else {
		for i, j := range visible {
			line := m.renderJobRow(j)
			if i == m.cursor {
				line = selectedRowStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n")
	if filterLine := m.filter.View(); filterLine != "" {
		b.WriteString(filterLine + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(m.footer())
	return zone.Scan(b.String())
}

func (m Model) summaryLine() string {
	counts := m.list.CountByStatus()
	parts := make([]string, 0, len(counts))
	for _, status := range []string{"processing", "retrying", "queued", "completed", "failed", "cancelled"} {
		if n, ok := counts[status]; ok {
			parts = append(parts, fmt.Sprintf("%s:%d", status, n))
		}
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderJobRow(j JobView) string {
	progress := ""
	if j.LastExecutionID != 0 {
		if ev, ok := m.progress[j.LastExecutionID]; ok {
			progress = fmt.Sprintf(" %.0f%%", ev.Progress*100)
		}
	}
	glyph, glyphStyle := statusIcon(j.Status)
	status := statusStyle(j.Status).Render(fmt.Sprintf("%-10s", j.Status))
	row := fmt.Sprintf("%s #%-5d %s %-8s %s%s", glyphStyle.Render(glyph), j.JobID, status, j.Priority, j.UUID, progress)
	return zone.Mark(makeJobZoneID(j.JobID), row)
}

func (m Model) renderDetail() string {
	d := m.detail
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("job #%d", d.job.JobID)) + "\n\n")
	b.WriteString(fmt.Sprintf("status:   %s\n", statusStyle(d.job.Status).Render(d.job.Status)))
	b.WriteString(fmt.Sprintf("priority: %s\n", d.job.Priority))
	b.WriteString(fmt.Sprintf("retries:  %d/%d\n", d.job.RetryCount, d.job.MaxRetries))
	if d.job.ErrorMessage != "" {
		b.WriteString(errorStyle.Render("error: "+d.job.ErrorMessage) + "\n")
	}
	b.WriteString("\nexecutions:\n")
	if d.err != nil {
		b.WriteString(errorStyle.Render(d.err.Error()) + "\n")
	}
	for _, e := range d.executions {
		b.WriteString(fmt.Sprintf("  #%-5d %s %.0f%%\n", e.ExecutionID, statusStyle(e.Status).Render(e.Status), e.Progress*100))
	}
	if d.source != "" {
		b.WriteString("\n" + d.source)
	}
	b.WriteString("\n" + helpStyle.Render("esc/q: back  v: view task source"))
	return panelStyle.Render(b.String())
}

// renderLogs shows the coordinator's recent log ring buffer (fetched via
// ratchet.get_logs), newest entries at the bottom like a tail -f.
func (m Model) renderLogs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("coordinator logs") + "\n\n")
	if m.logsErr != nil {
		b.WriteString(errorStyle.Render("error: "+m.logsErr.Error()) + "\n")
	} else if len(m.logs) == 0 {
		b.WriteString(helpStyle.Render("no log lines buffered") + "\n")
	} else {
		lines := m.logs
		if max := m.visibleRows(); max > 0 && len(lines) > max {
			lines = lines[len(lines)-max:]
		}
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
	}
	b.WriteString("\n" + helpStyle.Render("esc/q/L: back  r: refresh"))
	return panelStyle.Render(b.String())
}

func (m Model) footer() string {
	refreshed := ""
	if !m.lastRefresh.IsZero() {
		refreshed = fmt.Sprintf("  (updated %s ago)", time.Since(m.lastRefresh).Round(time.Second))
	}
	if m.showHelp {
		return helpStyle.Render("j/k move  enter details  / filter  s/p/t sort  L logs  r refresh  ? hide help  q quit" + refreshed)
	}
	return helpStyle.Render("? for help" + refreshed)
}
