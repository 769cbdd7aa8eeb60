// Package tui is a read-only dashboard over review runs: a run table plus a
// rendered detail view of each run's task results. Reviews are created
// through the HTTP API; the dashboard only observes.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/reviewd/internal/db"
)

// View identifies the active screen
type View int

const (
	ViewList View = iota
	ViewDetail
)

const refreshInterval = 2 * time.Second

// Model is the application state
type Model struct {
	database *db.DB

	view   View
	width  int
	height int

	table    table.Model
	spinner  spinner.Model
	viewport viewport.Model

	runs      []*db.ReviewRun
	repoNames map[string]string
	selected  *db.ReviewRun
	tasks     []*db.ReviewTask

	mdRenderer *glamour.TermRenderer

	err     error
	loading bool
}

type runsLoadedMsg struct {
	runs  []*db.ReviewRun
	names map[string]string
}
type detailLoadedMsg struct {
	run   *db.ReviewRun
	tasks []*db.ReviewTask
}
type errMsg struct{ err error }
type tickMsg time.Time

// NewModel creates the dashboard model
func NewModel(database *db.DB) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentColor)

	t := table.New(
		table.WithColumns(runColumns(80)),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).Foreground(accentColor).BorderForeground(dimTextColor)
	ts.Selected = ts.Selected.Foreground(lipgloss.Color("0")).Background(accentColor)
	t.SetStyles(ts)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return Model{
		database:   database,
		view:       ViewList,
		table:      t,
		spinner:    s,
		viewport:   viewport.New(80, 20),
		repoNames:  make(map[string]string),
		mdRenderer: renderer,
		loading:    true,
	}
}

// Run starts the dashboard
func Run(database *db.DB) error {
	p := tea.NewProgram(NewModel(database), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func runColumns(width int) []table.Column {
	// Fixed columns plus a repo column absorbing the remainder
	statusW, refsW, startedW := 10, 30, 16
	repoW := width - statusW - refsW - startedW - 12
	if repoW < 12 {
		repoW = 12
	}
	return []table.Column{
		{Title: "Repo", Width: repoW},
		{Title: "Status", Width: statusW},
		{Title: "Refs", Width: refsW},
		{Title: "Started", Width: startedW},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadRuns(), m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) loadRuns() tea.Cmd {
	database := m.database
	return func() tea.Msg {
		runs, err := database.ListRuns()
		if err != nil {
			return errMsg{err}
		}
		repos, err := database.ListRepos()
		if err != nil {
			return errMsg{err}
		}
		names := make(map[string]string, len(repos))
		for _, repo := range repos {
			names[repo.ID] = repo.Name
		}
		return runsLoadedMsg{runs: runs, names: names}
	}
}

func (m *Model) loadDetail(runID string) tea.Cmd {
	database := m.database
	return func() tea.Msg {
		run, err := database.GetRun(runID)
		if err != nil {
			return errMsg{err}
		}
		tasks, err := database.ListTasksForRun(runID)
		if err != nil {
			return errMsg{err}
		}
		return detailLoadedMsg{run: run, tasks: tasks}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(runColumns(msg.Width))
		m.table.SetHeight(msg.Height - 8)
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 8
		if renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-10),
		); err == nil {
			m.mdRenderer = renderer
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(), m.loadRuns()}
		if m.view == ViewDetail && m.selected != nil {
			cmds = append(cmds, m.loadDetail(m.selected.ID))
		}
		return m, tea.Batch(cmds...)

	case runsLoadedMsg:
		m.runs = msg.runs
		m.repoNames = msg.names
		m.loading = false
		m.updateTable()
		return m, nil

	case detailLoadedMsg:
		m.selected = msg.run
		m.tasks = msg.tasks
		m.viewport.SetContent(m.renderDetail())
		return m, nil

	case errMsg:
		m.err = msg.err
		m.loading = false
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ViewList:
			return m.updateList(msg)
		case ViewDetail:
			return m.updateDetail(msg)
		}
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.loading = true
		return m, m.loadRuns()
	case "enter":
		if run := m.selectedRun(); run != nil {
			m.view = ViewDetail
			m.selected = run
			m.viewport.GotoTop()
			return m, m.loadDetail(run.ID)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = ViewList
		m.selected = nil
		m.tasks = nil
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) selectedRun() *db.ReviewRun {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.runs) {
		return nil
	}
	return m.runs[i]
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.runs))
	for _, run := range m.runs {
		name := m.repoNames[run.RepoID]
		if name == "" {
			name = truncate(run.RepoID, 12)
		}
		refs := refDisplay(run.BaseBranch) + ".." + refDisplay(run.TargetBranch)
		rows = append(rows, table.Row{
			name,
			string(run.Status),
			truncate(refs, 30),
			formatTime(run.CreatedAt),
		})
	}
	m.table.SetRows(rows)
}

func refDisplay(ref string) string {
	if ref == "" {
		return "default"
	}
	return ref
}

func formatTime(t time.Time) string {
	if time.Since(t) < 24*time.Hour {
		return t.Format("15:04:05")
	}
	return t.Format("Jan 2 15:04")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func statusLabel(status db.Status) string {
	switch status {
	case db.StatusDone:
		return statusOK.Render("done")
	case db.StatusError:
		return statusFail.Render("error")
	case db.StatusRunning:
		return statusRunning.Render("running")
	default:
		return statusPending.Render("queued")
	}
}

func (m *Model) renderDetail() string {
	if m.selected == nil {
		return ""
	}

	var b strings.Builder
	for i, task := range m.tasks {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "**Task %d** — %s\n\n", i+1, task.Status)
		switch {
		case task.Error != "":
			fmt.Fprintf(&b, "```\n%s\n```\n", task.Error)
		case task.ResultDetail != "":
			b.WriteString(task.ResultDetail + "\n")
		case task.ResultSummary != "":
			b.WriteString(task.ResultSummary + "\n")
		default:
			b.WriteString("*No output yet*\n")
		}
	}
	if len(m.tasks) == 0 {
		b.WriteString("*No tasks*")
	}

	if m.mdRenderer != nil {
		if out, err := m.mdRenderer.Render(b.String()); err == nil {
			return out
		}
	}
	return b.String()
}

func (m Model) View() string {
	header := logoStyle.Render("reviewd") + "  " + subtitleStyle.Render("review runs")

	var body string
	switch {
	case m.err != nil:
		body = errorMsgStyle.Render("Error: " + m.err.Error())
	case m.view == ViewDetail:
		body = m.detailView()
	default:
		body = m.listView()
	}

	return appStyle.Render(header + "\n\n" + body)
}

func (m Model) listView() string {
	if m.loading {
		return m.spinner.View() + " Loading runs..."
	}
	if len(m.runs) == 0 {
		return emptyBoxStyle.Render("No review runs yet.\nCreate one with POST /api/v1/reviews.")
	}
	help := helpKeyStyle.Render("enter") + helpDescStyle.Render(" view · ") +
		helpKeyStyle.Render("r") + helpDescStyle.Render(" refresh · ") +
		helpKeyStyle.Render("q") + helpDescStyle.Render(" quit")
	return m.table.View() + "\n\n" + help
}

func (m Model) detailView() string {
	title := statusLabel(m.selected.Status) + "  " + subtitleStyle.Render(m.selected.ID)
	help := helpKeyStyle.Render("esc") + helpDescStyle.Render(" back · ") +
		helpKeyStyle.Render("q") + helpDescStyle.Render(" quit")
	return title + "\n\n" + m.viewport.View() + "\n\n" + help
}
