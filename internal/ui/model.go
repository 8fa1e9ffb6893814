package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/queue"
	"github.com/desertwitch/workio/internal/scheduler"
	"github.com/dustin/go-humanize"
)

//nolint:gochecknoglobals
var (
	// titleStyle defines the style for a panel's title.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	// promptTitleStyle defines the style for the prompt panel's title.
	promptTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#F25D94"))

	// borderStyle defines the style for a panel's borders.
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4"))

	// infoStyle defines the style for a panel's text.
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	// helpStyle defines the style for the help panel's text.
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

const (
	maxLogLines = 100
	maxJobLines = 8
)

// StatsMsg is a [tea.Msg] containing a snapshot of the scheduler and the
// tracked jobs.
type StatsMsg struct {
	t       time.Time
	schemes []string
	stats   map[string]scheduler.Stats
	jobs    []jobRow
}

// promptMsg carries a question for the user and the channel for the answer.
type promptMsg struct {
	req   protocol.MessageBoxRequest
	reply chan int
}

// jobRow is the rendered state of one tracked job.
type jobRow struct {
	id        string
	title     string
	state     string
	processed uint64
	total     uint64
}

func rowOf(j *job.Job) jobRow {
	processed, total := j.Progress()

	return jobRow{
		id:        j.ID(),
		title:     fmt.Sprintf("%s %s", j.Kind(), j.URL()),
		state:     j.State().String(),
		processed: processed,
		total:     total,
	}
}

// TeaModel is the principal [tea.Model] for the command-line user interface.
type TeaModel struct {
	width  int
	height int

	cancel context.CancelFunc

	uiHandler *Handler

	fullWidthWithBorders  int
	splitWidthWithBorders int

	schemes   []string
	stats     map[string]scheduler.Stats
	bars      map[string]progress.Model
	jobs      []jobRow
	prompts   []promptMsg
	logs      []string
	logsPanel viewport.Model

	ready bool
}

// NewTeaModel returns an initial new [TeaModel].
//
//nolint:mnd
func NewTeaModel(uiHandler *Handler, cancel context.CancelFunc) TeaModel {
	return TeaModel{
		uiHandler: uiHandler,
		stats:     make(map[string]scheduler.Stats),
		bars:      make(map[string]progress.Model),
		logsPanel: viewport.New(80, 20),
		logs:      make([]string, 0, maxLogLines),
		cancel:    cancel,
	}
}

// Init initializes the model within a [tea.Program].
func (m TeaModel) Init() tea.Cmd {
	m.uiHandler.Initialized.Store(true)

	return tea.Batch(
		tea.EnterAltScreen,
		refreshStats(m.uiHandler),
	)
}

// refreshStats produces a [tea.Cmd] that returns a [StatsMsg] after a tick.
func refreshStats(h *Handler) tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { //nolint:mnd
		stats, schemes, rows := h.snapshot()

		return StatsMsg{t: t, schemes: schemes, stats: stats, jobs: rows}
	})
}

// Update is the principal message handling method of the model.
//
//nolint:mnd,funlen,ireturn
func (m TeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.answerAll(protocol.AnswerCancel)
			m.cancel()

			return m, tea.Quit
		}

		if len(m.prompts) > 0 {
			switch msg.String() {
			case "y", "enter":
				m.answer(protocol.AnswerPrimary)
			case "n":
				m.answer(protocol.AnswerSecondary)
			case "esc":
				m.answer(protocol.AnswerCancel)
			}

			return m, nil
		}

		if msg.String() == "q" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

		if !m.ready {
			m.ready = true
			m.uiHandler.Ready.Store(true)
		}

	case StatsMsg:
		m.schemes = msg.schemes
		m.stats = msg.stats
		m.jobs = msg.jobs

		if len(m.bars) != len(m.schemes) {
			for _, scheme := range m.schemes {
				if _, ok := m.bars[scheme]; !ok {
					m.bars[scheme] = progress.New(progress.WithDefaultGradient())
				}
			}
			m.resize()
		}

		for _, scheme := range m.schemes {
			bar := m.bars[scheme]
			cmds = append(cmds, bar.SetPercent(m.stats[scheme].Progress.ProgressPct/100))
			m.bars[scheme] = bar
		}

		cmds = append(cmds, refreshStats(m.uiHandler))

	case promptMsg:
		m.prompts = append(m.prompts, msg)

	case LogMsg:
		if len(m.logs) >= maxLogLines {
			m.logs = m.logs[1:]
		}
		m.logs = append(m.logs, string(msg))
		m.renderLogs()

	case progress.FrameMsg:
		for scheme, bar := range m.bars {
			updated, cmd := bar.Update(msg)
			if progressModel, ok := updated.(progress.Model); ok {
				m.bars[scheme] = progressModel
			}
			cmds = append(cmds, cmd)
		}
	}

	m.logsPanel, cmd = m.logsPanel.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *TeaModel) answer(code int) {
	m.prompts[0].reply <- code
	m.prompts = m.prompts[1:]
}

func (m *TeaModel) answerAll(code int) {
	for len(m.prompts) > 0 {
		m.answer(code)
	}
}

//nolint:mnd
func (m *TeaModel) resize() {
	panels := max(1, len(m.schemes))

	m.fullWidthWithBorders = m.width - 2
	m.splitWidthWithBorders = (m.width / panels) - 2

	for scheme, bar := range m.bars {
		bar.Width = m.splitWidthWithBorders
		m.bars[scheme] = bar
	}

	// Logs take what the scheme and jobs panels leave, at least a quarter.
	upperHeight := 12 + maxJobLines
	logsHeight := max(m.height/4, m.height-upperHeight-3)

	m.logsPanel.Width = m.fullWidthWithBorders
	m.logsPanel.Height = logsHeight
	m.renderLogs()
}

func (m *TeaModel) renderLogs() {
	if len(m.logs) == 0 {
		return
	}

	logs := lipgloss.NewStyle().
		Width(m.logsPanel.Width).
		Render(strings.TrimSuffix(strings.Join(m.logs, ""), "\n"))

	m.logsPanel.SetContent(logs)
	m.logsPanel.GotoBottom()
}

// View is the principal rendering function of the model.
func (m TeaModel) View() string {
	if !m.ready {
		return "Loading the GUI..."
	}

	sections := make([]string, 0, 5) //nolint:mnd

	sections = append(sections, m.schemesView())
	sections = append(sections, m.jobsView())

	if len(m.prompts) > 0 {
		sections = append(sections, m.promptView(m.prompts[0].req))
	}

	sections = append(sections, borderStyle.
		Width(m.fullWidthWithBorders).
		Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Process Information"),
				lipgloss.NewStyle().Width(m.fullWidthWithBorders).Render(m.logsPanel.View()),
			),
		))

	help := "q: quit gui • ctrl+c: quit program"
	if len(m.prompts) > 0 {
		help = "y: confirm • n: decline • esc: cancel • ctrl+c: quit program"
	}
	sections = append(sections, helpStyle.Width(m.fullWidthWithBorders).Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m TeaModel) schemesView() string {
	if len(m.schemes) == 0 {
		return borderStyle.Width(m.fullWidthWithBorders).Render(
			lipgloss.JoinVertical(
				lipgloss.Left,
				titleStyle.Width(m.fullWidthWithBorders).Render("Workers"),
				infoStyle.Render("No schemes in use."),
			),
		)
	}

	panels := make([]string, 0, len(m.schemes))
	for _, scheme := range m.schemes {
		bar := m.bars[scheme]
		panels = append(panels, borderStyle.Width(m.splitWidthWithBorders).Render(
			m.formatSchemeView(scheme, bar.View(), m.stats[scheme]),
		))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, panels...)
}

func (m TeaModel) jobsView() string {
	rows := m.jobs
	if len(rows) > maxJobLines {
		rows = rows[len(rows)-maxJobLines:]
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, formatJobRow(row))
	}

	if len(lines) == 0 {
		lines = append(lines, "No jobs.")
	}

	return borderStyle.Width(m.fullWidthWithBorders).Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Width(m.fullWidthWithBorders).Render(fmt.Sprintf("Jobs (%d)", len(m.jobs))),
			infoStyle.Width(m.fullWidthWithBorders).Render(strings.Join(lines, "\n")),
		),
	)
}

func (m TeaModel) promptView(req protocol.MessageBoxRequest) string {
	title := req.Title
	if title == "" {
		title = "Question"
	}

	primary, secondary := req.Primary, req.Secondary
	if primary == "" {
		primary = "Yes"
	}
	if secondary == "" {
		secondary = "No"
	}

	body := req.Text
	if req.Details != "" {
		body += "\n\n" + req.Details
	}
	body += fmt.Sprintf("\n\n[y] %s   [n] %s   [esc] Cancel", primary, secondary)

	return borderStyle.Width(m.fullWidthWithBorders).Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			promptTitleStyle.Width(m.fullWidthWithBorders).Render(title),
			infoStyle.Width(m.fullWidthWithBorders).Render(body),
		),
	)
}

func formatJobRow(row jobRow) string {
	amount := humanize.Bytes(row.processed)
	if row.total > 0 {
		amount = fmt.Sprintf("%s/%s (%.0f%%)",
			humanize.Bytes(row.processed), humanize.Bytes(row.total),
			float64(row.processed)/float64(row.total)*100) //nolint:mnd
	}

	return fmt.Sprintf("[%-9s] %s  %s", row.state, row.title, amount)
}

// formatSchemeView is a helper function for rendering a scheme's panel.
func (m TeaModel) formatSchemeView(scheme string, progressBar string, stats scheduler.Stats) string {
	p := stats.Progress

	workers := fmt.Sprintf(
		"Workers: Live=%d, Idle=%d, Leased=%d, Spawning=%d\n",
		stats.Live, stats.Idle, stats.Leased, stats.Spawning,
	)

	var details string
	if !p.HasFinished {
		details = fmt.Sprintf(
			"Progress: %.2f%% (%d/%d)\n"+
				"Jobs: Pending=%d, InProgress=%d, Success=%d, Failed=%d\n"+
				"Time: Started=%v, ETA=%v (%.1f%s left)\n"+
				"Speed: %s\n",
			p.ProgressPct,
			p.ProcessedItems,
			p.TotalItems,
			stats.Pending,
			p.InProgressItems,
			p.SuccessItems,
			p.SkippedItems,
			p.StartTime.Format("15:04:05"),
			p.ETA.Format("15:04:05"),
			timeLeft(p).Minutes(), "min",
			transferSpeed(p),
		)
	} else {
		details = fmt.Sprintf(
			"Progress: %.2f%% (%d/%d)\n"+
				"Jobs: Pending=%d, InProgress=%d, Success=%d, Failed=%d\n"+
				"Time: Started=%v, Finished=%v\n\n",
			p.ProgressPct,
			p.ProcessedItems,
			p.TotalItems,
			stats.Pending,
			p.InProgressItems,
			p.SuccessItems,
			p.SkippedItems,
			p.StartTime.Format("15:04:05"),
			p.FinishTime.Format("15:04:05"),
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Width(m.splitWidthWithBorders).Render(scheme),
		"",
		progressBar,
		"",
		infoStyle.Width(m.splitWidthWithBorders).Render(workers+details),
	)
}

func timeLeft(p queue.Progress) time.Duration {
	if p.ETA.IsZero() {
		return 0
	}

	return time.Until(p.ETA)
}

func transferSpeed(p queue.Progress) string {
	if p.TransferSpeedUnit == "bytes/sec" {
		return humanize.Bytes(uint64(p.TransferSpeed)) + "/s"
	}

	return fmt.Sprintf("%d %s", int(p.TransferSpeed), p.TransferSpeedUnit)
}
