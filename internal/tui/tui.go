// Package tui renders live build progress in the terminal.
//
// The model consumes engine events delivered through the bubbletea
// message loop. UI.Send is safe from any goroutine, so the engine's
// event callback can feed it directly from job workers.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rdmontgomery/exa/internal/engine"
	"github.com/rdmontgomery/exa/pkg/core"
)

// eventMsg wraps an engine event for delivery through the message loop.
type eventMsg struct {
	event engine.Event
}

// doneMsg is sent when the build function returns.
type doneMsg struct {
	err error
}

// UI drives a progress display around a running build.
type UI struct {
	program *tea.Program
}

// New creates a progress UI titled with the build description.
func New(title string) *UI {
	return &UI{program: tea.NewProgram(newModel(title))}
}

// Send delivers an engine event to the display. Safe for concurrent use.
func (u *UI) Send(ev engine.Event) {
	u.program.Send(eventMsg{event: ev})
}

// Run displays progress while fn executes and returns fn's error. The
// context passed to fn is cancelled when the user quits, so the build
// aborts cleanly on ctrl+c.
func (u *UI) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := fn(ctx)
		done <- err
		u.program.Send(doneMsg{err: err})
	}()

	if _, err := u.program.Run(); err != nil {
		cancel()
		<-done
		return err
	}
	cancel()
	return <-done
}

// jobRow tracks display state for one matrix job.
type jobRow struct {
	ordinal  int
	name     string
	status   core.JobStatus
	step     string
	duration time.Duration
}

type theme struct {
	title   lipgloss.Style
	help    lipgloss.Style
	job     lipgloss.Style
	step    lipgloss.Style
	success lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		title:   lipgloss.NewStyle().Bold(true),
		help:    lipgloss.NewStyle().Faint(true),
		job:     lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
		step:    lipgloss.NewStyle().Faint(true),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

type model struct {
	theme   theme
	title   string
	spinner spinner.Model

	jobs  []jobRow
	build *core.Build
	start time.Time
	width int

	done bool
	err  error
}

func newModel(title string) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	return model{
		theme:   defaultTheme(),
		title:   title,
		spinner: sp,
		start:   time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		return m.applyEvent(msg.event), nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) applyEvent(ev engine.Event) model {
	switch ev.Kind {
	case engine.EventBuildStarted, engine.EventBuildSkipped, engine.EventBuildFinished:
		m.build = ev.Build

	case engine.EventJobStarted, engine.EventJobFinished:
		if ev.Job == nil {
			break
		}
		row := m.row(ev.Job)
		row.status = ev.Job.Status
		row.duration = time.Duration(ev.Job.DurationMS) * time.Millisecond
		if ev.Kind == engine.EventJobFinished {
			row.step = ""
		}

	case engine.EventStepStarted:
		if ev.Job == nil || ev.Step == nil {
			break
		}
		m.row(ev.Job).step = firstLine(ev.Step.Command)

	case engine.EventStepFinished:
		if ev.Job == nil || ev.Step == nil {
			break
		}
		if ev.Step.Status == core.JobStatusFailed {
			m.row(ev.Job).step = firstLine(ev.Step.Command)
		}
	}
	return m
}

// row finds or inserts the display row for a job, keeping rows in
// matrix order.
func (m *model) row(job *core.Job) *jobRow {
	for i := range m.jobs {
		if m.jobs[i].ordinal == job.Ordinal {
			return &m.jobs[i]
		}
	}
	m.jobs = append(m.jobs, jobRow{ordinal: job.Ordinal, name: job.Name, status: job.Status})
	sort.Slice(m.jobs, func(i, j int) bool { return m.jobs[i].ordinal < m.jobs[j].ordinal })
	for i := range m.jobs {
		if m.jobs[i].ordinal == job.Ordinal {
			return &m.jobs[i]
		}
	}
	return &m.jobs[len(m.jobs)-1]
}

func (m model) View() string {
	var b strings.Builder

	title := m.title
	if m.build != nil {
		title = fmt.Sprintf("%s  build #%d", m.title, m.build.Number)
	}
	b.WriteString(m.theme.title.Render(title))
	b.WriteString("\n\n")

	for _, row := range m.jobs {
		b.WriteString("  ")
		b.WriteString(m.statusIcon(row.status))
		b.WriteString(" ")
		b.WriteString(m.theme.job.Render(row.name))
		switch {
		case row.status == core.JobStatusRunning && row.step != "":
			b.WriteString("  " + m.theme.step.Render(m.truncate(row.step)))
		case row.status != core.JobStatusRunning && row.status != core.JobStatusQueued:
			label := string(row.status)
			if row.duration > 0 {
				label += "  " + row.duration.Round(time.Millisecond).String()
			}
			b.WriteString("  " + m.theme.muted.Render(label))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.summary())
	} else {
		elapsed := time.Since(m.start).Round(time.Second)
		b.WriteString(m.theme.help.Render(fmt.Sprintf("%s elapsed • q to cancel", elapsed)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) statusIcon(status core.JobStatus) string {
	switch status {
	case core.JobStatusRunning:
		return m.spinner.View()
	case core.JobStatusSuccess:
		return m.theme.success.Render("✓")
	case core.JobStatusFailed:
		return m.theme.failed.Render("✗")
	case core.JobStatusCancelled:
		return m.theme.muted.Render("−")
	case core.JobStatusSkipped:
		return m.theme.muted.Render("~")
	default:
		return m.theme.muted.Render("○")
	}
}

func (m model) summary() string {
	if m.build == nil {
		if m.err != nil {
			return m.theme.failed.Render("build failed: " + m.err.Error())
		}
		return m.theme.muted.Render("build finished")
	}
	elapsed := time.Since(m.start).Round(time.Millisecond)
	switch m.build.Status {
	case core.BuildStatusSuccess:
		return m.theme.success.Render(fmt.Sprintf("✓ build #%d succeeded in %s", m.build.Number, elapsed))
	case core.BuildStatusSkipped:
		return m.theme.muted.Render(fmt.Sprintf("build #%d skipped: %s", m.build.Number, m.build.Error))
	case core.BuildStatusCancelled:
		return m.theme.muted.Render(fmt.Sprintf("− build #%d cancelled", m.build.Number))
	default:
		return m.theme.failed.Render(fmt.Sprintf("✗ build #%d failed in %s", m.build.Number, elapsed))
	}
}

func (m model) truncate(s string) string {
	limit := m.width - 40
	if limit < 20 {
		limit = 20
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
