// Package monitor provides a terminal view of runs in progress.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sweeney/loopbench/internal/engine"
	"github.com/sweeney/loopbench/internal/live"
	"github.com/sweeney/loopbench/internal/logic"
)

// refresh is how often the view polls the run snapshot.
const refresh = 100 * time.Millisecond

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(mutedColor)
	metStyle   = lipgloss.NewStyle().Foreground(successColor)
	missStyle  = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(warningColor)
	helpStyle  = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
)

// RunStartedMsg tells the view to follow a newly started run.
type RunStartedMsg struct {
	Run *engine.Run
}

// FinishedMsg tells the view every run is over.
type FinishedMsg struct {
	Err error
}

type tickMsg time.Time

// finished is a completed run as shown in the history panel.
type finished struct {
	id       string
	mode     string
	cycles   int
	failures uint64
}

// Model is the bubbletea model of the monitor.
type Model struct {
	run      *engine.Run
	snap     engine.Snapshot
	seen     bool // snap is valid
	history  []finished
	recorded map[string]bool

	bar    progress.Model
	width  int
	recent int

	done     bool
	quitting bool
	err      error
}

// New creates a monitor showing the recent most recent cycles.
func New(recent int) Model {
	return Model{
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:    80,
		recent:   recent,
		recorded: make(map[string]bool),
	}
}

// Quitting reports whether the user asked to quit.
func (m Model) Quitting() bool { return m.quitting }

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(msg.Width-20, 60))

	case RunStartedMsg:
		m.record()
		m.run = msg.Run
		m.seen = false

	case tickMsg:
		m.poll()
		return m, tick()

	case FinishedMsg:
		m.poll()
		m.record()
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) poll() {
	if m.run == nil {
		return
	}
	m.snap = m.run.Snapshot(m.recent)
	m.seen = true
}

// record moves the followed run into the history once it is done.
func (m *Model) record() {
	if !m.seen || !m.snap.Done || m.recorded[m.snap.RunID] {
		return
	}
	m.recorded[m.snap.RunID] = true
	f := finished{id: m.snap.RunID, mode: m.snap.Mode, cycles: m.snap.Cycles}
	d := m.snap.Diagnostics
	f.failures = d.TransmitMisses + d.FeedbackMisses + d.DroppedReadings + d.DroppedFeedback
	m.history = append(m.history, f)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("loopbench monitor"))
	b.WriteString("\n\n")

	if !m.seen {
		b.WriteString(labelStyle.Render("waiting for run to start..."))
		b.WriteString("\n")
	} else {
		b.WriteString(panelStyle.Render(m.runView()))
		b.WriteString("\n")
	}

	if len(m.history) > 0 {
		b.WriteString(panelStyle.Render(m.historyView()))
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString(missStyle.Render("error: " + m.err.Error()))
	case m.done:
		b.WriteString(metStyle.Render("all runs finished"))
	default:
		b.WriteString(helpStyle.Render("q: stop runs and quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) runView() string {
	s := m.snap
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("run"), s.RunID,
		labelStyle.Render("mode"), s.Mode,
		labelStyle.Render("strategy"), s.Strategy)
	fmt.Fprintf(&b, "%s %s / %s\n\n",
		m.bar.ViewAs(s.Progress),
		s.Elapsed.Truncate(time.Millisecond), s.Duration)

	d := s.Diagnostics
	fmt.Fprintf(&b, "%s %-8d %s %-8d %s %d\n",
		labelStyle.Render("cycles"), s.Cycles,
		labelStyle.Render("anomalies"), d.Anomalies,
		labelStyle.Render("emergencies"), d.Emergencies)
	fmt.Fprintf(&b, "%s %-8d %s %-8d %s %d/%d\n",
		labelStyle.Render("tx miss"), d.TransmitMisses,
		labelStyle.Render("fb miss"), d.FeedbackMisses,
		labelStyle.Render("feedback"), d.FeedbackSent, d.FeedbackObserved)
	fmt.Fprintf(&b, "%s %v %s %d\n",
		labelStyle.Render("queue"), s.Backlog,
		labelStyle.Render("feedback queue"), s.Feedback)

	if len(s.Recent) > 0 {
		b.WriteString("\n")
		for _, c := range s.Recent {
			b.WriteString(cycleLine(c))
			b.WriteString("\n")
		}
	}
	if n := len(s.Samples); n > 0 {
		b.WriteString("\n")
		b.WriteString(sampleLine(s.Samples[n-1]))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func cycleLine(c logic.CycleResult) string {
	mark := metStyle.Render("met ")
	if !c.DeadlineMet {
		mark = missStyle.Render("MISS")
	}
	line := fmt.Sprintf("%-8s #%-6d %s total %-10s wait %-10s deadline %s",
		c.Stage(), c.CycleID, mark, c.Total, c.LockWait, c.Deadline)
	if c.Overrun {
		line += " " + warnStyle.Render("overrun")
	}
	return line
}

func sampleLine(s live.Sample) string {
	if s.Kind == live.KindReading {
		return fmt.Sprintf("%s #%d force %.2f smoothed %.2f position %.2f temp %.2f",
			labelStyle.Render("reading"), s.ID, s.Force, s.Smoothed, s.Position, s.Temperature)
	}
	return fmt.Sprintf("%s #%d %s %s output %.2f error %.2f",
		labelStyle.Render("feedback"), s.ID, s.Actuator, s.Status, s.Output, s.Error)
}

func (m Model) historyView() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("finished"))
	for _, f := range m.history {
		fmt.Fprintf(&b, "\n%s %-12s %d cycles, %d failures", f.id, f.mode, f.cycles, f.failures)
	}
	return b.String()
}

// Watch runs fn under the monitor. fn reports each run it starts through
// started; quitting the monitor cancels the context given to fn.
func Watch(ctx context.Context, recent int, fn func(ctx context.Context, started func(*engine.Run)) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(recent), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	errc := make(chan error, 1)
	go func() {
		err := fn(ctx, func(r *engine.Run) { p.Send(RunStartedMsg{Run: r}) })
		errc <- err
		p.Send(FinishedMsg{Err: err})
	}()

	_, perr := p.Run()
	// The view is gone; make sure the runs stop too.
	cancel()
	if err := <-errc; err != nil {
		return err
	}
	if perr != nil && !errors.Is(perr, tea.ErrProgramKilled) {
		return fmt.Errorf("monitor: %w", perr)
	}
	return nil
}
