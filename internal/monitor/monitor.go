// Package monitor shows the progress of a running co-simulation in the
// terminal.
package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/mastersim/internal/progress"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const historyLen = 120

type eventMsg progress.Event

type closedMsg struct{}

// Model is the bubbletea model of the monitor. It consumes events until the
// channel is closed.
type Model struct {
	title  string
	events <-chan progress.Event
	stop   func()

	last     progress.Event
	seen     bool
	accepted int
	rejected int
	iters    int
	steps    []float64
	ratios   []float64
	began    time.Time

	stopping bool
	finished bool

	width int
}

// New builds a monitor reading from events. stop is called when the user
// asks to end the run early; the monitor keeps draining events until the
// channel closes.
func New(title string, events <-chan progress.Event, stop func()) Model {
	return Model{
		title:  title,
		events: events,
		stop:   stop,
		began:  time.Now(),
		width:  80,
	}
}

func (m Model) Init() tea.Cmd {
	return wait(m.events)
}

func wait(events <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			if m.finished {
				return m, tea.Quit
			}
			m.requestStop()
			return m, nil
		case "ctrl+c":
			m.requestStop()
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case eventMsg:
		m.observe(progress.Event(msg))
		return m, wait(m.events)
	case closedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) requestStop() {
	if !m.stopping && m.stop != nil {
		m.stop()
	}
	m.stopping = true
}

func (m *Model) observe(e progress.Event) {
	m.last = e
	m.seen = true
	for _, n := range e.Iterations {
		m.iters += n
	}
	if e.Accepted() {
		m.accepted++
		m.steps = appendCapped(m.steps, e.StepSize)
	} else {
		m.rejected++
	}
	if !math.IsNaN(e.ErrorRatio) {
		m.ratios = appendCapped(m.ratios, e.ErrorRatio)
	}
}

func appendCapped(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyLen {
		s = s[len(s)-historyLen:]
	}
	return s
}

// Finished reports whether the event stream has ended.
func (m Model) Finished() bool {
	return m.finished
}

func (m Model) View() string {
	var b strings.Builder

	icon, status := green.Render("●"), green.Render("running")
	switch {
	case m.finished:
		icon, status = dim.Render("■"), dim.Render("finished")
	case m.stopping:
		icon, status = yellow.Render("○"), yellow.Render("stopping")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", icon, cyan.Render(m.title), status))

	pct := 0.0
	if m.seen {
		pct = math.Max(0, math.Min(1, m.last.Progress))
	}
	barWidth := 36
	if m.width > 60 {
		barWidth = m.width - 30
	}
	filled := int(pct * float64(barWidth))
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	b.WriteString(fmt.Sprintf("   %s %s\n\n", bar, dim.Render(fmt.Sprintf("%5.1f%%", pct*100))))

	if !m.seen {
		b.WriteString(dim.Render("   waiting for first step") + "\n")
	} else {
		t := m.last.Time
		if m.last.Accepted() {
			t += m.last.StepSize
		}
		b.WriteString("   " + field("t", fmt.Sprintf("%.6g", t)) + field("h", fmt.Sprintf("%.3g", m.last.StepSize)) +
			field("accepted", fmt.Sprint(m.accepted)) + field("rejected", fmt.Sprint(m.rejected)) +
			field("iterations", fmt.Sprint(m.iters)) + "\n")

		verdict := green.Render(m.last.Decision.String())
		if !m.last.Accepted() {
			verdict = red.Render(m.last.Decision.String())
			if m.last.Cause != "" {
				verdict += " " + dim.Render(m.last.Cause)
			}
		}
		b.WriteString("   " + dim.Render("last ") + verdict + "\n")
	}

	if len(m.steps) > 1 {
		b.WriteString(fmt.Sprintf("\n   %s %s\n", dim.Render("h  "), cyan.Render(sparkline(m.steps, 48))))
	}
	if len(m.ratios) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("err"), yellow.Render(sparkline(m.ratios, 48))))
	}

	b.WriteString(dim.Render(fmt.Sprintf("\n   elapsed %s", time.Since(m.began).Round(time.Millisecond))) + "\n")
	if m.finished {
		b.WriteString(dim.Render("   q quit") + "\n")
	} else {
		b.WriteString(dim.Render("   q stop run   ctrl+c stop and quit") + "\n")
	}
	return b.String()
}

func field(label, value string) string {
	return dim.Render(label+"=") + white.Render(value) + "  "
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	var sb strings.Builder
	for _, v := range data {
		idx := int((v - lo) / span * 7)
		idx = max(0, min(7, idx))
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Run shows the monitor until the event stream closes or the user quits.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	return m, err
}
