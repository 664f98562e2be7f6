// Package tui is the interactive status view of a run: start time, item
// counter, recent items and warnings, with keys to stop the run.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/status"
)

const (
	maxItems    = 8
	maxWarnings = 4
)

type updateMsg status.Update

type closedMsg struct{}

// waitForUpdate blocks on the next update; the model re-arms it after each one.
func waitForUpdate(ch <-chan status.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

// Model renders status updates. Stop is called on "s" (finish the current
// item); Abort on ctrl+c or "q" (cancel immediately).
type Model struct {
	updates <-chan status.Update
	stop    func()
	abort   func()
	styles  Styles

	started  time.Time
	phase    string
	count    int
	items    []status.Update
	warnings []string
	stopping bool
	finished *status.Update
	width    int
}

func New(updates <-chan status.Update, started time.Time, stop, abort func()) Model {
	return Model{
		updates: updates,
		stop:    stop,
		abort:   abort,
		styles:  DefaultStyles(),
		started: started,
		phase:   "Starting",
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			if !m.stopping && m.finished == nil {
				m.stopping = true
				m.phase = "Stopping after the current item"
				if m.stop != nil {
					m.stop()
				}
			}
		case "ctrl+c", "q":
			if m.finished != nil {
				return m, tea.Quit
			}
			m.phase = "Aborting"
			if m.abort != nil {
				m.abort()
			}
		case "enter", "esc":
			if m.finished != nil {
				return m, tea.Quit
			}
		}
		return m, nil

	case updateMsg:
		m.apply(status.Update(msg))
		return m, waitForUpdate(m.updates)

	case closedMsg:
		// Keep the final screen up until the operator dismisses it.
		if m.finished != nil {
			return m, nil
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(u status.Update) {
	switch u.Kind {
	case status.KindItem:
		m.count = u.Count
		m.items = append(m.items, u)
		if len(m.items) > maxItems {
			m.items = m.items[len(m.items)-maxItems:]
		}
	case status.KindWarning:
		w := u.Message
		if u.Err != nil {
			w += ": " + u.Err.Error()
		}
		m.warnings = append(m.warnings, u.At.Format("15:04:05")+" "+w)
		if len(m.warnings) > maxWarnings {
			m.warnings = m.warnings[len(m.warnings)-maxWarnings:]
		}
	case status.KindFinished:
		m.finished = &u
		m.phase = u.Message
		if u.Count > m.count {
			m.count = u.Count
		}
	default:
		if !m.stopping {
			m.phase = u.Message
		}
		if u.Kind == status.KindLogin && u.Err != nil {
			m.phase = u.Message + ": " + u.Err.Error()
		}
	}
}

func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render("labelbot"))
	b.WriteString("\n\n")
	row := func(label, value string) {
		b.WriteString(s.Label.Render(label))
		b.WriteString(s.Value.Render(value))
		b.WriteString("\n")
	}
	row("Started", m.started.Format("2006-01-02 15:04:05"))
	row("Status", m.phase)
	row("Processed", fmt.Sprintf("%d", m.count))

	if len(m.items) > 0 {
		var lines []string
		for _, it := range m.items {
			lines = append(lines, fmt.Sprintf("%4d  %s  %s  %s", it.Count, it.At.Format("15:04:05"), m.renderAction(it.Action), truncate(it.Link, 60)))
		}
		b.WriteString("\n")
		b.WriteString(s.Box.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	for _, w := range m.warnings {
		b.WriteString(s.Warning.Render("! " + w))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.finished != nil && m.finished.Err != nil:
		b.WriteString(s.Failure.Render(m.finished.Err.Error()))
		b.WriteString("\n")
		b.WriteString(s.Help.Render("enter/q: exit"))
	case m.finished != nil:
		b.WriteString(s.Help.Render("enter/q: exit"))
	default:
		b.WriteString(s.Help.Render("s: stop after current item   q/ctrl+c: abort"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderAction(action string) string {
	switch action {
	case processor.ActionApprove:
		return m.styles.Approve.Render(fmt.Sprintf("%-20s", action))
	case processor.ActionDefer:
		return m.styles.Defer.Render(fmt.Sprintf("%-20s", action))
	}
	return m.styles.Failure.Render(fmt.Sprintf("%-20s", action))
}

func truncate(s string, l int) string {
	if len(s) > l {
		return s[:l-3] + "..."
	}
	return s
}
