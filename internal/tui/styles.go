package tui

import "github.com/charmbracelet/lipgloss"

var (
	Primary     = lipgloss.Color("#8BC34A")
	Muted       = lipgloss.Color("#6b7785")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Styles holds the rendered styles of the status view.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Approve lipgloss.Style
	Defer   lipgloss.Style
	Failure lipgloss.Style
	Warning lipgloss.Style
	Help    lipgloss.Style
	Box     lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(Primary),
		Label:   lipgloss.NewStyle().Foreground(Muted).Width(12),
		Value:   lipgloss.NewStyle().Bold(true),
		Approve: lipgloss.NewStyle().Foreground(Primary),
		Defer:   lipgloss.NewStyle().Foreground(Info),
		Failure: lipgloss.NewStyle().Foreground(Destructive),
		Warning: lipgloss.NewStyle().Foreground(Warning),
		Help:    lipgloss.NewStyle().Foreground(Muted).Italic(true),
		Box:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Muted).Padding(0, 1),
	}
}
