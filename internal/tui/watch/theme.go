// Package watch implements the live operator view: pools, the selected
// pool's workers and the notification stream, fed by the HTTP API.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/convoy/internal/pool"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	Available lipgloss.Style
	EnRoute   lipgloss.Style
	Working   lipgloss.Style
	Returning lipgloss.Style
	Failed    lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	// Indicators
	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Available: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		EnRoute:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Working:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Returning: lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// StatusStyle colors a worker status.
func (t Theme) StatusStyle(s pool.Status) lipgloss.Style {
	switch s {
	case pool.StatusAvailable:
		return t.Available
	case pool.StatusEnRoute:
		return t.EnRoute
	case pool.StatusWorking:
		return t.Working
	case pool.StatusReturning:
		return t.Returning
	default:
		return t.Dim
	}
}
