// Package style centralizes the lipgloss styles for swarm's table output.
package style

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/steveyegge/swarm/internal/ui"
)

// Styles for worker and loop listings.
var (
	Header  = lipgloss.NewStyle().Bold(true)
	Running = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	Stopped = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // grey
	Failed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	Paused  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	Dim     = lipgloss.NewStyle().Faint(true)
)

func init() {
	if !ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ForStatus picks the style for a status word.
func ForStatus(status string) lipgloss.Style {
	switch status {
	case "running", "active":
		return Running
	case "failed", "expired":
		return Failed
	case "paused":
		return Paused
	default:
		return Stopped
	}
}
