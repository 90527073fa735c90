// Package ui holds the terminal styles for rustmend's command output.
package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors shared across all output.
var (
	Success = lipgloss.Color("#8BC34A") // Lime Green
	Failure = lipgloss.Color("#e53935") // Red
	Warning = lipgloss.Color("#FFC107") // Yellow
	Info    = lipgloss.Color("#2196F3") // Blue
	Muted   = lipgloss.Color("#808A9D")
)

var (
	// HeaderStyle renders the banner line at the start of a run.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Info)

	// SuccessStyle renders the final all-clear summary.
	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Success)

	// FailureStyle renders fatal outcomes.
	FailureStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Failure)

	// WarnStyle renders degraded-but-continuing notices.
	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning)

	// DetailStyle renders secondary detail under a headline.
	DetailStyle = lipgloss.NewStyle().
			Foreground(Muted)
)
