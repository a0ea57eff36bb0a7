package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/muurk/roehn/internal/events"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#2F80ED") // Blue - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - success, presses
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors
	WarningColor = lipgloss.Color("#FFA500") // Orange - warnings, holds
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
	AccentColor  = lipgloss.Color("#BB86FC") // Violet - double presses
)

// Layout constants
const (
	MinTerminalWidth = 60  // Minimum supported terminal width
	MaxContentWidth  = 120 // Maximum content width before capping
)

var (
	// HeaderTitleStyle is for the main command title (e.g., "MODULES")
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(2)

	// HeaderCommandStyle is for the command path (e.g., "roehn devices")
	HeaderCommandStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamKeyStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	WarningTitleStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	// ResultKeyStyle is for result detail keys
	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(18)

	ResultValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	TroubleshootingItemStyle = lipgloss.NewStyle().
					Foreground(MutedColor)

	// TableHeaderStyle is for column titles in rendered tables
	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true).
				Padding(0, 1)

	TableCellStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Padding(0, 1)

	TableMutedCellStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				Padding(0, 1)

	// StatusBarStyle is the footer line of the live monitor
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// Markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	WarningMarker = "⚠"
)

// ActionStyle colors a button action the same way everywhere it is shown.
func ActionStyle(action events.Action) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch action {
	case events.ActionPress:
		return base.Foreground(SuccessColor)
	case events.ActionHold:
		return base.Foreground(WarningColor)
	case events.ActionDouble:
		return base.Foreground(AccentColor)
	case events.ActionRelease:
		return base.Foreground(MutedColor)
	}
	return base.Foreground(TextColor)
}

// StateStyle colors an event listener state.
func StateStyle(state events.State) lipgloss.Style {
	switch state {
	case events.StateConnected:
		return lipgloss.NewStyle().Foreground(SuccessColor)
	case events.StateBackoff:
		return lipgloss.NewStyle().Foreground(ErrorColor)
	case events.StateConnecting:
		return lipgloss.NewStyle().Foreground(WarningColor)
	}
	return lipgloss.NewStyle().Foreground(MutedColor)
}

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func clampWidth(width int) int {
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// RenderHorizontalDivider creates a horizontal line of the specified width
func RenderHorizontalDivider(width int, char string) string {
	if width < 1 {
		width = 1
	}
	return lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Render(strings.Repeat(char, width))
}
