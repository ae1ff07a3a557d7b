package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// styleSet holds the terminal styles used for human output.
type styleSet struct {
	Accent  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Warning lipgloss.Style
}

func newStyleSet(color bool) styleSet {
	if !color {
		plain := lipgloss.NewStyle()
		return styleSet{Accent: plain, Muted: plain, Success: plain, Failure: plain, Warning: plain}
	}
	return styleSet{
		Accent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Failure: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// useColor reports whether stdout is a terminal and color was not disabled.
func useColor() bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
