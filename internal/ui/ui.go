// Package ui provides terminal styling helpers for the compass CLI.
//
// All rendering degrades to plain text when stdout is not a terminal, so
// command output stays pipeable.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// IsTTY reports whether stdout is an interactive terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func render(style lipgloss.Style, s string) string {
	if !IsTTY() {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles s as a highlighted label.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderSuccess styles s as a success message.
func RenderSuccess(s string) string { return render(successStyle, s) }

// RenderError styles s as an error message.
func RenderError(s string) string { return render(errorStyle, s) }

// RenderMuted styles s as secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeading styles s as a section heading.
func RenderHeading(s string) string { return render(headingStyle, s) }
