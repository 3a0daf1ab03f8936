// Package ui holds the terminal styles used by the taskd CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0B5FD9", Dark: "#5FAFFF"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#56D364"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#E3B341"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"})
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8250DF", Dark: "#D2A8FF"})
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	keyStyle    = lipgloss.NewStyle().Bold(true).Width(14)
)

// RenderAccent renders headings and progress markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text such as dates.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderID renders a document id.
func RenderID(s string) string { return idStyle.Render(s) }

// RenderTitle renders a section title.
func RenderTitle(s string) string { return titleStyle.Render(s) }

// RenderKey renders a fixed-width field label for key/value listings.
func RenderKey(s string) string { return keyStyle.Render(s) }

// Checkbox renders a completion marker.
func Checkbox(done bool) string {
	if done {
		return RenderPass("[x]")
	}
	return RenderMuted("[ ]")
}

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
