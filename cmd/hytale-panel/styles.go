// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"hytale-panel/internal/status"
)

// Palette tuned for dark terminal backgrounds.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	// SubtitleStyle is for secondary text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	// SuccessStyle is for success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	// ErrorStyle is for failures.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	// WarningStyle is for states that need the user's attention.
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	// CmdStyle is for commands, URLs and keys.
	CmdStyle = lipgloss.NewStyle().Foreground(ColorHighlight)

	// authBoxStyle frames the device authorization prompt.
	authBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)
)

// statusLine renders one download-status event for the console.
func statusLine(ev status.Event) string {
	switch ev.Status {
	case status.StatusStarting:
		return CmdStyle.Render("→") + " " + ev.Message
	case status.StatusAuthRequired:
		return authBoxStyle.Render(WarningStyle.Render("Authorization required") + "\n" + ev.Message)
	case status.StatusExtracting:
		return CmdStyle.Render("…") + " " + ev.Message
	case status.StatusReady:
		return SuccessStyle.Render("✓") + " " + ev.Message
	case status.StatusError:
		return ErrorStyle.Render("✗") + " " + ev.Message
	default:
		return SubtitleStyle.Render(string(ev.Status)) + " " + ev.Message
	}
}

// checkMark renders a boolean as a styled check or cross.
func checkMark(ok bool) string {
	if ok {
		return SuccessStyle.Render("✓")
	}
	return ErrorStyle.Render("✗")
}
