package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Shared styles for CLI output.
var (
	PassStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	WarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	FailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	MutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// Tree-drawing fragments for detail lines.
const (
	TreeBranch = "├─ "
	TreeLast   = "└─ "
)

// Plain icons for callers that compose their own styling.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// RenderPassIcon renders the success marker.
func RenderPassIcon() string { return PassStyle.Render("✓") }

// RenderWarnIcon renders the warning marker.
func RenderWarnIcon() string { return WarnStyle.Render("⚠") }

// RenderFailIcon renders the failure marker.
func RenderFailIcon() string { return FailStyle.Render("✗") }

// RenderPass renders text in the success style.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders text in the warning style.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders text in the failure style.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderMuted renders de-emphasized text.
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderFixIcon renders the auto-fix marker.
func RenderFixIcon() string { return PassStyle.Render("🔧") }

// RenderCategory renders a section header for grouped output.
func RenderCategory(s string) string {
	return lipgloss.NewStyle().Bold(true).Render(s)
}

// RenderSeparator renders the horizontal rule above summaries.
func RenderSeparator() string {
	return MutedStyle.Render("────────────────────────────────────────")
}
