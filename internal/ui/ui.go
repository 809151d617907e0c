// Package ui provides styled terminal output helpers for the pawsync
// CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))  // blue
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// RenderPass renders success text in green.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail renders failure text in red.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn renders warning text in orange.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent renders highlighted values (ids, counts) in blue.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders secondary detail in gray.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders headings in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// StatusBadge renders an online/offline badge.
func StatusBadge(online bool) string {
	if online {
		return RenderPass("● online")
	}
	return RenderFail("● offline")
}
