// Package ui provides the CLI's terminal styling.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }
