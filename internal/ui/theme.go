package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorMauve  = lipgloss.Color("#cba6f7")
	ColorMuted  = lipgloss.Color("#5a6278")
	ColorDim    = lipgloss.Color("#3a4055")
	ColorBright = lipgloss.Color("#cdd6f4")
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(ColorMauve).Padding(0, 1)
	styleDivider = lipgloss.NewStyle().Foreground(ColorDim)
	styleCell    = lipgloss.NewStyle().Foreground(ColorBright).Padding(0, 1)
	styleMuted   = lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 1)
	styleActive  = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen).Padding(0, 1)
)
