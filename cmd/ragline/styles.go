package main

import "github.com/charmbracelet/lipgloss"

// REPL and query output styles.
var (
	styleBanner = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	stylePrompt = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	styleResultHeader = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Bold(true)

	styleSources = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	styleDim = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	styleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)
