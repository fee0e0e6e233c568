package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// OpenCode theme colors (dark mode)
var (
	bgColor        = lipgloss.Color("#0a0a0a") // darkStep1 - main background
	bgPanelColor   = lipgloss.Color("#141414") // darkStep2 - panel background
	bgElementColor = lipgloss.Color("#1e1e1e") // darkStep3 - element background

	borderSubtleColor = lipgloss.Color("#3c3c3c") // darkStep6

	primaryColor   = lipgloss.Color("#fab283") // darkStep9 - warm peach/orange
	secondaryColor = lipgloss.Color("#5c9cf5") // blue

	errorColor   = lipgloss.Color("#e06c75") // red
	warningColor = lipgloss.Color("#f5a742") // orange
	successColor = lipgloss.Color("#7fd88f") // green
	infoColor    = lipgloss.Color("#56b6c2") // cyan
	yellowColor  = lipgloss.Color("#e5c07b") // yellow

	textColor      = lipgloss.Color("#eeeeee") // darkStep12 - primary text
	textMutedColor = lipgloss.Color("#808080") // darkStep11 - muted text
)

// Base style with background - all styles inherit from this
var baseStyle = lipgloss.NewStyle().Background(bgColor)

var (
	titleStyle = baseStyle.
			Foreground(textColor).
			Bold(true)

	mutedStyle = baseStyle.
			Foreground(textMutedColor)

	errorStyle = baseStyle.
			Foreground(errorColor)

	labelStyle = baseStyle.
			Foreground(primaryColor).
			Bold(true)

	keyStyle = baseStyle.
			Foreground(textColor).
			Bold(true)

	keyDescStyle = baseStyle.
			Foreground(textMutedColor)

	panelStyle = lipgloss.NewStyle().
			Background(bgPanelColor).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(borderSubtleColor)
)

// Toast styles by level
var toastStyles = map[ToastLevel]lipgloss.Style{
	ToastInfo:    lipgloss.NewStyle().Foreground(infoColor).Background(bgElementColor).Padding(0, 1),
	ToastSuccess: lipgloss.NewStyle().Foreground(successColor).Background(bgElementColor).Padding(0, 1),
	ToastWarning: lipgloss.NewStyle().Foreground(warningColor).Background(bgElementColor).Padding(0, 1),
	ToastError:   lipgloss.NewStyle().Foreground(errorColor).Background(bgElementColor).Padding(0, 1),
}

// severityColors colors the summary bar
var severityColors = map[string]lipgloss.Color{
	"Critical": errorColor,
	"High":     warningColor,
	"Medium":   yellowColor,
	"Low":      secondaryColor,
	"Info":     textMutedColor,
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(borderSubtleColor).
		BorderBottom(true).
		Foreground(primaryColor).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(bgColor).
		Background(primaryColor).
		Bold(false)
	return s
}
