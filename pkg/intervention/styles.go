package intervention

import "github.com/charmbracelet/lipgloss"

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")
	brightText = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(salmonPink)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(brightText)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)
)
