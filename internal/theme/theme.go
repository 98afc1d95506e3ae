// Package theme holds the lipgloss styles of the command line output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsift/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for table header cells.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// CellStyle is the base style of table body cells.
var CellStyle = lipgloss.NewStyle().
	Padding(0, 1)

// BorderStyle colors table borders.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// HelpStyle is used for hints printed after command output.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle is used for failures reported inline, such as a session that
// did not start.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// CategoryStyle returns a color-coded style for a message category. A nil
// category renders gray.
func CategoryStyle(c *model.Category) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	if c == nil {
		return base.Foreground(ColorGray)
	}

	switch *c {
	case model.CategoryInterested:
		return base.Foreground(ColorGreen)
	case model.CategoryMeetingBooked:
		return base.Foreground(ColorBlue)
	case model.CategoryNotInterested:
		return base.Foreground(ColorOrange)
	case model.CategorySpam:
		return base.Foreground(ColorRed)
	case model.CategoryOutOfOffice:
		return base.Foreground(ColorMagenta)
	default:
		return base.Foreground(ColorGray)
	}
}

// CategoryLabel returns the display text of a category, "-" when unset.
func CategoryLabel(c *model.Category) string {
	if c == nil {
		return "-"
	}
	return string(*c)
}

// StateStyle returns a color-coded style for a session state name.
func StateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case "watching":
		return base.Foreground(ColorGreen)
	case "backfilling", "connected":
		return base.Foreground(ColorYellow)
	case "disconnected":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
