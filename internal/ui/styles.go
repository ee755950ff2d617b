package ui

import "github.com/charmbracelet/lipgloss"

// Color palette for the default theme: one lime accent over grays.
const (
	ColorLime     = "154" // primary accent, bright lime green
	ColorLimeDim  = "106" // dimmed lime for inactive/borders
	ColorWhite    = "255" // headers, important text
	ColorGray     = "245" // secondary text, labels
	ColorDarkGray = "238" // box borders, separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings
)

// Styles holds all UI styles for TUI rendering.
type Styles struct {
	// Text styles
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	// Panel/layout styles
	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// paletteStyles builds a Styles set from one accent color and its dim
// variant; everything else is shared gray scaffolding.
func paletteStyles(accent, accentDim string) Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accent)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(accent)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(accentDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accent)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(accent)),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(accent)),
		Speed:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// DefaultStyles returns the default lime theme for TUI mode.
func DefaultStyles() Styles {
	return paletteStyles(ColorLime, ColorLimeDim)
}

// ThemeStyles returns the styles for a named theme (see config.Themes).
// Unknown names fall back to the default theme; "mono" is the uncolored set.
func ThemeStyles(theme string, noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	switch theme {
	case "dark":
		return paletteStyles("39", "31") // cyan-blue accent
	case "light":
		return paletteStyles("28", "22") // forest green accent
	case "mono":
		return NoColorStyles()
	default:
		return DefaultStyles()
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Stage:     lipgloss.NewStyle(),
		Active:    lipgloss.NewStyle(),
		Progress:  lipgloss.NewStyle(),
		Border:    lipgloss.NewStyle(),
		Panel:     lipgloss.NewStyle(),
		Sparkline: lipgloss.NewStyle(),
		Speed:     lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
