package tui

import "github.com/charmbracelet/lipgloss"

// Theme represents the current color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

// Tokyo Night palettes.
var darkColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Cyan   lipgloss.Color
}{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
	Cyan:    lipgloss.Color("#7dcfff"),
}

var lightColors = struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Cyan   lipgloss.Color
}{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
	Cyan:    lipgloss.Color("#166775"),
}

var (
	colorBg      lipgloss.Color
	colorSurface lipgloss.Color
	colorBorder  lipgloss.Color
	colorText    lipgloss.Color
	colorTextDim lipgloss.Color
	colorAccent  lipgloss.Color
	colorGreen   lipgloss.Color
	colorYellow  lipgloss.Color
	colorRed     lipgloss.Color
	colorCyan    lipgloss.Color
)

var (
	statusBarStyle  lipgloss.Style
	statusRunStyle  lipgloss.Style
	statusDeadStyle lipgloss.Style
	frameStyle      lipgloss.Style
	dimStyle        lipgloss.Style
	errorStyle      lipgloss.Style
	promptStyle     lipgloss.Style
	panelStyle      lipgloss.Style
	overlayStyle    lipgloss.Style
	titleStyle      lipgloss.Style
)

// InitTheme sets the active palette. Must be called before rendering.
func InitTheme(theme string) {
	if theme == "light" {
		currentTheme = ThemeLight
		colorBg = lightColors.Bg
		colorSurface = lightColors.Surface
		colorBorder = lightColors.Border
		colorText = lightColors.Text
		colorTextDim = lightColors.TextDim
		colorAccent = lightColors.Accent
		colorGreen = lightColors.Green
		colorYellow = lightColors.Yellow
		colorRed = lightColors.Red
		colorCyan = lightColors.Cyan
	} else {
		currentTheme = ThemeDark
		colorBg = darkColors.Bg
		colorSurface = darkColors.Surface
		colorBorder = darkColors.Border
		colorText = darkColors.Text
		colorTextDim = darkColors.TextDim
		colorAccent = darkColors.Accent
		colorGreen = darkColors.Green
		colorYellow = darkColors.Yellow
		colorRed = darkColors.Red
		colorCyan = darkColors.Cyan
	}
	initStyles()
}

// GetCurrentTheme returns the active theme.
func GetCurrentTheme() Theme {
	return currentTheme
}

func init() {
	InitTheme("dark")
}

func initStyles() {
	statusBarStyle = lipgloss.NewStyle().
		Background(colorSurface).
		Foreground(colorText).
		Padding(0, 1)

	statusRunStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	statusDeadStyle = lipgloss.NewStyle().Foreground(colorRed).Bold(true)

	frameStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	dimStyle = lipgloss.NewStyle().Foreground(colorTextDim)
	errorStyle = lipgloss.NewStyle().Foreground(colorRed)

	promptStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)

	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder)

	overlayStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(0, 1).
		Background(colorBg)

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(colorAccent).
		Background(colorSurface).
		Padding(0, 1)
}

// statusDot renders the interpreter liveness indicator.
func statusDot(running bool) string {
	if running {
		return statusRunStyle.Render("●")
	}
	return statusDeadStyle.Render("✕")
}
