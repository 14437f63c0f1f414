package tui

import (
	dark "github.com/thiagokokada/dark-mode-go"
)

// ResolveTheme maps a configured theme ("dark", "light", "system") to a
// concrete palette name. "system" queries the OS dark mode setting and
// falls back to dark when detection fails.
func ResolveTheme(theme string) string {
	if theme != "system" {
		if theme == "light" {
			return "light"
		}
		return "dark"
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}
