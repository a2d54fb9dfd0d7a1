// Package tui provides the terminal user interface.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette. ANSI 256 codes, picked for dark terminals.
var (
	colorPrimary    = lipgloss.Color("205")
	colorSuccess    = lipgloss.Color("42")
	colorWarning    = lipgloss.Color("220")
	colorError      = lipgloss.Color("196")
	colorMuted      = lipgloss.Color("245")
	colorAccent     = lipgloss.Color("141")
	colorHeader     = lipgloss.Color("220")
	colorSection    = lipgloss.Color("213")
	colorSelectedBg = lipgloss.Color("236")
	colorSelectedFg = lipgloss.Color("255")
)

// tone groups list rows by how much attention they need.
type tone int

const (
	toneUnmanaged tone = iota
	toneActive
	toneDrift
	toneError
)

var toneColors = [...]lipgloss.Color{
	toneUnmanaged: colorMuted,
	toneActive:    colorSuccess,
	toneDrift:     colorWarning,
	toneError:     colorError,
}

var toneGlyphs = [...]string{
	toneUnmanaged: "○",
	toneActive:    "●",
	toneDrift:     "◐",
	toneError:     "✗",
}

func toneOf(item ProxyItem) tone {
	switch {
	case item.HasError:
		return toneError
	case item.Pending, item.Drifted():
		return toneDrift
	case item.Managed:
		return toneActive
	default:
		return toneUnmanaged
	}
}

func (t tone) style() lipgloss.Style {
	s := lipgloss.NewStyle().Foreground(toneColors[t])
	if t == toneActive {
		s = s.Bold(true)
	}
	return s
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHeader).Padding(0, 1)

	statusBarStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	connectedStyle    = lipgloss.NewStyle().Foreground(colorSuccess).SetString("Connected")
	disconnectedStyle = lipgloss.NewStyle().Foreground(colorError).SetString("Disconnected")
	updateStyle       = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)

	helpBarStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	helpKeyStyle  = lipgloss.NewStyle().Foreground(colorHeader).Bold(true)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorMuted)

	errorMsgStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true).MarginTop(1)
	successMsgStyle = lipgloss.NewStyle().Foreground(colorSuccess).MarginTop(1)
)

var (
	inputLabelStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1)
	inputFocusStyle = inputStyle.BorderForeground(colorPrimary)

	dialogStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(1, 2)

	itemStyle         = lipgloss.NewStyle().Padding(0, 1)
	selectedItemStyle = itemStyle.Background(colorSelectedBg).Foreground(colorSelectedFg)
)

// Indicator returns the status glyph for a list row.
func Indicator(item ProxyItem) string {
	t := toneOf(item)
	return t.style().Render(toneGlyphs[t])
}

// StatusText returns the styled status label for a list row.
func StatusText(item ProxyItem) string {
	return toneOf(item).style().Render(statusString(item))
}

const helpSeparator = " • "

// WrapHelpText breaks a "key action • key action" line into lines no wider
// than maxWidth. Items are never split. maxWidth <= 0 disables wrapping.
func WrapHelpText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return helpDescStyle.Render(text)
	}

	var (
		lines []string
		line  string
	)
	for _, part := range strings.Split(text, helpSeparator) {
		switch {
		case line == "":
			line = part
		case lipgloss.Width(line+helpSeparator+part) > maxWidth:
			lines = append(lines, helpDescStyle.Render(line))
			line = part
		default:
			line += helpSeparator + part
		}
	}
	if line != "" {
		lines = append(lines, helpDescStyle.Render(line))
	}
	return strings.Join(lines, "\n")
}
