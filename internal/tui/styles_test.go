package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestToneOf(t *testing.T) {
	tests := []struct {
		name string
		item ProxyItem
		want tone
	}{
		{"error wins", ProxyItem{Managed: true, InConfig: true, InHosts: true, HasError: true}, toneError},
		{"pending", ProxyItem{Managed: true, InConfig: true, InHosts: true, Pending: true}, toneDrift},
		{"config only", ProxyItem{Managed: true, InConfig: true}, toneDrift},
		{"active", ProxyItem{Managed: true, InConfig: true, InHosts: true}, toneActive},
		{"unmanaged", ProxyItem{InConfig: true, InHosts: true}, toneUnmanaged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toneOf(tt.item))
			assert.Contains(t, Indicator(tt.item), toneGlyphs[tt.want])
		})
	}
}

func TestWrapHelpText(t *testing.T) {
	text := "n add • d remove • b backups • q quit"

	tests := []struct {
		name      string
		width     int
		wantLines int
	}{
		{"no limit", 0, 1},
		{"wide", 80, 1},
		{"two per line", 18, 2},
		{"one per line", 10, 4},
		{"narrower than an item", 3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := WrapHelpText(text, tt.width)
			lines := strings.Split(out, "\n")
			assert.Len(t, lines, tt.wantLines)

			joined := strings.Join(lines, helpSeparator)
			for _, part := range strings.Split(text, helpSeparator) {
				assert.Contains(t, joined, part)
			}
			if tt.width >= 10 {
				for _, l := range lines {
					assert.LessOrEqual(t, lipgloss.Width(l), tt.width)
				}
			}
		})
	}
}
