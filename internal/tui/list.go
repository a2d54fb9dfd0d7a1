// Package tui provides the list view component.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
)

// Sections group list rows.
const (
	SectionProxies   = "proxies"
	SectionUnmanaged = "unmanaged"
)

// ProxyItem is one host name seen in either managed file.
type ProxyItem struct {
	Host     string
	Port     int
	Managed  bool // has a block written by lolcaproxy
	InConfig bool
	InHosts  bool
	Pending  bool
	HasError bool
}

// Section returns the list section the item belongs to.
func (p ProxyItem) Section() string {
	if p.Managed {
		return SectionProxies
	}
	return SectionUnmanaged
}

// Drifted reports whether the host is present in only one file.
func (p ProxyItem) Drifted() bool {
	return p.InConfig != p.InHosts
}

// ListView handles the list of proxy entries.
type ListView struct {
	items        []ProxyItem
	sections     map[string][]int // section name -> indices in items
	sectionOrder []string
	cursor       int
	width        int
	height       int
}

// NewListView creates a new list view.
func NewListView() *ListView {
	return &ListView{
		sections: make(map[string][]int),
	}
}

// ItemsFromResult merges the config and hosts entries of a list result into
// one row per host. Config order comes first, then hosts-only names.
func ItemsFromResult(res *engine.Result) []ProxyItem {
	if res == nil || res.Data == nil {
		return nil
	}
	d := res.Data

	ports := make(map[string]int, len(d.Proxies))
	for _, p := range d.Proxies {
		ports[p.Host] = int(p.Port)
	}
	inHosts := make(map[string]bool, len(d.HostsEntries))
	for _, h := range d.HostsEntries {
		inHosts[h] = true
	}

	seen := make(map[string]bool)
	var items []ProxyItem
	for _, host := range d.ConfigEntries {
		if seen[host] {
			continue
		}
		seen[host] = true
		port, managed := ports[host]
		items = append(items, ProxyItem{
			Host:     host,
			Port:     port,
			Managed:  managed,
			InConfig: true,
			InHosts:  inHosts[host],
		})
	}
	for _, host := range d.HostsEntries {
		if seen[host] {
			continue
		}
		seen[host] = true
		items = append(items, ProxyItem{Host: host, InHosts: true})
	}

	return items
}

// SetItems updates the list items, proxies first.
func (l *ListView) SetItems(items []ProxyItem) {
	var managed, other []ProxyItem
	for _, it := range items {
		if it.Managed {
			managed = append(managed, it)
		} else {
			other = append(other, it)
		}
	}
	l.items = append(managed, other...)
	l.sections = make(map[string][]int)
	l.sectionOrder = nil

	for i, it := range l.items {
		s := it.Section()
		if _, ok := l.sections[s]; !ok {
			l.sectionOrder = append(l.sectionOrder, s)
		}
		l.sections[s] = append(l.sections[s], i)
	}

	if l.cursor >= len(l.items) {
		l.cursor = max(0, len(l.items)-1)
	}
}

// SetSize sets the view dimensions.
func (l *ListView) SetSize(width, height int) {
	l.width = width
	l.height = height
}

// MoveUp moves the cursor up.
func (l *ListView) MoveUp() {
	if l.cursor > 0 {
		l.cursor--
	}
}

// MoveDown moves the cursor down.
func (l *ListView) MoveDown() {
	if l.cursor < len(l.items)-1 {
		l.cursor++
	}
}

// Selected returns the currently selected item.
func (l *ListView) Selected() *ProxyItem {
	if l.cursor >= 0 && l.cursor < len(l.items) {
		return &l.items[l.cursor]
	}
	return nil
}

// SelectedHost returns the host of the selected item.
func (l *ListView) SelectedHost() string {
	if item := l.Selected(); item != nil {
		return item.Host
	}
	return ""
}

// SetPending marks an item as pending.
func (l *ListView) SetPending(host string, pending bool) {
	if item := l.FindByHost(host); item != nil {
		item.Pending = pending
	}
}

// SetError marks an item as having an error.
func (l *ListView) SetError(host string, hasError bool) {
	if item := l.FindByHost(host); item != nil {
		item.HasError = hasError
	}
}

// Len returns the number of items.
func (l *ListView) Len() int {
	return len(l.items)
}

// ProxyCount returns the number of managed proxies.
func (l *ListView) ProxyCount() int {
	return len(l.sections[SectionProxies])
}

// DriftCount returns the number of hosts present in only one file.
func (l *ListView) DriftCount() int {
	count := 0
	for _, item := range l.items {
		if item.Drifted() {
			count++
		}
	}
	return count
}

// FindByHost finds an item by host name.
func (l *ListView) FindByHost(host string) *ProxyItem {
	for i := range l.items {
		if l.items[i].Host == host {
			return &l.items[i]
		}
	}
	return nil
}

// Filter filters items by search term.
func (l *ListView) Filter(term string) []ProxyItem {
	if term == "" {
		return l.items
	}

	term = strings.ToLower(term)
	var filtered []ProxyItem
	for _, item := range l.items {
		if strings.Contains(strings.ToLower(item.Host), term) ||
			(item.Port > 0 && strings.Contains(strconv.Itoa(item.Port), term)) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Sections returns the section names in display order.
func (l *ListView) Sections() []string {
	return l.sectionOrder
}

// ViewFiltered renders the list filtered by search term.
func (l *ListView) ViewFiltered(searchTerm string) string {
	if searchTerm == "" {
		return l.View()
	}

	filtered := l.Filter(searchTerm)
	if len(filtered) == 0 {
		emptyStyle := lipgloss.NewStyle().Foreground(colorMuted)
		return "\n" + emptyStyle.Render(fmt.Sprintf("  No results for '%s'. Press Esc to clear search.", searchTerm)) + "\n"
	}

	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().
		Foreground(colorWarning).
		Bold(true).
		Render(fmt.Sprintf("  Search: %s (%d results)", searchTerm, len(filtered))))
	sb.WriteString("\n")

	bySection := make(map[string][]ProxyItem)
	var order []string
	for _, item := range filtered {
		s := item.Section()
		if _, ok := bySection[s]; !ok {
			order = append(order, s)
		}
		bySection[s] = append(bySection[s], item)
	}

	for _, s := range order {
		sb.WriteString(l.renderSection(s, bySection[s], -1))
	}

	return sb.String()
}

// View renders the list with sections as headers.
func (l *ListView) View() string {
	if len(l.items) == 0 {
		emptyStyle := lipgloss.NewStyle().Foreground(colorMuted)
		return "\n" + emptyStyle.Render("  No proxies registered. Press 'n' to add one.") + "\n"
	}

	var sb strings.Builder
	for _, s := range l.sectionOrder {
		indices := l.sections[s]
		items := make([]ProxyItem, len(indices))
		selected := -1
		for row, idx := range indices {
			items[row] = l.items[idx]
			if idx == l.cursor {
				selected = row
			}
		}
		sb.WriteString(l.renderSection(s, items, selected))
	}

	return sb.String()
}

// renderSection draws one section table. selected is the highlighted row,
// or -1 for none.
func (l *ListView) renderSection(name string, items []ProxyItem, selected int) string {
	if len(items) == 0 {
		return ""
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorSection).
		Background(lipgloss.Color("238")).
		Padding(0, 1).
		MarginTop(1)

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf(" %s (%d)", strings.ToUpper(name), len(items))))
	sb.WriteString("\n")

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			truncate(item.Host, 40),
			portString(item),
			statusString(item),
		})
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("HOST", "PORT", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Bold(true).
					Foreground(colorHeader).
					Padding(0, 1)
			}

			base := lipgloss.NewStyle().Padding(0, 1)
			if row < 0 || row >= len(items) {
				return base
			}
			if row == selected {
				return base.Background(colorSelectedBg).Foreground(colorSelectedFg)
			}

			item := items[row]
			if !item.Managed && !item.Drifted() {
				return base.Foreground(colorMuted)
			}
			if col == 2 {
				return base.Foreground(statusColor(item))
			}
			return base
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n")
	return sb.String()
}

func portString(item ProxyItem) string {
	if item.Port == 0 {
		return "-"
	}
	return strconv.Itoa(item.Port)
}

func statusString(item ProxyItem) string {
	switch {
	case item.HasError:
		return "✗ Error"
	case item.Pending:
		return "◐ Pending"
	case !item.InHosts:
		return "◐ Config only"
	case !item.InConfig:
		return "◐ Hosts only"
	case item.Managed:
		return "● Active"
	default:
		return "○ Unmanaged"
	}
}

func statusColor(item ProxyItem) lipgloss.Color {
	return toneColors[toneOf(item)]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
