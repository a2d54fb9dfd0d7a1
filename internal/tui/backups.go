// Package tui provides the backup picker component.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
)

// BackupMode represents the backup view mode.
type BackupMode int

const (
	BackupModeSelect BackupMode = iota
	BackupModeConfirmRestore
)

// BackupPicker lists snapshots, previews either file of the selected one
// and confirms a restore.
type BackupPicker struct {
	backups        []backup.Info
	cursor         int
	width          int
	height         int
	mode           BackupMode
	previewFile    backup.File
	previewContent string
	previewLoaded  bool
	previewScroll  int
}

// NewBackupPicker creates a new backup picker.
func NewBackupPicker() *BackupPicker {
	return &BackupPicker{
		mode:        BackupModeSelect,
		previewFile: backup.FileConfig,
	}
}

// SetBackups updates the available backups.
func (b *BackupPicker) SetBackups(backups []backup.Info) {
	b.backups = backups
	if b.cursor >= len(backups) {
		b.cursor = max(0, len(backups)-1)
	}
	b.clearPreview()
}

// SetSize sets the picker dimensions.
func (b *BackupPicker) SetSize(width, height int) {
	b.width = width
	b.height = height
}

// MoveUp moves the cursor up.
func (b *BackupPicker) MoveUp() {
	if b.cursor > 0 {
		b.cursor--
		b.clearPreview()
	}
}

// MoveDown moves the cursor down.
func (b *BackupPicker) MoveDown() {
	if b.cursor < len(b.backups)-1 {
		b.cursor++
		b.clearPreview()
	}
}

// ToggleFile switches the preview between the config and hosts copies.
func (b *BackupPicker) ToggleFile() {
	if b.previewFile == backup.FileConfig {
		b.previewFile = backup.FileHosts
	} else {
		b.previewFile = backup.FileConfig
	}
	b.clearPreview()
}

// PreviewFile returns the file being previewed.
func (b *BackupPicker) PreviewFile() backup.File {
	return b.previewFile
}

func (b *BackupPicker) clearPreview() {
	b.previewContent = ""
	b.previewLoaded = false
	b.previewScroll = 0
}

// SetPreviewContent sets the preview content for the current backup.
func (b *BackupPicker) SetPreviewContent(content string) {
	b.previewContent = content
	b.previewLoaded = true
	b.previewScroll = 0
}

// PreviewContent returns the current preview content.
func (b *BackupPicker) PreviewContent() string {
	return b.previewContent
}

// NeedsPreview reports whether the preview for the selection must be fetched.
func (b *BackupPicker) NeedsPreview() bool {
	return !b.previewLoaded && b.Selected() != ""
}

// ScrollPreviewUp scrolls the preview up.
func (b *BackupPicker) ScrollPreviewUp() {
	if b.previewScroll > 0 {
		b.previewScroll--
	}
}

// ScrollPreviewDown scrolls the preview down.
func (b *BackupPicker) ScrollPreviewDown() {
	b.previewScroll++
}

// Selected returns the timestamp of the selected backup.
func (b *BackupPicker) Selected() string {
	if info := b.SelectedInfo(); info != nil {
		return info.Timestamp
	}
	return ""
}

// SelectedInfo returns the currently selected backup info.
func (b *BackupPicker) SelectedInfo() *backup.Info {
	if b.cursor >= 0 && b.cursor < len(b.backups) {
		return &b.backups[b.cursor]
	}
	return nil
}

// Len returns the number of backups.
func (b *BackupPicker) Len() int {
	return len(b.backups)
}

// Mode returns the current mode.
func (b *BackupPicker) Mode() BackupMode {
	return b.mode
}

// InitRestore starts restore confirmation.
func (b *BackupPicker) InitRestore() {
	if b.SelectedInfo() == nil {
		return
	}
	b.mode = BackupModeConfirmRestore
}

// Cancel cancels the current operation.
func (b *BackupPicker) Cancel() {
	b.mode = BackupModeSelect
}

// View renders the backup picker.
func (b *BackupPicker) View() string {
	if b.mode == BackupModeConfirmRestore {
		return b.restoreView()
	}
	return b.selectView()
}

func (b *BackupPicker) selectView() string {
	if len(b.backups) == 0 {
		var sb strings.Builder
		sb.WriteString(titleStyle.Render("Backups"))
		sb.WriteString("\n\n")
		sb.WriteString(helpDescStyle.Render("No backups available."))
		sb.WriteString("\n\n")
		sb.WriteString(helpDescStyle.Render("A backup of the nginx config and hosts file is taken before every change."))
		sb.WriteString("\n\n")
		sb.WriteString(helpDescStyle.Render("Esc cancel"))
		return dialogStyle.Render(sb.String())
	}

	var left strings.Builder
	left.WriteString(titleStyle.Render("Backups"))
	left.WriteString("\n\n")
	left.WriteString(helpDescStyle.Render(fmt.Sprintf("%d backup(s)", len(b.backups))))
	left.WriteString("\n\n")

	for i, info := range b.backups {
		line := fmt.Sprintf("%s  (%s + %s)", info.Timestamp, formatSize(info.ConfigSize), formatSize(info.HostsSize))
		if i == b.cursor {
			left.WriteString(selectedItemStyle.Render("▸ " + line))
		} else {
			left.WriteString(itemStyle.Render("  " + line))
		}
		left.WriteString("\n")
	}

	left.WriteString("\n")
	left.WriteString(WrapHelpText("↑↓ navigate • Tab config/hosts • Enter restore • Esc cancel", 40))

	var right strings.Builder
	right.WriteString(titleStyle.Render("Preview: " + string(b.previewFile)))
	right.WriteString("\n\n")

	if !b.previewLoaded {
		right.WriteString(helpDescStyle.Render("Loading..."))
	} else {
		lines := strings.Split(b.previewContent, "\n")
		previewHeight := max(5, b.height-12)

		maxScroll := max(0, len(lines)-previewHeight)
		if b.previewScroll > maxScroll {
			b.previewScroll = maxScroll
		}
		end := min(len(lines), b.previewScroll+previewHeight)

		for _, line := range lines[b.previewScroll:end] {
			right.WriteString(helpDescStyle.Render(truncate(line, 60)))
			right.WriteString("\n")
		}

		if len(lines) > previewHeight {
			right.WriteString("\n")
			right.WriteString(helpDescStyle.Render(fmt.Sprintf("Lines %d-%d of %d (Shift+↑↓ scroll)", b.previewScroll+1, end, len(lines))))
		}
	}

	leftWidth := 50
	rightWidth := max(30, b.width-leftWidth-10)

	leftPanel := lipgloss.NewStyle().
		Width(leftWidth).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorAccent).
		Padding(1, 2).
		Render(left.String())

	rightPanel := lipgloss.NewStyle().
		Width(rightWidth).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(1, 2).
		Render(right.String())

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, " ", rightPanel)
}

func (b *BackupPicker) restoreView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Restore Backup"))
	sb.WriteString("\n\n")
	sb.WriteString(errorMsgStyle.Render(fmt.Sprintf("Restore the nginx config and hosts file from '%s'?", b.Selected())))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("The current files are backed up first. nginx is tested and reloaded."))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("y confirm • n/Esc cancel"))

	return dialogStyle.Render(sb.String())
}

// formatSize formats bytes to human readable format.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
