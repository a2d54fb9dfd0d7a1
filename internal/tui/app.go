// Package tui provides the main Bubble Tea application.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/version"
)

// Backend performs proxy operations. *client.Client talks to the daemon and
// *client.Local runs them in process.
type Backend interface {
	Connect() error
	Close() error
	List() (*engine.Result, error)
	Add(host string, port int) (*engine.Result, error)
	Remove(host string) (*engine.Result, error)
	Restore(timestamp string) (*engine.Result, error)
	Backups() ([]backup.Info, error)
	BackupContent(timestamp string, file backup.File) (string, error)
}

// ViewMode represents the current view mode.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewForm
	ViewBackups
	ViewHelp
	ViewSearch
	ViewConfirmRemove
)

// Model is the main Bubble Tea model.
type Model struct {
	backend   Backend
	connected bool

	// Views
	mode         ViewMode
	list         *ListView
	form         *Form
	backupPicker *BackupPicker
	searchInput  textinput.Model

	// State
	width             int
	height            int
	message           string
	messageStyle      string // "error" or "success"
	messageTime       time.Time
	searchTerm        string
	pendingRemoveHost string
	inSync            bool

	// Update notification
	updateAvailable bool
	updateVersion   string
	updateURL       string

	version     string
	githubOwner string
	githubRepo  string
}

// Message types
type (
	connectMsg struct{ err error }
	refreshMsg struct {
		res *engine.Result
		err error
	}
	// opMsg reports a finished add, remove or restore.
	opMsg struct {
		op   string
		host string
		res  *engine.Result
		err  error
	}
	refreshBackupsMsg struct {
		backups []backup.Info
		err     error
	}
	backupContentMsg struct {
		timestamp string
		file      backup.File
		content   string
		err       error
	}
	clearMsgMsg struct{}
	tickMsg     struct{}
	updateMsg   struct {
		version string
		url     string
	}
)

// NewModel creates a new TUI model. defaultPort pre-fills the add form.
func NewModel(backend Backend, defaultPort int) *Model {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search..."
	searchInput.CharLimit = 100
	searchInput.Width = 50

	return &Model{
		backend:      backend,
		list:         NewListView(),
		form:         NewForm(defaultPort),
		backupPicker: NewBackupPicker(),
		searchInput:  searchInput,
		mode:         ViewList,
		inSync:       true,
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.connect(),
		tea.SetWindowTitle("lolcaproxy"),
		m.tick(),
		m.checkForUpdate(),
	)
}

func (m *Model) connect() tea.Cmd {
	return func() tea.Msg {
		return connectMsg{err: m.backend.Connect()}
	}
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		res, err := m.backend.List()
		return refreshMsg{res: res, err: err}
	}
}

func (m *Model) addProxy(host string, port int) tea.Cmd {
	return func() tea.Msg {
		res, err := m.backend.Add(host, port)
		return opMsg{op: engine.OpAdd, host: host, res: res, err: err}
	}
}

func (m *Model) removeProxy(host string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.backend.Remove(host)
		return opMsg{op: engine.OpRemove, host: host, res: res, err: err}
	}
}

func (m *Model) restore(timestamp string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.backend.Restore(timestamp)
		return opMsg{op: engine.OpRestore, res: res, err: err}
	}
}

func (m *Model) refreshBackups() tea.Cmd {
	return func() tea.Msg {
		backups, err := m.backend.Backups()
		return refreshBackupsMsg{backups: backups, err: err}
	}
}

func (m *Model) fetchBackupContent() tea.Cmd {
	if !m.backupPicker.NeedsPreview() {
		return nil
	}
	ts, file := m.backupPicker.Selected(), m.backupPicker.PreviewFile()
	return func() tea.Msg {
		content, err := m.backend.BackupContent(ts, file)
		return backupContentMsg{timestamp: ts, file: file, content: content, err: err}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(time.Second*3, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *Model) clearMsg() tea.Cmd {
	return tea.Tick(time.Second*3, func(t time.Time) tea.Msg {
		return clearMsgMsg{}
	})
}

func (m *Model) checkForUpdate() tea.Cmd {
	if m.githubOwner == "" || m.githubRepo == "" {
		return nil
	}
	return func() tea.Msg {
		checker := version.NewChecker(m.githubOwner, m.githubRepo, m.version)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if update := checker.CheckForUpdate(ctx); update != nil {
			return updateMsg{version: update.LatestVersion, url: update.ReleaseURL}
		}
		return nil
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-10)
		m.form.SetSize(msg.Width, msg.Height)
		m.backupPicker.SetSize(msg.Width, msg.Height)
		m.searchInput.Width = min(60, msg.Width-20)

	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case connectMsg:
		if msg.err != nil {
			m.connected = false
			cmds = append(cmds, m.setError(fmt.Sprintf("Failed to connect: %v", msg.err)))
		} else {
			m.connected = true
			cmds = append(cmds, m.refresh())
		}

	case refreshMsg:
		switch {
		case msg.err != nil:
			cmds = append(cmds, m.setError(fmt.Sprintf("Refresh failed: %v", msg.err)))
			// reconnect on the next tick
			m.connected = false
			_ = m.backend.Close()
		case msg.res == nil || !msg.res.Success:
			cmds = append(cmds, m.setError(resultMessage(msg.res)))
		default:
			m.list.SetItems(ItemsFromResult(msg.res))
			m.inSync = msg.res.InSync()
		}

	case opMsg:
		cmds = append(cmds, m.handleOpResult(msg))

	case refreshBackupsMsg:
		if msg.err != nil {
			cmds = append(cmds, m.setError(fmt.Sprintf("Failed to list backups: %v", msg.err)))
			break
		}
		m.backupPicker.SetBackups(msg.backups)
		if cmd := m.fetchBackupContent(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case backupContentMsg:
		// drop previews for a selection the user already moved away from
		if msg.timestamp != m.backupPicker.Selected() || msg.file != m.backupPicker.PreviewFile() {
			break
		}
		if msg.err != nil {
			m.backupPicker.SetPreviewContent(fmt.Sprintf("Failed to read backup: %v", msg.err))
		} else {
			m.backupPicker.SetPreviewContent(msg.content)
		}

	case clearMsgMsg:
		if time.Since(m.messageTime) >= time.Second*3 {
			m.message = ""
		}

	case tickMsg:
		if !m.connected {
			cmds = append(cmds, m.connect())
		} else if m.mode == ViewList {
			// pick up edits made outside lolcaproxy
			cmds = append(cmds, m.refresh())
		}
		cmds = append(cmds, m.tick())

	case updateMsg:
		if msg.version != "" {
			m.updateAvailable = true
			m.updateVersion = msg.version
			m.updateURL = msg.url
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleOpResult(msg opMsg) tea.Cmd {
	if msg.op == engine.OpRestore {
		m.backupPicker.Cancel()
	}
	m.mode = ViewList
	m.list.SetPending(msg.host, false)

	if msg.err != nil {
		m.connected = false
		_ = m.backend.Close()
		return m.setError(fmt.Sprintf("%s failed: %v", capitalize(msg.op), msg.err))
	}
	if msg.res == nil || !msg.res.Success {
		m.list.SetError(msg.host, true)
		return tea.Batch(m.setError(resultMessage(msg.res)), m.refresh())
	}
	return tea.Batch(m.setSuccess(msg.res.Message), m.refresh())
}

// resultMessage renders a failed result for the message line.
func resultMessage(res *engine.Result) string {
	if res == nil {
		return "No result returned"
	}
	text := res.Message
	if res.ErrorDetail != "" {
		text += ": " + res.ErrorDetail
	}
	if res.Code == engine.RollbackFailed {
		text = "ROLLBACK FAILED, check the nginx config and hosts file by hand. " + text
	}
	return text
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (m *Model) setError(text string) tea.Cmd {
	m.message = text
	m.messageStyle = "error"
	m.messageTime = time.Now()
	return m.clearMsg()
}

func (m *Model) setSuccess(text string) tea.Cmd {
	m.message = text
	m.messageStyle = "success"
	m.messageTime = time.Now()
	return m.clearMsg()
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}

	switch m.mode {
	case ViewList:
		return m.handleListKey(msg)
	case ViewForm:
		return m.handleFormKey(msg)
	case ViewBackups:
		return m.handleBackupKey(msg)
	case ViewHelp:
		return m.handleHelpKey(msg)
	case ViewSearch:
		return m.handleSearchKey(msg)
	case ViewConfirmRemove:
		return m.handleConfirmRemoveKey(msg)
	}

	return nil
}

func (m *Model) handleListKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "esc":
		if m.searchTerm != "" {
			m.searchTerm = ""
			m.searchInput.Reset()
		}
	case "up", "k":
		m.list.MoveUp()
	case "down", "j":
		m.list.MoveDown()
	case "n", "a":
		if !m.connected {
			return m.setError("Not connected")
		}
		m.form.Init()
		m.mode = ViewForm
		return textinput.Blink
	case "d", "x", "delete":
		item := m.list.Selected()
		if item == nil {
			return nil
		}
		if !item.Managed {
			return m.setError(fmt.Sprintf("%s has no block written by lolcaproxy", item.Host))
		}
		m.pendingRemoveHost = item.Host
		m.mode = ViewConfirmRemove
	case "b":
		m.mode = ViewBackups
		m.backupPicker.Cancel()
		return m.refreshBackups()
	case "r":
		return m.refresh()
	case "/":
		m.mode = ViewSearch
		m.searchInput.SetValue(m.searchTerm)
		m.searchInput.Focus()
		return textinput.Blink
	case "?":
		m.mode = ViewHelp
	}
	return nil
}

func (m *Model) handleFormKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.mode = ViewList
		return nil
	case "enter":
		if problem := m.form.Validate(); problem != "" {
			return m.setError(problem)
		}
		host, port, _ := m.form.Values()
		return m.addProxy(host, port)
	}
	return m.form.Update(msg)
}

func (m *Model) handleBackupKey(msg tea.KeyMsg) tea.Cmd {
	if m.backupPicker.Mode() == BackupModeConfirmRestore {
		switch msg.String() {
		case "y", "Y":
			return m.restore(m.backupPicker.Selected())
		case "n", "N", "esc":
			m.backupPicker.Cancel()
		}
		return nil
	}

	switch msg.String() {
	case "esc", "q":
		m.mode = ViewList
	case "up", "k":
		m.backupPicker.MoveUp()
		return m.fetchBackupContent()
	case "down", "j":
		m.backupPicker.MoveDown()
		return m.fetchBackupContent()
	case "tab":
		m.backupPicker.ToggleFile()
		return m.fetchBackupContent()
	case "shift+up":
		m.backupPicker.ScrollPreviewUp()
	case "shift+down":
		m.backupPicker.ScrollPreviewDown()
	case "enter":
		m.backupPicker.InitRestore()
	}
	return nil
}

func (m *Model) handleHelpKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "?", "esc", "q":
		m.mode = ViewList
	}
	return nil
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		m.searchTerm = strings.TrimSpace(m.searchInput.Value())
		m.searchInput.Blur()
		m.mode = ViewList
		return nil
	case "esc":
		m.searchInput.Reset()
		m.searchInput.Blur()
		m.mode = ViewList
		return nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return cmd
}

func (m *Model) handleConfirmRemoveKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "y", "Y":
		host := m.pendingRemoveHost
		m.pendingRemoveHost = ""
		m.mode = ViewList
		m.list.SetPending(host, true)
		return m.removeProxy(host)
	case "n", "N", "esc":
		m.pendingRemoveHost = ""
		m.mode = ViewList
	}
	return nil
}

// View renders the UI.
func (m *Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("lolcaproxy - Local Reverse Proxies"))
	if m.updateAvailable {
		sb.WriteString("  ")
		sb.WriteString(updateStyle.Render(fmt.Sprintf("Update available: v%s", m.updateVersion)))
	}
	sb.WriteString("\n\n")

	switch m.mode {
	case ViewList:
		sb.WriteString(m.list.ViewFiltered(m.searchTerm))
	case ViewForm:
		sb.WriteString(m.form.View())
	case ViewBackups:
		sb.WriteString(m.backupPicker.View())
	case ViewHelp:
		sb.WriteString(m.helpView())
	case ViewSearch:
		sb.WriteString(m.searchView())
	case ViewConfirmRemove:
		sb.WriteString(m.confirmRemoveView())
	}

	if m.message != "" {
		sb.WriteString("\n")
		if m.messageStyle == "error" {
			sb.WriteString(errorMsgStyle.Render(m.message))
		} else {
			sb.WriteString(successMsgStyle.Render(m.message))
		}
	}

	currentLines := strings.Count(sb.String(), "\n") + 1

	footerHeight := 2
	var helpBarContent string
	if m.mode == ViewList {
		helpBarContent = m.helpBar()
		footerHeight += strings.Count(helpBarContent, "\n") + 2
	}

	if remaining := m.height - currentLines - footerHeight; remaining > 0 {
		sb.WriteString(strings.Repeat("\n", remaining))
	}

	if m.mode == ViewList {
		sb.WriteString("\n")
		sb.WriteString(helpBarContent)
	}
	sb.WriteString("\n")
	sb.WriteString(m.statusBar())

	return sb.String()
}

func (m *Model) helpBar() string {
	type helpItem struct {
		key  string
		desc string
	}

	items := []helpItem{
		{"↑↓/jk", "Navigate"},
		{"n", "New"},
		{"d", "Remove"},
		{"b", "Backups"},
		{"r", "Refresh"},
		{"/", "Search"},
		{"?", "Help"},
		{"q", "Quit"},
	}

	var lines []string
	var currentLine string
	var currentWidth int

	for _, item := range items {
		rendered := helpKeyStyle.Render(item.key) + ": " + item.desc
		width := lipgloss.Width(rendered)

		newWidth := currentWidth + width
		if currentWidth > 0 {
			newWidth += 2
		}

		if m.width > 0 && newWidth > m.width && currentWidth > 0 {
			lines = append(lines, currentLine)
			currentLine = rendered
			currentWidth = width
			continue
		}
		if currentWidth > 0 {
			currentLine += "  "
		}
		currentLine += rendered
		currentWidth = newWidth
	}
	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return helpBarStyle.Render(strings.Join(lines, "\n"))
}

func (m *Model) statusBar() string {
	status := disconnectedStyle.String()
	if m.connected {
		status = connectedStyle.String()
	}

	sync := "in sync"
	if !m.inSync {
		sync = fmt.Sprintf("%d drifted", m.list.DriftCount())
	}

	return statusBarStyle.Render(fmt.Sprintf("%s  |  %d proxies  |  %d hosts  |  %s",
		status, m.list.ProxyCount(), m.list.Len(), sync))
}

func (m *Model) helpView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Help"))
	sb.WriteString("\n\n")

	help := []struct{ key, desc string }{
		{"↑/↓ or j/k", "Navigate up/down"},
		{"n", "Add a proxy"},
		{"d", "Remove the selected proxy"},
		{"b", "Browse and restore backups"},
		{"/", "Search"},
		{"r", "Refresh list"},
		{"?", "Toggle this help"},
		{"q", "Quit"},
	}

	for _, h := range help {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			helpKeyStyle.Width(15).Render(h.key),
			helpDescStyle.Render(h.desc)))
	}

	sb.WriteString("\n")
	sb.WriteString(inputLabelStyle.Render("Status:"))
	sb.WriteString("\n")

	legend := []struct {
		item ProxyItem
		desc string
	}{
		{ProxyItem{Managed: true, InConfig: true, InHosts: true}, "proxy block and hosts line present"},
		{ProxyItem{Managed: true, InConfig: true}, "hosts line missing"},
		{ProxyItem{InHosts: true}, "hosts line without a server block"},
		{ProxyItem{InConfig: true, InHosts: true}, "server block not written by lolcaproxy"},
	}
	for _, l := range legend {
		sb.WriteString(fmt.Sprintf("  %s %s\n", StatusText(l.item), helpDescStyle.Render("- "+l.desc)))
	}

	sb.WriteString("\n")
	sb.WriteString(helpDescStyle.Render("Press ? or Esc to close"))

	return dialogStyle.Render(sb.String())
}

func (m *Model) searchView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Search"))
	sb.WriteString("\n\n")
	sb.WriteString(inputFocusStyle.Render(m.searchInput.View()))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("Enter to search • Esc to cancel"))

	return dialogStyle.Render(sb.String())
}

func (m *Model) confirmRemoveView() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Confirm Remove"))
	sb.WriteString("\n\n")

	warningStyle := lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	sb.WriteString(warningStyle.Render("Remove this proxy?"))
	sb.WriteString("\n\n")

	if item := m.list.FindByHost(m.pendingRemoveHost); item != nil {
		sb.WriteString(fmt.Sprintf("  %s %s\n", Indicator(*item), helpKeyStyle.Render(item.Host)))
		sb.WriteString(fmt.Sprintf("  Port:   %s\n", helpDescStyle.Render(portString(*item))))
		sb.WriteString(fmt.Sprintf("  Status: %s\n", StatusText(*item)))
	}

	sb.WriteString("\n")
	sb.WriteString(helpDescStyle.Render("The server block and hosts line are removed and nginx is reloaded."))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("y confirm • n/Esc cancel"))

	return dialogStyle.Render(sb.String())
}

// Run starts the TUI application.
func Run(backend Backend, defaultPort int) error {
	return RunWithVersion(backend, defaultPort, "dev", "", "")
}

// RunWithVersion starts the TUI application with version info for update checking.
func RunWithVersion(backend Backend, defaultPort int, version, githubOwner, githubRepo string) error {
	m := NewModel(backend, defaultPort)
	m.version = version
	m.githubOwner = githubOwner
	m.githubRepo = githubRepo
	defer m.backend.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
