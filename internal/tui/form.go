// Package tui provides the form component for adding proxies.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
)

// FormField represents a form field index.
type FormField int

const (
	FieldHost FormField = iota
	FieldPort
	FieldCount
)

// Form handles the add proxy form.
type Form struct {
	fields      []textinput.Model
	focus       FormField
	defaultPort int
	width       int
	height      int
}

// NewForm creates a new form. defaultPort pre-fills the port field.
func NewForm(defaultPort int) *Form {
	fields := make([]textinput.Model, FieldCount)

	fields[FieldHost] = textinput.New()
	fields[FieldHost].Placeholder = "myapp.local"
	fields[FieldHost].CharLimit = 253

	fields[FieldPort] = textinput.New()
	fields[FieldPort].Placeholder = strconv.Itoa(defaultPort)
	fields[FieldPort].CharLimit = 5
	fields[FieldPort].Validate = func(s string) error {
		for _, r := range s {
			if r < '0' || r > '9' {
				return fmt.Errorf("digits only")
			}
		}
		return nil
	}

	return &Form{
		fields:      fields,
		focus:       FieldHost,
		defaultPort: defaultPort,
	}
}

// Init resets the form for a new entry.
func (f *Form) Init() {
	for i := range f.fields {
		f.fields[i].Reset()
		f.fields[i].Blur()
	}

	if f.defaultPort > 0 {
		f.fields[FieldPort].SetValue(strconv.Itoa(f.defaultPort))
	}
	f.focus = FieldHost
	f.fields[FieldHost].Focus()
}

// SetSize sets the form dimensions.
func (f *Form) SetSize(width, height int) {
	f.width = width
	f.height = height

	inputWidth := min(50, width-10)
	for i := range f.fields {
		f.fields[i].Width = inputWidth
	}
}

// Update handles input events.
func (f *Form) Update(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab", "down":
			f.nextField()
			return nil
		case "shift+tab", "up":
			f.prevField()
			return nil
		}
	}

	var cmd tea.Cmd
	f.fields[f.focus], cmd = f.fields[f.focus].Update(msg)
	return cmd
}

func (f *Form) nextField() {
	f.fields[f.focus].Blur()
	f.focus = (f.focus + 1) % FieldCount
	f.fields[f.focus].Focus()
}

func (f *Form) prevField() {
	f.fields[f.focus].Blur()
	f.focus = (f.focus - 1 + FieldCount) % FieldCount
	f.fields[f.focus].Focus()
}

// Values returns the entered host and port. An empty port field yields the
// default port.
func (f *Form) Values() (host string, port int, err error) {
	host = strings.TrimSpace(f.fields[FieldHost].Value())

	raw := strings.TrimSpace(f.fields[FieldPort].Value())
	if raw == "" {
		return host, f.defaultPort, nil
	}

	port, err = strconv.Atoi(raw)
	if err != nil {
		return host, 0, config.ErrPortOutOfRange
	}
	return host, port, nil
}

// Validate checks the form values with the same rules the engine applies
// and returns a message for the user, or "" when valid.
func (f *Form) Validate() string {
	host, port, err := f.Values()
	if err != nil {
		return err.Error()
	}
	if err := config.ValidateHostName(host); err != nil {
		return err.Error()
	}
	if err := config.ValidatePort(port); err != nil {
		return err.Error()
	}
	return ""
}

// View renders the form.
func (f *Form) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Add Proxy"))
	sb.WriteString("\n\n")

	labels := []string{"Host name:", "Local port:"}
	for i, label := range labels {
		sb.WriteString(inputLabelStyle.Render(label))
		sb.WriteString("\n")
		style := inputStyle
		if f.focus == FormField(i) {
			style = inputFocusStyle
		}
		sb.WriteString(style.Render(f.fields[i].View()))
		sb.WriteString("\n\n")
	}

	sb.WriteString(helpDescStyle.Render(fmt.Sprintf("Requests to the host are proxied to 127.0.0.1:<port>. Empty port uses %d.", f.defaultPort)))
	sb.WriteString("\n\n")
	sb.WriteString(helpDescStyle.Render("Tab/↓ next • Shift+Tab/↑ prev • Enter save • Esc cancel"))

	return dialogStyle.Render(sb.String())
}
