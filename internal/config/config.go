// Package config handles YAML settings parsing, validation and hot-reload.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SystemConfigPath is the settings file used by the daemon.
const SystemConfigPath = "/etc/lolcaproxy/config.yaml"

// DefaultConfigPath returns the per-user settings file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".reverse-proxy-manager-config")
}

// Escalation controls how nginx commands are run.
type Escalation string

const (
	EscalationAuto   Escalation = "auto"
	EscalationDirect Escalation = "direct"
	EscalationSudo   Escalation = "sudo"
)

// FlushMethod defines DNS cache flush methods.
type FlushMethod string

const (
	FlushMethodAuto        FlushMethod = "auto"
	FlushMethodNone        FlushMethod = "none"
	FlushMethodDscacheutil FlushMethod = "dscacheutil"
	FlushMethodKillall     FlushMethod = "killall"
	FlushMethodBoth        FlushMethod = "both"
	FlushMethodSystemd     FlushMethod = "systemd"
	FlushMethodNscd        FlushMethod = "nscd"
)

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Settings holds everything needed to manage proxy entries on this machine.
type Settings struct {
	NginxConf      string        `yaml:"nginxConf"`
	HostsFile      string        `yaml:"hostsFile"`
	NginxBin       string        `yaml:"nginxBin"`
	LocalPort      int           `yaml:"localPort"`
	BackupDir      string        `yaml:"backupDir"`
	Escalation     Escalation    `yaml:"escalation"`
	SudoPath       string        `yaml:"sudoPath,omitempty"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	FlushDNS       FlushMethod   `yaml:"flushDNS"`
	JournalPath    string        `yaml:"journalPath,omitempty"`
	Log            LogSettings   `yaml:"log"`
}

// Defaults returns settings for a Homebrew nginx install.
func Defaults() Settings {
	return Settings{
		NginxConf:      "/opt/homebrew/etc/nginx/nginx.conf",
		HostsFile:      "/private/etc/hosts",
		NginxBin:       "/opt/homebrew/bin/nginx",
		LocalPort:      8004,
		BackupDir:      "~/.proxy-backups",
		Escalation:     EscalationAuto,
		CommandTimeout: 30 * time.Second,
		FlushDNS:       FlushMethodAuto,
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolved returns a copy with "~" expanded in every path.
func (s Settings) Resolved() Settings {
	s.NginxConf = ExpandHome(s.NginxConf)
	s.HostsFile = ExpandHome(s.HostsFile)
	s.NginxBin = ExpandHome(s.NginxBin)
	s.BackupDir = ExpandHome(s.BackupDir)
	s.JournalPath = ExpandHome(s.JournalPath)
	if s.JournalPath == "" && s.BackupDir != "" {
		s.JournalPath = filepath.Join(s.BackupDir, "journal.db")
	}
	return s
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Manager handles settings loading and watching.
type Manager struct {
	path     string
	settings *Settings
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Settings)
	stopCh   chan struct{}
}

// NewManager creates a new settings manager.
func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads and parses the settings file. Missing keys keep their defaults.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Unknown keys are rejected so a typo cannot silently fall back to a
	// default path.
	s := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateSettings(&s); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.settings = &s
	m.mu.Unlock()

	return nil
}

// LoadOrDefault loads the settings file, falling back to defaults when it
// does not exist yet.
func (m *Manager) LoadOrDefault() error {
	err := m.Load()
	if err == nil {
		return nil
	}
	if _, statErr := os.Stat(m.path); os.IsNotExist(statErr) {
		s := Defaults()
		m.Set(&s)
		return nil
	}
	return err
}

// Get returns the current settings.
func (m *Manager) Get() *Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Set replaces the in-memory settings.
func (m *Manager) Set(s *Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

// Watch starts watching the settings file for changes.
func (m *Manager) Watch(onChange func(*Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.watcher = watcher
	m.onChange = onChange

	go m.watchLoop()

	if err := watcher.Add(m.path); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := m.Load(); err == nil && m.onChange != nil {
					m.onChange(m.Get())
				}
			}
		case <-m.watcher.Errors:
		case <-m.stopCh:
			return
		}
	}
}

// Stop stops watching the settings file.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// Save validates and writes the current settings to the file.
func (m *Manager) Save() error {
	m.mu.RLock()
	s := m.settings
	m.mu.RUnlock()

	if s == nil {
		return fmt.Errorf("no config loaded")
	}
	if err := ValidateSettings(s); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return writeSettings(m.path, s)
}

// CreateDefault creates a settings file populated with Defaults.
func CreateDefault(path string) error {
	s := Defaults()
	return writeSettings(path, &s)
}

func writeSettings(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
