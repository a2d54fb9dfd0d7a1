package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AuditLogPath is where the daemon appends its audit trail.
const AuditLogPath = "/var/log/lolcaproxy/audit.log"

// AuditEvent describes one request that touched, or tried to touch, the
// managed files.
type AuditEvent struct {
	UID     uint32
	PID     int32
	Action  string
	Host    string
	Port    int
	Backup  string
	Success bool
	Code    string
	Message string
}

// Auditor writes AuditEvents as JSON lines.
type Auditor struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// OpenAuditor opens path for appending, creating its directory if needed.
func OpenAuditor(path string) (*Auditor, error) {
	// #nosec G301 - the log directory is world readable like the rest of /var/log
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	// #nosec G302,G304 - fixed path, readable by the daemon group
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &Auditor{file: f, logger: slog.New(slog.NewJSONHandler(f, nil))}, nil
}

// Record appends ev. It is a no-op after Close.
func (a *Auditor) Record(ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return
	}

	attrs := []slog.Attr{
		slog.Any("uid", ev.UID),
		slog.Any("pid", ev.PID),
		slog.String("action", ev.Action),
		slog.Bool("success", ev.Success),
	}
	if ev.Host != "" {
		attrs = append(attrs, slog.String("host", ev.Host))
	}
	if ev.Port != 0 {
		attrs = append(attrs, slog.Int("port", ev.Port))
	}
	if ev.Backup != "" {
		attrs = append(attrs, slog.String("backup", ev.Backup))
	}
	if ev.Code != "" {
		attrs = append(attrs, slog.String("code", ev.Code))
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}

// Close closes the log file. It is safe to call more than once.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
