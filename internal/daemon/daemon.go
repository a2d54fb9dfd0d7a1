package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/logging"
)

// Daemon owns the settings watcher, the journal and the socket server.
type Daemon struct {
	server    *Server
	config    *config.Manager
	journal   *journal.Journal
	logger    *slog.Logger
	opLock    sync.Mutex
	stopCh    chan struct{}
	cleanupCh chan struct{}
	stopOnce  sync.Once
	shutOnce  sync.Once
}

// New creates a daemon from the settings file at configPath, writing a
// default file first when none exists.
func New(configPath, socketPath string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cfgManager := config.NewManager(configPath)

	if err := cfgManager.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := config.CreateDefault(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		if err := cfgManager.Load(); err != nil {
			return nil, fmt.Errorf("failed to load default config: %w", err)
		}
		logger.Info("created default settings", "path", configPath)
	}

	settings := cfgManager.Get().Resolved()

	d := &Daemon{
		config:    cfgManager,
		logger:    logger,
		stopCh:    make(chan struct{}),
		cleanupCh: make(chan struct{}),
	}

	if j, err := journal.Open(settings.JournalPath); err != nil {
		logger.Warn("journal disabled", "path", settings.JournalPath, "error", err)
	} else {
		d.journal = j
	}

	eng, err := engine.FromSettings(&settings, d.recorder(), logger, engine.WithLock(&d.opLock))
	if err != nil {
		d.closeJournal()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	d.server = NewServer(socketPath, eng, settings.NginxBin, d.history(), logger)
	return d, nil
}

// recorder and history keep a missing journal a nil interface.
func (d *Daemon) recorder() engine.Recorder {
	if d.journal == nil {
		return nil
	}
	return d.journal
}

func (d *Daemon) history() History {
	if d.journal == nil {
		return nil
	}
	return d.journal
}

// Start brings up the socket server and the settings watcher without blocking.
func (d *Daemon) Start() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("daemon must run as root")
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if err := d.config.Watch(d.onConfigChange); err != nil {
		d.logger.Warn("failed to watch config", "error", err)
	}

	go d.cleanupLoop()
	return nil
}

// Run starts the daemon and blocks until stopped.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received shutdown signal", "signal", sig.String())
	case <-d.stopCh:
		d.logger.Info("shutdown requested")
	}

	return d.Shutdown()
}

// Stop signals a running Run to return.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Shutdown releases every resource. It is safe to call more than once.
func (d *Daemon) Shutdown() error {
	var err error
	d.shutOnce.Do(func() {
		close(d.cleanupCh)
		d.config.Stop()

		if stopErr := d.server.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop server: %w", stopErr)
		}
		d.closeJournal()
	})
	return err
}

func (d *Daemon) closeJournal() {
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("failed to close journal", "error", err)
		}
	}
}

// onConfigChange rebuilds the engine so new requests use the new paths and
// escalation settings. An invalid file keeps the previous engine. The new
// engine shares the operation lock, so a request still running on the old
// one finishes before the next starts.
func (d *Daemon) onConfigChange(s *config.Settings) {
	resolved := s.Resolved()
	eng, err := engine.FromSettings(&resolved, d.recorder(), d.logger, engine.WithLock(&d.opLock))
	if err != nil {
		d.logger.Warn("ignoring settings change", "error", err)
		return
	}
	d.server.SetEngine(eng, resolved.NginxBin)
	d.logger.Info("settings reloaded", "nginxConf", resolved.NginxConf, "hostsFile", resolved.HostsFile)
}

func (d *Daemon) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.server.rateLimiter.Sweep()
		case <-d.cleanupCh:
			return
		}
	}
}
