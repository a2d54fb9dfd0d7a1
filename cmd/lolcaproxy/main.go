// Package main provides the entry point for the lolcaproxy application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/client"
	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/logging"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
	"github.com/lukaszraczylo/lolcaproxy/internal/protocol"
	"github.com/lukaszraczylo/lolcaproxy/internal/tui"
)

// appVersion is set at compile time via ldflags
var appVersion = "dev"

// remoteTimeout covers an nginx test plus a reload on the daemon side.
const remoteTimeout = 2*oracle.DefaultTimeout + client.DefaultTimeout

// Exit codes.
const (
	exitOK             = 0
	exitFailure        = 1
	exitRollbackFailed = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(errOut, exit.msg)
		}
		return exit.code
	}

	fmt.Fprintf(errOut, "Error: %v\n", err)
	return exitFailure
}

// exitError ends the process with a specific code. The message, if any, has
// not been printed yet.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// backend is what the proxy commands need. *client.Client and *client.Local
// both provide it.
type backend interface {
	tui.Backend
	History(limit int) ([]journal.Record, error)
}

// app carries the global flags shared by every command.
type app struct {
	configPath string
	socketPath string
	remote     bool
	logLevel   string
	logFormat  string

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "lolcaproxy",
		Short: "Register local reverse proxies in nginx and the hosts file",
		Long: `lolcaproxy maps a local host name to a port on 127.0.0.1.

Each proxy is an nginx server block plus a 127.0.0.1 line in the hosts file.
Both files are backed up before every change, nginx validates the result and
a rejected config is rolled back.

Without a subcommand the interactive terminal UI starts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultConfigPath(), "Path to settings file")
	pf.StringVar(&a.socketPath, "socket", protocol.SocketPath, "Daemon socket path")
	pf.BoolVar(&a.remote, "remote", false, "Route operations through the daemon")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides settings)")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: text, json (overrides settings)")

	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(
		a.addCmd(),
		a.removeCmd(),
		a.listCmd(),
		a.statusCmd(),
		a.backupsCmd(),
		a.historyCmd(),
		a.setupCmd(),
		a.daemonCmd(),
		a.installCmd(),
		a.uninstallCmd(),
		a.tuiCmd(),
		a.versionCmd(),
	)

	return root
}

// settings loads the settings file, using defaults when it does not exist.
func (a *app) settings() (*config.Settings, error) {
	m := config.NewManager(a.configPath)
	if err := m.LoadOrDefault(); err != nil {
		return nil, err
	}
	s := m.Get().Resolved()
	return &s, nil
}

// logger builds the process logger. Flags win over settings.
func (a *app) logger(s *config.Settings) *slog.Logger {
	level, format := a.logLevel, a.logFormat
	if s != nil {
		if level == "" {
			level = s.Log.Level
		}
		if format == "" {
			format = s.Log.Format
		}
	}
	if level == "" {
		level = "warn"
	}
	return logging.FromStrings(level, format, a.errOut)
}

// open returns the backend selected by --remote and a function releasing it.
func (a *app) open(ctx context.Context) (backend, func(), error) {
	if a.remote {
		c := client.NewWithTimeout(a.socketPath, remoteTimeout)
		if err := c.Connect(); err != nil {
			return nil, nil, fmt.Errorf("%w (is the daemon installed? run 'sudo lolcaproxy install')", err)
		}
		return c, func() { _ = c.Close() }, nil
	}

	s, err := a.settings()
	if err != nil {
		return nil, nil, err
	}
	return a.openLocal(ctx, s)
}

func (a *app) openLocal(ctx context.Context, s *config.Settings) (*client.Local, func(), error) {
	logger := a.logger(s)

	var (
		rec  engine.Recorder
		hist client.History
	)
	j, err := journal.Open(s.JournalPath)
	if err != nil {
		logger.Warn("journal disabled", "path", s.JournalPath, "error", err)
	} else {
		rec, hist = j, j
	}
	release := func() {
		if j != nil {
			_ = j.Close()
		}
	}

	eng, err := engine.FromSettings(s, rec, logger)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to load settings from %s: %w", a.configPath, err)
	}

	return client.NewLocal(ctx, eng, hist), release, nil
}

// commandContext falls back to Background for commands run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// resultError maps a failed result onto the process exit code.
func resultError(res *engine.Result) error {
	switch {
	case res == nil:
		return errors.New("no result returned")
	case res.Success:
		return nil
	case res.Code == engine.RollbackFailed:
		return &exitError{code: exitRollbackFailed, msg: "The nginx config and hosts file may be inconsistent. Restore them from the backup directory by hand."}
	default:
		return &exitError{code: exitFailure}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func parseFile(name string) (backup.File, error) {
	switch backup.File(name) {
	case backup.FileConfig, backup.FileHosts:
		return backup.File(name), nil
	}
	return "", fmt.Errorf("unknown file %q (want %s or %s)", name, backup.FileConfig, backup.FileHosts)
}
