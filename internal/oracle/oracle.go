// Package oracle asks the nginx binary to validate and reload its configuration.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/lukaszraczylo/lolcaproxy/internal/logging"
)

// DefaultTimeout bounds a single nginx invocation.
const DefaultTimeout = 30 * time.Second

// ErrInvalidConfig is returned by Validate when nginx rejects the configuration.
var ErrInvalidConfig = errors.New("nginx configuration test failed")

// Oracle validates and reloads the running server.
type Oracle interface {
	Validate(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - binary path comes from the settings file
	return cmd.CombinedOutput()
}

// TestError carries the output of a rejected "nginx -t".
type TestError struct {
	Output string
}

func (e *TestError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return ErrInvalidConfig.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, out)
}

func (e *TestError) Unwrap() error {
	return ErrInvalidConfig
}

// Nginx drives an nginx binary through an InvocationPolicy.
type Nginx struct {
	bin     string
	policy  InvocationPolicy
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures Nginx.
type Option func(*Nginx)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(n *Nginx) { n.runner = r }
}

// WithTimeout bounds each invocation.
func WithTimeout(d time.Duration) Option {
	return func(n *Nginx) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Nginx) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNginx creates an oracle for the nginx binary at bin.
func NewNginx(bin string, policy InvocationPolicy, opts ...Option) *Nginx {
	n := &Nginx{
		bin:     bin,
		policy:  policy,
		runner:  ExecRunner{},
		timeout: DefaultTimeout,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Validate runs "nginx -t". The configuration is valid only when the output
// reports both a correct syntax and a successful test.
func (n *Nginx) Validate(ctx context.Context) error {
	var lastOutput []byte
	for _, c := range n.policy.Commands(n.bin, "-t") {
		out, err := n.run(ctx, c)
		if passed(out) {
			return nil
		}
		n.logger.Debug("nginx test attempt failed", "command", c.String(), "error", err)
		lastOutput = out
	}
	return &TestError{Output: string(lastOutput)}
}

// Reload runs "nginx -s reload".
func (n *Nginx) Reload(ctx context.Context) error {
	var errs []error
	for _, c := range n.policy.Commands(n.bin, "-s", "reload") {
		out, err := n.run(ctx, c)
		if err == nil {
			return nil
		}
		n.logger.Debug("nginx reload attempt failed", "command", c.String(), "error", err)
		if msg := strings.TrimSpace(string(out)); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.String(), err))
	}
	return fmt.Errorf("failed to reload nginx: %w", errors.Join(errs...))
}

func (n *Nginx) run(ctx context.Context, c Command) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.runner.Run(ctx, c.Name, c.Args...)
}

func passed(out []byte) bool {
	return bytes.Contains(out, []byte("syntax is ok")) && bytes.Contains(out, []byte("test is successful"))
}

// Mode selects how commands are escalated.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeDirect Mode = "direct"
	ModeSudo   Mode = "sudo"
)

// DefaultSudoPath is used when the policy leaves SudoPath empty.
const DefaultSudoPath = "sudo"

// Command is one concrete invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// InvocationPolicy decides which commands to try, in order, for one nginx call.
//
// A privileged process always runs nginx directly. Otherwise auto mode tries
// non-interactive sudo first and then retries directly, sudo mode only tries
// sudo and direct mode never escalates.
type InvocationPolicy struct {
	Mode         Mode
	SudoPath     string
	IsPrivileged func() bool
}

// DefaultPolicy returns an auto policy probing the effective uid.
func DefaultPolicy() InvocationPolicy {
	return InvocationPolicy{Mode: ModeAuto}
}

// Commands returns the ordered attempts for running bin with args.
func (p InvocationPolicy) Commands(bin string, args ...string) []Command {
	direct := Command{Name: bin, Args: args}
	if p.privileged() {
		return []Command{direct}
	}

	sudoPath := p.SudoPath
	if sudoPath == "" {
		sudoPath = DefaultSudoPath
	}
	sudo := Command{Name: sudoPath, Args: append([]string{"-n", bin}, args...)}

	switch p.Mode {
	case ModeDirect:
		return []Command{direct}
	case ModeSudo:
		return []Command{sudo}
	default:
		return []Command{sudo, direct}
	}
}

func (p InvocationPolicy) privileged() bool {
	if p.IsPrivileged != nil {
		return p.IsPrivileged()
	}
	return os.Geteuid() == 0
}
