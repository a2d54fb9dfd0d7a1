// Package dnsflush flushes the system resolver cache after the hosts file changes.
package dnsflush

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
)

// RunFunc runs one command.
type RunFunc func(ctx context.Context, name string, args ...string) error

// LookPathFunc reports whether a command is installed.
type LookPathFunc func(name string) bool

// Flusher flushes the DNS cache using a configured method.
type Flusher struct {
	method   config.FlushMethod
	goos     string
	run      RunFunc
	lookPath LookPathFunc
}

// New creates a flusher for the current operating system.
func New(method config.FlushMethod) *Flusher {
	return &Flusher{
		method:   method,
		goos:     runtime.GOOS,
		run:      runCommand,
		lookPath: installed,
	}
}

// NewWithRunner creates a flusher with a fixed OS and injected commands (for testing).
func NewWithRunner(method config.FlushMethod, goos string, run RunFunc, lookPath LookPathFunc) *Flusher {
	return &Flusher{method: method, goos: goos, run: run, lookPath: lookPath}
}

// Flush flushes the DNS cache. Method "none" does nothing.
func (f *Flusher) Flush(ctx context.Context) error {
	method := f.method
	if method == config.FlushMethodNone {
		return nil
	}
	if method == config.FlushMethodAuto || method == "" {
		method = f.detectMethod()
	}

	switch f.goos {
	case "darwin":
		return f.flushDarwin(ctx, method)
	case "linux":
		return f.flushLinux(ctx, method)
	default:
		return fmt.Errorf("unsupported operating system: %s", f.goos)
	}
}

func (f *Flusher) detectMethod() config.FlushMethod {
	switch f.goos {
	case "darwin":
		return config.FlushMethodBoth
	case "linux":
		if f.lookPath("resolvectl") || f.lookPath("systemd-resolve") {
			return config.FlushMethodSystemd
		}
		if f.lookPath("nscd") {
			return config.FlushMethodNscd
		}
	}
	return config.FlushMethodAuto
}

func (f *Flusher) flushDarwin(ctx context.Context, method config.FlushMethod) error {
	switch method {
	case config.FlushMethodDscacheutil:
		if err := f.run(ctx, "dscacheutil", "-flushcache"); err != nil {
			return fmt.Errorf("dscacheutil failed: %w", err)
		}
	case config.FlushMethodKillall:
		if err := f.run(ctx, "killall", "-HUP", "mDNSResponder"); err != nil {
			return fmt.Errorf("killall mDNSResponder failed: %w", err)
		}
	case config.FlushMethodBoth:
		errDs := f.run(ctx, "dscacheutil", "-flushcache")
		errKill := f.run(ctx, "killall", "-HUP", "mDNSResponder")
		if errDs != nil && errKill != nil {
			return fmt.Errorf("all DNS flush methods failed: %v, %v", errDs, errKill)
		}
	default:
		_ = f.run(ctx, "dscacheutil", "-flushcache")
		_ = f.run(ctx, "killall", "-HUP", "mDNSResponder")
	}
	return nil
}

func (f *Flusher) flushLinux(ctx context.Context, method config.FlushMethod) error {
	switch method {
	case config.FlushMethodSystemd:
		if err := f.run(ctx, "resolvectl", "flush-caches"); err != nil {
			if err := f.run(ctx, "systemd-resolve", "--flush-caches"); err != nil {
				return fmt.Errorf("systemd DNS flush failed: %w", err)
			}
		}
	case config.FlushMethodNscd:
		if err := f.run(ctx, "nscd", "-i", "hosts"); err != nil {
			if err := f.run(ctx, "service", "nscd", "restart"); err != nil {
				return fmt.Errorf("nscd flush failed: %w", err)
			}
		}
	default:
		// Most resolvers read /etc/hosts directly, so a failed flush is fine.
		for _, c := range [][]string{
			{"resolvectl", "flush-caches"},
			{"systemd-resolve", "--flush-caches"},
			{"nscd", "-i", "hosts"},
		} {
			if f.run(ctx, c[0], c[1:]...) == nil {
				return nil
			}
		}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - fixed DNS flush utilities
	return cmd.Run()
}

func installed(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
