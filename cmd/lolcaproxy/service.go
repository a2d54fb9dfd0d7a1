package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/lolcaproxy/internal/client"
	"github.com/lukaszraczylo/lolcaproxy/internal/daemon"
	"github.com/lukaszraczylo/lolcaproxy/internal/installer"
	"github.com/lukaszraczylo/lolcaproxy/internal/tui"
	"github.com/lukaszraczylo/lolcaproxy/internal/version"
)

func (a *app) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the privileged daemon (started by launchd or systemd)",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}

			daemon.Version = appVersion
			d, err := daemon.New(a.configPath, a.socketPath, a.logger(s))
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			if service.Interactive() {
				return d.Run()
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to get executable path: %w", err)
			}
			svc, err := service.New(daemon.NewProgram(d), daemon.ServiceConfig(exe))
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			return svc.Run()
		},
	}
}

func (a *app) installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the daemon as a system service (requires sudo)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := installer.New(a.out)
			if err != nil {
				return err
			}
			return inst.Install()
		},
	}
}

func (a *app) uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the daemon service (requires sudo)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := installer.New(a.out)
			if err != nil {
				return err
			}
			return inst.Uninstall()
		},
	}
}

func (a *app) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(commandContext(cmd))
		},
	}
}

func (a *app) runTUI(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := a.settings()
	if err != nil {
		return err
	}

	var backend tui.Backend
	if a.remote {
		if err := installer.CheckInstallation(a.socketPath); err != nil {
			return fmt.Errorf("%w\n\nTo install, run: sudo %s install", err, filepath.Base(os.Args[0]))
		}
		backend = client.NewWithTimeout(a.socketPath, remoteTimeout)
	} else {
		l, release, err := a.openLocal(ctx, s)
		if err != nil {
			return err
		}
		defer release()
		backend = l
	}

	return tui.RunWithVersion(backend, s.LocalPort, appVersion, version.Owner, version.Repo)
}

func (a *app) versionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "lolcaproxy version %s\n", appVersion)
			if !check {
				return nil
			}

			ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
			defer cancel()

			info, err := version.NewChecker(version.Owner, version.Repo, appVersion).Check(ctx)
			if err != nil {
				return fmt.Errorf("failed to check for updates: %w", err)
			}
			if info == nil {
				fmt.Fprintln(a.out, "You are running the latest version.")
				return nil
			}
			fmt.Fprintln(a.out, info.FormatUpdateMessage())
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
