package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
)

func (a *app) setupCmd() *cobra.Command {
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create or edit the settings file",
		Long: `Walks through the settings and writes them to the settings file.

Existing values are offered as defaults. With --non-interactive the current
settings, or the built-in defaults, are written without prompting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := config.NewManager(a.configPath)
			if err := m.LoadOrDefault(); err != nil {
				return err
			}
			s := *m.Get()

			if !nonInteractive {
				if err := runSetupForm(&s); err != nil {
					return err
				}
			}

			if err := config.ValidateSettings(&s); err != nil {
				return err
			}
			m.Set(&s)
			if err := m.Save(); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "✓ Settings written to %s\n", a.configPath)
			resolved := s.Resolved()
			for _, err := range config.CheckPaths(&resolved) {
				fmt.Fprintf(a.out, "  warning: %v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Write current or default settings without prompting")
	return cmd
}

// runSetupForm prompts for every setting, starting from the values in s.
func runSetupForm(s *config.Settings) error {
	port := strconv.Itoa(s.LocalPort)
	timeout := s.CommandTimeout.String()
	escalation := string(s.Escalation)
	flush := string(s.FlushDNS)
	if escalation == "" {
		escalation = string(config.EscalationAuto)
	}
	if flush == "" {
		flush = string(config.FlushMethodAuto)
	}

	required := func(v string) error {
		if v == "" {
			return errors.New("required")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("nginx config").
				Description("The nginx.conf holding the http block").
				Value(&s.NginxConf).
				Validate(required),
			huh.NewInput().
				Title("Hosts file").
				Value(&s.HostsFile).
				Validate(required),
			huh.NewInput().
				Title("nginx binary").
				Value(&s.NginxBin).
				Validate(required),
			huh.NewInput().
				Title("Backup directory").
				Value(&s.BackupDir).
				Validate(required),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Default local port").
				Value(&port).
				Validate(func(v string) error {
					n, err := strconv.Atoi(v)
					if err != nil {
						return errors.New("must be a number")
					}
					return config.ValidatePort(n)
				}),
			huh.NewInput().
				Title("Command timeout").
				Description("How long nginx -t and reload may take, e.g. 30s").
				Value(&timeout).
				Validate(func(v string) error {
					d, err := time.ParseDuration(v)
					if err != nil {
						return err
					}
					if d <= 0 {
						return errors.New("must be positive")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Privilege escalation").
				Options(
					huh.NewOption("auto (sudo when not root)", string(config.EscalationAuto)),
					huh.NewOption("direct", string(config.EscalationDirect)),
					huh.NewOption("sudo", string(config.EscalationSudo)),
				).
				Value(&escalation),
			huh.NewSelect[string]().
				Title("DNS cache flush").
				Options(
					huh.NewOption("auto", string(config.FlushMethodAuto)),
					huh.NewOption("none", string(config.FlushMethodNone)),
					huh.NewOption("dscacheutil", string(config.FlushMethodDscacheutil)),
					huh.NewOption("killall mDNSResponder", string(config.FlushMethodKillall)),
					huh.NewOption("dscacheutil + killall", string(config.FlushMethodBoth)),
					huh.NewOption("systemd-resolve", string(config.FlushMethodSystemd)),
					huh.NewOption("nscd", string(config.FlushMethodNscd)),
				).
				Value(&flush),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	s.LocalPort = n
	s.CommandTimeout = d
	s.Escalation = config.Escalation(escalation)
	s.FlushDNS = config.FlushMethod(flush)
	return nil
}
