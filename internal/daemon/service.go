package daemon

import (
	"fmt"

	"github.com/kardianos/service"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
)

// ServiceName identifies the daemon to launchd and systemd.
const ServiceName = "lolcaproxy"

// ServiceConfig describes the daemon unit. The service manager starts the
// binary at exe with the daemon subcommand.
func ServiceConfig(exe string) *service.Config {
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "lolcaproxy",
		Description: "Registers local reverse proxies in nginx and the hosts file.",
		Executable:  exe,
		Arguments:   []string{"daemon", "--config", config.SystemConfigPath},
		Option: service.KeyValue{
			"KeepAlive": true,
			"RunAtLoad": true,
			"Restart":   "always",
		},
	}
}

// Program adapts a Daemon to the service manager lifecycle.
type Program struct {
	daemon *Daemon
}

// NewProgram wraps d. d may be nil for install and uninstall, which never
// start the program.
func NewProgram(d *Daemon) *Program {
	return &Program{daemon: d}
}

// Start must not block.
func (p *Program) Start(s service.Service) error {
	if p.daemon == nil {
		return fmt.Errorf("no daemon configured")
	}
	return p.daemon.Start()
}

// Stop shuts the daemon down.
func (p *Program) Stop(s service.Service) error {
	if p.daemon == nil {
		return nil
	}
	return p.daemon.Shutdown()
}
