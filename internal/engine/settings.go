package engine

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/dnsflush"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
)

// PolicyFor maps the escalation setting onto an oracle invocation policy.
func PolicyFor(s *config.Settings) oracle.InvocationPolicy {
	p := oracle.DefaultPolicy()
	switch s.Escalation {
	case config.EscalationDirect:
		p.Mode = oracle.ModeDirect
	case config.EscalationSudo:
		p.Mode = oracle.ModeSudo
	}
	p.SudoPath = s.SudoPath
	return p
}

// FromSettings wires an engine against the real filesystem and nginx binary
// described by s. Pass a nil interface, not a typed nil, to run without a
// journal.
func FromSettings(s *config.Settings, rec Recorder, logger *slog.Logger, extra ...Option) (*Engine, error) {
	resolved := s.Resolved()
	if err := config.ValidateSettings(&resolved); err != nil {
		return nil, err
	}

	nginx := oracle.NewNginx(resolved.NginxBin, PolicyFor(&resolved),
		oracle.WithTimeout(resolved.CommandTimeout),
		oracle.WithLogger(logger),
	)

	opts := Options{
		Fs:        afero.NewOsFs(),
		Paths:     Paths{Config: resolved.NginxConf, Hosts: resolved.HostsFile},
		BackupDir: resolved.BackupDir,
		Oracle:    nginx,
		Flusher:   dnsflush.New(resolved.FlushDNS),
		Recorder:  rec,
		Logger:    logger,
	}
	for _, o := range extra {
		o(&opts)
	}
	return New(opts)
}
