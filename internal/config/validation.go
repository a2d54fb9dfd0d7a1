package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// hostNameRegex accepts one or more dot-separated labels of 1-63
// alphanumeric characters with internal hyphens.
var hostNameRegex = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

const (
	minHostNameLength = 3
	maxHostNameLength = 253

	MinPort = 1
	MaxPort = 65535
)

// Validation reasons. A *ValidationError unwraps to one of these.
var (
	ErrHostEmpty      = errors.New("URL is required")
	ErrHostTooShort   = errors.New("URL must be at least 3 characters long")
	ErrHostTooLong    = errors.New("URL must be less than 253 characters")
	ErrHostBadFormat  = errors.New("Invalid URL format")
	ErrPortOutOfRange = errors.New("Port must be a number between 1 and 65535")
)

// ValidationError represents an input or settings validation error.
type ValidationError struct {
	Field   string
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

func reasonError(field string, reason error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Message: reason.Error()}
}

// ValidateHostName checks the syntax of a proxy host name.
func ValidateHostName(host string) error {
	switch {
	case len(host) == 0:
		return reasonError("host", ErrHostEmpty)
	case len(host) < minHostNameLength:
		return reasonError("host", ErrHostTooShort)
	case len(host) > maxHostNameLength:
		return reasonError("host", ErrHostTooLong)
	case !hostNameRegex.MatchString(host):
		return reasonError("host", ErrHostBadFormat)
	}
	return nil
}

// ValidatePort checks that n is a usable TCP port.
func ValidatePort(n int) error {
	if n < MinPort || n > MaxPort {
		return reasonError("port", ErrPortOutOfRange)
	}
	return nil
}

// ValidateSettings validates settings values without touching the filesystem.
func ValidateSettings(s *Settings) error {
	if s == nil {
		return &ValidationError{Field: "settings", Message: "settings is nil"}
	}

	required := map[string]string{
		"nginxConf": s.NginxConf,
		"hostsFile": s.HostsFile,
		"nginxBin":  s.NginxBin,
		"backupDir": s.BackupDir,
	}
	for _, field := range []string{"nginxConf", "hostsFile", "nginxBin", "backupDir"} {
		if required[field] == "" {
			return &ValidationError{Field: field, Message: "path is required"}
		}
	}

	if err := ValidatePort(s.LocalPort); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Field = "localPort"
		}
		return err
	}

	switch s.Escalation {
	case EscalationAuto, EscalationDirect, EscalationSudo, "":
	default:
		return &ValidationError{
			Field:   "escalation",
			Message: fmt.Sprintf("invalid escalation mode: %s", s.Escalation),
		}
	}

	switch s.FlushDNS {
	case FlushMethodAuto, FlushMethodNone, FlushMethodDscacheutil, FlushMethodKillall,
		FlushMethodBoth, FlushMethodSystemd, FlushMethodNscd, "":
	default:
		return &ValidationError{
			Field:   "flushDNS",
			Message: fmt.Sprintf("invalid flush method: %s", s.FlushDNS),
		}
	}

	if s.CommandTimeout < 0 {
		return &ValidationError{Field: "commandTimeout", Message: "must not be negative"}
	}

	return nil
}

// CheckPaths verifies that the managed files and the nginx binary exist.
// It returns one error per missing path.
func CheckPaths(s *Settings) []error {
	var errs []error
	for _, p := range []struct {
		field string
		path  string
	}{
		{"nginxConf", s.NginxConf},
		{"hostsFile", s.HostsFile},
		{"nginxBin", s.NginxBin},
	} {
		if _, err := os.Stat(p.path); err != nil {
			errs = append(errs, &ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("%s not found", filepath.Clean(p.path)),
			})
		}
	}
	return errs
}
