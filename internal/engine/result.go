package engine

import (
	"errors"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/nginx"
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	InvalidInput           ErrorKind = "invalid_input"
	DuplicateEntry         ErrorKind = "duplicate_entry"
	NotFound               ErrorKind = "not_found"
	NoInsertionPoint       ErrorKind = "no_insertion_point"
	BackupFailed           ErrorKind = "backup_failed"
	ServerValidationFailed ErrorKind = "server_validation_failed"
	ReloadFailed           ErrorKind = "reload_failed"
	IOError                ErrorKind = "io_error"
	RollbackFailed         ErrorKind = "rollback_failed"
)

// ErrRollbackFailed is returned alongside a RollbackFailed result. The managed
// files can no longer be assumed consistent.
var ErrRollbackFailed = errors.New("rollback failed")

// Data carries operation details.
type Data struct {
	Host     string           `json:"host,omitempty"`
	Port     int              `json:"port,omitempty"`
	Snapshot *backup.Snapshot `json:"snapshot,omitempty"`

	ConfigEntries []string           `json:"configEntries,omitempty"`
	HostsEntries  []string           `json:"hostsEntries,omitempty"`
	Proxies       []nginx.ProxyEntry `json:"proxies,omitempty"`
	OnlyInConfig  []string           `json:"onlyInConfig,omitempty"`
	OnlyInHosts   []string           `json:"onlyInHosts,omitempty"`
}

// Result is the outcome of every engine operation.
type Result struct {
	Success     bool      `json:"success"`
	Code        ErrorKind `json:"code,omitempty"`
	Message     string    `json:"message"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
	Data        *Data     `json:"data,omitempty"`
}

// InSync reports whether a list result found both files in agreement.
func (r *Result) InSync() bool {
	return r.Data == nil || (len(r.Data.OnlyInConfig) == 0 && len(r.Data.OnlyInHosts) == 0)
}

func ok(message string, data *Data) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func fail(kind ErrorKind, message string, err error) *Result {
	r := &Result{Code: kind, Message: message}
	if err != nil {
		r.ErrorDetail = err.Error()
	}
	return r
}

func (r *Result) with(data *Data) *Result {
	r.Data = data
	return r
}

// drift returns the names present only in a and only in b.
func drift(a, b []string) (onlyA, onlyB []string) {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	for _, s := range a {
		if !inB[s] {
			onlyA = append(onlyA, s)
		}
	}
	for _, s := range b {
		if !inA[s] {
			onlyB = append(onlyB, s)
		}
	}
	return onlyA, onlyB
}
