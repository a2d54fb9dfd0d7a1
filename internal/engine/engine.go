// Package engine adds and removes reverse-proxy entries while keeping the
// nginx config and the hosts file consistent.
//
// Every mutation is preceded by a snapshot of both files. If nginx rejects
// the result, the snapshot is restored and the files are byte-identical to
// what they were before the call. A failed reload leaves the valid config in
// place.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/fsutil"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/logging"
	"github.com/lukaszraczylo/lolcaproxy/internal/nginx"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
)

// State is a step of an operation.
type State string

const (
	StateValidating        State = "validating"
	StateCheckingExistence State = "checking_existence"
	StateBackingUp         State = "backing_up"
	StateMutating          State = "mutating"
	StateServerValidating  State = "server_validating"
	StateCommitted         State = "committed"
	StateRollingBack       State = "rolling_back"
	StateReloading         State = "reloading"
	StateDone              State = "done"
)

// Operation names used in logs and the journal.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpList    = "list"
	OpRestore = "restore"
)

// Flusher clears resolver caches after the hosts file changed.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Recorder stores finished mutating operations.
type Recorder interface {
	Record(r journal.Record) error
}

// Paths locates the two managed files.
type Paths struct {
	Config string
	Hosts  string
}

// Options configures an Engine.
type Options struct {
	Fs        afero.Fs
	Paths     Paths
	BackupDir string
	Oracle    oracle.Oracle
	Flusher   Flusher
	Recorder  Recorder
	Logger    *slog.Logger
	Clock     func() time.Time

	// Lock serializes operations. Engines built for successive settings
	// share one so a swap never lets two writers touch the same files.
	Lock *sync.Mutex
}

// Option adjusts Options before an engine is built.
type Option func(*Options)

// WithLock makes the engine serialize on l instead of a private mutex.
func WithLock(l *sync.Mutex) Option {
	return func(o *Options) {
		o.Lock = l
	}
}

// Engine runs proxy operations one at a time.
type Engine struct {
	mu       *sync.Mutex
	fs       afero.Fs
	paths    Paths
	backups  *backup.Store
	oracle   oracle.Oracle
	flusher  Flusher
	recorder Recorder
	logger   *slog.Logger
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if opts.Paths.Config == "" || opts.Paths.Hosts == "" {
		return nil, errors.New("config and hosts paths are required")
	}
	if opts.BackupDir == "" {
		return nil, errors.New("backup directory is required")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}

	store := backup.NewStore(opts.Fs, opts.BackupDir)
	if opts.Clock != nil {
		store.SetClock(opts.Clock)
	}

	return &Engine{
		mu:       opts.Lock,
		fs:       opts.Fs,
		paths:    opts.Paths,
		backups:  store,
		oracle:   opts.Oracle,
		flusher:  opts.Flusher,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}, nil
}

// Backups exposes the snapshot store for listing and previews.
func (e *Engine) Backups() *backup.Store {
	return e.backups
}

// Paths returns the managed file paths.
func (e *Engine) Paths() Paths {
	return e.paths
}

// Add registers host as a proxy to the local port.
//
// The returned error is non-nil only when a rollback failed; every other
// outcome is described by the Result.
func (e *Engine) Add(ctx context.Context, host string, port int) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With("op", OpAdd, "host", host, "port", port)
	data := &Data{Host: host, Port: port}

	e.enter(log, StateValidating)
	if err := config.ValidateHostName(host); err != nil {
		return e.finish(OpAdd, log, invalid(err).with(data)), nil
	}
	if err := config.ValidatePort(port); err != nil {
		return e.finish(OpAdd, log, invalid(err).with(data)), nil
	}

	e.enter(log, StateCheckingExistence)
	configText, hostsText, res := e.readBoth()
	if res != nil {
		return e.finish(OpAdd, log, res.with(data)), nil
	}
	if nginx.HasEntry(configText, host) {
		return e.finish(OpAdd, log, fail(DuplicateEntry, fmt.Sprintf("Proxy entry for %s already exists", host), nil).with(data)), nil
	}

	e.enter(log, StateBackingUp)
	snap, err := e.backups.CreateSnapshot(e.paths.Config, e.paths.Hosts)
	if err != nil {
		return e.finish(OpAdd, log, fail(BackupFailed, "Failed to create backup", err).with(data)), nil
	}
	data.Snapshot = snap
	log = log.With("snapshot", snap.Timestamp)

	e.enter(log, StateMutating)
	at, found := nginx.FindInsertionPoint(configText)
	if !found {
		return e.finish(OpAdd, log, fail(NoInsertionPoint, "Could not find http block in nginx config", nil).with(data)), nil
	}

	newConfig := nginx.InsertBlock(configText, nginx.RenderServerBlock(host, uint16(port)), at)
	newHosts := nginx.AddHostsLine(hostsText, nginx.RenderHostsLine(host))
	if res, err := e.write(log, snap, newConfig, newHosts, hostsText, data); res != nil {
		return e.finish(OpAdd, log, res), err
	}

	return e.commit(ctx, OpAdd, log, snap, data, fmt.Sprintf("Successfully added proxy for %s:%d", host, port))
}

// Remove deletes the proxy entry for host.
func (e *Engine) Remove(ctx context.Context, host string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With("op", OpRemove, "host", host)
	data := &Data{Host: host}

	e.enter(log, StateCheckingExistence)
	configText, hostsText, res := e.readBoth()
	if res != nil {
		return e.finish(OpRemove, log, res.with(data)), nil
	}
	if !nginx.HasEntry(configText, host) {
		return e.finish(OpRemove, log, fail(NotFound, fmt.Sprintf("No proxy entry found for %s", host), nil).with(data)), nil
	}
	newConfig := nginx.RemoveBlockFor(configText, host)
	if newConfig == configText {
		return e.finish(OpRemove, log, fail(NotFound, fmt.Sprintf("Proxy entry for %s was not created by this tool", host), nil).with(data)), nil
	}
	for _, p := range nginx.ListProxyEntries(configText) {
		if p.Host == host {
			data.Port = int(p.Port)
			break
		}
	}

	e.enter(log, StateBackingUp)
	snap, err := e.backups.CreateSnapshot(e.paths.Config, e.paths.Hosts)
	if err != nil {
		return e.finish(OpRemove, log, fail(BackupFailed, "Failed to create backup", err).with(data)), nil
	}
	data.Snapshot = snap
	log = log.With("snapshot", snap.Timestamp)

	e.enter(log, StateMutating)
	newHosts := nginx.RemoveHostsLine(hostsText, host)
	if res, err := e.write(log, snap, newConfig, newHosts, hostsText, data); res != nil {
		return e.finish(OpRemove, log, res), err
	}

	return e.commit(ctx, OpRemove, log, snap, data, fmt.Sprintf("Successfully removed proxy for %s", host))
}

// List reports the server names in the config and the hosts entries. The
// two lists are not reconciled; differences are returned as drift.
func (e *Engine) List(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With("op", OpList)

	configText, hostsText, res := e.readBoth()
	if res != nil {
		log.Warn("list failed", "error", res.ErrorDetail)
		return res, nil
	}

	data := &Data{
		ConfigEntries: nginx.ListServerNames(configText),
		HostsEntries:  nginx.ListHostsEntries(hostsText),
		Proxies:       nginx.ListProxyEntries(configText),
	}
	data.OnlyInConfig, data.OnlyInHosts = drift(data.ConfigEntries, data.HostsEntries)

	log.Debug("listed entries", "config", len(data.ConfigEntries), "hosts", len(data.HostsEntries))
	return ok("Proxy entries retrieved successfully", data), nil
}

// Restore puts the snapshot stored under timestamp back in place. The current
// state is snapshotted first and comes back if nginx rejects the restored
// config.
func (e *Engine) Restore(ctx context.Context, timestamp string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With("op", OpRestore, "target", timestamp)

	e.enter(log, StateValidating)
	target, err := e.backups.Lookup(timestamp)
	if err != nil {
		kind := IOError
		if errors.Is(err, backup.ErrNotFound) {
			kind = NotFound
		} else if errors.Is(err, backup.ErrInvalidTimestamp) {
			kind = InvalidInput
		}
		return e.finish(OpRestore, log, fail(kind, fmt.Sprintf("Backup %s is not available", timestamp), err)), nil
	}

	e.enter(log, StateBackingUp)
	snap, err := e.backups.CreateSnapshot(e.paths.Config, e.paths.Hosts)
	if err != nil {
		return e.finish(OpRestore, log, fail(BackupFailed, "Failed to create backup", err)), nil
	}
	data := &Data{Snapshot: snap}
	log = log.With("snapshot", snap.Timestamp)

	e.enter(log, StateMutating)
	if err := e.backups.RestoreSnapshot(target, e.paths.Config, e.paths.Hosts); err != nil {
		res, rbErr := e.rollback(log, snap, fail(IOError, "Failed to restore backup", err).with(data))
		return e.finish(OpRestore, log, res), rbErr
	}

	return e.commit(ctx, OpRestore, log, snap, data, fmt.Sprintf("Restored backup %s", timestamp))
}

// write stores the new config and, only once that succeeded, the new hosts
// text. A non-nil result ends the operation.
func (e *Engine) write(log *slog.Logger, snap *backup.Snapshot, newConfig, newHosts, oldHosts string, data *Data) (*Result, error) {
	if err := fsutil.WriteAtomic(e.fs, e.paths.Config, []byte(newConfig)); err != nil {
		// The atomic write leaves the old file in place.
		return fail(IOError, "Failed to write nginx config", err).with(data), nil
	}
	if newHosts == oldHosts {
		return nil, nil
	}
	if err := fsutil.WriteAtomic(e.fs, e.paths.Hosts, []byte(newHosts)); err != nil {
		return e.rollback(log, snap, fail(IOError, "Failed to write hosts file. Changes reverted.", err).with(data))
	}
	return nil, nil
}

// commit validates the mutated files, rolls back on rejection and reloads.
func (e *Engine) commit(ctx context.Context, op string, log *slog.Logger, snap *backup.Snapshot, data *Data, message string) (*Result, error) {
	e.enter(log, StateServerValidating)
	if err := e.oracle.Validate(ctx); err != nil {
		res, rbErr := e.rollback(log, snap, fail(ServerValidationFailed, "Nginx configuration test failed. Changes reverted.", err).with(data))
		return e.finish(op, log, res), rbErr
	}
	e.enter(log, StateCommitted)

	if e.flusher != nil {
		if err := e.flusher.Flush(ctx); err != nil {
			log.Warn("failed to flush DNS cache", "error", err)
		}
	}

	e.enter(log, StateReloading)
	if err := e.oracle.Reload(ctx); err != nil {
		return e.finish(op, log, fail(ReloadFailed, "Failed to reload nginx. Please reload manually.", err).with(data)), nil
	}

	e.enter(log, StateDone)
	return e.finish(op, log, ok(message, data)), nil
}

// rollback restores snap. When that fails the result is replaced by a
// RollbackFailed result and ErrRollbackFailed is returned.
func (e *Engine) rollback(log *slog.Logger, snap *backup.Snapshot, res *Result) (*Result, error) {
	e.enter(log, StateRollingBack)
	if err := e.backups.RestoreSnapshot(snap, e.paths.Config, e.paths.Hosts); err != nil {
		log.Error("rollback failed", "error", err, "cause", res.ErrorDetail)
		fatal := fail(RollbackFailed,
			fmt.Sprintf("Rollback failed. Restore %s and %s manually.", snap.ConfigPath, snap.HostsPath), err)
		fatal.Data = res.Data
		return fatal, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}
	log.Info("changes reverted")
	return res, nil
}

func (e *Engine) readBoth() (configText, hostsText string, res *Result) {
	configData, err := afero.ReadFile(e.fs, e.paths.Config)
	if err != nil {
		return "", "", fail(IOError, "Failed to read nginx config", err)
	}
	hostsData, err := afero.ReadFile(e.fs, e.paths.Hosts)
	if err != nil {
		return "", "", fail(IOError, "Failed to read hosts file", err)
	}
	return string(configData), string(hostsData), nil
}

func (e *Engine) enter(log *slog.Logger, s State) {
	log.Debug("state", "state", string(s))
}

func (e *Engine) finish(op string, log *slog.Logger, res *Result) *Result {
	if res.Success {
		log.Info(res.Message)
	} else {
		log.Warn(res.Message, "code", string(res.Code), "detail", res.ErrorDetail)
	}

	if e.recorder != nil && op != OpList {
		rec := journal.Record{
			Op:      op,
			Success: res.Success,
			Code:    string(res.Code),
			Message: res.Message,
		}
		if res.Data != nil {
			rec.Host = res.Data.Host
			rec.Port = res.Data.Port
			if res.Data.Snapshot != nil {
				rec.Snapshot = res.Data.Snapshot.Timestamp
			}
		}
		if err := e.recorder.Record(rec); err != nil {
			log.Warn("failed to record operation", "error", err)
		}
	}

	return res
}

func invalid(err error) *Result {
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		return fail(InvalidInput, ve.Message, err)
	}
	return fail(InvalidInput, err.Error(), err)
}
