package client

import (
	"context"
	"fmt"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
)

// History reads recent journal records.
type History interface {
	Recent(limit int) ([]journal.Record, error)
}

// Local runs operations in process against an engine. It offers the same
// methods as Client so callers can switch between the two.
type Local struct {
	ctx     context.Context
	eng     *engine.Engine
	history History
}

// NewLocal wraps eng. history may be nil.
func NewLocal(ctx context.Context, eng *engine.Engine, history History) *Local {
	return &Local{ctx: ctx, eng: eng, history: history}
}

// Connect is a no-op.
func (l *Local) Connect() error { return nil }

// Close is a no-op.
func (l *Local) Close() error { return nil }

// List returns the entries of both managed files.
func (l *Local) List() (*engine.Result, error) {
	return settle(l.eng.List(l.ctx))
}

// Add registers host on port.
func (l *Local) Add(host string, port int) (*engine.Result, error) {
	return settle(l.eng.Add(l.ctx, host, port))
}

// Remove unregisters host.
func (l *Local) Remove(host string) (*engine.Result, error) {
	return settle(l.eng.Remove(l.ctx, host))
}

// Restore puts a snapshot back in place.
func (l *Local) Restore(timestamp string) (*engine.Result, error) {
	return settle(l.eng.Restore(l.ctx, timestamp))
}

// Backups lists snapshots, newest first.
func (l *Local) Backups() ([]backup.Info, error) {
	return l.eng.Backups().List()
}

// BackupContent returns one file of a snapshot.
func (l *Local) BackupContent(timestamp string, file backup.File) (string, error) {
	data, err := l.eng.Backups().Read(timestamp, file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Prune deletes all but the newest keep snapshots. There is no daemon
// counterpart; retention is a local maintenance task.
func (l *Local) Prune(keep int) ([]string, error) {
	return l.eng.Backups().Prune(keep)
}

// History returns recent journal records, newest first.
func (l *Local) History(limit int) ([]journal.Record, error) {
	if l.history == nil {
		return nil, fmt.Errorf("operation journal is not available")
	}
	return l.history.Recent(limit)
}

// settle folds the rollback error into the result, matching what the daemon
// sends over the wire. The result already carries RollbackFailed.
func settle(res *engine.Result, err error) (*engine.Result, error) {
	if res != nil {
		return res, nil
	}
	return nil, err
}
