// Package backup keeps timestamped copies of the nginx config and hosts file.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/lukaszraczylo/lolcaproxy/internal/fsutil"
)

const (
	// TimestampLayout is filesystem safe and sorts lexically.
	TimestampLayout = "2006-01-02T15-04-05"

	configPrefix = "config_"
	hostsPrefix  = "hosts_"
)

// File selects one half of a snapshot.
type File string

const (
	FileConfig File = "config"
	FileHosts  File = "hosts"
)

var (
	ErrNotFound         = errors.New("snapshot not found")
	ErrInvalidTimestamp = errors.New("invalid snapshot timestamp")
)

// Snapshot references a paired copy of both managed files.
type Snapshot struct {
	ConfigPath string `json:"configPath"`
	HostsPath  string `json:"hostsPath"`
	Timestamp  string `json:"timestamp"`
}

// Info describes a stored snapshot.
type Info struct {
	Snapshot
	Created    time.Time `json:"created"`
	ConfigSize int64     `json:"configSize"`
	HostsSize  int64     `json:"hostsSize"`
}

// Store creates and restores snapshots inside one directory.
type Store struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewStore creates a store rooted at dir.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir, now: time.Now}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// CreateSnapshot copies both files byte for byte into the backup directory.
// A second snapshot within the same second gets a numeric suffix.
func (s *Store) CreateSnapshot(configPath, hostsPath string) (*Snapshot, error) {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	configData, err := afero.ReadFile(s.fs, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	hostsData, err := afero.ReadFile(s.fs, hostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	ts, err := s.freeTimestamp(s.now().UTC().Format(TimestampLayout))
	if err != nil {
		return nil, err
	}

	snap := s.snapshotFor(ts)
	if err := afero.WriteFile(s.fs, snap.ConfigPath, configData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write config backup: %w", err)
	}
	if err := afero.WriteFile(s.fs, snap.HostsPath, hostsData, 0644); err != nil {
		_ = s.fs.Remove(snap.ConfigPath)
		return nil, fmt.Errorf("failed to write hosts backup: %w", err)
	}

	return snap, nil
}

func (s *Store) freeTimestamp(base string) (string, error) {
	ts := base
	for n := 1; ; n++ {
		taken, err := s.exists(ts)
		if err != nil {
			return "", err
		}
		if !taken {
			return ts, nil
		}
		ts = base + "-" + strconv.Itoa(n)
	}
}

// newer orders timestamps newest first. Same-second snapshots carry a
// numeric suffix that has to compare as a number, so -10 sorts above -9.
func newer(a, b string) bool {
	baseA, seqA := splitTimestamp(a)
	baseB, seqB := splitTimestamp(b)
	if baseA != baseB {
		return baseA > baseB
	}
	return seqA > seqB
}

func splitTimestamp(ts string) (string, int) {
	n := len(TimestampLayout)
	if len(ts) <= n+1 || ts[n] != '-' {
		return ts, 0
	}
	seq, err := strconv.Atoi(ts[n+1:])
	if err != nil || seq < 1 {
		return ts, 0
	}
	return ts[:n], seq
}

func (s *Store) exists(ts string) (bool, error) {
	snap := s.snapshotFor(ts)
	for _, p := range []string{snap.ConfigPath, snap.HostsPath} {
		ok, err := afero.Exists(s.fs, p)
		if err != nil {
			return false, fmt.Errorf("failed to stat backup: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RestoreSnapshot copies both backup files back over the live paths.
// Nothing is written unless both backup files can be read.
func (s *Store) RestoreSnapshot(snap *Snapshot, configPath, hostsPath string) error {
	if snap == nil {
		return fmt.Errorf("failed to restore snapshot: %w", ErrNotFound)
	}

	configData, err := afero.ReadFile(s.fs, snap.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config backup: %w", err)
	}
	hostsData, err := afero.ReadFile(s.fs, snap.HostsPath)
	if err != nil {
		return fmt.Errorf("failed to read hosts backup: %w", err)
	}

	if err := fsutil.WriteAtomic(s.fs, configPath, configData); err != nil {
		return fmt.Errorf("failed to restore config file: %w", err)
	}
	if err := fsutil.WriteAtomic(s.fs, hostsPath, hostsData); err != nil {
		return fmt.Errorf("failed to restore hosts file: %w", err)
	}

	return nil
}

// Lookup returns the snapshot stored under ts.
func (s *Store) Lookup(ts string) (*Snapshot, error) {
	if err := validateTimestamp(ts); err != nil {
		return nil, err
	}

	snap := s.snapshotFor(ts)
	for _, p := range []string{snap.ConfigPath, snap.HostsPath} {
		ok, err := afero.Exists(s.fs, p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat backup: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ts)
		}
	}

	return snap, nil
}

// Read returns the content of one file of the snapshot stored under ts.
func (s *Store) Read(ts string, which File) ([]byte, error) {
	snap, err := s.Lookup(ts)
	if err != nil {
		return nil, err
	}

	var path string
	switch which {
	case FileConfig:
		path = snap.ConfigPath
	case FileHosts:
		path = snap.HostsPath
	default:
		return nil, fmt.Errorf("unknown backup file: %s", which)
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return data, nil
}

// List returns complete snapshots, newest first.
func (s *Store) List() ([]Info, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	hostsSizes := make(map[string]int64)
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), hostsPrefix) {
			hostsSizes[strings.TrimPrefix(e.Name(), hostsPrefix)] = e.Size()
		}
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), configPrefix) {
			continue
		}
		ts := strings.TrimPrefix(e.Name(), configPrefix)
		hostsSize, ok := hostsSizes[ts]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			Snapshot:   *s.snapshotFor(ts),
			Created:    e.ModTime(),
			ConfigSize: e.Size(),
			HostsSize:  hostsSize,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return newer(infos[i].Timestamp, infos[j].Timestamp)
	})

	return infos, nil
}

// Prune deletes all but the newest keep snapshots and returns the removed
// timestamps. The engine never calls it.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative: %d", keep)
	}

	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}

	var removed []string
	for _, info := range infos[keep:] {
		if err := s.fs.Remove(info.ConfigPath); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", info.ConfigPath, err)
		}
		if err := s.fs.Remove(info.HostsPath); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", info.HostsPath, err)
		}
		removed = append(removed, info.Timestamp)
	}

	return removed, nil
}

func (s *Store) snapshotFor(ts string) *Snapshot {
	return &Snapshot{
		ConfigPath: filepath.Join(s.dir, configPrefix+ts),
		HostsPath:  filepath.Join(s.dir, hostsPrefix+ts),
		Timestamp:  ts,
	}
}

// validateTimestamp rejects anything that could escape the backup directory.
func validateTimestamp(ts string) error {
	if ts == "" || filepath.Base(ts) != ts || strings.Contains(ts, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	return nil
}
