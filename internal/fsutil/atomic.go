// Package fsutil holds small filesystem helpers shared by the engine and the
// backup store.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const maxLinkHops = 40

// WriteAtomic writes data to a temporary sibling of path and renames it into
// place. An existing file keeps its permission bits and, where the caller may
// set them, its owner and group. When path is a symlink the file it points to
// is replaced and the link stays.
func WriteAtomic(fs afero.Fs, path string, data []byte) error {
	target, err := resolveLinks(fs, path)
	if err != nil {
		return err
	}

	mode := os.FileMode(0644)
	info, statErr := fs.Stat(target)
	if statErr == nil {
		mode = info.Mode().Perm()
	}

	tmpFile := target + ".tmp"
	if err := afero.WriteFile(fs, tmpFile, data, mode); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if statErr == nil {
		if uid, gid, ok := fileOwner(info); ok {
			// Only root may hand a file to someone else.
			if err := fs.Chown(tmpFile, uid, gid); err != nil && !errors.Is(err, os.ErrPermission) {
				_ = fs.Remove(tmpFile)
				return fmt.Errorf("failed to set temp file owner: %w", err)
			}
		}
	}

	if err := fs.Rename(tmpFile, target); err != nil {
		_ = fs.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// resolveLinks follows symlinks at path on filesystems that expose them. A
// missing final target is returned as is so the write creates it.
func resolveLinks(fs afero.Fs, path string) (string, error) {
	lstater, ok := fs.(afero.Lstater)
	if !ok {
		return path, nil
	}
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return path, nil
	}

	for i := 0; i < maxLinkHops; i++ {
		info, _, err := lstater.LstatIfPossible(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return path, nil
			}
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return path, nil
		}

		dest, err := reader.ReadlinkIfPossible(path)
		if err != nil {
			return "", fmt.Errorf("failed to read link %s: %w", path, err)
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(path), dest)
		}
		path = dest
	}

	return "", fmt.Errorf("too many levels of symbolic links: %s", path)
}
