package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vibefs/vibed/internal/logger"
)

var log = logger.With("session")

// SnapshotName returns the default name for a snapshot taken right now:
// a sortable timestamp string.
func SnapshotName() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

// Snapshot clones session id's current delta directory into a sibling
// snapshot directory named name, using a reflink where the platform
// supports one and falling back to a full copy otherwise. The resulting
// directory is independent of the delta from the moment this returns:
// writes to either side never affect the other.
func (s *Store) Snapshot(id, name string) error {
	src := s.DeltaDir(id)
	dst := s.snapshotDir(id, name)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("snapshot %q already exists for session %q", name, id)
	}
	if err := cloneTree(src, dst); err != nil {
		return fmt.Errorf("snapshot session %q: %w", id, err)
	}
	return nil
}

// Snapshots lists the names of every snapshot taken of session id.
func (s *Store) Snapshots(id string) ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := id + "_snapshot_"
	var names []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			names = append(names, e.Name()[len(prefix):])
		}
	}
	return names, nil
}

// Restore replaces session id's delta directory with a clone of the named
// snapshot. Unless noBackup is set, the current delta is first snapshotted
// as "pre-restore-<timestamp>" so a failed restore (or a change of mind)
// can be recovered.
func (s *Store) Restore(id, name string, noBackup bool) error {
	snap := s.snapshotDir(id, name)
	if _, err := os.Stat(snap); err != nil {
		return fmt.Errorf("snapshot %q not found for session %q", name, id)
	}

	var backupName string
	if !noBackup {
		backupName = "pre-restore-" + SnapshotName()
		if err := s.Snapshot(id, backupName); err != nil {
			return fmt.Errorf("auto-backup before restore: %w", err)
		}
	}

	delta := s.DeltaDir(id)
	if err := os.RemoveAll(delta); err != nil {
		return s.rollbackRestore(id, backupName, fmt.Errorf("clear delta: %w", err))
	}
	if err := cloneTree(snap, delta); err != nil {
		return s.rollbackRestore(id, backupName, fmt.Errorf("clone snapshot into delta: %w", err))
	}
	return nil
}

func (s *Store) rollbackRestore(id, backupName string, cause error) error {
	if backupName == "" {
		return cause
	}
	backup := s.snapshotDir(id, backupName)
	delta := s.DeltaDir(id)
	if err := cloneTree(backup, delta); err != nil {
		log.Error("restore rollback for session %s also failed: %v", id, err)
		return fmt.Errorf("%w (rollback to auto-backup also failed: %v)", cause, err)
	}
	return cause
}

// FilesUnder lists every regular file path (relative to root) contained
// in a delta or snapshot directory, for re-marking dirty after restore.
func FilesUnder(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return paths, nil
}

// cloneTree copies src to dst recursively, preferring a reflink clone per
// file (copy-on-write, near-instant, shares blocks until either side
// writes) and transparently falling back to a byte copy when the
// filesystem doesn't support one.
func cloneTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return cloneFile(path, target, info.Mode())
		}
	})
}

func cloneFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := reflinkFile(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst, mode)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
