package sessionmanager

import (
	"context"
	"fmt"
	"os"

	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/session"
)

// Save snapshots session id's current delta under name.
func (m *Manager) Save(id, name string) error {
	if _, ok, err := m.sessions.Load(id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	return m.sessions.Snapshot(id, name)
}

// Archiver uploads a session's snapshot directory to off-host storage.
// internal/snapshot.Archiver satisfies this; SetArchiver is a no-op until
// one is configured (Config.Snapshot.S3 unset), so a default install never
// touches the network.
type Archiver interface {
	Archive(ctx context.Context, sessionID, snapshotName, dir string) (key string, err error)
}

// SetArchiver installs the remote-archival backend used by
// ArchiveSnapshot. A nil archiver (the default) makes ArchiveSnapshot
// fail with a clear error rather than silently skipping the upload.
func (m *Manager) SetArchiver(a Archiver) {
	m.archiver = a
}

// ArchiveSnapshot uploads an already-taken snapshot to the configured
// remote archiver ("vibe save --remote"). It never takes the snapshot
// itself — callers pair it with Save.
func (m *Manager) ArchiveSnapshot(ctx context.Context, id, name string) (key string, err error) {
	if m.archiver == nil {
		return "", fmt.Errorf("remote archival is not configured (set snapshot.s3 in vibed config)")
	}
	names, err := m.sessions.Snapshots(id)
	if err != nil {
		return "", err
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("snapshot %q not found for session %q", name, id)
	}
	return m.archiver.Archive(ctx, id, name, m.sessions.SnapshotDir(id, name))
}

// Snapshots lists the names of every snapshot taken of session id.
func (m *Manager) Snapshots(id string) ([]string, error) {
	return m.sessions.Snapshots(id)
}

// Undo restores session id's delta to the named snapshot, then re-marks
// every file in the restored delta as dirty — a restored file is by
// definition a session override, even if its content happens to match
// what was already recorded before the restore.
func (m *Manager) Undo(ctx context.Context, id, name string, noBackup bool) error {
	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}

	if err := m.sessions.Restore(id, name, noBackup); err != nil {
		return err
	}

	if err := m.meta.ClearRecords(ctx, id); err != nil {
		return fmt.Errorf("clear dirty marks for session %s: %w", id, err)
	}

	deltaRoot := m.sessions.DeltaDir(id)
	paths, err := session.FilesUnder(deltaRoot)
	if err != nil {
		return fmt.Errorf("rescan restored delta: %w", err)
	}
	for _, p := range paths {
		info, err := os.Lstat(deltaRoot + "/" + p)
		if err != nil {
			return err
		}
		kind := metadata.KindFile
		if info.Mode()&os.ModeSymlink != 0 {
			kind = metadata.KindSymlink
		}

		existing, existed, err := base(ctx, m, rec.SpawnCommit, p)
		if err != nil {
			return err
		}

		origin := metadata.Origin{Kind: metadata.OriginNew}
		if existed {
			origin = metadata.Origin{Kind: metadata.OriginTracked, BlobID: existing}
		}

		inodeID, err := m.meta.NextInode(ctx, id)
		if err != nil {
			return err
		}
		if err := m.meta.Put(ctx, id, metadata.InodeRecord{
			InodeID: inodeID,
			Path:    p,
			Kind:    kind,
			Size:    uint64(info.Size()),
			Mode:    uint32(info.Mode().Perm()),
			Origin:  origin,
		}); err != nil {
			return err
		}
	}

	return nil
}

// base reports whether path existed at commit, returning its blob id
// if so (re-hashed by content, not trusted from the tree entry, since the
// restored delta's bytes may already differ).
func base(ctx context.Context, m *Manager, commit, path string) (blobID string, existed bool, err error) {
	data, ok, err := m.repo.BlobAt(ctx, commit, path)
	if err != nil || !ok {
		return "", false, err
	}
	oid, err := m.repo.WriteBlob(ctx, data)
	return oid, true, err
}
