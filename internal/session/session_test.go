package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/session"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(t.TempDir())
}

func TestValidID(t *testing.T) {
	require.True(t, session.ValidID("calm-otter"))
	require.True(t, session.ValidID("feat_123"))
	require.False(t, session.ValidID(""))
	require.False(t, session.ValidID("has/slash"))
	require.False(t, session.ValidID("has space"))
}

func TestCreateSaveLoad(t *testing.T) {
	s := newStore(t)
	rec := session.Record{
		ID:          "calm-otter",
		SpawnCommit: "deadbeef",
		CreatedAt:   time.Now().UTC(),
		State:       session.StateExported,
	}
	require.NoError(t, s.Create(rec))

	_, err := os.Stat(s.DeltaDir("calm-otter"))
	require.NoError(t, err)

	got, ok, err := s.Load("calm-otter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.SpawnCommit, got.SpawnCommit)

	rec.State = session.StateMounted
	require.NoError(t, s.Save(rec))
	got, ok, err = s.Load("calm-otter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.StateMounted, got.State)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s := newStore(t)
	rec := session.Record{ID: "dup", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.Create(rec))
	require.Error(t, s.Create(rec))
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.Load("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestList(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "a", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Create(session.Record{ID: "b", CreatedAt: time.Now().UTC()}))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestRemoveDeletesRecordDeltaAndSnapshots(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "gone", CreatedAt: time.Now().UTC()}))
	require.NoError(t, os.WriteFile(filepath.Join(s.DeltaDir("gone"), "x.txt"), []byte("x"), 0o644))
	require.NoError(t, s.Snapshot("gone", "v1"))

	require.NoError(t, s.Remove("gone"))

	_, ok, err := s.Load("gone")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = os.Stat(s.DeltaDir("gone"))
	require.True(t, os.IsNotExist(err))
}

func TestSnapshotAndRestore(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "feat", CreatedAt: time.Now().UTC()}))

	deltaFile := filepath.Join(s.DeltaDir("feat"), "a.txt")
	require.NoError(t, os.WriteFile(deltaFile, []byte("v1"), 0o644))

	require.NoError(t, s.Snapshot("feat", "v1"))

	names, err := s.Snapshots("feat")
	require.NoError(t, err)
	require.Contains(t, names, "v1")

	require.NoError(t, os.WriteFile(deltaFile, []byte("v2-changed"), 0o644))

	require.NoError(t, s.Restore("feat", "v1", false))

	data, err := os.ReadFile(deltaFile)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	names, err = s.Snapshots("feat")
	require.NoError(t, err)
	foundBackup := false
	for _, n := range names {
		if len(n) >= len("pre-restore-") && n[:len("pre-restore-")] == "pre-restore-" {
			foundBackup = true
		}
	}
	require.True(t, foundBackup, "expected an automatic pre-restore backup snapshot")
}

func TestRestoreNoBackup(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "feat", CreatedAt: time.Now().UTC()}))
	deltaFile := filepath.Join(s.DeltaDir("feat"), "a.txt")
	require.NoError(t, os.WriteFile(deltaFile, []byte("v1"), 0o644))
	require.NoError(t, s.Snapshot("feat", "v1"))
	require.NoError(t, os.WriteFile(deltaFile, []byte("v2"), 0o644))

	require.NoError(t, s.Restore("feat", "v1", true))

	names, err := s.Snapshots("feat")
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, "v1", names[0])
}

func TestRestoreMissingSnapshot(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "feat", CreatedAt: time.Now().UTC()}))
	require.Error(t, s.Restore("feat", "nope", true))
}

func TestFilesUnder(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create(session.Record{ID: "feat", CreatedAt: time.Now().UTC()}))
	require.NoError(t, os.MkdirAll(filepath.Join(s.DeltaDir("feat"), "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.DeltaDir("feat"), "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.DeltaDir("feat"), "sub", "b.txt"), []byte("b"), 0o644))

	paths, err := session.FilesUnder(s.DeltaDir("feat"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, paths)
}
