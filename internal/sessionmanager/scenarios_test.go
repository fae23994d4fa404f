package sessionmanager_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/metadata/memory"
	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/sessionmanager"
	"github.com/vibefs/vibed/internal/vibeid"
)

type harness struct {
	repoDir string
	repo    *gitodb.Repo
	meta    metadata.Store
	store   *session.Store
	mgr     *sessionmanager.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repoDir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoDir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("A\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")

	repo, err := gitodb.Open(repoDir)
	require.NoError(t, err)

	meta := memory.New()
	store := session.NewStore(filepath.Join(repoDir, ".vibe"))
	gen := vibeid.NewGenerator(nil, nil)
	mgr := sessionmanager.New(repo, repoDir, meta, store, gen, nil)

	return &harness{repoDir: repoDir, repo: repo, meta: meta, store: store, mgr: mgr}
}

// writeToSession simulates an NFS WRITE: materialize the file in the
// session's delta directory and record the InodeRecord dirty in M.
func (h *harness) writeToSession(t *testing.T, id, path, content string) {
	t.Helper()
	deltaPath := filepath.Join(h.store.DeltaDir(id), path)
	require.NoError(t, os.MkdirAll(filepath.Dir(deltaPath), 0o755))
	require.NoError(t, os.WriteFile(deltaPath, []byte(content), 0o644))

	ctx := context.Background()
	rec, ok, err := h.meta.Get(ctx, id, path)
	require.NoError(t, err)
	if !ok {
		inode, err := h.meta.NextInode(ctx, id)
		require.NoError(t, err)
		rec = metadata.InodeRecord{InodeID: inode, Path: path, Kind: metadata.KindFile}
	}
	rec.Size = uint64(len(content))
	require.NoError(t, h.meta.Put(ctx, id, rec))
}

func TestE1BasicEditAndPromote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	c0 := rec.SpawnCommit

	blobID, err := h.repo.WriteBlob(ctx, []byte("A\n"))
	require.NoError(t, err)
	require.NoError(t, h.meta.Put(ctx, "feat", metadata.InodeRecord{
		InodeID: metadata.FirstAllocatedNode,
		Path:    "README.md",
		Kind:    metadata.KindFile,
		Origin:  metadata.Origin{Kind: metadata.OriginTracked, BlobID: blobID},
	}))
	h.writeToSession(t, "feat", "README.md", "B\n")

	diffs, err := h.mgr.Diff(ctx, "feat")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "modified", diffs[0].Kind)
	require.Equal(t, 1, diffs[0].Added)
	require.Equal(t, 1, diffs[0].Removed)

	res, err := h.mgr.Promote(ctx, "feat", sessionmanager.PromoteOptions{Message: "change"})
	require.NoError(t, err)
	require.False(t, res.NoChanges)
	require.Equal(t, []string{"README.md"}, res.Promoted)

	c1 := res.Commit
	require.NotEqual(t, c0, c1)

	refOID, ok, err := h.repo.ResolveRef(ctx, "refs/vibes/feat")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1, refOID)

	data, ok, err := h.repo.BlobAt(ctx, c1, "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B\n", string(data))

	same, err := h.repo.CompareCommits(ctx, c0, c1)
	require.NoError(t, err)
	require.False(t, same)
}

func TestE2SnapshotAndRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	h.writeToSession(t, "feat", "README.md", "B\n")

	preRestore, err := h.meta.List(ctx, "feat")
	require.NoError(t, err)
	require.Len(t, preRestore, 1)
	issuedInode := preRestore[0].InodeID

	require.NoError(t, h.mgr.Save("feat", "cp1"))

	h.writeToSession(t, "feat", "another.txt", "extra\n")
	h.writeToSession(t, "feat", "README.md", "C\n")

	require.NoError(t, h.mgr.Undo(ctx, "feat", "cp1", false))

	data, err := os.ReadFile(filepath.Join(h.store.DeltaDir("feat"), "README.md"))
	require.NoError(t, err)
	require.Equal(t, "B\n", string(data))

	recs, err := h.meta.List(ctx, "feat")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "README.md", recs[0].Path)

	// The restored file must not be reassigned an inode id that was
	// already handed out before the restore: the session is still live,
	// so its counter must carry over rather than restart.
	require.Greater(t, recs[0].InodeID, issuedInode)

	next, err := h.meta.NextInode(ctx, "feat")
	require.NoError(t, err)
	require.Greater(t, next, recs[0].InodeID)
}

func TestE4NewFilePromoteWithIgnore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(h.repoDir, ".gitignore"), []byte("*.log\n"), 0o644))
	cmd := exec.Command("git", "add", ".gitignore")
	cmd.Dir = h.repoDir
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "commit", "-m", "add gitignore")
	cmd.Dir = h.repoDir
	require.NoError(t, cmd.Run())

	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "s"})
	require.NoError(t, err)

	h.writeToSession(t, "s", "feat.rs", "fn main() {}\n")
	h.writeToSession(t, "s", "debug.log", "trace\n")

	res, err := h.mgr.Promote(ctx, "s", sessionmanager.PromoteOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"feat.rs"}, res.Promoted)
	require.Contains(t, res.Skipped, "debug.log")

	_, ok, err := h.repo.BlobAt(ctx, res.Commit, "debug.log")
	require.NoError(t, err)
	require.False(t, ok)

	remaining, err := h.meta.List(ctx, "s")
	require.NoError(t, err)
	var stillDirty []string
	for _, r := range remaining {
		stillDirty = append(stillDirty, r.Path)
	}
	require.Contains(t, stillDirty, "debug.log")
}

func TestE6PartialPromote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "s"})
	require.NoError(t, err)

	h.writeToSession(t, "s", "src/x.rs", "fn x() {}\n")
	h.writeToSession(t, "s", "notes.txt", "todo\n")

	res, err := h.mgr.Promote(ctx, "s", sessionmanager.PromoteOptions{Only: []string{"src/**"}})
	require.NoError(t, err)
	require.Equal(t, []string{"src/x.rs"}, res.Promoted)
	require.Contains(t, res.Skipped, "notes.txt")

	recs, err := h.meta.List(ctx, "s")
	require.NoError(t, err)
	var paths []string
	for _, r := range recs {
		paths = append(paths, r.Path)
	}
	require.Contains(t, paths, "notes.txt")
}
