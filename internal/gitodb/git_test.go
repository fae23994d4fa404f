package gitodb_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/gitodb"
)

func newTestRepo(t *testing.T) (*gitodb.Repo, string) {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("A\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")

	repo, err := gitodb.Open(dir)
	require.NoError(t, err)
	return repo, dir
}

func TestResolveHead(t *testing.T) {
	repo, _ := newTestRepo(t)
	head, err := repo.ResolveHead(context.Background())
	require.NoError(t, err)
	require.Len(t, head, 40)
}

func TestBlobAtAndWriteBlob(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	head, err := repo.ResolveHead(ctx)
	require.NoError(t, err)

	data, ok, err := repo.BlobAt(ctx, head, "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A\n", string(data))

	_, ok, err = repo.BlobAt(ctx, head, "missing.txt")
	require.NoError(t, err)
	require.False(t, ok)

	oid, err := repo.WriteBlob(ctx, []byte("B\n"))
	require.NoError(t, err)
	require.Len(t, oid, 40)

	round, err := repo.BlobBytes(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, "B\n", string(round))
}

func TestReadTree(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	head, err := repo.ResolveHead(ctx)
	require.NoError(t, err)

	entries, err := repo.ReadTree(ctx, head)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "README.md", entries[0].Path)
	require.Equal(t, "100644", entries[0].Mode)
}

func TestRewriteTreeAndCommit(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	head, err := repo.ResolveHead(ctx)
	require.NoError(t, err)

	oid, err := repo.WriteBlob(ctx, []byte("B\n"))
	require.NoError(t, err)

	tree, err := repo.RewriteTree(ctx, head, []gitodb.TreeEdit{
		{Path: "README.md", OID: oid, Mode: "100644"},
	})
	require.NoError(t, err)
	require.Len(t, tree, 40)

	commit, err := repo.WriteCommit(ctx, tree, head, "VibeFS: Promote session 'feat'")
	require.NoError(t, err)
	require.Len(t, commit, 40)

	require.NoError(t, repo.UpdateRef(ctx, "refs/vibes/feat", commit))

	resolved, ok, err := repo.ResolveRef(ctx, "refs/vibes/feat")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, commit, resolved)

	data, ok, err := repo.BlobAt(ctx, commit, "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B\n", string(data))

	same, err := repo.CompareCommits(ctx, head, commit)
	require.NoError(t, err)
	require.False(t, same)
}

func TestRewriteTreeDelete(t *testing.T) {
	repo, dir := newTestRepo(t)
	ctx := context.Background()

	cmd := exec.Command("git", "add", ".")
	cmd.Dir = dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("x"), 0o644))
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "commit", "-m", "add extra")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	head, err := repo.ResolveHead(ctx)
	require.NoError(t, err)

	tree, err := repo.RewriteTree(ctx, head, []gitodb.TreeEdit{
		{Path: "extra.txt", Delete: true},
	})
	require.NoError(t, err)

	commit, err := repo.WriteCommit(ctx, tree, head, "remove extra")
	require.NoError(t, err)

	_, ok, err := repo.BlobAt(ctx, commit, "extra.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateIgnore(t *testing.T) {
	repo, dir := newTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0o644))

	result, err := repo.EvaluateIgnore(context.Background(), []string{"debug.log", "feat.rs"})
	require.NoError(t, err)
	require.True(t, result["debug.log"])
	require.False(t, result["feat.rs"])
}
