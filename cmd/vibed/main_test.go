package main

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
	"github.com/vibefs/vibed/internal/overlay"
	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/sessionmanager"
	"github.com/vibefs/vibed/internal/vibeid"
)

// fakeExporter is a no-op Exporter, just enough to let recoverSessions'
// call into Manager.Export succeed without a real NFS listener.
type fakeExporter struct{ port int }

func (f *fakeExporter) Serve(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeExporter) Stop(ctx context.Context) error  { return nil }
func (f *fakeExporter) Port() int                       { return f.port }

func fakeExporterFactory(id string, resolver *overlay.Resolver, port int) (sessionmanager.Exporter, error) {
	if port == 0 {
		port = 20500
	}
	return &fakeExporter{port: port}, nil
}

func initTestRepo(t *testing.T) string {
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
	return repoDir
}

// TestRecoverSessionsReattachesAfterRestart covers the daemon-restart
// recovery scenario: a session that was Mounted when the daemon exited
// (or crashed) comes back Exported/Mounted with its delta content intact
// once a new Manager loads the same on-disk session store and metadata,
// without the caller ever re-issuing spawn.
func TestRecoverSessionsReattachesAfterRestart(t *testing.T) {
	repoDir := initTestRepo(t)
	vibeDir := filepath.Join(repoDir, ".vibe")

	repo, err := gitodb.Open(repoDir)
	require.NoError(t, err)

	meta := memory.New()
	store := session.NewStore(vibeDir)
	gen := vibeid.NewGenerator(nil, nil)

	ctx := context.Background()

	// First daemon incarnation: spawn "r", export it, write a file.
	firstMgr := sessionmanager.New(repo, repoDir, meta, store, gen, fakeExporterFactory)
	rec, err := firstMgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "r"})
	require.NoError(t, err)
	_, _, err = firstMgr.Export(ctx, rec.ID, 0)
	require.NoError(t, err)

	deltaPath := filepath.Join(store.DeltaDir("r"), "notes.txt")
	require.NoError(t, os.WriteFile(deltaPath, []byte("hi\n"), 0o644))
	inode, err := meta.NextInode(ctx, "r")
	require.NoError(t, err)
	require.NoError(t, meta.Put(ctx, "r", metadata.InodeRecord{InodeID: inode, Path: "notes.txt", Kind: metadata.KindFile}))

	// Simulate the daemon exiting without a clean Kill: the record on
	// disk still says Mounted, but there is no running export for it —
	// this Manager instance, and the process it lived in, are gone.
	loaded, ok, err := store.Load("r")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.StateMounted, loaded.State)

	// Second daemon incarnation: a fresh Manager over the same on-disk
	// store and metadata, exactly what `vibed` builds on startup.
	secondMgr := sessionmanager.New(repo, repoDir, meta, store, gen, fakeExporterFactory)
	require.NoError(t, recoverSessions(ctx, secondMgr, nil))

	port, running := secondMgr.RunningPort("r")
	require.True(t, running, "recoverSessions must re-export a session that was Mounted before restart")
	require.NotZero(t, port)

	data, err := os.ReadFile(deltaPath)
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data), "the session's delta content must survive the restart untouched")

	recs, err := meta.List(ctx, "r")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "notes.txt", recs[0].Path)
}
