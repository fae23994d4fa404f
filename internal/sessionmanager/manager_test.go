package sessionmanager_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/sessionmanager"
	"github.com/vibefs/vibed/internal/vibeerr"
)

func TestSpawnAssignsGeneratedID(t *testing.T) {
	h := newHarness(t)
	rec, err := h.mgr.Spawn(context.Background(), sessionmanager.SpawnOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, session.StateExported, rec.State)
}

func TestSpawnCreateOnlyRejectsDuplicateLiveID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)

	_, err = h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat", CreateOnly: true})
	require.ErrorIs(t, err, vibeerr.ErrSessionExists)
}

func TestSpawnDefaultAttachesToLiveID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)

	second, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	require.Equal(t, first, second, "attaching to a live session must return its existing record unchanged")

	recs, err := h.mgr.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestSpawnAllowsReusingKilledID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	require.NoError(t, h.mgr.Kill(ctx, "feat"))

	_, err = h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
}

func TestKillRemovesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)

	require.NoError(t, h.mgr.Kill(ctx, "feat"))

	_, ok, err := h.mgr.Get("feat")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKillUnknownSessionFails(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.Kill(context.Background(), "nope")
	require.ErrorIs(t, err, vibeerr.ErrSessionNotFound)
}

func TestRebaseRefusesWhenDirty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	h.writeToSession(t, "feat", "README.md", "B\n")

	err = h.mgr.Rebase(ctx, "feat")
	require.ErrorIs(t, err, vibeerr.ErrDirty)
}

func TestRebaseAdvancesCleanSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "feat"})
	require.NoError(t, err)
	oldCommit := rec.SpawnCommit

	// Move HEAD past the session's spawn commit.
	require.NoError(t, os.WriteFile(filepath.Join(h.repoDir, "README.md"), []byte("A2\n"), 0o644))
	for _, args := range [][]string{{"add", "README.md"}, {"commit", "-m", "advance"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = h.repoDir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	newHead, err := h.repo.ResolveHead(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldCommit, newHead)

	require.NoError(t, h.mgr.Rebase(ctx, "feat"))

	got, ok, err := h.mgr.Get("feat")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newHead, got.SpawnCommit)
}

func TestListReturnsAllKnownSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "a"})
	require.NoError(t, err)
	_, err = h.mgr.Spawn(ctx, sessionmanager.SpawnOptions{ID: "b"})
	require.NoError(t, err)

	recs, err := h.mgr.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
}
