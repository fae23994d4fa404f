package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibefs/vibed/internal/controlplane"
	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/metadata"
	metabadger "github.com/vibefs/vibed/internal/metadata/badger"
	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/vibeerr"
)

func setDebug() {
	logger.SetLevel("DEBUG")
}

// repoRoot resolves the repository root the same way the daemon does:
// $VIBE_REPO if set, otherwise the Git working tree containing cwd.
func repoRoot() (string, error) {
	if env := os.Getenv("VIBE_REPO"); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := gitodb.DiscoverRoot(cwd)
	if err != nil {
		return "", vibeerr.Wrap("vibe", fmt.Errorf("%w: %v", vibeerr.ErrNotInRepo, err))
	}
	return root, nil
}

func vibeDir(root string) string {
	return filepath.Join(root, ".vibe")
}

// requireInitialized returns the repository root, failing with
// ErrNotInitialized if `vibe init` has never been run there.
func requireInitialized() (string, error) {
	root, err := repoRoot()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(vibeDir(root)); err != nil {
		return "", vibeerr.ErrNotInitialized
	}
	return root, nil
}

// controlClient connects to the running daemon's control-plane socket for
// mutating commands (spawn, kill, save, undo, commit, rebase, daemon
// stop/status).
func controlClient(root string) *controlplane.Client {
	return &controlplane.Client{SocketPath: filepath.Join(vibeDir(root), "vibed.sock")}
}

// openMetadataReadOnly opens the metadata store in read-only mode for CLI
// commands that read the dirty set directly rather than through the daemon
// (ls, diff, ls --conflicts).
func openMetadataReadOnly(root string) (metadata.Store, error) {
	store, err := metabadger.Open(metabadger.Config{Path: filepath.Join(vibeDir(root), "meta"), ReadOnly: true})
	if err != nil {
		return nil, vibeerr.Wrap("vibe", fmt.Errorf("%w: %v", vibeerr.ErrMetadataLocked, err))
	}
	return store, nil
}

func openSessionStore(root string) *session.Store {
	return session.NewStore(vibeDir(root))
}

// openRepoReadOnly opens the Git object database for read-only CLI
// commands (diff). gitodb.Repo only ever shells out to read-side git
// subcommands here (ls-tree, cat-file, show); nothing about the daemon's
// exclusive-writer requirement applies.
func openRepoReadOnly(root string) (*gitodb.Repo, error) {
	return gitodb.Open(root)
}
