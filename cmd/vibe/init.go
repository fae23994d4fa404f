package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibefs/vibed/internal/gitodb"
	metabadger "github.com/vibefs/vibed/internal/metadata/badger"
)

// cmdInit creates .vibe/ under the discovered repository root and verifies
// HEAD resolves. The metadata store itself starts empty — there is nothing
// to carry over from HEAD until a session is spawned — so initialization
// here means laying down the store files rather than seeding any records.
func cmdInit(ctx context.Context, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	repo, err := gitodb.Open(root)
	if err != nil {
		return err
	}
	if _, err := repo.ResolveHead(ctx); err != nil {
		return fmt.Errorf("repository has no commits yet (HEAD does not resolve): %w", err)
	}

	dir := vibeDir(root)
	for _, sub := range []string{"sessions", "logs", "cache"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create .vibe/%s: %w", sub, err)
		}
	}

	store, err := metabadger.Open(metabadger.Config{Path: filepath.Join(dir, "meta")})
	if err != nil {
		return fmt.Errorf("initialize metadata store: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close metadata store: %w", err)
	}

	fmt.Printf("initialized VibeFS in %s\n", dir)
	return nil
}
