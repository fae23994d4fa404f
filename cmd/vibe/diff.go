package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/vibefs/vibed/internal/sessionmanager"
)

// cmdDiff implements `vibe diff <id> [--stat]`, reading M directly.
func cmdDiff(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	stat := fs.Bool("stat", false, "show per-path added/removed counts only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: vibe diff <id> [--stat]")
	}
	id := fs.Arg(0)

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	meta, err := openMetadataReadOnly(root)
	if err != nil {
		return err
	}
	defer meta.Close()

	repo, err := openRepoReadOnly(root)
	if err != nil {
		return err
	}
	sessions := openSessionStore(root)
	mgr := sessionmanager.New(repo, root, meta, sessions, nil, nil)

	diffs, err := mgr.Diff(ctx, id)
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		fmt.Println("no dirty paths")
		return nil
	}

	for _, d := range diffs {
		if *stat {
			fmt.Printf("%s\t%s\t+%d -%d%s\n", d.Path, d.Kind, d.Added, d.Removed, binaryTag(d.Binary))
			continue
		}
		fmt.Printf("--- %s (%s)%s\n", d.Path, d.Kind, binaryTag(d.Binary))
		if !d.Binary {
			fmt.Print(d.Unified)
		}
	}
	return nil
}

func binaryTag(binary bool) string {
	if binary {
		return " [binary]"
	}
	return ""
}
