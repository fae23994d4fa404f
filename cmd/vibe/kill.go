package main

import (
	"context"
	"flag"
	"fmt"
)

// cmdKill implements `vibe kill <id> [-f]`.
func cmdKill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	force := fs.Bool("f", false, "kill even if the session has dirty files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: vibe kill <id> [-f]")
	}
	id := fs.Arg(0)

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	if err := controlClient(root).Kill(id, *force); err != nil {
		return err
	}
	fmt.Printf("killed session %s\n", id)
	return nil
}

// cmdRebase implements `vibe rebase <id>`.
func cmdRebase(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: vibe rebase <id>")
	}
	id := args[0]

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	if err := controlClient(root).Rebase(id); err != nil {
		return err
	}
	fmt.Printf("session %s rebased to current HEAD\n", id)
	return nil
}
