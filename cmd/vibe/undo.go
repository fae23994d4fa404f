package main

import (
	"context"
	"flag"
	"fmt"
)

// cmdUndo implements `vibe undo <name> -s id [--hard] [--no-backup]`.
func cmdUndo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("undo", flag.ContinueOnError)
	id := fs.String("s", "", "session id")
	hard := fs.Bool("hard", false, "force-unexport a mounted session before restoring")
	noBackup := fs.Bool("no-backup", false, "skip the automatic pre-restore backup snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: vibe undo <name> -s <session-id> [--hard] [--no-backup]")
	}
	if *id == "" {
		return fmt.Errorf("undo requires -s <session-id>")
	}
	name := fs.Arg(0)

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	if err := controlClient(root).Undo(*id, name, *hard, *noBackup); err != nil {
		return err
	}
	fmt.Printf("session %s restored from snapshot %q\n", *id, name)
	return nil
}
