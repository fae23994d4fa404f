package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/vibefs/vibed/internal/session"
)

// cmdSave implements `vibe save [name] -s id [--remote]`.
func cmdSave(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	id := fs.String("s", "", "session id")
	remote := fs.Bool("remote", false, "also archive the snapshot to the configured remote backend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("save requires -s <session-id>")
	}
	name := session.SnapshotName()
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	client := controlClient(root)
	if err := client.Save(*id, name); err != nil {
		return err
	}
	fmt.Printf("saved snapshot %q of session %s\n", name, *id)

	if *remote {
		info, err := client.ArchiveSnapshot(*id, name)
		if err != nil {
			return fmt.Errorf("local snapshot saved, remote archive failed: %w", err)
		}
		fmt.Printf("archived to %s\n", info.Key)
	}
	return nil
}
