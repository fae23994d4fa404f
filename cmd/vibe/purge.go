package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
)

// cmdPurge implements `vibe purge [-f]`: removes all .vibe state. Refuses
// while the daemon is reachable unless -f is given, since a live daemon
// still holds the metadata store's write lock and has running exports
// pointed at the directory this is about to delete.
func cmdPurge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	force := fs.Bool("f", false, "purge even if the daemon is running")
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := requireInitialized()
	if err != nil {
		return err
	}

	if _, err := controlClient(root).Ping(); err == nil {
		if !*force {
			return fmt.Errorf("daemon is running; stop it first (`vibe daemon stop`) or pass -f")
		}
		if err := controlClient(root).Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to stop daemon cleanly: %v\n", err)
		}
	}

	if !*force {
		fmt.Printf("this will remove %s and all session state. continue? [y/N] ", vibeDir(root))
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		if line != "y\n" && line != "Y\n" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := os.RemoveAll(vibeDir(root)); err != nil {
		return fmt.Errorf("remove %s: %w", vibeDir(root), err)
	}
	fmt.Printf("removed %s\n", vibeDir(root))
	return nil
}
