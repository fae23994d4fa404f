package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
)

// globList is a flag.Value collecting repeated -only flags into a slice.
type globList []string

func (g *globList) String() string { return strings.Join(*g, ",") }
func (g *globList) Set(v string) error {
	*g = append(*g, v)
	return nil
}

// cmdCommit implements `vibe commit [id] [-m msg] [--all] [--only globs]`
// (Promote, in the daemon's terms).
func cmdCommit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	message := fs.String("m", "", "commit message (defaults to \"VibeFS: Promote session '<id>'\")")
	all := fs.Bool("all", false, "promote every session with a nonempty dirty set")
	var only globList
	fs.Var(&only, "only", "glob pattern to restrict promoted paths (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id := ""
	if fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if !*all && id == "" {
		return fmt.Errorf("usage: vibe commit <id> [-m msg] [--only globs] (or --all)")
	}

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	info, err := controlClient(root).Promote(id, *all, []string(only), *message)
	if err != nil {
		return err
	}

	if *all {
		fmt.Printf("promoted: %v\n", info.Promoted)
		if len(info.Skipped) > 0 {
			fmt.Printf("skipped/failed: %v\n", info.Skipped)
		}
		return nil
	}
	if info.NoChanges {
		fmt.Printf("session %s: nothing to promote\n", id)
		return nil
	}
	fmt.Printf("promoted %d path(s) to %s\n", len(info.Promoted), info.Commit)
	if len(info.Skipped) > 0 {
		fmt.Printf("skipped %d path(s): %v\n", len(info.Skipped), info.Skipped)
	}
	return nil
}
