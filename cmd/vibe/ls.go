package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/sessionmanager"
)

// cmdLs implements `vibe ls [id] [-v] [-p] [--json] [--conflicts]`. It
// reads the metadata store directly rather than going through the control
// plane.
func cmdLs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "show session details")
	printMount := fs.Bool("p", false, "print only the mount path")
	asJSON := fs.Bool("json", false, "print machine-readable JSON")
	conflicts := fs.Bool("conflicts", false, "report cross-session path conflicts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	root, err := requireInitialized()
	if err != nil {
		return err
	}
	sessions := openSessionStore(root)

	if *conflicts {
		return runConflicts(ctx, root)
	}

	if fs.NArg() > 0 {
		return lsOne(root, sessions, fs.Arg(0), *printMount, *asJSON)
	}
	return lsAll(sessions, *verbose, *asJSON)
}

func lsAll(sessions *session.Store, verbose, asJSON bool) error {
	recs, err := sessions.List()
	if err != nil {
		return err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	for _, r := range recs {
		if verbose {
			fmt.Printf("%s\tstate=%s\tspawned=%s\tcreated=%s\n",
				r.ID, r.State, r.SpawnCommit[:min12(r.SpawnCommit)], humanize.Time(r.CreatedAt))
		} else {
			fmt.Println(r.ID)
		}
	}
	return nil
}

func lsOne(root string, sessions *session.Store, id string, printMount, asJSON bool) error {
	rec, ok, err := sessions.Load(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	if printMount {
		fmt.Println(rec.MountPoint)
		return nil
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Printf("id:           %s\n", rec.ID)
	fmt.Printf("state:        %s\n", rec.State)
	fmt.Printf("spawn_commit: %s\n", rec.SpawnCommit)
	fmt.Printf("spawn_branch: %s\n", rec.SpawnBranch)
	fmt.Printf("mount_point:  %s\n", rec.MountPoint)
	fmt.Printf("nfs_port:     %d\n", rec.NfsPort)
	fmt.Printf("created_at:   %s (%s)\n", rec.CreatedAt.Format(time.RFC3339), humanize.Time(rec.CreatedAt))
	fmt.Printf("promoted:     %v\n", rec.Promoted)
	return nil
}

func runConflicts(ctx context.Context, root string) error {
	meta, err := openMetadataReadOnly(root)
	if err != nil {
		return err
	}
	defer meta.Close()

	mgr := sessionmanager.New(nil, root, meta, openSessionStore(root), nil, nil)
	conflicts, err := mgr.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("no cross-session conflicts")
		return nil
	}
	paths := make([]string, 0, len(conflicts))
	for p := range conflicts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Printf("%s: %v\n", p, conflicts[p])
	}
	return nil
}

func min12(s string) int {
	if len(s) < 12 {
		return len(s)
	}
	return 12
}
