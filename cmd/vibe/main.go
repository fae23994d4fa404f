// Command vibe is the VibeFS CLI: init, spawn/ls/diff/save/undo/commit/
// kill/rebase against a repository's daemon, plus read-only inspection
// that talks to the metadata store directly.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vibefs/vibed/internal/vibeerr"
)

func main() {
	if os.Getenv("VIBE_DEBUG") == "1" {
		setDebug()
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	ctx := context.Background()

	var err error
	switch cmd {
	case "init":
		err = cmdInit(ctx, args)
	case "spawn":
		err = cmdSpawn(ctx, args)
	case "ls":
		err = cmdLs(ctx, args)
	case "diff":
		err = cmdDiff(ctx, args)
	case "save":
		err = cmdSave(ctx, args)
	case "undo":
		err = cmdUndo(ctx, args)
	case "commit":
		err = cmdCommit(ctx, args)
	case "kill":
		err = cmdKill(ctx, args)
	case "rebase":
		err = cmdRebase(ctx, args)
	case "daemon":
		err = cmdDaemon(ctx, args)
	case "purge":
		err = cmdPurge(ctx, args)
	case "config":
		err = cmdConfig(ctx, args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "vibe: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vibe %s: %v\n", cmd, err)
		os.Exit(vibeerr.ExitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vibe <command> [args]

commands:
  init                                  create .vibe/ and an empty metadata store
  spawn [id] [-c cmd] [--debug] [--create-only]
                                         create a session, export and mount it
  ls [id] [-v] [-p] [--json] [--conflicts]
                                         list sessions, show details, or report conflicts
  diff <id> [--stat]                    show a session's unified diff
  save [name] -s id [--remote]          snapshot a session's delta
  undo <name> -s id [--hard] [--no-backup]
                                         restore a session's delta from a snapshot
  commit [id] [-m msg] [--all] [--only globs]
                                         promote a session's dirty set onto its spawn commit
  kill <id> [-f]                        stop and remove a session
  rebase <id>                           advance a clean session's spawn commit to HEAD
  daemon start|stop|status              control the per-repository daemon
  purge [-f]                            remove all .vibe state
  config show|path                      print resolved daemon configuration`)
}
