package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// cmdSpawn implements `vibe spawn [id] [-c cmd] [--debug] [--create-only]`.
// The spawn algorithm itself runs inside the daemon, which owns the
// metadata store's writer; the CLI's job is to ask for it, then
// best-effort mount the resulting export locally and optionally exec a
// command inside it.
func cmdSpawn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("spawn", flag.ContinueOnError)
	execCmd := fs.String("c", "", "command to run inside the session once mounted")
	debug := fs.Bool("debug", false, "set VIBE_DEBUG=1 in the environment of the -c command")
	createOnly := fs.Bool("create-only", false, "fail instead of attaching if the session already exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debug {
		os.Setenv("VIBE_DEBUG", "1")
	}

	id := ""
	if fs.NArg() > 0 {
		id = fs.Arg(0)
	}

	root, err := requireInitialized()
	if err != nil {
		return err
	}

	info, err := controlClient(root).Spawn(id, *createOnly)
	if err != nil {
		return err
	}

	fmt.Printf("session %s spawned at %s (port %d)\n", info.ID, info.SpawnCommit[:min(12, len(info.SpawnCommit))], info.Port)

	mountPoint, mountErr := clientMount(root, info.ID, info.Port)
	if mountErr != nil {
		fmt.Fprintf(os.Stderr, "warning: automatic mount failed: %v\n", mountErr)
		fmt.Fprintf(os.Stderr, "mount it yourself with:\n  mount -t nfs -o vers=3,tcp,port=%d,mountport=%d 127.0.0.1:/ <mountpoint>\n", info.Port, info.Port)
		mountPoint = info.MountPoint
	} else {
		fmt.Printf("mounted at %s\n", mountPoint)
	}

	if *execCmd != "" {
		c := exec.CommandContext(ctx, "sh", "-c", *execCmd)
		c.Dir = mountPoint
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		c.Env = append(os.Environ(), "VIBE_SESSION="+info.ID)
		return c.Run()
	}
	return nil
}

// clientMount attempts the platform's NFSv3 loopback mount at the
// conventional location <user cache>/vibe/mounts/<repo-basename>-<session-id>/.
func clientMount(root, sessionID string, port int) (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	mountPoint := filepath.Join(cacheDir, "vibe", "mounts", filepath.Base(root)+"-"+sessionID)
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return "", err
	}

	args := []string{"-t", "nfs",
		"-o", fmt.Sprintf("vers=3,tcp,port=%d,mountport=%d,nolock,noacl", port, port),
		"127.0.0.1:/", mountPoint}
	out, err := exec.Command("mount", args...).CombinedOutput()
	if err != nil {
		return mountPoint, fmt.Errorf("%v: %s", err, out)
	}
	return mountPoint, nil
}
