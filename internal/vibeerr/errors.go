// Package vibeerr defines the sentinel error taxonomy shared by the daemon
// and CLI, and the mapping from those errors to process exit codes.
package vibeerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized  = errors.New("repository is not initialized (.vibe missing): run `vibe init`")
	ErrNotInRepo       = errors.New("not inside a git repository")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrDirty           = errors.New("session has dirty files; pass --force to proceed anyway")
	ErrPortInUse       = errors.New("port already in use")
	ErrMountFailed     = errors.New("client-side mount failed")
	ErrStaleSocket     = errors.New("stale control-plane socket")
	ErrMetadataLocked  = errors.New("metadata store is held by another daemon")
	ErrMetadataCorrupt = errors.New("metadata store is corrupt")
	ErrOdb             = errors.New("git object database error")
	ErrIo              = errors.New("I/O error")
)

// ExitCode maps an error (or chain of wrapped errors) to the process exit
// code spec'd for the CLI. Unrecognized errors return 1 (generic failure).
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotInitialized):
		return 3
	case errors.Is(err, ErrNotInRepo):
		return 4
	case errors.Is(err, ErrSessionNotFound):
		return 5
	case errors.Is(err, ErrDirty):
		return 6
	default:
		return 1
	}
}

// Wrap annotates err with a component tag while preserving errors.Is/As
// compatibility with the sentinel it wraps.
func Wrap(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}
