//go:build !linux

package session

import "fmt"

// reflinkFile has no portable equivalent outside Linux's FICLONE; callers
// always fall back to a byte copy on these platforms.
func reflinkFile(src, dst string) error {
	return fmt.Errorf("reflink: not supported on this platform")
}
