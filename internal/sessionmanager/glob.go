package sessionmanager

import (
	"path/filepath"
	"strings"
)

// matchOnly reports whether path matches any of the given shell-style
// glob patterns. Patterns use path/filepath.Match semantics ("*", "?",
// character classes) per path component, plus a "**" segment matching
// zero or more whole path components — a case filepath.Match alone
// cannot express. A "**" that ends the pattern needs at least one
// component, so "src/**" matches everything under src but not src itself.
func matchOnly(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchGlob(p, path) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if len(pattern) == 1 {
			return len(path) > 0
		}
		if matchSegments(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pattern, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
