package overlay

import "strings"

// ArtifactDirs lists directory names recognized as build/dependency output:
// passed through read-only and never treated as promotable, even if a
// session happens to write inside one.
var ArtifactDirs = []string{
	"target", "node_modules", ".venv", "__pycache__", ".next", ".nuxt", "dist", "build",
}

// IsArtifactPath reports whether path falls under one of ArtifactDirs,
// i.e. any path component equals one of the recognized names.
func IsArtifactPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		for _, dir := range ArtifactDirs {
			if part == dir {
				return true
			}
		}
	}
	return false
}

// HiddenEntry reports whether a directory entry name should be omitted
// from directory listings as editor/OS noise rather than real content.
func HiddenEntry(name string) bool {
	return name == ".DS_Store" || strings.HasPrefix(name, "._")
}
