package sessionmanager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/vibefs/vibed/internal/metadata"
)

// FileDiff is one path's diff within a session, relative to its
// spawn_commit.
type FileDiff struct {
	Path     string
	Kind     string // "modified", "added", "removed"
	Binary   bool
	Added    int
	Removed  int
	Unified  string // empty when Binary
}

// Diff produces a unified textual diff for every dirty path in session
// id, relative to the blob each path had at spawn_commit.
func (m *Manager) Diff(ctx context.Context, id string) ([]FileDiff, error) {
	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}

	records, err := m.meta.List(ctx, id)
	if err != nil {
		return nil, err
	}

	deltaRoot := m.sessions.DeltaDir(id)
	diffs := make([]FileDiff, 0, len(records))
	for _, r := range records {
		fd, err := m.diffOne(ctx, rec.SpawnCommit, deltaRoot, r)
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", r.Path, err)
		}
		diffs = append(diffs, fd)
	}
	return diffs, nil
}

func (m *Manager) diffOne(ctx context.Context, spawnCommit, deltaRoot string, r metadata.InodeRecord) (FileDiff, error) {
	base, baseOK, err := m.repo.BlobAt(ctx, spawnCommit, r.Path)
	if err != nil {
		return FileDiff{}, err
	}

	if r.Kind == metadata.KindTombstone {
		return renderDiff(r.Path, "removed", base, nil), nil
	}

	var head []byte
	if r.Kind == metadata.KindSymlink {
		head = []byte(r.Origin.Target)
	} else {
		head, err = os.ReadFile(fileInDelta(deltaRoot, r.Path))
		if err != nil && !os.IsNotExist(err) {
			return FileDiff{}, err
		}
	}

	kind := "modified"
	if !baseOK {
		kind = "added"
		base = nil
	}
	return renderDiff(r.Path, kind, base, head), nil
}

func renderDiff(path, kind string, base, head []byte) FileDiff {
	if !utf8.Valid(base) || !utf8.Valid(head) {
		return FileDiff{Path: path, Kind: kind, Binary: true}
	}

	baseLines := splitLines(base)
	headLines := splitLines(head)
	added, removed, unified := lineDiff(baseLines, headLines)

	return FileDiff{
		Path:    path,
		Kind:    kind,
		Added:   added,
		Removed: removed,
		Unified: unified,
	}
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// lineDiff computes a minimal line-level diff via longest-common-
// subsequence backtracking and renders it in unified-diff style
// (leading "+"/"-"/" " per line, with no hunk headers and no line
// numbers).
func lineDiff(a, b []string) (added, removed int, unified string) {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var buf bytes.Buffer
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			buf.WriteString("  " + a[i] + "\n")
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			buf.WriteString("- " + a[i] + "\n")
			removed++
			i++
		default:
			buf.WriteString("+ " + b[j] + "\n")
			added++
			j++
		}
	}
	for ; i < n; i++ {
		buf.WriteString("- " + a[i] + "\n")
		removed++
	}
	for ; j < m; j++ {
		buf.WriteString("+ " + b[j] + "\n")
		added++
	}
	return added, removed, buf.String()
}
