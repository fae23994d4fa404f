// Package gitodb implements the OdbAdapter capability surface by shelling
// out to the git binary on PATH: resolving HEAD, reading a tree at a
// commit, streaming and writing blobs, rewriting a tree, writing a commit,
// and updating the refs/vibes/* namespace.
package gitodb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vibefs/vibed/internal/logger"
)

// TreeEntry is one entry of a tree listing: a repo-relative path, its blob
// id, and its octal mode (100644, 100755, 120000 for symlinks).
type TreeEntry struct {
	Path string
	OID  string
	Mode string
}

// Repo is an OdbAdapter backed by the git CLI rooted at Path.
type Repo struct {
	Path string
	log  *logger.Component
}

// Open verifies path is inside a Git working tree and returns a Repo
// rooted there.
func Open(path string) (*Repo, error) {
	r := &Repo{Path: path, log: logger.With("gitodb")}
	if _, err := r.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return r, nil
}

// DiscoverRoot resolves the top-level working directory of the Git
// repository containing startDir, used when $VIBE_REPO is unset and the
// repository must be discovered from the current directory instead.
func DiscoverRoot(startDir string) (string, error) {
	cmd := exec.Command("git", "-C", startDir, "rev-parse", "--show-toplevel")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("not inside a git repository: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *Repo) runWithEnv(ctx context.Context, env []string, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Path
	if env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ResolveHead returns the commit id HEAD currently points to.
func (r *Repo) ResolveHead(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// ResolveRef returns the commit id ref currently points to, and ok=false
// if the ref does not exist.
func (r *Repo) ResolveRef(ctx context.Context, ref string) (oid string, ok bool, err error) {
	out, err := r.run(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		return "", false, nil
	}
	return out, true, nil
}

// UpdateRef points ref at oid, creating it if necessary.
func (r *Repo) UpdateRef(ctx context.Context, ref, oid string) error {
	_, err := r.run(ctx, "update-ref", ref, oid)
	return err
}

// ReadTree lists every blob in the tree at commit, recursively, with path,
// blob id, and octal mode.
func (r *Repo) ReadTree(ctx context.Context, commit string) ([]TreeEntry, error) {
	out, err := r.run(ctx, "ls-tree", "-r", commit)
	if err != nil {
		return nil, fmt.Errorf("list tree at %s: %w", commit, err)
	}
	if out == "" {
		return nil, nil
	}

	var entries []TreeEntry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		meta := strings.Fields(parts[0])
		if len(meta) != 3 {
			continue
		}
		entries = append(entries, TreeEntry{Mode: meta[0], OID: meta[2], Path: parts[1]})
	}
	return entries, nil
}

// BlobBytes streams the full contents of the blob identified by oid.
func (r *Repo) BlobBytes(ctx context.Context, oid string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "blob", oid)
	cmd.Dir = r.Path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("read blob %s: %w: %s", oid, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// WriteBlob hashes data and stores it in the object database, returning
// its object id.
func (r *Repo) WriteBlob(ctx context.Context, data []byte) (string, error) {
	return r.runWithEnv(ctx, nil, data, "hash-object", "-w", "--stdin")
}

// BlobAt reads the content of path at commit, or ok=false if path does not
// exist in that tree.
func (r *Repo) BlobAt(ctx context.Context, commit, path string) (data []byte, ok bool, err error) {
	cmd := exec.CommandContext(ctx, "git", "show", fmt.Sprintf("%s:%s", commit, path))
	cmd.Dir = r.Path
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, false, nil
	}
	return stdout.Bytes(), true, nil
}

// TreeEdit is one modification to apply when rewriting a tree: either a
// new/updated blob at Path with Mode, or, when Delete is set, removal of
// Path from the resulting tree.
type TreeEdit struct {
	Path   string
	OID    string
	Mode   string
	Delete bool
}

// RewriteTree builds a new tree object starting from base's tree and
// applying edits, using a scratch index file (read-tree / update-index /
// write-tree) so nested directories are rewritten correctly without
// hand-rolling tree recursion. The scratch index gets a unique path per
// call: concurrent promotes of different sessions each get their own
// GIT_INDEX_FILE, so one promote's read-tree/update-index/write-tree
// sequence can never race another's on the same file.
func (r *Repo) RewriteTree(ctx context.Context, base string, edits []TreeEdit) (string, error) {
	tmp, err := os.CreateTemp(r.Path, ".vibe-promote-index-*")
	if err != nil {
		return "", fmt.Errorf("create scratch index: %w", err)
	}
	indexPath := tmp.Name()
	tmp.Close()
	os.Remove(indexPath) // read-tree creates it fresh; only the unique name is needed
	env := []string{"GIT_INDEX_FILE=" + indexPath}
	defer os.Remove(indexPath)

	if _, err := r.runWithEnv(ctx, env, nil, "read-tree", base); err != nil {
		return "", fmt.Errorf("read base tree: %w", err)
	}

	for _, e := range edits {
		if e.Delete {
			if _, err := r.runWithEnv(ctx, env, nil, "update-index", "--force-remove", "--", e.Path); err != nil {
				return "", fmt.Errorf("remove %s from index: %w", e.Path, err)
			}
			continue
		}
		mode := e.Mode
		if mode == "" {
			mode = "100644"
		}
		cacheinfo := fmt.Sprintf("%s,%s,%s", mode, e.OID, e.Path)
		if _, err := r.runWithEnv(ctx, env, nil, "update-index", "--add", "--cacheinfo", cacheinfo); err != nil {
			return "", fmt.Errorf("stage %s in index: %w", e.Path, err)
		}
	}

	tree, err := r.runWithEnv(ctx, env, nil, "write-tree")
	if err != nil {
		return "", fmt.Errorf("write tree: %w", err)
	}
	return tree, nil
}

// WriteCommit creates a commit object with the given tree and parent,
// using the ambient git author/committer environment (GIT_AUTHOR_*,
// falling back to the repository's configured identity).
func (r *Repo) WriteCommit(ctx context.Context, tree, parent, message string) (string, error) {
	return r.run(ctx, "commit-tree", tree, "-p", parent, "-m", message)
}

// CompareCommits reports whether a and b resolve to the same tree.
func (r *Repo) CompareCommits(ctx context.Context, a, b string) (same bool, err error) {
	treeA, err := r.run(ctx, "rev-parse", a+"^{tree}")
	if err != nil {
		return false, err
	}
	treeB, err := r.run(ctx, "rev-parse", b+"^{tree}")
	if err != nil {
		return false, err
	}
	return treeA == treeB, nil
}

// EvaluateIgnore reports, for each of paths, whether it's excluded by the
// repository's gitignore rules. It batches every candidate into one
// check-ignore invocation rather than one process per path.
func (r *Repo) EvaluateIgnore(ctx context.Context, paths []string) (map[string]bool, error) {
	result := make(map[string]bool, len(paths))
	if len(paths) == 0 {
		return result, nil
	}

	var stdin bytes.Buffer
	for _, p := range paths {
		stdin.WriteString(p)
		stdin.WriteByte(0)
	}

	cmd := exec.CommandContext(ctx, "git", "check-ignore", "--stdin", "-z", "--no-index")
	cmd.Dir = r.Path
	cmd.Stdin = &stdin
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// check-ignore exits 1 when nothing matched; that's not a failure here.
	_ = cmd.Run()

	ignored := make(map[string]bool)
	for _, p := range strings.Split(stdout.String(), "\x00") {
		if p != "" {
			ignored[p] = true
		}
	}
	for _, p := range paths {
		result[p] = ignored[p]
	}
	return result, nil
}

