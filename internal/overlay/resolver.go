// Package overlay implements OverlayResolver: the read/write selection
// rules that decide, for a given session and path, whether the session
// delta, the repository working directory, or the Git object database
// answers a request.
package overlay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/metadata"
)

// Odb is the subset of gitodb.Repo the resolver needs: streaming blobs by
// id and reading the tracked tree at a commit.
type Odb interface {
	BlobBytes(ctx context.Context, oid string) ([]byte, error)
	ReadTree(ctx context.Context, commit string) ([]gitodb.TreeEntry, error)
}

// Resolver composes a MetadataStore, a Git ODB, the session delta root,
// and the repository working directory into the three-layer read/write
// model the three-layer read/write design requires.
type Resolver struct {
	Store       metadata.Store
	Odb         Odb
	RepoRoot    string
	DeltaRoot   func(session string) string
	SpawnCommit func(session string) (string, error)
}

// DeltaPath returns the absolute path of path within session's delta
// directory.
func (r *Resolver) DeltaPath(session, path string) string {
	return filepath.Join(r.DeltaRoot(session), filepath.FromSlash(path))
}

// RepoPath returns the absolute path of path in the read-only repository
// working directory.
func (r *Resolver) RepoPath(path string) string {
	return filepath.Join(r.RepoRoot, filepath.FromSlash(path))
}

// Stat returns the persisted InodeRecord for path within session, or
// ok=false if the path has never been touched by this session. Callers
// that also need to answer for untouched paths (NFS LOOKUP/GETATTR) want
// Resolve instead.
func (r *Resolver) Stat(ctx context.Context, session, path string) (metadata.InodeRecord, bool, error) {
	return r.Store.Get(ctx, session, path)
}

// ErrNotFound is returned by Read/ReadDir when a path resolves to nothing
// in any of the three layers.
var ErrNotFound = fmt.Errorf("overlay: path not found")

// Resolve answers "what is at path" for LOOKUP/GETATTR without ever
// writing to Store: paths the session has actually mutated have a
// persisted InodeRecord and are returned as-is; everything else is
// synthesized on the fly from the base tree or the repository working
// directory and discarded once the caller is done with it. Only a write
// (or create/mkdir/symlink/etc) promotes a path into a real, persisted
// record — the NFS handlers in internal/nfs persist it after a
// Write/Truncate or a create.
func (r *Resolver) Resolve(ctx context.Context, session, path string) (metadata.InodeRecord, bool, error) {
	rec, ok, err := r.Store.Get(ctx, session, path)
	if err != nil {
		return metadata.InodeRecord{}, false, err
	}
	if ok {
		if rec.Kind == metadata.KindTombstone {
			return metadata.InodeRecord{}, false, nil
		}
		return rec, true, nil
	}
	return r.lazyResolve(ctx, session, path)
}

// lazyResolve synthesizes a transient InodeRecord for a path the session
// has never touched, checking the base tree at spawn_commit first (exact
// path match -> tracked file/symlink, prefix match against any tree entry
// -> directory), then the repository passthrough directory. It never
// assigns an inode id and never calls Store.Put; callers that need a
// stable numeric id for this path use their own handle table.
func (r *Resolver) lazyResolve(ctx context.Context, session, path string) (metadata.InodeRecord, bool, error) {
	spawnCommit, err := r.SpawnCommit(session)
	if err != nil {
		return metadata.InodeRecord{}, false, fmt.Errorf("resolve spawn commit: %w", err)
	}

	if spawnCommit != "" {
		tree, err := r.Odb.ReadTree(ctx, spawnCommit)
		if err != nil {
			return metadata.InodeRecord{}, false, fmt.Errorf("read base tree: %w", err)
		}
		isDir := false
		for _, te := range tree {
			if te.Path == path {
				mode := parseGitMode(te.Mode)
				if mode&0o170000 == 0o120000 {
					target, err := r.Odb.BlobBytes(ctx, te.OID)
					if err != nil {
						return metadata.InodeRecord{}, false, fmt.Errorf("read symlink blob %s: %w", te.OID, err)
					}
					return metadata.InodeRecord{
						Path: path,
						Kind: metadata.KindSymlink,
						Mode: 0o777,
						Origin: metadata.Origin{
							Kind:   metadata.OriginSymlink,
							Target: string(target),
						},
					}, true, nil
				}
				data, err := r.Odb.BlobBytes(ctx, te.OID)
				if err != nil {
					return metadata.InodeRecord{}, false, fmt.Errorf("read blob %s: %w", te.OID, err)
				}
				return metadata.InodeRecord{
					Path: path,
					Kind: metadata.KindFile,
					Size: uint64(len(data)),
					Mode: mode & 0o777,
					Origin: metadata.Origin{
						Kind:   metadata.OriginTracked,
						BlobID: te.OID,
					},
				}, true, nil
			}
			if isUnder(path, te.Path) {
				isDir = true
			}
		}
		if isDir || path == "" {
			return metadata.InodeRecord{
				Path: path,
				Kind: metadata.KindDir,
				Mode: 0o755,
				Origin: metadata.Origin{
					Kind: metadata.OriginTracked,
				},
			}, true, nil
		}
	}

	abs := r.RepoPath(path)
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return metadata.InodeRecord{}, false, nil
		}
		return metadata.InodeRecord{}, false, err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(abs)
		if err != nil {
			return metadata.InodeRecord{}, false, err
		}
		return metadata.InodeRecord{
			Path: path,
			Kind: metadata.KindSymlink,
			Mode: uint32(info.Mode().Perm()),
			Origin: metadata.Origin{
				Kind:   metadata.OriginSymlink,
				Target: target,
			},
		}, true, nil
	case info.IsDir():
		return metadata.InodeRecord{
			Path: path,
			Kind: metadata.KindDir,
			Mode: uint32(info.Mode().Perm()),
			Origin: metadata.Origin{
				Kind: metadata.OriginPassthrough,
			},
		}, true, nil
	default:
		return metadata.InodeRecord{
			Path: path,
			Kind: metadata.KindFile,
			Size: uint64(info.Size()),
			Mode: uint32(info.Mode().Perm()),
			ModTime: info.ModTime(),
			Origin: metadata.Origin{
				Kind: metadata.OriginPassthrough,
			},
		}, true, nil
	}
}

// parseGitMode parses a git ls-tree mode string ("100644", "120000", ...)
// into the numeric mode, returning a plain file mode if it doesn't parse.
func parseGitMode(s string) uint32 {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0o644
	}
	return uint32(v)
}

// isUnder reports whether child is fullPath or a path strictly beneath it,
// i.e. whether fullPath should make dir show up as a synthesized directory.
func isUnder(dir, fullPath string) bool {
	if dir == "" {
		return fullPath != ""
	}
	return len(fullPath) > len(dir) && fullPath[:len(dir)] == dir && fullPath[len(dir)] == '/'
}

// Read implements the read selection rule: dirty paths are
// served from the delta; Tracked origins stream the Git blob; Passthrough
// origins read straight from the repository working directory.
func (r *Resolver) Read(ctx context.Context, session string, rec metadata.InodeRecord, offset int64, length int) ([]byte, error) {
	switch {
	case rec.Kind == metadata.KindSymlink:
		return []byte(rec.Origin.Target), nil
	case rec.Volatile && rec.Origin.Kind == metadata.OriginNew:
		return r.readDelta(session, rec.Path, offset, length)
	}

	dirty, err := r.isDirty(ctx, session, rec.Path)
	if err != nil {
		return nil, err
	}
	if dirty {
		return r.readDelta(session, rec.Path, offset, length)
	}

	switch rec.Origin.Kind {
	case metadata.OriginTracked:
		data, err := r.Odb.BlobBytes(ctx, rec.Origin.BlobID)
		if err != nil {
			return nil, fmt.Errorf("read blob %s: %w", rec.Origin.BlobID, err)
		}
		return sliceRange(data, offset, length), nil
	case metadata.OriginPassthrough:
		return r.readFile(r.RepoPath(rec.Path), offset, length)
	default:
		return nil, ErrNotFound
	}
}

func (r *Resolver) readDelta(session, path string, offset int64, length int) ([]byte, error) {
	return r.readFile(r.DeltaPath(session, path), offset, length)
}

func (r *Resolver) readFile(abs string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func sliceRange(data []byte, offset int64, length int) []byte {
	if offset >= int64(len(data)) {
		return nil
	}
	end := offset + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}

func (r *Resolver) isDirty(ctx context.Context, session, path string) (bool, error) {
	rec, ok, err := r.Store.Get(ctx, session, path)
	if err != nil || !ok {
		return false, err
	}
	return rec.Origin.Kind == metadata.OriginNew || fileExists(r.DeltaPath(session, path)), nil
}

// IsDirty reports whether path has a session delta file backing it (or is
// a brand-new in-session path), the same check Read uses to decide
// between the delta and the base layers. Exported for GETATTR, which
// needs this to decide whether size/mtime come from the delta file or
// the InodeRecord.
func (r *Resolver) IsDirty(ctx context.Context, session, path string) (bool, error) {
	return r.isDirty(ctx, session, path)
}

// DeltaSize returns the current size of path's delta file, or ok=false if
// it doesn't have one.
func (r *Resolver) DeltaSize(session, path string) (size int64, ok bool) {
	info, err := os.Stat(r.DeltaPath(session, path))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Write implements the write selection rule: every write goes
// to the session delta, first copying forward the tracked blob if this is
// the first write to a previously-clean tracked file (copy-on-write), and
// preserving bytes outside the written range (no read-modify-write
// truncation of the rest of the file).
func (r *Resolver) Write(ctx context.Context, session string, rec metadata.InodeRecord, offset int64, data []byte) (newSize uint64, err error) {
	abs := r.DeltaPath(session, rec.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("create delta parent dirs: %w", err)
	}

	if !fileExists(abs) {
		if err := r.materialize(ctx, session, rec, abs); err != nil {
			return 0, fmt.Errorf("materialize %s into delta: %w", rec.Path, err)
		}
	}

	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return 0, fmt.Errorf("write delta file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// materialize copies the pre-write content of a clean tracked or
// passthrough file into the session delta before the first write touches
// it, so the write only overwrites the requested byte range.
func (r *Resolver) materialize(ctx context.Context, session string, rec metadata.InodeRecord, abs string) error {
	var content []byte
	var err error
	switch rec.Origin.Kind {
	case metadata.OriginTracked:
		content, err = r.Odb.BlobBytes(ctx, rec.Origin.BlobID)
	case metadata.OriginPassthrough:
		content, err = os.ReadFile(r.RepoPath(rec.Path))
		if os.IsNotExist(err) {
			content, err = nil, nil
		}
	}
	if err != nil {
		return err
	}
	return os.WriteFile(abs, content, 0o644)
}

// Truncate sets the delta file's size, materializing first if needed.
func (r *Resolver) Truncate(ctx context.Context, session string, rec metadata.InodeRecord, size int64) error {
	abs := r.DeltaPath(session, rec.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if !fileExists(abs) {
		if err := r.materialize(ctx, session, rec, abs); err != nil {
			return err
		}
	}
	return os.Truncate(abs, size)
}

// Entry is one composed directory entry: name plus, if available, the
// InodeRecord backing it (absent for passthrough-only entries not yet
// looked up).
type Entry struct {
	Name string
	Rec  *metadata.InodeRecord
}

// ReadDir composes the three layers for a directory listing per
// tracked entries in the base tree at dir, union
// passthrough directory entries not already present, union session-only
// entries, minus anything tombstoned.
func (r *Resolver) ReadDir(ctx context.Context, session, dir string) ([]Entry, error) {
	spawnCommit, err := r.SpawnCommit(session)
	if err != nil {
		return nil, fmt.Errorf("resolve spawn commit: %w", err)
	}

	seen := make(map[string]bool)
	var entries []Entry

	if spawnCommit != "" {
		tree, err := r.Odb.ReadTree(ctx, spawnCommit)
		if err != nil {
			return nil, fmt.Errorf("read base tree: %w", err)
		}
		for _, te := range tree {
			child, ok := directChild(dir, te.Path)
			if !ok || seen[child] {
				continue
			}
			seen[child] = true
			entries = append(entries, Entry{Name: child})
		}
	}

	repoDir := r.RepoPath(dir)
	if ents, err := os.ReadDir(repoDir); err == nil {
		for _, de := range ents {
			if seen[de.Name()] || HiddenEntry(de.Name()) {
				continue
			}
			seen[de.Name()] = true
			entries = append(entries, Entry{Name: de.Name()})
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	deltaDir := r.DeltaPath(session, dir)
	if ents, err := os.ReadDir(deltaDir); err == nil {
		for _, de := range ents {
			if seen[de.Name()] {
				continue
			}
			seen[de.Name()] = true
			entries = append(entries, Entry{Name: de.Name()})
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	records, err := r.Store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	tombstoned := make(map[string]bool)
	for _, rec := range records {
		child, ok := directChild(dir, rec.Path)
		if ok && rec.Kind == metadata.KindTombstone {
			tombstoned[child] = true
		}
	}

	filtered := entries[:0]
	for _, e := range entries {
		if !tombstoned[e.Name] {
			filtered = append(filtered, e)
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	return filtered, nil
}

// directChild reports whether fullPath is a direct child of dir, e.g.
// directChild("src", "src/main.go") -> ("main.go", true), and
// directChild("src", "src/pkg/a.go") -> ("pkg", true) (the intermediate
// directory, deduplicated by the caller).
func directChild(dir, fullPath string) (string, bool) {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	if dir == "" {
		prefix = ""
	}
	if dir != "" && !hasPrefix(fullPath, prefix) {
		return "", false
	}
	if dir == "" && hasPrefix(fullPath, "/") {
		return "", false
	}
	rest := fullPath[len(prefix):]
	if rest == "" {
		return "", false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], true
		}
	}
	return rest, true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ReadLink returns a symlink's target literally.
func (r *Resolver) ReadLink(rec metadata.InodeRecord) (string, error) {
	if rec.Kind != metadata.KindSymlink {
		return "", fmt.Errorf("not a symlink: %s", rec.Path)
	}
	return rec.Origin.Target, nil
}

// ExistsOnDisk reports whether path exists in either the session delta or
// the repository working directory, independent of any inode record.
// LOOKUP does not call it; it resolves names through Resolve.
func (r *Resolver) ExistsOnDisk(session, path string) bool {
	return fileExists(r.DeltaPath(session, path)) || fileExists(r.RepoPath(path))
}
