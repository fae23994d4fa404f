// Package metadata defines the inode-level bookkeeping a session keeps on
// top of the repository it overlays: the copy-on-write delta of touched
// paths, where each one's content actually lives, and the snapshots taken
// of a session over its lifetime.
//
// The store itself never touches file content. It tracks provenance
// (Origin) and lets the overlay resolver decide, for a given path, whether
// to read from the session's own write-through tree, passthrough to the
// checked-out repository, or fall back to a Git blob.
package metadata

import "time"

// Kind is the type of filesystem object an InodeRecord describes.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	// KindTombstone marks a path removed from a session whose origin was
	// tracked in the base repository. Promote must skip tombstoned paths
	// when rewriting the target tree; without a tombstone the deletion
	// would be invisible to a tree built purely from dirty marks.
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// OriginKind describes where the bytes backing an inode actually live.
type OriginKind int

const (
	// OriginNew means the file was created inside the session and lives
	// entirely in the session's write-through directory.
	OriginNew OriginKind = iota
	// OriginTracked means the file exists at HEAD of the base repository
	// and is read from the Git object database by BlobID until the
	// session writes to it, at which point it is copied up.
	OriginTracked
	// OriginPassthrough means the file exists in the repository's working
	// tree but is untracked by Git (e.g. build artifacts, .gitignore'd
	// scratch files); reads pass straight through to the repo's disk path.
	OriginPassthrough
	// OriginSymlink means the inode is a symbolic link; Target holds the
	// link's textual target rather than any blob reference.
	OriginSymlink
)

// Origin records where an inode's bytes come from, tagged by OriginKind.
// Only the fields relevant to the Kind are meaningful; the rest are zero.
type Origin struct {
	Kind   OriginKind
	BlobID string // Git blob SHA, populated when Kind == OriginTracked
	Target string // symlink target, populated when Kind == OriginSymlink
}

// Reserved inode numbers, mirrored by the NFS exporter's file handle space.
const (
	RootInode          uint64 = 1
	RootParentInode    uint64 = 2
	FirstAllocatedNode uint64 = 100
)

// InodeRecord is the unit of storage in a MetadataStore: one entry per
// session-relative path that has been touched, created, or removed since
// the session was spawned.
type InodeRecord struct {
	InodeID  uint64
	Path     string // slash-separated, relative to the session root
	Kind     Kind
	Size     uint64
	Mode     uint32
	Origin   Origin
	Volatile bool // excluded from promote; see overlay.ArtifactDirs
	ModTime  time.Time
}

// SnapshotRecord describes a named, point-in-time copy of a session's
// delta as recorded through Store.PutSnapshot. `vibe save` and `vibe undo`
// work on internal/session's snapshot directories and do not write these
// records.
type SnapshotRecord struct {
	Name      string
	SessionID string
	CreatedAt time.Time
	// Archived is true once the snapshot has also been pushed to the
	// configured remote archival backend (see internal/snapshot).
	Archived bool
}
