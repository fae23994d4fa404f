package metadata

import "context"

// Store is the persistence interface every MetadataStore backend
// implements: an append-mostly key/value map from session-relative path to
// InodeRecord, scoped per session, plus the inode allocator and snapshot
// bookkeeping a session needs across daemon restarts.
//
// Implementations must be safe for concurrent use: each export's NFS
// connection goroutines write records as clients mutate files, the
// session manager writes on spawn, undo and kill, and reads arrive
// concurrently from NFS handlers serving multiple in-flight requests.
type Store interface {
	// Put inserts or replaces the record for rec.Path within session.
	Put(ctx context.Context, session string, rec InodeRecord) error

	// Get looks up the record for path within session. ok is false if the
	// path has never been touched in this session (the caller should then
	// fall through to the repository passthrough or Git ODB layer).
	Get(ctx context.Context, session, path string) (rec InodeRecord, ok bool, err error)

	// Delete removes the record for path within session outright. Used for
	// paths created-then-removed within the same session, where no
	// tombstone is needed because the base repository never had them.
	Delete(ctx context.Context, session, path string) error

	// List returns every record for session, in no particular order.
	List(ctx context.Context, session string) ([]InodeRecord, error)

	// NextInode allocates the next inode number from the repository-wide
	// counter, starting from FirstAllocatedNode. Allocation is monotonic
	// and never reused for the lifetime of the repository's .vibe
	// directory, across every session it has ever spawned, not just the
	// one named by session — two sessions must never see the same id.
	NextInode(ctx context.Context, session string) (uint64, error)

	// ClearRecords deletes every inode record for session but leaves the
	// repository's inode counter and this session's stored snapshots in
	// place. Used when a session is restored to a prior snapshot: the
	// session stays live, so ids it already handed out must never be
	// reissued.
	ClearRecords(ctx context.Context, session string) error
	// DropSession deletes every record and snapshot for session. It never
	// resets the repository-wide inode counter. Called when a session is
	// killed.
	DropSession(ctx context.Context, session string) error

	// PutSnapshot records a snapshot taken of session.
	PutSnapshot(ctx context.Context, snap SnapshotRecord) error

	// ListSnapshots returns every snapshot recorded for session, newest
	// first.
	ListSnapshots(ctx context.Context, session string) ([]SnapshotRecord, error)

	// Close releases any resources (file descriptors, background
	// compaction goroutines) held by the store.
	Close() error
}
