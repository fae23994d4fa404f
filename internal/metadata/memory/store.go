// Package memory implements metadata.Store entirely in process memory.
// Used by tests and by `vibed -ephemeral-meta`, where a daemon restart
// is expected to lose session state anyway.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vibefs/vibed/internal/metadata"
)

// Store implements metadata.Store with plain Go maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	records   map[string]map[string]metadata.InodeRecord // session -> path -> record
	counter   uint64                                     // repo-wide, shared by every session
	snapshots map[string][]metadata.SnapshotRecord
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		records:   make(map[string]map[string]metadata.InodeRecord),
		snapshots: make(map[string][]metadata.SnapshotRecord),
	}
}

func (s *Store) Put(ctx context.Context, session string, rec metadata.InodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPath, ok := s.records[session]
	if !ok {
		byPath = make(map[string]metadata.InodeRecord)
		s.records[session] = byPath
	}
	byPath[rec.Path] = rec
	return nil
}

func (s *Store) Get(ctx context.Context, session, path string) (metadata.InodeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPath, ok := s.records[session]
	if !ok {
		return metadata.InodeRecord{}, false, nil
	}
	rec, ok := byPath[path]
	return rec, ok, nil
}

func (s *Store) Delete(ctx context.Context, session, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byPath, ok := s.records[session]; ok {
		delete(byPath, path)
	}
	return nil
}

func (s *Store) List(ctx context.Context, session string) ([]metadata.InodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPath, ok := s.records[session]
	if !ok {
		return nil, nil
	}
	out := make([]metadata.InodeRecord, 0, len(byPath))
	for _, rec := range byPath {
		out = append(out, rec)
	}
	return out, nil
}

// NextInode allocates the next inode id from the repository-wide counter,
// shared by every session: ids must stay unique across sessions, not just
// within one, so session only identifies the caller for bookkeeping
// elsewhere in the interface.
func (s *Store) NextInode(ctx context.Context, session string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter == 0 {
		s.counter = metadata.FirstAllocatedNode
	}
	cur := s.counter
	s.counter++
	return cur, nil
}

// ClearRecords deletes every inode record for session, leaving the
// repository's inode counter and this session's stored snapshots
// untouched. Used to clear dirty marks on restore, where the session
// stays live and its already-issued inode ids must never be handed out
// again.
func (s *Store) ClearRecords(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, session)
	return nil
}

// DropSession deletes every record and snapshot for session. It never
// touches the repository-wide inode counter: that counter's ids must stay
// unique across every session a repository has ever spawned, not just the
// one being dropped.
func (s *Store) DropSession(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, session)
	delete(s.snapshots, session)
	return nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap metadata.SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.SessionID] = append(s.snapshots[snap.SessionID], snap)
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, session string) ([]metadata.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := append([]metadata.SnapshotRecord(nil), s.snapshots[session]...)
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

func (s *Store) Close() error {
	return nil
}

var _ metadata.Store = (*Store)(nil)
