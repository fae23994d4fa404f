package nfs

import (
	"encoding/binary"
	"sync"

	"github.com/vibefs/vibed/internal/metadata"
)

// rootInodeID is the file id MNT hands back as the export's root file
// handle.
const rootInodeID = metadata.RootInode

// HandleTable maps repo-relative paths to the 64-bit file ids a running
// export hands out as NFSv3 file handles, for one session's lifetime.
//
// A path a session has actually mutated already has a stable InodeID in
// the metadata Store (see overlay.Resolver.Resolve), and that id is
// expected to survive a daemon restart. A path that has only ever been
// looked up or read has no persisted record at all, so this table assigns
// it an id of its own the first time it is seen. Intern always prefers a
// Store-backed id when one exists, so the moment an interned path is
// written to for the first time and gains a real InodeRecord, its handle
// keeps resolving to the same file id rather than acquiring a second one.
type HandleTable struct {
	mu     sync.Mutex
	byPath map[string]uint64
	byID   map[uint64]string
	next   uint64
}

// NewHandleTable builds an empty table with the export root pre-seeded at
// metadata.RootInode.
func NewHandleTable() *HandleTable {
	t := &HandleTable{
		byPath: make(map[string]uint64),
		byID:   make(map[uint64]string),
		next:   metadata.FirstAllocatedNode,
	}
	t.byPath[""] = metadata.RootInode
	t.byID[metadata.RootInode] = ""
	return t
}

// Intern returns the file id for path, assigning one if this is the first
// time the table has seen it. preferredID, when nonzero, is used verbatim
// the first time path is interned (and reconciled into the table's id
// space) — callers pass rec.InodeID here when the metadata Store already
// has a persisted record for path.
func (t *HandleTable) Intern(path string, preferredID uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byPath[path]; ok {
		if preferredID != 0 && id != preferredID {
			delete(t.byID, id)
			t.byPath[path] = preferredID
			t.byID[preferredID] = path
			return preferredID
		}
		return id
	}

	id := preferredID
	if id == 0 {
		id = t.allocate()
	}
	if existing, ok := t.byID[id]; ok && existing != path {
		id = t.allocate()
	}
	t.byPath[path] = id
	t.byID[id] = path
	return id
}

func (t *HandleTable) allocate() uint64 {
	for {
		id := t.next
		t.next++
		if _, taken := t.byID[id]; !taken {
			return id
		}
	}
}

// Resolve returns the path a previously interned file id refers to.
func (t *HandleTable) Resolve(id uint64) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.byID[id]
	return path, ok
}

// Forget drops a path (and its id) from the table, used when REMOVE or
// RENAME retires a handle; a client still holding it will see STALE on the
// next call rather than resolving to a reused id.
func (t *HandleTable) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[path]
	if !ok {
		return
	}
	delete(t.byPath, path)
	delete(t.byID, id)
}

// Rename moves a path's existing id to a new path, preserving the file id
// the client already has cached in its handle.
func (t *HandleTable) Rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[oldPath]
	if !ok {
		return
	}
	delete(t.byPath, oldPath)
	t.byPath[newPath] = id
	t.byID[id] = newPath
}

// EncodeHandle packs a file id into the 8-byte big-endian opaque NFSv3
// file handle this exporter uses.
func EncodeHandle(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// DecodeHandle extracts the file id from an opaque NFSv3 file handle,
// returning ok=false if it is too short to contain one.
func DecodeHandle(handle []byte) (uint64, bool) {
	if len(handle) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(handle[:8]), true
}
