// Package testing provides a shared conformance suite for metadata.Store
// implementations, so the badger and memory backends are held to the same
// contract instead of duplicating assertions per package.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/metadata"
)

// StoreTestSuite runs the same battery of assertions against any
// metadata.Store factory.
type StoreTestSuite struct {
	// NewStore returns a fresh, empty Store for each test.
	NewStore func(t *testing.T) metadata.Store
}

// Run executes every test in the suite as a subtest.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Delete", suite.testDelete)
	t.Run("List", suite.testList)
	t.Run("NextInodeMonotonic", suite.testNextInodeMonotonic)
	t.Run("NextInodeSharedAcrossSessions", suite.testNextInodeSharedAcrossSessions)
	t.Run("DropSession", suite.testDropSession)
	t.Run("ClearRecords", suite.testClearRecords)
	t.Run("Snapshots", suite.testSnapshots)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	rec := metadata.InodeRecord{
		InodeID: 100,
		Path:    "src/main.go",
		Kind:    metadata.KindFile,
		Size:    42,
		Origin:  metadata.Origin{Kind: metadata.OriginTracked, BlobID: "deadbeef"},
	}
	require.NoError(t, store.Put(ctx, "sess-1", rec))

	got, ok, err := store.Get(ctx, "sess-1", "src/main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	_, ok, err := store.Get(ctx, "sess-1", "nope.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	rec := metadata.InodeRecord{InodeID: 101, Path: "a.txt", Kind: metadata.KindFile}
	require.NoError(t, store.Put(ctx, "sess-1", rec))
	require.NoError(t, store.Delete(ctx, "sess-1", "a.txt"))

	_, ok, err := store.Get(ctx, "sess-1", "a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Put(ctx, "sess-1", metadata.InodeRecord{InodeID: 100, Path: "a.txt", Kind: metadata.KindFile}))
	require.NoError(t, store.Put(ctx, "sess-1", metadata.InodeRecord{InodeID: 101, Path: "b.txt", Kind: metadata.KindFile}))
	require.NoError(t, store.Put(ctx, "sess-2", metadata.InodeRecord{InodeID: 100, Path: "c.txt", Kind: metadata.KindFile}))

	records, err := store.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func (suite *StoreTestSuite) testNextInodeMonotonic(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	first, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, metadata.FirstAllocatedNode, first)

	second, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

// testNextInodeSharedAcrossSessions asserts inode ids are unique across
// the whole store, not just within one session: two sessions spawned from
// the same repository must never be handed the same id, since ids are a
// repository-wide resource for the lifetime of its .vibe directory.
func (suite *StoreTestSuite) testNextInodeSharedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	a1, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	a2, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)

	b1, err := store.NextInode(ctx, "sess-2")
	require.NoError(t, err)

	require.Equal(t, metadata.FirstAllocatedNode, a1)
	require.Equal(t, a1+1, a2)
	require.Equal(t, a2+1, b1, "a second session must continue the same repository-wide counter, not restart at the floor")
}

func (suite *StoreTestSuite) testDropSession(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Put(ctx, "sess-1", metadata.InodeRecord{InodeID: 100, Path: "a.txt"}))
	last, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.PutSnapshot(ctx, metadata.SnapshotRecord{Name: "before-refactor", SessionID: "sess-1", CreatedAt: time.Now()}))

	require.NoError(t, store.DropSession(ctx, "sess-1"))

	records, err := store.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, records)

	snaps, err := store.ListSnapshots(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, snaps)

	next, err := store.NextInode(ctx, "sess-2")
	require.NoError(t, err)
	require.Equal(t, last+1, next, "dropping a session must not reset or reuse the repository's inode counter")
}

func (suite *StoreTestSuite) testClearRecords(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Put(ctx, "sess-1", metadata.InodeRecord{InodeID: 100, Path: "a.txt"}))
	next, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, uint64(metadata.FirstAllocatedNode), next)
	require.NoError(t, store.PutSnapshot(ctx, metadata.SnapshotRecord{Name: "before-restore", SessionID: "sess-1", CreatedAt: time.Now()}))

	require.NoError(t, store.ClearRecords(ctx, "sess-1"))

	records, err := store.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, records)

	after, err := store.NextInode(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, next+1, after, "clearing records must not reset or reuse the inode counter")

	snaps, err := store.ListSnapshots(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1, "clearing records must not touch stored snapshots")
}

func (suite *StoreTestSuite) testSnapshots(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	older := metadata.SnapshotRecord{Name: "v1", SessionID: "sess-1", CreatedAt: time.Now().Add(-time.Hour)}
	newer := metadata.SnapshotRecord{Name: "v2", SessionID: "sess-1", CreatedAt: time.Now()}

	require.NoError(t, store.PutSnapshot(ctx, older))
	require.NoError(t, store.PutSnapshot(ctx, newer))

	snaps, err := store.ListSnapshots(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "v2", snaps[0].Name, "snapshots must come back newest first")
}
