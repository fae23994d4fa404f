package nfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/metadata/memory"
	"github.com/vibefs/vibed/internal/nfs/xdr"
	"github.com/vibefs/vibed/internal/overlay"
)

// --- test wire helpers ---------------------------------------------------

func encodeOpaque(data []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func encodeString(s string) []byte { return encodeOpaque([]byte(s)) }

func handleArg(id uint64) []byte { return encodeOpaque(EncodeHandle(id)) }

// emptySattr3 is sattr3 with every field's set-flag cleared.
func emptySattr3() []byte {
	return make([]byte, 6*4)
}

func emptyTimeGuard() []byte {
	return []byte{0, 0, 0, 0}
}

func status(t *testing.T, reply []byte) uint32 {
	t.Helper()
	require.GreaterOrEqual(t, len(reply), 4)
	return binary.BigEndian.Uint32(reply[:4])
}

// decodeOptionalHandle parses the present+length+data framing the handlers
// in this package use for the nfs_fh3 fields they return.
func decodeOptionalHandle(t *testing.T, r *bytes.Reader) uint64 {
	t.Helper()
	var present uint32
	require.NoError(t, binary.Read(r, binary.BigEndian, &present))
	require.Equal(t, uint32(1), present)
	var length uint32
	require.NoError(t, binary.Read(r, binary.BigEndian, &length))
	data := make([]byte, length)
	_, err := r.Read(data)
	require.NoError(t, err)
	id, ok := DecodeHandle(data)
	require.True(t, ok)
	return id
}

func decodeOptionalFileAttr(t *testing.T, r *bytes.Reader) *xdr.FileAttr {
	t.Helper()
	var present uint32
	require.NoError(t, binary.Read(r, binary.BigEndian, &present))
	if present == 0 {
		return nil
	}
	var attr xdr.FileAttr
	require.NoError(t, binary.Read(r, binary.BigEndian, &attr))
	return &attr
}

// decodeFileAttr parses the bare fattr3 a GETATTR reply carries after its
// status (no present flag, unlike post_op_attr).
func decodeFileAttr(t *testing.T, r *bytes.Reader) *xdr.FileAttr {
	t.Helper()
	var attr xdr.FileAttr
	require.NoError(t, binary.Read(r, binary.BigEndian, &attr))
	return &attr
}

// --- test fixture ----------------------------------------------------------

func newTestHandlerCtx(t *testing.T) *handlerCtx {
	t.Helper()
	repoDir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoDir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")

	repo, err := gitodb.Open(repoDir)
	require.NoError(t, err)
	head, err := repo.ResolveHead(context.Background())
	require.NoError(t, err)

	deltaRoot := filepath.Join(repoDir, ".vibe", "sessions", "feat")
	require.NoError(t, os.MkdirAll(deltaRoot, 0o755))

	resolver := &overlay.Resolver{
		Store:       memory.New(),
		Odb:         repo,
		RepoRoot:    repoDir,
		DeltaRoot:   func(string) string { return deltaRoot },
		SpawnCommit: func(string) (string, error) { return head, nil },
	}

	return &handlerCtx{
		ctx:      context.Background(),
		resolver: resolver,
		handles:  NewHandleTable(),
		session:  "feat",
	}
}

// --- tests -----------------------------------------------------------------

func TestHandleLookupFindsTrackedFile(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("README.md"))

	reply, err := handleLookup(hc, args.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	r := bytes.NewReader(reply[4:])
	fileID := decodeOptionalHandle(t, r)
	require.NotZero(t, fileID)

	fileAttr := decodeOptionalFileAttr(t, r)
	require.NotNil(t, fileAttr)
	require.Equal(t, uint32(FileTypeRegular), fileAttr.Type)
	require.Equal(t, uint64(6), fileAttr.Size)

	dirAttr := decodeOptionalFileAttr(t, r)
	require.NotNil(t, dirAttr)
	require.Equal(t, uint32(FileTypeDirectory), dirAttr.Type)
}

func TestHandleLookupMissingReturnsNoEnt(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("nope.txt"))

	reply, err := handleLookup(hc, args.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusNoEnt), status(t, reply))
}

func TestHandleGetAttrStaleHandle(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(999999))

	reply, err := handleGetAttr(hc, args.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusStale), status(t, reply))
}

func TestHandleCreateThenGetAttrThenWrite(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var createArgs bytes.Buffer
	createArgs.Write(handleArg(rootInodeID))
	createArgs.Write(encodeString("new.txt"))
	binary.Write(&createArgs, binary.BigEndian, uint32(CreateUnchecked))
	createArgs.Write(emptySattr3())

	reply, err := handleCreate(hc, createArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	r := bytes.NewReader(reply[4:])
	newID := decodeOptionalHandle(t, r)
	require.NotZero(t, newID)

	var getArgs bytes.Buffer
	getArgs.Write(handleArg(newID))
	reply, err = handleGetAttr(hc, getArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))
	attr := decodeFileAttr(t, bytes.NewReader(reply[4:]))
	require.NotNil(t, attr)
	require.Equal(t, uint64(0), attr.Size)

	var writeArgs bytes.Buffer
	writeArgs.Write(handleArg(newID))
	binary.Write(&writeArgs, binary.BigEndian, uint64(0))
	binary.Write(&writeArgs, binary.BigEndian, uint32(5))
	binary.Write(&writeArgs, binary.BigEndian, uint32(WriteFileSync))
	writeArgs.Write(encodeOpaque([]byte("hello")))

	reply, err = handleWrite(hc, writeArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	reply, err = handleGetAttr(hc, getArgs.Bytes())
	require.NoError(t, err)
	attr = decodeFileAttr(t, bytes.NewReader(reply[4:]))
	require.Equal(t, uint64(5), attr.Size)
}

func TestHandleRemoveTombstonesTrackedFile(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("README.md"))

	reply, err := handleRemove(hc, args.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	rec, ok, err := hc.resolver.Store.Get(hc.ctx, "feat", "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, metadata.KindTombstone, rec.Kind)

	_, ok, err = hc.resolver.Resolve(hc.ctx, "feat", "README.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandleRenameMovesTrackedFile(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("README.md"))
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("RENAMED.md"))

	reply, err := handleRename(hc, args.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	_, ok, err := hc.resolver.Resolve(hc.ctx, "feat", "README.md")
	require.NoError(t, err)
	require.False(t, ok)

	rec, ok, err := hc.resolver.Resolve(hc.ctx, "feat", "RENAMED.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, metadata.KindFile, rec.Kind)

	data, err := hc.resolver.Read(hc.ctx, "feat", rec, 0, 6)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))
}

func TestHandleSetAttrTruncate(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var args bytes.Buffer
	args.Write(handleArg(rootInodeID))
	args.Write(encodeString("README.md"))
	reply, err := handleLookup(hc, args.Bytes())
	require.NoError(t, err)
	fileID := decodeOptionalHandle(t, bytes.NewReader(reply[4:]))

	var setArgs bytes.Buffer
	setArgs.Write(handleArg(fileID))
	setArgs.Write(make([]byte, 3*4)) // mode/uid/gid unset
	binary.Write(&setArgs, binary.BigEndian, uint32(1)) // set_size
	binary.Write(&setArgs, binary.BigEndian, uint64(2)) // size
	setArgs.Write(make([]byte, 2*4))                    // atime/mtime DONT_CHANGE
	setArgs.Write(emptyTimeGuard())

	reply, err = handleSetAttr(hc, setArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	var getArgs bytes.Buffer
	getArgs.Write(handleArg(fileID))
	reply, err = handleGetAttr(hc, getArgs.Bytes())
	require.NoError(t, err)
	attr := decodeFileAttr(t, bytes.NewReader(reply[4:]))
	require.Equal(t, uint64(2), attr.Size)
}

func TestHandleMkdirThenReadDir(t *testing.T) {
	hc := newTestHandlerCtx(t)

	var mkdirArgs bytes.Buffer
	mkdirArgs.Write(handleArg(rootInodeID))
	mkdirArgs.Write(encodeString("subdir"))
	mkdirArgs.Write(emptySattr3())

	reply, err := handleMkdir(hc, mkdirArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))

	var readDirArgs bytes.Buffer
	readDirArgs.Write(handleArg(rootInodeID))
	binary.Write(&readDirArgs, binary.BigEndian, uint64(0)) // cookie
	binary.Write(&readDirArgs, binary.BigEndian, uint64(0)) // cookieverf
	binary.Write(&readDirArgs, binary.BigEndian, uint32(8192))

	reply, err = handleReadDir(hc, readDirArgs.Bytes())
	require.NoError(t, err)
	require.Equal(t, uint32(StatusOK), status(t, reply))
}
