package nfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/nfs/xdr"
	"github.com/vibefs/vibed/internal/overlay"
)

// handlerCtx is threaded through every procedure handler: the request's
// context, the session's resolver and handle table, and which session
// this export serves.
type handlerCtx struct {
	ctx      context.Context
	resolver *overlay.Resolver
	handles  *HandleTable
	session  string
}

type procHandler func(hc *handlerCtx, args []byte) ([]byte, error)

var dispatchTable = map[uint32]procHandler{
	ProcNull:        handleNull,
	ProcGetAttr:     handleGetAttr,
	ProcSetAttr:     handleSetAttr,
	ProcLookup:      handleLookup,
	ProcAccess:      handleAccess,
	ProcReadLink:    handleReadLink,
	ProcRead:        handleRead,
	ProcWrite:       handleWrite,
	ProcCreate:      handleCreate,
	ProcMkdir:       handleMkdir,
	ProcSymlink:     handleSymlink,
	ProcRemove:      handleRemove,
	ProcRmdir:       handleRemove,
	ProcRename:      handleRename,
	ProcReadDir:     handleReadDir,
	ProcReadDirPlus: handleReadDirPlus,
	ProcFsStat:      handleFsStat,
	ProcFsInfo:      handleFsInfo,
	ProcPathConf:    handlePathConf,
	ProcCommit:      handleCommit,
}

// --- argument decoding -----------------------------------------------

func decodeHandleArg(r io.Reader) ([]byte, error) {
	return xdr.DecodeOpaque(r)
}

func statusOnly(status uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, status)
	return buf
}

// lookupHandle resolves an opaque file handle to a path and its current
// InodeRecord. ok is false (status StatusStale) when the handle's id is
// unknown to this export's handle table, or the path it names no longer
// resolves to anything.
func lookupHandle(hc *handlerCtx, handle []byte) (path string, rec metadata.InodeRecord, ok bool, err error) {
	id, ok := DecodeHandle(handle)
	if !ok {
		return "", metadata.InodeRecord{}, false, nil
	}
	p, ok := hc.handles.Resolve(id)
	if !ok {
		return "", metadata.InodeRecord{}, false, nil
	}
	rec, ok, err = hc.resolver.Resolve(hc.ctx, hc.session, p)
	if err != nil || !ok {
		return "", metadata.InodeRecord{}, false, err
	}
	return p, rec, true, nil
}

// fileID returns the stable file id a path's handle resolves to, interning
// it (preferring the Store's own InodeID, when this path has one) if it
// hasn't been seen by this export before.
func fileID(hc *handlerCtx, path string, rec metadata.InodeRecord) uint64 {
	return hc.handles.Intern(path, rec.InodeID)
}

func attrFor(hc *handlerCtx, path string, rec metadata.InodeRecord) (xdr.FileAttr, error) {
	dirty, err := hc.resolver.IsDirty(hc.ctx, hc.session, path)
	if err != nil {
		return xdr.FileAttr{}, err
	}
	size := int64(-1)
	if dirty {
		if n, ok := hc.resolver.DeltaSize(hc.session, path); ok {
			size = n
		}
	}
	return buildAttr(rec, fileID(hc, path, rec), dirty, size), nil
}

func wccFor(hc *handlerCtx, path string, rec metadata.InodeRecord) (xdr.WccAttr, error) {
	dirty, err := hc.resolver.IsDirty(hc.ctx, hc.session, path)
	if err != nil {
		return xdr.WccAttr{}, err
	}
	size := int64(-1)
	if dirty {
		if n, ok := hc.resolver.DeltaSize(hc.session, path); ok {
			size = n
		}
	}
	return buildWccAttr(rec, dirty, size), nil
}

// --- NULL --------------------------------------------------------------

func handleNull(hc *handlerCtx, args []byte) ([]byte, error) {
	return []byte{}, nil
}

// --- GETATTR -------------------------------------------------------------

func handleGetAttr(hc *handlerCtx, args []byte) ([]byte, error) {
	handle, err := decodeHandleArg(bytes.NewReader(args))
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}

	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- SETATTR -------------------------------------------------------------

func handleSetAttr(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	newAttrs, err := xdr.DecodeSetAttrs(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	if _, err := xdr.DecodeTimeGuard(r); err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}

	before, err := wccFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	if newAttrs.SetSize {
		if err := hc.resolver.Truncate(hc.ctx, hc.session, rec, int64(newAttrs.Size)); err != nil {
			return nil, err
		}
		rec.Kind = metadata.KindFile
		rec.Size = newAttrs.Size
		if err := persistMutation(hc, p, rec, rec.Kind, rec.Size); err != nil {
			return nil, err
		}
	}
	if newAttrs.SetMode {
		rec.Mode = newAttrs.Mode
		if err := persistMutation(hc, p, rec, rec.Kind, rec.Size); err != nil {
			return nil, err
		}
	}
	// owner changes (SetUID/SetGID) are accepted but not persisted.

	p2, rec2, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	after, err := attrFor(hc, p2, rec2)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeWccData(&buf, &before, &after); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// persistMutation writes back an InodeRecord reflecting a mutation to an
// existing path, reusing its already-interned file id (or allocating one
// the first time this path is actually touched).
func persistMutation(hc *handlerCtx, p string, rec metadata.InodeRecord, kind metadata.Kind, size uint64) error {
	id := rec.InodeID
	if id == 0 {
		id = fileID(hc, p, rec)
	}
	rec.InodeID = id
	rec.Path = p
	rec.Kind = kind
	rec.Size = size
	rec.ModTime = time.Now()
	return hc.resolver.Store.Put(hc.ctx, hc.session, rec)
}

// --- LOOKUP --------------------------------------------------------------

func handleLookup(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	dirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, dirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if dirRec.Kind != metadata.KindDir {
		return statusOnly(StatusNotDir), nil
	}

	childPath := joinPath(dirPath, name)
	rec, ok, err := hc.resolver.Resolve(hc.ctx, hc.session, childPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if !ok {
		buf.Write(statusOnly(StatusNoEnt))
		dirAttr, err := attrFor(hc, dirPath, dirRec)
		if err != nil {
			return nil, err
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, &dirAttr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	attr, err := attrFor(hc, childPath, rec)
	if err != nil {
		return nil, err
	}
	dirAttr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	buf.Write(statusOnly(StatusOK))
	buf.Write(EncodeHandleOpaque(fileID(hc, childPath, rec)))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, &dirAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHandleOpaque encodes a file id as the length-prefixed opaque
// nfs_fh3 LOOKUP/CREATE/etc responses carry.
func EncodeHandleOpaque(id uint64) []byte {
	var buf bytes.Buffer
	xdr.EncodeOptionalOpaque(&buf, EncodeHandle(id))
	return buf.Bytes()
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// --- ACCESS --------------------------------------------------------------

func handleAccess(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var requested uint32
	if err := binary.Read(r, binary.BigEndian, &requested); err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}

	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	// Every session is single-user and single-purpose: grant whatever was
	// asked for.
	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, requested); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- READLINK --------------------------------------------------------------

func handleReadLink(hc *handlerCtx, args []byte) ([]byte, error) {
	handle, err := decodeHandleArg(bytes.NewReader(args))
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if rec.Kind != metadata.KindSymlink {
		return statusOnly(StatusInval), nil
	}

	target, err := hc.resolver.ReadLink(rec)
	if err != nil {
		return nil, err
	}
	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalOpaque(&buf, []byte(target)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- READ --------------------------------------------------------------

func handleRead(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var offset uint64
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if rec.Kind == metadata.KindDir {
		return statusOnly(StatusIsDir), nil
	}

	data, err := hc.resolver.Read(hc.ctx, hc.session, rec, int64(offset), int(count))
	if err != nil && err != overlay.ErrNotFound {
		return nil, err
	}

	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}
	eof := offset+uint64(len(data)) >= attr.Size

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, boolToUint32(eof)); err != nil {
		return nil, err
	}
	if err := xdr.EncodeOptionalOpaque(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// --- WRITE --------------------------------------------------------------

func handleWrite(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var offset uint64
	var count uint32
	var stable uint32
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &stable); err != nil {
		return statusOnly(StatusInval), nil
	}
	data, err := xdr.DecodeOpaque(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if rec.Kind != metadata.KindFile {
		return statusOnly(StatusInval), nil
	}

	before, err := wccFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	newSize, err := hc.resolver.Write(hc.ctx, hc.session, rec, int64(offset), data)
	if err != nil {
		return nil, err
	}
	if err := persistMutation(hc, p, rec, metadata.KindFile, newSize); err != nil {
		return nil, err
	}

	p2, rec2, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	after, err := attrFor(hc, p2, rec2)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeWccData(&buf, &before, &after); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	// WRITE is always committed synchronously to the delta file: report
	// back FILE_SYNC regardless of what stability the client asked for.
	_ = stable
	if err := binary.Write(&buf, binary.BigEndian, uint32(WriteFileSync)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, writeVerifier); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeVerifier never changes across the life of this process, consistent
// with writes always landing synchronously (see handleWrite / handleCommit).
var writeVerifier uint64 = 1

// --- CREATE / MKDIR / SYMLINK ---------------------------------------------

func handleCreate(hc *handlerCtx, args []byte) ([]byte, error) {
	return createEntry(hc, args, metadata.KindFile, true)
}

func handleMkdir(hc *handlerCtx, args []byte) ([]byte, error) {
	return createEntry(hc, args, metadata.KindDir, false)
}

// createEntry implements CREATE and MKDIR: both allocate a new inode,
// decode a name plus sattr3 (CREATE's createmode3/verf3 is skipped over
// since this exporter treats UNCHECKED/GUARDED/EXCLUSIVE identically),
// and make a fresh empty entry in the session delta.
func createEntry(hc *handlerCtx, args []byte, kind metadata.Kind, isCreate bool) ([]byte, error) {
	r := bytes.NewReader(args)
	dirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	if isCreate {
		var mode uint32
		if err := binary.Read(r, binary.BigEndian, &mode); err != nil {
			return statusOnly(StatusInval), nil
		}
		// createmode3 GUARDED/EXCLUSIVE have no effect here; a session's
		// delta only ever has one writer.
		if mode == uint32(CreateExclusive) {
			// EXCLUSIVE carries an 8-byte createverf3 in place of sattr3.
			if _, err := io.CopyN(io.Discard, r, 8); err != nil {
				return statusOnly(StatusInval), nil
			}
		}
	}
	newAttrs, err := xdr.DecodeSetAttrs(r)
	if err != nil {
		newAttrs = &xdr.SetAttrs{}
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, dirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if dirRec.Kind != metadata.KindDir {
		return statusOnly(StatusNotDir), nil
	}

	childPath := joinPath(dirPath, name)
	abs := hc.resolver.DeltaPath(hc.session, childPath)

	switch kind {
	case metadata.KindDir:
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, err
		}
	default:
		if err := os.MkdirAll(pathDir(abs), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	mode := uint32(0o644)
	if kind == metadata.KindDir {
		mode = 0o755
	}
	if newAttrs.SetMode {
		mode = newAttrs.Mode
	}

	id := fileID(hc, childPath, metadata.InodeRecord{})
	rec := metadata.InodeRecord{
		InodeID: id,
		Path:    childPath,
		Kind:    kind,
		Mode:    mode,
		Origin:  metadata.Origin{Kind: metadata.OriginNew},
		ModTime: time.Now(),
	}
	if err := hc.resolver.Store.Put(hc.ctx, hc.session, rec); err != nil {
		return nil, err
	}

	attr, err := attrFor(hc, childPath, rec)
	if err != nil {
		return nil, err
	}
	dirAttr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	buf.Write(EncodeHandleOpaque(id))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, nil, &dirAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pathDir(p string) string {
	return path.Dir(p)
}

func handleSymlink(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	dirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	if _, err := xdr.DecodeSetAttrs(r); err != nil {
		return statusOnly(StatusInval), nil
	}
	target, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, dirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if dirRec.Kind != metadata.KindDir {
		return statusOnly(StatusNotDir), nil
	}

	childPath := joinPath(dirPath, name)
	abs := hc.resolver.DeltaPath(hc.session, childPath)
	if err := os.MkdirAll(pathDir(abs), 0o755); err != nil {
		return nil, err
	}
	os.Remove(abs)
	if err := os.Symlink(target, abs); err != nil {
		return nil, err
	}

	id := fileID(hc, childPath, metadata.InodeRecord{})
	rec := metadata.InodeRecord{
		InodeID: id,
		Path:    childPath,
		Kind:    metadata.KindSymlink,
		Mode:    0o777,
		Origin:  metadata.Origin{Kind: metadata.OriginSymlink, Target: target},
		ModTime: time.Now(),
	}
	if err := hc.resolver.Store.Put(hc.ctx, hc.session, rec); err != nil {
		return nil, err
	}

	attr, err := attrFor(hc, childPath, rec)
	if err != nil {
		return nil, err
	}
	dirAttr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	buf.Write(EncodeHandleOpaque(id))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, nil, &dirAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- REMOVE / RMDIR --------------------------------------------------------

func handleRemove(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	dirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, dirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}

	childPath := joinPath(dirPath, name)
	before, err := wccFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	rec, ok, err := hc.resolver.Resolve(hc.ctx, hc.session, childPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusNoEnt), nil
	}

	deltaAbs := hc.resolver.DeltaPath(hc.session, childPath)
	os.Remove(deltaAbs)

	if rec.Origin.Kind == metadata.OriginNew {
		if err := hc.resolver.Store.Delete(hc.ctx, hc.session, childPath); err != nil {
			return nil, err
		}
	} else {
		tomb := metadata.InodeRecord{
			InodeID: fileID(hc, childPath, rec),
			Path:    childPath,
			Kind:    metadata.KindTombstone,
			ModTime: time.Now(),
		}
		if err := hc.resolver.Store.Put(hc.ctx, hc.session, tomb); err != nil {
			return nil, err
		}
	}
	hc.handles.Forget(childPath)

	dirAttr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeWccData(&buf, &before, &dirAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- RENAME --------------------------------------------------------------

func handleRename(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	fromDirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	fromName, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	toDirHandle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	toName, err := xdr.DecodeString(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}

	fromDir, fromDirRec, ok, err := lookupHandle(hc, fromDirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	toDir, toDirRec, ok, err := lookupHandle(hc, toDirHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}

	oldPath := joinPath(fromDir, fromName)
	newPath := joinPath(toDir, toName)

	beforeFrom, err := wccFor(hc, fromDir, fromDirRec)
	if err != nil {
		return nil, err
	}
	beforeTo, err := wccFor(hc, toDir, toDirRec)
	if err != nil {
		return nil, err
	}

	rec, ok, err := hc.resolver.Resolve(hc.ctx, hc.session, oldPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusNoEnt), nil
	}

	if err := renamePath(hc, oldPath, newPath, rec); err != nil {
		return nil, err
	}
	hc.handles.Rename(oldPath, newPath)

	afterFrom, err := attrFor(hc, fromDir, fromDirRec)
	if err != nil {
		return nil, err
	}
	afterTo, err := attrFor(hc, toDir, toDirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeWccData(&buf, &beforeFrom, &afterFrom); err != nil {
		return nil, err
	}
	if err := xdr.EncodeWccData(&buf, &beforeTo, &afterTo); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renamePath migrates path's dirty mark: its content (read through
// whichever layer currently backs it) is copied into the new path's
// delta, the old path is dropped (tombstoned if the base repo ever had
// it), and the metadata record is re-indexed under the new path.
func renamePath(hc *handlerCtx, oldPath, newPath string, rec metadata.InodeRecord) error {
	id := fileID(hc, oldPath, rec)

	switch rec.Kind {
	case metadata.KindSymlink:
		newAbs := hc.resolver.DeltaPath(hc.session, newPath)
		if err := os.MkdirAll(pathDir(newAbs), 0o755); err != nil {
			return err
		}
		os.Remove(newAbs)
		if err := os.Symlink(rec.Origin.Target, newAbs); err != nil {
			return err
		}
	case metadata.KindDir:
		oldAbs := hc.resolver.DeltaPath(hc.session, oldPath)
		newAbs := hc.resolver.DeltaPath(hc.session, newPath)
		if err := os.MkdirAll(pathDir(newAbs), 0o755); err != nil {
			return err
		}
		if fileExistsAt(oldAbs) {
			if err := os.Rename(oldAbs, newAbs); err != nil {
				return err
			}
		} else {
			if err := os.MkdirAll(newAbs, 0o755); err != nil {
				return err
			}
		}
	default:
		data, err := hc.resolver.Read(hc.ctx, hc.session, rec, 0, int(rec.Size)+1<<20)
		if err != nil && err != overlay.ErrNotFound {
			return err
		}
		if _, err := hc.resolver.Write(hc.ctx, hc.session, metadata.InodeRecord{Path: newPath, Origin: metadata.Origin{Kind: metadata.OriginNew}}, 0, data); err != nil {
			return err
		}
	}

	newRec := rec
	newRec.InodeID = id
	newRec.Path = newPath
	newRec.Origin = metadata.Origin{Kind: metadata.OriginNew}
	if rec.Kind == metadata.KindSymlink {
		newRec.Origin = metadata.Origin{Kind: metadata.OriginSymlink, Target: rec.Origin.Target}
	}
	newRec.ModTime = time.Now()
	if err := hc.resolver.Store.Put(hc.ctx, hc.session, newRec); err != nil {
		return err
	}

	oldDeltaAbs := hc.resolver.DeltaPath(hc.session, oldPath)
	if rec.Kind != metadata.KindDir {
		os.Remove(oldDeltaAbs)
	}

	if rec.Origin.Kind == metadata.OriginNew {
		return hc.resolver.Store.Delete(hc.ctx, hc.session, oldPath)
	}
	tomb := metadata.InodeRecord{InodeID: id, Path: oldPath, Kind: metadata.KindTombstone, ModTime: time.Now()}
	return hc.resolver.Store.Put(hc.ctx, hc.session, tomb)
}

func fileExistsAt(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// --- READDIR / READDIRPLUS --------------------------------------------------

func handleReadDir(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var cookie, cookieVerf uint64
	if err := binary.Read(r, binary.BigEndian, &cookie); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &cookieVerf); err != nil {
		return statusOnly(StatusInval), nil
	}
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return statusOnly(StatusInval), nil
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if dirRec.Kind != metadata.KindDir {
		return statusOnly(StatusNotDir), nil
	}

	entries, err := hc.resolver.ReadDir(hc.ctx, hc.session, dirPath)
	if err != nil {
		return nil, err
	}
	names := direntNames(dirPath, entries)

	attr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(1)); err != nil {
		return nil, err
	}
	for i, d := range names {
		rec, ok, err := hc.resolver.Resolve(hc.ctx, hc.session, d.path)
		if err != nil || !ok {
			continue
		}
		id := fileID(hc, d.path, rec)
		e := &xdr.DirEntry{Fileid: id, Name: d.name, Cookie: uint64(i + 1)}
		if err := xdr.EncodeDirEntry(&buf, e); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil { // no more entries
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil { // eof
		return nil, err
	}
	return buf.Bytes(), nil
}

func handleReadDirPlus(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var cookie, cookieVerf uint64
	var dirCount, maxCount uint32
	if err := binary.Read(r, binary.BigEndian, &cookie); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &cookieVerf); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &dirCount); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &maxCount); err != nil {
		return statusOnly(StatusInval), nil
	}

	dirPath, dirRec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	if dirRec.Kind != metadata.KindDir {
		return statusOnly(StatusNotDir), nil
	}

	entries, err := hc.resolver.ReadDir(hc.ctx, hc.session, dirPath)
	if err != nil {
		return nil, err
	}
	names := direntNames(dirPath, entries)

	attr, err := attrFor(hc, dirPath, dirRec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(1)); err != nil {
		return nil, err
	}
	for i, d := range names {
		rec, ok, err := hc.resolver.Resolve(hc.ctx, hc.session, d.path)
		if err != nil || !ok {
			continue
		}
		childAttr, err := attrFor(hc, d.path, rec)
		if err != nil {
			return nil, err
		}
		id := fileID(hc, d.path, rec)
		if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil { // entry present
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, id); err != nil {
			return nil, err
		}
		if err := xdr.EncodeOptionalOpaque(&buf, []byte(d.name)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint64(i+1)); err != nil {
			return nil, err
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, &childAttr); err != nil {
			return nil, err
		}
		if err := xdr.EncodeOptionalOpaque(&buf, EncodeHandle(id)); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil { // no more entries
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil { // eof
		return nil, err
	}
	return buf.Bytes(), nil
}

// dirent is one composed READDIR/READDIRPLUS result: a display name and
// the path it resolves to.
type dirent struct {
	name string
	path string
}

// direntNames composes "." and ".." with the resolver's own entries, the
// display names a real directory listing needs alongside the paths used
// to look each one up.
func direntNames(dirPath string, entries []overlay.Entry) []dirent {
	out := []dirent{
		{name: ".", path: dirPath},
		{name: "..", path: parentPath(dirPath)},
	}
	children := make([]dirent, len(entries))
	for i, e := range entries {
		children[i] = dirent{name: e.Name, path: joinPath(dirPath, e.Name)}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].name < children[j].name })
	return append(out, children...)
}

func parentPath(dirPath string) string {
	if dirPath == "" {
		return ""
	}
	if i := strings.LastIndexByte(dirPath, '/'); i >= 0 {
		return dirPath[:i]
	}
	return ""
}

// --- FSSTAT / FSINFO / PATHCONF --------------------------------------------

func handleFsStat(hc *handlerCtx, args []byte) ([]byte, error) {
	handle, err := decodeHandleArg(bytes.NewReader(args))
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	const huge = 1 << 50
	stat := &xdr.FSStat{
		TotalBytes: huge, FreeBytes: huge, AvailBytes: huge,
		TotalFiles: huge, FreeFiles: huge, AvailFiles: huge,
		Invarsec: 0,
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	if err := xdr.EncodeFSStat(&buf, stat); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func handleFsInfo(hc *handlerCtx, args []byte) ([]byte, error) {
	handle, err := decodeHandleArg(bytes.NewReader(args))
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	const maxXfer = 1 << 20
	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	fields := []uint32{
		maxXfer, maxXfer, maxXfer, maxXfer, // rtmax, rtpref, rtmult, wtmax
		maxXfer, maxXfer, 4096, // wtpref, wtmult, dtpref
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(1<<62)); err != nil { // maxfilesize
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, xdr.TimeVal{Seconds: 1, Nseconds: 0}); err != nil {
		return nil, err
	}
	flags := uint32(FSFLink | FSFSymlink | FSFHomogeneous | FSFCanSetTime)
	if err := binary.Write(&buf, binary.BigEndian, flags); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func handlePathConf(hc *handlerCtx, args []byte) ([]byte, error) {
	handle, err := decodeHandleArg(bytes.NewReader(args))
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	attr, err := attrFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeOptionalFileAttr(&buf, &attr); err != nil {
		return nil, err
	}
	fields := []uint32{
		32767,              // linkmax
		255,                // name_max
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}
	bools := []bool{true, false, true, true} // no_trunc, chown_restricted, case_insensitive, case_preserving
	for _, b := range bools {
		if err := binary.Write(&buf, binary.BigEndian, boolToUint32(b)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// --- COMMIT --------------------------------------------------------------

// handleCommit is a no-op: every WRITE this exporter serves has already
// been written to the session delta file before it returns (see
// handleWrite; no fsync is issued), so there is nothing buffered left to
// flush.
func handleCommit(hc *handlerCtx, args []byte) ([]byte, error) {
	r := bytes.NewReader(args)
	handle, err := decodeHandleArg(r)
	if err != nil {
		return statusOnly(StatusInval), nil
	}
	var offset uint64
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return statusOnly(StatusInval), nil
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return statusOnly(StatusInval), nil
	}

	p, rec, ok, err := lookupHandle(hc, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return statusOnly(StatusStale), nil
	}
	wcc, err := wccFor(hc, p, rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(statusOnly(StatusOK))
	if err := xdr.EncodeWccData(&buf, &wcc, nil); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, writeVerifier); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
