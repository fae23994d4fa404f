package nfs

import (
	"time"

	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/nfs/xdr"
)

// fsid is a constant filesystem id: every export is its own single-session
// mount, so there's no need to distinguish multiple filesystems on one id
// space the way a real multi-volume NFS server would.
const fsid = 1

func fileType(kind metadata.Kind) uint32 {
	switch kind {
	case metadata.KindDir:
		return FileTypeDirectory
	case metadata.KindSymlink:
		return FileTypeSymlink
	default:
		return FileTypeRegular
	}
}

func toTimeVal(t time.Time) xdr.TimeVal {
	if t.IsZero() {
		return xdr.TimeVal{}
	}
	return xdr.TimeVal{Seconds: uint32(t.Unix()), Nseconds: uint32(t.Nanosecond())}
}

// buildAttr translates an InodeRecord plus the file id its handle carries
// into the wire fattr3 GETATTR/LOOKUP/etc responses send back. size and
// mtime follow the GETATTR rule: a dirty file's size is whatever the delta
// file actually holds right now and its mtime is "now"; a clean file's are
// whatever the record already carries (derived from the tracked blob or
// the repository's on-disk stat).
func buildAttr(rec metadata.InodeRecord, fileID uint64, dirty bool, deltaSize int64) xdr.FileAttr {
	size := rec.Size
	mtime := rec.ModTime
	if dirty {
		if deltaSize >= 0 {
			size = uint64(deltaSize)
		}
		mtime = time.Now()
	}

	mode := rec.Mode
	if mode == 0 {
		mode = defaultMode(rec.Kind)
	}

	nlink := uint32(1)
	if rec.Kind == metadata.KindDir {
		nlink = 2
	}

	mtv := toTimeVal(mtime)
	return xdr.FileAttr{
		Type:   fileType(rec.Kind),
		Mode:   mode,
		Nlink:  nlink,
		UID:    0,
		GID:    0,
		Size:   size,
		Used:   size,
		Rdev:   xdr.SpecData{},
		Fsid:   fsid,
		Fileid: fileID,
		Atime:  mtv,
		Mtime:  mtv,
		Ctime:  mtv,
	}
}

func defaultMode(kind metadata.Kind) uint32 {
	switch kind {
	case metadata.KindDir:
		return 0o755
	case metadata.KindSymlink:
		return 0o777
	default:
		return 0o644
	}
}

func buildWccAttr(rec metadata.InodeRecord, dirty bool, deltaSize int64) xdr.WccAttr {
	size := rec.Size
	mtime := rec.ModTime
	if dirty {
		if deltaSize >= 0 {
			size = uint64(deltaSize)
		}
		mtime = time.Now()
	}
	tv := toTimeVal(mtime)
	return xdr.WccAttr{Size: size, Mtime: tv, Ctime: tv}
}
