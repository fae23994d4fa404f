// Package xdr hand-encodes the NFSv3 (RFC 1813) wire structures vibed's
// exporter needs with plain binary.Write/Read pairs; only the ONC-RPC
// call/reply header in internal/nfs/rpc goes through a reflection-based
// XDR library.
package xdr

import "time"

// TimeVal is nfstime3: seconds and nanoseconds since the Unix epoch.
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// SpecData is specdata3, used for device major/minor numbers.
type SpecData struct {
	Major uint32
	Minor uint32
}

// FileAttr is fattr3, the full attribute set returned for every inode.
type FileAttr struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	Fileid uint64
	Atime  TimeVal
	Mtime  TimeVal
	Ctime  TimeVal
}

// WccAttr is wcc_attr: the subset of fattr3 used for weak cache consistency.
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// DirEntry is entry3, a single READDIR result.
type DirEntry struct {
	Fileid uint64
	Name   string
	Cookie uint64
}

// DirEntryPlus is entryplus3, a READDIRPLUS result carrying attributes and a
// handle alongside the name.
type DirEntryPlus struct {
	Fileid uint64
	Name   string
	Cookie uint64
	Attr   *FileAttr
	Handle []byte
}

// FSStat is the FSSTAT3res body: dynamic capacity information.
type FSStat struct {
	TotalBytes  uint64
	FreeBytes   uint64
	AvailBytes  uint64
	TotalFiles  uint64
	FreeFiles   uint64
	AvailFiles  uint64
	Invarsec    uint32
}

// TimeGuard is the optional ctime-match guard carried by SETATTR, used for
// the classic check-then-set race client libraries rely on.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}

// SetAttrs is sattr3 decoded: which fields the client wants changed, plus
// their new values. Fields without their Set flag are left untouched.
type SetAttrs struct {
	SetMode bool
	Mode    uint32

	SetUID bool
	UID    uint32

	SetGID bool
	GID    uint32

	SetSize bool
	Size    uint64

	SetAtime bool
	Atime    time.Time

	SetMtime bool
	Mtime    time.Time
}
