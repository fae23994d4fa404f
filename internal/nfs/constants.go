package nfs

// NFSv3 procedure numbers, RFC 1813.
const (
	ProcNull        = 0
	ProcGetAttr     = 1
	ProcSetAttr     = 2
	ProcLookup      = 3
	ProcAccess      = 4
	ProcReadLink    = 5
	ProcRead        = 6
	ProcWrite       = 7
	ProcCreate      = 8
	ProcMkdir       = 9
	ProcSymlink     = 10
	ProcMknod       = 11
	ProcRemove      = 12
	ProcRmdir       = 13
	ProcRename      = 14
	ProcLink        = 15
	ProcReadDir     = 16
	ProcReadDirPlus = 17
	ProcFsStat      = 18
	ProcFsInfo      = 19
	ProcPathConf    = 20
	ProcCommit      = 21
)

// NFSv3 status codes, RFC 1813 §3.3.
const (
	StatusOK          = 0
	StatusPerm        = 1
	StatusNoEnt       = 2
	StatusIO          = 5
	StatusAcces       = 13
	StatusExist       = 17
	StatusNotDir      = 20
	StatusIsDir       = 21
	StatusInval       = 22
	StatusFBig        = 27
	StatusNoSpc       = 28
	StatusRofs        = 30
	StatusNameTooLong = 63
	StatusNotEmpty    = 66
	StatusStale       = 70
	StatusNotSync     = 10002
	StatusNotSupp     = 10004
)

// FSINFO property flags, RFC 1813 §3.3.19.
const (
	FSFLink        = 0x0001
	FSFSymlink     = 0x0002
	FSFHomogeneous = 0x0008
	FSFCanSetTime  = 0x0010
)

// File type values used in fattr3.Type, RFC 1813 §2.5.5.
const (
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeBlock     = 3
	FileTypeChar      = 4
	FileTypeSymlink   = 5
	FileTypeSocket    = 6
	FileTypeFifo      = 7
)

// ACCESS request/response bits, RFC 1813 §3.3.4.
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020
)

// WRITE stability modes, RFC 1813 §3.3.7.
const (
	WriteUnstable  = 0
	WriteDataSync  = 1
	WriteFileSync  = 2
)

// CREATE modes, RFC 1813 §3.3.8.
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)
