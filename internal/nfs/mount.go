package nfs

import (
	"bytes"
	"encoding/binary"

	"github.com/vibefs/vibed/internal/nfs/rpc"
	"github.com/vibefs/vibed/internal/nfs/xdr"
)

// Mount protocol (RFC 1813 Appendix I) procedure numbers. Program 100005.
const (
	mountProcNull    = 0
	mountProcMnt     = 1
	mountProcDump    = 2
	mountProcUmnt    = 3
	mountProcUmntAll = 4
	mountProcExport  = 5
)

const mountStatusOK = 0

// replyMount answers the handful of MOUNT calls a real NFSv3 client
// issues before it ever speaks to the NFS program: MNT to fetch the
// export's root file handle, and UMNT/UMNTALL/DUMP/EXPORT as effectively
// no-ops since this exporter only ever has the one root export and no
// other clients to report on.
func (s *Server) replyMount(call *rpc.RPCCallMessage, args []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch call.Procedure {
	case mountProcNull:
		// void

	case mountProcMnt:
		if err := binary.Write(&buf, binary.BigEndian, uint32(mountStatusOK)); err != nil {
			return nil, err
		}
		if err := xdr.EncodeOptionalOpaque(&buf, EncodeHandle(rootInodeID)); err != nil {
			return nil, err
		}
		// auth_flavors<>: one entry, AUTH_UNIX.
		if err := binary.Write(&buf, binary.BigEndian, uint32(1)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(rpc.AuthUnix)); err != nil {
			return nil, err
		}

	case mountProcDump:
		// mountlist is a linked list; an empty list is a single "no next
		// entry" flag.
		if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil {
			return nil, err
		}

	case mountProcUmnt, mountProcUmntAll:
		// void

	case mountProcExport:
		// exports is a linked list; empty the same way as DUMP.
		if err := binary.Write(&buf, binary.BigEndian, uint32(0)); err != nil {
			return nil, err
		}

	default:
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	return rpc.MakeSuccessReply(call.XID, buf.Bytes())
}
