package rpc

import (
	"encoding/binary"
	"fmt"
)

// RPCCallMessage is the fixed header of every ONC-RPC call, RFC 5531 §9:
// XID, message type, RPC version, program/version/procedure, then a
// credential and a verifier. Procedure-specific arguments follow in the
// stream and are decoded separately by ReadData.
type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// RPCReplyMessage is the fixed header of an ONC-RPC reply, RFC 5531 §9.
// Procedure results (or, for PROG_MISMATCH, a version range) follow in
// the stream past AcceptStat.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// OpaqueAuth carries a credential or verifier: an opaque flavor-tagged
// byte string the RPC layer itself never interprets. The xdr struct tag
// tells the go-xdr reflection codec to marshal Body as XDR opaque data
// (length prefix, bytes, zero padding) rather than a fixed-size array.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// GetAuthFlavor returns the credential's authentication flavor (AuthNull,
// AuthUnix, ...).
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw, still XDR-encoded credential body. Decode
// it with ParseUnixAuth when GetAuthFlavor reports AuthUnix.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}

// UnixAuth is the AUTH_UNIX credential (RFC 5531 §9.2): a client-supplied
// stamp and hostname, the calling user's uid/gid, and supplementary gids.
// The exporter does not use it for access decisions: ACCESS grants every
// requested bit.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

const maxMachineNameLen = 255
const maxGIDs = 16

// ParseUnixAuth decodes an AUTH_UNIX credential body. The wire format
// (RFC 5531 §9.2) is: stamp, an opaque machine name, uid, gid, then a
// counted array of supplementary gids.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("auth_unix: body empty or too short")
	}

	offset := 0
	readUint32 := func() (uint32, error) {
		if offset+4 > len(body) {
			return 0, fmt.Errorf("auth_unix: truncated at offset %d", offset)
		}
		v := binary.BigEndian.Uint32(body[offset : offset+4])
		offset += 4
		return v, nil
	}

	stamp, err := readUint32()
	if err != nil {
		return nil, err
	}

	nameLen, err := readUint32()
	if err != nil {
		return nil, err
	}
	if nameLen > maxMachineNameLen {
		return nil, fmt.Errorf("auth_unix: machine name too long (%d)", nameLen)
	}
	if offset+int(nameLen) > len(body) {
		return nil, fmt.Errorf("auth_unix: truncated machine name")
	}
	name := string(body[offset : offset+int(nameLen)])
	offset += int(nameLen)
	offset += int(XdrPadding(nameLen))

	uid, err := readUint32()
	if err != nil {
		return nil, err
	}
	gid, err := readUint32()
	if err != nil {
		return nil, err
	}

	gidCount, err := readUint32()
	if err != nil {
		return nil, err
	}
	if gidCount > maxGIDs {
		return nil, fmt.Errorf("auth_unix: too many gids (%d)", gidCount)
	}
	gids := make([]uint32, gidCount)
	for i := range gids {
		g, err := readUint32()
		if err != nil {
			return nil, err
		}
		gids[i] = g
	}

	return &UnixAuth{
		Stamp:       stamp,
		MachineName: name,
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}, nil
}
