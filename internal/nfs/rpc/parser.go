package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ReadCall unmarshals the fixed ONC-RPC call header from the front of a
// record-marked RPC message. Procedure arguments, if any, follow in the
// stream and are extracted separately by ReadData.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), call); err != nil {
		return nil, fmt.Errorf("unmarshal rpc call: %w", err)
	}
	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}
	return call, nil
}

// ReadData returns the procedure-specific argument bytes that follow the
// RPC header: the fixed 24-byte header, then the credential and verifier,
// each a flavor, a length, opaque data, and XDR padding to a 4-byte
// boundary. The offsets are computed by hand rather than via the
// reflection codec since argument shape depends on program/procedure,
// which isn't known to this package.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	offset := 24

	offset += 4
	if offset+4 > len(message) {
		return []byte{}, nil
	}
	credLen := binary.BigEndian.Uint32(message[offset : offset+4])
	offset += 4
	offset += int(credLen)
	offset += int(XdrPadding(credLen))

	offset += 4
	if offset+4 > len(message) {
		return []byte{}, nil
	}
	verfLen := binary.BigEndian.Uint32(message[offset : offset+4])
	offset += 4
	offset += int(verfLen)
	offset += int(XdrPadding(verfLen))

	if offset >= len(message) {
		return []byte{}, nil
	}
	return message[offset:], nil
}

// MakeSuccessReply builds a complete record-marked RPC reply carrying
// already-XDR-encoded procedure results, with an AUTH_NULL verifier and
// AcceptStat SUCCESS.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	return makeReply(xid, RPCSuccess, data)
}

// MakeErrorReply builds a record-marked RPC reply with no result body,
// for cases where the call was accepted but execution failed (e.g.
// RPCSystemErr, RPCProcUnavail).
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	return makeReply(xid, acceptStat, nil)
}

func makeReply(xid uint32, acceptStat uint32, data []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}

	const replyHeaderSize = 28
	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+len(data)))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal rpc reply: %w", err)
	}
	if data != nil {
		buf.Write(data)
	}

	replyData := buf.Bytes()
	fragmentHeader := make([]byte, 4)
	binary.BigEndian.PutUint32(fragmentHeader, 0x80000000|uint32(len(replyData)))

	result := make([]byte, 0, 4+len(replyData))
	result = append(result, fragmentHeader...)
	result = append(result, replyData...)
	return result, nil
}

// XdrPadding returns the number of zero bytes needed to round length up
// to the next 4-byte boundary, per RFC 4506 §3.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
