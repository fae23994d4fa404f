package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeOptionalOpaque encodes optional XDR opaque data (RFC 1813 §2.4):
// a present flag, then length-prefixed, zero-padded bytes when present.
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	length := uint32(len(data))
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	for range padding {
		if err := buf.WriteByte(0); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// EncodeOptionalFileAttr encodes post_op_attr: a present flag followed by
// fattr3 when present.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *FileAttr) error {
	if attr == nil {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return EncodeFileAttr(buf, attr)
}

// EncodeWccData encodes wcc_data: optional pre-op wcc_attr followed by
// optional post-op fattr3, used by every mutating procedure so the client
// can detect concurrent modification.
func EncodeWccData(buf *bytes.Buffer, before *WccAttr, after *FileAttr) error {
	if before != nil {
		if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
			return fmt.Errorf("write before present: %w", err)
		}
		if err := encodeWccAttr(buf, before); err != nil {
			return fmt.Errorf("encode before attributes: %w", err)
		}
	} else {
		if err := binary.Write(buf, binary.BigEndian, uint32(0)); err != nil {
			return fmt.Errorf("write before not present: %w", err)
		}
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}
	return nil
}

func encodeWccAttr(buf *bytes.Buffer, attr *WccAttr) error {
	if attr == nil {
		return fmt.Errorf("wcc_attr is nil")
	}
	if err := binary.Write(buf, binary.BigEndian, attr.Size); err != nil {
		return fmt.Errorf("write size: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, attr.Mtime.Seconds); err != nil {
		return fmt.Errorf("write mtime seconds: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, attr.Mtime.Nseconds); err != nil {
		return fmt.Errorf("write mtime nseconds: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, attr.Ctime.Seconds); err != nil {
		return fmt.Errorf("write ctime seconds: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, attr.Ctime.Nseconds); err != nil {
		return fmt.Errorf("write ctime nseconds: %w", err)
	}
	return nil
}

// EncodeFileAttr encodes fattr3 in RFC 1813 field order.
func EncodeFileAttr(buf *bytes.Buffer, attr *FileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}

	fields := []any{
		attr.Type, attr.Mode, attr.Nlink, attr.UID, attr.GID,
		attr.Size, attr.Used, attr.Rdev, attr.Fsid, attr.Fileid,
		attr.Atime.Seconds, attr.Atime.Nseconds,
		attr.Mtime.Seconds, attr.Mtime.Nseconds,
		attr.Ctime.Seconds, attr.Ctime.Nseconds,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f); err != nil {
			return fmt.Errorf("write fattr3 field: %w", err)
		}
	}
	return nil
}

// EncodeDirEntry encodes one entry3 (fileid, name, cookie) with a leading
// "present" flag, as used by READDIR's linked-list wire representation.
func EncodeDirEntry(buf *bytes.Buffer, e *DirEntry) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write entry present flag: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, e.Fileid); err != nil {
		return fmt.Errorf("write fileid: %w", err)
	}
	if err := EncodeOptionalOpaque(buf, []byte(e.Name)); err != nil {
		return fmt.Errorf("write name: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, e.Cookie); err != nil {
		return fmt.Errorf("write cookie: %w", err)
	}
	return nil
}

// EncodeFSStat encodes the FSSTAT3res success body.
func EncodeFSStat(buf *bytes.Buffer, s *FSStat) error {
	fields := []any{
		s.TotalBytes, s.FreeBytes, s.AvailBytes,
		s.TotalFiles, s.FreeFiles, s.AvailFiles,
		s.Invarsec,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.BigEndian, f); err != nil {
			return fmt.Errorf("write fsstat field: %w", err)
		}
	}
	return nil
}
