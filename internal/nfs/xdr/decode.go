package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// DecodeOpaque decodes XDR variable-length opaque data (RFC 4506 §4.10):
// a length, the bytes, then zero padding to the next 4-byte boundary.
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	const maxOpaqueLength = 1024 * 1024
	if length > maxOpaqueLength {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, maxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}
	return data, nil
}

// DecodeString decodes an XDR string using the same framing as opaque data.
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func timeValToTime(seconds, nseconds uint32) time.Time {
	return time.Unix(int64(seconds), int64(nseconds))
}

func timeToTimeVal(t time.Time) TimeVal {
	return TimeVal{Seconds: uint32(t.Unix()), Nseconds: uint32(t.Nanosecond())}
}

// DecodeSetAttrs decodes sattr3 (RFC 1813 §2.5.3): six discriminated-union
// fields, each a set-flag followed by a value when set. atime/mtime also
// support SET_TO_SERVER_TIME (2), where the server's own clock is used
// instead of a client-supplied value.
func DecodeSetAttrs(reader io.Reader) (*SetAttrs, error) {
	attr := &SetAttrs{}

	var setMode uint32
	if err := binary.Read(reader, binary.BigEndian, &setMode); err != nil {
		return nil, fmt.Errorf("read set_mode: %w", err)
	}
	attr.SetMode = setMode == 1
	if attr.SetMode {
		if err := binary.Read(reader, binary.BigEndian, &attr.Mode); err != nil {
			return nil, fmt.Errorf("read mode: %w", err)
		}
	}

	var setUID uint32
	if err := binary.Read(reader, binary.BigEndian, &setUID); err != nil {
		return nil, fmt.Errorf("read set_uid: %w", err)
	}
	attr.SetUID = setUID == 1
	if attr.SetUID {
		if err := binary.Read(reader, binary.BigEndian, &attr.UID); err != nil {
			return nil, fmt.Errorf("read uid: %w", err)
		}
	}

	var setGID uint32
	if err := binary.Read(reader, binary.BigEndian, &setGID); err != nil {
		return nil, fmt.Errorf("read set_gid: %w", err)
	}
	attr.SetGID = setGID == 1
	if attr.SetGID {
		if err := binary.Read(reader, binary.BigEndian, &attr.GID); err != nil {
			return nil, fmt.Errorf("read gid: %w", err)
		}
	}

	var setSize uint32
	if err := binary.Read(reader, binary.BigEndian, &setSize); err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	attr.SetSize = setSize == 1
	if attr.SetSize {
		if err := binary.Read(reader, binary.BigEndian, &attr.Size); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
	}

	if err := decodeSetTime(reader, &attr.SetAtime, &attr.Atime); err != nil {
		return nil, fmt.Errorf("read set_atime: %w", err)
	}
	if err := decodeSetTime(reader, &attr.SetMtime, &attr.Mtime); err != nil {
		return nil, fmt.Errorf("read set_mtime: %w", err)
	}

	return attr, nil
}

func decodeSetTime(reader io.Reader, set *bool, out *time.Time) error {
	var kind uint32
	if err := binary.Read(reader, binary.BigEndian, &kind); err != nil {
		return err
	}
	switch kind {
	case 0: // DONT_CHANGE
		*set = false
	case 1: // SET_TO_CLIENT_TIME
		*set = true
		var seconds, nseconds uint32
		if err := binary.Read(reader, binary.BigEndian, &seconds); err != nil {
			return fmt.Errorf("read seconds: %w", err)
		}
		if err := binary.Read(reader, binary.BigEndian, &nseconds); err != nil {
			return fmt.Errorf("read nseconds: %w", err)
		}
		*out = timeValToTime(seconds, nseconds)
	case 2: // SET_TO_SERVER_TIME
		*set = true
		*out = time.Now()
	default:
		return fmt.Errorf("invalid time discriminator: %d", kind)
	}
	return nil
}

// DecodeTimeGuard decodes the optional sattrguard3 carried by SETATTR.
func DecodeTimeGuard(reader io.Reader) (*TimeGuard, error) {
	var present uint32
	if err := binary.Read(reader, binary.BigEndian, &present); err != nil {
		return nil, fmt.Errorf("read guard present: %w", err)
	}
	if present == 0 {
		return &TimeGuard{Check: false}, nil
	}
	var seconds, nseconds uint32
	if err := binary.Read(reader, binary.BigEndian, &seconds); err != nil {
		return nil, fmt.Errorf("read guard seconds: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &nseconds); err != nil {
		return nil, fmt.Errorf("read guard nseconds: %w", err)
	}
	return &TimeGuard{Check: true, Time: TimeVal{Seconds: seconds, Nseconds: nseconds}}, nil
}
