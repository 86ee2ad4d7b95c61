package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dmitrijs2005/fileshare/internal/common"
)

// Entry is one line of a LIST response.
type Entry struct {
	Name string
	Size uint64
}

// EncodeUpload builds an UPLOAD payload: [2 bytes name length][name][8 bytes size].
func EncodeUpload(name string, size uint64) ([]byte, error) {
	if len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("name of %d bytes: %w", len(name), common.ErrInvalidName)
	}
	p := make([]byte, 2+len(name)+8)
	binary.BigEndian.PutUint16(p, uint16(len(name)))
	copy(p[2:], name)
	binary.BigEndian.PutUint64(p[2+len(name):], size)
	return p, nil
}

// DecodeUpload parses an UPLOAD payload. The name is returned unvalidated.
func DecodeUpload(p []byte) (string, uint64, error) {
	if len(p) < 2 {
		return "", 0, fmt.Errorf("upload header of %d bytes: %w", len(p), common.ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint16(p))
	if len(p) != 2+n+8 {
		return "", 0, fmt.Errorf("upload header of %d bytes for name of %d: %w", len(p), n, common.ErrMalformedFrame)
	}
	return string(p[2 : 2+n]), binary.BigEndian.Uint64(p[2+n:]), nil
}

// EncodeSize is the payload of an OK frame carrying a byte count.
func EncodeSize(size uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, size)
}

func DecodeSize(p []byte) (uint64, error) {
	if len(p) != 8 {
		return 0, fmt.Errorf("size payload of %d bytes: %w", len(p), common.ErrMalformedFrame)
	}
	return binary.BigEndian.Uint64(p), nil
}

// EncodeList builds a LIST response payload:
// [4 bytes count] then per entry [2 bytes name length][name][8 bytes size].
// It fails if the result would not fit in maxPayload.
func EncodeList(entries []Entry, maxPayload uint32) ([]byte, error) {
	total := 4
	for _, e := range entries {
		if len(e.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("name of %d bytes: %w", len(e.Name), common.ErrInvalidName)
		}
		total += 2 + len(e.Name) + 8
	}
	if uint64(total) > uint64(maxPayload) {
		return nil, fmt.Errorf("listing of %d entries needs %d bytes, limit %d: %w",
			len(entries), total, maxPayload, common.ErrIOFailure)
	}

	p := make([]byte, 0, total)
	p = binary.BigEndian.AppendUint32(p, uint32(len(entries)))
	for _, e := range entries {
		p = binary.BigEndian.AppendUint16(p, uint16(len(e.Name)))
		p = append(p, e.Name...)
		p = binary.BigEndian.AppendUint64(p, e.Size)
	}
	return p, nil
}

func DecodeList(p []byte) ([]Entry, error) {
	if len(p) < 4 {
		return nil, fmt.Errorf("list payload of %d bytes: %w", len(p), common.ErrMalformedFrame)
	}
	count := binary.BigEndian.Uint32(p)
	p = p[4:]
	// each entry needs at least 10 bytes
	if uint64(count)*10 > uint64(len(p)) {
		return nil, fmt.Errorf("list declares %d entries in %d bytes: %w", count, len(p), common.ErrMalformedFrame)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(p) < 2 {
			return nil, fmt.Errorf("list entry %d: %w", i, common.ErrMalformedFrame)
		}
		n := int(binary.BigEndian.Uint16(p))
		if len(p) < 2+n+8 {
			return nil, fmt.Errorf("list entry %d: %w", i, common.ErrMalformedFrame)
		}
		entries = append(entries, Entry{
			Name: string(p[2 : 2+n]),
			Size: binary.BigEndian.Uint64(p[2+n:]),
		})
		p = p[2+n+8:]
	}
	if len(p) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after list: %w", len(p), common.ErrMalformedFrame)
	}
	return entries, nil
}
