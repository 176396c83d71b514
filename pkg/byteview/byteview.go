// Package byteview provides a bounds-checked, read-only view over a byte
// buffer, used by the elf and btf packages to decode fixed-layout records
// without ever producing a reference that straddles the end of the buffer.
package byteview

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// ByteView is a read-only slice plus a cursor convention: every Read*
// method takes an explicit offset rather than advancing internal state, so
// callers can re-read the same region from multiple call sites without
// aliasing concerns.
type ByteView struct {
	data []byte
}

// New wraps the given bytes. The ByteView does not copy them; the caller
// must not mutate data for the lifetime of the view.
func New(data []byte) ByteView {
	return ByteView{data: data}
}

// Len returns the length of the underlying buffer.
func (v ByteView) Len() int {
	return len(v.data)
}

// Bytes returns the full underlying buffer. Callers must not mutate it.
func (v ByteView) Bytes() []byte {
	return v.data
}

// ReadFixed returns a view of exactly size bytes at offset, or
// loaderr.ErrOutOfBounds if the range exceeds the buffer.
func (v ByteView) ReadFixed(offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > len(v.data) {
		return nil, fmt.Errorf("reading %d bytes at offset %d (buffer len %d): %w",
			size, offset, len(v.data), loaderr.ErrOutOfBounds)
	}
	return v.data[offset : offset+size], nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (v ByteView) ReadUint16(offset int) (uint16, error) {
	b, err := v.ReadFixed(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (v ByteView) ReadUint32(offset int) (uint32, error) {
	b, err := v.ReadFixed(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64 reads a little-endian uint64 at offset.
func (v ByteView) ReadUint64(offset int) (uint64, error) {
	b, err := v.ReadFixed(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadCString scans forward from offset within table until it finds a NUL
// byte or the end of table, and returns the intermediate bytes interpreted
// as UTF-8. Returns loaderr.ErrInvalidEncoding on non-UTF-8 content and
// loaderr.ErrOutOfBounds if offset is outside table.
func ReadCString(table []byte, offset int) (string, error) {
	if offset < 0 || offset > len(table) {
		return "", fmt.Errorf("cstring offset %d exceeds table len %d: %w",
			offset, len(table), loaderr.ErrOutOfBounds)
	}

	end := offset
	for end < len(table) && table[end] != 0 {
		end++
	}

	raw := table[offset:end]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("cstring at offset %d is not valid UTF-8: %w",
			offset, loaderr.ErrInvalidEncoding)
	}

	return string(raw), nil
}
