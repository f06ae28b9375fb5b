package rbyte

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned whenever a read would run past the end of the
// reader's bounded range. No Reader method ever panics or reads past its
// bound; every short read surfaces as this error instead.
var ErrShortRead = errors.New("rbyte: short read")

// ErrBounds is returned when an offset/size pair falls outside the reader's
// range, e.g. from Contains-validated callers that skip the check.
var ErrBounds = errors.New("rbyte: out of bounds")

// Reader is a bounds-checked little-endian cursor over a byte slice. All
// on-disk integers handled by this module's codecs are little-endian; Reader
// never supports anything else. The zero value is not usable; use NewReader.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for little-endian, bounds-checked reads starting at
// offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of bytes in the whole bounded range (not just the
// unread remainder).
func (r *Reader) Len() int { return len(r.buf) }

// Pos returns the current cursor offset from the start of this reader.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Contains reports whether [offset, offset+size) lies within this reader's
// range, without mutating the cursor. The splitter's recognisers validate
// offsets with Contains before trusting them.
func (r *Reader) Contains(offset, size int) bool {
	if offset < 0 || size < 0 {
		return false
	}
	end := offset + size
	if end < offset { // overflow
		return false
	}
	return end <= len(r.buf)
}

// SeekAbs moves the cursor to an absolute offset within the range.
func (r *Reader) SeekAbs(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("rbyte: seek to %d: %w", pos, ErrBounds)
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bytes (n may be negative to rewind).
func (r *Reader) Skip(n int) error {
	return r.SeekAbs(r.pos + n)
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("rbyte: need %d bytes at %d/%d: %w", n, r.pos, len(r.buf), ErrShortRead)
	}
	return nil
}

// ReadBytes reads the next n raw bytes and advances the cursor. The returned
// slice aliases the reader's backing array; it is only valid for the
// lifetime of that backing array.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadWithin carves out a child Reader over the next size bytes and advances
// this reader past them. The child shares the same backing array.
func (r *Reader) ReadWithin(size int) (*Reader, error) {
	b, err := r.ReadBytes(size)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadI8 reads one signed byte.
func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

// ReadI16 reads a little-endian int16.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

// ReadI32 reads a little-endian int32.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadI64 reads a little-endian int64.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// PeekI32At reads a little-endian int32 at an absolute offset without
// moving the cursor; used by the flatbuffer-style decoder to follow
// relative offsets without consuming them twice.
func (r *Reader) PeekI32At(offset int) (int32, error) {
	if err := r.rangeCheck(offset, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(r.buf[offset:])), nil
}

func (r *Reader) rangeCheck(offset, size int) error {
	if !r.Contains(offset, size) {
		return fmt.Errorf("rbyte: range [%d,%d) of %d: %w", offset, offset+size, len(r.buf), ErrBounds)
	}
	return nil
}

// BytesAt returns size raw bytes at an absolute offset without moving the
// cursor.
func (r *Reader) BytesAt(offset, size int) ([]byte, error) {
	if err := r.rangeCheck(offset, size); err != nil {
		return nil, err
	}
	return r.buf[offset : offset+size], nil
}
