package manifest

import (
	"encoding/binary"
	"fmt"
)

// offset is a cursor into the decompressed manifest body: a position plus
// the bound it may not read past. A nil buf marks an absent field (the
// flatbuffer convention of a zero voffset). None of the as* methods
// advance cur themselves; callers step cur explicitly between reads,
// since a single offset is reused to read several adjacent fields.
type offset struct {
	buf []byte
	cur int32
	end int32
}

func (o offset) valid() bool { return o.buf != nil }

func (o offset) need(n int32) error {
	if o.cur < 0 || n < 0 || o.cur+n > o.end {
		return fmt.Errorf("manifest: need %d bytes at %d/%d: %w", n, o.cur, o.end, ErrMalformed)
	}
	return nil
}

func (o offset) bytes(n int32) ([]byte, error) {
	if err := o.need(n); err != nil {
		return nil, err
	}
	return o.buf[o.cur : o.cur+n], nil
}

func (o offset) asU8() (uint8, error) {
	if !o.valid() {
		return 0, nil
	}
	b, err := o.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (o offset) asU16() (uint16, error) {
	if !o.valid() {
		return 0, nil
	}
	b, err := o.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (o offset) asU32() (uint32, error) {
	if !o.valid() {
		return 0, nil
	}
	b, err := o.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (o offset) asU64() (uint64, error) {
	if !o.valid() {
		return 0, nil
	}
	b, err := o.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (o offset) asI32() (int32, error) {
	v, err := o.asU32()
	return int32(v), err
}

// asOffset follows one relative-offset indirection: the value stored at
// cur is a signed displacement to the field's real location, or 0 for
// absent. This is the single operation every non-scalar field (string,
// vector, nested table) performs before it can be read.
func (o offset) asOffset() (offset, error) {
	if !o.valid() {
		return offset{}, nil
	}
	rel, err := o.asI32()
	if err != nil {
		return offset{}, err
	}
	if rel == 0 {
		return offset{}, nil
	}
	result := o
	result.cur += rel
	if result.cur < 0 || result.cur > result.end {
		return offset{}, fmt.Errorf("manifest: indirect offset %d out of bounds: %w", result.cur, ErrMalformed)
	}
	return result, nil
}

func (o offset) asString() (string, error) {
	strOff, err := o.asOffset()
	if err != nil || !strOff.valid() {
		return "", err
	}
	size, err := strOff.asI32()
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	if size < 0 || size > 4096 {
		return "", fmt.Errorf("manifest: string length %d out of range: %w", size, ErrMalformed)
	}
	strOff.cur += 4
	b, err := strOff.bytes(size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// asU64Vector reads a vector of inline 8-byte scalars (chunk ID lists).
func (o offset) asU64Vector() ([]uint64, error) {
	vecOff, err := o.asOffset()
	if err != nil || !vecOff.valid() {
		return nil, err
	}
	size, err := vecOff.asI32()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("manifest: negative vector length %d: %w", size, ErrMalformed)
	}
	vecOff.cur += 4
	raw, err := vecOff.bytes(size * 8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, size)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return out, nil
}

// table is a decoded vtable: the field-index-to-in-table-byte-offset map,
// plus the bounded table region scalar fields are read from directly.
type table struct {
	beg  offset
	offs []uint16
}

// asTable resolves a table-valued field: one indirection to the table's
// start, then a second (the soffset stored there) to its vtable.
func (o offset) asTable() (table, error) {
	tabOff, err := o.asOffset()
	if err != nil {
		return table{}, err
	}
	if !tabOff.valid() {
		return table{}, fmt.Errorf("manifest: required table field is absent: %w", ErrMalformed)
	}
	rel, err := tabOff.asI32()
	if err != nil {
		return table{}, err
	}
	vt := tabOff
	vt.cur -= rel
	if vt.cur < 0 || vt.cur > vt.end {
		return table{}, fmt.Errorf("manifest: vtable offset %d out of bounds: %w", vt.cur, ErrMalformed)
	}
	vtableSize, err := vt.asU16()
	if err != nil {
		return table{}, err
	}
	if vtableSize < 4 || vtableSize%2 != 0 {
		return table{}, fmt.Errorf("manifest: invalid vtable size %d: %w", vtableSize, ErrMalformed)
	}
	if vt.cur+int32(vtableSize) > vt.end {
		return table{}, fmt.Errorf("manifest: vtable extends past body: %w", ErrMalformed)
	}
	vt.cur += 2 // struct_size, unused by this codec beyond its presence
	vt.cur += 2
	membersSize := int32(vtableSize) - 4
	raw, err := vt.bytes(membersSize)
	if err != nil {
		return table{}, err
	}
	offs := make([]uint16, membersSize/2)
	for i := range offs {
		offs[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return table{beg: tabOff, offs: offs}, nil
}

// field looks up a table field by index, returning an absent offset (nil
// buf) for indices past the vtable's extent — the flatbuffer convention
// for fields a newer writer added that an older reader doesn't know about.
func (t table) field(index int) (offset, error) {
	if !t.beg.valid() {
		return offset{}, fmt.Errorf("manifest: indexing an empty table: %w", ErrMalformed)
	}
	var voffset uint16
	if index < len(t.offs) {
		voffset = t.offs[index]
	}
	if voffset == 0 {
		return offset{}, nil
	}
	result := t.beg
	result.cur += int32(voffset)
	return result, nil
}

// asTableSlice reads a vector of table-valued elements: each element is
// itself a relative offset to a table, resolved independently.
func (o offset) asTableSlice() ([]table, error) {
	vecOff, err := o.asOffset()
	if err != nil || !vecOff.valid() {
		return nil, err
	}
	size, err := vecOff.asI32()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("manifest: negative vector length %d: %w", size, ErrMalformed)
	}
	vecOff.cur += 4
	if err := vecOff.need(size * 4); err != nil {
		return nil, err
	}
	out := make([]table, size)
	item := vecOff
	for i := range out {
		tab, err := item.asTable()
		if err != nil {
			return nil, err
		}
		out[i] = tab
		item.cur += 4
	}
	return out, nil
}
