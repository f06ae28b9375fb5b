package splitter

import "fmt"

const wadDescSize = 32

// tryWAD recognises the RW-magic WAD container. The header layout switches
// on the version byte: v0/v1 use 16-bit toc_start/desc_size with a 32-bit
// desc_count; v2 adds an 84-byte signature + 8-byte checksum; v3 uses a
// fixed 256-byte signature with toc_start/desc_size pinned at 272/32.
func tryWAD(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Offset != 0 || top.Size < 4 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, _ := r.ReadBytes(2)
	if string(magic) != "RW" {
		return nil, false, nil
	}
	verMajor, _ := r.ReadU8()
	if _, err := r.ReadU8(); err != nil { // version minor, unused
		return nil, false, nil
	}
	if verMajor > 10 {
		return nil, false, nil
	}

	var tocStart, descSize, descCount uint64
	switch verMajor {
	case 0, 1:
		if top.Size < 12 {
			return nil, true, fmt.Errorf("wad v1 header truncated")
		}
		ts, err1 := r.ReadU16()
		ds, err2 := r.ReadU16()
		dc, err3 := r.ReadU32()
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, true, fmt.Errorf("wad v1 header: short read")
		}
		tocStart, descSize, descCount = uint64(ts), uint64(ds), uint64(dc)
	case 2:
		if top.Size < 4+84+8+2+2+4 {
			return nil, true, fmt.Errorf("wad v2 header truncated")
		}
		if _, err := r.ReadBytes(84 + 8); err != nil {
			return nil, true, fmt.Errorf("wad v2 signature/checksum: short read")
		}
		ts, err1 := r.ReadU16()
		ds, err2 := r.ReadU16()
		dc, err3 := r.ReadU32()
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, true, fmt.Errorf("wad v2 header: short read")
		}
		tocStart, descSize, descCount = uint64(ts), uint64(ds), uint64(dc)
	case 3:
		if top.Size < 4+256+8+4 {
			return nil, true, fmt.Errorf("wad v3 header truncated")
		}
		if _, err := r.ReadBytes(256 + 8); err != nil {
			return nil, true, fmt.Errorf("wad v3 signature/checksum: short read")
		}
		dc, err := r.ReadU32()
		if err != nil {
			return nil, true, fmt.Errorf("wad v3 desc_count: short read")
		}
		tocStart, descSize, descCount = 272, wadDescSize, uint64(dc)
	default:
		return nil, true, fmt.Errorf("unknown WAD version %d", verMajor)
	}

	tocSize := descSize * descCount
	if top.Size < tocStart || top.Size-tocStart < tocSize {
		return nil, true, fmt.Errorf("wad toc [%d,+%d) exceeds entry size %d", tocStart, tocSize, top.Size)
	}
	tocStart += top.Offset

	entries := make([]Entry, 0, descCount+1)
	entries = append(entries, Entry{Offset: tocStart, Size: tocSize})

	for i := uint64(0); i != descCount; i++ {
		rec, err := r.BytesAt(int(tocStart-top.Offset+i*descSize), int(descSize))
		if err != nil {
			return nil, true, fmt.Errorf("wad desc %d: %w", i, err)
		}
		dr := newFieldReader(rec)
		_ = dr.u64() // path hash, unused by the splitter
		offset := dr.u32()
		sizeCompressed := dr.u32()
		_ = dr.u32() // size_uncompressed, unused here
		typeAndSub := dr.u8()
		typ := typeAndSub & 0x0F

		entry := Entry{
			Offset:      top.Offset + uint64(offset),
			Size:        uint64(sizeCompressed),
			HighEntropy: typ == 1 || typ > 2, // 0=raw, 1=zlib, 2=link
			Nest:        typ == 0,
		}
		if entry.Offset < tocStart+tocSize {
			return nil, true, fmt.Errorf("wad desc %d: offset %d overlaps toc", i, entry.Offset)
		}
		if top.end() < entry.Offset || top.end()-entry.Offset < entry.Size {
			return nil, true, fmt.Errorf("wad desc %d: entry [%d,+%d) exceeds parent", i, entry.Offset, entry.Size)
		}
		entries = append(entries, entry)
	}
	return entries, true, nil
}

// fieldReader is a tiny unchecked little-endian cursor over a single
// already-bounds-validated record, used by the WAD/WPK descriptor decoders
// to pull fixed fields without re-deriving per-field offsets by hand.
type fieldReader struct {
	b   []byte
	pos int
}

func newFieldReader(b []byte) *fieldReader { return &fieldReader{b: b} }

func (f *fieldReader) u8() uint8 {
	v := f.b[f.pos]
	f.pos++
	return v
}

func (f *fieldReader) u32() uint32 {
	v := uint32(f.b[f.pos]) | uint32(f.b[f.pos+1])<<8 | uint32(f.b[f.pos+2])<<16 | uint32(f.b[f.pos+3])<<24
	f.pos += 4
	return v
}

func (f *fieldReader) u64() uint64 {
	lo := uint64(f.u32())
	hi := uint64(f.u32())
	return lo | hi<<32
}
