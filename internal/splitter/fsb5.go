package splitter

import "fmt"

// tryFSB5 recognises the newer FSB5 container. Each TOC entry packs its
// sample's data offset into a u64: bits [6:33] give the offset in 16-byte
// units, and bit 0 chains extra metadata records to skip before the next
// sample's packed word. Offsets are sorted and consecutive offsets become
// entry boundaries; the trailing sample runs to the end of the data region.
func tryFSB5(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 4 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, _ := r.ReadBytes(4)
	if string(magic) != "FSB5" {
		return nil, false, nil
	}

	if err := r.Skip(4); err != nil { // version
		return nil, true, fmt.Errorf("fsb5 header truncated")
	}
	descCount, e1 := r.ReadU32()
	tocSize, e2 := r.ReadU32()
	stringsSize, e3 := r.ReadU32()
	dataSize, e4 := r.ReadU32()
	mode, e5 := r.ReadU32()
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
		return nil, true, fmt.Errorf("fsb5 header truncated")
	}
	_ = mode
	if err := r.Skip(8 + 16 + 8); err != nil { // zero, hash, dummy
		return nil, true, fmt.Errorf("fsb5 header truncated")
	}
	if uint64(tocSize)/8 < uint64(descCount) {
		return nil, true, fmt.Errorf("fsb5 toc_size %d too small for %d descriptors", tocSize, descCount)
	}

	tocReader, err := r.ReadWithin(int(tocSize))
	if err != nil {
		return nil, true, fmt.Errorf("fsb5 toc: %w", err)
	}
	if err := r.Skip(int(stringsSize)); err != nil {
		return nil, true, fmt.Errorf("fsb5 strings region truncated")
	}
	if r.Pos()%32 != 0 {
		return nil, true, fmt.Errorf("fsb5 data offset %d not 32-aligned", r.Pos())
	}
	if uint64(r.Remaining()) != uint64(dataSize) {
		return nil, true, fmt.Errorf("fsb5 data_size %d doesn't match remaining %d", dataSize, r.Remaining())
	}
	dataStartLocal := r.Pos()

	offsets := make([]uint64, descCount)
	for i := uint32(0); i != descCount; i++ {
		packed, err := tocReader.ReadU64()
		if err != nil {
			return nil, true, fmt.Errorf("fsb5 desc %d: short read", i)
		}
		for extra := packed & 1; extra&1 != 0; {
			e, err := tocReader.ReadU32()
			if err != nil {
				return nil, true, fmt.Errorf("fsb5 desc %d: extra metadata short read", i)
			}
			extra = uint64(e)
			extraSize := (extra >> 1) & 0xFFFFFF
			if err := tocReader.Skip(int(extraSize)); err != nil {
				return nil, true, fmt.Errorf("fsb5 desc %d: extra metadata truncated", i)
			}
		}
		offset := ((packed >> 6) & 0xFFFFFFF) * 16
		if offset > uint64(dataSize) {
			return nil, true, fmt.Errorf("fsb5 desc %d: offset %d exceeds data size %d", i, offset, dataSize)
		}
		offsets[i] = offset
	}
	sortU64(offsets)

	entries := make([]Entry, descCount)
	lastOffset := uint64(dataSize)
	for i := int(descCount); i != 0; i-- {
		off := offsets[i-1]
		entries[i-1] = Entry{
			Offset:      top.Offset + uint64(dataStartLocal) + off,
			Size:        lastOffset - off,
			HighEntropy: true,
		}
		lastOffset = off
	}
	if lastOffset != uint64(dataSize) && lastOffset != 0 {
		return nil, true, fmt.Errorf("fsb5 descriptor coverage ends at %d, expected 0 or %d", lastOffset, dataSize)
	}
	return entries, true, nil
}

func sortU64(v []uint64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
