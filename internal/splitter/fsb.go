package splitter

import "fmt"

// tryFSB recognises FMOD Sample Bank containers (FSB, versions '1'-'4'):
// a version-dependent header gives desc_count/toc_size/data_size, then a
// fixed-stride TOC of per-sample descriptors whose data_size (in bytes, the
// only field this splitter needs) is read out and rounded up to a 32-byte
// alignment to get each sample's slice of the trailing data region.
func tryFSB(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 4 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, _ := r.ReadBytes(3)
	if string(magic) != "FSB" {
		return nil, false, nil
	}
	verByte, err := r.ReadU8()
	if err != nil {
		return nil, false, nil
	}

	var descCount, tocSize, dataSize uint64
	var mode uint32
	switch verByte {
	case '1':
		dc, e1 := r.ReadU32()
		ds, e2 := r.ReadU32()
		if e1 != nil || e2 != nil {
			return nil, true, fmt.Errorf("fsb v1 header truncated")
		}
		if err := r.Skip(4); err != nil {
			return nil, true, fmt.Errorf("fsb v1 header truncated")
		}
		descCount, dataSize = uint64(dc), uint64(ds)
		tocSize = descCount * 64
	case '2':
		dc, e1 := r.ReadU32()
		ts, e2 := r.ReadU32()
		ds, e3 := r.ReadU32()
		if e1 != nil || e2 != nil || e3 != nil {
			return nil, true, fmt.Errorf("fsb v2 header truncated")
		}
		descCount, tocSize, dataSize = uint64(dc), uint64(ts), uint64(ds)
	case '3':
		dc, e1 := r.ReadU32()
		ts, e2 := r.ReadU32()
		ds, e3 := r.ReadU32()
		if e1 != nil || e2 != nil || e3 != nil {
			return nil, true, fmt.Errorf("fsb v3 header truncated")
		}
		if err := r.Skip(4); err != nil { // version field
			return nil, true, fmt.Errorf("fsb v3 header truncated")
		}
		m, err := r.ReadU32()
		if err != nil {
			return nil, true, fmt.Errorf("fsb v3 mode: short read")
		}
		descCount, tocSize, dataSize, mode = uint64(dc), uint64(ts), uint64(ds), m
	case '4':
		dc, e1 := r.ReadU32()
		ts, e2 := r.ReadU32()
		ds, e3 := r.ReadU32()
		if e1 != nil || e2 != nil || e3 != nil {
			return nil, true, fmt.Errorf("fsb v4 header truncated")
		}
		if err := r.Skip(4); err != nil { // version field
			return nil, true, fmt.Errorf("fsb v4 header truncated")
		}
		m, err := r.ReadU32()
		if err != nil {
			return nil, true, fmt.Errorf("fsb v4 mode: short read")
		}
		if err := r.Skip(8 + 16); err != nil { // zero + hash
			return nil, true, fmt.Errorf("fsb v4 header truncated")
		}
		descCount, tocSize, dataSize, mode = uint64(dc), uint64(ts), uint64(ds), m
	default:
		return nil, false, nil
	}
	if tocSize/8 < descCount {
		return nil, true, fmt.Errorf("fsb toc_size %d too small for %d descriptors", tocSize, descCount)
	}

	tocReader, err := r.ReadWithin(int(tocSize))
	if err != nil {
		return nil, true, fmt.Errorf("fsb toc: %w", err)
	}
	dataOffsetLocal := r.Pos()
	if dataOffsetLocal%32 != 0 {
		return nil, true, fmt.Errorf("fsb data offset %d not 32-aligned", dataOffsetLocal)
	}
	if uint64(r.Remaining()) != dataSize {
		return nil, true, fmt.Errorf("fsb data_size %d doesn't match remaining %d", dataSize, r.Remaining())
	}

	entries := make([]Entry, 0, descCount)
	dataOffset := uint64(dataOffsetLocal)
	for i := uint64(0); i != descCount; i++ {
		var sampleSize uint32
		switch verByte {
		case '1':
			if err := tocReader.Skip(32 + 4); err != nil {
				return nil, true, fmt.Errorf("fsb v1 desc %d: truncated", i)
			}
			sz, err := tocReader.ReadU32()
			if err != nil {
				return nil, true, fmt.Errorf("fsb v1 desc %d: short read", i)
			}
			if err := tocReader.Skip(64 - 40); err != nil {
				return nil, true, fmt.Errorf("fsb v1 desc %d: truncated", i)
			}
			sampleSize = sz
		default: // '2','3','4'
			if mode&2 == 0 {
				varSize, err := tocReader.ReadU16()
				if err != nil {
					return nil, true, fmt.Errorf("fsb desc %d: short read", i)
				}
				if err := tocReader.Skip(30 + 4); err != nil {
					return nil, true, fmt.Errorf("fsb desc %d: truncated", i)
				}
				sz, err := tocReader.ReadU32()
				if err != nil {
					return nil, true, fmt.Errorf("fsb desc %d: short read", i)
				}
				if varSize < 40 {
					return nil, true, fmt.Errorf("fsb desc %d: var size %d < 40", i, varSize)
				}
				if err := tocReader.Skip(int(varSize) - 40); err != nil {
					return nil, true, fmt.Errorf("fsb desc %d: truncated", i)
				}
				sampleSize = sz
				break
			}
			if err := tocReader.Skip(4); err != nil {
				return nil, true, fmt.Errorf("fsb desc %d: truncated", i)
			}
			sz, err := tocReader.ReadU32()
			if err != nil {
				return nil, true, fmt.Errorf("fsb desc %d: short read", i)
			}
			sampleSize = sz
		}
		size := (uint64(sampleSize) + 31) / 32 * 32
		if !r.Contains(int(dataOffset), int(size)) {
			return nil, true, fmt.Errorf("fsb desc %d: [%d,+%d) exceeds entry", i, dataOffset, size)
		}
		entries = append(entries, Entry{
			Offset:      top.Offset + dataOffset,
			Size:        size,
			HighEntropy: true,
		})
		dataOffset += size
	}
	if dataOffset != top.Size {
		return nil, true, fmt.Errorf("fsb descriptors cover %d bytes, expected %d", dataOffset, top.Size)
	}
	return entries, true, nil
}
