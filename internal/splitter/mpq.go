package splitter

import "fmt"

const (
	mpqMagicHeader = 0x1A51504D // "MPQ\x1A"
	mpqMagicShunt  = 0x1B51504D // "MPQ\x1B"
)

// tryMPQ recognises Blizzard MPQ archives, following an optional shunt
// redirect to the real header, then enumerating the block table for
// non-zero file positions. Only format versions up to 2 are supported.
func tryMPQ(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 4 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, err1 := r.ReadU32()
	if err1 != nil {
		return nil, false, nil
	}

	for magic == mpqMagicShunt {
		headerpos, e1 := r.ReadU32()
		userdata, e2 := r.ReadU32()
		if e1 != nil || e2 != nil {
			return nil, true, fmt.Errorf("mpq shunt: short read")
		}
		if headerpos >= userdata {
			return nil, true, fmt.Errorf("mpq shunt: headerpos %d >= userdata %d", headerpos, userdata)
		}
		if err := r.SeekAbs(int(headerpos)); err != nil {
			return nil, true, fmt.Errorf("mpq shunt: headerpos %d out of range", headerpos)
		}
		magic, err1 = r.ReadU32()
		if err1 != nil {
			return nil, true, fmt.Errorf("mpq shunt: header magic short read")
		}
	}
	if magic != mpqMagicHeader {
		return nil, false, nil
	}

	if err := r.Skip(4 + 4); err != nil { // header_size, archive_size
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	formatVersion, e1 := r.ReadU16()
	if e1 != nil {
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	if err := r.Skip(2); err != nil { // block_size
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	if err := r.Skip(4); err != nil { // hash_table_pos
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	blockTablePosLow, e2 := r.ReadU32()
	if e2 != nil {
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	if err := r.Skip(4); err != nil { // hash_table_size
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	blockTableSize, e3 := r.ReadU32()
	if e3 != nil {
		return nil, true, fmt.Errorf("mpq header truncated")
	}
	blockTablePos := uint64(blockTablePosLow)

	if formatVersion > 2 {
		return nil, false, nil
	}

	var extBlockTablePos uint64
	if formatVersion > 1 {
		extLow, f1 := r.ReadU32()
		extHigh, f2 := r.ReadU32()
		hashHigh, f3 := r.ReadU16()
		blockHigh, f4 := r.ReadU16()
		if f1 != nil || f2 != nil || f3 != nil || f4 != nil {
			return nil, true, fmt.Errorf("mpq header_ex truncated")
		}
		blockTablePos |= uint64(hashHigh) << 32
		extBlockTablePos = uint64(extLow) | uint64(extHigh)<<32
		_ = blockHigh
	}

	if err := r.SeekAbs(int(blockTablePos)); err != nil {
		return nil, true, fmt.Errorf("mpq block table pos %d out of range", blockTablePos)
	}
	type block struct{ filepos, compressedSize uint32 }
	blocks := make([]block, blockTableSize)
	for i := range blocks {
		rec, err := r.ReadBytes(16)
		if err != nil {
			return nil, true, fmt.Errorf("mpq block %d: %w", i, err)
		}
		fr := newFieldReader(rec)
		filepos := fr.u32()
		compressedSize := fr.u32()
		blocks[i] = block{filepos: filepos, compressedSize: compressedSize}
	}

	blocksHigh := make([]uint16, len(blocks))
	if extBlockTablePos != 0 {
		if err := r.SeekAbs(int(extBlockTablePos)); err != nil {
			return nil, true, fmt.Errorf("mpq ext block table pos %d out of range", extBlockTablePos)
		}
		for i := range blocksHigh {
			v, err := r.ReadU16()
			if err != nil {
				return nil, true, fmt.Errorf("mpq ext block %d: %w", i, err)
			}
			blocksHigh[i] = v
		}
	}

	entries := make([]Entry, 0, len(blocks))
	for i, b := range blocks {
		blockPos := uint64(b.filepos) | uint64(blocksHigh[i])<<32
		if blockPos == 0 {
			continue
		}
		if !r.Contains(int(b.filepos), int(b.compressedSize)) {
			return nil, true, fmt.Errorf("mpq block %d: [%d,+%d) exceeds entry", i, b.filepos, b.compressedSize)
		}
		entries = append(entries, Entry{Offset: top.Offset + blockPos, Size: uint64(b.compressedSize)})
	}
	return entries, true, nil
}
