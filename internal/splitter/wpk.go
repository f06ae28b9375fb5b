package splitter

import "fmt"

// tryWPK recognises the r3d2-magic WPK container: an indirect offset table
// (toc_start, fixed at 12 for version 1) of u32 entry offsets, each pointing
// to an {offset:u32, size:u32} descriptor. Every emitted entry is
// HighEntropy (WPK payloads are always stored compressed).
func tryWPK(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Offset != 0 || top.Size < 8 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, _ := r.ReadBytes(4)
	if string(magic) != "r3d2" {
		return nil, false, nil
	}
	version, err := r.ReadU32()
	if err != nil || version > 10 {
		return nil, false, nil
	}
	if version != 1 {
		return nil, true, fmt.Errorf("unsupported WPK version %d", version)
	}

	if top.Size < 12 {
		return nil, true, fmt.Errorf("wpk v1 header truncated")
	}
	descCount, err := r.ReadU32()
	if err != nil {
		return nil, true, fmt.Errorf("wpk desc_count: short read")
	}
	const tocStartLocal = 12
	tocSize := uint64(4) * uint64(descCount)
	if top.Size < tocStartLocal || top.Size-tocStartLocal < tocSize {
		return nil, true, fmt.Errorf("wpk toc [%d,+%d) exceeds entry size %d", tocStartLocal, tocSize, top.Size)
	}
	tocStart := top.Offset + tocStartLocal

	entries := make([]Entry, 0, descCount+1)
	entries = append(entries, Entry{Offset: tocStart, Size: tocSize})

	for i := uint32(0); i != descCount; i++ {
		offBytes, err := r.BytesAt(int(tocStartLocal+uint64(i)*4), 4)
		if err != nil {
			return nil, true, fmt.Errorf("wpk toc entry %d: %w", i, err)
		}
		entryOffset := uint64(newFieldReader(offBytes).u32())
		if top.Size < entryOffset || top.Size-entryOffset < 8 {
			return nil, true, fmt.Errorf("wpk toc entry %d: desc offset %d out of range", i, entryOffset)
		}
		if top.Offset+entryOffset < tocStart+tocSize {
			return nil, true, fmt.Errorf("wpk toc entry %d: desc location %d overlaps toc", i, entryOffset)
		}
		descBytes, err := r.BytesAt(int(entryOffset), 8)
		if err != nil {
			return nil, true, fmt.Errorf("wpk desc %d: %w", i, err)
		}
		fr := newFieldReader(descBytes)
		descOffset := fr.u32()
		descSize := fr.u32()

		entry := Entry{
			Offset:      top.Offset + uint64(descOffset),
			Size:        uint64(descSize),
			HighEntropy: true,
		}
		if entry.Offset < tocStart+tocSize {
			return nil, true, fmt.Errorf("wpk desc %d: offset %d overlaps toc", i, entry.Offset)
		}
		if top.Size < uint64(descOffset) || top.Size-uint64(descOffset) < uint64(descSize) {
			return nil, true, fmt.Errorf("wpk desc %d: entry [%d,+%d) exceeds parent", i, descOffset, descSize)
		}
		entries = append(entries, entry)
	}
	return entries, true, nil
}
