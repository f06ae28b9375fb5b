package splitter

import "fmt"

const loadMagic = "r3d2load"

// tryLoad recognises the r3d2load internal bundle format: an 8-byte magic
// header pointing at a TOC of fixed-size Desc records, each describing one
// file's data region. Every emitted entry recurses (Nest=true), matching
// the reference splitter's treatment of LOAD payloads as further
// structurally-splittable containers.
func tryLoad(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 28 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, err1 := r.ReadBytes(8)
	if err1 != nil || string(magic) != loadMagic {
		return nil, false, nil
	}
	if err := r.Skip(4 + 4); err != nil { // version, size
		return nil, true, fmt.Errorf("load header truncated")
	}
	if err := r.Skip(4); err != nil { // off_abs_data
		return nil, true, fmt.Errorf("load header truncated")
	}
	offAbsTOC, e1 := r.ReadU32()
	fileCount, e2 := r.ReadU32()
	if e1 != nil || e2 != nil {
		return nil, true, fmt.Errorf("load header truncated")
	}
	if err := r.Skip(4); err != nil { // off_rel_toc
		return nil, true, fmt.Errorf("load header truncated")
	}

	if err := r.SeekAbs(int(offAbsTOC)); err != nil {
		return nil, true, fmt.Errorf("load toc offset %d out of range", offAbsTOC)
	}

	const descSize = 4 + 4*9
	entries := make([]Entry, 0, fileCount)
	for i := uint32(0); i != fileCount; i++ {
		rec, err := r.ReadBytes(descSize)
		if err != nil {
			return nil, true, fmt.Errorf("load desc %d: %w", i, err)
		}
		fr := newFieldReader(rec[4:]) // skip type[4]
		_ = fr.u32()                  // hash
		maybeSize := fr.u32()
		maybeSize2 := fr.u32()
		maybeZero := fr.u32()
		offAbsData := fr.u32()
		offAbsName := fr.u32()
		sizeName := fr.u32()

		if maybeZero != 0 {
			return nil, true, fmt.Errorf("load desc %d: maybe_zero != 0", i)
		}
		if offAbsData == 0 {
			return nil, true, fmt.Errorf("load desc %d: off_abs_data == 0", i)
		}
		if maybeSize != maybeSize2 {
			return nil, true, fmt.Errorf("load desc %d: size mismatch %d != %d", i, maybeSize, maybeSize2)
		}
		if !r.Contains(int(offAbsData), int(maybeSize)) {
			return nil, true, fmt.Errorf("load desc %d: data [%d,+%d) exceeds entry", i, offAbsData, maybeSize)
		}
		if !r.Contains(int(offAbsName), int(sizeName)) {
			return nil, true, fmt.Errorf("load desc %d: name [%d,+%d) exceeds entry", i, offAbsName, sizeName)
		}
		entries = append(entries, Entry{
			Offset: top.Offset + uint64(offAbsData),
			Size:   uint64(maybeSize),
			Nest:   true,
		})
	}
	return entries, true, nil
}
