package splitter

import "fmt"

// tryBNK recognises Wwise SoundBank containers: a stream of top-level
// sections, each an 8-byte header (4-byte type tag + u32 size) followed by
// that many bytes of section body. A DIDX section is a catalogue of
// {id,offset,size} triples addressing byte ranges inside the DATA section;
// those ranges are emitted as HighEntropy entries, and every other section
// (including the now-empty DIDX/DATA placeholders) is emitted whole,
// header included.
func tryBNK(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 8 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, _ := r.ReadBytes(4)
	if string(magic) != "BKHD" {
		return nil, false, nil
	}

	type section struct {
		offset uint64 // local, body start (past the 8-byte header)
		size   uint64
	}
	sections := make(map[string]section)
	order := make([]string, 0, 8)

	for i := uint64(0); i != top.Size; {
		if top.Size-i < 8 {
			return nil, true, fmt.Errorf("bnk section header truncated at %d", i)
		}
		hdr, err := r.BytesAt(int(i), 8)
		if err != nil {
			return nil, true, fmt.Errorf("bnk section header at %d: %w", i, err)
		}
		tag := string(hdr[0:4])
		size := uint64(newFieldReader(hdr[4:8]).u32())
		i += 8
		if top.Size-i < size {
			return nil, true, fmt.Errorf("bnk section %q: size %d exceeds remaining %d", tag, size, top.Size-i)
		}
		if _, dup := sections[tag]; !dup {
			order = append(order, tag)
		}
		sections[tag] = section{offset: i, size: size}
		i += size
	}

	var entries []Entry
	didx, hasDidx := sections["DIDX"]
	dataSec, hasData := sections["DATA"]
	if hasDidx && hasData {
		if didx.size%12 != 0 {
			return nil, true, fmt.Errorf("bnk DIDX size %d not a multiple of 12", didx.size)
		}
		count := didx.size / 12
		for j := uint64(0); j != count; j++ {
			rec, err := r.BytesAt(int(didx.offset+j*12), 12)
			if err != nil {
				return nil, true, fmt.Errorf("bnk DIDX entry %d: %w", j, err)
			}
			fr := newFieldReader(rec)
			_ = fr.u32() // id, unused by the splitter
			off := fr.u32()
			sz := fr.u32()
			if dataSec.size < uint64(off) || dataSec.size-uint64(off) < uint64(sz) {
				return nil, true, fmt.Errorf("bnk DIDX entry %d: [%d,+%d) exceeds DATA size %d", j, off, sz, dataSec.size)
			}
			entries = append(entries, Entry{
				Offset:      top.Offset + dataSec.offset + uint64(off),
				Size:        uint64(sz),
				HighEntropy: true,
			})
		}
		sections["DIDX"] = section{offset: didx.offset, size: 0}
		sections["DATA"] = section{offset: dataSec.offset, size: 0}
	}

	for _, tag := range order {
		sec := sections[tag]
		entries = append(entries, Entry{
			Offset: top.Offset + sec.offset - 8,
			Size:   sec.size + 8,
		})
	}

	return entries, true, nil
}
