package splitter

import (
	"fmt"

	"github.com/project-rman/rman/internal/rbyte"
)

const (
	machoFatMagic   = 0xcafebabe
	machoFatMagic64 = 0xcafebabf
	machoExeMagic   = 0xfeedface
	machoExeMagic64 = 0xfeedfacf
	lcSegment       = 0x1
	lcSegment64     = 0x19
)

// tryMachOFAT recognises a Mach-O fat (universal) binary: a narchs-count
// header followed by that many {cputype,cpusubtype,offset,size,...} arch
// descriptors. Every slice is emitted with Nest=true since each one is
// itself a full Mach-O image.
func tryMachOFAT(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 8 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, err1 := r.ReadU32()
	narchs, err2 := r.ReadU32()
	if err1 != nil || err2 != nil || narchs >= 43 {
		return nil, false, nil
	}
	if magic != machoFatMagic && magic != machoFatMagic64 {
		return nil, false, nil
	}

	// Both FAT_MAGIC and FAT_MAGIC_64 are read with the same wide arch
	// descriptor layout (cputype,cpusubtype:u32, offset,size:u64,
	// align,reserved:u32) here, matching the reference parser's actual
	// behaviour for both magics.
	entries := make([]Entry, 0, narchs)
	for i := uint32(0); i != narchs; i++ {
		if _, err := r.ReadU32(); err != nil { // cputype
			return nil, true, fmt.Errorf("macho fat arch %d: truncated", i)
		}
		if _, err := r.ReadU32(); err != nil { // cpusubtype
			return nil, true, fmt.Errorf("macho fat arch %d: truncated", i)
		}
		offset, e1 := r.ReadU64()
		size, e2 := r.ReadU64()
		if e1 != nil || e2 != nil {
			return nil, true, fmt.Errorf("macho fat arch %d: short read", i)
		}
		if err := r.Skip(8); err != nil { // align + reserved
			return nil, true, fmt.Errorf("macho fat arch %d: truncated", i)
		}
		if !r.Contains(int(offset), int(size)) {
			return nil, true, fmt.Errorf("macho fat arch %d: [%d,+%d) exceeds entry", i, offset, size)
		}
		entries = append(entries, Entry{
			Offset: top.Offset + offset,
			Size:   size,
			Nest:   true,
		})
	}
	return entries, true, nil
}

// tryMachOEXE recognises a single-architecture Mach-O image and walks its
// load commands for LC_SEGMENT/LC_SEGMENT_64, emitting each segment (or, for
// a segment with more than chunk_min bytes, each of its non-zero-offset
// sections individually) as one entry.
func tryMachOEXE(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Size < 28 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	magic, err1 := r.ReadU32()
	if err1 != nil || (magic != machoExeMagic && magic != machoExeMagic64) {
		return nil, false, nil
	}
	if _, err := r.ReadU32(); err != nil { // cputype
		return nil, true, fmt.Errorf("macho exe header truncated")
	}
	if _, err := r.ReadU32(); err != nil { // cpusubtype
		return nil, true, fmt.Errorf("macho exe header truncated")
	}
	if _, err := r.ReadU32(); err != nil { // filetype
		return nil, true, fmt.Errorf("macho exe header truncated")
	}
	ncmds, err2 := r.ReadU32()
	sizeofcmds, err3 := r.ReadU32()
	if _, err := r.ReadU32(); err != nil { // flags
		return nil, true, fmt.Errorf("macho exe header truncated")
	}
	if err2 != nil || err3 != nil {
		return nil, true, fmt.Errorf("macho exe header truncated")
	}

	if magic == machoExeMagic64 {
		if err := r.Skip(4); err != nil { // reserved
			return nil, true, fmt.Errorf("macho exe64 reserved field truncated")
		}
	}

	cmdsReader, err := r.ReadWithin(int(sizeofcmds))
	if err != nil {
		return nil, true, fmt.Errorf("macho exe load commands: %w", err)
	}

	var entries []Entry
	for i := uint32(0); i != ncmds; i++ {
		cmd, e1 := cmdsReader.ReadU32()
		size, e2 := cmdsReader.ReadU32()
		if e1 != nil || e2 != nil || size < 8 {
			return nil, true, fmt.Errorf("macho exe load command %d: short read", i)
		}
		body, err := cmdsReader.ReadWithin(int(size) - 8)
		if err != nil {
			return nil, true, fmt.Errorf("macho exe load command %d: %w", i, err)
		}
		switch cmd {
		case lcSegment:
			segs, err := parseSegment32(body)
			if err != nil {
				return nil, true, fmt.Errorf("macho exe segment %d: %w", i, err)
			}
			entries = append(entries, segs...)
		case lcSegment64:
			segs, err := parseSegment64(body)
			if err != nil {
				return nil, true, fmt.Errorf("macho exe segment64 %d: %w", i, err)
			}
			entries = append(entries, segs...)
		}
	}
	for i := range entries {
		entries[i].Offset += top.Offset
	}
	return entries, true, nil
}

const machoChunkMin = 4096

func parseSegment32(body *rbyte.Reader) ([]Entry, error) {
	const segHeaderSize = 16 + 4*8
	hdr, err := body.ReadBytes(segHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("segment header: %w", err)
	}
	fr := newFieldReader(hdr[16:])
	_ = fr.u32() // vmaddr
	_ = fr.u32() // vmsize
	fileoff := fr.u32()
	filesize := fr.u32()
	_ = fr.u32() // maxprot
	_ = fr.u32() // initprot
	nsects := fr.u32()
	_ = fr.u32() // flags

	type sect32 struct{ offset, size uint32 }
	sects := make([]sect32, nsects)
	for i := range sects {
		s, err := body.ReadBytes(16 + 16 + 4*9)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		sf := newFieldReader(s[32:])
		_ = sf.u32() // addr
		sz := sf.u32()
		off := sf.u32()
		sects[i] = sect32{offset: off, size: sz}
	}
	if filesize == 0 {
		return nil, nil
	}
	if filesize <= machoChunkMin || nsects == 0 {
		return []Entry{{Offset: uint64(fileoff), Size: uint64(filesize)}}, nil
	}
	var entries []Entry
	for _, s := range sects {
		if s.offset == 0 {
			continue
		}
		if s.offset < fileoff || s.offset-fileoff > filesize {
			return nil, fmt.Errorf("section offset %d outside segment [%d,+%d)", s.offset, fileoff, filesize)
		}
		entries = append(entries, Entry{Offset: uint64(s.offset), Size: uint64(s.size)})
	}
	return entries, nil
}

func parseSegment64(body *rbyte.Reader) ([]Entry, error) {
	const segHeaderSize = 16 + 8*4 + 4*4
	hdr, err := body.ReadBytes(segHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("segment64 header: %w", err)
	}
	fr := newFieldReader(hdr[16:])
	_ = fr.u64() // vmaddr
	_ = fr.u64() // vmsize
	fileoff := fr.u64()
	filesize := fr.u64()
	_ = fr.u32() // maxprot
	_ = fr.u32() // initprot
	nsects := fr.u32()
	_ = fr.u32() // flags

	type sect64 struct {
		offset uint32
		size   uint64
	}
	sects := make([]sect64, nsects)
	for i := range sects {
		s, err := body.ReadBytes(16 + 16 + 8 + 8 + 4*7)
		if err != nil {
			return nil, fmt.Errorf("section64 %d: %w", i, err)
		}
		sf := newFieldReader(s[32:])
		_ = sf.u64() // addr
		sz := sf.u64()
		off := sf.u32()
		sects[i] = sect64{offset: off, size: sz}
	}
	if filesize == 0 {
		return nil, nil
	}
	if filesize <= machoChunkMin || nsects == 0 {
		return []Entry{{Offset: fileoff, Size: filesize}}, nil
	}
	var entries []Entry
	for _, s := range sects {
		if s.offset == 0 {
			continue
		}
		if uint64(s.offset) < fileoff || uint64(s.offset)-fileoff > filesize {
			return nil, fmt.Errorf("section64 offset %d outside segment [%d,+%d)", s.offset, fileoff, filesize)
		}
		entries = append(entries, Entry{Offset: uint64(s.offset), Size: s.size})
	}
	return entries, nil
}
