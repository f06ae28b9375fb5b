// Package bundle reads and writes .bundle files: a concatenation of
// zstd-compressed chunks followed by a table of contents and a fixed
// 20-byte footer. It is the physical storage layer both the chunk cache
// and the downloader's local copy sit on top of.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/project-rman/rman/internal/rbyte"
)

// ChunkLimit is the largest uncompressed size a single chunk may declare,
// matching the manifest codec's own limit.
const ChunkLimit = 16*1024*1024 - 1

const (
	footerSize  = 20
	tocEntrySize = 16
	magicLegacyVersion = 1
	magicCurrentVersion = 0xFFFFFFFF
)

var magicBytes = [4]byte{'R', 'B', 'U', 'N'}

// ErrNotABundle is returned when the file is too short or its footer
// magic doesn't match "RBUN" — the file simply isn't a bundle.
var ErrNotABundle = errors.New("bundle: not a bundle file")

// ErrBadChecksum is returned when a version-0xFFFFFFFF bundle's TOC
// checksum doesn't match its footer.
var ErrBadChecksum = errors.New("bundle: TOC checksum mismatch")

// ErrCorrupt covers structural violations beyond checksum: chunks whose
// declared extent runs past the TOC, or an uncompressed size over the
// chunk limit.
var ErrCorrupt = errors.New("bundle: corrupt chunk table")

// Chunk is one TOC entry: identity plus the two sizes needed to locate
// and inflate it.
type Chunk struct {
	ChunkID          rbyte.ChunkID
	CompressedSize   uint32
	UncompressedSize uint32
}

// Src locates a Chunk inside a specific bundle file.
type Src struct {
	Chunk
	BundleID         rbyte.BundleID
	CompressedOffset uint64
}

// Bundle is the fully parsed contents of one .bundle file: its identity,
// ordered chunk table, and (unless suppressed) a lookup index by chunk ID.
type Bundle struct {
	BundleID  rbyte.BundleID
	TOCOffset int64
	Chunks    []Chunk
	Lookup    map[rbyte.ChunkID]Src
}

// Read parses the footer and TOC of a bundle file of the given size.
// Pass noLookup to skip building the ID index when the caller only needs
// the raw chunk list (e.g. Merge, which re-indexes anyway).
func Read(r io.ReaderAt, size int64, noLookup bool) (*Bundle, error) {
	if size < footerSize {
		return nil, fmt.Errorf("bundle: file is %d bytes: %w", size, ErrNotABundle)
	}

	footer := make([]byte, footerSize)
	if _, err := r.ReadAt(footer, size-footerSize); err != nil {
		return nil, fmt.Errorf("bundle: read footer: %w", err)
	}
	var magic [4]byte
	copy(magic[:], footer[16:20])
	if magic != magicBytes {
		return nil, fmt.Errorf("bundle: magic %q: %w", magic, ErrNotABundle)
	}
	version := binary.LittleEndian.Uint32(footer[12:16])
	if version != magicCurrentVersion && version != magicLegacyVersion {
		return nil, fmt.Errorf("bundle: version %#x: %w", version, ErrNotABundle)
	}
	entryCount := binary.LittleEndian.Uint32(footer[8:12])
	checksum := footer[0:8]

	tocSize := int64(entryCount) * tocEntrySize
	if size < tocSize+footerSize {
		return nil, fmt.Errorf("bundle: toc size %d exceeds file size %d: %w", tocSize, size, ErrCorrupt)
	}
	tocOffset := size - footerSize - tocSize

	toc := make([]byte, tocSize)
	if _, err := r.ReadAt(toc, tocOffset); err != nil {
		return nil, fmt.Errorf("bundle: read toc: %w", err)
	}

	var bundleID rbyte.BundleID
	if version == magicCurrentVersion {
		sum := xxhash.Sum64(toc)
		var want, got [8]byte
		binary.LittleEndian.PutUint64(want[:], sum)
		copy(got[:], checksum)
		if got != want {
			return nil, fmt.Errorf("bundle: %w", ErrBadChecksum)
		}
		bundleID = 0
	} else {
		bundleID = rbyte.BundleID(binary.LittleEndian.Uint64(checksum))
	}

	b := &Bundle{
		BundleID:  bundleID,
		TOCOffset: tocOffset,
		Chunks:    make([]Chunk, entryCount),
	}
	if !noLookup {
		b.Lookup = make(map[rbyte.ChunkID]Src, entryCount)
	}

	var compressedOffset uint64
	for i := uint32(0); i < entryCount; i++ {
		rec := toc[i*tocEntrySize:]
		c := Chunk{
			ChunkID:          rbyte.ChunkID(binary.LittleEndian.Uint64(rec[0:8])),
			UncompressedSize: binary.LittleEndian.Uint32(rec[8:12]),
			CompressedSize:   binary.LittleEndian.Uint32(rec[12:16]),
		}
		if c.UncompressedSize > ChunkLimit {
			return nil, fmt.Errorf("bundle: chunk %s uncompressed size %d exceeds limit: %w", c.ChunkID, c.UncompressedSize, ErrCorrupt)
		}
		if compressedOffset+uint64(c.CompressedSize) > uint64(tocOffset) {
			return nil, fmt.Errorf("bundle: chunk %s extends past toc at %d: %w", c.ChunkID, tocOffset, ErrCorrupt)
		}
		b.Chunks[i] = c
		if !noLookup {
			b.Lookup[c.ChunkID] = Src{Chunk: c, BundleID: bundleID, CompressedOffset: compressedOffset}
		}
		compressedOffset += uint64(c.CompressedSize)
	}
	return b, nil
}
