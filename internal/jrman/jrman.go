package jrman

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

// marker is the literal first line of an uncompressed JRMAN stream.
const marker = "JRMAN"

// zstdMagic is the four leading bytes of any zstd frame (stored
// little-endian on disk as 28 B5 2F FD), the signal a JRMAN stream has been
// wrapped as ZRMAN.
var zstdMagic = [4]byte{0x28, 0xB5, 0x2F, 0xFD}

// windowSize bounds a single record line's buffer. The zstd reader
// already streams frame-by-frame, so there is no sliding decompression
// window to manage; this only caps how large one line may grow before the
// decoder fails loudly instead of silently spilling memory.
const windowSize = 160 << 20

// ErrBadMagic is returned when a stream's first non-empty line is not the
// literal "JRMAN" marker (after any zstd unwrapping).
var ErrBadMagic = errors.New("jrman: missing JRMAN marker")

// Chunk is one file's chunk entry in a JRMAN dump: identity and hash only,
// no bundle placement — a JRMAN stream describes a file's target content,
// not where to fetch it from.
type Chunk struct {
	ChunkID            rbyte.ChunkID
	HashType           rbyte.HashType
	UncompressedSize   uint32
	UncompressedOffset uint64 // reconstructed by prefix-sum, never serialised
}

// File is one JRMAN file record.
type File struct {
	FileID      rbyte.FileID
	Size        uint64
	Path        string
	Link        string
	Langs       []string
	Permissions uint8
	Chunks      []Chunk
	Time        *int64 // unix seconds, optional on the wire
}

// Manifest is a decoded JRMAN/ZRMAN stream.
type Manifest struct {
	Files []File
}

// FromManifest projects a decoded .manifest into JRMAN form, reducing it
// to a flat per-file chunk list and dropping bundle placement.
func FromManifest(m manifest.Manifest) Manifest {
	out := Manifest{Files: make([]File, 0, len(m.Files))}
	for _, f := range m.Files {
		file := File{
			FileID:      f.FileID,
			Size:        f.Size,
			Path:        f.Path,
			Link:        f.Link,
			Permissions: f.Permissions,
			Chunks:      make([]Chunk, 0, len(f.Chunks)),
		}
		if f.Langs != "" {
			file.Langs = strings.Split(f.Langs, ";")
		}
		for _, c := range f.Chunks {
			file.Chunks = append(file.Chunks, Chunk{
				ChunkID:            c.ChunkID,
				HashType:           c.HashType,
				UncompressedSize:   c.UncompressedSize,
				UncompressedOffset: c.UncompressedOffset,
			})
		}
		out.Files = append(out.Files, file)
	}
	return out
}

// hexID round-trips a uint64 as the fixed-width uppercase hex string JRMAN
// uses for every identifier field, matching rbyte's own %016X String().
type hexID uint64

func (h hexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%016X", uint64(h)))
}

func (h *hexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return fmt.Errorf("jrman: bad hex id %q: %w", s, err)
	}
	*h = hexID(v)
	return nil
}

type wireChunk struct {
	ChunkID          hexID  `json:"chunkId"`
	HashType         uint8  `json:"hash_type"`
	UncompressedSize uint32 `json:"uncompressed_size"`
}

type wireFile struct {
	FileID      hexID       `json:"fileId"`
	Size        uint64      `json:"size"`
	Path        string      `json:"path"`
	Link        string      `json:"link,omitempty"`
	Langs       []string    `json:"langs,omitempty"`
	Permissions uint8       `json:"permissions"`
	Chunks      []wireChunk `json:"chunks"`
	Time        *int64      `json:"time,omitempty"`
}
