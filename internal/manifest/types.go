package manifest

import "github.com/project-rman/rman/internal/rbyte"

// ChunkDescriptor is a chunk as it appears inside a bundle's table: its
// identity and the two sizes needed to slice it out of the bundle's
// compressed payload.
type ChunkDescriptor struct {
	ChunkID          rbyte.ChunkID
	CompressedSize   uint32
	UncompressedSize uint32
}

// ChunkSrc locates a chunk inside a concrete bundle file.
type ChunkSrc struct {
	ChunkDescriptor
	BundleID         rbyte.BundleID
	CompressedOffset uint64
}

// ChunkDst is a chunk as referenced by a file: it additionally carries the
// hash construction chunk verification must use and the chunk's position
// in the file's uncompressed byte stream. The original splits this into
// RChunk/RChunk::Src/RChunk::Dst/RChunk::Dst::Packed; flattened here since
// Go has no use for the wire-packed bitfield variant once decoded.
type ChunkDst struct {
	ChunkSrc
	HashType           rbyte.HashType
	UncompressedOffset uint64
}

// Bundle is a single bundle file's table of chunks, in storage order.
type Bundle struct {
	BundleID rbyte.BundleID
	Chunks   []ChunkDescriptor
}

// Language is a manifest-scoped locale entry; file locale flags index into
// these by (bit position + 1).
type Language struct {
	ID   rbyte.LangID
	Name string
}

// ChunkingParams records how a file's chunks were hashed. unk0/unk2/unk3
// are decoded and stored here without interpretation; the decoded Manifest
// does not carry ChunkingParams, and this package has no manifest encoder,
// so these values are not written back out. Only hash_type is applied to
// the decoded files (as each chunk's HashType).
type ChunkingParams struct {
	Unk0            uint16
	HashType        rbyte.HashType
	Unk2            uint8
	Unk3            uint32
	MaxUncompressed uint32
}

// File is a manifest entry for a single logical file: its full path
// (directory chain already resolved), the languages it ships in, and the
// ordered list of chunks that reassemble it.
type File struct {
	FileID      rbyte.FileID
	Permissions uint8
	Size        uint64
	Path        string
	Link        string
	Langs       string
	Chunks      []ChunkDst
}

// Manifest is the fully decoded contents of a .manifest file.
type Manifest struct {
	ManifestID rbyte.ManifestID
	Files      []File
	Bundles    []Bundle
}
