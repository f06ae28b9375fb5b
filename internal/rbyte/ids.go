// Package rbyte provides the low-level primitives shared by every codec in
// this module: opaque 64-bit identifiers and a bounds-checked little-endian
// byte reader.
package rbyte

import "fmt"

// BundleID identifies a bundle file by the content hash Riot assigns it.
// Zero is the reserved "none" sentinel.
type BundleID uint64

// ChunkID identifies a chunk by its truncated content hash.
type ChunkID uint64

// FileID identifies a manifest file entry.
type FileID uint64

// ManifestID identifies a manifest as a whole.
type ManifestID uint64

// LangID identifies a language entry; it is 8 bits on the wire.
type LangID uint8

// None reports whether the ID equals the reserved zero sentinel.
func (b BundleID) None() bool  { return b == 0 }
func (c ChunkID) None() bool   { return c == 0 }
func (f FileID) None() bool    { return f == 0 }
func (m ManifestID) None() bool { return m == 0 }
func (l LangID) None() bool    { return l == 0 }

func (b BundleID) String() string   { return fmt.Sprintf("%016X", uint64(b)) }
func (c ChunkID) String() string    { return fmt.Sprintf("%016X", uint64(c)) }
func (f FileID) String() string     { return fmt.Sprintf("%016X", uint64(f)) }
func (m ManifestID) String() string { return fmt.Sprintf("%016X", uint64(m)) }
func (l LangID) String() string     { return fmt.Sprintf("%02X", uint8(l)) }

// HashType enumerates the chunk content-hash constructions the codec knows.
type HashType uint8

const (
	HashNone HashType = iota
	HashSHA512
	HashSHA256
	HashRitoHKDF
)

func (h HashType) String() string {
	switch h {
	case HashNone:
		return "none"
	case HashSHA512:
		return "sha512"
	case HashSHA256:
		return "sha256"
	case HashRitoHKDF:
		return "rito_hkdf"
	default:
		return fmt.Sprintf("hash(%d)", uint8(h))
	}
}

// Valid reports whether h is one of the four wire values. Unknown
// hash_type bytes are tolerated while decoding; they are only rejected
// when they appear as a *chunking parameter*, which must name an actual
// hash.
func (h HashType) Valid() bool {
	return h <= HashRitoHKDF
}
