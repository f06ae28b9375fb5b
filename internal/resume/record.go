// Package resume implements the append-only resume file (32-byte fixed
// records mapping an old manifest's file IDs onto a new manifest's, so an
// interrupted install can be continued across a fileId renumbering
// instead of starting over), plus two persistence layers on top: a
// SQLite-backed progress store for orchestrator sessions and bitmaps, and
// a BoltDB secondary index over the resume log keyed by new fileId.
package resume

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/project-rman/rman/internal/rbyte"
)

// RecordSize is the fixed width of one resume record on disk.
const RecordSize = 32

// NoChunks is the sentinel Chunk value (all bits set) meaning "this file
// has no chunks to resume".
const NoChunks = math.MaxUint64

// EmptyChunks is the sentinel Chunk value meaning "this file's chunk list
// is empty", distinct from NoChunks.
const EmptyChunks = 0

// Record is one resume-log entry: old fileId, new fileId, and either a
// sentinel or the single chunkId carried over. Any value
// other than NoChunks/EmptyChunks is "single-chunk file, this is the
// chunkId" — the format only ever resumes single-chunk files exactly;
// multi-chunk files fall back to full verification.
type Record struct {
	OldFileID rbyte.FileID
	NewFileID rbyte.FileID
	Chunk     uint64
	Reserved  uint64
}

// Marshal encodes r as its fixed 32-byte wire form.
func (r Record) Marshal() [RecordSize]byte {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.OldFileID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.NewFileID))
	binary.LittleEndian.PutUint64(buf[16:24], r.Chunk)
	binary.LittleEndian.PutUint64(buf[24:32], r.Reserved)
	return buf
}

// UnmarshalRecord decodes a fixed 32-byte wire record.
func UnmarshalRecord(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("resume: record is %d bytes, want %d", len(buf), RecordSize)
	}
	return Record{
		OldFileID: rbyte.FileID(binary.LittleEndian.Uint64(buf[0:8])),
		NewFileID: rbyte.FileID(binary.LittleEndian.Uint64(buf[8:16])),
		Chunk:     binary.LittleEndian.Uint64(buf[16:24]),
		Reserved:  binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// HasChunks reports whether the record names a resumable single chunk.
func (r Record) HasChunks() bool {
	return r.Chunk != NoChunks && r.Chunk != EmptyChunks
}

// ChunkID returns the carried-over chunk, valid only when HasChunks is true.
func (r Record) ChunkID() rbyte.ChunkID {
	return rbyte.ChunkID(r.Chunk)
}
