// Package verify checks decoded chunk bytes back against their
// manifest-declared identity and writes verified files to disk through a
// sparse-friendly, random-access writer.
package verify

import (
	"fmt"
	"os"

	"github.com/project-rman/rman/internal/manifest"
)

// OnData is invoked once per verified chunk, in file order, with the
// bytes read back off disk. The slice is only valid for the duration of
// the call.
type OnData func(chunk manifest.ChunkDst, data []byte) error

// Verify re-reads f's chunks from the file at path, in order, hashes each
// with its declared HashType, and compares the result against its
// ChunkID. The moment one chunk's extent runs past the file's current
// size, that chunk and every chunk after it are reported missing without
// being read: chunks are written at fixed offsets, so a short file means
// nothing past that point was ever written. Returns the chunks that
// failed verification, in original order.
func Verify(path string, f manifest.File, onData OnData) ([]manifest.ChunkDst, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("verify: open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("verify: stat %s: %w", path, err)
	}
	size := info.Size()

	var failed []manifest.ChunkDst
	var buf []byte
	shortFile := false
	for _, chunk := range f.Chunks {
		end := int64(chunk.UncompressedOffset) + int64(chunk.UncompressedSize)
		if shortFile || end > size {
			shortFile = true
			failed = append(failed, chunk)
			continue
		}

		if cap(buf) < int(chunk.UncompressedSize) {
			buf = make([]byte, chunk.UncompressedSize)
		}
		data := buf[:chunk.UncompressedSize]
		if _, err := file.ReadAt(data, int64(chunk.UncompressedOffset)); err != nil {
			return nil, fmt.Errorf("verify: read %s at %d: %w", path, chunk.UncompressedOffset, err)
		}

		if manifest.Hash(data, chunk.HashType) != chunk.ChunkID {
			failed = append(failed, chunk)
			continue
		}
		if err := onData(chunk, data); err != nil {
			return nil, err
		}
	}
	return failed, nil
}
