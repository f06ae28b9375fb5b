package bundle

import (
	"fmt"
	"io"
)

// MergeSource pairs an already-parsed Bundle with the reader its
// compressed chunk bytes live behind.
type MergeSource struct {
	Bundle *Bundle
	Reader io.ReaderAt
}

// Merge concatenates the distinct chunks of several bundles into one new
// bundle, written through dst. Earlier sources win on duplicate chunk
// IDs, keeping merge output deterministic regardless of which bundle
// happens to carry the more complete compressed payload. The result may
// carry chunks no manifest file currently references — this is expected:
// a repack keeps every chunk physically present, since another manifest
// revision may still need it.
func Merge(dst fileWriter, sources []MergeSource) ([]Chunk, error) {
	w := Create(dst, 0)
	seen := make(map[uint64]struct{})
	for _, src := range sources {
		for _, c := range src.Bundle.Chunks {
			key := uint64(c.ChunkID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			loc, ok := src.Bundle.Lookup[c.ChunkID]
			if !ok {
				return nil, fmt.Errorf("bundle: merge: chunk %s missing from its own bundle's lookup", c.ChunkID)
			}
			data := make([]byte, c.CompressedSize)
			if _, err := src.Reader.ReadAt(data, int64(loc.CompressedOffset)); err != nil {
				return nil, fmt.Errorf("bundle: merge: read chunk %s: %w", c.ChunkID, err)
			}
			w.Append(c, data)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("bundle: merge: %w", err)
	}
	return w.chunks, nil
}
