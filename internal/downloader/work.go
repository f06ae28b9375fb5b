package downloader

import (
	"sort"

	"github.com/project-rman/rman/internal/manifest"
)

// sortChunks orders chunk destinations the way the coalescer requires:
// grouped by bundle, then by position within the bundle's compressed
// stream, with uncompressed offset breaking ties between destinations
// that share a chunk ID.
func sortChunks(chunks []manifest.ChunkDst) {
	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.BundleID != b.BundleID {
			return a.BundleID < b.BundleID
		}
		if a.CompressedOffset != b.CompressedOffset {
			return a.CompressedOffset < b.CompressedOffset
		}
		return a.UncompressedOffset < b.UncompressedOffset
	})
}

// nextSlice returns the longest prefix of a sorted chunk list that forms
// one contiguous coalesced range: every entry shares the first entry's
// bundleId, and each entry either repeats the previous entry's chunkId (a
// duplicate destination, fanned out from one decompression) or starts
// exactly where the previous entry's compressed range ended. The first
// entry that breaks either rule starts the next slice.
func nextSlice(chunks []manifest.ChunkDst) []manifest.ChunkDst {
	i := 1
	for ; i < len(chunks); i++ {
		if chunks[i].BundleID != chunks[0].BundleID {
			break
		}
		if chunks[i].ChunkID == chunks[i-1].ChunkID {
			continue
		}
		if chunks[i].CompressedOffset != chunks[i-1].CompressedOffset+uint64(chunks[i-1].CompressedSize) {
			break
		}
	}
	return chunks[:i]
}
