package downloader

import (
	"fmt"

	"github.com/project-rman/rman/internal/cache"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

// cacheKey identifies a chunk destination the way the cache's GetRequest
// does, for matching cache callbacks back to the manifest.ChunkDst that
// requested them.
type cacheKey struct {
	chunkID            rbyte.ChunkID
	uncompressedOffset uint64
}

// getFromCache resolves as many chunks as possible from the local cache,
// delivering each through onData, and returns the rest untouched.
func (d *Downloader) getFromCache(chunks []manifest.ChunkDst, onData OnData) ([]manifest.ChunkDst, error) {
	requests := make([]cache.GetRequest, len(chunks))
	byKey := make(map[cacheKey][]int, len(chunks))
	for i, c := range chunks {
		requests[i] = cache.GetRequest{ChunkID: c.ChunkID, UncompressedOffset: c.UncompressedOffset}
		k := cacheKey{c.ChunkID, c.UncompressedOffset}
		byKey[k] = append(byKey[k], i)
	}

	take := func(req cache.GetRequest) (manifest.ChunkDst, bool) {
		k := cacheKey{req.ChunkID, req.UncompressedOffset}
		idxs := byKey[k]
		if len(idxs) == 0 {
			return manifest.ChunkDst{}, false
		}
		byKey[k] = idxs[1:]
		return chunks[idxs[0]], true
	}

	unresolved, err := d.cache.Get(requests, func(req cache.GetRequest, data []byte) error {
		dst, ok := take(req)
		if !ok {
			return fmt.Errorf("downloader: cache delivered unrequested chunk %s", req.ChunkID)
		}
		return onData(dst, data)
	})
	if err != nil {
		return nil, err
	}

	result := make([]manifest.ChunkDst, 0, len(unresolved))
	for _, req := range unresolved {
		if dst, ok := take(req); ok {
			result = append(result, dst)
		}
	}
	return result, nil
}
