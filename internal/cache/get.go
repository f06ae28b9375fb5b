package cache

import (
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/rbyte"
)

// GetRequest names one chunk a caller wants delivered, plus the
// destination-side ordering key (typically the chunk's offset in the
// file being reassembled) used only to break ties deterministically
// between requests that happen to share a chunk ID.
type GetRequest struct {
	ChunkID            rbyte.ChunkID
	UncompressedOffset uint64
}

// OnData is called once per resolved request, in delivery order, with
// the chunk's inflated bytes. The slice is only valid for the duration
// of the call.
type OnData func(req GetRequest, data []byte) error

// Get decompresses and delivers every resolvable chunk in requests,
// returning the subset that isn't in this cache. Requests are grouped by
// the physical file they live in, then sorted by compressed offset (so
// each file is read in ascending disk order) with uncompressed offset as
// a tiebreaker. Consecutive requests that resolve to the same chunk ID
// share a single decompression. Chunks added during the current session
// that haven't been flushed yet are served from the active writer's
// buffer, so anything Add accepted is immediately readable.
func (c *Cache) Get(requests []GetRequest, onData OnData) ([]GetRequest, error) {
	type resolved struct {
		req GetRequest
		loc location
	}
	bySeq := make(map[int][]resolved)
	var unresolved []GetRequest
	for _, req := range requests {
		loc, ok := c.lookup[req.ChunkID]
		if !ok {
			unresolved = append(unresolved, req)
			continue
		}
		bySeq[loc.seq] = append(bySeq[loc.seq], resolved{req: req, loc: loc})
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: init zstd decoder: %w", err)
	}
	defer dec.Close()

	for _, seq := range c.sortedSeqs() {
		group, ok := bySeq[seq]
		if !ok {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].loc.compressedOffset != group[j].loc.compressedOffset {
				return group[i].loc.compressedOffset < group[j].loc.compressedOffset
			}
			return group[i].req.UncompressedOffset < group[j].req.UncompressedOffset
		})

		f := c.fileBySeq(seq)
		if f == nil {
			return nil, fmt.Errorf("cache: internal: no file for sequence %d", seq)
		}

		var (
			lastChunkID rbyte.ChunkID
			lastData    []byte
			haveLast    bool
		)
		for _, r := range group {
			if haveLast && r.loc.ChunkID == lastChunkID {
				if err := onData(r.req, lastData); err != nil {
					return nil, err
				}
				continue
			}
			raw := make([]byte, r.loc.CompressedSize)
			if f.writer != nil && int64(r.loc.compressedOffset) >= f.writer.DataOffset() {
				// Still in the active writer's pending buffer — the
				// bytes haven't reached disk yet, so disk can't serve
				// them.
				if err := f.writer.PendingAt(raw, int64(r.loc.compressedOffset)); err != nil {
					return nil, fmt.Errorf("cache: read chunk %s from %s: %w", r.loc.ChunkID, f.path, err)
				}
			} else if _, err := f.handle.ReadAt(raw, int64(r.loc.compressedOffset)); err != nil {
				return nil, fmt.Errorf("cache: read chunk %s from %s: %w", r.loc.ChunkID, f.path, err)
			}
			data, err := dec.DecodeAll(raw, make([]byte, 0, r.loc.UncompressedSize))
			if err != nil {
				return nil, fmt.Errorf("cache: decompress chunk %s: %w", r.loc.ChunkID, err)
			}
			if err := onData(r.req, data); err != nil {
				return nil, err
			}
			lastChunkID, lastData, haveLast = r.loc.ChunkID, data, true
		}
	}
	return unresolved, nil
}
