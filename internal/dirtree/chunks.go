package dirtree

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

// ChunkLoader fetches a file's chunk list on demand, keyed by fileId.
type ChunkLoader func(fileID rbyte.FileID) ([]manifest.ChunkDst, error)

// ChunksHolder gives tree nodes access to a file's chunk list. Built
// eagerly it just wraps the slice; built lazily it loads on first Acquire
// and caches the result behind a weak pointer, so the cache can be
// reclaimed by the GC between uses without the holder itself pinning the
// memory. Acquire/Release form an open/close pair that refcounts how many
// callers currently hold the chunk list lazily loaded.
type ChunksHolder struct {
	fileID rbyte.FileID
	eager  []manifest.ChunkDst

	loader ChunkLoader
	mu     sync.Mutex
	cached weak.Pointer[[]manifest.ChunkDst]
	refs   atomic.Int32
}

// NewEagerHolder wraps an already-resolved chunk list. Acquire/Release are
// no-ops for eager holders; the list is simply always available.
func NewEagerHolder(fileID rbyte.FileID, chunks []manifest.ChunkDst) *ChunksHolder {
	return &ChunksHolder{fileID: fileID, eager: chunks}
}

// NewLazyHolder defers loading until first Acquire.
func NewLazyHolder(fileID rbyte.FileID, loader ChunkLoader) *ChunksHolder {
	return &ChunksHolder{fileID: fileID, loader: loader}
}

// FileID returns the file this holder belongs to.
func (h *ChunksHolder) FileID() rbyte.FileID { return h.fileID }

// Lazy reports whether this holder loads on demand rather than holding an
// already-resolved chunk list.
func (h *ChunksHolder) Lazy() bool { return h.eager == nil }

// Acquire returns the chunk list, reusing a still-live cached copy or
// invoking the loader otherwise, and increments the open refcount for lazy
// holders. Callers of a lazy holder must call Release exactly once per
// successful Acquire.
func (h *ChunksHolder) Acquire() ([]manifest.ChunkDst, error) {
	if !h.Lazy() {
		return h.eager, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if p := h.cached.Value(); p != nil {
		h.refs.Add(1)
		return *p, nil
	}

	chunks, err := h.loader(h.fileID)
	if err != nil {
		return nil, err
	}
	h.cached = weak.Make(&chunks)
	h.refs.Add(1)
	return chunks, nil
}

// Release closes one Acquire. It is a no-op for eager holders.
func (h *ChunksHolder) Release() {
	if !h.Lazy() {
		return
	}
	h.refs.Add(-1)
}

// RefCount reports how many Acquire calls on a lazy holder are currently
// unreleased. Always zero for an eager holder.
func (h *ChunksHolder) RefCount() int32 { return h.refs.Load() }
