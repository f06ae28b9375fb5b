// Package orchestrator wires the verifier, cache and CDN downloader into
// the per-file pipeline: compute "bad" chunks
// against what's already on disk, hand the rest to the downloader (which
// itself resolves from cache before ever touching the network), and write
// whatever comes back at its declared offset. A non-empty remaining set
// after the downloader's retry rounds leaves the file on disk partial.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"github.com/project-rman/rman/internal/downloader"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/observability"
	"github.com/project-rman/rman/internal/rbyte"
	"github.com/project-rman/rman/internal/verify"
)

var tracer = otel.Tracer("rman/orchestrator")

// ErrIncomplete is returned by GetFile when chunks remain unresolved after
// the downloader's retry rounds; the file on disk is left partial.
var ErrIncomplete = errors.New("orchestrator: file left partial")

// Phase names one stage of a file's pipeline, for progress reporting.
type Phase int

const (
	// PhaseVerify is the pass over bytes already on disk.
	PhaseVerify Phase = iota
	// PhaseFetch covers both the cache and CDN rounds (the downloader
	// resolves cache hits before ever dispatching a network request).
	PhaseFetch
)

func (p Phase) String() string {
	switch p {
	case PhaseVerify:
		return "verify"
	case PhaseFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// ProgressFunc is invoked as a file's chunks are resolved within a phase.
type ProgressFunc func(file manifest.File, phase Phase, done, total int)

// Options configures an Orchestrator.
type Options struct {
	// Downloader resolves chunks that verification found missing or
	// wrong, consulting its own cache before the CDN. Required.
	Downloader *downloader.Downloader

	Logger     *observability.Logger
	Metrics    *observability.Metrics
	OnProgress ProgressFunc
}

// Orchestrator runs the verify -> cache -> CDN pipeline per file.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// FileResult summarizes one file's outcome.
type FileResult struct {
	File     manifest.File
	Verified int                  // chunks already correct on disk
	Fetched  int                  // chunks delivered by cache or CDN
	Failed   []manifest.ChunkDst  // chunks resolved by neither path
}

// Complete reports whether the file is fully correct on disk.
func (r *FileResult) Complete() bool { return len(r.Failed) == 0 }

type chunkKey struct {
	chunkID rbyte.ChunkID
	offset  uint64
}

func indexChunks(chunks []manifest.ChunkDst) map[chunkKey]int {
	idx := make(map[chunkKey]int, len(chunks))
	for i, c := range chunks {
		idx[chunkKey{c.ChunkID, c.UncompressedOffset}] = i
	}
	return idx
}

// GetFile brings path up to date with file: it re-verifies whatever bytes
// already exist, then resolves anything missing or wrong through the
// downloader, writing each decoded chunk at its declared offset. Returns
// ErrIncomplete (with a populated, non-nil FileResult) if chunks remain
// unresolved after the downloader gives up; any other error means the
// pipeline itself failed partway and the FileResult is not meaningful.
func (o *Orchestrator) GetFile(ctx context.Context, path string, file manifest.File) (*FileResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.file")
	defer span.End()

	logger := o.opts.Logger
	if logger != nil {
		logger = logger.WithFile(file.Path, int64(file.Size))
	}

	byKey := indexChunks(file.Chunks)
	bm := newChunkBitmap(len(file.Chunks))
	result := &FileResult{File: file}

	_, verifySpan := tracer.Start(ctx, "orchestrator.verify")
	bad, verifyErr := verify.Verify(path, file, func(chunk manifest.ChunkDst, data []byte) error {
		result.Verified++
		if i, ok := byKey[chunkKey{chunk.ChunkID, chunk.UncompressedOffset}]; ok {
			_ = bm.set(i)
		}
		return nil
	})
	verifySpan.End()
	switch {
	case verifyErr == nil:
		if o.opts.Metrics != nil {
			for i := 0; i < result.Verified; i++ {
				o.opts.Metrics.RecordChunkVerified(true)
			}
			for range bad {
				o.opts.Metrics.RecordChunkVerified(false)
			}
		}
	case errors.Is(verifyErr, fs.ErrNotExist):
		bad = file.Chunks // nothing on disk yet: every chunk is bad
	default:
		return nil, fmt.Errorf("orchestrator: verify %s: %w", path, verifyErr)
	}

	if o.opts.OnProgress != nil {
		done, total := bm.progress()
		o.opts.OnProgress(file, PhaseVerify, done, total)
	}
	if logger != nil {
		logger.Debug(fmt.Sprintf("verify: %d/%d chunks already correct", result.Verified, len(file.Chunks)))
	}

	if len(bad) == 0 {
		if logger != nil {
			logger.Info("file already complete")
		}
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: mkdir for %s: %w", path, err)
	}
	w, err := verify.Open(path, int64(file.Size))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open %s: %w", path, err)
	}
	defer w.Close()

	fetchCtx, fetchSpan := tracer.Start(ctx, "orchestrator.fetch")
	unresolved, fetchErr := o.opts.Downloader.Get(fetchCtx, bad, func(dst manifest.ChunkDst, data []byte) error {
		if err := w.WriteChunk(dst, data); err != nil {
			return err
		}
		result.Fetched++
		if i, ok := byKey[chunkKey{dst.ChunkID, dst.UncompressedOffset}]; ok {
			_ = bm.set(i)
		}
		if o.opts.OnProgress != nil {
			done, total := bm.progress()
			o.opts.OnProgress(file, PhaseFetch, done, total)
		}
		return nil
	})
	fetchSpan.End()
	if fetchErr != nil {
		return nil, fmt.Errorf("orchestrator: fetch %s: %w", path, fetchErr)
	}

	if err := w.Sync(); err != nil {
		return nil, fmt.Errorf("orchestrator: sync %s: %w", path, err)
	}

	result.Failed = unresolved
	if o.opts.Metrics != nil {
		for range unresolved {
			o.opts.Metrics.RecordChunkRetransmit("unresolved")
		}
	}
	if len(unresolved) > 0 {
		if logger != nil {
			logger.Warn(fmt.Sprintf("file left partial: %d/%d chunks unresolved", len(unresolved), len(file.Chunks)))
		}
		return result, ErrIncomplete
	}
	if logger != nil {
		logger.Info("file complete")
	}
	return result, nil
}
