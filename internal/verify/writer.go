package verify

import (
	"fmt"
	"os"
	"sync"

	"github.com/project-rman/rman/internal/manifest"
)

// shutdownGuard tracks in-flight chunk writes so a process-level shutdown
// handler can wait for the current write to finish before exiting: file
// state must never be observed half-written because a signal arrived
// mid-write.
var shutdownGuard sync.WaitGroup

// Hold registers one in-flight uninterruptible write and returns a func to
// call when it completes. A top-level shutdown handler (cmd/'s
// signal.Notify hook) calls Wait before acting on SIGINT/SIGTERM, so any
// write that has already started is always allowed to finish.
func Hold() func() {
	shutdownGuard.Add(1)
	return shutdownGuard.Done
}

// Wait blocks until every write started via Hold has completed.
func Wait() {
	shutdownGuard.Wait()
}

// Writer is a sparse-friendly random-access file writer: it pre-extends
// the target file to its final size on Open, then writes each decoded
// chunk at its declared UncompressedOffset.
type Writer struct {
	file *os.File
}

// Open creates path if it does not exist and, for a positive size, sets
// its length to size bytes so the filesystem can allocate a new file
// sparsely. Bytes an existing file already holds below size are kept. It
// returns a Writer ready for random-access chunk writes.
func Open(path string, size int64) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("verify: create %s: %w", path, err)
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("verify: pre-extend %s to %d: %w", path, size, err)
		}
	}
	return &Writer{file: file}, nil
}

// WriteChunk writes data at chunk.UncompressedOffset, under the
// uninterruptible-write guard (see Hold).
func (w *Writer) WriteChunk(chunk manifest.ChunkDst, data []byte) error {
	release := Hold()
	_, err := w.file.WriteAt(data, int64(chunk.UncompressedOffset))
	release()
	if err != nil {
		return fmt.Errorf("verify: write chunk %s at %d: %w", chunk.ChunkID, chunk.UncompressedOffset, err)
	}
	return nil
}

// Close closes the underlying file. Callers that need the file's bytes
// durable before returning should Sync first.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Sync flushes the file's in-kernel buffers to stable storage.
func (w *Writer) Sync() error {
	return w.file.Sync()
}
