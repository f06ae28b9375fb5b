package bundle

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/project-rman/rman/internal/rbyte"
)

// fileWriter is the minimal file handle a Writer needs: random-access
// writes plus the ability to drop anything past the final footer (a
// Writer always rewrites its TOC and footer in place on every flush).
type fileWriter interface {
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
}

// Writer accumulates chunks for a single bundle file and flushes them in
// batches. Every Flush rewrites the TOC and footer from the writer's
// current offset, so an abrupt stop between flushes only loses the
// unflushed tail — the previous footer stays addressable at its old
// position until the next flush overwrites it.
type Writer struct {
	file      fileWriter
	bundleID  rbyte.BundleID
	tocOffset int64
	pending   []byte
	chunks    []Chunk
	flushed   bool
}

// Create starts a new bundle writer at file offset 0. bundleID is only
// meaningful for callers that want a stable identity for a legacy-style
// bundle; Flush always emits the current-version footer (checksum over
// the TOC), which makes the on-disk BundleID computable from content
// rather than carried explicitly.
func Create(file fileWriter, bundleID rbyte.BundleID) *Writer {
	return &Writer{file: file, bundleID: bundleID}
}

// Resume rebuilds a Writer over a file that already holds a valid bundle,
// so further Append/Flush calls extend it instead of overwriting it. The
// existing chunk table is copied in so Flush keeps writing the full TOC,
// and toc_offset starts at the prior footer's TOC offset, matching where
// that footer's data region ended.
func Resume(file fileWriter, existing *Bundle) *Writer {
	chunks := make([]Chunk, len(existing.Chunks))
	copy(chunks, existing.Chunks)
	return &Writer{
		file:      file,
		bundleID:  existing.BundleID,
		tocOffset: existing.TOCOffset,
		chunks:    chunks,
		flushed:   true,
	}
}

// Append stages a compressed chunk for the next Flush. The caller is
// responsible for calling Flush periodically; Append alone never touches
// the file.
func (w *Writer) Append(c Chunk, compressed []byte) {
	w.pending = append(w.pending, compressed...)
	w.chunks = append(w.chunks, c)
}

// PendingSize returns the number of unflushed compressed bytes buffered.
func (w *Writer) PendingSize() int { return len(w.pending) }

// DataOffset returns the file offset where the next pending byte will
// land: everything below it has been flushed to disk, everything at or
// past it still lives only in the pending buffer.
func (w *Writer) DataOffset() int64 { return w.tocOffset }

// PendingAt copies len(p) not-yet-flushed bytes starting at absolute file
// offset off into p. The requested range must lie entirely within the
// pending buffer; readers use DataOffset to decide whether an offset is
// served from disk or from here.
func (w *Writer) PendingAt(p []byte, off int64) error {
	rel := off - w.tocOffset
	if rel < 0 || rel+int64(len(p)) > int64(len(w.pending)) {
		return fmt.Errorf("bundle: pending read [%d,+%d) outside buffered region", off, len(p))
	}
	copy(p, w.pending[rel:])
	return nil
}

// EndOffset returns where the data region would end if Flush ran right
// now: the chunk cache's rollover check compares this (plus the size of
// a prospective next append) against the configured max file size.
func (w *Writer) EndOffset() int64 { return w.tocOffset + int64(len(w.pending)) }

// Flushed reports whether at least one Flush has completed (a Writer
// built by Resume starts out flushed).
func (w *Writer) Flushed() bool { return w.flushed }

// ChunkCount returns the number of chunks appended across this writer's
// lifetime, flushed or not.
func (w *Writer) ChunkCount() int { return len(w.chunks) }

// Flush writes [pending data || TOC || footer] starting at the writer's
// current toc_offset, then advances toc_offset past the newly written
// data so the next Flush starts where this one's data ended.
func (w *Writer) Flush() error {
	if _, err := w.file.WriteAt(w.pending, w.tocOffset); err != nil {
		return fmt.Errorf("bundle: write data: %w", err)
	}
	tocPos := w.tocOffset + int64(len(w.pending))
	tocBytes := encodeTOC(w.chunks)
	if _, err := w.file.WriteAt(tocBytes, tocPos); err != nil {
		return fmt.Errorf("bundle: write toc: %w", err)
	}
	footerPos := tocPos + int64(len(tocBytes))
	footerBytes := encodeFooter(tocBytes)
	if _, err := w.file.WriteAt(footerBytes, footerPos); err != nil {
		return fmt.Errorf("bundle: write footer: %w", err)
	}
	if err := w.file.Truncate(footerPos + footerSize); err != nil {
		return fmt.Errorf("bundle: truncate: %w", err)
	}
	w.tocOffset += int64(len(w.pending))
	w.pending = w.pending[:0]
	w.flushed = true
	return nil
}

func encodeTOC(chunks []Chunk) []byte {
	buf := make([]byte, len(chunks)*tocEntrySize)
	for i, c := range chunks {
		rec := buf[i*tocEntrySize:]
		binary.LittleEndian.PutUint64(rec[0:8], uint64(c.ChunkID))
		binary.LittleEndian.PutUint32(rec[8:12], c.UncompressedSize)
		binary.LittleEndian.PutUint32(rec[12:16], c.CompressedSize)
	}
	return buf
}

// encodeFooter always emits the current-version footer: checksum is
// XXH64 over the TOC bytes, never a carried-forward bundle ID. Version 1
// (bundleId-as-checksum) is a read-only legacy format this codec never
// writes.
func encodeFooter(toc []byte) []byte {
	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], xxhash.Sum64(toc))
	binary.LittleEndian.PutUint32(footer[8:12], uint32(len(toc)/tocEntrySize))
	binary.LittleEndian.PutUint32(footer[12:16], magicCurrentVersion)
	copy(footer[16:20], magicBytes[:])
	return footer
}
