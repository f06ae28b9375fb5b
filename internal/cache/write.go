package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/bundle"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

// ErrReadonly is returned by every write operation on a cache opened
// read-only.
var ErrReadonly = errors.New("cache: cache is read-only")

// Add appends a chunk's compressed bytes to the active file's write
// buffer. It is a no-op if the chunk is already cached. When the buffer
// grows past flushSize it is flushed immediately.
func (c *Cache) Add(desc bundle.Chunk, compressed []byte) error {
	if c.readonly {
		return ErrReadonly
	}
	if c.Contains(desc.ChunkID) {
		return nil
	}
	if err := c.checkSpace(int64(len(compressed))); err != nil {
		return err
	}

	f := c.active()
	f.writer.Append(desc, compressed)
	c.lookup[desc.ChunkID] = location{
		seq:              f.seq,
		Chunk:            desc,
		compressedOffset: uint64(f.writer.EndOffset()) - uint64(len(compressed)),
	}

	if int64(f.writer.PendingSize()) >= c.flushSize {
		if err := f.writer.Flush(); err != nil {
			return fmt.Errorf("cache: flush %s: %w", f.path, err)
		}
	}
	return nil
}

// AddUncompressed hashes raw bytes with RITO_HKDF, short-circuits if the
// resulting chunk is already cached, and otherwise zstd-compresses and
// stores it.
func (c *Cache) AddUncompressed(data []byte, level zstd.EncoderLevel) (rbyte.ChunkID, error) {
	id := manifest.Hash(data, rbyte.HashRitoHKDF)
	if c.Contains(id) {
		return id, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return 0, fmt.Errorf("cache: init zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	desc := bundle.Chunk{ChunkID: id, CompressedSize: uint32(len(compressed)), UncompressedSize: uint32(len(data))}
	if err := c.Add(desc, compressed); err != nil {
		return 0, err
	}
	return id, nil
}

// checkSpace applies the rollover policy: if appending extra more bytes
// would push the active file's projected end past maxSize, and the
// active file already has at least one flushed chunk, seal it and start
// the next one. A file with no flushed chunk data is never rolled —
// rollover exists to bound a file's eventual size, not to refuse a
// single oversized chunk to an empty file.
func (c *Cache) checkSpace(extra int64) error {
	f := c.active()
	if f == nil {
		return c.rollover()
	}
	if f.writer.EndOffset()+extra <= c.maxSize || f.writer.DataOffset() == 0 {
		return nil
	}
	if f.writer.PendingSize() > 0 {
		if err := f.writer.Flush(); err != nil {
			return fmt.Errorf("cache: seal %s: %w", f.path, err)
		}
	}
	f.readonly = true
	return c.rollover()
}

func (c *Cache) rollover() error {
	seq := 0
	if len(c.files) > 0 {
		seq = c.files[len(c.files)-1].seq + 1
	}
	p := seqPath(c.basePath, seq)
	handle, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("cache: create %s: %w", p, err)
	}
	f := &file{seq: seq, path: p, handle: handle, writer: bundle.Create(handle, 0)}
	// Flush the empty TOC and footer right away so the file is a valid
	// (if empty) bundle from the moment it exists: a crash before the
	// first data flush must still leave every sequence file reopenable.
	if err := f.writer.Flush(); err != nil {
		handle.Close()
		return fmt.Errorf("cache: init %s: %w", p, err)
	}
	c.files = append(c.files, f)
	return nil
}
