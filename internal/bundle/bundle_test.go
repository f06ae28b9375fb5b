package bundle

import (
	"bytes"
	"testing"

	"github.com/project-rman/rman/internal/rbyte"
)

// memFile is a growable in-memory stand-in for *os.File, enough to drive
// Writer/Read/Merge in tests without touching the filesystem.
type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, bytes.ErrTooLarge
	}
	copy(p, m.buf[off:off+int64(len(p))])
	return len(p), nil
}

func (m *memFile) Truncate(size int64) error {
	if int64(len(m.buf)) > size {
		m.buf = m.buf[:size]
	}
	return nil
}

func TestWriterFlushAndRead(t *testing.T) {
	f := &memFile{}
	w := Create(f, 0)

	w.Append(Chunk{ChunkID: 1, CompressedSize: 4, UncompressedSize: 10}, []byte("aaaa"))
	w.Append(Chunk{ChunkID: 2, CompressedSize: 3, UncompressedSize: 5}, []byte("bbb"))
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !w.Flushed() {
		t.Fatal("expected Flushed() true")
	}

	b, err := Read(f, int64(len(f.buf)), false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b.Chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(b.Chunks))
	}
	if b.Chunks[0].ChunkID != 1 || b.Chunks[1].ChunkID != 2 {
		t.Fatalf("chunks = %+v", b.Chunks)
	}
	src, ok := b.Lookup[rbyte.ChunkID(2)]
	if !ok || src.CompressedOffset != 4 {
		t.Fatalf("lookup[2] = %+v, ok=%v, want offset 4", src, ok)
	}

	// A second flush with more chunks should extend, not clobber, the
	// existing data: toc_offset advanced past the first flush's bytes.
	w.Append(Chunk{ChunkID: 3, CompressedSize: 2, UncompressedSize: 2}, []byte("cc"))
	if err := w.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	b2, err := Read(f, int64(len(f.buf)), false)
	if err != nil {
		t.Fatalf("Read after second flush: %v", err)
	}
	if len(b2.Chunks) != 3 {
		t.Fatalf("chunk count after second flush = %d, want 3", len(b2.Chunks))
	}
	if string(f.buf[0:4]) != "aaaa" || string(f.buf[4:7]) != "bbb" || string(f.buf[7:9]) != "cc" {
		t.Fatalf("data region corrupted across flushes: %q", f.buf[0:9])
	}
}

func TestReadNotABundle(t *testing.T) {
	f := &memFile{buf: []byte("too short")}
	if _, err := Read(f, int64(len(f.buf)), false); err == nil {
		t.Fatal("expected ErrNotABundle")
	}
}

func TestReadBadChecksum(t *testing.T) {
	f := &memFile{}
	w := Create(f, 0)
	w.Append(Chunk{ChunkID: 1, CompressedSize: 1, UncompressedSize: 1}, []byte("a"))
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	f.buf[len(f.buf)-20] ^= 0xFF // corrupt the checksum
	if _, err := Read(f, int64(len(f.buf)), false); err == nil {
		t.Fatal("expected checksum mismatch")
	}
}

func TestMergeDedups(t *testing.T) {
	srcA := &memFile{}
	wa := Create(srcA, 0)
	wa.Append(Chunk{ChunkID: 1, CompressedSize: 4, UncompressedSize: 4}, []byte("AAAA"))
	wa.Append(Chunk{ChunkID: 2, CompressedSize: 4, UncompressedSize: 4}, []byte("BBBB"))
	if err := wa.Flush(); err != nil {
		t.Fatalf("flush A: %v", err)
	}
	bundleA, err := Read(srcA, int64(len(srcA.buf)), false)
	if err != nil {
		t.Fatalf("read A: %v", err)
	}

	srcB := &memFile{}
	wb := Create(srcB, 0)
	wb.Append(Chunk{ChunkID: 2, CompressedSize: 4, UncompressedSize: 4}, []byte("ZZZZ"))
	wb.Append(Chunk{ChunkID: 3, CompressedSize: 4, UncompressedSize: 4}, []byte("CCCC"))
	if err := wb.Flush(); err != nil {
		t.Fatalf("flush B: %v", err)
	}
	bundleB, err := Read(srcB, int64(len(srcB.buf)), false)
	if err != nil {
		t.Fatalf("read B: %v", err)
	}

	dst := &memFile{}
	chunks, err := Merge(dst, []MergeSource{
		{Bundle: bundleA, Reader: srcA},
		{Bundle: bundleB, Reader: srcB},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("merged chunk count = %d, want 3 (1,2,3 deduped)", len(chunks))
	}

	merged, err := Read(dst, int64(len(dst.buf)), false)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	loc := merged.Lookup[rbyte.ChunkID(2)]
	got := make([]byte, loc.CompressedSize)
	if _, err := dst.ReadAt(got, int64(loc.CompressedOffset)); err != nil {
		t.Fatalf("read merged chunk 2: %v", err)
	}
	if string(got) != "BBBB" {
		t.Fatalf("merged chunk 2 = %q, want BBBB (A should win the duplicate)", got)
	}
}
