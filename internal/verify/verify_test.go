package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

func chunkFor(data []byte, offset uint64, hashType rbyte.HashType) manifest.ChunkDst {
	return manifest.ChunkDst{
		ChunkSrc: manifest.ChunkSrc{
			ChunkDescriptor: manifest.ChunkDescriptor{
				ChunkID:          manifest.Hash(data, hashType),
				UncompressedSize: uint32(len(data)),
			},
		},
		HashType:           hashType,
		UncompressedOffset: offset,
	}
}

func TestVerifySucceedsInOrder(t *testing.T) {
	partA := []byte("first sixteen by")
	partB := []byte("second chunk!!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, append(append([]byte{}, partA...), partB...), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f := manifest.File{
		Size: uint64(len(partA) + len(partB)),
		Chunks: []manifest.ChunkDst{
			chunkFor(partA, 0, rbyte.HashSHA256),
			chunkFor(partB, uint64(len(partA)), rbyte.HashSHA256),
		},
	}

	var seen [][]byte
	failed, err := Verify(path, f, func(chunk manifest.ChunkDst, data []byte) error {
		seen = append(seen, append([]byte(nil), data...))
		return nil
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failed chunks, got %d", len(failed))
	}
	if len(seen) != 2 || string(seen[0]) != string(partA) || string(seen[1]) != string(partB) {
		t.Fatalf("unexpected delivery order/content: %q", seen)
	}
}

func TestVerifyFailsFastOnShortFile(t *testing.T) {
	partA := []byte("complete chunk..")
	partB := []byte("never written!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(path, partA, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f := manifest.File{
		Size: uint64(len(partA) + len(partB)),
		Chunks: []manifest.ChunkDst{
			chunkFor(partA, 0, rbyte.HashSHA256),
			chunkFor(partB, uint64(len(partA)), rbyte.HashSHA256),
		},
	}

	var delivered int
	failed, err := Verify(path, f, func(manifest.ChunkDst, []byte) error {
		delivered++
		return nil
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected the complete leading chunk to be delivered, got %d deliveries", delivered)
	}
	if len(failed) != 1 {
		t.Fatalf("expected exactly the short trailing chunk to fail, got %d", len(failed))
	}
}

func TestVerifyDetectsHashMismatch(t *testing.T) {
	data := []byte("sixteen byte!!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	chunk := chunkFor(data, 0, rbyte.HashSHA256)
	chunk.ChunkID ^= 0xFF // corrupt the expected identity

	f := manifest.File{Size: uint64(len(data)), Chunks: []manifest.ChunkDst{chunk}}

	called := false
	failed, err := Verify(path, f, func(manifest.ChunkDst, []byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if called {
		t.Fatal("onData must not be invoked for a hash mismatch")
	}
	if len(failed) != 1 {
		t.Fatalf("expected one failed chunk, got %d", len(failed))
	}
}

func TestWriterPreExtendsAndWritesRandomAccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sparse.bin")

	const size = 4096
	w, err := Open(path, size)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tail := []byte("tail bytes")
	head := []byte("head bytes")
	if err := w.WriteChunk(manifest.ChunkDst{UncompressedOffset: size - uint64(len(tail))}, tail); err != nil {
		t.Fatalf("WriteChunk tail: %v", err)
	}
	if err := w.WriteChunk(manifest.ChunkDst{UncompressedOffset: 0}, head); err != nil {
		t.Fatalf("WriteChunk head: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != size {
		t.Fatalf("file size = %d, want %d (pre-extend)", info.Size(), size)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got[:len(head)]) != string(head) {
		t.Fatalf("head mismatch: %q", got[:len(head)])
	}
	if string(got[size-len(tail):]) != string(tail) {
		t.Fatalf("tail mismatch: %q", got[size-len(tail):])
	}
}

func TestHoldBlocksWaitUntilReleased(t *testing.T) {
	release := Hold()
	done := make(chan struct{})
	go func() {
		Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before the held write was released")
	default:
	}

	release()
	<-done
}
