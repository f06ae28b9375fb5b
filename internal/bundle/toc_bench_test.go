package bundle

import (
	"bytes"
	"testing"

	"github.com/project-rman/rman/internal/rbyte"
)

func BenchmarkReadTOC(b *testing.B) {
	const entries = 50_000
	const compressedSize = 256

	chunks := make([]Chunk, entries)
	for i := range chunks {
		chunks[i] = Chunk{
			ChunkID:          rbyte.ChunkID(i + 1),
			CompressedSize:   compressedSize,
			UncompressedSize: 4 * compressedSize,
		}
	}
	toc := encodeTOC(chunks)
	footer := encodeFooter(toc)

	file := make([]byte, 0, entries*compressedSize+len(toc)+len(footer))
	file = append(file, make([]byte, entries*compressedSize)...)
	file = append(file, toc...)
	file = append(file, footer...)
	r := bytes.NewReader(file)

	b.SetBytes(int64(len(toc)))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := Read(r, int64(len(file)), false); err != nil {
			b.Fatal(err)
		}
	}
}
