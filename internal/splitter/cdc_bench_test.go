package splitter

import (
	"crypto/rand"
	"testing"
)

func BenchmarkSplitCDC(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	s := New(4<<10, 64<<10)
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if err := s.Split(buf, func(Entry) {}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSplitFixed(b *testing.B) {
	buf := make([]byte, 8<<20)
	rand.Read(buf)
	s := New(4<<10, 64<<10)
	s.UseCDC = false
	b.SetBytes(int64(len(buf)))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if err := s.Split(buf, func(Entry) {}); err != nil {
			b.Fatal(err)
		}
	}
}
