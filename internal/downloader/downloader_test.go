package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/cache"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

func mustZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	out := enc.EncodeAll(data, nil)
	enc.Close()
	return out
}

func TestNextSliceCoalescesAdjacentAndDuplicate(t *testing.T) {
	chunks := []manifest.ChunkDst{
		{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 1, CompressedSize: 10}, BundleID: 1, CompressedOffset: 0}},
		{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 1, CompressedSize: 10}, BundleID: 1, CompressedOffset: 0}}, // duplicate dest
		{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 2, CompressedSize: 5}, BundleID: 1, CompressedOffset: 10}},  // contiguous
		{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 3, CompressedSize: 5}, BundleID: 1, CompressedOffset: 100}}, // gap: new slice
		{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 4, CompressedSize: 5}, BundleID: 2, CompressedOffset: 0}},   // new bundle: new slice
	}
	s1 := nextSlice(chunks)
	if len(s1) != 3 {
		t.Fatalf("first slice len = %d, want 3", len(s1))
	}
	rest := chunks[len(s1):]
	s2 := nextSlice(rest)
	if len(s2) != 1 {
		t.Fatalf("second slice len = %d, want 1", len(s2))
	}
	rest = rest[len(s2):]
	s3 := nextSlice(rest)
	if len(s3) != 1 {
		t.Fatalf("third slice len = %d, want 1", len(s3))
	}
}

func TestGetFetchesCoalescedRangeAndFansOutDuplicates(t *testing.T) {
	payloadA := []byte("hello chunk A, this is the plaintext payload")
	payloadB := []byte("a second, independent chunk of plaintext data")
	rawA := mustZstd(t, payloadA)
	rawB := mustZstd(t, payloadB)
	bundleBytes := append(append([]byte{}, rawA...), rawB...)

	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(bundleBytes)
	}))
	defer srv.Close()

	chunkA := manifest.ChunkDst{
		ChunkSrc: manifest.ChunkSrc{
			ChunkDescriptor:  manifest.ChunkDescriptor{ChunkID: 0xAAAA, CompressedSize: uint32(len(rawA)), UncompressedSize: uint32(len(payloadA))},
			BundleID:         1,
			CompressedOffset: 0,
		},
		UncompressedOffset: 0,
	}
	chunkADup := chunkA
	chunkADup.UncompressedOffset = 1000 // same chunkId, different destination
	chunkB := manifest.ChunkDst{
		ChunkSrc: manifest.ChunkSrc{
			ChunkDescriptor:  manifest.ChunkDescriptor{ChunkID: 0xBBBB, CompressedSize: uint32(len(rawB)), UncompressedSize: uint32(len(payloadB))},
			BundleID:         1,
			CompressedOffset: uint64(len(rawA)),
		},
		UncompressedOffset: 200,
	}

	d := New(Options{BaseURL: srv.URL, Retry: 1}, nil)

	var mu sync.Mutex
	delivered := map[uint64][]byte{}
	_, err := d.Get(context.Background(), []manifest.ChunkDst{chunkA, chunkADup, chunkB}, func(dst manifest.ChunkDst, plain []byte) error {
		mu.Lock()
		defer mu.Unlock()
		delivered[dst.UncompressedOffset] = append([]byte(nil), plain...)
		return nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if string(delivered[0]) != string(payloadA) {
		t.Fatalf("chunk A payload mismatch: %q", delivered[0])
	}
	if string(delivered[1000]) != string(payloadA) {
		t.Fatalf("duplicate chunk A destination not delivered: %q", delivered[1000])
	}
	if string(delivered[200]) != string(payloadB) {
		t.Fatalf("chunk B payload mismatch: %q", delivered[200])
	}

	wantRange := "bytes=0-" + strconv.Itoa(len(bundleBytes)-1)
	if gotRange != wantRange {
		t.Fatalf("range header = %q, want %q (single coalesced GET)", gotRange, wantRange)
	}
}

func TestGetRetriesFailedRound(t *testing.T) {
	payload := []byte("retry me please")
	raw := mustZstd(t, payload)

	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	chunk := manifest.ChunkDst{
		ChunkSrc: manifest.ChunkSrc{
			ChunkDescriptor:  manifest.ChunkDescriptor{ChunkID: 1, CompressedSize: uint32(len(raw)), UncompressedSize: uint32(len(payload))},
			BundleID:         1,
			CompressedOffset: 0,
		},
	}

	d := New(Options{BaseURL: srv.URL, Retry: 3}, nil)
	var delivered bool
	unresolved, err := d.Get(context.Background(), []manifest.ChunkDst{chunk}, func(dst manifest.ChunkDst, plain []byte) error {
		delivered = string(plain) == string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("expected all chunks resolved after retry, got %d unresolved", len(unresolved))
	}
	if !delivered {
		t.Fatal("chunk never delivered")
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestGetZeroRetryNeverTouchesNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	chunk := manifest.ChunkDst{ChunkSrc: manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: 1, CompressedSize: 4}, BundleID: 1}}
	d := New(Options{BaseURL: srv.URL, Retry: 0}, nil)
	unresolved, err := d.Get(context.Background(), []manifest.ChunkDst{chunk}, func(manifest.ChunkDst, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(unresolved) != 1 {
		t.Fatalf("expected the chunk to come back unresolved, got %d", len(unresolved))
	}
	if called {
		t.Fatal("Retry: 0 must never issue a network request")
	}
}

func TestGetResolvesFromCacheWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test")
	c, err := cache.Open(base, false, 0, 0)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}

	payload := []byte("cached plaintext payload, not fetched over the network")
	id, err := c.AddUncompressed(payload, zstd.SpeedDefault)
	if err != nil {
		t.Fatalf("AddUncompressed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c, err = cache.Open(base, true, 0, 0)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer c.Close()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Options{BaseURL: srv.URL, Retry: 2}, c)
	chunk := manifest.ChunkDst{
		ChunkSrc:           manifest.ChunkSrc{ChunkDescriptor: manifest.ChunkDescriptor{ChunkID: id, UncompressedSize: uint32(len(payload))}},
		HashType:           rbyte.HashRitoHKDF,
		UncompressedOffset: 0,
	}

	var got []byte
	unresolved, err := d.Get(context.Background(), []manifest.ChunkDst{chunk}, func(dst manifest.ChunkDst, plain []byte) error {
		got = append([]byte(nil), plain...)
		return nil
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("expected chunk resolved from cache, got %d unresolved", len(unresolved))
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if called {
		t.Fatal("a chunk already in the cache must never be fetched from the network")
	}
}

func TestTrimSlash(t *testing.T) {
	if got := trimSlash("http://cdn/base/"); got != "http://cdn/base" {
		t.Fatalf("trimSlash = %q", got)
	}
	if got := trimSlash("http://cdn/base"); got != "http://cdn/base" {
		t.Fatalf("trimSlash = %q", got)
	}
}
