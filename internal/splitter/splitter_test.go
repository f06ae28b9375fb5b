package splitter

import (
	"archive/zip"
	"bytes"
	"math/rand"
	"testing"
)

func TestCDCStableBoundaries(t *testing.T) {
	const chunkMax, chunkMin = 64 * 1024, 4 * 1024
	rnd := rand.New(rand.NewSource(42))
	data := make([]byte, 1024*1024)
	if _, err := rnd.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	run := func() []Entry {
		s := New(chunkMin, chunkMax)
		var got []Entry
		if err := s.Split(data, func(e Entry) { got = append(got, e) }); err != nil {
			t.Fatalf("Split: %v", err)
		}
		return got
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("boundary count not stable: %d vs %d", len(a), len(b))
	}
	var total uint64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("entry %d not stable: %+v vs %+v", i, a[i], b[i])
		}
		if a[i].Size < chunkMin && a[i].Offset+a[i].Size != uint64(len(data)) {
			t.Fatalf("entry %d size %d below min (not final chunk)", i, a[i].Size)
		}
		if a[i].Size > chunkMax {
			t.Fatalf("entry %d size %d above max", i, a[i].Size)
		}
		total += a[i].Size
	}
	if total != uint64(len(data)) {
		t.Fatalf("entries cover %d bytes, want %d", total, len(data))
	}
}

func TestFixedChunking(t *testing.T) {
	data := make([]byte, 100)
	s := New(10, 32)
	s.UseCDC = false
	var got []Entry
	if err := s.Split(data, func(e Entry) { got = append(got, e) }); err != nil {
		t.Fatalf("Split: %v", err)
	}
	var total uint64
	for _, e := range got {
		if e.Size > 32 {
			t.Fatalf("fixed chunk %d exceeds max", e.Size)
		}
		total += e.Size
	}
	if total != 100 {
		t.Fatalf("total = %d, want 100", total)
	}
}

func TestZIPStoredNestsCompressedDoesnt(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	stored, err := zw.CreateHeader(&zip.FileHeader{Name: "stored.bin", Method: zip.Store})
	if err != nil {
		t.Fatalf("CreateHeader stored: %v", err)
	}
	storedPayload := bytes.Repeat([]byte{0xAB}, 4096)
	if _, err := stored.Write(storedPayload); err != nil {
		t.Fatalf("write stored: %v", err)
	}

	deflated, err := zw.CreateHeader(&zip.FileHeader{Name: "deflated.bin", Method: zip.Deflate})
	if err != nil {
		t.Fatalf("CreateHeader deflated: %v", err)
	}
	if _, err := deflated.Write(bytes.Repeat([]byte("compress-me "), 512)); err != nil {
		t.Fatalf("write deflated: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close: %v", err)
	}

	data := buf.Bytes()
	entries, matched, err := tryZIP(data, Entry{Offset: 0, Size: uint64(len(data)), Nest: true})
	if err != nil {
		t.Fatalf("tryZIP: %v", err)
	}
	if !matched {
		t.Fatal("tryZIP should recognise a valid zip")
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	var sawStored, sawDeflated bool
	for _, e := range entries {
		if e.Nest {
			sawStored = true
			if e.HighEntropy {
				t.Fatal("stored entry should not be high entropy")
			}
		} else {
			sawDeflated = true
			if !e.HighEntropy {
				t.Fatal("deflated entry should be high entropy")
			}
		}
	}
	if !sawStored || !sawDeflated {
		t.Fatalf("expected one stored (nest) and one deflated (high-entropy) entry, got %+v", entries)
	}
}

func TestNonZipFallsBackToCDC(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 200)
	s := New(16, 64)
	var got []Entry
	if err := s.Split(data, func(e Entry) { got = append(got, e) }); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one emitted entry")
	}
	var total uint64
	for _, e := range got {
		total += e.Size
	}
	if total != uint64(len(data)) {
		t.Fatalf("entries cover %d bytes, want %d", total, len(data))
	}
}

func TestGapFillingInheritsHighEntropy(t *testing.T) {
	s := New(4, 16)
	s.UserRecognizer = func(data []byte, top Entry) ([]Entry, bool, error) {
		if top.Offset != 0 {
			return nil, false, nil
		}
		// Commit a single entry in the middle, leaving gaps before and after.
		return []Entry{{Offset: 20, Size: 10}}, true, nil
	}
	data := make([]byte, 40)
	top := Entry{Offset: 0, Size: 40, Nest: true, HighEntropy: true}
	var got []Entry
	if err := s.process(data, top, func(e Entry) { got = append(got, e) }); err != nil {
		t.Fatalf("process: %v", err)
	}
	var total uint64
	for _, e := range got {
		total += e.Size
		if e.Offset < 20 || e.Offset >= 30 {
			if !e.HighEntropy {
				t.Fatalf("leftover entry %+v should inherit parent HighEntropy", e)
			}
		}
	}
	if total != 40 {
		t.Fatalf("entries cover %d bytes, want 40", total)
	}
}

func TestStrictPropagatesRecognizerError(t *testing.T) {
	s := New(4, 16)
	s.Strict = true
	s.UserRecognizer = func(data []byte, top Entry) ([]Entry, bool, error) {
		return nil, true, errBoom
	}
	err := s.Split(make([]byte, 32), func(Entry) {})
	if err == nil {
		t.Fatal("expected strict mode to propagate the recogniser error")
	}
}

func TestNonStrictFallsBackOnRecognizerError(t *testing.T) {
	s := New(4, 16)
	s.UserRecognizer = func(data []byte, top Entry) ([]Entry, bool, error) {
		return nil, true, errBoom
	}
	var got []Entry
	if err := s.Split(make([]byte, 32), func(e Entry) { got = append(got, e) }); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(s.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(s.Errors))
	}
	var total uint64
	for _, e := range got {
		total += e.Size
	}
	if total != 32 {
		t.Fatalf("entries cover %d bytes, want 32", total)
	}
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom" }
