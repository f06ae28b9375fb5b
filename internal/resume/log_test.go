package resume

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/project-rman/rman/internal/rbyte"
)

func TestLogAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.log")
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer log.Close()

	want := []Record{
		{OldFileID: 1, NewFileID: 10, Chunk: EmptyChunks},
		{OldFileID: 2, NewFileID: 20, Chunk: 0xCAFE},
		{OldFileID: 3, NewFileID: 30, Chunk: NoChunks},
	}
	for _, r := range want {
		if err := log.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadAllOnMissingLogIsEmpty(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestLogAppendIsConcurrencySafeOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.log")
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer log.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = log.Append(Record{OldFileID: rbyte.FileID(i), NewFileID: rbyte.FileID(i), Chunk: EmptyChunks})
		}(i)
	}
	wg.Wait()

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("len(got) = %d, want 16 (no torn writes)", len(got))
	}
}
