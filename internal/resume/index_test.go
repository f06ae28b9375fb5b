package resume

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/project-rman/rman/internal/rbyte"
)

func TestIndexPutAndLookup(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "resume.idx"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	rec := Record{OldFileID: 1, NewFileID: 2, Chunk: EmptyChunks}
	if err := idx.Put(rec, 64, time.Now()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	offset, ok, err := idx.Lookup(2)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || offset != 64 {
		t.Fatalf("Lookup = (%d, %v), want (64, true)", offset, ok)
	}

	if _, ok, err := idx.Lookup(999); err != nil || ok {
		t.Fatalf("Lookup of unknown id = ok:%v err:%v, want ok:false", ok, err)
	}
}

func TestIndexGCRemovesOldEntries(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "resume.idx"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	old := Record{OldFileID: 1, NewFileID: 1, Chunk: EmptyChunks}
	fresh := Record{OldFileID: 2, NewFileID: 2, Chunk: EmptyChunks}
	if err := idx.Put(old, 0, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("Put old: %v", err)
	}
	if err := idx.Put(fresh, 32, time.Now()); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	removed, err := idx.GC(24 * time.Hour)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, ok, _ := idx.Lookup(1); ok {
		t.Fatal("expected old entry to be garbage collected")
	}
	if _, ok, _ := idx.Lookup(2); !ok {
		t.Fatal("expected fresh entry to survive GC")
	}
}

func TestRebuildFromLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "resume.log")
	log, err := OpenLog(logPath)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	records := []Record{
		{OldFileID: 1, NewFileID: 11, Chunk: EmptyChunks},
		{OldFileID: 2, NewFileID: 22, Chunk: NoChunks},
	}
	for _, r := range records {
		if err := log.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	log.Close()

	idx, err := OpenIndex(filepath.Join(dir, "resume.idx"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if err := Rebuild(idx, logPath); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	offset, ok, err := idx.Lookup(rbyte.FileID(22))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || offset != int64(RecordSize) {
		t.Fatalf("Lookup = (%d, %v), want (%d, true)", offset, ok, RecordSize)
	}
}
