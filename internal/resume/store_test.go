package resume

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreSaveLoadSession(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	rec := SessionRecord{
		ID:         "session-1",
		ManifestID: 0x1234,
		DestDir:    "/tmp/out",
		FilesTotal: 3,
		State:      StateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := store.LoadSession("session-1")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.ManifestID != rec.ManifestID || got.DestDir != rec.DestDir || got.FilesTotal != rec.FilesTotal {
		t.Fatalf("loaded session mismatch: %+v", got)
	}
	if got.State != StateActive {
		t.Fatalf("State = %q, want active", got.State)
	}
}

func TestStoreLoadSessionNotFound(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if _, err := store.LoadSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreUpdateSessionStateAndDelete(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	rec := SessionRecord{ID: "s", ManifestID: 1, DestDir: "d", State: StatePending, CreatedAt: now, UpdatedAt: now}
	if err := store.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.UpdateSessionState("s", StateCompleted, now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateSessionState: %v", err)
	}
	got, err := store.LoadSession("s")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.State != StateCompleted {
		t.Fatalf("State = %q, want completed", got.State)
	}

	if err := store.DeleteSession("s"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.LoadSession("s"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session gone after delete, got %v", err)
	}
}

func TestStoreBitmapRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	session := SessionRecord{ID: "s", ManifestID: 1, DestDir: "d", State: StateActive, CreatedAt: now, UpdatedAt: now}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	bitmap := []byte{0b00000101}
	if err := store.SaveBitmap("s", "a.bin", bitmap, 2, 8, now); err != nil {
		t.Fatalf("SaveBitmap: %v", err)
	}

	gotBitmap, done, total, err := store.LoadBitmap("s", "a.bin")
	if err != nil {
		t.Fatalf("LoadBitmap: %v", err)
	}
	if done != 2 || total != 8 || len(gotBitmap) != 1 || gotBitmap[0] != bitmap[0] {
		t.Fatalf("unexpected bitmap: bitmap=%v done=%d total=%d", gotBitmap, done, total)
	}

	if _, _, _, err := store.LoadBitmap("s", "missing.bin"); !errors.Is(err, ErrBitmapNotFound) {
		t.Fatalf("expected ErrBitmapNotFound, got %v", err)
	}
}
