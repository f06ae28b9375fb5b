package resume

import "testing"

func TestRecordMarshalRoundTrip(t *testing.T) {
	in := Record{OldFileID: 0x1, NewFileID: 0x2, Chunk: 0xAA}
	buf := in.Marshal()
	out, err := UnmarshalRecord(buf[:])
	if err != nil {
		t.Fatalf("UnmarshalRecord: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestRecordHasChunksSentinels(t *testing.T) {
	noChunks := Record{Chunk: NoChunks}
	if noChunks.HasChunks() {
		t.Fatal("NoChunks sentinel should report HasChunks() == false")
	}

	empty := Record{Chunk: EmptyChunks}
	if empty.HasChunks() {
		t.Fatal("EmptyChunks sentinel should report HasChunks() == false")
	}

	single := Record{Chunk: 0xDEADBEEF}
	if !single.HasChunks() {
		t.Fatal("a concrete chunk value should report HasChunks() == true")
	}
	if single.ChunkID() != 0xDEADBEEF {
		t.Fatalf("ChunkID() = %x, want DEADBEEF", single.ChunkID())
	}
}

func TestUnmarshalRecordRejectsWrongSize(t *testing.T) {
	if _, err := UnmarshalRecord(make([]byte, 16)); err == nil {
		t.Fatal("expected an error for a short buffer")
	}
}
