package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/project-rman/rman/internal/downloader"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/rbyte"
)

func chunkFor(data []byte, offset uint64) manifest.ChunkDst {
	return manifest.ChunkDst{
		ChunkSrc: manifest.ChunkSrc{
			ChunkDescriptor: manifest.ChunkDescriptor{
				ChunkID:          manifest.Hash(data, rbyte.HashSHA256),
				UncompressedSize: uint32(len(data)),
			},
		},
		HashType:           rbyte.HashSHA256,
		UncompressedOffset: offset,
	}
}

func TestGetFileAlreadyComplete(t *testing.T) {
	data := []byte("sixteen byte!!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	file := manifest.File{Path: "out.bin", Size: uint64(len(data)), Chunks: []manifest.ChunkDst{chunkFor(data, 0)}}
	d := downloader.New(downloader.Options{}, nil)
	o := New(Options{Downloader: d})

	result, err := o.GetFile(context.Background(), path, file)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if result.Verified != 1 || result.Fetched != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.Complete() {
		t.Fatal("expected the file to be reported complete")
	}
}

func TestGetFileCreatesMissingFileAndFailsWithoutNetwork(t *testing.T) {
	data := []byte("never on disk!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "out.bin")

	file := manifest.File{Path: "missing/out.bin", Size: uint64(len(data)), Chunks: []manifest.ChunkDst{chunkFor(data, 0)}}
	d := downloader.New(downloader.Options{Retry: 0}, nil)
	o := New(Options{Downloader: d})

	result, err := o.GetFile(context.Background(), path, file)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if result == nil || len(result.Failed) != 1 {
		t.Fatalf("expected one failed chunk, got %+v", result)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		t.Fatalf("expected file to be pre-extended on disk: %v", statErr)
	}
	if info.Size() != int64(len(data)) {
		t.Fatalf("file size = %d, want %d", info.Size(), len(data))
	}
}

func TestSessionRunAggregatesAcrossFiles(t *testing.T) {
	dataA := []byte("file A contents.")
	dataB := []byte("file B is here!!")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), dataA, 0o644); err != nil {
		t.Fatalf("WriteFile a: %v", err)
	}

	m := manifest.Manifest{
		Files: []manifest.File{
			{Path: "a.bin", Size: uint64(len(dataA)), Chunks: []manifest.ChunkDst{chunkFor(dataA, 0)}},
			{Path: "b.bin", Size: uint64(len(dataB)), Chunks: []manifest.ChunkDst{chunkFor(dataB, 0)}},
		},
	}
	d := downloader.New(downloader.Options{Retry: 0}, nil)
	o := New(Options{Downloader: d})
	session := o.NewSession(m, dir)

	results, status, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 file results, got %d", len(results))
	}
	if status.FilesComplete != 1 || status.FilesPartial != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.ChunksVerified != 1 || status.ChunksFailed != 1 {
		t.Fatalf("unexpected chunk counts: %+v", status)
	}
}

func TestProgressCallbackReceivesPhases(t *testing.T) {
	data := []byte("progress test!!!")
	dir := t.TempDir()
	path := filepath.Join(dir, "p.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	file := manifest.File{Path: "p.bin", Size: uint64(len(data)), Chunks: []manifest.ChunkDst{chunkFor(data, 0)}}
	d := downloader.New(downloader.Options{}, nil)

	var sawVerify bool
	o := New(Options{Downloader: d, OnProgress: func(f manifest.File, phase Phase, done, total int) {
		if phase == PhaseVerify && done == total && total == 1 {
			sawVerify = true
		}
	}})

	if _, err := o.GetFile(context.Background(), path, file); err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if !sawVerify {
		t.Fatal("expected a verify-phase progress callback reporting 1/1")
	}
}
