package jrman

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/rbyte"
)

// Decode reads a JRMAN or ZRMAN stream. ZRMAN is detected by the zstd magic
// on the first four bytes and transparently unwrapped before the
// line-oriented JRMAN parser ever sees it.
func Decode(r io.Reader) (Manifest, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err == nil && [4]byte(head[:4]) == zstdMagic {
		dec, derr := zstd.NewReader(br)
		if derr != nil {
			return Manifest{}, fmt.Errorf("jrman: init zstd decoder: %w", derr)
		}
		defer dec.Close()
		return decodeLines(dec)
	}
	return decodeLines(br)
}

func decodeLines(r io.Reader) (Manifest, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), windowSize)

	var first string
	for first == "" {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return Manifest{}, fmt.Errorf("jrman: read marker: %w", err)
			}
			return Manifest{}, ErrBadMagic
		}
		first = strings.TrimSpace(scanner.Text())
	}
	if first != marker {
		return Manifest{}, ErrBadMagic
	}

	var m Manifest
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var wf wireFile
		if err := json.Unmarshal([]byte(line), &wf); err != nil {
			return Manifest{}, fmt.Errorf("jrman: decode file record: %w", err)
		}
		m.Files = append(m.Files, fromWire(wf))
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, fmt.Errorf("jrman: scan: %w", err)
	}
	return m, nil
}

func fromWire(wf wireFile) File {
	f := File{
		FileID:      rbyte.FileID(wf.FileID),
		Size:        wf.Size,
		Path:        wf.Path,
		Link:        wf.Link,
		Langs:       wf.Langs,
		Permissions: wf.Permissions,
		Time:        wf.Time,
		Chunks:      make([]Chunk, 0, len(wf.Chunks)),
	}
	var offset uint64
	for _, c := range wf.Chunks {
		f.Chunks = append(f.Chunks, Chunk{
			ChunkID:            rbyte.ChunkID(c.ChunkID),
			HashType:           rbyte.HashType(c.HashType),
			UncompressedSize:   c.UncompressedSize,
			UncompressedOffset: offset,
		})
		offset += uint64(c.UncompressedSize)
	}
	return f
}

func toWire(f File) wireFile {
	wf := wireFile{
		FileID:      hexID(f.FileID),
		Size:        f.Size,
		Path:        f.Path,
		Link:        f.Link,
		Langs:       f.Langs,
		Permissions: f.Permissions,
		Time:        f.Time,
		Chunks:      make([]wireChunk, 0, len(f.Chunks)),
	}
	for _, c := range f.Chunks {
		wf.Chunks = append(wf.Chunks, wireChunk{
			ChunkID:          hexID(c.ChunkID),
			HashType:         uint8(c.HashType),
			UncompressedSize: c.UncompressedSize,
		})
	}
	return wf
}

// Encode writes m as an uncompressed JRMAN stream.
func Encode(w io.Writer, m Manifest) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(marker + "\n"); err != nil {
		return fmt.Errorf("jrman: write marker: %w", err)
	}
	for _, f := range m.Files {
		data, err := json.Marshal(toWire(f))
		if err != nil {
			return fmt.Errorf("jrman: encode file %s: %w", f.FileID, err)
		}
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("jrman: write file %s: %w", f.FileID, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("jrman: write newline: %w", err)
		}
	}
	return bw.Flush()
}

// EncodeZRMAN writes m as a zstd-framed JRMAN stream.
func EncodeZRMAN(w io.Writer, m Manifest, level zstd.EncoderLevel) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("jrman: init zstd encoder: %w", err)
	}
	if err := Encode(enc, m); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
