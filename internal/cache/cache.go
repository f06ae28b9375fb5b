// Package cache implements the chunk cache: a rolling sequence of .bundle
// files (path itself, then path.00001.bundle, path.00002.bundle, …)
// addressed through a single combined chunk ID index, with a write-behind
// buffer on the newest file.
package cache

import (
	"fmt"
	"os"
	"sort"

	"github.com/project-rman/rman/internal/bundle"
	"github.com/project-rman/rman/internal/rbyte"
)

const minFlushSize = 32 * 1024 * 1024

// location is where a cached chunk physically lives: which sequence file,
// and the usual compressed-offset/size pair.
type location struct {
	seq int
	bundle.Chunk
	compressedOffset uint64
}

// file is one bundle file of the rolling sequence on disk: the bare base
// path for sequence 0, path.NNNNN.bundle for overflow files.
type file struct {
	seq      int
	path     string
	handle   *os.File
	readonly bool
	writer   *bundle.Writer // nil for readonly files
}

// Cache is a multi-file chunk store. Only the newest file is ever
// writable; every older file the probe found is opened read-only.
type Cache struct {
	basePath  string
	readonly  bool
	flushSize int64
	maxSize   int64

	files  []*file
	lookup map[rbyte.ChunkID]location
}

// Open opens (or, for a writable cache with nothing on disk yet, starts)
// the rolling bundle sequence at basePath. flushSize and maxSize are
// clamped per the space-accounting rule: flushSize floors at 32 MiB,
// maxSize floors at 2×flushSize and is then reduced by flushSize so a
// full flush always has room.
func Open(basePath string, readonly bool, flushSize, maxSize int64) (*Cache, error) {
	if flushSize < minFlushSize {
		flushSize = minFlushSize
	}
	if maxSize < 2*flushSize {
		maxSize = 2 * flushSize
	}
	maxSize -= flushSize

	c := &Cache{
		basePath:  basePath,
		readonly:  readonly,
		flushSize: flushSize,
		maxSize:   maxSize,
		lookup:    make(map[rbyte.ChunkID]location),
	}

	var seqFiles []*file
	for seq := 0; ; seq++ {
		p := seqPath(basePath, seq)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("cache: stat %s: %w", p, err)
		}
		seqFiles = append(seqFiles, &file{seq: seq, path: p})
	}

	for i, f := range seqFiles {
		isLast := i == len(seqFiles)-1
		f.readonly = readonly || !isLast
		flag := os.O_RDONLY
		if !f.readonly {
			flag = os.O_RDWR
		}
		handle, err := os.OpenFile(f.path, flag, 0)
		if err != nil {
			return nil, fmt.Errorf("cache: open %s: %w", f.path, err)
		}
		f.handle = handle
		info, err := handle.Stat()
		if err != nil {
			return nil, fmt.Errorf("cache: stat %s: %w", f.path, err)
		}
		if info.Size() == 0 {
			// A crash between rollover and its empty flush leaves a
			// 0-byte trailing file; start it over rather than reject
			// the whole cache. Anywhere else a 0-byte file means the
			// sequence is broken.
			if !isLast {
				return nil, fmt.Errorf("cache: parse %s: %w", f.path, bundle.ErrNotABundle)
			}
			if !f.readonly {
				f.writer = bundle.Create(handle, 0)
				if err := f.writer.Flush(); err != nil {
					return nil, fmt.Errorf("cache: init %s: %w", f.path, err)
				}
			}
			c.files = append(c.files, f)
			continue
		}
		b, err := bundle.Read(handle, info.Size(), false)
		if err != nil {
			return nil, fmt.Errorf("cache: parse %s: %w", f.path, err)
		}
		// Cache-local bundle IDs are the file's sequence index, distinct
		// from the real BundleID a manifest references — the cache
		// doesn't care which manifest bundle a chunk came from, only
		// which physical file it can be read back from.
		for _, ch := range b.Chunks {
			loc := b.Lookup[ch.ChunkID]
			c.lookup[ch.ChunkID] = location{seq: f.seq, Chunk: ch, compressedOffset: loc.CompressedOffset}
		}
		if !f.readonly {
			f.writer = bundle.Resume(handle, b)
		}
		c.files = append(c.files, f)
	}

	if !readonly && len(c.files) == 0 {
		if err := c.rollover(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// seqPath maps a sequence index onto the rolling file layout: index 0 is
// the bare base path, every later index an .NNNNN.bundle overflow file.
func seqPath(base string, seq int) string {
	if seq == 0 {
		return base
	}
	return fmt.Sprintf("%s.%05d.bundle", base, seq)
}

// Close flushes the active writer (if any) and closes every open file.
func (c *Cache) Close() error {
	if !c.readonly {
		if f := c.active(); f != nil && f.writer.PendingSize() > 0 {
			if err := f.writer.Flush(); err != nil {
				return err
			}
		}
	}
	var firstErr error
	for _, f := range c.files {
		if err := f.handle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Cache) active() *file {
	if len(c.files) == 0 {
		return nil
	}
	last := c.files[len(c.files)-1]
	if last.readonly {
		return nil
	}
	return last
}

// Contains reports whether id is already present in the cache.
func (c *Cache) Contains(id rbyte.ChunkID) bool {
	_, ok := c.lookup[id]
	return ok
}

// Find returns where id physically lives, if it's cached.
func (c *Cache) Find(id rbyte.ChunkID) (seq int, desc bundle.Chunk, compressedOffset uint64, ok bool) {
	loc, ok := c.lookup[id]
	if !ok {
		return 0, bundle.Chunk{}, 0, false
	}
	return loc.seq, loc.Chunk, loc.compressedOffset, true
}

// sortedSeqs returns the cache's file sequence numbers in ascending
// order, used wherever a stable file iteration order matters.
func (c *Cache) sortedSeqs() []int {
	seqs := make([]int, len(c.files))
	for i, f := range c.files {
		seqs[i] = f.seq
	}
	sort.Ints(seqs)
	return seqs
}

func (c *Cache) fileBySeq(seq int) *file {
	for _, f := range c.files {
		if f.seq == seq {
			return f
		}
	}
	return nil
}
