// Package splitter implements the structural archive splitter ("Ar"): given
// a whole-file byte buffer, it recognises known container formats (ZIP, WAD,
// WPK, BNK, FSB, FSB5, Mach-O, PE, MPQ, LOAD) and recurses into them,
// falling back to content-defined or fixed-size chunking for anything it
// doesn't recognise or for the gaps between recognised sub-entries.
package splitter

import (
	"fmt"

	"github.com/project-rman/rman/internal/rbyte"
)

// Entry describes one contiguous byte range of the top-level input. Offset
// and Size are always absolute (relative to the whole buffer passed to
// Split), even for entries produced deep inside a recogniser.
//
// HighEntropy marks data that is already compressed (or otherwise
// incompressible), so downstream consumers can skip further CDC
// sub-chunking heuristics; Nest tells the splitter to recurse structurally
// into this range rather than treat it as an opaque leaf.
type Entry struct {
	Offset      uint64
	Size        uint64
	HighEntropy bool
	Nest        bool
}

func (e Entry) end() uint64 { return e.Offset + e.Size }

// SplitError records a recogniser's internal assertion failure: the header
// matched but the body didn't parse the way that format requires.
type SplitError struct {
	Top     Entry
	Context string
	Message string
}

func (e SplitError) Error() string {
	return fmt.Sprintf("splitter: %s: %s (top offset=%d size=%d)", e.Context, e.Message, e.Top.Offset, e.Top.Size)
}

// recognizeFunc inspects top (a byte range of data) for one structural
// format. matched=false means "not my format" — the header check failed
// cleanly and the caller should try the next recogniser. A non-nil err means
// the header matched but parsing the body violated an invariant; the caller
// records it and falls back to content-defined chunking unless running in
// strict mode.
type recognizeFunc func(data []byte, top Entry) (entries []Entry, matched bool, err error)

type recognizer struct {
	name string
	fn   recognizeFunc
}

// Splitter holds the chunk-size bounds and collects non-fatal recogniser
// errors encountered across calls to Split.
type Splitter struct {
	ChunkMin uint64
	ChunkMax uint64

	// UseCDC selects the content-defined rolling-hash chunker for leaf
	// ranges. When false, leaves are cut at fixed ChunkMax boundaries.
	UseCDC bool

	// Strict stops and returns a recogniser's internal error instead of
	// falling back to CDC for that top entry.
	Strict bool

	// UserRecognizer is tried last, after every built-in recogniser, when
	// set.
	UserRecognizer recognizeFunc

	Errors []SplitError
}

// New returns a Splitter using rolling-hash CDC as its default leaf chunker,
// with the given min/max chunk sizes (both in bytes).
func New(chunkMin, chunkMax uint64) *Splitter {
	return &Splitter{ChunkMin: chunkMin, ChunkMax: chunkMax, UseCDC: true}
}

func (s *Splitter) recognizers() []recognizer {
	rs := []recognizer{
		{"zip", tryZIP},
		{"wad", tryWAD},
		{"wpk", tryWPK},
		{"bnk", tryBNK},
		{"fsb", tryFSB},
		{"fsb5", tryFSB5},
		{"macho-fat", tryMachOFAT},
		{"macho-exe", tryMachOEXE},
		{"pe", tryPE},
		{"mpq", tryMPQ},
		{"load", tryLoad},
	}
	if s.UserRecognizer != nil {
		rs = append(rs, recognizer{"user", s.UserRecognizer})
	}
	return rs
}

// Split walks the whole of data, emitting exactly the non-overlapping leaf
// entries that tile it (every byte of data belongs to exactly one emitted
// Entry).
func (s *Splitter) Split(data []byte, emit func(Entry)) error {
	top := Entry{Offset: 0, Size: uint64(len(data)), Nest: true}
	return s.process(data, top, emit)
}

func (s *Splitter) process(data []byte, e Entry, emit func(Entry)) error {
	if e.Size == 0 {
		return nil
	}
	if e.Nest {
		for _, rec := range s.recognizers() {
			entries, matched, err := rec.fn(data, e)
			if err != nil {
				s.Errors = append(s.Errors, SplitError{Top: e, Context: rec.name, Message: err.Error()})
				if s.Strict {
					return fmt.Errorf("splitter: recogniser %s failed: %w", rec.name, err)
				}
				return s.chunk(data, e, emit)
			}
			if !matched {
				continue
			}
			return s.commit(data, e, entries, emit)
		}
	}
	return s.chunk(data, e, emit)
}

// commit applies the five structural-parsing invariants to entries produced
// by a matched recogniser: sort by (offset asc, size desc), validate bounds,
// fill gaps with leftover entries inheriting the parent's HighEntropy, and
// recurse into every resulting entry (committed or leftover) via process.
func (s *Splitter) commit(data []byte, top Entry, entries []Entry, emit func(Entry)) error {
	sortEntries(entries)

	cur := top.Offset
	for _, entry := range entries {
		if entry.Size == 0 {
			continue
		}
		// Skip duplicate or overlapping entries — deterministic with the
		// offset-asc, size-desc sort above, matching process_iter_next.
		if entry.Offset < cur {
			continue
		}
		if !(entry.Offset >= top.Offset && entry.end() <= top.end()) {
			return fmt.Errorf("splitter: entry [%d,%d) escapes parent range [%d,%d)",
				entry.Offset, entry.end(), top.Offset, top.end())
		}
		if leftover := entry.Offset - cur; leftover > 0 {
			if err := s.process(data, Entry{Offset: cur, Size: leftover, HighEntropy: top.HighEntropy}, emit); err != nil {
				return err
			}
			cur += leftover
		}
		if err := s.process(data, entry, emit); err != nil {
			return err
		}
		cur += entry.Size
	}
	if remain := top.end() - cur; remain > 0 {
		if err := s.process(data, Entry{Offset: cur, Size: remain, HighEntropy: top.HighEntropy}, emit); err != nil {
			return err
		}
	}
	return nil
}

func sortEntries(entries []Entry) {
	// insertion sort: entry counts per container are small and this keeps
	// the comparator (offset asc, size desc on tie) inline and obvious.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b Entry) bool {
	if a.Offset != b.Offset {
		return a.Offset < b.Offset
	}
	return a.Size > b.Size
}

// reader returns a bounds-checked view of top's byte range within data.
func reader(data []byte, top Entry) (*rbyte.Reader, error) {
	if top.end() > uint64(len(data)) {
		return nil, fmt.Errorf("splitter: entry range exceeds buffer")
	}
	return rbyte.NewReader(data[top.Offset:top.end()]), nil
}
