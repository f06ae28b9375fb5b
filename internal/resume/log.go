package resume

import (
	"fmt"
	"os"

	"github.com/project-rman/rman/internal/verify"
)

// Log is the append-only resume file: a flat sequence of fixed 32-byte
// Records, written one at a time under the same uninterruptible-write
// guard internal/verify uses for chunk writes, so a shutdown handler
// never observes a half-written record.
type Log struct {
	file *os.File
}

// OpenLog opens (creating if necessary) the resume log at path for
// appending.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("resume: open log %s: %w", path, err)
	}
	return &Log{file: f}, nil
}

// Append writes one record to the end of the log, under the
// uninterruptible-write guard.
func (l *Log) Append(r Record) error {
	release := verify.Hold()
	defer release()

	buf := r.Marshal()
	if _, err := l.file.Write(buf[:]); err != nil {
		return fmt.Errorf("resume: append record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Sync flushes the log's in-kernel buffers to stable storage.
func (l *Log) Sync() error {
	return l.file.Sync()
}

// ReadAll reads every record currently in the log, in append order. A
// trailing partial record (fewer than RecordSize bytes, left behind by a
// write that was interrupted before Hold could protect it, e.g. a crash
// mid-Append) is ignored rather than treated as corruption.
func ReadAll(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resume: read log %s: %w", path, err)
	}

	n := len(data) / RecordSize
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := UnmarshalRecord(data[i*RecordSize : (i+1)*RecordSize])
		if err != nil {
			return nil, fmt.Errorf("resume: decode record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
