package resume

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/project-rman/rman/internal/rbyte"
)

var bucketResumeIndex = []byte("resume_index")

// Index is a BoltDB secondary index over the resume log keyed by new
// fileId, so a lookup doesn't require scanning the whole append-only log.
// The log stays authoritative; the index can always be rebuilt from it.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (creating if necessary) a BoltDB index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResumeIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

func indexKey(fileID rbyte.FileID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(fileID))
	return key
}

// value packs the record's byte offset in the log and the time it was
// indexed, so GC can age entries out the same way BoltCAS does.
func indexValue(offset int64, at time.Time) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(at.Unix()))
	return buf
}

// Put indexes rec's position (its byte offset within the resume log) under
// its new fileId.
func (idx *Index) Put(rec Record, offset int64, at time.Time) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketResumeIndex)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put(indexKey(rec.NewFileID), indexValue(offset, at))
	})
}

// Lookup returns the byte offset of the most recently indexed record for
// newFileID, if any.
func (idx *Index) Lookup(newFileID rbyte.FileID) (offset int64, ok bool, err error) {
	err = idx.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketResumeIndex)
		if bk == nil {
			return nil
		}
		v := bk.Get(indexKey(newFileID))
		if v == nil || len(v) < 8 {
			return nil
		}
		offset = int64(binary.BigEndian.Uint64(v[0:8]))
		ok = true
		return nil
	})
	return offset, ok, err
}

// GC removes index entries older than maxAge.
func (idx *Index) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	err := idx.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketResumeIndex)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		c := bk.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < 16 {
				continue
			}
			ts := int64(binary.BigEndian.Uint64(v[8:16]))
			if ts < cutoff {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Rebuild replays the resume log at logPath and puts an index entry for
// every record in it, for recovering from a lost/corrupt index file without
// losing the authoritative append-only log. Entries already in the index
// are overwritten when the log has a record for the same new fileId; other
// existing entries are left in place.
func Rebuild(idx *Index, logPath string) error {
	records, err := ReadAll(logPath)
	if err != nil {
		return err
	}
	now := time.Now()
	return idx.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketResumeIndex)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		for i, rec := range records {
			offset := int64(i * RecordSize)
			if err := bk.Put(indexKey(rec.NewFileID), indexValue(offset, now)); err != nil {
				return err
			}
		}
		return nil
	})
}
