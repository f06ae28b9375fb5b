package splitter

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// tryZIP only applies to whole-file top entries: ZIP's end-of-central-
// directory record is found by scanning backward from the end of the file,
// which only makes sense when top is the entire input.
func tryZIP(data []byte, top Entry) ([]Entry, bool, error) {
	if top.Offset != 0 || top.Size != uint64(len(data)) || top.Size < 22 {
		return nil, false, nil
	}
	r, err := reader(data, top)
	if err != nil {
		return nil, false, err
	}
	sig, err := r.ReadU32()
	if err != nil || (sig != 0x04034b50 && sig != 0x02014b50) {
		return nil, false, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(top.Size))
	if err != nil {
		return nil, false, nil
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		localOff, err := f.DataOffset()
		if err != nil {
			return nil, true, fmt.Errorf("file %q: data offset: %w", f.Name, err)
		}
		compSize := f.CompressedSize64
		if !r.Contains(int(localOff), int(compSize)) {
			return nil, true, fmt.Errorf("file %q: entry [%d,+%d) escapes archive", f.Name, localOff, compSize)
		}
		entries = append(entries, Entry{
			Offset:      top.Offset + uint64(localOff),
			Size:        compSize,
			HighEntropy: f.Method != 0,
			Nest:        f.Method == 0,
		})
	}
	return entries, true, nil
}
