package manifest

import "github.com/project-rman/rman/internal/rbyte"

// Summary is the aggregate view `rmanctl info` prints for a manifest: the
// counts and totals an operator actually wants, without walking the full
// Manifest struct by hand.
type Summary struct {
	ManifestID   rbyte.ManifestID
	FileCount    int
	BundleCount  int
	ChunkCount   int
	TotalSize    uint64
	Languages    []string
	BundleChunks map[rbyte.BundleID]int
}

// Summarize reduces a decoded Manifest to the counts an operator cares
// about when inspecting a .manifest file.
func Summarize(m *Manifest) Summary {
	s := Summary{
		ManifestID:   m.ManifestID,
		FileCount:    len(m.Files),
		BundleCount:  len(m.Bundles),
		BundleChunks: make(map[rbyte.BundleID]int, len(m.Bundles)),
	}

	langSeen := make(map[string]struct{})
	for _, f := range m.Files {
		s.TotalSize += f.Size
		s.ChunkCount += len(f.Chunks)
		if _, ok := langSeen[f.Langs]; !ok {
			langSeen[f.Langs] = struct{}{}
			s.Languages = append(s.Languages, f.Langs)
		}
	}
	for _, b := range m.Bundles {
		s.BundleChunks[b.BundleID] = len(b.Chunks)
	}
	return s
}
