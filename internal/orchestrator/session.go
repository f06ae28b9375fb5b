package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/project-rman/rman/internal/manifest"
)

// Session runs GetFile over every file in a manifest, against files rooted
// at destDir: one ID, one pass over the work, a status snapshot at the
// end.
type Session struct {
	ID      uuid.UUID
	orch    *Orchestrator
	m       manifest.Manifest
	destDir string
}

// NewSession starts a session downloading m into destDir.
func (o *Orchestrator) NewSession(m manifest.Manifest, destDir string) *Session {
	return &Session{ID: uuid.New(), orch: o, m: m, destDir: destDir}
}

// Status is a snapshot of how far a session has gotten, suitable for a
// progress UI or a log line.
type Status struct {
	FilesTotal     int
	FilesComplete  int
	FilesPartial   int
	ChunksVerified int
	ChunksFetched  int
	ChunksFailed   int
}

// Run processes every file in the manifest in order, returning the
// per-file results and a Status summary. Run does not stop at the first
// partial file: it always attempts every file, leaving a failed file
// partial rather than aborting the rest of the transfer.
func (s *Session) Run(ctx context.Context) ([]*FileResult, Status, error) {
	results := make([]*FileResult, 0, len(s.m.Files))
	var status Status
	status.FilesTotal = len(s.m.Files)

	for _, file := range s.m.Files {
		path := filepath.Join(s.destDir, filepath.FromSlash(file.Path))
		result, err := s.orch.GetFile(ctx, path, file)
		if err != nil && result == nil {
			return results, status, fmt.Errorf("orchestrator: session %s: file %q: %w", s.ID, file.Path, err)
		}

		results = append(results, result)
		status.ChunksVerified += result.Verified
		status.ChunksFetched += result.Fetched
		status.ChunksFailed += len(result.Failed)
		if result.Complete() {
			status.FilesComplete++
		} else {
			status.FilesPartial++
		}
	}

	return results, status, nil
}
