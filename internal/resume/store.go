package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/project-rman/rman/internal/rbyte"
)

// ErrSessionNotFound is returned by LoadSession/UpdateSessionState/
// DeleteSession for an unknown session ID.
var ErrSessionNotFound = errors.New("resume: session not found")

// ErrBitmapNotFound is returned by LoadBitmap when no bitmap has been
// saved for a (session, file) pair.
var ErrBitmapNotFound = errors.New("resume: bitmap not found")

// SessionState mirrors the orchestrator's notion of how far a session has
// gotten, persisted so a process restart can pick a session back up.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// SessionRecord is the persisted shape of one orchestrator session. It is
// deliberately independent of internal/orchestrator's own Session/Status
// types so this package has no dependency on the orchestrator — callers
// convert at the boundary.
type SessionRecord struct {
	ID            string
	ManifestID    rbyte.ManifestID
	DestDir       string
	FilesTotal    int
	FilesComplete int
	FilesPartial  int
	State         SessionState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is a SQLite-backed persistent progress store: orchestrator
// sessions plus their per-file chunk bitmaps, the bitmaps table keyed
// off the sessions table so deleting a session drops its bitmaps too.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) a SQLite database at path and
// ensures its schema exists.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("resume: open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS resume_sessions (
			session_id     TEXT PRIMARY KEY,
			manifest_id    TEXT NOT NULL,
			dest_dir       TEXT NOT NULL,
			files_total    INTEGER NOT NULL,
			files_complete INTEGER NOT NULL,
			files_partial  INTEGER NOT NULL,
			state          TEXT NOT NULL,
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS file_bitmaps (
			session_id   TEXT NOT NULL,
			file_path    TEXT NOT NULL,
			bitmap_data  BLOB NOT NULL,
			chunks_done  INTEGER NOT NULL,
			chunks_total INTEGER NOT NULL,
			updated_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, file_path),
			FOREIGN KEY (session_id) REFERENCES resume_sessions(session_id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_resume_sessions_state ON resume_sessions(state);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("resume: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the underlying database is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// SaveSession inserts or replaces a session row.
func (s *Store) SaveSession(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO resume_sessions
		(session_id, manifest_id, dest_dir, files_total, files_complete, files_partial, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ManifestID.String(), rec.DestDir, rec.FilesTotal, rec.FilesComplete, rec.FilesPartial,
		string(rec.State), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("resume: save session %s: %w", rec.ID, err)
	}
	return nil
}

// LoadSession retrieves a session by ID.
func (s *Store) LoadSession(id string) (SessionRecord, error) {
	var rec SessionRecord
	var manifestIDHex, state string
	err := s.db.QueryRow(`
		SELECT manifest_id, dest_dir, files_total, files_complete, files_partial, state, created_at, updated_at
		FROM resume_sessions WHERE session_id = ?`, id,
	).Scan(&manifestIDHex, &rec.DestDir, &rec.FilesTotal, &rec.FilesComplete, &rec.FilesPartial,
		&state, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("resume: load session %s: %w", id, err)
	}

	manifestID, err := parseManifestID(manifestIDHex)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("resume: load session %s: %w", id, err)
	}
	rec.ID = id
	rec.ManifestID = manifestID
	rec.State = SessionState(state)
	return rec, nil
}

func parseManifestID(hex string) (rbyte.ManifestID, error) {
	var v uint64
	if _, err := fmt.Sscanf(hex, "%016X", &v); err != nil {
		return 0, fmt.Errorf("bad manifest id %q: %w", hex, err)
	}
	return rbyte.ManifestID(v), nil
}

// UpdateSessionState updates only a session's state and timestamp.
func (s *Store) UpdateSessionState(id string, state SessionState, at time.Time) error {
	result, err := s.db.Exec(`UPDATE resume_sessions SET state = ?, updated_at = ? WHERE session_id = ?`,
		string(state), at, id)
	if err != nil {
		return fmt.Errorf("resume: update session %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and its bitmaps.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("resume: begin delete %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_bitmaps WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("resume: delete bitmaps for %s: %w", id, err)
	}
	result, err := tx.Exec(`DELETE FROM resume_sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("resume: delete session %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

// ListSessions returns sessions matching state (nil for all), newest first.
func (s *Store) ListSessions(state *SessionState, limit, offset int) ([]SessionRecord, error) {
	var rows *sql.Rows
	var err error
	if state != nil {
		rows, err = s.db.Query(`SELECT session_id FROM resume_sessions WHERE state = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			string(*state), limit, offset)
	} else {
		rows, err = s.db.Query(`SELECT session_id FROM resume_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("resume: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("resume: scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	out := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.LoadSession(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveBitmap persists a file's progress bitmap (see orchestrator.chunkBitmap).
func (s *Store) SaveBitmap(sessionID, filePath string, bitmap []byte, done, total int, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO file_bitmaps (session_id, file_path, bitmap_data, chunks_done, chunks_total, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, filePath, bitmap, done, total, at,
	)
	if err != nil {
		return fmt.Errorf("resume: save bitmap %s/%s: %w", sessionID, filePath, err)
	}
	return nil
}

// LoadBitmap retrieves a previously saved bitmap.
func (s *Store) LoadBitmap(sessionID, filePath string) (bitmap []byte, done, total int, err error) {
	err = s.db.QueryRow(`
		SELECT bitmap_data, chunks_done, chunks_total FROM file_bitmaps
		WHERE session_id = ? AND file_path = ?`, sessionID, filePath,
	).Scan(&bitmap, &done, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, 0, ErrBitmapNotFound
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("resume: load bitmap %s/%s: %w", sessionID, filePath, err)
	}
	return bitmap, done, total, nil
}
