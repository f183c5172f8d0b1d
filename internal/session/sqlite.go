package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is the durable Store backend. Sessions, their file lists, and
// their chat turns survive process restarts.
//
// Safe for concurrent use: appends run in transactions that compute the next
// sequence number, so per-session order matches request-arrival order as
// long as the HTTP layer awaits each mutation (which it does).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore wraps an opened, migrated database handle.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// Create registers a session under a fresh UUID.
func (s *SQLiteStore) Create(ctx context.Context) (*Session, error) {
	id := uuid.New()
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_active, collection) VALUES (?, ?, ?, '')`,
		id.String(), now, now)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", id)
	return &Session{ID: id, CreatedAt: now, LastActive: now}, nil
}

// Get loads the session and its files and turns in insertion order.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{ID: id}

	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, last_active, collection FROM sessions WHERE id = ?`,
		id.String()).Scan(&sess.CreatedAt, &sess.LastActive, &sess.Collection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	if sess.Files, err = s.loadFiles(ctx, id); err != nil {
		return nil, err
	}
	if sess.Turns, err = s.loadTurns(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) loadFiles(ctx context.Context, id uuid.UUID) ([]UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, stored_path, file_type, size, uploaded_at
		 FROM session_files WHERE session_id = ? ORDER BY seq`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("loading files for %s: %w", id, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var files []UploadedFile
	for rows.Next() {
		var f UploadedFile
		if err := rows.Scan(&f.Name, &f.StoredPath, &f.Type, &f.Size, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	return files, nil
}

func (s *SQLiteStore) loadTurns(ctx context.Context, id uuid.UUID) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at, metadata
		 FROM session_turns WHERE session_id = ? ORDER BY seq`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", id, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var metadata string
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
				// Skip malformed metadata, keep the turn itself.
				s.logger.Warn("unreadable turn metadata", "session_id", id, "error", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

// Touch refreshes last-active.
func (s *SQLiteStore) Touch(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE id = ?`,
		s.now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return s.requireHit(res, id)
}

// SetCollection binds the collection name, first-write-wins.
func (s *SQLiteStore) SetCollection(ctx context.Context, id uuid.UUID, name string) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT collection FROM sessions WHERE id = ?`, id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading collection for %s: %w", id, err)
	}
	if current != "" {
		if current == name {
			return nil
		}
		return fmt.Errorf("%w: %s has %q", ErrCollectionConflict, id, current)
	}

	// Guard the write too: only claim the slot if it is still empty.
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET collection = ? WHERE id = ? AND collection = ''`,
		name, id.String())
	if err != nil {
		return fmt.Errorf("setting collection for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking collection update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionConflict, id)
	}
	return nil
}

// RecordUpload appends a file record inside a transaction.
func (s *SQLiteStore) RecordUpload(ctx context.Context, id uuid.UUID, f UploadedFile) error {
	return s.appendRow(ctx, id, func(tx *sql.Tx, seq int) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_files (session_id, seq, name, stored_path, file_type, size, uploaded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(), seq, f.Name, f.StoredPath, f.Type, f.Size, f.UploadedAt.UTC())
		return err
	}, "session_files")
}

// AppendTurn appends a chat turn inside a transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id uuid.UUID, t Turn) error {
	metadata := "{}"
	if len(t.Metadata) > 0 {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling turn metadata: %w", err)
		}
		metadata = string(raw)
	}

	return s.appendRow(ctx, id, func(tx *sql.Tx, seq int) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_turns (session_id, seq, role, content, created_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), seq, t.Role, t.Content, t.CreatedAt.UTC(), metadata)
		return err
	}, "session_turns")
}

// appendRow runs one ordered append: next sequence number and insert share a
// transaction so concurrent appends to the same session cannot collide.
func (s *SQLiteStore) appendRow(ctx context.Context, id uuid.UUID, insert func(*sql.Tx, int) error, table string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking session %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(seq), 0) + 1 FROM %s WHERE session_id = ?`, table),
		id.String()).Scan(&seq)
	if err != nil {
		return fmt.Errorf("computing next sequence: %w", err)
	}

	if err := insert(tx, seq); err != nil {
		return fmt.Errorf("appending to %s: %w", table, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE id = ?`,
		s.now().UTC(), id.String()); err != nil {
		return fmt.Errorf("refreshing last_active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions idle since before cutoff. Child rows go
// with them via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE last_active < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning expired session id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping malformed session id", "id", raw)
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired sessions: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
			return nil, fmt.Errorf("deleting session %s: %w", id, err)
		}
	}
	return ids, nil
}

// Close is a no-op: the *sql.DB is owned by the caller that opened it.
func (*SQLiteStore) Close() error { return nil }

// requireHit converts a zero-row update into ErrNotFound.
func (*SQLiteStore) requireHit(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
