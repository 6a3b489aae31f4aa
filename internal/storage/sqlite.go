package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tokens INTEGER,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session_seq ON turns(session_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateSession inserts a new session with a random ID.
func (s *SQLiteStorage) CreateSession(ctx context.Context, name string) (*models.Session, error) {
	sess := &models.Session{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Name, sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its turns.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// AppendTurns validates and inserts turns for an existing session in one transaction.
// Turns without a timestamp are stamped with the current time.
func (s *SQLiteStorage) AppendTurns(ctx context.Context, sessionID string, turns []history.Turn) ([]*models.StoredTurn, error) {
	for i, t := range turns {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := s.now().UTC()
	stored := make([]*models.StoredTurn, 0, len(turns))
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		var tokens sql.NullInt64
		if t.TokenCount != nil {
			tokens = sql.NullInt64{Int64: int64(*t.TokenCount), Valid: true}
		}
		st := &models.StoredTurn{ID: uuid.NewString(), SessionID: sessionID, Turn: t}
		result, err := stmt.ExecContext(ctx, st.ID, sessionID, string(t.Role), t.Content, tokens, t.Timestamp)
		if err != nil {
			return nil, err
		}
		if st.Seq, err = result.LastInsertId(); err != nil {
			return nil, err
		}
		stored = append(stored, st)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// ListTurns returns the newest limit turns of a session in chronological order.
func (s *SQLiteStorage) ListTurns(ctx context.Context, sessionID string, limit int) ([]*models.StoredTurn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, session_id, role, content, tokens, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListAllTurns returns every stored turn in insertion order.
func (s *SQLiteStorage) ListAllTurns(ctx context.Context) ([]*models.StoredTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, session_id, role, content, tokens, created_at FROM turns ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]*models.StoredTurn, error) {
	defer rows.Close()
	var turns []*models.StoredTurn
	for rows.Next() {
		var st models.StoredTurn
		var role string
		var tokens sql.NullInt64
		if err := rows.Scan(&st.Seq, &st.ID, &st.SessionID, &role, &st.Content, &tokens, &st.Timestamp); err != nil {
			return nil, err
		}
		st.Role = history.Role(role)
		if tokens.Valid {
			n := int(tokens.Int64)
			st.TokenCount = &n
		}
		turns = append(turns, &st)
	}
	return turns, rows.Err()
}

// CountSessions returns the total number of sessions.
func (s *SQLiteStorage) CountSessions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

// CountTurns returns the total number of turns.
func (s *SQLiteStorage) CountTurns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
