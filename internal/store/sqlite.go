package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/dex/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a turn is being recorded.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS mistakes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		user_input_snippet TEXT NOT NULL,
		correction TEXT NOT NULL,
		mistake_type TEXT,
		explanation TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_mistakes_session ON mistakes(session_id, id);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('human', 'assistant')),
		content TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LogMistake inserts one mistake.
func (s *SQLiteStore) LogMistake(ctx context.Context, m *domain.Mistake) error {
	if !m.Complete() {
		return ErrIncompleteMistake
	}
	return withRetry(ctx, "log mistake", func() error {
		return insertMistake(ctx, s.db, m)
	})
}

func insertMistake(ctx context.Context, ex execer, m *domain.Mistake) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC().Truncate(time.Second)
	}

	query := `
	INSERT INTO mistakes (session_id, timestamp, user_input_snippet, correction, mistake_type, explanation)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := ex.ExecContext(ctx, query,
		m.SessionID, m.Timestamp.UTC().Format(domain.TimestampLayout),
		m.UserInputSnippet, m.Correction, m.MistakeType, m.Explanation,
	)
	if err != nil {
		return fmt.Errorf("insert mistake: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get mistake id: %w", err)
	}
	m.ID = id
	return nil
}

// MistakesBySession returns a session's mistakes in insertion order.
func (s *SQLiteStore) MistakesBySession(ctx context.Context, sessionID string) ([]domain.Mistake, error) {
	query := `
		SELECT id, session_id, timestamp, user_input_snippet, correction,
		       COALESCE(mistake_type, ''), COALESCE(explanation, '')
		FROM mistakes WHERE session_id = ? ORDER BY id`
	return s.queryMistakes(ctx, query, sessionID)
}

// AllMistakes returns every recorded mistake in insertion order.
func (s *SQLiteStore) AllMistakes(ctx context.Context) ([]domain.Mistake, error) {
	query := `
		SELECT id, session_id, timestamp, user_input_snippet, correction,
		       COALESCE(mistake_type, ''), COALESCE(explanation, '')
		FROM mistakes ORDER BY id`
	return s.queryMistakes(ctx, query)
}

func (s *SQLiteStore) queryMistakes(ctx context.Context, query string, args ...any) ([]domain.Mistake, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mistakes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close mistakes rows", "error", closeErr)
		}
	}()

	mistakes := []domain.Mistake{}
	for rows.Next() {
		var m domain.Mistake
		var ts string
		if err := rows.Scan(
			&m.ID, &m.SessionID, &ts, &m.UserInputSnippet,
			&m.Correction, &m.MistakeType, &m.Explanation,
		); err != nil {
			return nil, fmt.Errorf("scan mistake row: %w", err)
		}
		m.Timestamp = parseTimestamp(ts)
		mistakes = append(mistakes, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mistakes: %w", err)
	}

	return mistakes, nil
}

// AppendTurn adds one turn to a session's history.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, role domain.Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("append turn: unknown role %q", role)
	}
	return withRetry(ctx, "append turn", func() error {
		return insertTurn(ctx, s.db, sessionID, role, text)
	})
}

func insertTurn(ctx context.Context, ex execer, sessionID string, role domain.Role, text string) error {
	query := `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	now := time.Now().UTC().Format(domain.TimestampLayout)
	if _, err := ex.ExecContext(ctx, query, sessionID, string(role), text, now); err != nil {
		return fmt.Errorf("insert %s turn: %w", role, err)
	}
	return nil
}

// Turns returns a session's history in chronological order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	query := `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turns rows", "error", closeErr)
		}
	}()

	turns := []domain.Turn{}
	for rows.Next() {
		var t domain.Turn
		var role, ts string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if t.Role, err = domain.ParseRole(role); err != nil {
			return nil, fmt.Errorf("turn %d: %w", t.ID, err)
		}
		t.CreatedAt = parseTimestamp(ts)
		turns = append(turns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	return turns, nil
}

// RecordExchange writes one human/assistant exchange and its mistakes atomically.
func (s *SQLiteStore) RecordExchange(ctx context.Context, sessionID, human, assistant string, mistakes []domain.Mistake) error {
	return withRetry(ctx, "record exchange", func() error {
		return s.recordExchangeOnce(ctx, sessionID, human, assistant, mistakes)
	})
}

func (s *SQLiteStore) recordExchangeOnce(ctx context.Context, sessionID, human, assistant string, mistakes []domain.Mistake) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back exchange", "session_id", sessionID, "error", rbErr)
			}
			for i := range mistakes {
				mistakes[i].ID = 0
			}
		}
	}()

	if err = insertTurn(ctx, tx, sessionID, domain.RoleHuman, human); err != nil {
		return err
	}
	if err = insertTurn(ctx, tx, sessionID, domain.RoleAssistant, assistant); err != nil {
		return err
	}

	for i := range mistakes {
		m := &mistakes[i]
		if !m.Complete() {
			slog.Debug("Skipping incomplete mistake", "session_id", sessionID)
			continue
		}
		m.SessionID = sessionID
		if err = insertMistake(ctx, tx, m); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation(domain.TimestampLayout, s, time.UTC)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			slog.Warn("unparseable stored timestamp", "value", s)
			return time.Time{}
		}
	}
	return t
}
