package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/qmind/internal/domain"
	"github.com/ashureev/qmind/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	if dbPath == ":memory:" {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		title TEXT NOT NULL,
		scores_json TEXT NOT NULL,
		answers_json TEXT NOT NULL,
		transcript TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		action TEXT,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_created ON chat_turns(created_at);
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

// SaveEvaluation stores a finished assessment, retrying on lock contention.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, e *domain.Evaluation) error {
	scores, err := json.Marshal(e.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	answers, err := json.Marshal(e.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	query := `
	INSERT INTO evaluations (id, session_id, tier, title, scores_json, answers_json, transcript, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save evaluation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			e.ID, e.SessionID, e.Tier, e.Title,
			string(scores), string(answers), e.Transcript,
			e.CreatedAt.UnixMilli(),
		)
		return err
	})
}

const evaluationColumns = `id, session_id, tier, title, scores_json, answers_json, transcript, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (*domain.Evaluation, error) {
	var e domain.Evaluation
	var scores, answers string
	var createdAt int64
	if err := row.Scan(&e.ID, &e.SessionID, &e.Tier, &e.Title, &scores, &answers, &e.Transcript, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
		return nil, fmt.Errorf("decode scores for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &e.Answers); err != nil {
		return nil, fmt.Errorf("decode answers for %s: %w", e.ID, err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	return &e, nil
}

// GetEvaluation returns an evaluation by id, or nil when missing.
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*domain.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id)
	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	return e, nil
}

// ListEvaluations returns the newest evaluations first.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, limit int) ([]*domain.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close evaluation rows", "error", closeErr)
		}
	}()

	var out []*domain.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return out, nil
}

// RecordChatTurn appends one chat exchange and sets turn.ID.
func (s *SQLiteStore) RecordChatTurn(ctx context.Context, turn *domain.ChatTurn) error {
	query := `
	INSERT INTO chat_turns (session_id, mode, action, message, response, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var action any
	if turn.Action != "" {
		action = turn.Action
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "record chat turn", func() error {
		res, err := s.db.ExecContext(ctx, query,
			turn.SessionID, turn.Mode, action, turn.Message, turn.Response,
			turn.DurationMS, turn.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		turn.ID = id
		return nil
	})
}

// ListChatTurns returns a session's most recent turns, oldest first.
func (s *SQLiteStore) ListChatTurns(ctx context.Context, sessionID string, limit int) ([]*domain.ChatTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, session_id, mode, action, message, response, duration_ms, created_at FROM (
			SELECT * FROM chat_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat turn rows", "error", closeErr)
		}
	}()

	var out []*domain.ChatTurn
	for rows.Next() {
		var t domain.ChatTurn
		var action sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Mode, &action, &t.Message, &t.Response, &t.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat turn row: %w", err)
		}
		t.Action = action.String
		t.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat turns: %w", err)
	}
	return out, nil
}

// CleanupChatTurns removes turns older than ttl.
func (s *SQLiteStore) CleanupChatTurns(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var affected int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "cleanup chat turns", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE created_at < ?`, threshold)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
