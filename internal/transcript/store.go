package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"replicli/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore indexes transcript lines and finalized turns. It implements
// domain.TranscriptSink and domain.TurnRecorder.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID        string
	StartedAt time.Time
	Channel   string
	Lines     int
	Turns     int
}

// Line is a stored transcript line.
type Line struct {
	At   time.Time
	Text string
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// StartSession registers a session. Registering the same ID twice is a no-op.
func (s *SQLiteStore) StartSession(ctx context.Context, id string, startedAt time.Time, channel string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, started_at, channel) VALUES (?, ?, ?)`,
		id, startedAt, channel,
	)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, at time.Time, line string) error {
	if err := s.StartSession(ctx, sessionID, at, ""); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_lines (session_id, at, line) VALUES (?, ?, ?)`,
		sessionID, at, flatten(line),
	)
	return err
}

func (s *SQLiteStore) RecordTurn(ctx context.Context, turn domain.Turn, outcome string) error {
	if err := s.StartSession(ctx, turn.SessionID, turn.SentAt, ""); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	var replyAt any
	if turn.ReplyAt != nil {
		replyAt = *turn.ReplyAt
	}
	// Turns are immutable once written; a repeated ID is ignored.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO turns (id, session_id, sent_text, sent_at, delivered, reply_kind, reply_content, reply_at, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.SentText, turn.SentAt, turn.Delivered,
		string(turn.ReplyKind), turn.ReplyContent, replyAt, outcome,
	)
	return err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.started_at, s.channel,
		        (SELECT COUNT(*) FROM transcript_lines l WHERE l.session_id = s.id),
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		 FROM sessions s ORDER BY s.started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.ID, &ss.StartedAt, &ss.Channel, &ss.Lines, &ss.Turns); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Lines returns a session's transcript lines in the order they were written.
func (s *SQLiteStore) Lines(ctx context.Context, sessionID string) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, line FROM transcript_lines WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.At, &l.Text); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Turns returns a session's finalized turns, oldest first.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]domain.Turn, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sent_text, sent_at, delivered, reply_kind, reply_content, reply_at, outcome
		 FROM turns WHERE session_id = ? ORDER BY sent_at`, sessionID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		turns    []domain.Turn
		outcomes []string
	)
	for rows.Next() {
		var (
			t       domain.Turn
			kind    string
			content sql.NullString
			replyAt sql.NullTime
			outcome string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SentText, &t.SentAt, &t.Delivered,
			&kind, &content, &replyAt, &outcome); err != nil {
			return nil, nil, err
		}
		t.ReplyKind = domain.ReplyKind(kind)
		t.ReplyContent = content.String
		if replyAt.Valid {
			at := replyAt.Time
			t.ReplyAt = &at
		}
		turns = append(turns, t)
		outcomes = append(outcomes, outcome)
	}
	return turns, outcomes, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
