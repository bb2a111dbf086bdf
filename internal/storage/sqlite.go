package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/voxflow/internal/session"
)

// SessionRecord is one archived conversation.
type SessionRecord struct {
	ID                string    `json:"id"`
	TopicID           string    `json:"topic_id"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	TurnCount         int       `json:"turn_count"`
	InterruptionCount int       `json:"interruption_count"`
	ErrorCount        int       `json:"error_count"`
	CostUSD           float64   `json:"cost_usd"`
	ThinkingMillis    []float64 `json:"thinking_millis"`
	SpeakingMillis    []float64 `json:"speaking_millis"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "voxflow.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0,
			interruption_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			thinking_millis TEXT NOT NULL DEFAULT '[]',
			speaking_millis TEXT NOT NULL DEFAULT '[]'
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns(session_id, seq)"); err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveSession archives the finalized snapshot and its full turn history in
// one transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	if strings.TrimSpace(snap.SessionID) == "" {
		return errors.New("session id is required")
	}

	thinking, err := json.Marshal(emptyIfNil(snap.Metrics.ThinkingMillis))
	if err != nil {
		return fmt.Errorf("marshal thinking samples: %w", err)
	}
	speaking, err := json.Marshal(emptyIfNil(snap.Metrics.SpeakingMillis))
	if err != nil {
		return fmt.Errorf("marshal speaking samples: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(id, topic_id, started_at, ended_at, turn_count, interruption_count, error_count, cost_usd, thinking_millis, speaking_millis)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID,
		snap.TopicID,
		snap.StartedAt.UTC().Format(time.RFC3339Nano),
		snap.EndedAt.UTC().Format(time.RFC3339Nano),
		snap.Metrics.TurnCount,
		snap.Metrics.InterruptionCount,
		snap.Metrics.ErrorCount,
		snap.Metrics.CostUSD,
		string(thinking),
		string(speaking),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.SessionID, err)
	}

	for i, turn := range snap.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns(session_id, seq, role, text) VALUES(?, ?, ?, ?)`,
			snap.SessionID, i, string(turn.Role), turn.Text,
		); err != nil {
			return fmt.Errorf("save turn %d for session %s: %w", i, snap.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session %s: %w", snap.SessionID, err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic_id, started_at, ended_at, turn_count, interruption_count, error_count, cost_usd, thinking_millis, speaking_millis
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return records, nil
}

// GetSession returns one archived session with its full turn history.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (SessionRecord, []session.Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic_id, started_at, ended_at, turn_count, interruption_count, error_count, cost_usd, thinking_millis, speaking_millis
		 FROM sessions WHERE id = ?`,
		id,
	)
	rec, err := scanSession(row)
	if err != nil {
		return SessionRecord{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text FROM turns WHERE session_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return SessionRecord{}, nil, fmt.Errorf("query turns for session %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var turns []session.Turn
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return SessionRecord{}, nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, session.Turn{Role: session.Role(role), Text: text})
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, nil, fmt.Errorf("iterate turns rows: %w", err)
	}

	return rec, turns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt, endedAt, thinking, speaking string

	if err := row.Scan(&rec.ID, &rec.TopicID, &startedAt, &endedAt,
		&rec.TurnCount, &rec.InterruptionCount, &rec.ErrorCount, &rec.CostUSD,
		&thinking, &speaking); err != nil {
		return SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse session %s started_at: %w", rec.ID, err)
	}
	rec.StartedAt = parsedStart

	parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse session %s ended_at: %w", rec.ID, err)
	}
	rec.EndedAt = parsedEnd

	if err := json.Unmarshal([]byte(thinking), &rec.ThinkingMillis); err != nil {
		return SessionRecord{}, fmt.Errorf("parse session %s thinking samples: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(speaking), &rec.SpeakingMillis); err != nil {
		return SessionRecord{}, fmt.Errorf("parse session %s speaking samples: %w", rec.ID, err)
	}

	return rec, nil
}

func emptyIfNil(samples []float64) []float64 {
	if samples == nil {
		return []float64{}
	}
	return samples
}
