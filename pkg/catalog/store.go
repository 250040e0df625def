package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store indexes closed sessions and engine metrics in sqlite so session
// history stays queryable after rotation. The JSONL event log remains the
// authoritative record; the catalog is derived bookkeeping.
type Store struct {
	db *sql.DB
}

// SessionRecord is one catalog row.
type SessionRecord struct {
	ID             string
	ClientID       string
	StartedAtMS    int64
	EndedAtMS      int64
	Reason         string
	UserTurns      int
	AssistantTurns int
	Tier           string
	Summary        string
}

// NewStore creates/opens the catalog database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	// One shared connection avoids SQLite writer lock contention across
	// per-client goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			user_turns INTEGER NOT NULL DEFAULT 0,
			assistant_turns INTEGER NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_client_idx ON sessions(client_id, started_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS engine_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			labels_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS engine_metrics_metric_idx ON engine_metrics(metric, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init catalog schema: %w", err)
		}
	}
	return nil
}

// RecordOpen registers a newly opened session.
func (s *Store) RecordOpen(ctx context.Context, id, clientID string, startedAtMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, client_id, started_at_ms) VALUES (?, ?, ?)`,
		id, clientID, startedAtMS)
	if err != nil {
		return fmt.Errorf("record session open: %w", err)
	}
	return nil
}

// RecordClose finalizes a session row at rotation or teardown.
func (s *Store) RecordClose(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, client_id, started_at_ms, ended_at_ms, reason, user_turns, assistant_turns, tier, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   ended_at_ms=excluded.ended_at_ms,
		   reason=excluded.reason,
		   user_turns=excluded.user_turns,
		   assistant_turns=excluded.assistant_turns,
		   tier=excluded.tier,
		   summary=excluded.summary`,
		rec.ID, rec.ClientID, rec.StartedAtMS, rec.EndedAtMS, rec.Reason,
		rec.UserTurns, rec.AssistantTurns, rec.Tier, rec.Summary)
	if err != nil {
		return fmt.Errorf("record session close: %w", err)
	}
	return nil
}

// ListClosed returns closed sessions, newest first. Empty clientID lists all
// clients.
func (s *Store) ListClosed(ctx context.Context, clientID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, client_id, started_at_ms, ended_at_ms, reason, user_turns, assistant_turns, tier, summary
		 FROM sessions WHERE ended_at_ms > 0`
	args := []interface{}{}
	if clientID != "" {
		query += ` AND client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY ended_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.StartedAtMS, &rec.EndedAtMS,
			&rec.Reason, &rec.UserTurns, &rec.AssistantTurns, &rec.Tier, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddMetric records one engine metric sample.
func (s *Store) AddMetric(ctx context.Context, metric string, value float64, labels map[string]string, nowMS int64) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO engine_metrics (metric, value, labels_json, created_at_ms) VALUES (?, ?, ?, ?)`,
		metric, value, string(labelsJSON), nowMS)
	if err != nil {
		return fmt.Errorf("add metric: %w", err)
	}
	return nil
}
