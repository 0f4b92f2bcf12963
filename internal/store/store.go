// internal/store/store.go

// Package store persists finished application sessions to SQLite: one row
// per application plus its per-action metrics log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mbalholz/applypilot/internal/controller"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the SQLite-backed session archive.
type Store struct {
	conn   *sql.DB
	logger *zap.Logger
}

var _ controller.Sink = (*Store)(nil)

// Open opens (and if needed creates) the database at path and ensures the
// schema exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, logger: logger.Named("store")}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		company TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		automation_mode TEXT NOT NULL,
		stop_reason TEXT NOT NULL,
		actions_taken INTEGER NOT NULL,
		actions_failed INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		average_latency_ms INTEGER NOT NULL,
		screenshot_path TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS action_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		entry TEXT NOT NULL,
		FOREIGN KEY (application_id) REFERENCES applications(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_action_metrics_application
		ON action_metrics(application_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Save writes the record and its action log in one transaction.
func (s *Store) Save(ctx context.Context, rec *controller.Record) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applications
			(id, company, title, url, automation_mode, stop_reason,
			 actions_taken, actions_failed, success_rate, average_latency_ms,
			 screenshot_path, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ApplicationID, rec.Company, rec.Title, rec.URL, rec.Mode,
		string(rec.StopReason), rec.ActionsTaken, rec.ActionsFailed,
		rec.SuccessRate, rec.AverageLatency.Milliseconds(),
		rec.ScreenshotPath, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert application record: %w", err)
	}

	for i, entry := range rec.Log {
		blob, err := json.MarshalToString(entry)
		if err != nil {
			return fmt.Errorf("failed to serialize metrics entry %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO action_metrics (application_id, seq, entry) VALUES (?, ?, ?)`,
			rec.ApplicationID, i, blob); err != nil {
			return fmt.Errorf("failed to insert metrics entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session record: %w", err)
	}
	s.logger.Info("Session record persisted.",
		zap.String("application_id", rec.ApplicationID),
		zap.Int("metrics_entries", len(rec.Log)))
	return nil
}

// Summary is one archived application, as listed by Recent.
type Summary struct {
	ApplicationID string
	Company       string
	Title         string
	StopReason    string
	SuccessRate   float64
	FinishedAt    time.Time
}

// Recent lists the latest finished applications, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, company, title, stop_reason, success_rate, finished_at
		FROM applications ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ApplicationID, &sum.Company, &sum.Title,
			&sum.StopReason, &sum.SuccessRate, &sum.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
