package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Run is the journal entry for one finished command execution
type Run struct {
	ID          int64         `json:"id"`
	CommandID   string        `json:"commandId"`
	Description string        `json:"description"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Duration    time.Duration `json:"duration"`
}

// Config holds history store configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store is the sqlite-backed execution journal
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the journal database
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "history").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.DBPath).Msg("History store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id TEXT NOT NULL,
			description TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command_id);
		CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a run to the journal and returns its row id
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (command_id, description, state, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.CommandID, run.Description, run.State, run.Error,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command_id, description, state, error, started_at, finished_at
		FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ForCommand returns every run recorded for a command id, oldest first
func (s *Store) ForCommand(ctx context.Context, commandID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command_id, description, state, error, started_at, finished_at
		FROM runs WHERE command_id = ? ORDER BY id`, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Count returns the number of recorded runs
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.CommandID, &run.Description, &run.State, &run.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		run.Duration = run.FinishedAt.Sub(run.StartedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
