package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists runs, archives, and events in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded SQL files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new fetch run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, workspace_path, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.WorkspacePath,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, workspace_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.WorkspacePath,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run. Terminal statuses stamp the
// completion time.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs newest first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, workspace_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.WorkspacePath,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Metadata,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, via cascade, its archives and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// RecordArchive stores how a pin was satisfied during a run.
func (s *SQLiteStore) RecordArchive(ctx context.Context, a *Archive) error {
	query := `
		INSERT INTO archives (
			id, run_id, name, commit_sha, sha256, url, install_path,
			status, size_bytes, duration_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.RunID,
		a.Name,
		a.Commit,
		a.SHA256,
		a.URL,
		a.InstallPath,
		a.Status,
		a.SizeBytes,
		a.DurationMS,
		a.Error,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record archive: %w", err)
	}

	return nil
}

// ListArchives returns the archive records for a run.
func (s *SQLiteStore) ListArchives(ctx context.Context, runID string) ([]*Archive, error) {
	query := `
		SELECT id, run_id, name, commit_sha, sha256, url, install_path,
		       status, size_bytes, duration_ms, error, created_at
		FROM archives
		WHERE run_id = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	archives := []*Archive{}
	for rows.Next() {
		a := &Archive{}
		err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.Name,
			&a.Commit,
			&a.SHA256,
			&a.URL,
			&a.InstallPath,
			&a.Status,
			&a.SizeBytes,
			&a.DurationMS,
			&a.Error,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		archives = append(archives, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archives: %w", err)
	}

	return archives, nil
}

// LatestArchive returns the most recent record for a pin name, nil when the
// pin has never been fetched.
func (s *SQLiteStore) LatestArchive(ctx context.Context, name string) (*Archive, error) {
	query := `
		SELECT id, run_id, name, commit_sha, sha256, url, install_path,
		       status, size_bytes, duration_ms, error, created_at
		FROM archives
		WHERE name = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	a := &Archive{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&a.ID,
		&a.RunID,
		&a.Name,
		&a.Commit,
		&a.SHA256,
		&a.URL,
		&a.InstallPath,
		&a.Status,
		&a.SizeBytes,
		&a.DurationMS,
		&a.Error,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}

	return a, nil
}

// AppendEvent appends an event to the audit log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Fields == "" {
		e.Fields = "{}"
	}

	query := `
		INSERT INTO events (run_id, archive, level, message, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		e.RunID,
		e.Archive,
		e.Level,
		e.Message,
		e.Fields,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListEvents returns the events for a run oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, archive, level, message, fields, created_at
		FROM events
		WHERE run_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Archive,
			&e.Level,
			&e.Message,
			&e.Fields,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
