package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"miner-go/internal/database/migrations"
	"miner-go/internal/miner"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the miner.Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// The pool is pinned to a single connection: workers share one writer and
// an in-memory database stays the same database across calls.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Run operations

func (s *SQLiteDatabase) CreateRun(uuid, operation, parameters string) (*miner.Run, error) {
	run := &miner.Run{
		UUID:       uuid,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (uuid, operation, parameters, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.UUID, run.Operation, run.Parameters, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

func (s *SQLiteDatabase) FinishRun(id int64, status string, stats miner.RunStats) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, projects = ?, failed = ?, contents = ? WHERE id = ?`,
		status, time.Now().UTC(), stats.Projects, stats.Failed, stats.Contents, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finishing run: run %d not found", id)
	}
	return nil
}

func (s *SQLiteDatabase) ListRuns(limit int) ([]*miner.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, uuid, operation, parameters, status, started_at, finished_at, projects, failed, contents
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var result []*miner.Run
	for rows.Next() {
		r := &miner.Run{}
		if err := rows.Scan(&r.ID, &r.UUID, &r.Operation, &r.Parameters, &r.Status,
			&r.StartedAt, &r.FinishedAt, &r.Projects, &r.Failed, &r.Contents); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) MaxRunID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max run ID: %w", err)
	}
	return id, nil
}

// Project operations

func (s *SQLiteDatabase) RecordProject(state *miner.ProjectState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, url, has_denied_files, status, branches, snapshots, run_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   url = excluded.url,
		   has_denied_files = excluded.has_denied_files,
		   status = excluded.status,
		   branches = excluded.branches,
		   snapshots = excluded.snapshots,
		   run_id = excluded.run_id,
		   updated_at = excluded.updated_at`,
		state.ID, state.URL, state.HasDeniedFiles, state.Status, state.Branches,
		state.Snapshots, state.RunID, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording project %d: %w", state.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FindProject(id int64) (*miner.ProjectState, error) {
	p := &miner.ProjectState{}
	err := s.db.QueryRow(
		`SELECT id, url, has_denied_files, status, branches, snapshots, run_id, updated_at
		 FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.URL, &p.HasDeniedFiles, &p.Status, &p.Branches, &p.Snapshots, &p.RunID, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding project %d: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteDatabase) MaxProjectID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), -1) FROM projects`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max project ID: %w", err)
	}
	return id, nil
}

// Failure operations

func (s *SQLiteDatabase) RecordFailure(f *miner.Failure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO failures (run_id, project_id, url, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.ProjectID, f.URL, f.Reason, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording failure of project %d: %w", f.ProjectID, err)
	}
	return nil
}

func (s *SQLiteDatabase) ListFailures(runID int64) ([]*miner.Failure, error) {
	rows, err := s.db.Query(
		`SELECT run_id, project_id, url, reason, created_at FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var result []*miner.Failure
	for rows.Next() {
		f := &miner.Failure{}
		if err := rows.Scan(&f.RunID, &f.ProjectID, &f.URL, &f.Reason, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("listing failures: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	return result, nil
}

// Content operations

func (s *SQLiteDatabase) RecordContent(c *miner.ContentRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO contents (id, hash, size, encrypted) VALUES (?, ?, ?, ?)`,
		c.ID, c.Hash[:], c.Size, c.Encrypted,
	)
	if err != nil {
		return fmt.Errorf("recording content %d: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FindContent(id int64) (*miner.ContentRecord, error) {
	var hash []byte
	c := &miner.ContentRecord{}
	err := s.db.QueryRow(
		`SELECT id, hash, size, encrypted FROM contents WHERE id = ?`, id,
	).Scan(&c.ID, &hash, &c.Size, &c.Encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding content %d: %w", id, err)
	}
	if err := setHash(c, hash); err != nil {
		return nil, err
	}
	return c, nil
}

// EachContent streams every content row in id order. The connection is held
// for the duration of the scan, so fn must not call back into the database.
func (s *SQLiteDatabase) EachContent(fn func(c *miner.ContentRecord) error) error {
	rows, err := s.db.Query(`SELECT id, hash, size, encrypted FROM contents ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scanning contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash []byte
		c := &miner.ContentRecord{}
		if err := rows.Scan(&c.ID, &hash, &c.Size, &c.Encrypted); err != nil {
			return fmt.Errorf("scanning contents: %w", err)
		}
		if err := setHash(c, hash); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scanning contents: %w", err)
	}
	return nil
}

func setHash(c *miner.ContentRecord, raw []byte) error {
	if len(raw) != len(c.Hash) {
		return fmt.Errorf("content %d: stored hash has %d bytes, want %d", c.ID, len(raw), len(c.Hash))
	}
	copy(c.Hash[:], raw)
	return nil
}

func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ miner.Database = (*SQLiteDatabase)(nil)
