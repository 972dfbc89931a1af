package miner

import (
	"database/sql"
	"time"
)

// Run is one recorded invocation of a ledger-mutating command.
type Run struct {
	ID         int64
	UUID       string
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Projects   int64
	Failed     int64
	Contents   int64
}

// RunStats are the totals written to a run when it finishes.
type RunStats struct {
	Projects int64
	Failed   int64
	Contents int64
}

// ProjectState is the ledger row describing the last outcome of a project.
type ProjectState struct {
	ID             int64
	URL            string
	HasDeniedFiles bool
	Status         string
	Branches       int64
	Snapshots      int64
	RunID          int64
	UpdatedAt      time.Time
}

// Failure records a project that could not be mined during a run.
type Failure struct {
	RunID     int64
	ProjectID int64
	URL       string
	Reason    string
	CreatedAt time.Time
}

// ContentRecord is the ledger row of one stored content body.
type ContentRecord struct {
	Hash      Hash
	ID        int64
	Size      int64
	Encrypted bool
}

// Database provides an interface for the ledger: run bookkeeping, the content hash
// index used for re-seeding, project outcomes and failures.
// Implementations must be safe for concurrent use by pool workers.
type Database interface {
	// Run operations

	// CreateRun records the start of a run.
	CreateRun(uuid, operation, parameters string) (*Run, error)

	// FinishRun marks a run finished with the given status and totals.
	FinishRun(id int64, status string, stats RunStats) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*Run, error)

	// MaxRunID returns the highest run id, or 0 if there are none.
	MaxRunID() (int64, error)

	// Project operations

	// RecordProject inserts or replaces the state row of a project.
	RecordProject(state *ProjectState) error

	// FindProject returns the state row of a project, or nil if unknown.
	FindProject(id int64) (*ProjectState, error)

	// MaxProjectID returns the highest project id seen so far, or -1 if there are none.
	MaxProjectID() (int64, error)

	// Failure operations

	// RecordFailure appends a failure to a run.
	RecordFailure(f *Failure) error

	// ListFailures returns the failures of a run in insertion order.
	ListFailures(runID int64) ([]*Failure, error)

	// Content operations

	// RecordContent records that content id with the given hash has been stored.
	RecordContent(c *ContentRecord) error

	// FindContent returns the record of content id, or nil if unknown.
	FindContent(id int64) (*ContentRecord, error)

	// EachContent calls fn for every recorded content, in id order.
	EachContent(fn func(c *ContentRecord) error) error

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	// Close closes the database connection.
	Close() error
}
