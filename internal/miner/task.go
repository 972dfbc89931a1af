package miner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"golang.org/x/time/rate"
)

// Pipeline holds everything a worker needs to mine one project. One Pipeline is shared by
// all tasks of a run.
type Pipeline struct {
	vcs      VCS
	walker   *BranchWalker
	vault    Vault
	database Database
	logger   Logger
	metrics  Metrics
	clock    Clock

	tempDir string
	timeout time.Duration
	limiter *rate.Limiter // nil means unlimited
	runID   int64

	mu        sync.Mutex
	completed int64
	failures  []*Failure
}

// Process runs the full lifecycle of p: clone, walk every branch, persist the project
// record, and remove the clone. The clone directory is removed on every exit path.
func (pl *Pipeline) Process(ctx context.Context, p *Project) error {
	p.LocalPath = filepath.Join(pl.tempDir, strconv.FormatInt(p.ID, 10))
	defer pl.cleanup(p)

	if err := pl.clone(ctx, p); err != nil {
		return err
	}

	index := NewSnapshotIndex()
	branches, err := pl.walker.Walk(ctx, p, index)
	if err != nil {
		return fmt.Errorf("walking %s: %w", p, err)
	}

	if err := pl.persist(p, index, branches); err != nil {
		return err
	}
	pl.logger.Info("project mined", "project", p.ID, "url", p.URL,
		"branches", len(branches), "snapshots", index.Len(), "has_denied_files", p.HasDeniedFiles)
	return nil
}

func (pl *Pipeline) clone(ctx context.Context, p *Project) error {
	if err := os.RemoveAll(p.LocalPath); err != nil {
		return fmt.Errorf("%w: removing stale clone %s: %w", ErrCloneFailed, p.LocalPath, err)
	}
	if err := os.MkdirAll(pl.tempDir, 0o700); err != nil {
		return fmt.Errorf("%w: creating temp directory: %w", ErrCloneFailed, err)
	}
	if pl.limiter != nil {
		if err := pl.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: waiting for clone slot: %w", ErrCloneFailed, err)
		}
	}

	cctx, cancel := pl.withTimeout(ctx)
	defer cancel()
	if err := pl.vcs.Clone(cctx, p.URL, p.LocalPath); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCloneFailed, p.URL, err)
	}
	pl.logger.Debug("project cloned", "project", p.ID, "path", p.LocalPath)
	return nil
}

func (pl *Pipeline) persist(p *Project, index *SnapshotIndex, branches []BranchSnapshot) error {
	now := pl.clock.Now()
	var buf bytes.Buffer
	if err := NewProjectRecord(p, index, branches, now).Encode(&buf); err != nil {
		return err
	}
	if err := pl.vault.PutProject(p.ID, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return fmt.Errorf("%w: writing project record %d: %w", ErrStorage, p.ID, err)
	}

	err := pl.database.RecordProject(&ProjectState{
		ID:             p.ID,
		URL:            p.URL,
		HasDeniedFiles: p.HasDeniedFiles,
		Status:         StatusDone,
		Branches:       int64(len(branches)),
		Snapshots:      int64(index.Len()),
		RunID:          pl.runID,
		UpdatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("%w: recording project %d: %w", ErrStorage, p.ID, err)
	}
	return nil
}

// cleanup measures and removes the clone directory of p.
func (pl *Pipeline) cleanup(p *Project) {
	if p.LocalPath == "" {
		return
	}
	if _, err := os.Lstat(p.LocalPath); err != nil {
		return
	}
	pl.metrics.CloneMeasured(dirSize(p.LocalPath))
	if err := os.RemoveAll(p.LocalPath); err != nil {
		pl.logger.Error("unable to remove clone", "project", p.ID, "path", p.LocalPath, "error", err)
		return
	}
	pl.logger.Debug("clone removed", "project", p.ID, "path", p.LocalPath)
}

// finish records the outcome of p.
func (pl *Pipeline) finish(p *Project, err error) {
	if err == nil {
		pl.metrics.ProjectFinished(StatusDone)
		pl.mu.Lock()
		pl.completed++
		pl.mu.Unlock()
		return
	}

	pl.metrics.ProjectFinished(StatusFailed)
	now := pl.clock.Now()
	f := &Failure{
		RunID:     pl.runID,
		ProjectID: p.ID,
		URL:       p.URL,
		Reason:    err.Error(),
		CreatedAt: now,
	}
	pl.mu.Lock()
	pl.failures = append(pl.failures, f)
	pl.mu.Unlock()

	if dbErr := pl.database.RecordFailure(f); dbErr != nil {
		pl.logger.Error("unable to record failure", "project", p.ID, "error", dbErr)
	}
	dbErr := pl.database.RecordProject(&ProjectState{
		ID:             p.ID,
		URL:            p.URL,
		HasDeniedFiles: p.HasDeniedFiles,
		Status:         StatusFailed,
		RunID:          pl.runID,
		UpdatedAt:      now,
	})
	if dbErr != nil {
		pl.logger.Error("unable to record project state", "project", p.ID, "error", dbErr)
	}
}

// Failures returns the failures recorded so far, in completion order.
func (pl *Pipeline) Failures() []*Failure {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return append([]*Failure(nil), pl.failures...)
}

// Completed returns the number of projects mined successfully.
func (pl *Pipeline) Completed() int64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.completed
}

func (pl *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if pl.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, pl.timeout)
}

// dirSize returns the total size of the regular files below root. Unreadable entries
// are skipped.
func dirSize(root string) int64 {
	var total int64
	_ = godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if !de.IsRegular() {
				return nil
			}
			if fi, err := os.Lstat(osPathname); err == nil {
				total += fi.Size()
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	return total
}

// ProjectTask mines one project. It is the unit of work scheduled on the pool.
type ProjectTask struct {
	project  *Project
	pipeline *Pipeline
}

// NewProjectTask creates a task mining p through pl.
func NewProjectTask(p *Project, pl *Pipeline) *ProjectTask {
	return &ProjectTask{project: p, pipeline: pl}
}

// Execute mines the project and records its outcome.
func (t *ProjectTask) Execute(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			t.pipeline.finish(t.project, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	t.pipeline.logger.Info("mining project", "project", t.project.ID, "url", t.project.URL)
	err := t.pipeline.Process(ctx, t.project)
	t.pipeline.finish(t.project, err)
	return err
}

// Project returns the project mined by the task.
func (t *ProjectTask) Project() *Project {
	return t.project
}

func (t *ProjectTask) String() string {
	return t.project.String()
}
