package miner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// BranchWalker visits every branch of a cloned project and feeds each unseen file
// revision through the snapshot index and the content store.
type BranchWalker struct {
	vcs     VCS
	filter  Filter
	store   *ContentStore
	logger  Logger
	metrics Metrics
	timeout time.Duration
}

// NewBranchWalker creates a BranchWalker. timeout bounds every single VCS call; zero
// means no bound beyond ctx.
func NewBranchWalker(vcs VCS, filter Filter, store *ContentStore, logger Logger, metrics Metrics, timeout time.Duration) *BranchWalker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &BranchWalker{
		vcs:     vcs,
		filter:  filter,
		store:   store,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
	}
}

// Walk scans the current branch of p and then every other branch. Snapshots are added to
// index and one BranchSnapshot per visited branch is returned.
//
// Errors listing the branches and storage errors are returned. Checkout failures skip
// the branch; failures reading a single file skip that file or revision.
func (w *BranchWalker) Walk(ctx context.Context, p *Project, index *SnapshotIndex) ([]BranchSnapshot, error) {
	var branches []string
	err := w.call(ctx, func(ctx context.Context) error {
		var err error
		branches, err = w.vcs.Branches(ctx, p.LocalPath)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	var current string
	err = w.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = w.vcs.CurrentBranch(ctx, p.LocalPath)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading current branch: %w", err)
	}

	// The current branch is already checked out by the clone.
	snap, err := w.walkBranch(ctx, p, index, current)
	if err != nil {
		return nil, err
	}
	result := []BranchSnapshot{snap}

	remaining := make([]string, 0, len(branches))
	for _, b := range branches {
		if b != current && !slices.Contains(remaining, b) {
			remaining = append(remaining, b)
		}
	}
	slices.Sort(remaining)

	for _, branch := range remaining {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := w.call(ctx, func(ctx context.Context) error {
			return w.vcs.Checkout(ctx, p.LocalPath, branch)
		})
		if err != nil {
			w.logger.Warn("unable to checkout branch, skipping",
				"project", p.ID, "branch", branch, "error", fmt.Errorf("%w: %w", ErrCheckoutFailed, err))
			w.metrics.BranchSkipped()
			continue
		}
		snap, err := w.walkBranch(ctx, p, index, branch)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, nil
}

// walkBranch scans the checked out working tree.
func (w *BranchWalker) walkBranch(ctx context.Context, p *Project, index *SnapshotIndex, branch string) (BranchSnapshot, error) {
	snap := BranchSnapshot{Branch: branch}
	w.metrics.BranchVisited()

	var files []FileInfo
	err := w.call(ctx, func(ctx context.Context) error {
		var err error
		files, err = w.vcs.ListFiles(ctx, p.LocalPath)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return snap, ctx.Err()
		}
		w.logger.Warn("unable to list files, skipping branch", "project", p.ID, "branch", branch, "error", err)
		return snap, nil
	}

	for _, f := range files {
		accepted, denied := w.filter.Check(f.Filename)
		if !accepted {
			if denied {
				p.HasDeniedFiles = true
			}
			continue
		}
		id, ok, err := w.walkFile(ctx, p, index, f)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.SnapshotIDs = append(snap.SnapshotIDs, id)
		}
	}

	w.logger.Debug("branch scanned", "project", p.ID, "branch", branch,
		"files", len(files), "visible", len(snap.SnapshotIDs), "snapshots", index.Len())
	return snap, nil
}

// walkFile processes the history of one file, oldest revision first, and returns the
// snapshot id of the newest revision that could be retrieved.
func (w *BranchWalker) walkFile(ctx context.Context, p *Project, index *SnapshotIndex, f FileInfo) (int64, bool, error) {
	var history []HistoryEntry
	err := w.call(ctx, func(ctx context.Context) error {
		var err error
		history, err = w.vcs.FileHistory(ctx, p.LocalPath, f)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return -1, false, ctx.Err()
		}
		w.logger.Warn("unable to read file history", "project", p.ID, "file", f.Filename, "error", err)
		return -1, false, nil
	}

	head := int64(-1)
	for i := len(history) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return -1, false, err
		}
		entry := history[i]
		key := SnapshotKey{Commit: entry.Commit, Path: entry.Filename}
		if existing, ok := index.Get(key); ok {
			head = existing.ID
			continue
		}

		var text []byte
		err := w.call(ctx, func(ctx context.Context) error {
			var err error
			text, err = w.vcs.FileContent(ctx, p.LocalPath, entry)
			return err
		})
		if err != nil {
			if !errors.Is(err, ErrRevisionNotFound) {
				w.logger.Debug("unable to read revision", "project", p.ID,
					"file", entry.Filename, "commit", entry.Commit, "error", err)
			}
			continue
		}

		s := NewFileSnapshot(entry)
		s.ContentID, err = w.store.ContentID(ctx, text)
		if err != nil {
			return -1, false, err
		}
		s, _ = index.Insert(s)
		w.metrics.SnapshotRecorded()
		head = s.ID
	}
	return head, head >= 0, nil
}

func (w *BranchWalker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return fn(ctx)
}
