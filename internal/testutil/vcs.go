package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"miner-go/internal/miner"
)

// FakeRepo is an in-memory repository served by FakeVCS. Revisions are added
// oldest first.
type FakeRepo struct {
	defaultBranch string
	branches      map[string]*fakeBranch
	contents      map[miner.HistoryEntry][]byte

	// FailClone makes Clone of this repository fail.
	FailClone bool
	// FailCheckout lists branches whose checkout fails.
	FailCheckout map[string]bool
	// FailListFiles lists branches whose file listing fails.
	FailListFiles map[string]bool
}

type fakeBranch struct {
	files   []string
	history map[string][]miner.HistoryEntry // oldest first
}

// NewFakeRepo creates an empty repository whose clone checks out defaultBranch.
func NewFakeRepo(defaultBranch string) *FakeRepo {
	r := &FakeRepo{
		defaultBranch: defaultBranch,
		branches:      make(map[string]*fakeBranch),
		contents:      make(map[miner.HistoryEntry][]byte),
		FailCheckout:  make(map[string]bool),
		FailListFiles: make(map[string]bool),
	}
	r.branch(defaultBranch)
	return r
}

func (r *FakeRepo) branch(name string) *fakeBranch {
	b, ok := r.branches[name]
	if !ok {
		b = &fakeBranch{history: make(map[string][]miner.HistoryEntry)}
		r.branches[name] = b
	}
	return b
}

// AddBranch creates an empty branch.
func (r *FakeRepo) AddBranch(name string) *FakeRepo {
	r.branch(name)
	return r
}

// AddRevision appends a revision of file to branch. The file appears in the working
// tree of branch under its name.
func (r *FakeRepo) AddRevision(branch, file, commit string, date int64, content string) *FakeRepo {
	return r.AddRenamedRevision(branch, file, file, commit, date, content)
}

// AddRenamedRevision appends a revision stored under path to the history of the
// working tree file.
func (r *FakeRepo) AddRenamedRevision(branch, file, path, commit string, date int64, content string) *FakeRepo {
	entry := miner.HistoryEntry{Commit: commit, Filename: path, Date: date}
	r.appendEntry(branch, file, entry)
	r.contents[entry] = []byte(content)
	return r
}

// AddMissingRevision appends a revision whose content cannot be retrieved.
func (r *FakeRepo) AddMissingRevision(branch, file, commit string, date int64) *FakeRepo {
	r.appendEntry(branch, file, miner.HistoryEntry{Commit: commit, Filename: file, Date: date})
	return r
}

func (r *FakeRepo) appendEntry(branch, file string, entry miner.HistoryEntry) {
	b := r.branch(branch)
	if !slices.Contains(b.files, file) {
		b.files = append(b.files, file)
		slices.Sort(b.files)
	}
	b.history[file] = append(b.history[file], entry)
}

type fakeClone struct {
	repo    *FakeRepo
	current string
}

// FakeVCS implements miner.VCS over in-memory repositories keyed by url.
// Clone creates the destination directory with a single marker file so that
// clone cleanup has something to measure and remove.
type FakeVCS struct {
	mu     sync.Mutex
	repos  map[string]*FakeRepo
	clones map[string]*fakeClone
	calls  map[string]int
}

// NewFakeVCS creates a FakeVCS with no repositories.
func NewFakeVCS() *FakeVCS {
	return &FakeVCS{
		repos:  make(map[string]*FakeRepo),
		clones: make(map[string]*fakeClone),
		calls:  make(map[string]int),
	}
}

// AddRepo registers repo under url.
func (f *FakeVCS) AddRepo(url string, repo *FakeRepo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[url] = repo
}

// Calls returns how often the named operation has been invoked.
func (f *FakeVCS) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Clones returns the number of clones that are still present on disk.
func (f *FakeVCS) Clones() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for dest := range f.clones {
		if _, err := os.Stat(dest); err == nil {
			n++
		}
	}
	return n
}

func (f *FakeVCS) Clone(ctx context.Context, url, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["clone"]++

	if err := ctx.Err(); err != nil {
		return err
	}
	repo, ok := f.repos[url]
	if !ok {
		return fmt.Errorf("repository %s not found", url)
	}
	if repo.FailClone {
		return errors.New("authentication required")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "HEAD"), []byte(repo.defaultBranch), 0o644); err != nil {
		return err
	}
	f.clones[dest] = &fakeClone{repo: repo, current: repo.defaultBranch}
	return nil
}

func (f *FakeVCS) Branches(ctx context.Context, repo string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["branches"]++

	c, err := f.clone(repo)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.repo.branches))
	for name := range c.repo.branches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (f *FakeVCS) CurrentBranch(ctx context.Context, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["current"]++

	c, err := f.clone(repo)
	if err != nil {
		return "", err
	}
	return c.current, nil
}

func (f *FakeVCS) Checkout(ctx context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["checkout"]++

	c, err := f.clone(repo)
	if err != nil {
		return err
	}
	if _, ok := c.repo.branches[branch]; !ok {
		return fmt.Errorf("pathspec %q did not match any branch", branch)
	}
	if c.repo.FailCheckout[branch] {
		return errors.New("local changes would be overwritten")
	}
	c.current = branch
	return nil
}

func (f *FakeVCS) ListFiles(ctx context.Context, repo string) ([]miner.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ls"]++

	c, err := f.clone(repo)
	if err != nil {
		return nil, err
	}
	if c.repo.FailListFiles[c.current] {
		return nil, errors.New("index corrupt")
	}
	b := c.repo.branches[c.current]
	files := make([]miner.FileInfo, len(b.files))
	for i, name := range b.files {
		files[i] = miner.FileInfo{Filename: name}
	}
	return files, nil
}

func (f *FakeVCS) FileHistory(ctx context.Context, repo string, file miner.FileInfo) ([]miner.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["log"]++

	c, err := f.clone(repo)
	if err != nil {
		return nil, err
	}
	history := c.repo.branches[c.current].history[file.Filename]
	result := make([]miner.HistoryEntry, len(history))
	for i, entry := range history {
		result[len(history)-1-i] = entry
	}
	return result, nil
}

func (f *FakeVCS) FileContent(ctx context.Context, repo string, entry miner.HistoryEntry) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["show"]++

	c, err := f.clone(repo)
	if err != nil {
		return nil, err
	}
	content, ok := c.repo.contents[entry]
	if !ok {
		return nil, fmt.Errorf("%s:%s: %w", entry.Commit, entry.Filename, miner.ErrRevisionNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (f *FakeVCS) clone(dest string) (*fakeClone, error) {
	c, ok := f.clones[dest]
	if !ok {
		return nil, fmt.Errorf("%s is not a repository", dest)
	}
	return c, nil
}

var _ miner.VCS = (*FakeVCS)(nil)
