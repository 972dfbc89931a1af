package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miner-go/internal/miner"
)

type goGitFixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newGoGitFixture(t *testing.T) *goGitFixture {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	return &goGitFixture{t: t, dir: dir, repo: r, wt: wt}
}

func (f *goGitFixture) commit(unix int64, files map[string]string) string {
	f.t.Helper()
	for name, body := range files {
		path := filepath.Join(f.dir, name)
		require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(f.t, os.WriteFile(path, []byte(body), 0o644))
		_, err := f.wt.Add(name)
		require.NoError(f.t, err)
	}
	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(unix, 0).UTC()}
	h, err := f.wt.Commit("commit", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(f.t, err)
	return h.String()
}

func (f *goGitFixture) checkout(branch string, create bool) {
	f.t.Helper()
	require.NoError(f.t, f.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

func TestGoGit_Repository(t *testing.T) {
	f := newGoGitFixture(t)
	c1 := f.commit(1000, map[string]string{"a.js": "v1"})
	c2 := f.commit(2000, map[string]string{"a.js": "v2", "lib/b.js": "b"})
	f.checkout("dev", true)
	f.commit(3000, map[string]string{"c.js": "c"})
	f.checkout("master", false)

	ctx := context.Background()
	g, err := NewGoGit(0)
	require.NoError(t, err)

	branches, err := g.Branches(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "master"}, branches)

	current, err := g.CurrentBranch(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, "master", current)

	files, err := g.ListFiles(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, []miner.FileInfo{{Filename: "a.js"}, {Filename: "lib/b.js"}}, files)

	history, err := g.FileHistory(ctx, f.dir, miner.FileInfo{Filename: "a.js"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, miner.HistoryEntry{Commit: c2, Filename: "a.js", Date: 2000}, history[0])
	assert.Equal(t, miner.HistoryEntry{Commit: c1, Filename: "a.js", Date: 1000}, history[1])

	body, err := g.FileContent(ctx, f.dir, history[1])
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	_, err = g.FileContent(ctx, f.dir, miner.HistoryEntry{Commit: c1, Filename: "lib/b.js"})
	assert.ErrorIs(t, err, miner.ErrRevisionNotFound)

	_, err = g.FileContent(ctx, f.dir, miner.HistoryEntry{Commit: "0123456789012345678901234567890123456789", Filename: "a.js"})
	assert.ErrorIs(t, err, miner.ErrRevisionNotFound)

	require.NoError(t, g.Checkout(ctx, f.dir, "dev"))
	current, err = g.CurrentBranch(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, "dev", current)

	files, err = g.ListFiles(ctx, f.dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestGoGit_CheckoutUnknownBranch(t *testing.T) {
	f := newGoGitFixture(t)
	f.commit(1000, map[string]string{"a.js": "v1"})

	g, err := NewGoGit(16)
	require.NoError(t, err)
	assert.Error(t, g.Checkout(context.Background(), f.dir, "nope"))
}

func TestGoGit_OpenFailure(t *testing.T) {
	g, err := NewGoGit(16)
	require.NoError(t, err)
	_, err = g.Branches(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestGoGit_ForgetDropsCachedObjects(t *testing.T) {
	f := newGoGitFixture(t)
	f.commit(1000, map[string]string{"a.js": "v1"})

	g, err := NewGoGit(16)
	require.NoError(t, err)
	_, err = g.ListFiles(context.Background(), f.dir)
	require.NoError(t, err)
	assert.Equal(t, 1, g.repos.Len())
	assert.Equal(t, 1, g.commits.Len())

	g.forget(f.dir)
	assert.Equal(t, 0, g.repos.Len())
	assert.Equal(t, 0, g.commits.Len())
}
