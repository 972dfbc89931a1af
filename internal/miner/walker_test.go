package miner_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miner-go/internal/miner"
	"miner-go/internal/testutil"
)

type walkFixture struct {
	vcs     *testutil.FakeVCS
	store   *miner.ContentStore
	metrics *countingMetrics
	walker  *miner.BranchWalker
}

func newWalkFixture(t *testing.T, v miner.Vault) *walkFixture {
	t.Helper()
	if v == nil {
		v = testutil.NewTestVault(0)
	}
	f := &walkFixture{
		vcs:     testutil.NewFakeVCS(),
		metrics: newCountingMetrics(),
	}
	f.store = miner.NewContentStore(v, testutil.NewTestDatabase(t), nil, miner.NewSharder(0), miner.NewNopLogger(), f.metrics)
	f.walker = miner.NewBranchWalker(f.vcs, newFilter(t), f.store, miner.NewNopLogger(), f.metrics, 0)
	return f
}

// clone registers repo and clones it, returning the project pointing at the clone.
func (f *walkFixture) clone(t *testing.T, repo *testutil.FakeRepo) *miner.Project {
	t.Helper()
	p := &miner.Project{ID: 1, URL: "https://example.com/r.git"}
	f.vcs.AddRepo(p.URL, repo)
	p.LocalPath = filepath.Join(t.TempDir(), "1")
	require.NoError(t, f.vcs.Clone(context.Background(), p.URL, p.LocalPath))
	return p
}

func TestBranchWalker_Walk(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "v1").
		AddRevision("main", "a.js", "c2", 200, "v2").
		AddRevision("main", "README.md", "c1", 100, "readme").
		AddRevision("main", "node_modules/x/index.js", "c1", 100, "vendored").
		AddRevision("dev", "a.js", "c1", 100, "v1").
		AddRevision("dev", "a.js", "c2", 200, "v2").
		AddRevision("dev", "a.js", "c3", 300, "v3").
		AddRevision("dev", "b.js", "c3", 300, "v1")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)
	index := miner.NewSnapshotIndex()

	branches, err := f.walker.Walk(context.Background(), p, index)
	require.NoError(t, err)

	require.Len(t, branches, 2)
	assert.Equal(t, "main", branches[0].Branch)
	assert.Equal(t, []int64{1}, branches[0].SnapshotIDs)
	assert.Equal(t, "dev", branches[1].Branch)
	assert.Equal(t, []int64{2, 3}, branches[1].SnapshotIDs)

	assert.True(t, p.HasDeniedFiles, "node_modules file should flag the project")

	snaps := index.Snapshots()
	require.Len(t, snaps, 4)
	// Oldest revision first, so ids follow commit time.
	assert.Equal(t, "c1", snaps[0].Commit)
	assert.Equal(t, "c2", snaps[1].Commit)
	assert.Equal(t, "c3", snaps[2].Commit)
	assert.Equal(t, []int64{0, 1, 2, 0}, []int64{snaps[0].ContentID, snaps[1].ContentID, snaps[2].ContentID, snaps[3].ContentID})
	assert.Equal(t, "b.js", snaps[3].Path)

	for _, s := range snaps {
		assert.NotEqual(t, "README.md", s.Path)
		assert.NotContains(t, s.Path, "node_modules")
	}

	assert.Equal(t, 3, f.store.Len())
	assert.Equal(t, int64(2), f.metrics.visited.Load())
	assert.Equal(t, int64(4), f.metrics.snapshots.Load())
}

func TestBranchWalker_SharedFileAcrossBranches(t *testing.T) {
	repo := testutil.NewFakeRepo("a").
		AddRevision("a", "y.txt", "c0", 50, "only on a").
		AddRevision("b", "x.txt", "c1", 100, "shared").
		AddRevision("c", "x.txt", "c1", 100, "shared").
		AddRevision("c", "z.txt", "c2", 200, "only on c")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)
	index := miner.NewSnapshotIndex()

	branches, err := f.walker.Walk(context.Background(), p, index)
	require.NoError(t, err)
	require.Len(t, branches, 3)

	key := miner.SnapshotKey{Commit: "c1", Path: "x.txt"}
	shared, ok := index.Get(key)
	require.True(t, ok)

	count := 0
	for _, s := range index.Snapshots() {
		if s.Key() == key {
			count++
		}
	}
	assert.Equal(t, 1, count, "one snapshot for (c1, x.txt)")

	assert.Equal(t, "b", branches[1].Branch)
	assert.Equal(t, "c", branches[2].Branch)
	assert.Contains(t, branches[1].SnapshotIDs, shared.ID)
	assert.Contains(t, branches[2].SnapshotIDs, shared.ID)
	assert.Equal(t, 3, f.store.Len())
}

func TestBranchWalker_CheckoutFailureSkipsBranch(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "a").
		AddRevision("broken", "b.js", "c2", 200, "b").
		AddRevision("zeta", "c.js", "c3", 300, "c")
	repo.FailCheckout["broken"] = true

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)
	index := miner.NewSnapshotIndex()

	branches, err := f.walker.Walk(context.Background(), p, index)
	require.NoError(t, err)

	require.Len(t, branches, 2)
	assert.Equal(t, "main", branches[0].Branch)
	assert.Equal(t, "zeta", branches[1].Branch)
	assert.Equal(t, int64(1), f.metrics.skipped.Load())
	assert.Equal(t, 2, index.Len())
}

func TestBranchWalker_ListFilesFailureSkipsBranch(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "a").
		AddRevision("dev", "b.js", "c2", 200, "b")
	repo.FailListFiles["dev"] = true

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)

	branches, err := f.walker.Walk(context.Background(), p, miner.NewSnapshotIndex())
	require.NoError(t, err)

	require.Len(t, branches, 2)
	assert.Empty(t, branches[1].SnapshotIDs)
}

func TestBranchWalker_MissingRevisionSkipped(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddMissingRevision("main", "a.js", "c0", 50).
		AddRevision("main", "a.js", "c1", 100, "a")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)
	index := miner.NewSnapshotIndex()

	branches, err := f.walker.Walk(context.Background(), p, index)
	require.NoError(t, err)

	require.Equal(t, 1, index.Len())
	assert.Equal(t, "c1", index.Snapshots()[0].Commit)
	assert.Equal(t, []int64{0}, branches[0].SnapshotIDs)
}

func TestBranchWalker_OnlyMissingRevisionsNotVisible(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddMissingRevision("main", "a.js", "c0", 50).
		AddRevision("main", "b.js", "c1", 100, "b")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)

	branches, err := f.walker.Walk(context.Background(), p, miner.NewSnapshotIndex())
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, branches[0].SnapshotIDs)
}

func TestBranchWalker_RenamedFile(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRenamedRevision("main", "new.js", "old.js", "c1", 100, "body").
		AddRevision("main", "new.js", "c2", 200, "body")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)
	index := miner.NewSnapshotIndex()

	branches, err := f.walker.Walk(context.Background(), p, index)
	require.NoError(t, err)

	snaps := index.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "old.js", snaps[0].Path)
	assert.Equal(t, "new.js", snaps[1].Path)
	assert.Equal(t, snaps[0].ContentID, snaps[1].ContentID)
	assert.Equal(t, []int64{1}, branches[0].SnapshotIDs)
}

func TestBranchWalker_StorageErrorAborts(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "a")

	f := newWalkFixture(t, newFlakyVault(1))
	p := f.clone(t, repo)

	_, err := f.walker.Walk(context.Background(), p, miner.NewSnapshotIndex())
	require.Error(t, err)
	assert.ErrorIs(t, err, miner.ErrStorage)
}

func TestBranchWalker_BranchListingErrorIsFatal(t *testing.T) {
	f := newWalkFixture(t, nil)
	p := &miner.Project{ID: 1, URL: "https://example.com/r.git", LocalPath: t.TempDir()}

	_, err := f.walker.Walk(context.Background(), p, miner.NewSnapshotIndex())
	assert.Error(t, err)
}

func TestBranchWalker_Cancelled(t *testing.T) {
	repo := testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "a").
		AddRevision("dev", "b.js", "c2", 200, "b")

	f := newWalkFixture(t, nil)
	p := f.clone(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.walker.Walk(ctx, p, miner.NewSnapshotIndex())
	assert.ErrorIs(t, err, context.Canceled)
}
