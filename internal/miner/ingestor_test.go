package miner_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miner-go/internal/database"
	"miner-go/internal/miner"
	"miner-go/internal/testutil"
	"miner-go/internal/vault"
)

type ingestFixture struct {
	vcs     *testutil.FakeVCS
	vault   *vault.MemoryVault
	db      *database.SQLiteDatabase
	metrics *countingMetrics
	tempDir string
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	return &ingestFixture{
		vcs:     testutil.NewFakeVCS(),
		vault:   testutil.NewTestVault(0),
		db:      testutil.NewTestDatabase(t),
		metrics: newCountingMetrics(),
		tempDir: filepath.Join(t.TempDir(), "temp"),
	}
}

func (f *ingestFixture) ingestor(t *testing.T, runID int64, workers int) *miner.Ingestor {
	t.Helper()
	in := miner.NewIngestor(miner.Dependencies{
		VCS:      f.vcs,
		Filter:   newFilter(t),
		Vault:    f.vault,
		Database: f.db,
		Logger:   miner.NewNopLogger(),
		Metrics:  f.metrics,
		Clock:    testutil.FixedClock(),
	}, miner.Options{
		Workers: workers,
		TempDir: f.tempDir,
		RunID:   runID,
	})
	require.NoError(t, in.Initialize())
	return in
}

func (f *ingestFixture) record(t *testing.T, id int64) *miner.ProjectRecord {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.vault.GetProject(id, &buf))
	rec, err := miner.DecodeProjectRecord(&buf)
	require.NoError(t, err)
	return rec
}

func TestIngestor_ThreeBranchesShareSnapshot(t *testing.T) {
	f := newIngestFixture(t)
	f.vcs.AddRepo("https://example.com/r.git", testutil.NewFakeRepo("A").
		AddRevision("A", "main.js", "c0", 50, "entry").
		AddRevision("B", "x.txt", "c1", 100, "unchanged").
		AddRevision("C", "x.txt", "c1", 100, "unchanged"))

	in := f.ingestor(t, 1, 2)
	in.Start(context.Background())
	p := in.Add("https://example.com/r.git")
	summary := in.Wait()

	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(1), summary.Completed)

	rec := f.record(t, p.ID)
	var shared []miner.SnapshotRecord
	for _, s := range rec.Snapshots {
		if s.Commit == "c1" && s.Path == "x.txt" {
			shared = append(shared, s)
		}
	}
	require.Len(t, shared, 1, "one snapshot for (c1, x.txt)")

	byName := make(map[string][]int64)
	for _, b := range rec.Branches {
		byName[b.Name] = b.Snapshots
	}
	assert.Equal(t, []int64{shared[0].ID}, byName["B"])
	assert.Equal(t, []int64{shared[0].ID}, byName["C"])

	contentIDs := make(map[int64]bool)
	for _, s := range rec.Snapshots {
		contentIDs[s.Content] = true
	}
	assert.Len(t, contentIDs, 2)
	assert.Equal(t, 2, summary.Contents)
}

func TestIngestor_ProjectsShareContent(t *testing.T) {
	f := newIngestFixture(t)
	f.vcs.AddRepo("https://example.com/one.git", testutil.NewFakeRepo("main").
		AddRevision("main", "lib.js", "a1", 100, "module.exports = 1"))
	f.vcs.AddRepo("https://example.com/two.git", testutil.NewFakeRepo("main").
		AddRevision("main", "util/lib.js", "b1", 300, "module.exports = 1"))

	in := f.ingestor(t, 1, 2)
	in.Start(context.Background())
	one := in.Add("https://example.com/one.git")
	two := in.Add("https://example.com/two.git")
	summary := in.Wait()

	require.Empty(t, summary.Failures)
	assert.Equal(t, int64(2), summary.Completed)

	r1 := f.record(t, one.ID)
	r2 := f.record(t, two.ID)
	require.Len(t, r1.Snapshots, 1)
	require.Len(t, r2.Snapshots, 1)

	// Snapshot ids are project scoped, content ids are global.
	assert.Equal(t, int64(0), r1.Snapshots[0].ID)
	assert.Equal(t, int64(0), r2.Snapshots[0].ID)
	assert.Equal(t, r1.Snapshots[0].Content, r2.Snapshots[0].Content)
	assert.Equal(t, 1, summary.Contents)
	assert.Equal(t, 1, f.vault.ContentWrites(r1.Snapshots[0].Content))
}

func TestIngestor_ConcurrentProducers(t *testing.T) {
	f := newIngestFixture(t)
	f.vcs.AddRepo("https://example.com/r.git", testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "shared"))

	in := f.ingestor(t, 1, 4)
	in.Start(context.Background())

	const producers = 5
	const perProducer = 10

	var (
		mu  sync.Mutex
		ids = make(map[int64]bool)
		wg  sync.WaitGroup
	)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				p := in.Add("https://example.com/r.git")
				mu.Lock()
				ids[p.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	summary := in.Wait()

	require.Empty(t, summary.Failures)
	assert.Equal(t, producers*perProducer, summary.Scheduled)
	assert.Equal(t, int64(producers*perProducer), summary.Completed)
	assert.Len(t, ids, producers*perProducer)
	assert.Equal(t, 1, summary.Contents)
}

func TestIngestor_CloneFailureDoesNotStopRun(t *testing.T) {
	f := newIngestFixture(t)
	bad := testutil.NewFakeRepo("main").AddRevision("main", "a.js", "c1", 100, "never stored")
	bad.FailClone = true
	f.vcs.AddRepo("https://example.com/bad.git", bad)
	f.vcs.AddRepo("https://example.com/good.git", testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "stored"))

	in := f.ingestor(t, 4, 1)
	in.Start(context.Background())
	badProject := in.Add("https://example.com/bad.git")
	goodProject := in.Add("https://example.com/good.git")
	summary := in.Wait()

	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, int64(1), summary.Completed)
	require.Len(t, summary.Failures, 1)
	failure := summary.Failures[0]
	assert.Equal(t, badProject.ID, failure.ProjectID)
	assert.Equal(t, int64(4), failure.RunID)
	assert.Contains(t, failure.Reason, miner.ErrCloneFailed.Error())

	assert.Equal(t, 1, summary.Contents, "failed project stores no content")

	var buf bytes.Buffer
	assert.ErrorIs(t, f.vault.GetProject(badProject.ID, &buf), vault.ErrNotFound)
	f.record(t, goodProject.ID)

	state, err := f.db.FindProject(badProject.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, miner.StatusFailed, state.Status)

	state, err = f.db.FindProject(goodProject.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, miner.StatusDone, state.Status)
	assert.Equal(t, int64(1), state.Snapshots)

	failures, err := f.db.ListFailures(4)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "https://example.com/bad.git", failures[0].URL)

	assert.Equal(t, 1, f.metrics.Projects(miner.StatusDone))
	assert.Equal(t, 1, f.metrics.Projects(miner.StatusFailed))
	assert.Equal(t, 0, f.vcs.Clones(), "clone directories are removed")
}

func TestIngestor_RetryAfterCloneFailureMatchesFirstRun(t *testing.T) {
	const url = "https://example.com/flaky.git"
	newRepo := func() *testutil.FakeRepo {
		return testutil.NewFakeRepo("main").
			AddRevision("main", "a.js", "c1", 100, "one").
			AddRevision("main", "a.js", "c2", 200, "two").
			AddRevision("dev", "a.js", "c1", 100, "one")
	}

	// Reference: a clean first run.
	fresh := newIngestFixture(t)
	fresh.vcs.AddRepo(url, newRepo())
	in := fresh.ingestor(t, 1, 1)
	in.Start(context.Background())
	in.AddWithID(url, 5)
	require.Empty(t, in.Wait().Failures)
	want := fresh.record(t, 5)

	// A failed attempt followed by a retry with the same id.
	f := newIngestFixture(t)
	repo := newRepo()
	repo.FailClone = true
	f.vcs.AddRepo(url, repo)

	in = f.ingestor(t, 1, 1)
	in.Start(context.Background())
	in.AddWithID(url, 5)
	require.Len(t, in.Wait().Failures, 1)

	repo.FailClone = false
	in = f.ingestor(t, 2, 1)
	in.Start(context.Background())
	in.AddWithID(url, 5)
	summary := in.Wait()
	require.Empty(t, summary.Failures)

	got := f.record(t, 5)
	assert.Equal(t, want.Branches, got.Branches)
	assert.Equal(t, want.Snapshots, got.Snapshots)
	assert.Equal(t, want.HasDeniedFiles, got.HasDeniedFiles)

	state, err := f.db.FindProject(5)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, miner.StatusDone, state.Status)
	assert.Equal(t, int64(2), state.RunID)
}

func TestIngestor_SecondRunReusesContent(t *testing.T) {
	f := newIngestFixture(t)
	f.vcs.AddRepo("https://example.com/a.git", testutil.NewFakeRepo("main").
		AddRevision("main", "a.js", "c1", 100, "shared body"))
	f.vcs.AddRepo("https://example.com/b.git", testutil.NewFakeRepo("main").
		AddRevision("main", "b.js", "d1", 100, "shared body").
		AddRevision("main", "c.js", "d1", 100, "new body"))

	in := f.ingestor(t, 1, 1)
	in.Start(context.Background())
	first := in.Add("https://example.com/a.git")
	in.Wait()

	in = f.ingestor(t, 2, 1)
	assert.Equal(t, int64(1), in.ContentStore().NextID())
	in.Start(context.Background())
	second := in.Add("https://example.com/b.git")
	in.Wait()

	assert.Greater(t, second.ID, first.ID, "project ids continue after the ledger maximum")

	rec := f.record(t, second.ID)
	require.Len(t, rec.Snapshots, 2)
	contents := map[string]int64{}
	for _, s := range rec.Snapshots {
		contents[s.Path] = s.Content
	}
	assert.Equal(t, int64(0), contents["b.js"])
	assert.Equal(t, int64(1), contents["c.js"])
	assert.Equal(t, 1, f.vault.ContentWrites(0))
}

func TestIngestor_Feed(t *testing.T) {
	f := newIngestFixture(t)
	for _, url := range []string{"https://example.com/a.git", "https://example.com/b.git"} {
		f.vcs.AddRepo(url, testutil.NewFakeRepo("main").AddRevision("main", "a.js", "c1", 100, url))
	}

	feed := strings.Join([]string{
		"https://example.com/a.git,10",
		"https://example.com/b.git",
		"https://example.com/c.git,not-a-number",
	}, "\n")

	in := f.ingestor(t, 1, 2)
	n, err := in.Feed(strings.NewReader(feed), "feed.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	in.Start(context.Background())
	summary := in.Wait()

	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, int64(2), summary.Completed)

	rec := f.record(t, 10)
	assert.Equal(t, "https://example.com/a.git", rec.URL)
	rec = f.record(t, 11)
	assert.Equal(t, "https://example.com/b.git", rec.URL)
}

func TestIngestor_CancelledRunDropsProjects(t *testing.T) {
	f := newIngestFixture(t)
	f.vcs.AddRepo("https://example.com/a.git", testutil.NewFakeRepo("main").AddRevision("main", "a.js", "c1", 100, "a"))

	in := f.ingestor(t, 1, 2)
	for i := 0; i < 3; i++ {
		in.Add("https://example.com/a.git")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in.Start(ctx)
	summary := in.Wait()

	assert.Equal(t, 3, summary.Dropped)
	assert.Equal(t, int64(0), summary.Completed)
	assert.Equal(t, 0, f.vcs.Calls("clone"))
}
