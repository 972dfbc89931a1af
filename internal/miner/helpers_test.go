package miner_test

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"miner-go/internal/database"
	"miner-go/internal/miner"
	"miner-go/internal/pattern"
	"miner-go/internal/vault"
)

// countingMetrics records every counter in memory.
type countingMetrics struct {
	mu       sync.Mutex
	projects map[string]int

	visited      atomic.Int64
	skipped      atomic.Int64
	snapshots    atomic.Int64
	stored       atomic.Int64
	storedBytes  atomic.Int64
	deduplicated atomic.Int64
	clones       atomic.Int64
	sealed       atomic.Int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{projects: make(map[string]int)}
}

func (m *countingMetrics) ProjectFinished(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[status]++
}

func (m *countingMetrics) Projects(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[status]
}

func (m *countingMetrics) BranchVisited()       { m.visited.Add(1) }
func (m *countingMetrics) BranchSkipped()       { m.skipped.Add(1) }
func (m *countingMetrics) SnapshotRecorded()    { m.snapshots.Add(1) }
func (m *countingMetrics) ContentDeduplicated() { m.deduplicated.Add(1) }
func (m *countingMetrics) CloneMeasured(int64)  { m.clones.Add(1) }
func (m *countingMetrics) ShardSealed()         { m.sealed.Add(1) }

func (m *countingMetrics) ContentStored(size int64) {
	m.stored.Add(1)
	m.storedBytes.Add(size)
}

var (
	errVaultDown  = errors.New("vault unavailable")
	errLedgerDown = errors.New("ledger unavailable")
)

// flakyVault fails the next failures content writes, then delegates.
type flakyVault struct {
	*vault.MemoryVault
	failures atomic.Int64
}

func newFlakyVault(failures int64) *flakyVault {
	v := &flakyVault{MemoryVault: vault.NewMemoryVault("flaky", miner.NewSharder(0))}
	v.failures.Store(failures)
	return v
}

func (v *flakyVault) PutContent(id int64, r io.Reader, size int64) error {
	if v.failures.Add(-1) >= 0 {
		return errVaultDown
	}
	return v.MemoryVault.PutContent(id, r, size)
}

// failingLedger fails the next failures content records, then delegates.
type failingLedger struct {
	*database.SQLiteDatabase
	failures atomic.Int64
}

func newFailingLedger(db *database.SQLiteDatabase, failures int64) *failingLedger {
	l := &failingLedger{SQLiteDatabase: db}
	l.failures.Store(failures)
	return l
}

func (l *failingLedger) RecordContent(c *miner.ContentRecord) error {
	if l.failures.Add(-1) >= 0 {
		return errLedgerDown
	}
	return l.SQLiteDatabase.RecordContent(c)
}

func newFilter(t *testing.T) *pattern.List {
	t.Helper()
	l, err := pattern.New([]string{"*.js", "*.txt"}, []string{"node_modules/**", "**/node_modules/**"})
	require.NoError(t, err)
	return l
}
