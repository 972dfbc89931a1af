package miner

// Project outcome labels reported to Metrics.ProjectFinished and stored in the ledger.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Metrics receives pipeline counters. Implementations must be safe for concurrent use.
type Metrics interface {
	ProjectFinished(status string)
	BranchVisited()
	BranchSkipped()
	SnapshotRecorded()
	ContentStored(size int64)
	ContentDeduplicated()
	CloneMeasured(size int64)
	ShardSealed()
}

// NopMetrics discards all counters.
type NopMetrics struct{}

func (NopMetrics) ProjectFinished(string) {}
func (NopMetrics) BranchVisited()         {}
func (NopMetrics) BranchSkipped()         {}
func (NopMetrics) SnapshotRecorded()      {}
func (NopMetrics) ContentStored(int64)    {}
func (NopMetrics) ContentDeduplicated()   {}
func (NopMetrics) CloneMeasured(int64)    {}
func (NopMetrics) ShardSealed()           {}
