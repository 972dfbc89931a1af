package app

import "miner-go/internal/miner"

// Run statuses written to the ledger when an operation finishes.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// RunOperation tracks a CLI operation that may mutate the ledger.
// Operations are created in memory with ID=0. Only ledger-mutating commands
// persist them (giving them an auto-increment ID from the database).
type RunOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	Stats      miner.RunStats
}

// NewRunOperation creates a new in-memory run operation.
func NewRunOperation(operation, parameters string) *RunOperation {
	return &RunOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the ledger.
func (op *RunOperation) Persisted() bool {
	return op.ID != 0
}

// Record copies the totals of a finished ingestor run into the operation.
func (op *RunOperation) Record(s *miner.Summary) {
	op.Stats = miner.RunStats{
		Projects: int64(s.Scheduled),
		Failed:   int64(len(s.Failures)),
		Contents: int64(s.Contents),
	}
	if s.Dropped > 0 {
		op.Status = StatusCancelled
	}
}
