package app

import (
	"testing"

	"miner-go/internal/miner"
)

func TestNewRunOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "Run",
			parameters: "feeds/npm.csv",
		},
		{
			name:       "empty parameters",
			operation:  "History",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewRunOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != StatusSuccess {
				t.Errorf("Status = %q, want %q", op.Status, StatusSuccess)
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestRunOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
		{name: "persisted when ID is large", id: 99999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &RunOperation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunOperation_Record(t *testing.T) {
	tests := []struct {
		name       string
		summary    *miner.Summary
		wantStats  miner.RunStats
		wantStatus string
	}{
		{
			name: "complete run",
			summary: &miner.Summary{
				Scheduled: 5,
				Completed: 4,
				Failures:  []*miner.Failure{{URL: "https://example.com/x.git"}},
				Contents:  12,
			},
			wantStats:  miner.RunStats{Projects: 5, Failed: 1, Contents: 12},
			wantStatus: StatusSuccess,
		},
		{
			name:       "interrupted run",
			summary:    &miner.Summary{Scheduled: 3, Dropped: 2},
			wantStats:  miner.RunStats{Projects: 3},
			wantStatus: StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewRunOperation("Run", "")
			op.Record(tt.summary)
			if op.Stats != tt.wantStats {
				t.Errorf("Stats = %+v, want %+v", op.Stats, tt.wantStats)
			}
			if op.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", op.Status, tt.wantStatus)
			}
		})
	}
}
