package testutil

import (
	"miner-go/internal/miner"
	"miner-go/internal/vault"
)

// NewTestVault creates a new in-memory vault sharded by size.
func NewTestVault(shardSize int64) *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault", miner.NewSharder(shardSize))
}
