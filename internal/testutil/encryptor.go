package testutil

import (
	"miner-go/internal/encryption"
	"miner-go/internal/miner"
)

// NewTestEncryptor returns the header-prefixing encryptor used in tests.
func NewTestEncryptor() miner.Encryptor {
	return encryption.NewTestEncryptor()
}
