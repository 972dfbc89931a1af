package encryption

import (
	"fmt"

	"miner-go/internal/config"
	"miner-go/internal/miner"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns a nil Encryptor for type "none": bodies are then stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (miner.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
