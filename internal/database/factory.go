package database

import (
	"fmt"
	"os"
	"path/filepath"

	"miner-go/internal/config"
	"miner-go/internal/miner"
)

// LedgerFile is the name of the sqlite ledger inside the data directory.
const LedgerFile = "ledger.db"

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// The returned database is migrated to the latest schema.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (miner.Database, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(cfg.DataDir, LedgerFile)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}
