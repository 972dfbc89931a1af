package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for miner.
type Config struct {
	OutputPath string           `toml:"output_path"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Miner      MinerConfig      `toml:"miner"`
	VCS        VCSConfig        `toml:"vcs"`
	Filter     FilterConfig     `toml:"filter"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
}

// MinerConfig holds the settings of the mining pipeline.
type MinerConfig struct {
	Workers        int     `toml:"workers"`
	CommandTimeout string  `toml:"command_timeout"` // Go duration; bounds every VCS call, empty disables
	CloneRate      float64 `toml:"clone_rate"`      // clones per second; 0 disables the limiter
	CloneBurst     int     `toml:"clone_burst"`
	ShardSize      int64   `toml:"shard_size"`
}

// Timeout parses CommandTimeout. An empty value means no timeout.
func (c MinerConfig) Timeout() (time.Duration, error) {
	if c.CommandTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing command_timeout: %w", err)
	}
	return d, nil
}

// VCSConfig selects the version control backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VCSConfig struct {
	Type            string `toml:"type"`                        // "git" (default) or "go-git"
	GitBinary       string `toml:"git_binary,omitempty"`        // only used for type=git
	CommitCacheSize int    `toml:"commit_cache_size,omitempty"` // only used for type=go-git
}

// FilterConfig selects the files that are mined.
type FilterConfig struct {
	Preset string   `toml:"preset"` // "javascript", "go", "python", "java" or empty
	Accept []string `toml:"accept"`
	Deny   []string `toml:"deny"`
}

// EncryptionConfig holds paths to the age key pair used for encryption at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "minio"
	Name string `toml:"name"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Minio-specific fields (only used when Type == "minio")
	MinioEndpoint  string `toml:"minio_endpoint,omitempty"`
	MinioBucket    string `toml:"minio_bucket,omitempty"`
	MinioPrefix    string `toml:"minio_prefix,omitempty"`
	MinioRegion    string `toml:"minio_region,omitempty"`
	MinioAccessKey string `toml:"minio_access_key,omitempty"`
	MinioSecretKey string `toml:"minio_secret_key,omitempty"`
	MinioUseSSL    bool   `toml:"minio_use_ssl,omitempty"`
}

// DatabaseConfig represents configuration for the ledger database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config rooted at outputPath with default settings.
func NewConfig(outputPath string) *Config {
	return &Config{
		OutputPath: outputPath,
		LogDir:     filepath.Join(outputPath, "log"),
		LogLevel:   "info",
		Miner: MinerConfig{
			Workers:        4,
			CommandTimeout: "10m",
			CloneBurst:     1,
			ShardSize:      1000,
		},
		VCS: VCSConfig{
			Type:            "git",
			GitBinary:       "git",
			CommitCacheSize: 1024,
		},
		Filter: FilterConfig{Preset: "javascript"},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: outputPath},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(outputPath, "keys", "miner.pub"),
			PrivateKeyPath: filepath.Join(outputPath, "keys", "miner.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(outputPath, "db"),
		},
	}
}

// TempDir returns the directory holding clones in progress.
func (c *Config) TempDir() string {
	return filepath.Join(c.OutputPath, "temp")
}

// StatsDir returns the directory holding per-run statistics.
func (c *Config) StatsDir() string {
	return filepath.Join(c.OutputPath, "stats")
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("output_path must be set")
	}
	if c.Miner.Workers <= 0 {
		return fmt.Errorf("miner.workers must be positive, got %d", c.Miner.Workers)
	}
	if _, err := c.Miner.Timeout(); err != nil {
		return err
	}
	if c.Miner.CloneRate < 0 {
		return fmt.Errorf("miner.clone_rate must not be negative")
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("at least one vault must be configured")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
