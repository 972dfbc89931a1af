package vault

import (
	"fmt"
	"os"

	"miner-go/internal/config"
	"miner-go/internal/miner"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
// Missing minio credentials are taken from MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
func NewVaultFromConfig(cfg config.VaultConfig, sharder miner.Sharder) (miner.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name, sharder), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot, sharder)
	case "s3":
		return NewS3Vault(cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, sharder)
	case "minio":
		opts := MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			Prefix:    cfg.MinioPrefix,
			Region:    cfg.MinioRegion,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		}
		if opts.AccessKey == "" {
			opts.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
		}
		if opts.SecretKey == "" {
			opts.SecretKey = os.Getenv("MINIO_SECRET_KEY")
		}
		return NewMinioVault(cfg.Name, opts, sharder)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
