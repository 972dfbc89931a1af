package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"miner-go/internal/config"
	"miner-go/internal/database"
	"miner-go/internal/encryption"
	"miner-go/internal/metrics"
	"miner-go/internal/miner"
	"miner-go/internal/pattern"
	"miner-go/internal/vault"
	"miner-go/internal/vcs"
)

// LedgerMetadata is the vault metadata name of the uploaded ledger snapshot.
const LedgerMetadata = "ledger"

// MinerApp is the application layer between the CLI and the ingestor.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the ledger lifecycle on Close.
type MinerApp struct {
	cfg       *config.Config
	db        miner.Database
	vault     miner.Vault
	vcs       miner.VCS
	filter    *pattern.List
	encryptor miner.Encryptor
	logger    miner.Logger
	clock     miner.Clock
	ids       miner.IDGenerator
	op        *RunOperation
	logFile   *os.File
}

// NewMinerApp creates a fully wired MinerApp from the given config.
// operation identifies the CLI command being run (e.g. "Run", "History").
// The caller must call Close when done.
func NewMinerApp(cfg *config.Config, operation string) (*MinerApp, error) {
	v, err := vcs.NewVCSFromConfig(cfg.VCS)
	if err != nil {
		return nil, fmt.Errorf("creating vcs: %w", err)
	}
	return newMinerApp(cfg, operation, v)
}

func newMinerApp(cfg *config.Config, operation string, v miner.VCS) (*MinerApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	filter, err := pattern.NewFromConfig(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("creating filter: %w", err)
	}

	vlt, err := vault.NewVaultFromConfig(cfg.Vaults[0], miner.NewSharder(cfg.Miner.ShardSize))
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if err := vlt.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("validating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check local ledger version against the snapshot last uploaded to the vault.
	remoteVersion, err := vlt.GetMetadataVersion(LedgerMetadata)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}

	localMax, err := db.MaxRunID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}

	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local ledger is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &MinerApp{
		cfg:       cfg,
		db:        db,
		vault:     vlt,
		vcs:       v,
		filter:    filter,
		encryptor: enc,
		logger:    &slogAdapter{l: logger},
		clock:     miner.RealClock{},
		ids:       miner.UUIDGenerator{},
		op:        NewRunOperation(operation, ""),
		logFile:   logFile,
	}, nil
}

// persistOperation saves the run operation to the ledger, giving it an auto-increment ID.
// This should only be called for ledger-mutating commands.
func (a *MinerApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	run, err := a.db.CreateRun(a.ids.New(), a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	a.op.ID = run.ID
	return nil
}

// RunFeed mines every project listed in the CSV feed at feedPath.
// workers overrides the configured worker count when positive.
// Failed projects do not fail the run; they are listed in the summary and in
// stats/failed-<run>.csv.
func (a *MinerApp) RunFeed(ctx context.Context, feedPath string, workers int) (*miner.Summary, error) {
	f, err := os.Open(feedPath)
	if err != nil {
		return nil, fmt.Errorf("opening feed: %w", err)
	}
	defer f.Close()
	return a.Run(ctx, f, feedPath, workers)
}

// Run mines every project read from the CSV feed r. source names the feed in logs.
func (a *MinerApp) Run(ctx context.Context, r io.Reader, source string, workers int) (*miner.Summary, error) {
	if a.encryptor != nil && !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys missing: run `miner keys init` first")
	}
	timeout, err := a.cfg.Miner.Timeout()
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = a.cfg.Miner.Workers
	}

	if err := a.persistOperation(source); err != nil {
		return nil, err
	}

	reg := metrics.New(a.op.ID)
	in := miner.NewIngestor(miner.Dependencies{
		VCS:       a.vcs,
		Filter:    a.filter,
		Vault:     a.vault,
		Database:  a.db,
		Encryptor: a.encryptor,
		Logger:    a.logger,
		Metrics:   reg,
		Clock:     a.clock,
	}, miner.Options{
		Workers:    workers,
		TempDir:    a.cfg.TempDir(),
		Timeout:    timeout,
		CloneRate:  a.cfg.Miner.CloneRate,
		CloneBurst: a.cfg.Miner.CloneBurst,
		ShardSize:  a.cfg.Miner.ShardSize,
		RunID:      a.op.ID,
	})

	if err := in.Initialize(); err != nil {
		a.op.Status = StatusError
		return nil, fmt.Errorf("initializing ingestor: %w", err)
	}
	if _, err := in.Feed(r, source); err != nil {
		a.op.Status = StatusError
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	a.logger.Info("run started", "run", a.op.ID, "feed", source, "workers", workers)
	in.Start(ctx)
	summary := in.Wait()
	a.op.Record(summary)

	if err := a.writeStats(summary, reg); err != nil {
		return summary, err
	}
	return summary, nil
}

// writeStats writes the failure feed and the metrics textfile of the current run.
func (a *MinerApp) writeStats(s *miner.Summary, reg *metrics.Registry) error {
	dir := a.cfg.StatsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating stats directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("failed-%d.csv", s.RunID))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating failure feed: %w", err)
	}
	if err := miner.WriteFeed(f, s.Failures); err != nil {
		f.Close()
		return fmt.Errorf("writing failure feed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing failure feed: %w", err)
	}

	if err := reg.WriteTextfile(filepath.Join(dir, fmt.Sprintf("run-%d.prom", s.RunID))); err != nil {
		return fmt.Errorf("writing run metrics: %w", err)
	}
	return nil
}

// History returns the most recent runs, newest first.
func (a *MinerApp) History(limit int) ([]*miner.Run, error) {
	return a.db.ListRuns(limit)
}

// Failures returns the failures of runID, or of the latest run when runID is 0.
func (a *MinerApp) Failures(runID int64) (int64, []*miner.Failure, error) {
	if runID == 0 {
		latest, err := a.db.MaxRunID()
		if err != nil {
			return 0, nil, err
		}
		runID = latest
	}
	failures, err := a.db.ListFailures(runID)
	if err != nil {
		return runID, nil, err
	}
	return runID, failures, nil
}

// Content returns the ledger record of content id.
func (a *MinerApp) Content(id int64) (*miner.ContentRecord, error) {
	rec, err := a.db.FindContent(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("content %d not found", id)
	}
	return rec, nil
}

// WriteContent copies the body of content id to w, decrypting it when it was stored
// encrypted. passphrase is only called for encrypted bodies.
func (a *MinerApp) WriteContent(id int64, passphrase func() (string, error), w io.Writer) error {
	rec, err := a.Content(id)
	if err != nil {
		return err
	}
	if !rec.Encrypted {
		return a.vault.GetContent(id, w)
	}

	if a.encryptor == nil {
		return fmt.Errorf("content %d is encrypted but encryption is disabled", id)
	}
	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	dc, err := a.encryptor.Unlock(pass)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.vault.GetContent(id, pw))
	}()
	if err := dc.Decrypt(pr, w); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("decrypting content %d: %w", id, err)
	}
	return nil
}

// Project returns the ledger state of project id, or nil if it was never mined.
func (a *MinerApp) Project(id int64) (*miner.ProjectState, error) {
	return a.db.FindProject(id)
}

// WriteProject copies the stored record of project id to w.
func (a *MinerApp) WriteProject(id int64, w io.Writer) error {
	return a.vault.GetProject(id, w)
}

// InitKeys generates the age key pair configured in cfg, protected by passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled in the config")
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	return enc.Setup(passphrase)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the run record, snapshots the ledger, and uploads it to the vault.
// For non-persisted operations: just closes the database.
func (a *MinerApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishRun(a.op.ID, a.op.Status, a.op.Stats); err != nil {
			firstErr = fmt.Errorf("finishing run: %w", err)
		}

		// Snapshot the ledger to a temp file
		tmpFile, err := os.CreateTemp("", "miner-ledger-*.db")
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("creating temp file for ledger backup: %w", err)
			}
		}

		var tmpPath string
		if tmpFile != nil {
			tmpPath = tmpFile.Name()
			tmpFile.Close()

			if err := a.db.BackupTo(tmpPath); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("backing up ledger: %w", err)
				}
				tmpPath = ""
			}
		}

		if err := a.db.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("closing database: %w", err)
			}
		}

		// Upload the snapshot with version = run ID
		if tmpPath != "" {
			if err := a.uploadMetadata(tmpPath, a.op.ID); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
			os.Remove(tmpPath)
		}
	} else {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// uploadMetadata opens the ledger snapshot and uploads it to the vault as metadata.
func (a *MinerApp) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening ledger backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger backup: %w", err)
	}

	if err := a.vault.PutMetadata(LedgerMetadata, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}

	return nil
}
