package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"miner-go/internal/config"
	"miner-go/internal/miner"
	"miner-go/internal/testutil"
	"miner-go/internal/vault"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.LogLevel = "error"
	return cfg
}

func newTestVCS() *testutil.FakeVCS {
	v := testutil.NewFakeVCS()
	v.AddRepo("https://example.com/a.git", testutil.NewFakeRepo("main").
		AddRevision("main", "index.js", "c1", 100, "console.log(1)").
		AddRevision("main", "index.js", "c2", 200, "console.log(2)"))
	v.AddRepo("https://example.com/b.git", testutil.NewFakeRepo("main").
		AddRevision("main", "lib/util.js", "d1", 100, "console.log(1)"))
	return v
}

func openTestApp(t *testing.T, cfg *config.Config, operation string, v miner.VCS) *MinerApp {
	t.Helper()
	a, err := newMinerApp(cfg, operation, v)
	if err != nil {
		t.Fatalf("newMinerApp() error = %v", err)
	}
	return a
}

const testFeed = "https://example.com/a.git\nhttps://example.com/b.git,7\nhttps://example.com/missing.git\n"

func TestMinerApp_Run(t *testing.T) {
	cfg := newTestConfig(t)
	a := openTestApp(t, cfg, "Run", newTestVCS())

	summary, err := a.Run(context.Background(), strings.NewReader(testFeed), "feed.csv", 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Scheduled != 3 {
		t.Errorf("Scheduled = %d, want 3", summary.Scheduled)
	}
	if summary.Completed != 2 {
		t.Errorf("Completed = %d, want 2", summary.Completed)
	}
	if len(summary.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(summary.Failures))
	}
	if summary.Contents != 2 {
		t.Errorf("Contents = %d, want 2", summary.Contents)
	}

	runID := a.op.ID
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	failed, err := os.ReadFile(filepath.Join(cfg.StatsDir(), "failed-1.csv"))
	if err != nil {
		t.Fatalf("reading failure feed: %v", err)
	}
	if !strings.HasPrefix(string(failed), "https://example.com/missing.git,") {
		t.Errorf("failure feed = %q", failed)
	}
	prom, err := os.ReadFile(filepath.Join(cfg.StatsDir(), "run-1.prom"))
	if err != nil {
		t.Fatalf("reading run metrics: %v", err)
	}
	if !strings.Contains(string(prom), "miner_contents_stored_total") {
		t.Errorf("run metrics missing contents counter:\n%s", prom)
	}

	// The ledger snapshot was uploaded with the run id as version.
	v, err := vault.NewFileSystemVault("check", cfg.OutputPath, miner.NewSharder(cfg.Miner.ShardSize))
	if err != nil {
		t.Fatalf("opening vault: %v", err)
	}
	version, err := v.GetMetadataVersion(LedgerMetadata)
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if version != runID {
		t.Errorf("ledger version = %d, want %d", version, runID)
	}

	// A second app sees the finished run.
	b := openTestApp(t, cfg, "History", newTestVCS())
	defer b.Close()

	runs, err := b.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("History() = %d runs, want 1", len(runs))
	}
	if runs[0].Status != StatusSuccess || runs[0].Projects != 3 || runs[0].Failed != 1 || runs[0].Contents != 2 {
		t.Errorf("run = %+v", runs[0])
	}

	gotRun, failures, err := b.Failures(0)
	if err != nil {
		t.Fatalf("Failures() error = %v", err)
	}
	if gotRun != runID || len(failures) != 1 || failures[0].URL != "https://example.com/missing.git" {
		t.Errorf("Failures() = %d, %+v", gotRun, failures)
	}

	state, err := b.Project(7)
	if err != nil {
		t.Fatalf("Project() error = %v", err)
	}
	if state == nil || state.Status != miner.StatusDone {
		t.Errorf("Project(7) = %+v", state)
	}

	var rec bytes.Buffer
	if err := b.WriteProject(7, &rec); err != nil {
		t.Fatalf("WriteProject() error = %v", err)
	}
	if !strings.Contains(rec.String(), "https://example.com/b.git") {
		t.Errorf("project record = %q", rec.String())
	}
}

func TestMinerApp_ReadOnlyOperationDoesNotUpload(t *testing.T) {
	cfg := newTestConfig(t)
	a := openTestApp(t, cfg, "History", newTestVCS())

	if _, err := a.History(5); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputPath, "metadata", LedgerMetadata+".db")); !os.IsNotExist(err) {
		t.Errorf("ledger snapshot should not be uploaded, stat error = %v", err)
	}
}

func TestMinerApp_WriteContent(t *testing.T) {
	tests := []struct {
		name       string
		encryption string
		wantPrompt bool
	}{
		{name: "plaintext", encryption: "none", wantPrompt: false},
		{name: "encrypted", encryption: "test", wantPrompt: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Encryption.Type = tt.encryption
			cfg.Vaults = []config.VaultConfig{{Type: "memory", Name: "mem"}}
			cfg.Database = config.DatabaseConfig{Type: "memory"}

			a := openTestApp(t, cfg, "Run", newTestVCS())
			defer a.Close()

			if _, err := a.Run(context.Background(), strings.NewReader("https://example.com/b.git\n"), "feed.csv", 1); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			rec, err := a.Content(0)
			if err != nil {
				t.Fatalf("Content() error = %v", err)
			}
			if rec.Encrypted != tt.wantPrompt {
				t.Errorf("Encrypted = %v, want %v", rec.Encrypted, tt.wantPrompt)
			}

			prompted := false
			var out bytes.Buffer
			err = a.WriteContent(0, func() (string, error) {
				prompted = true
				return "secret", nil
			}, &out)
			if err != nil {
				t.Fatalf("WriteContent() error = %v", err)
			}
			if got := out.String(); got != "console.log(1)" {
				t.Errorf("content = %q, want %q", got, "console.log(1)")
			}
			if prompted != tt.wantPrompt {
				t.Errorf("prompted = %v, want %v", prompted, tt.wantPrompt)
			}
		})
	}
}

func TestMinerApp_ContentNotFound(t *testing.T) {
	cfg := newTestConfig(t)
	a := openTestApp(t, cfg, "ContentShow", newTestVCS())
	defer a.Close()

	if _, err := a.Content(42); err == nil {
		t.Error("Content() expected error for unknown id")
	}
}

func TestMinerApp_RunRequiresKeys(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Encryption.Type = "age"
	a := openTestApp(t, cfg, "Run", newTestVCS())
	defer a.Close()

	_, err := a.Run(context.Background(), strings.NewReader(testFeed), "feed.csv", 1)
	if err == nil || !strings.Contains(err.Error(), "keys init") {
		t.Errorf("Run() error = %v, want missing keys", err)
	}
	if a.op.Persisted() {
		t.Error("operation should not be persisted when the run cannot start")
	}
}

func TestMinerApp_RejectsLedgerBehindVault(t *testing.T) {
	cfg := newTestConfig(t)

	v, err := vault.NewFileSystemVault("local", cfg.OutputPath, miner.NewSharder(cfg.Miner.ShardSize))
	if err != nil {
		t.Fatalf("opening vault: %v", err)
	}
	if err := v.PutMetadata(LedgerMetadata, strings.NewReader("x"), 1, 3); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	if _, err := newMinerApp(cfg, "Run", newTestVCS()); err == nil {
		t.Error("newMinerApp() expected error when ledger is behind the vault")
	}
}

func TestNewMinerApp_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{name: "no vaults", modify: func(c *config.Config) { c.Vaults = nil }},
		{name: "bad log level", modify: func(c *config.Config) { c.LogLevel = "loud" }},
		{name: "bad vcs", modify: func(c *config.Config) { c.VCS.Type = "svn" }},
		{name: "empty filter", modify: func(c *config.Config) { c.Filter = config.FilterConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.modify(cfg)
			if _, err := NewMinerApp(cfg, "Run"); err == nil {
				t.Error("NewMinerApp() expected error")
			}
		})
	}
}

func TestInitKeys(t *testing.T) {
	cfg := newTestConfig(t)

	cfg.Encryption.Type = "none"
	if err := InitKeys(cfg, "pass"); err == nil {
		t.Error("InitKeys() expected error with encryption disabled")
	}

	cfg.Encryption.Type = "age"
	if err := InitKeys(cfg, "pass"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if _, err := os.Stat(cfg.Encryption.PublicKeyPath); err != nil {
		t.Errorf("public key not written: %v", err)
	}
	if err := InitKeys(cfg, "pass"); err == nil {
		t.Error("InitKeys() expected error when keys exist")
	}
}
