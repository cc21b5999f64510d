package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "project:\n  name: midnight\nwallets:\n  - addr1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scheduler.NumThreads != 4 {
		t.Fatalf("expected default num_threads 4, got %d", cfg.Scheduler.NumThreads)
	}
	if len(cfg.Mining.SearchBatchSizes) != 5 {
		t.Fatalf("expected 5 default batch sizes, got %d", len(cfg.Mining.SearchBatchSizes))
	}
}

func TestValidateRejectsEmptyWallets(t *testing.T) {
	cfg := &Config{Project: ProjectConfig{Name: "midnight"}, Tracker: TrackerConfig{Path: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty wallet list")
	}
}

func TestValidateRejectsUnknownProject(t *testing.T) {
	cfg := &Config{Project: ProjectConfig{Name: "bogus"}, Wallets: []string{"a"}, Tracker: TrackerConfig{Path: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown project")
	}
}

func TestValidateRejectsPreSizeLargerThanSize(t *testing.T) {
	cfg := &Config{
		Project: ProjectConfig{Name: "midnight"},
		Wallets: []string{"a"},
		Tracker: TrackerConfig{Path: "x"},
		Rom:     RomConfig{SizeBytes: 10, PreSizeBytes: 20},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for pre_size > size")
	}
}
