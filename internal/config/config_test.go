package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("prefixes: [\"?\", \"!!\"]\nrole: secondary\ntriggers:\n  regex_timeout: 250ms\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("MODLOG_BULK_QUIET", "3s")
	t.Setenv("OWNER_IDS", "1, 2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Prefixes[0] != "?" || len(cfg.Prefixes) != 2 {
		t.Fatalf("unexpected prefixes: %v", cfg.Prefixes)
	}
	if cfg.IsPrimary() {
		t.Fatalf("expected secondary role")
	}
	if cfg.Triggers.RegexTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected regex timeout: %s", cfg.Triggers.RegexTimeout)
	}
	if cfg.Modlog.BulkQuiet != 3*time.Second {
		t.Fatalf("unexpected bulk quiet: %s", cfg.Modlog.BulkQuiet)
	}
	if len(cfg.OwnerIDs) != 2 || cfg.OwnerIDs[1] != "2" {
		t.Fatalf("unexpected owners: %v", cfg.OwnerIDs)
	}
	if cfg.Triggers.FlushInterval != 45*time.Second {
		t.Fatalf("expected default flush interval, got %s", cfg.Triggers.FlushInterval)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestValidateRejectsBadCron(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Starboard.JanitorCron = "not a cron"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected cron validation error")
	}
}
