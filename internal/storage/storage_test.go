package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAuditLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []AuditLog{
		{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "trigger_fired", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", UserID: "u2", Level: "WARN", Event: "trigger_disabled", CreatedAt: now},
		{GuildID: "g2", UserID: "u3", Level: "INFO", Event: "trigger_fired", CreatedAt: now},
		{GuildID: "g1", UserID: "u4", Level: "INFO", Event: "old", CreatedAt: now.AddDate(0, 0, -60)},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	logs, err := store.ListAuditLogs(ctx, "g1", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Event != "trigger_disabled" {
		t.Fatalf("expected newest first, got %q", logs[0].Event)
	}

	if err := store.CleanupAuditLogs(ctx, 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	logs, err = store.ListAuditLogs(ctx, "g1", time.Time{})
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected old entry removed, got %d logs", len(logs))
	}
}

func TestArchiveBundles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	bundle := ArchiveBundle{
		URL:          "https://logs.example/abc",
		GuildID:      "g1",
		ChannelID:    "c1",
		MessageCount: 3,
		Size:         120,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := store.AddArchiveBundle(ctx, bundle); err != nil {
		t.Fatalf("add bundle: %v", err)
	}
	expired := bundle
	expired.URL = "https://logs.example/old"
	expired.CreatedAt = now.Add(-48 * time.Hour)
	expired.ExpiresAt = now.Add(-time.Hour)
	if err := store.AddArchiveBundle(ctx, expired); err != nil {
		t.Fatalf("add expired bundle: %v", err)
	}

	removed, err := store.PurgeExpiredBundles(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged bundle, got %d", removed)
	}

	bundles, err := store.ListArchiveBundles(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	if len(bundles) != 1 || bundles[0].MessageCount != 3 {
		t.Fatalf("unexpected bundles: %+v", bundles)
	}
}
