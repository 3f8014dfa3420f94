package audit

import (
	"context"
	"testing"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

func TestLoggerPersistsAndNotifies(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	var notified []string
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry.Event)
	})
	logger.Log(context.Background(), LevelWarn, "g1", "u1", EventTriggerDisabled, "trigger=hello")

	logs, err := store.ListAuditLogs(context.Background(), "g1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != EventTriggerDisabled {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if len(notified) != 1 {
		t.Fatalf("expected one notification, got %d", len(notified))
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Log(context.Background(), LevelInfo, "g1", "", EventRegexTimeout, "")
}
