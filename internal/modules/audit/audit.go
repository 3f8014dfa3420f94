package audit

import (
	"context"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Events written to the durable trail.
const (
	EventTriggerCreated   = "trigger_created"
	EventTriggerRemoved   = "trigger_removed"
	EventTriggerDisabled  = "trigger_disabled"
	EventTriggerReenabled = "trigger_reenabled"
	EventRegexTimeout     = "regex_timeout"
	EventBulkArchived     = "bulk_archived"
	EventReactRoleCulled  = "reactrole_culled"
	EventReactRoleChanged = "reactrole_changed"
	EventStarboardChanged = "starboard_changed"
	EventStarboardPurged  = "starboard_purged"
	EventSettingsChanged  = "settings_changed"
)

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	store  Sink
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store Sink, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	fields := []zap.Field{zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details)}
	if level == LevelInfo {
		l.logger.Info("audit", fields...)
		return
	}
	l.logger.Warn("audit", fields...)
}
