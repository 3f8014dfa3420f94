package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

type Config struct {
	DiscordToken     string          `yaml:"discord_token"`
	LogLevel         string          `yaml:"log_level"`
	OwnerIDs         []string        `yaml:"owner_ids"`
	Prefixes         []string        `yaml:"prefixes"`
	Role             string          `yaml:"role"`
	DatabasePath     string          `yaml:"database_path"`
	KVPath           string          `yaml:"kv_path"`
	RedisURL         string          `yaml:"redis_url"`
	PostgresURL      string          `yaml:"postgres_url"`
	RetentionDays    int             `yaml:"retention_days"`
	MessageCacheSize int             `yaml:"message_cache_size"`
	Health           HealthConfig    `yaml:"health"`
	Bus              BusConfig       `yaml:"bus"`
	Triggers         TriggerConfig   `yaml:"triggers"`
	Modlog           ModlogConfig    `yaml:"modlog"`
	Starboard        StarboardConfig `yaml:"starboard"`
	Notifications    NotifyConfig    `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

type BusConfig struct {
	Lanes      int `yaml:"lanes"`
	LaneBuffer int `yaml:"lane_buffer"`
}

type TriggerConfig struct {
	ImageDir         string        `yaml:"image_dir"`
	RegexTimeout     time.Duration `yaml:"regex_timeout"`
	BypassTimeout    time.Duration `yaml:"bypass_timeout"`
	Workers          int           `yaml:"workers"`
	MemoTTL          time.Duration `yaml:"memo_ttl"`
	MemoSize         int           `yaml:"memo_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	AggressiveWindow time.Duration `yaml:"aggressive_window"`
	AggressiveLimit  int           `yaml:"aggressive_limit"`
}

type ModlogConfig struct {
	BulkQuiet      time.Duration `yaml:"bulk_quiet"`
	ArchiveURL     string        `yaml:"archive_url"`
	ArchiveToken   string        `yaml:"archive_token"`
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`
	ArchiveExpiry  time.Duration `yaml:"archive_expiry"`
	ArchivePurge   string        `yaml:"archive_purge_cron"`
	SyncChannel    string        `yaml:"sync_channel"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	AuditLookupRPS float64       `yaml:"audit_lookup_rps"`
}

type StarboardConfig struct {
	JanitorCron    string `yaml:"janitor_cron"`
	RetentionDays  int    `yaml:"retention_days"`
	ReconcileLimit int    `yaml:"reconcile_limit"`
}

type NotifyConfig struct {
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		Prefixes:         []string{"!"},
		Role:             RolePrimary,
		DatabasePath:     "/data/guildkeeper.db",
		KVPath:           "/data/kv",
		RetentionDays:    30,
		MessageCacheSize: 5000,
		Health:           HealthConfig{Enabled: false, Addr: ":8080", Metrics: true},
		Bus:              BusConfig{Lanes: 16, LaneBuffer: 256},
		Triggers: TriggerConfig{
			ImageDir:         "/data/images",
			RegexTimeout:     time.Second,
			BypassTimeout:    10 * time.Second,
			Workers:          4,
			MemoTTL:          2 * time.Minute,
			MemoSize:         4096,
			FlushInterval:    45 * time.Second,
			ActionTimeout:    60 * time.Second,
			AggressiveWindow: 10 * time.Minute,
			AggressiveLimit:  3,
		},
		Modlog: ModlogConfig{
			BulkQuiet:      8 * time.Second,
			ArchiveTimeout: 120 * time.Second,
			ArchiveExpiry:  365 * 24 * time.Hour,
			ArchivePurge:   "0 4 * * *",
			SyncChannel:    "trigger_modlog_sync",
			SyncInterval:   5 * time.Minute,
			AuditLookupRPS: 2,
		},
		Starboard: StarboardConfig{JanitorCron: "0 * * * *", RetentionDays: 0, ReconcileLimit: 25},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	cfg.Role = normalizeRole(cfg.Role)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Prefixes) == 0 {
		return errors.New("at least one prefix is required")
	}
	if c.Triggers.RegexTimeout <= 0 || c.Triggers.BypassTimeout <= 0 {
		return errors.New("regex timeouts must be positive")
	}
	if c.Triggers.Workers <= 0 {
		return errors.New("triggers.workers must be positive")
	}
	if c.Modlog.BulkQuiet <= 0 || c.Modlog.ArchiveTimeout <= 0 {
		return errors.New("modlog durations must be positive")
	}
	if !gronx.IsValid(c.Starboard.JanitorCron) {
		return fmt.Errorf("invalid starboard janitor cron: %s", c.Starboard.JanitorCron)
	}
	if !gronx.IsValid(c.Modlog.ArchivePurge) {
		return fmt.Errorf("invalid archive purge cron: %s", c.Modlog.ArchivePurge)
	}
	return nil
}

func (c Config) IsPrimary() bool {
	return c.Role != RoleSecondary
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.OwnerIDs = envList("OWNER_IDS", cfg.OwnerIDs)
	cfg.Prefixes = envList("PREFIXES", cfg.Prefixes)
	cfg.Role = envString("ROLE", cfg.Role)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.KVPath = envString("KV_PATH", cfg.KVPath)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.PostgresURL = envString("POSTGRES_URL", cfg.PostgresURL)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.MessageCacheSize = envInt("MESSAGE_CACHE_SIZE", cfg.MessageCacheSize)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.Metrics = envBool("HEALTH_METRICS", cfg.Health.Metrics)
	cfg.Bus.Lanes = envInt("BUS_LANES", cfg.Bus.Lanes)
	cfg.Triggers.ImageDir = envString("TRIGGER_IMAGE_DIR", cfg.Triggers.ImageDir)
	cfg.Triggers.RegexTimeout = envDuration("TRIGGER_REGEX_TIMEOUT", cfg.Triggers.RegexTimeout)
	cfg.Triggers.Workers = envInt("TRIGGER_WORKERS", cfg.Triggers.Workers)
	cfg.Triggers.FlushInterval = envDuration("TRIGGER_FLUSH_INTERVAL", cfg.Triggers.FlushInterval)
	cfg.Triggers.ActionTimeout = envDuration("TRIGGER_ACTION_TIMEOUT", cfg.Triggers.ActionTimeout)
	cfg.Modlog.BulkQuiet = envDuration("MODLOG_BULK_QUIET", cfg.Modlog.BulkQuiet)
	cfg.Modlog.ArchiveURL = envString("ARCHIVE_URL", cfg.Modlog.ArchiveURL)
	cfg.Modlog.ArchiveToken = envString("ARCHIVE_TOKEN", cfg.Modlog.ArchiveToken)
	cfg.Modlog.ArchiveTimeout = envDuration("ARCHIVE_TIMEOUT", cfg.Modlog.ArchiveTimeout)
	cfg.Modlog.SyncChannel = envString("MODLOG_SYNC_CHANNEL", cfg.Modlog.SyncChannel)
	cfg.Modlog.SyncInterval = envDuration("MODLOG_SYNC_INTERVAL", cfg.Modlog.SyncInterval)
	cfg.Starboard.JanitorCron = envString("STARBOARD_JANITOR_CRON", cfg.Starboard.JanitorCron)
	cfg.Starboard.RetentionDays = envInt("STARBOARD_RETENTION_DAYS", cfg.Starboard.RetentionDays)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func normalizeRole(value string) string {
	switch strings.ToLower(value) {
	case RoleSecondary:
		return RoleSecondary
	default:
		return RolePrimary
	}
}
