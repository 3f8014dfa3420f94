package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// ArchiveBundle records a bulk delete transcript published to the archive
// service.
type ArchiveBundle struct {
	URL          string
	GuildID      string
	ChannelID    string
	MessageCount int
	Size         int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func (s *Store) AddArchiveBundle(ctx context.Context, bundle ArchiveBundle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archive_bundles (url, guild_id, channel_id, message_count, size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			message_count = excluded.message_count,
			size = excluded.size,
			expires_at = excluded.expires_at
	`,
		bundle.URL,
		bundle.GuildID,
		bundle.ChannelID,
		bundle.MessageCount,
		bundle.Size,
		bundle.CreatedAt.Unix(),
		bundle.ExpiresAt.Unix(),
	)
	return err
}

func (s *Store) ListArchiveBundles(ctx context.Context, guildID string, limit int) ([]ArchiveBundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, guild_id, channel_id, message_count, size, created_at, expires_at
		FROM archive_bundles
		WHERE guild_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bundles []ArchiveBundle
	for rows.Next() {
		var bundle ArchiveBundle
		var created, expires int64
		if err := rows.Scan(&bundle.URL, &bundle.GuildID, &bundle.ChannelID, &bundle.MessageCount, &bundle.Size, &created, &expires); err != nil {
			return nil, err
		}
		bundle.CreatedAt = time.Unix(created, 0)
		bundle.ExpiresAt = time.Unix(expires, 0)
		bundles = append(bundles, bundle)
	}
	return bundles, rows.Err()
}

func (s *Store) PurgeExpiredBundles(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM archive_bundles WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
