package modlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"guildkeeper/internal/archive"
	"guildkeeper/internal/events"
	"guildkeeper/internal/history"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	bulkColour   = 16382714
	bulkStageTTL = time.Hour
	usersWidth   = 600
)

func bulkIndexKey(channelID string) string {
	return "bulk_queue/" + channelID
}

func bulkItemKey(channelID, messageID string) string {
	return "bulk_queue/" + channelID + "/" + messageID
}

// HandleBulkDelete stages the reconstructable part of a bulk deletion and
// (re)starts the channel's quiet timer.
func (m *Module) HandleBulkDelete(ctx context.Context, ev *events.Event) error {
	if ev.GuildID == "" || ev.BulkDelete == nil {
		return nil
	}
	settings, event, channelID := m.target(ev.GuildID, KindMessageDelete)
	if channelID == "" || !event.BulkEnabled {
		return nil
	}
	bulk := ev.BulkDelete
	if settings.IsIgnored(bulk.ChannelID, m.parentOf(bulk.ChannelID)) {
		return nil
	}
	key := ev.GuildID + "/" + bulk.ChannelID
	wasPending := m.bulk.Cancel(key)

	staged, err := m.stageBulk(ctx, ev.GuildID, bulk)
	if err != nil {
		if wasPending {
			m.bulk.Schedule(key)
		}
		return err
	}
	if staged > 0 || wasPending {
		m.bulk.Schedule(key)
	}
	m.logger.Debug("bulk delete staged",
		zap.String("guild_id", ev.GuildID),
		zap.String("channel_id", bulk.ChannelID),
		zap.Int("deleted", len(bulk.MessageIDs)),
		zap.Int("reconstructed", staged),
	)
	return nil
}

func (m *Module) stageBulk(ctx context.Context, guildID string, bulk *events.BulkDeletion) (int, error) {
	if m.history == nil || len(bulk.MessageIDs) == 0 {
		return 0, nil
	}
	records, err := m.history.Lookup(ctx, guildID, bulk.MessageIDs)
	if err != nil {
		return 0, fmt.Errorf("looking up deleted messages: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	values := make(map[string][]byte, len(records))
	ids := make([]string, 0, len(records))
	for _, record := range records {
		raw, err := json.Marshal(entryFromRecord(record))
		if err != nil {
			continue
		}
		values[bulkItemKey(bulk.ChannelID, record.MessageID)] = raw
		ids = append(ids, record.MessageID)
	}
	if err := m.cache.SetMany(ctx, values, bulkStageTTL); err != nil {
		return 0, fmt.Errorf("staging bulk delete: %w", err)
	}
	index := bulkIndexKey(bulk.ChannelID)
	if err := m.cache.SAdd(ctx, index, ids...); err != nil {
		return 0, fmt.Errorf("indexing bulk delete: %w", err)
	}
	if err := m.cache.Expire(ctx, index, bulkStageTTL); err != nil {
		m.logger.Debug("bulk index expiry", zap.Error(err))
	}
	return len(ids), nil
}

func entryFromRecord(record history.Record) archive.Entry {
	return archive.Entry{
		ID: record.MessageID,
		Author: archive.Author{
			ID:            record.UserID,
			Username:      record.Username,
			Discriminator: record.Discriminator,
			Avatar:        record.Avatar,
		},
		Content:   record.Content,
		Timestamp: record.CreatedAt.UTC().Format(time.RFC3339),
		Embeds:    record.Embeds,
	}
}

// submitBulk runs once a channel has been quiet for BulkQuiet.
func (m *Module) submitBulk(key string) {
	guildID, channelID, ok := strings.Cut(key, "/")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ArchiveTimeout)
	defer cancel()
	if err := m.publishBulk(ctx, guildID, channelID); err != nil {
		metrics.BulkArchives.WithLabelValues("failed").Inc()
		m.logger.Warn("bulk delete archive failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
}

func (m *Module) drainBulk(ctx context.Context, channelID string) ([]archive.Entry, error) {
	index := bulkIndexKey(channelID)
	ids, err := m.cache.SMembers(ctx, index)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, bulkItemKey(channelID, id))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := m.cache.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	// Only the drained ids leave the index; a batch staged meanwhile stays
	// queued for the next submit.
	if err := m.cache.SRem(ctx, index, ids...); err != nil {
		m.logger.Debug("clearing bulk index", zap.Error(err))
	}
	if err := m.cache.Del(ctx, keys...); err != nil {
		m.logger.Debug("clearing bulk stage", zap.Error(err))
	}

	seen := make(map[string]struct{}, len(raw))
	entries := make([]archive.Entry, 0, len(raw))
	for _, value := range raw {
		if value == nil {
			continue
		}
		var e archive.Entry
		if err := json.Unmarshal(value, &e); err != nil {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return events.SnowflakeLess(entries[i].ID, entries[j].ID) })
	return entries, nil
}

func (m *Module) publishBulk(ctx context.Context, guildID, channelID string) error {
	entries, err := m.drainBulk(ctx, channelID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		m.logger.Warn("bulk delete queue ended empty", zap.String("channel_id", channelID))
		metrics.BulkArchives.WithLabelValues("empty").Inc()
		return nil
	}
	if m.archive == nil {
		return archive.ErrNotConfigured
	}
	now := m.now()
	expires := now.Add(m.cfg.ArchiveExpiry)
	url, size, err := m.archive.Publish(ctx, entries, expires)
	if err != nil {
		return err
	}
	if m.bundles != nil {
		bundle := storage.ArchiveBundle{
			URL:          url,
			GuildID:      guildID,
			ChannelID:    channelID,
			MessageCount: len(entries),
			Size:         size,
			CreatedAt:    now,
			ExpiresAt:    expires,
		}
		if err := m.bundles.AddArchiveBundle(ctx, bundle); err != nil {
			m.logger.Warn("recording archive bundle", zap.String("url", url), zap.Error(err))
		}
	}
	metrics.BulkArchives.WithLabelValues("published").Inc()
	m.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventBulkArchived,
		fmt.Sprintf("channel=%s count=%d url=%s", channelID, len(entries), url))

	_, event, destination := m.target(guildID, KindMessageDelete)
	if destination == "" {
		return nil
	}
	channelName := "deleted channel"
	if channel, err := m.platform.Channel(channelID); err == nil && channel != nil {
		channelName = "#" + channel.Name
	}
	users := bulkUsers(entries)

	embed := newEmbed(bulkColour, now)
	embed.Title = "bulk message delete"
	addField(embed, "channel name", channelName, true)
	addField(embed, "message count", strconv.Itoa(len(entries)), true)
	addField(embed, "users", shorten(strings.Join(users, " "), usersWidth, "..."), false)
	addField(embed, "log", url, false)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "logs retained until " + expires.UTC().Format("2006-01-02")}

	text := fmt.Sprintf("%d messages were bulk deleted in %s: %s", len(entries), channelName, url)
	m.emit(ctx, guildID, destination, KindMessageDelete, event, entry{embed: embed, text: text})
	return nil
}

// bulkUsers lists distinct author tags in first-seen order.
func bulkUsers(entries []archive.Entry) []string {
	var users []string
	seen := make(map[string]struct{})
	for _, e := range entries {
		user := events.User{Username: e.Author.Username, Discriminator: e.Author.Discriminator}.Tag()
		if user == "" {
			user = e.Author.ID
		}
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		users = append(users, user)
	}
	return users
}

// PurgeArchives drops expired bundle records.
func (m *Module) PurgeArchives(ctx context.Context) {
	if m.bundles == nil {
		return
	}
	removed, err := m.bundles.PurgeExpiredBundles(ctx, m.now())
	if err != nil {
		m.logger.Warn("purging archive bundles", zap.Error(err))
		return
	}
	if removed > 0 {
		m.logger.Info("purged expired archive bundles", zap.Int64("count", removed))
	}
}
