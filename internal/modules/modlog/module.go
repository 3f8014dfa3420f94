// Package modlog renders guild mutation events into moderation log
// entries, archives bulk deletions and keeps the configuration of several
// bot processes in sync.
package modlog

import (
	"context"
	"net/http"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/archive"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/history"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Subscriber interface {
	Subscribe(kind events.Kind, name string, handler events.Handler)
}

// BundleStore records published bulk delete transcripts.
type BundleStore interface {
	AddArchiveBundle(ctx context.Context, bundle storage.ArchiveBundle) error
	PurgeExpiredBundles(ctx context.Context, now time.Time) (int64, error)
}

type Deps struct {
	Platform platform.Client
	KV       *kv.Store
	Cache    cache.Store
	History  history.Store
	Archive  archive.Publisher
	Bundles  BundleStore
	Access   *access.Checker
	Audit    *audit.Logger
	// HTTP fetches attachments of deleted messages for re-upload.
	HTTP    *http.Client
	Config  config.ModlogConfig
	Primary bool
	Logger  *zap.Logger
}

type Module struct {
	platform platform.Client
	kv       *kv.Store
	cache    cache.Store
	history  history.Store
	archive  archive.Publisher
	bundles  BundleStore
	access   *access.Checker
	audit    *audit.Logger
	http     *http.Client
	cfg      config.ModlogConfig
	primary  bool
	logger   *zap.Logger

	settings *xsync.MapOf[string, Settings]
	actors   *actorResolver
	bulk     *utils.Debouncer
	syncs    chan struct{}

	now func() time.Time
}

func New(deps Deps) *Module {
	cfg := deps.Config
	if cfg.BulkQuiet <= 0 {
		cfg.BulkQuiet = 8 * time.Second
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 120 * time.Second
	}
	if cfg.ArchiveExpiry <= 0 {
		cfg.ArchiveExpiry = 365 * 24 * time.Hour
	}
	if cfg.ArchivePurge == "" {
		cfg.ArchivePurge = "0 4 * * *"
	}
	if cfg.SyncChannel == "" {
		cfg.SyncChannel = "trigger_modlog_sync"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.AuditLookupRPS <= 0 {
		cfg.AuditLookupRPS = 2
	}
	httpClient := deps.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	m := &Module{
		platform: deps.Platform,
		kv:       deps.KV,
		cache:    deps.Cache,
		history:  deps.History,
		archive:  deps.Archive,
		bundles:  deps.Bundles,
		access:   deps.Access,
		audit:    deps.Audit,
		http:     httpClient,
		cfg:      cfg,
		primary:  deps.Primary,
		logger:   deps.Logger.Named("modlog"),
		settings: xsync.NewMapOf[string, Settings](),
		syncs:    make(chan struct{}, 1),
		now:      time.Now,
	}
	m.actors = newActorResolver(deps.Platform, rate.NewLimiter(rate.Limit(cfg.AuditLookupRPS), 1))
	m.bulk = utils.NewDebouncer(cfg.BulkQuiet, m.submitBulk)
	return m
}

func (m *Module) Register(bus Subscriber) {
	bus.Subscribe(events.MessageCreate, "modlog", m.HandleMessageCreate)
	bus.Subscribe(events.MessageEdit, "modlog", m.HandleMessageEdit)
	bus.Subscribe(events.MessageDelete, "modlog", m.HandleMessageDelete)
	bus.Subscribe(events.MessageBulkDelete, "modlog", m.HandleBulkDelete)
	bus.Subscribe(events.ChannelCreate, "modlog", m.HandleChannelCreate)
	bus.Subscribe(events.ChannelUpdate, "modlog", m.HandleChannelUpdate)
	bus.Subscribe(events.ChannelDelete, "modlog", m.HandleChannelDelete)
	bus.Subscribe(events.RoleCreate, "modlog", m.HandleRoleCreate)
	bus.Subscribe(events.RoleUpdate, "modlog", m.HandleRoleUpdate)
	bus.Subscribe(events.RoleDelete, "modlog", m.HandleRoleDelete)
	bus.Subscribe(events.GuildUpdate, "modlog", m.HandleGuildUpdate)
	bus.Subscribe(events.MemberUpdate, "modlog", m.HandleMemberUpdate)
	bus.Subscribe(events.MemberJoin, "modlog", m.HandleMemberJoin)
	bus.Subscribe(events.MemberLeave, "modlog", m.HandleMemberLeave)
	bus.Subscribe(events.VoiceStateUpdate, "modlog", m.HandleVoiceState)
	bus.Subscribe(events.EmojiUpdate, "modlog", m.HandleEmojiUpdate)
	bus.Subscribe(events.InviteCreate, "modlog", m.HandleInviteCreate)
	bus.Subscribe(events.InviteDelete, "modlog", m.HandleInviteDelete)
	bus.Subscribe(events.CommandInvoked, "modlog", m.HandleCommand)
}

// Close drops pending bulk submissions.
func (m *Module) Close() {
	m.bulk.Stop()
}

// entry is one rendered modlog post. Text is the fallback used when the
// bot may not embed links in the destination.
type entry struct {
	embed *discordgo.MessageEmbed
	text  string
	files []*discordgo.File
}

// target resolves the enabled destination of kind, or "" when the kind is
// off or has nowhere to go.
func (m *Module) target(guildID string, kind Kind) (Settings, EventSettings, string) {
	settings := m.Settings(guildID)
	event := settings.Event(kind)
	if !event.Enabled {
		return settings, event, ""
	}
	return settings, event, settings.ChannelFor(kind)
}

func (m *Module) emit(ctx context.Context, guildID, channelID string, kind Kind, event EventSettings, e entry) {
	if channelID == "" {
		return
	}
	send := &discordgo.MessageSend{
		Files:           e.files,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	perms := m.access.Permissions(m.platform.BotUserID(), channelID)
	if e.embed != nil && platform.HasPermission(perms, discordgo.PermissionEmbedLinks) {
		send.Embeds = []*discordgo.MessageEmbed{e.embed}
	} else {
		text := "`" + m.clock() + "` " + e.text
		if event.Emoji != "" {
			text = event.Emoji + " " + text
		}
		send.Content = utils.Truncate(text, 2000)
	}
	if _, err := m.platform.SendMessage(channelID, send); err != nil {
		m.logger.Debug("modlog post failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	metrics.ModlogEntries.WithLabelValues(string(kind)).Inc()
}

func (m *Module) clock() string {
	return m.now().UTC().Format("15:04:05")
}

func (m *Module) parentOf(channelID string) string {
	channel, err := m.platform.Channel(channelID)
	if err != nil || channel == nil {
		return ""
	}
	return channel.ParentID
}
