package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/analytics"
	"guildkeeper/internal/archive"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/history"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/modules/modlog"
	"guildkeeper/internal/modules/reactroles"
	"guildkeeper/internal/modules/retrigger"
	"guildkeeper/internal/modules/starboard"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/triggers"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// auditCleanupCron trims the durable audit trail once a day.
const auditCleanupCron = "30 3 * * *"

// Services are the stores the bot does not own.
type Services struct {
	Store   *storage.Store
	KV      *kv.Store
	Cache   cache.Store
	History history.Store
	Audit   *audit.Logger
}

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	session   *discordgo.Session
	platform  platform.Client
	bus       *events.Bus
	gateway   *Gateway
	store     *storage.Store
	kv        *kv.Store
	cache     cache.Store
	audit     *audit.Logger
	analytics *analytics.Service
	access    *access.Checker
	regex     *regexexec.Executor
	triggers  *triggers.Store
	retrigger *retrigger.Engine
	modlog    *modlog.Module
	reactions *reactroles.Module
	starboard *starboard.Module
	router    *commands.Router

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, svc Services) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsGuildInvites |
		discordgo.IntentsMessageContent
	session.State.MaxMessageCount = 50

	bus := events.NewBus(events.Config{Lanes: cfg.Bus.Lanes, LaneBuffer: cfg.Bus.LaneBuffer}, logger)
	gateway, err := NewGateway(bus, cfg.MessageCacheSize, logger)
	if err != nil {
		return nil, err
	}
	client := platform.NewDiscord(session)

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		session:   session,
		platform:  client,
		bus:       bus,
		gateway:   gateway,
		store:     svc.Store,
		kv:        svc.KV,
		cache:     svc.Cache,
		audit:     svc.Audit,
		analytics: analytics.New(svc.Store),
	}
	b.access = access.New(client, svc.KV, cfg.OwnerIDs, cfg.Prefixes)
	b.router = commands.New(commands.Deps{
		Platform: client,
		Access:   b.access,
		Bus:      bus,
		Colors:   cfg.Notifications.EmbedColors,
		Logger:   logger,
	})
	b.regex = regexexec.New(regexexec.Config{
		Workers:        cfg.Triggers.Workers,
		DefaultTimeout: cfg.Triggers.RegexTimeout,
		MemoSize:       cfg.Triggers.MemoSize,
		MemoTTL:        cfg.Triggers.MemoTTL,
	}, logger)
	images := triggers.NewImages(cfg.Triggers.ImageDir, utils.RobustHTTPClient(logger, 30*time.Second))
	b.triggers = triggers.NewStore(svc.KV, images, logger, cfg.Triggers.FlushInterval)

	b.modlog = modlog.New(modlog.Deps{
		Platform: client,
		KV:       svc.KV,
		Cache:    svc.Cache,
		History:  svc.History,
		Archive:  archive.New(cfg.Modlog.ArchiveURL, cfg.Modlog.ArchiveToken, utils.RobustHTTPClient(logger, cfg.Modlog.ArchiveTimeout)),
		Bundles:  svc.Store,
		Access:   b.access,
		Audit:    svc.Audit,
		HTTP:     utils.RobustHTTPClient(logger, 15*time.Second),
		Config:   cfg.Modlog,
		Primary:  cfg.IsPrimary(),
		Logger:   logger,
	})
	b.retrigger = retrigger.New(retrigger.Deps{
		Platform:  client,
		Triggers:  b.triggers,
		Regex:     b.regex,
		Access:    b.access,
		Cache:     svc.Cache,
		KV:        svc.KV,
		Bus:       bus,
		Audit:     svc.Audit,
		Modlog:    b.modlog,
		IsCommand: b.router.IsCommand,
		Config:    cfg.Triggers,
		Logger:    logger,
	})
	b.reactions = reactroles.New(reactroles.Deps{
		Platform: client,
		KV:       svc.KV,
		Cache:    svc.Cache,
		Audit:    svc.Audit,
		Logger:   logger,
	})
	b.starboard = starboard.New(starboard.Deps{
		Platform: client,
		KV:       svc.KV,
		Audit:    svc.Audit,
		Config:   cfg.Starboard,
		Logger:   logger,
	})

	b.retrigger.Register(bus)
	b.modlog.Register(bus)
	b.reactions.Register(bus)
	b.starboard.Register(bus)
	b.router.Register(bus)
	b.registerCommands()

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}
	return b, nil
}

func (b *Bot) registerCommands() {
	b.router.Add(
		b.router.HelpCommand(),
		b.retriggerCommands(),
		b.modlogCommands(),
		b.starboardCommands(),
		b.reactroleCommands(),
		b.statsCommand(),
		b.setupCommands(),
	)
	b.router.Add(b.starCommands()...)
	b.router.Expose(
		triggers.ErrNotFound, triggers.ErrExists, triggers.ErrInvalidName, triggers.ErrNoResponse,
		triggers.ErrInvalidAction, triggers.ErrImageTooLarge, triggers.ErrInvalidRegex, triggers.ErrInvalidOption,
		retrigger.ErrMissingPermission, retrigger.ErrRoleNotAssignable,
		starboard.ErrNotFound, starboard.ErrExists, starboard.ErrAmbiguous, starboard.ErrDisabled,
		starboard.ErrRoleRefused, starboard.ErrChannelRefused, starboard.ErrMissingPerms, starboard.ErrOtherGuild,
		reactroles.ErrNotFound, reactroles.ErrUnknownRole, reactroles.ErrHierarchy,
	)
}

// Start loads persisted state, connects to the gateway and launches the
// background loops.
func (b *Bot) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if err := b.triggers.LoadAll(ctx); err != nil {
		return fmt.Errorf("loading triggers: %w", err)
	}
	if err := b.triggers.RestoreImages(); err != nil {
		b.logger.Warn("restoring trigger images", zap.Error(err))
	}
	if err := b.reactions.Load(ctx); err != nil {
		return err
	}

	b.bus.Start()
	b.session.AddHandler(b.onReady)
	b.gateway.register(b.session)
	if err := b.session.Open(); err != nil {
		return err
	}

	b.goLoop(b.triggers.Run, ctx)
	b.goLoop(b.modlog.Run, ctx)
	b.goLoop(b.starboard.Run, ctx)
	b.goLoop(func(ctx context.Context) {
		utils.RunCron(ctx, auditCleanupCron, b.logger, b.cleanupAudit)
	}, ctx)
	return nil
}

func (b *Bot) goLoop(fn func(context.Context), ctx context.Context) {
	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		fn(ctx)
	}()
}

func (b *Bot) cleanupAudit(ctx context.Context) {
	if b.store == nil || b.cfg.RetentionDays <= 0 {
		return
	}
	if err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("audit cleanup failed", zap.Error(err))
	}
}

// Close stops the loops, drains running commands and bus lanes, then
// flushes trigger state.
func (b *Bot) Close(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	_ = b.session.Close()
	b.router.Wait()
	b.bus.Close(ctx)
	b.modlog.Close()
	b.loops.Wait()
	if err := b.triggers.Flush(); err != nil {
		b.logger.Warn("final trigger flush failed", zap.Error(err))
	}
	b.regex.Close()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("connected", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// notifyAudit posts warnings from the audit trail to the guild's modlog
// channel.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Level == audit.LevelInfo || entry.GuildID == "" {
		return
	}
	channelID := b.modlog.GlobalChannel(entry.GuildID)
	if channelID == "" {
		return
	}
	embed := b.commandEmbed(entry.Event, entry.Details, b.cfg.Notifications.EmbedColors.Warning, nil)
	if entry.UserID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "User", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	embed.Timestamp = entry.CreatedAt.Format(time.RFC3339)
	if _, err := b.platform.SendMessage(channelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}); err != nil {
		b.logger.Debug("audit notification failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
	}
}
