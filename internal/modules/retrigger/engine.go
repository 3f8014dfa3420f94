// Package retrigger matches guild messages against regex triggers and runs
// their responses.
package retrigger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/triggers"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

type Subscriber interface {
	Subscribe(kind events.Kind, name string, handler events.Handler)
}

// Publisher re-dispatches synthesized messages for command and mock
// responses.
type Publisher interface {
	PublishAsync(ev *events.Event)
}

// ModlogChannels resolves the "default" trigger modlog channel.
type ModlogChannels interface {
	GlobalChannel(guildID string) string
}

type Deps struct {
	Platform platform.Client
	Triggers *triggers.Store
	Regex    *regexexec.Executor
	Access   *access.Checker
	Cache    cache.Store
	KV       *kv.Store
	Bus      Publisher
	Audit    *audit.Logger
	Modlog   ModlogChannels
	// IsCommand reports whether content invokes a registered command. When
	// nil any prefixed message counts as one.
	IsCommand func(guildID, content string) bool
	Config    config.TriggerConfig
	Logger    *zap.Logger
}

type Engine struct {
	platform  platform.Client
	store     *triggers.Store
	regex     *regexexec.Executor
	access    *access.Checker
	cache     cache.Store
	kv        *kv.Store
	bus       Publisher
	audit     *audit.Logger
	modlog    ModlogChannels
	isCommand func(guildID, content string) bool
	cfg       config.TriggerConfig
	logger    *zap.Logger

	locks    *utils.KeyedMutex
	timeouts *utils.SlidingWindow
	seen     *expirable.LRU[string, struct{}]

	now       func() time.Time
	roll      func(n int) int
	afterFunc func(d time.Duration, fn func())
}

func New(deps Deps) *Engine {
	cfg := deps.Config
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 60 * time.Second
	}
	if cfg.AggressiveWindow <= 0 {
		cfg.AggressiveWindow = 10 * time.Minute
	}
	if cfg.AggressiveLimit <= 0 {
		cfg.AggressiveLimit = 3
	}
	if cfg.BypassTimeout <= 0 {
		cfg.BypassTimeout = 10 * time.Second
	}
	return &Engine{
		platform:  deps.Platform,
		store:     deps.Triggers,
		regex:     deps.Regex,
		access:    deps.Access,
		cache:     deps.Cache,
		kv:        deps.KV,
		bus:       deps.Bus,
		audit:     deps.Audit,
		modlog:    deps.Modlog,
		isCommand: deps.IsCommand,
		cfg:       cfg,
		logger:    deps.Logger.Named("retrigger"),
		locks:     utils.NewKeyedMutex(),
		timeouts:  utils.NewSlidingWindow(cfg.AggressiveWindow),
		seen:      expirable.NewLRU[string, struct{}](4096, nil, 10*time.Minute),
		now:       time.Now,
		roll:      func(n int) int { return rand.Intn(n + 1) },
		afterFunc: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

func (e *Engine) Register(bus Subscriber) {
	bus.Subscribe(events.MessageCreate, "retrigger", e.HandleMessage)
	bus.Subscribe(events.MessageEdit, "retrigger", e.HandleMessage)
}

// messageEnv is everything about the source message the checks and
// responses need, captured once before any response runs.
type messageEnv struct {
	msg         *events.Message
	guild       *discordgo.Guild
	channel     *discordgo.Channel
	settings    Settings
	prefixes    []string
	authorPerms int64
	botPerms    int64
	botRoles    []string
	isMod       bool
	immune      bool
	command     bool
}

func (env *messageEnv) parentID() string {
	if env.channel == nil {
		return ""
	}
	return env.channel.ParentID
}

// HandleMessage evaluates every trigger of the guild against a created or
// edited message.
func (e *Engine) HandleMessage(ctx context.Context, ev *events.Event) error {
	msg := ev.Message
	if ev.Retrigger || msg == nil || msg.GuildID == "" {
		return nil
	}
	if msg.Author.Bot || msg.Author.System || msg.WebhookID != "" {
		return nil
	}
	edit := ev.Kind == events.MessageEdit
	if edit && ev.Before != nil && ev.Before.Content == msg.Content {
		return nil
	}
	if !e.firstSighting(ev) {
		return nil
	}

	list := e.store.List(msg.GuildID)
	if len(list) == 0 {
		return nil
	}
	env, err := e.environment(ctx, msg)
	if err != nil {
		return err
	}
	if env == nil {
		return nil
	}

	for i := range list {
		trigger := &list[i]
		if !e.eligible(trigger, env, edit) {
			continue
		}
		res, ok := e.search(ctx, trigger, env)
		if !ok {
			continue
		}
		fired, ok, err := e.store.Fire(msg.GuildID, trigger.Name, msg.ChannelID, msg.Author.ID, e.now())
		if err != nil || !ok {
			continue
		}
		if e.execute(ctx, fired, env, res) {
			break
		}
	}
	return nil
}

// firstSighting drops gateway redeliveries of the same message content.
// Edits that carry their previous content are not memoized.
func (e *Engine) firstSighting(ev *events.Event) bool {
	if ev.Kind == events.MessageEdit && ev.Before != nil {
		return true
	}
	msg := ev.Message
	key := fmt.Sprintf("%s:%s:%x", ev.Kind, msg.ID, murmur3.Sum64([]byte(msg.Content)))
	if _, ok := e.seen.Get(key); ok {
		return false
	}
	e.seen.Add(key, struct{}{})
	return true
}

func (e *Engine) environment(ctx context.Context, msg *events.Message) (*messageEnv, error) {
	guild, err := e.platform.Guild(msg.GuildID)
	if err != nil {
		if platform.IsNotFound(err) || platform.IsForbidden(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch guild: %w", err)
	}
	env := &messageEnv{
		msg:      msg,
		guild:    guild,
		settings: e.Settings(msg.GuildID),
		prefixes: e.access.Prefixes(msg.GuildID),
	}
	if channel, err := e.platform.Channel(msg.ChannelID); err == nil {
		env.channel = channel
	}
	botID := e.platform.BotUserID()
	if member, err := e.platform.Member(msg.GuildID, botID); err == nil {
		env.botRoles = member.Roles
	}
	env.botPerms = e.access.Permissions(botID, msg.ChannelID)
	env.authorPerms = e.access.Permissions(msg.Author.ID, msg.ChannelID)
	env.isMod = e.access.IsMod(ctx, msg.GuildID, msg.ChannelID, msg.Author.ID, msg.MemberRoles)
	env.immune = e.access.IsImmune(ctx, msg.GuildID, msg.ChannelID, msg.Author.ID, msg.MemberRoles)
	env.command = e.commandInvocation(msg.GuildID, msg.Content, env.prefixes)
	return env, nil
}

func (e *Engine) commandInvocation(guildID, content string, prefixes []string) bool {
	if e.isCommand != nil {
		return e.isCommand(guildID, content)
	}
	for _, prefix := range prefixes {
		if prefix != "" && len(content) > len(prefix) && strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

// botRequires lists what the bot must hold in the channel for each kind.
var botRequires = map[triggers.ResponseKind]int64{
	triggers.ResponseText:       discordgo.PermissionSendMessages,
	triggers.ResponseRandText:   discordgo.PermissionSendMessages,
	triggers.ResponseImage:      discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles,
	triggers.ResponseRandImage:  discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles,
	triggers.ResponseResize:     discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles,
	triggers.ResponseReact:      discordgo.PermissionAddReactions,
	triggers.ResponseAddRole:    discordgo.PermissionManageRoles,
	triggers.ResponseRemoveRole: discordgo.PermissionManageRoles,
	triggers.ResponseKick:       discordgo.PermissionKickMembers,
	triggers.ResponseBan:        discordgo.PermissionBanMembers,
	triggers.ResponseRename:     discordgo.PermissionManageNicknames,
	triggers.ResponsePublish:    discordgo.PermissionManageMessages,
	triggers.ResponseDelete:     discordgo.PermissionManageMessages,
}

// authorExempt skips a kind when the author already holds the permission it
// would police.
var authorExempt = map[triggers.ResponseKind]int64{
	triggers.ResponseDelete: discordgo.PermissionManageMessages,
	triggers.ResponseKick:   discordgo.PermissionKickMembers,
	triggers.ResponseBan:    discordgo.PermissionBanMembers,
}

func moderation(t *triggers.Trigger) bool {
	for _, kind := range t.Kinds() {
		if kind.Moderation() {
			return true
		}
	}
	return false
}

func (e *Engine) eligible(t *triggers.Trigger, env *messageEnv, edit bool) bool {
	if !t.Enabled {
		return false
	}
	if edit && !t.CheckEdits {
		return false
	}
	if t.Chance > 0 && e.roll(t.Chance) != 0 {
		return false
	}
	ids := append([]string{env.msg.ChannelID, env.parentID(), env.msg.Author.ID}, env.msg.MemberRoles...)
	if !access.ListAllows(t.Allowlist, t.Blocklist, ids...) {
		return false
	}
	automod := moderation(t)
	if automod && env.isMod {
		return false
	}
	if env.command && !t.IgnoreCommands {
		return false
	}
	if automod && env.immune {
		return false
	}
	for _, kind := range t.Kinds() {
		if perm, ok := authorExempt[kind]; ok && platform.HasPermission(env.authorPerms, perm) {
			return false
		}
		if perm, ok := botRequires[kind]; ok && !platform.HasPermission(env.botPerms, perm) {
			e.logger.Debug("missing permissions for trigger",
				zap.String("guild_id", env.msg.GuildID),
				zap.String("trigger", t.Name),
				zap.String("kind", string(kind)),
			)
			return false
		}
	}
	return true
}

func matchContent(t *triggers.Trigger, msg *events.Message) string {
	if !t.ReadFilenames || len(msg.Attachments) == 0 {
		return msg.Content
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, attachment := range msg.Attachments {
		names = append(names, attachment.Filename)
	}
	return msg.Content + " " + strings.Join(names, " ")
}

func (e *Engine) search(ctx context.Context, t *triggers.Trigger, env *messageEnv) (regexexec.Result, bool) {
	content := matchContent(t, env.msg)
	timeout := env.settings.timeout(e.cfg.RegexTimeout, e.cfg.BypassTimeout)

	var (
		res regexexec.Result
		err error
	)
	if env.settings.Bypass {
		res, err = e.regex.SearchInline(t.Pattern, content, timeout)
	} else {
		res, err = e.regex.Search(ctx, t.Pattern, content, timeout)
	}
	if errors.Is(err, regexexec.ErrTimeout) {
		e.onTimeout(ctx, t, env, timeout)
		return regexexec.Result{}, false
	}
	if err != nil {
		e.logger.Debug("regex evaluation failed",
			zap.String("guild_id", env.msg.GuildID),
			zap.String("trigger", t.Name),
			zap.Error(err),
		)
		return regexexec.Result{}, false
	}
	return res, res.Matched()
}

func (e *Engine) onTimeout(ctx context.Context, t *triggers.Trigger, env *messageEnv, timeout time.Duration) {
	guildID := env.msg.GuildID
	e.logger.Warn("trigger regex timed out",
		zap.String("guild_id", guildID),
		zap.String("trigger", t.Name),
		zap.Duration("timeout", timeout),
	)
	if !env.settings.Aggressive {
		return
	}
	key := guildID + "\x00" + t.Name
	if e.timeouts.Hit(key, e.now()) < e.cfg.AggressiveLimit {
		return
	}
	e.timeouts.Reset(key)
	if _, err := e.store.SetEnabled(guildID, t.Name, false, triggers.DisabledTimeout); err != nil {
		e.logger.Warn("disabling trigger failed", zap.String("guild_id", guildID), zap.String("trigger", t.Name), zap.Error(err))
		return
	}
	metrics.TriggerDisables.WithLabelValues(string(triggers.DisabledTimeout)).Inc()
	e.audit.Log(ctx, audit.LevelWarn, guildID, t.Author, audit.EventRegexTimeout,
		fmt.Sprintf("trigger %s disabled after %d timeouts", t.Name, e.cfg.AggressiveLimit))
}
