// Package access resolves who may do what in a guild: privilege levels,
// moderator checks, automod immunity and command prefixes.
package access

import (
	"context"
	"sort"

	"guildkeeper/internal/kv"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
)

type Level int

const (
	LevelNone Level = iota
	LevelMod
	LevelAdmin
	LevelGuildOwner
	LevelBotOwner
)

func (l Level) String() string {
	switch l {
	case LevelMod:
		return "MOD"
	case LevelAdmin:
		return "ADMIN"
	case LevelGuildOwner:
		return "GUILD_OWNER"
	case LevelBotOwner:
		return "BOT_OWNER"
	default:
		return "NONE"
	}
}

func ParseLevel(value string) (Level, bool) {
	for _, level := range []Level{LevelNone, LevelMod, LevelAdmin, LevelGuildOwner, LevelBotOwner} {
		if level.String() == value {
			return level, true
		}
	}
	return LevelNone, false
}

// GuildSettings live at kv guild(<id>)/core.
type GuildSettings struct {
	Prefixes   []string `json:"prefixes,omitempty"`
	ModRoles   []string `json:"mod_roles,omitempty"`
	AdminRoles []string `json:"admin_roles,omitempty"`
	Immune     []string `json:"immune,omitempty"`
}

const settingsKey = "core"

type Checker struct {
	platform platform.Client
	store    *kv.Store
	owners   map[string]struct{}
	prefixes []string
}

func New(client platform.Client, store *kv.Store, ownerIDs, defaultPrefixes []string) *Checker {
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = struct{}{}
	}
	return &Checker{platform: client, store: store, owners: owners, prefixes: defaultPrefixes}
}

func (c *Checker) Settings(guildID string) (GuildSettings, error) {
	var settings GuildSettings
	if guildID == "" {
		return settings, nil
	}
	_, err := c.store.Get(kv.Guild(guildID), settingsKey, &settings)
	return settings, err
}

func (c *Checker) UpdateSettings(guildID string, fn func(*GuildSettings) error) error {
	var settings GuildSettings
	return c.store.Update(kv.Guild(guildID), settingsKey, &settings, func() error {
		return fn(&settings)
	})
}

// Prefixes returns the guild prefixes, falling back to the defaults.
func (c *Checker) Prefixes(guildID string) []string {
	settings, err := c.Settings(guildID)
	if err != nil || len(settings.Prefixes) == 0 {
		return c.prefixes
	}
	return settings.Prefixes
}

// Owners lists the bot owner ids in a stable order.
func (c *Checker) Owners() []string {
	ids := make([]string, 0, len(c.owners))
	for id := range c.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Checker) IsBotOwner(userID string) bool {
	_, ok := c.owners[userID]
	return ok
}

func (c *Checker) Permissions(userID, channelID string) int64 {
	perms, err := c.platform.UserChannelPermissions(userID, channelID)
	if err != nil {
		return 0
	}
	return perms
}

// Level resolves the highest privilege level of a member in a channel.
func (c *Checker) Level(ctx context.Context, guildID, channelID, userID string, roles []string) Level {
	if c.IsBotOwner(userID) {
		return LevelBotOwner
	}
	if guildID == "" {
		return LevelNone
	}
	guild, err := c.platform.Guild(guildID)
	if err == nil && guild.OwnerID == userID {
		return LevelGuildOwner
	}
	settings, _ := c.Settings(guildID)
	perms := c.Permissions(userID, channelID)
	if perms&discordgo.PermissionAdministrator != 0 || intersects(roles, settings.AdminRoles) {
		return LevelAdmin
	}
	if intersects(roles, settings.ModRoles) || platform.HasPermission(perms, discordgo.PermissionManageMessages) {
		return LevelMod
	}
	return LevelNone
}

func (c *Checker) IsMod(ctx context.Context, guildID, channelID, userID string, roles []string) bool {
	return c.Level(ctx, guildID, channelID, userID, roles) >= LevelMod
}

// IsImmune reports whether the member is exempt from automated moderation:
// owners, admins and explicitly immune users or roles.
func (c *Checker) IsImmune(ctx context.Context, guildID, channelID, userID string, roles []string) bool {
	if c.Level(ctx, guildID, channelID, userID, roles) >= LevelAdmin {
		return true
	}
	settings, _ := c.Settings(guildID)
	for _, id := range settings.Immune {
		if id == userID {
			return true
		}
	}
	return intersects(roles, settings.Immune)
}

// ListAllows applies allow/block list semantics to the ids describing a
// subject (channel, category, user, roles). A non-empty allowlist admits
// only listed subjects; otherwise any listed id in the blocklist refuses.
func ListAllows(allowlist, blocklist []string, ids ...string) bool {
	if len(allowlist) > 0 {
		return intersects(nonEmpty(ids), allowlist)
	}
	return !intersects(nonEmpty(ids), blocklist)
}

func nonEmpty(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// PermissionNames lists the permission bits set in perms, used by the
// command audit.
func PermissionNames(perms int64) []string {
	var names []string
	for _, perm := range PermissionBits {
		if perms&perm.Bit != 0 {
			names = append(names, perm.Name)
		}
	}
	return names
}

type Permission struct {
	Bit  int64
	Name string
}

// PermissionBits is ordered by bit value.
var PermissionBits = []Permission{
	{discordgo.PermissionCreateInstantInvite, "create_instant_invite"},
	{discordgo.PermissionKickMembers, "kick_members"},
	{discordgo.PermissionBanMembers, "ban_members"},
	{discordgo.PermissionAdministrator, "administrator"},
	{discordgo.PermissionManageChannels, "manage_channels"},
	{discordgo.PermissionManageServer, "manage_guild"},
	{discordgo.PermissionAddReactions, "add_reactions"},
	{discordgo.PermissionViewAuditLogs, "view_audit_log"},
	{discordgo.PermissionVoicePrioritySpeaker, "priority_speaker"},
	{discordgo.PermissionVoiceStreamVideo, "stream"},
	{discordgo.PermissionViewChannel, "view_channel"},
	{discordgo.PermissionSendMessages, "send_messages"},
	{discordgo.PermissionSendTTSMessages, "send_tts_messages"},
	{discordgo.PermissionManageMessages, "manage_messages"},
	{discordgo.PermissionEmbedLinks, "embed_links"},
	{discordgo.PermissionAttachFiles, "attach_files"},
	{discordgo.PermissionReadMessageHistory, "read_message_history"},
	{discordgo.PermissionMentionEveryone, "mention_everyone"},
	{discordgo.PermissionUseExternalEmojis, "use_external_emojis"},
	{discordgo.PermissionViewGuildInsights, "view_guild_insights"},
	{discordgo.PermissionVoiceConnect, "connect"},
	{discordgo.PermissionVoiceSpeak, "speak"},
	{discordgo.PermissionVoiceMuteMembers, "mute_members"},
	{discordgo.PermissionVoiceDeafenMembers, "deafen_members"},
	{discordgo.PermissionVoiceMoveMembers, "move_members"},
	{discordgo.PermissionVoiceUseVAD, "use_voice_activation"},
	{discordgo.PermissionChangeNickname, "change_nickname"},
	{discordgo.PermissionManageNicknames, "manage_nicknames"},
	{discordgo.PermissionManageRoles, "manage_roles"},
	{discordgo.PermissionManageWebhooks, "manage_webhooks"},
	{discordgo.PermissionManageEmojis, "manage_emojis"},
	{discordgo.PermissionUseSlashCommands, "use_application_commands"},
	{discordgo.PermissionVoiceRequestToSpeak, "request_to_speak"},
	{discordgo.PermissionManageEvents, "manage_events"},
	{discordgo.PermissionManageThreads, "manage_threads"},
	{discordgo.PermissionCreatePublicThreads, "create_public_threads"},
	{discordgo.PermissionCreatePrivateThreads, "create_private_threads"},
	{discordgo.PermissionUseExternalStickers, "use_external_stickers"},
	{discordgo.PermissionSendMessagesInThreads, "send_messages_in_threads"},
	{discordgo.PermissionUseActivities, "use_activities"},
	{discordgo.PermissionModerateMembers, "moderate_members"},
}
