package modlog

import (
	"context"
	"strings"
	"testing"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/history"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform/platformtest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const logChannel = "log"

type harness struct {
	module  *Module
	fake    *platformtest.Fake
	db      *kv.Store
	cache   *cache.MemStore
	history *history.MemStore
	clock   time.Time
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := platformtest.New("bot")
	fake.AddGuild(&discordgo.Guild{ID: "g1", Name: "Guild", OwnerID: "owner", MemberCount: 12})
	fake.AddChannel(&discordgo.Channel{ID: "c1", GuildID: "g1", Name: "general", ParentID: "cat", Type: discordgo.ChannelTypeGuildText})
	fake.AddChannel(&discordgo.Channel{ID: "c2", GuildID: "g1", Name: "offtopic", Type: discordgo.ChannelTypeGuildText})
	fake.AddChannel(&discordgo.Channel{ID: logChannel, GuildID: "g1", Name: "modlog", Type: discordgo.ChannelTypeGuildText})
	fake.SetPerms("bot", logChannel, discordgo.PermissionAdministrator)

	h := &harness{
		fake:    fake,
		db:      db,
		cache:   cache.NewMemStore(),
		history: history.NewMemStore(),
		clock:   time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
	deps := Deps{
		Platform: fake,
		KV:       db,
		Cache:    h.cache,
		History:  h.history,
		Access:   access.New(fake, db, []string{"botowner"}, []string{"!"}),
		Audit:    audit.NewLogger(nil, zap.NewNop()),
		Config: config.ModlogConfig{
			BulkQuiet:      50 * time.Millisecond,
			ArchiveTimeout: 5 * time.Second,
			ArchiveExpiry:  365 * 24 * time.Hour,
			SyncChannel:    "trigger_modlog_sync",
			SyncInterval:   time.Hour,
			AuditLookupRPS: 1000,
		},
		Primary: true,
		Logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.module = New(deps)
	h.module.now = func() time.Time { return h.clock }
	t.Cleanup(h.module.Close)

	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.GlobalChannel = logChannel
		for _, kind := range Kinds {
			s.SetEvent(kind, func(e *EventSettings) { e.Enabled = true })
		}
		return nil
	}))
	return h
}

func (h *harness) logged(t *testing.T) []*discordgo.MessageSend {
	t.Helper()
	var out []*discordgo.MessageSend
	for _, sent := range h.fake.SentTo(logChannel) {
		out = append(out, sent.Message)
	}
	return out
}

func (h *harness) onlyEmbed(t *testing.T) *discordgo.MessageEmbed {
	t.Helper()
	sent := h.logged(t)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Embeds, 1)
	return sent[0].Embeds[0]
}

func fieldValue(embed *discordgo.MessageEmbed, name string) (string, bool) {
	for _, field := range embed.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

func cachedMessage(content string) *events.Message {
	return &events.Message{
		ID:        "900",
		GuildID:   "g1",
		ChannelID: "c1",
		Author:    events.User{ID: "u1", Username: "alice", Discriminator: "0"},
		Content:   content,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCachedDeleteNamesActor(t *testing.T) {
	h := newHarness(t)
	action := discordgo.AuditLogActionMessageDelete
	h.fake.AuditLogs["g1"] = []*discordgo.AuditLogEntry{
		{TargetID: "u1", UserID: "mod", ActionType: &action, Options: &discordgo.AuditLogOptions{ChannelID: "c2"}},
		{TargetID: "u1", UserID: "mod2", ActionType: &action, Options: &discordgo.AuditLogOptions{ChannelID: "c1"}},
	}

	ev := &events.Event{Kind: events.MessageDelete, GuildID: "g1", Delete: &events.Deletion{
		MessageID: "900", ChannelID: "c1", Cached: cachedMessage("hello there"),
	}}
	require.NoError(t, h.module.HandleMessageDelete(context.Background(), ev))

	embed := h.onlyEmbed(t)
	assert.Equal(t, "<@u1>\n\nhello there", embed.Description)
	assert.Equal(t, "alice (u1) deleted message", embed.Author.Name)
	by, ok := fieldValue(embed, "Deleted by")
	require.True(t, ok)
	assert.Contains(t, by, "mod2")
	channel, _ := fieldValue(embed, "Channel")
	assert.Equal(t, "<#c1>", channel)
	assert.Equal(t, 1, h.fake.AuditLogCalls)
}

func TestLongDeletedContentIsPaginated(t *testing.T) {
	h := newHarness(t)
	content := strings.Repeat("word ", 450)
	ev := &events.Event{Kind: events.MessageDelete, GuildID: "g1", Delete: &events.Deletion{
		MessageID: "900", ChannelID: "c1", Cached: cachedMessage(content),
	}}
	require.NoError(t, h.module.HandleMessageDelete(context.Background(), ev))

	embed := h.onlyEmbed(t)
	assert.LessOrEqual(t, len([]rune(embed.Description)), pageLength)
	continued := 0
	for _, field := range embed.Fields {
		if field.Name == "Message Continued" {
			continued++
		}
	}
	assert.Equal(t, 2, continued)
}

func TestUncachedDeleteHonoursCachedOnly(t *testing.T) {
	h := newHarness(t)
	ev := &events.Event{Kind: events.MessageDelete, GuildID: "g1", Delete: &events.Deletion{MessageID: "900", ChannelID: "c1"}}

	require.NoError(t, h.module.HandleMessageDelete(context.Background(), ev))
	assert.Empty(t, h.logged(t))

	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.SetEvent(KindMessageDelete, func(e *EventSettings) { e.CachedOnly = false })
		return nil
	}))
	require.NoError(t, h.module.HandleMessageDelete(context.Background(), ev))
	embed := h.onlyEmbed(t)
	assert.Equal(t, "*Message's content unknown.*", embed.Description)
	assert.Equal(t, "Deleted Message", embed.Author.Name)
}

func TestEditWithSameContentIsIgnored(t *testing.T) {
	h := newHarness(t)
	before := cachedMessage("same")
	after := cachedMessage("same")
	ev := &events.Event{Kind: events.MessageEdit, GuildID: "g1", Before: before, Message: after}
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), ev))
	assert.Empty(t, h.logged(t))

	after.Content = "changed"
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), ev))
	embed := h.onlyEmbed(t)
	assert.Equal(t, "<@u1>: same", embed.Description)
	assert.Equal(t, "alice (u1) - Edited Message", embed.Author.Name)
}

func TestIgnoredCategorySuppressesEntries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.Ignored = []string{"cat"}
		return nil
	}))
	ev := &events.Event{Kind: events.MessageEdit, GuildID: "g1", Before: cachedMessage("a"), Message: cachedMessage("b")}
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), ev))
	assert.Empty(t, h.logged(t))
}

func TestDisabledKindAndMissingChannelEmitNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.SetEvent(KindMessageEdit, func(e *EventSettings) { e.Enabled = false })
		return nil
	}))
	ev := &events.Event{Kind: events.MessageEdit, GuildID: "g1", Before: cachedMessage("a"), Message: cachedMessage("b")}
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), ev))
	assert.Empty(t, h.logged(t))

	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.GlobalChannel = ""
		return nil
	}))
	role := &events.Event{Kind: events.RoleCreate, GuildID: "g1", Role: &events.RoleChange{RoleID: "r1", After: &discordgo.Role{ID: "r1", Name: "new"}}}
	require.NoError(t, h.module.HandleRoleCreate(context.Background(), role))
	assert.Empty(t, h.logged(t))
}

func TestPerEventChannelOverridesGlobal(t *testing.T) {
	h := newHarness(t)
	h.fake.AddChannel(&discordgo.Channel{ID: "roles-log", GuildID: "g1"})
	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.SetEvent(KindRoleCreate, func(e *EventSettings) { e.Channel = "roles-log" })
		return nil
	}))
	role := &events.Event{Kind: events.RoleCreate, GuildID: "g1", Role: &events.RoleChange{RoleID: "r1", After: &discordgo.Role{ID: "r1", Name: "new"}}}
	require.NoError(t, h.module.HandleRoleCreate(context.Background(), role))
	assert.Empty(t, h.logged(t))
	require.Len(t, h.fake.SentTo("roles-log"), 1)
}

func TestTextFallbackWithoutEmbedLinks(t *testing.T) {
	h := newHarness(t)
	h.fake.SetPerms("bot", logChannel, discordgo.PermissionSendMessages)
	ev := &events.Event{Kind: events.MessageEdit, GuildID: "g1", Before: cachedMessage("a"), Message: cachedMessage("b")}
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), ev))

	sent := h.logged(t)
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Embeds)
	assert.True(t, strings.HasPrefix(sent[0].Content, "📝 `12:30:00` **alice**"), sent[0].Content)
	assert.Contains(t, sent[0].Content, "> a")
	assert.Contains(t, sent[0].Content, "> b")
}

func TestChannelUpdateWithoutChangesIsSkipped(t *testing.T) {
	h := newHarness(t)
	before := &discordgo.Channel{ID: "c1", Name: "general", Type: discordgo.ChannelTypeGuildText}
	after := &discordgo.Channel{ID: "c1", Name: "general", Type: discordgo.ChannelTypeGuildText}
	ev := &events.Event{Kind: events.ChannelUpdate, GuildID: "g1", Channel: &events.ChannelChange{Before: before, After: after}}
	require.NoError(t, h.module.HandleChannelUpdate(context.Background(), ev))
	assert.Empty(t, h.logged(t))
	assert.Zero(t, h.fake.AuditLogCalls)

	after.Topic = "rules"
	after.PermissionOverwrites = []*discordgo.PermissionOverwrite{{ID: "r1", Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionSendMessages}}
	require.NoError(t, h.module.HandleChannelUpdate(context.Background(), ev))
	embed := h.onlyEmbed(t)
	topic, _ := fieldValue(embed, "After Topic:")
	assert.Equal(t, "rules", topic)
	perms, _ := fieldValue(embed, "Permissions")
	assert.Contains(t, perms, "<@&r1> · send_messages · neutral→deny")
}

func TestMemberLeaveReportsKick(t *testing.T) {
	h := newHarness(t)
	action := discordgo.AuditLogActionMemberKick
	h.fake.AuditLogs["g1"] = []*discordgo.AuditLogEntry{
		{TargetID: "u1", UserID: "mod", ActionType: &action, Reason: "spam"},
	}
	ev := &events.Event{Kind: events.MemberLeave, GuildID: "g1", Member: &events.MemberChange{
		Before: &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}},
	}}
	require.NoError(t, h.module.HandleMemberLeave(context.Background(), ev))

	embed := h.onlyEmbed(t)
	kicked, _ := fieldValue(embed, "Kicked")
	assert.Equal(t, "<@mod>", kicked)
	reason, _ := fieldValue(embed, "Reason")
	assert.Equal(t, "spam", reason)
	total, _ := fieldValue(embed, "Total Users:")
	assert.Equal(t, "12", total)
}

func TestMemberUpdateRespectsNicknameToggle(t *testing.T) {
	h := newHarness(t)
	ev := &events.Event{Kind: events.MemberUpdate, GuildID: "g1", Member: &events.MemberChange{
		Before: &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}, Nick: "a"},
		After:  &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "alice"}, Nick: "b"},
	}}
	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.SetEvent(KindUserChange, func(e *EventSettings) { e.Nicknames = false })
		return nil
	}))
	require.NoError(t, h.module.HandleMemberUpdate(context.Background(), ev))
	assert.Empty(t, h.logged(t))

	ev.Member.After.Roles = []string{"vip"}
	require.NoError(t, h.module.HandleMemberUpdate(context.Background(), ev))
	embed := h.onlyEmbed(t)
	assert.Contains(t, embed.Description, "<@u1> had the <@&vip> role applied.")
	assert.NotContains(t, embed.Description, "nickname")
}

func TestCommandAuditFiltersByPrivilege(t *testing.T) {
	h := newHarness(t)
	msg := cachedMessage("!retrigger list")
	ev := &events.Event{Kind: events.CommandInvoked, GuildID: "g1", Command: &events.CommandInvocation{
		Name: "retrigger list", Message: msg, Privilege: "NONE", CanRun: true,
	}}
	require.NoError(t, h.module.HandleCommand(context.Background(), ev))
	assert.Empty(t, h.logged(t))

	ev.Command.Privilege = "GUILD_OWNER"
	ev.Command.BotPerms = []string{"manage_messages"}
	require.NoError(t, h.module.HandleCommand(context.Background(), ev))
	embed := h.onlyEmbed(t)
	requires, _ := fieldValue(embed, "Requires")
	assert.Equal(t, "<@owner>\nGUILD_OWNER\n", requires)
	bot, _ := fieldValue(embed, "Bot Requires")
	assert.Equal(t, "Manage Messages", bot)
}

func TestMessageCreateFeedsHistory(t *testing.T) {
	h := newHarness(t)
	msg := cachedMessage("remember me")
	require.NoError(t, h.module.HandleMessageCreate(context.Background(), &events.Event{Kind: events.MessageCreate, GuildID: "g1", Message: msg}))
	require.NoError(t, h.module.HandleMessageCreate(context.Background(), &events.Event{
		Kind: events.MessageCreate, GuildID: "g1", Retrigger: true,
		Message: &events.Message{ID: "901", GuildID: "g1", ChannelID: "c1", Content: "synthetic"},
	}))

	records, err := h.history.Lookup(context.Background(), "g1", []string{"900", "901"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "remember me", records[0].Content)
	assert.Equal(t, "alice", records[0].Username)
}
