package modlog

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelChangesDependOnType(t *testing.T) {
	text := channelChanges(
		&discordgo.Channel{Name: "a", Topic: "", Position: 1, Type: discordgo.ChannelTypeGuildText},
		&discordgo.Channel{Name: "b", Topic: "t", Position: 2, NSFW: true, Type: discordgo.ChannelTypeGuildText},
	)
	assert.Equal(t, []change{
		{Label: "Name:", Before: "a", After: "b"},
		{Label: "Topic:", Before: "None", After: "t"},
		{Label: "NSFW", Before: "false", After: "true"},
	}, text)

	voice := channelChanges(
		&discordgo.Channel{Name: "v", Position: 1, Bitrate: 64000, Type: discordgo.ChannelTypeGuildVoice},
		&discordgo.Channel{Name: "v", Position: 2, Bitrate: 96000, Topic: "ignored", Type: discordgo.ChannelTypeGuildVoice},
	)
	assert.Equal(t, []change{
		{Label: "Position:", Before: "1", After: "2"},
		{Label: "Bitrate:", Before: "64000", After: "96000"},
	}, voice)
}

func TestOverwriteChangesAreOrdered(t *testing.T) {
	before := []*discordgo.PermissionOverwrite{
		{ID: "20", Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionSendMessages},
		{ID: "5", Type: discordgo.PermissionOverwriteTypeMember, Deny: discordgo.PermissionViewChannel},
	}
	after := []*discordgo.PermissionOverwrite{
		{ID: "20", Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionSendMessages | discordgo.PermissionAddReactions},
		{ID: "100", Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionEmbedLinks},
	}
	assert.Equal(t, []string{
		"<@5> Overwrites removed.",
		"<@5> · view_channel · deny→neutral",
		"<@&20> · add_reactions · neutral→deny",
		"<@&20> · send_messages · allow→deny",
		"<@&100> Overwrites added.",
		"<@&100> · embed_links · neutral→allow",
	}, overwriteChanges(before, after))

	assert.Empty(t, overwriteChanges(before, before))
}

func TestRolePermissionChanges(t *testing.T) {
	lines := rolePermissionChanges(discordgo.PermissionKickMembers, discordgo.PermissionBanMembers)
	assert.Equal(t, []string{"kick_members Set to **false**", "ban_members Set to **true**"}, lines)

	changes := roleChanges(&discordgo.Role{Name: "r", Color: 0xff0000}, &discordgo.Role{Name: "r", Color: 0x00ff00, Hoist: true})
	assert.Equal(t, []change{
		{Label: "Colour:", Before: "#ff0000", After: "#00ff00"},
		{Label: "Is Hoisted:", Before: "false", After: "true"},
	}, changes)
}

func TestGuildChangesReportIconSeparately(t *testing.T) {
	changes, icon := guildChanges(
		&discordgo.Guild{Name: "a", Icon: "x", VerificationLevel: discordgo.VerificationLevelLow},
		&discordgo.Guild{Name: "a", Icon: "y", VerificationLevel: discordgo.VerificationLevelHigh, OwnerID: "9"},
	)
	assert.True(t, icon)
	assert.Equal(t, []change{
		{Label: "Server Owner:", Before: "None", After: "<@9>"},
		{Label: "Verification Level:", Before: "low", After: "high"},
	}, changes)
}

func TestRoleDelta(t *testing.T) {
	added, removed := roleDelta([]string{"a", "b", "c"}, []string{"c", "d", "a"})
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"b"}, removed)

	added, removed = roleDelta(nil, nil)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestDescribeVoice(t *testing.T) {
	joined := describeVoice("<@u>", nil, &discordgo.VoiceState{ChannelID: "v1"})
	assert.Equal(t, voiceChange{Kind: "channel", Description: "<@u> has joined <#v1>"}, joined)

	moved := describeVoice("<@u>", &discordgo.VoiceState{ChannelID: "v1"}, &discordgo.VoiceState{ChannelID: "v2"})
	assert.Equal(t, "<@u> has moved from <#v1> to <#v2>", moved.Description)

	muted := describeVoice("<@u>", &discordgo.VoiceState{ChannelID: "v1"}, &discordgo.VoiceState{ChannelID: "v1", Mute: true})
	assert.Equal(t, voiceChange{Kind: "mute", Description: "<@u> was muted."}, muted)

	selfOnly := describeVoice("<@u>", &discordgo.VoiceState{ChannelID: "v1"}, &discordgo.VoiceState{ChannelID: "v1", SelfMute: true})
	assert.Empty(t, selfOnly.Kind)
}

func TestEmojiChanges(t *testing.T) {
	before := []*discordgo.Emoji{{ID: "1", Name: "old"}, {ID: "2", Name: "gone"}}
	after := []*discordgo.Emoji{{ID: "1", Name: "new", Roles: []string{"r"}}, {ID: "3", Name: "fresh"}}

	lines, action, target := emojiChanges(before, after)
	require.Len(t, lines, 4)
	assert.Equal(t, "<:new:1> `new` Renamed from old to new", lines[0])
	assert.Equal(t, "<:new:1> `new` Restricted to roles: <@&r>", lines[1])
	assert.Equal(t, "<:fresh:3> `fresh` Added to the guild", lines[2])
	assert.Equal(t, "`gone` (ID: 2) Removed from the guild", lines[3])
	assert.Equal(t, discordgo.AuditLogActionEmojiDelete, action)
	assert.Equal(t, "2", target)

	lines, _, _ = emojiChanges(before, before)
	assert.Empty(t, lines)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "a b c", shorten("a   b\nc", 10, "..."))
	assert.Equal(t, "alpha...", shorten("alpha beta gamma", 12, "..."))
	assert.Equal(t, "...", shorten("supercalifragilistic", 5, "..."))
}
