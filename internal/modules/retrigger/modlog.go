package retrigger

import (
	"context"
	"fmt"
	"strings"

	"guildkeeper/internal/platform"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/triggers"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const actionColor = 0x992D22

var actionLabels = map[triggers.ResponseKind]string{
	triggers.ResponseDelete:     "Deleted Message",
	triggers.ResponseKick:       "Kicked",
	triggers.ResponseBan:        "Banned",
	triggers.ResponseAddRole:    "Added Role",
	triggers.ResponseRemoveRole: "Removed Role",
}

func (s Settings) logs(kind triggers.ResponseKind) bool {
	switch kind {
	case triggers.ResponseDelete:
		return s.FilterLogs
	case triggers.ResponseKick:
		return s.KickLogs
	case triggers.ResponseBan:
		return s.BanLogs
	case triggers.ResponseAddRole:
		return s.AddRoleLogs
	case triggers.ResponseRemoveRole:
		return s.RemoveRoleLogs
	}
	return false
}

func (e *Engine) modlogChannel(guildID string, settings Settings) string {
	if settings.Modlog != "default" {
		return settings.Modlog
	}
	if e.modlog == nil {
		return ""
	}
	return e.modlog.GlobalChannel(guildID)
}

// logAction writes a moderation response to the guild's trigger modlog.
func (e *Engine) logAction(ctx context.Context, t *triggers.Trigger, env *messageEnv, res regexexec.Result, kind triggers.ResponseKind) {
	if !env.settings.logs(kind) {
		return
	}
	channelID := e.modlogChannel(env.msg.GuildID, env.settings)
	if channelID == "" {
		return
	}
	embed := actionEmbed(t, env, res, kind)
	send := &discordgo.MessageSend{
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	perms := e.access.Permissions(e.platform.BotUserID(), channelID)
	if platform.HasPermission(perms, discordgo.PermissionEmbedLinks) {
		send.Embeds = []*discordgo.MessageEmbed{embed}
	} else {
		send.Content = escapeMassMentions(embedText(embed))
	}
	if _, err := e.platform.SendMessage(channelID, send); err != nil {
		e.logger.Debug("trigger modlog failed",
			zap.String("guild_id", env.msg.GuildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
	}
}

func actionEmbed(t *triggers.Trigger, env *messageEnv, res regexexec.Result, kind triggers.ResponseKind) *discordgo.MessageEmbed {
	msg := env.msg
	embed := &discordgo.MessageEmbed{
		Description: utils.Truncate(msg.Content, 4096),
		Color:       actionColor,
		Timestamp:   msg.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("%s - %s", msg.Author.Tag(), actionLabels[kind]),
			IconURL: msg.Author.AvatarURL(),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "User ID: " + msg.Author.ID},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: "<#" + msg.ChannelID + ">", Inline: true},
			{Name: "Trigger Name", Value: t.Name, Inline: true},
		},
	}
	if len(res.Matches) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Found Triggers",
			Value: utils.Truncate(strings.Join(res.Matches, ", "), 1024),
		})
	}
	if t.Author != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Trigger author", Value: "<@" + t.Author + ">", Inline: true})
	}
	if len(msg.Attachments) > 0 {
		urls := make([]string, 0, len(msg.Attachments))
		for _, attachment := range msg.Attachments {
			urls = append(urls, attachment.URL)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Attachments",
			Value: utils.Truncate(strings.Join(urls, "\n"), 1024),
		})
	}
	return embed
}

// embedText renders the embed for channels where the bot cannot embed.
func embedText(embed *discordgo.MessageEmbed) string {
	var b strings.Builder
	b.WriteString("**" + embed.Author.Name + "**\n")
	for _, field := range embed.Fields {
		fmt.Fprintf(&b, "%s: %s\n", field.Name, field.Value)
	}
	if embed.Description != "" {
		b.WriteString(embed.Description + "\n")
	}
	b.WriteString(embed.Footer.Text)
	return utils.Truncate(b.String(), 2000)
}
