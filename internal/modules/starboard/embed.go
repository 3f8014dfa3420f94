package starboard

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"guildkeeper/internal/events"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

// source is the part of an original message a mirror shows.
type source struct {
	GuildID     string
	ChannelID   string
	MessageID   string
	Author      events.User
	AuthorRoles []string
	Content     string
	At          time.Time
	Attachments []events.Attachment
	Embeds      []*discordgo.MessageEmbed
}

func (s source) jumpURL() string {
	return "https://discord.com/channels/" + s.GuildID + "/" + s.ChannelID + "/" + s.MessageID
}

func sourceFromMessage(guildID string, msg *discordgo.Message) source {
	src := source{
		GuildID:   guildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Author:    events.UserFrom(msg.Author),
		Content:   msg.Content,
		At:        msg.Timestamp,
		Embeds:    msg.Embeds,
	}
	if msg.Member != nil {
		src.AuthorRoles = msg.Member.Roles
	}
	for _, a := range msg.Attachments {
		src.Attachments = append(src.Attachments, events.Attachment{
			ID: a.ID, Filename: a.Filename, URL: a.URL, ProxyURL: a.ProxyURL, Size: a.Size, ContentType: a.ContentType,
		})
	}
	return src
}

func sourceFromEvent(msg *events.Message) source {
	return source{
		GuildID:     msg.GuildID,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.ID,
		Author:      msg.Author,
		AuthorRoles: msg.MemberRoles,
		Content:     msg.Content,
		At:          msg.CreatedAt,
		Attachments: msg.Attachments,
		Embeds:      msg.Embeds,
	}
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

func isImage(a events.Attachment) bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}
	return imageExts[strings.ToLower(path.Ext(a.Filename))]
}

// counter is the mirror's message content.
func counter(board *Starboard, count int) string {
	return fmt.Sprintf("%s **%d**", board.emoji(), count)
}

func (m *Module) colour(guild *discordgo.Guild, board *Starboard, src source) int {
	switch board.Colour {
	case ColourBot:
		bot, err := m.platform.Member(guild.ID, m.platform.BotUserID())
		if err != nil {
			return 0
		}
		return platform.RoleColor(guild, bot.Roles)
	case ColourAuthor:
		roles := src.AuthorRoles
		if roles == nil {
			if member, err := m.platform.Member(guild.ID, src.Author.ID); err == nil {
				roles = member.Roles
			}
		}
		return platform.RoleColor(guild, roles)
	}
	n, _ := strconv.Atoi(board.Colour)
	return n
}

// mirrorEmbed renders the original: author, text, first image and a link
// back.
func (m *Module) mirrorEmbed(guild *discordgo.Guild, board *Starboard, src source) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Color:       m.colour(guild, board, src),
		Description: src.Content,
		Author:      &discordgo.MessageEmbedAuthor{Name: src.Author.Tag(), IconURL: src.Author.AvatarURL()},
	}
	if !src.At.IsZero() {
		embed.Timestamp = src.At.Format(time.RFC3339)
	}
	for _, e := range src.Embeds {
		if embed.Description == "" && e.Description != "" {
			embed.Description = e.Description
		}
		if embed.Image == nil && e.Image != nil && e.Image.URL != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: e.Image.URL}
		}
		if embed.Image == nil && e.Thumbnail != nil && e.Thumbnail.URL != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: e.Thumbnail.URL}
		}
	}
	for _, a := range src.Attachments {
		if isImage(a) {
			embed.Image = &discordgo.MessageEmbedImage{URL: a.URL}
			break
		}
	}
	embed.Description = utils.Truncate(embed.Description, 4096)
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  "Source",
		Value: "[Jump to message](" + src.jumpURL() + ")",
	})
	if channel, err := m.platform.Channel(src.ChannelID); err == nil && channel.Name != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "#" + channel.Name}
	}
	return embed
}
