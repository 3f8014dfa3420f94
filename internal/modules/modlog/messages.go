package modlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"guildkeeper/internal/events"
	"guildkeeper/internal/history"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// maxReupload caps a single re-uploaded attachment.
const maxReupload = 8 << 20

// HandleMessageCreate records guild messages so bulk deletions can be
// reconstructed later.
func (m *Module) HandleMessageCreate(ctx context.Context, ev *events.Event) error {
	if ev.Retrigger || ev.GuildID == "" || ev.Message == nil || m.history == nil {
		return nil
	}
	msg := ev.Message
	record := history.Record{
		MessageID:     msg.ID,
		GuildID:       ev.GuildID,
		ChannelID:     msg.ChannelID,
		UserID:        msg.Author.ID,
		Username:      msg.Author.Username,
		Discriminator: msg.Author.Discriminator,
		Avatar:        msg.Author.Avatar,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
	}
	if len(msg.Embeds) > 0 {
		raw, err := json.Marshal(msg.Embeds)
		if err == nil {
			record.Embeds = raw
		}
	}
	if err := m.history.Save(ctx, record); err != nil {
		return fmt.Errorf("saving message history: %w", err)
	}
	return nil
}

func (m *Module) HandleMessageEdit(ctx context.Context, ev *events.Event) error {
	if ev.Retrigger || ev.GuildID == "" || ev.Before == nil || ev.Message == nil {
		return nil
	}
	settings, event, channelID := m.target(ev.GuildID, KindMessageEdit)
	if channelID == "" {
		return nil
	}
	before, after := ev.Before, ev.Message
	if before.Author.Bot && !event.Bots {
		return nil
	}
	if before.Content == after.Content {
		return nil
	}
	if settings.IsIgnored(after.ChannelID, m.parentOf(after.ChannelID)) {
		return nil
	}

	embed := newEmbed(settings.Colour(KindMessageEdit), before.CreatedAt)
	embed.Description = utils.Truncate(before.Author.Mention()+": "+before.Content, descriptionLimit)
	addField(embed, "After Message:", fmt.Sprintf("[Click to see new message](%s)", after.JumpURL()), true)
	addField(embed, "Channel:", channelMention(after.ChannelID), true)
	setAuthor(embed, fmt.Sprintf("%s - Edited Message", userLine(before.Author)), before.Author.AvatarURL())

	text := fmt.Sprintf("**%s** (`%s`) edited a message in %s.\nBefore:\n%s\nAfter:\n%s",
		before.Author.Tag(), before.Author.ID, channelMention(after.ChannelID), quote(before.Content), quote(after.Content))
	m.emit(ctx, ev.GuildID, channelID, KindMessageEdit, event, entry{embed: embed, text: text})
	return nil
}

func (m *Module) HandleMessageDelete(ctx context.Context, ev *events.Event) error {
	if ev.GuildID == "" || ev.Delete == nil {
		return nil
	}
	settings, event, channelID := m.target(ev.GuildID, KindMessageDelete)
	if channelID == "" {
		return nil
	}
	del := ev.Delete
	if settings.IsIgnored(del.ChannelID, m.parentOf(del.ChannelID)) {
		return nil
	}
	if del.Cached == nil {
		if event.CachedOnly {
			return nil
		}
		embed := newEmbed(settings.Colour(KindMessageDelete), m.now())
		embed.Description = "*Message's content unknown.*"
		addField(embed, "Channel", channelMention(del.ChannelID), true)
		setAuthor(embed, "Deleted Message", "")
		text := fmt.Sprintf("A message was deleted in %s\n> *Message's content unknown.*", channelMention(del.ChannelID))
		m.emit(ctx, ev.GuildID, channelID, KindMessageDelete, event, entry{embed: embed, text: text})
		return nil
	}

	msg := del.Cached
	if msg.Author.Bot && !event.Bots {
		return nil
	}
	if msg.Content == "" && len(msg.Attachments) == 0 {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, discordgo.AuditLogActionMessageDelete, msg.Author.ID, del.ChannelID)

	pages := utils.Pagify(msg.Author.Mention()+"\n\n"+msg.Content, pageLength)
	embed := newEmbed(settings.Colour(KindMessageDelete), msg.CreatedAt)
	embed.Description = pages[0]
	for _, page := range pages[1:] {
		addField(embed, "Message Continued", page, false)
	}
	addField(embed, "Channel", channelMention(del.ChannelID), true)
	if perp.known() {
		addField(embed, "Deleted by", "<@"+perp.UserID+"> ("+perp.UserID+")", true)
	}
	var files []*discordgo.File
	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, attachment := range msg.Attachments {
			names = append(names, attachment.Filename)
			if file := m.fetchAttachment(ctx, attachment); file != nil {
				files = append(files, file)
			}
		}
		addField(embed, "attachments", strings.Join(names, ", "), false)
	}
	setAuthor(embed, userLine(msg.Author)+" deleted message", msg.Author.AvatarURL())

	text := fmt.Sprintf("**%s** (`%s`) message was deleted in %s\n%s",
		msg.Author.Tag(), msg.Author.ID, channelMention(del.ChannelID), quote(msg.Content))
	if perp.known() {
		text += "\nDeleted by <@" + perp.UserID + ">"
	}
	m.emit(ctx, ev.GuildID, channelID, KindMessageDelete, event, entry{embed: embed, text: text, files: files})
	return nil
}

// fetchAttachment downloads a deleted message's attachment for re-upload.
// Failures are logged and skipped; the entry still lists the filename.
func (m *Module) fetchAttachment(ctx context.Context, attachment events.Attachment) *discordgo.File {
	if attachment.Size > maxReupload {
		return nil
	}
	for _, source := range []string{attachment.ProxyURL, attachment.URL} {
		if source == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			continue
		}
		resp, err := m.http.Do(req)
		if err != nil {
			m.logger.Warn("unable to fetch attachment", zap.String("url", source), zap.Error(err))
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxReupload+1))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK || len(body) > maxReupload {
			m.logger.Warn("unable to fetch attachment", zap.String("url", source), zap.Int("status", resp.StatusCode))
			continue
		}
		return &discordgo.File{
			Name:        attachment.Filename,
			ContentType: attachment.ContentType,
			Reader:      bytes.NewReader(body),
		}
	}
	return nil
}
