package platform

import (
	"github.com/bwmarrin/discordgo"
)

// Discord serves reads from the gateway state when possible and falls back
// to REST.
type Discord struct {
	session *discordgo.Session
}

var _ Client = (*Discord)(nil)

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) BotUserID() string {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

func (d *Discord) Guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := d.session.State.Guild(guildID); err == nil {
		return guild, nil
	}
	return d.session.Guild(guildID)
}

func (d *Discord) Channel(channelID string) (*discordgo.Channel, error) {
	if channel, err := d.session.State.Channel(channelID); err == nil {
		return channel, nil
	}
	return d.session.Channel(channelID)
}

func (d *Discord) Member(guildID, userID string) (*discordgo.Member, error) {
	if member, err := d.session.State.Member(guildID, userID); err == nil {
		return member, nil
	}
	member, err := d.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, err
	}
	_ = d.session.State.MemberAdd(member)
	return member, nil
}

func (d *Discord) Message(channelID, messageID string) (*discordgo.Message, error) {
	if message, err := d.session.State.Message(channelID, messageID); err == nil {
		return message, nil
	}
	return d.session.ChannelMessage(channelID, messageID)
}

func (d *Discord) UserChannelPermissions(userID, channelID string) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID)
}

func (d *Discord) AuditLog(guildID string, action discordgo.AuditLogAction, limit int) (*discordgo.GuildAuditLog, error) {
	return d.session.GuildAuditLog(guildID, "", "", int(action), limit)
}

func (d *Discord) MessageReactions(channelID, messageID, emoji string, limit int) ([]*discordgo.User, error) {
	return d.session.MessageReactions(channelID, messageID, emoji, limit, "", "")
}

func (d *Discord) SendMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, msg)
}

func (d *Discord) EditMessage(edit *discordgo.MessageEdit) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditComplex(edit)
}

func (d *Discord) DeleteMessage(channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID)
}

func (d *Discord) PublishMessage(channelID, messageID string) error {
	_, err := d.session.ChannelMessageCrosspost(channelID, messageID)
	return err
}

func (d *Discord) DirectMessage(userID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return nil, err
	}
	return d.session.ChannelMessageSendComplex(channel.ID, msg)
}

func (d *Discord) AddReaction(channelID, messageID, emoji string) error {
	return d.session.MessageReactionAdd(channelID, messageID, emoji)
}

func (d *Discord) ClearEmojiReactions(channelID, messageID, emoji string) error {
	return d.session.MessageReactionsRemoveEmoji(channelID, messageID, emoji)
}

func (d *Discord) AddRole(guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (d *Discord) RemoveRole(guildID, userID, roleID string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (d *Discord) Kick(guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (d *Discord) Ban(guildID, userID, reason string, deleteDays int) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, deleteDays)
}

func (d *Discord) SetNickname(guildID, userID, nick string) error {
	return d.session.GuildMemberNickname(guildID, userID, nick)
}
