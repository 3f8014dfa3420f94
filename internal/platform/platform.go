package platform

import (
	"github.com/bwmarrin/discordgo"
)

// Client is the subset of the chat platform the engines act through.
type Client interface {
	BotUserID() string

	Guild(guildID string) (*discordgo.Guild, error)
	Channel(channelID string) (*discordgo.Channel, error)
	Member(guildID, userID string) (*discordgo.Member, error)
	Message(channelID, messageID string) (*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string) (int64, error)
	AuditLog(guildID string, action discordgo.AuditLogAction, limit int) (*discordgo.GuildAuditLog, error)
	MessageReactions(channelID, messageID, emoji string, limit int) ([]*discordgo.User, error)

	SendMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(edit *discordgo.MessageEdit) (*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
	PublishMessage(channelID, messageID string) error
	DirectMessage(userID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	AddReaction(channelID, messageID, emoji string) error
	ClearEmojiReactions(channelID, messageID, emoji string) error

	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, deleteDays int) error
	SetNickname(guildID, userID, nick string) error
}
