// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
)

type Sent struct {
	ChannelID string
	Message   *discordgo.MessageSend
	ID        string
}

type RoleChange struct {
	GuildID string
	UserID  string
	RoleID  string
}

type Fake struct {
	mu sync.Mutex

	BotID     string
	Guilds    map[string]*discordgo.Guild
	Channels  map[string]*discordgo.Channel
	Members   map[string]*discordgo.Member
	Messages  map[string]*discordgo.Message
	Perms     map[string]int64
	AuditLogs map[string][]*discordgo.AuditLogEntry
	Reactions map[string][]*discordgo.User
	Fail      map[string]error

	SentMessages   []Sent
	DMs            []Sent
	Edits          []*discordgo.MessageEdit
	Deleted        []string
	Published      []string
	ReactionsAdded []string
	Cleared        []string
	RoleAdds       []RoleChange
	RoleRemoves    []RoleChange
	Kicks          []string
	Bans           []string
	Nicknames      map[string]string
	AuditLogCalls  int

	nextID uint64
}

var _ platform.Client = (*Fake)(nil)

func New(botID string) *Fake {
	return &Fake{
		BotID:     botID,
		Guilds:    make(map[string]*discordgo.Guild),
		Channels:  make(map[string]*discordgo.Channel),
		Members:   make(map[string]*discordgo.Member),
		Messages:  make(map[string]*discordgo.Message),
		Perms:     make(map[string]int64),
		AuditLogs: make(map[string][]*discordgo.AuditLogEntry),
		Reactions: make(map[string][]*discordgo.User),
		Fail:      make(map[string]error),
		Nicknames: make(map[string]string),
		nextID:    900000000000000000,
	}
}

// NotFound and Forbidden build errors the platform error taxonomy recognises.
func NotFound() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func Forbidden() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
}

func key(parts ...string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "/"
		}
		out += part
	}
	return out
}

func (f *Fake) AddGuild(guild *discordgo.Guild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Guilds[guild.ID] = guild
	for _, channel := range guild.Channels {
		f.Channels[channel.ID] = channel
	}
}

func (f *Fake) AddChannel(channel *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Channels[channel.ID] = channel
}

func (f *Fake) AddMember(guildID string, member *discordgo.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member.GuildID = guildID
	f.Members[key(guildID, member.User.ID)] = member
}

func (f *Fake) AddMessage(message *discordgo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages[key(message.ChannelID, message.ID)] = message
}

func (f *Fake) SetPerms(userID, channelID string, perms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Perms[key(userID, channelID)] = perms
}

func (f *Fake) SetReactors(channelID, messageID, emoji string, users ...*discordgo.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[key(channelID, messageID, emoji)] = users
}

func (f *Fake) fail(method string) error {
	if err, ok := f.Fail[method]; ok {
		return err
	}
	return nil
}

func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SentMessages)
}

func (f *Fake) LastSent() (Sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SentMessages) == 0 {
		return Sent{}, false
	}
	return f.SentMessages[len(f.SentMessages)-1], true
}

func (f *Fake) SentTo(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, sent := range f.SentMessages {
		if sent.ChannelID == channelID {
			out = append(out, sent)
		}
	}
	return out
}

func (f *Fake) HasDeleted(channelID, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, deleted := range f.Deleted {
		if deleted == key(channelID, messageID) {
			return true
		}
	}
	return false
}

func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.Members[key(guildID, userID)]
	if !ok {
		return nil
	}
	return append([]string(nil), member.Roles...)
}

func (f *Fake) BotUserID() string {
	return f.BotID
}

func (f *Fake) Guild(guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Guild"); err != nil {
		return nil, err
	}
	guild, ok := f.Guilds[guildID]
	if !ok {
		return nil, NotFound()
	}
	return guild, nil
}

func (f *Fake) Channel(channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.Channels[channelID]
	if !ok {
		return nil, NotFound()
	}
	return channel, nil
}

func (f *Fake) Member(guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.Members[key(guildID, userID)]
	if !ok {
		return nil, NotFound()
	}
	copied := *member
	copied.Roles = append([]string(nil), member.Roles...)
	return &copied, nil
}

func (f *Fake) Message(channelID, messageID string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.Messages[key(channelID, messageID)]
	if !ok {
		return nil, NotFound()
	}
	return message, nil
}

func (f *Fake) UserChannelPermissions(userID, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Perms[key(userID, channelID)], nil
}

func (f *Fake) AuditLog(guildID string, action discordgo.AuditLogAction, limit int) (*discordgo.GuildAuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuditLogCalls++
	if err := f.fail("AuditLog"); err != nil {
		return nil, err
	}
	var entries []*discordgo.AuditLogEntry
	for _, entry := range f.AuditLogs[guildID] {
		if entry.ActionType != nil && *entry.ActionType == action {
			entries = append(entries, entry)
		}
		if len(entries) == limit {
			break
		}
	}
	return &discordgo.GuildAuditLog{AuditLogEntries: entries}, nil
}

func (f *Fake) MessageReactions(channelID, messageID, emoji string, limit int) ([]*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := f.Reactions[key(channelID, messageID, emoji)]
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *Fake) SendMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SendMessage"); err != nil {
		return nil, err
	}
	f.nextID++
	id := strconv.FormatUint(f.nextID, 10)
	message := &discordgo.Message{ID: id, ChannelID: channelID, Content: msg.Content, Embeds: msg.Embeds}
	if channel, ok := f.Channels[channelID]; ok {
		message.GuildID = channel.GuildID
	}
	f.Messages[key(channelID, id)] = message
	f.SentMessages = append(f.SentMessages, Sent{ChannelID: channelID, Message: msg, ID: id})
	return message, nil
}

func (f *Fake) EditMessage(edit *discordgo.MessageEdit) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.Messages[key(edit.Channel, edit.ID)]
	if !ok {
		return nil, NotFound()
	}
	if edit.Content != nil {
		message.Content = *edit.Content
	}
	if edit.Embeds != nil {
		message.Embeds = edit.Embeds
	}
	f.Edits = append(f.Edits, edit)
	return message, nil
}

func (f *Fake) DeleteMessage(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteMessage"); err != nil {
		return err
	}
	delete(f.Messages, key(channelID, messageID))
	f.Deleted = append(f.Deleted, key(channelID, messageID))
	return nil
}

func (f *Fake) PublishMessage(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, key(channelID, messageID))
	return nil
}

func (f *Fake) DirectMessage(userID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DirectMessage"); err != nil {
		return nil, err
	}
	f.nextID++
	id := strconv.FormatUint(f.nextID, 10)
	f.DMs = append(f.DMs, Sent{ChannelID: userID, Message: msg, ID: id})
	return &discordgo.Message{ID: id, Content: msg.Content}, nil
}

func (f *Fake) AddReaction(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddReaction"); err != nil {
		return err
	}
	f.ReactionsAdded = append(f.ReactionsAdded, key(channelID, messageID, emoji))
	return nil
}

func (f *Fake) ClearEmojiReactions(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cleared = append(f.Cleared, key(channelID, messageID, emoji))
	return nil
}

func (f *Fake) AddRole(guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddRole"); err != nil {
		return err
	}
	member, ok := f.Members[key(guildID, userID)]
	if !ok {
		return NotFound()
	}
	for _, existing := range member.Roles {
		if existing == roleID {
			return nil
		}
	}
	member.Roles = append(member.Roles, roleID)
	f.RoleAdds = append(f.RoleAdds, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	return nil
}

func (f *Fake) RemoveRole(guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveRole"); err != nil {
		return err
	}
	member, ok := f.Members[key(guildID, userID)]
	if !ok {
		return NotFound()
	}
	kept := member.Roles[:0]
	for _, existing := range member.Roles {
		if existing != roleID {
			kept = append(kept, existing)
		}
	}
	member.Roles = kept
	f.RoleRemoves = append(f.RoleRemoves, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	return nil
}

func (f *Fake) Kick(guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Kick"); err != nil {
		return err
	}
	f.Kicks = append(f.Kicks, key(guildID, userID))
	return nil
}

func (f *Fake) Ban(guildID, userID, reason string, deleteDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Ban"); err != nil {
		return err
	}
	f.Bans = append(f.Bans, key(guildID, userID))
	return nil
}

func (f *Fake) SetNickname(guildID, userID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetNickname"); err != nil {
		return err
	}
	f.Nicknames[key(guildID, userID)] = nick
	return nil
}

var ErrInjected = errors.New("injected failure")
