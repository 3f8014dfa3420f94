package events

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Kind string

const (
	MessageCreate     Kind = "message_create"
	MessageEdit       Kind = "message_edit"
	MessageDelete     Kind = "message_delete"
	MessageBulkDelete Kind = "message_bulk_delete"
	ReactionAdd       Kind = "reaction_add"
	ReactionRemove    Kind = "reaction_remove"
	MemberJoin        Kind = "member_join"
	MemberLeave       Kind = "member_leave"
	MemberUpdate      Kind = "member_update"
	ChannelCreate     Kind = "channel_create"
	ChannelUpdate     Kind = "channel_update"
	ChannelDelete     Kind = "channel_delete"
	RoleCreate        Kind = "role_create"
	RoleUpdate        Kind = "role_update"
	RoleDelete        Kind = "role_delete"
	GuildUpdate       Kind = "guild_update"
	VoiceStateUpdate  Kind = "voice_state_update"
	EmojiUpdate       Kind = "emoji_update"
	InviteCreate      Kind = "invite_create"
	InviteDelete      Kind = "invite_delete"
	CommandInvoked    Kind = "command_invoked"
)

type Event struct {
	Kind      Kind
	GuildID   string
	ChannelID string
	At        time.Time
	// Retrigger marks events synthesized by trigger responses. Only the
	// command router consumes them.
	Retrigger bool

	Message    *Message
	Before     *Message
	Delete     *Deletion
	BulkDelete *BulkDeletion
	Reaction   *Reaction
	Member     *MemberChange
	Channel    *ChannelChange
	Role       *RoleChange
	Guild      *GuildChange
	Voice      *VoiceChange
	Emoji      *EmojiChange
	Invite     *InviteChange
	Command    *CommandInvocation

	Raw any
}

type User struct {
	ID            string
	Username      string
	Discriminator string
	Avatar        string
	Bot           bool
	System        bool
}

func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

func (u User) AvatarURL() string {
	return (&discordgo.User{ID: u.ID, Avatar: u.Avatar, Discriminator: u.Discriminator}).AvatarURL("")
}

func UserFrom(u *discordgo.User) User {
	if u == nil {
		return User{}
	}
	return User{ID: u.ID, Username: u.Username, Discriminator: u.Discriminator, Avatar: u.Avatar, Bot: u.Bot, System: u.System}
}

func (u User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ProxyURL    string
	Size        int
	ContentType string
}

type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	Author      User
	Nick        string
	MemberRoles []string
	Content     string
	Attachments []Attachment
	Embeds      []*discordgo.MessageEmbed
	WebhookID   string
	CreatedAt   time.Time
	EditedAt    *time.Time
}

func (m *Message) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Author.Username
}

func (m *Message) JumpURL() string {
	return "https://discord.com/channels/" + m.GuildID + "/" + m.ChannelID + "/" + m.ID
}

type Deletion struct {
	MessageID string
	ChannelID string
	// Cached is nil when the platform no longer held the message body.
	Cached *Message
}

type BulkDeletion struct {
	ChannelID  string
	MessageIDs []string
	Cached     []*Message
}

type Emoji struct {
	ID       string
	Name     string
	Animated bool
}

// Key identifies an emoji the way bindings store it: custom emoji by id,
// unicode emoji by name.
func (e Emoji) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

// APIName is the form accepted by reaction endpoints.
func (e Emoji) APIName() string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

var customEmoji = regexp.MustCompile(`^<(a?):([A-Za-z0-9_~]+):(\d+)>$`)

// ParseEmoji accepts a custom emoji mention, a "name:id" pair or a unicode
// emoji.
func ParseEmoji(value string) (Emoji, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Emoji{}, false
	}
	if m := customEmoji.FindStringSubmatch(value); m != nil {
		return Emoji{ID: m[3], Name: m[2], Animated: m[1] == "a"}, true
	}
	if name, id, ok := strings.Cut(value, ":"); ok && isDigits(id) && name != "" {
		return Emoji{ID: id, Name: strings.TrimPrefix(name, "a"), Animated: false}, true
	}
	if strings.ContainsAny(value, " <>:") {
		return Emoji{}, false
	}
	return Emoji{Name: value}, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e Emoji) String() string {
	if e.ID == "" {
		return e.Name
	}
	if e.Animated {
		return "<a:" + e.Name + ":" + e.ID + ">"
	}
	return "<:" + e.Name + ":" + e.ID + ">"
}

type Reaction struct {
	UserID      string
	UserBot     bool
	MemberRoles []string
	ChannelID   string
	MessageID   string
	Emoji       Emoji
}

type MemberChange struct {
	Before *discordgo.Member
	After  *discordgo.Member
}

type ChannelChange struct {
	Before *discordgo.Channel
	After  *discordgo.Channel
}

type RoleChange struct {
	RoleID string
	Before *discordgo.Role
	After  *discordgo.Role
}

type GuildChange struct {
	Before *discordgo.Guild
	After  *discordgo.Guild
}

type VoiceChange struct {
	UserID string
	Before *discordgo.VoiceState
	After  *discordgo.VoiceState
}

type EmojiChange struct {
	Before []*discordgo.Emoji
	After  []*discordgo.Emoji
}

type InviteChange struct {
	Code      string
	ChannelID string
	Inviter   *discordgo.User
	MaxUses   int
	MaxAge    int
	Temporary bool
}

type CommandInvocation struct {
	Name      string
	Message   *Message
	Privilege string
	CanRun    bool
	UserPerms []string
	BotPerms  []string
	Roles     []string
}

// SnowflakeTime extracts the creation time encoded in a platform id.
func SnowflakeTime(id string) (time.Time, bool) {
	value, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	ms := int64(value>>22) + 1420070400000
	return time.UnixMilli(ms), true
}

// SnowflakeLess orders ids numerically; non-numeric ids sort by string.
func SnowflakeLess(a, b string) bool {
	av, aerr := strconv.ParseUint(a, 10, 64)
	bv, berr := strconv.ParseUint(b, 10, 64)
	if aerr != nil || berr != nil {
		return a < b
	}
	return av < bv
}
