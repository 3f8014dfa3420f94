package modlog

import (
	"fmt"
	"strings"

	"guildkeeper/internal/kv"

	"go.uber.org/zap"
)

const settingsKey = "modlog"

type Kind string

const (
	KindMessageEdit   Kind = "message_edit"
	KindMessageDelete Kind = "message_delete"
	KindUserChange    Kind = "user_change"
	KindRoleChange    Kind = "role_change"
	KindRoleCreate    Kind = "role_create"
	KindRoleDelete    Kind = "role_delete"
	KindVoiceChange   Kind = "voice_change"
	KindUserJoin      Kind = "user_join"
	KindUserLeft      Kind = "user_left"
	KindChannelChange Kind = "channel_change"
	KindChannelCreate Kind = "channel_create"
	KindChannelDelete Kind = "channel_delete"
	KindGuildChange   Kind = "guild_change"
	KindEmojiChange   Kind = "emoji_change"
	KindCommandsUsed  Kind = "commands_used"
	KindInviteCreated Kind = "invite_created"
	KindInviteDeleted Kind = "invite_deleted"
)

var Kinds = []Kind{
	KindMessageEdit, KindMessageDelete, KindUserChange, KindRoleChange, KindRoleCreate,
	KindRoleDelete, KindVoiceChange, KindUserJoin, KindUserLeft, KindChannelChange,
	KindChannelCreate, KindChannelDelete, KindGuildChange, KindEmojiChange,
	KindCommandsUsed, KindInviteCreated, KindInviteDeleted,
}

// ParseKind accepts the member_ aliases operators tend to type.
func ParseKind(value string) (Kind, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if strings.HasPrefix(value, "member_") {
		value = "user_" + strings.TrimPrefix(value, "member_")
	}
	for _, kind := range Kinds {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%q is not an available event option", value)
}

type EventSettings struct {
	Enabled bool   `json:"enabled" msgpack:"enabled"`
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`
	Emoji   string `json:"emoji,omitempty" msgpack:"emoji,omitempty"`
	// Colour overrides the kind's default embed colour when non-zero.
	Colour int  `json:"colour,omitempty" msgpack:"colour,omitempty"`
	Bots   bool `json:"bots,omitempty" msgpack:"bots,omitempty"`

	// message_delete only.
	CachedOnly  bool `json:"cached_only" msgpack:"cached_only"`
	BulkEnabled bool `json:"bulk_enabled" msgpack:"bulk_enabled"`
	// user_change only.
	Nicknames bool `json:"nicknames" msgpack:"nicknames"`
	// commands_used only: privilege levels worth logging.
	Privs []string `json:"privs,omitempty" msgpack:"privs,omitempty"`
}

type Settings struct {
	GlobalChannel string                  `json:"global_channel,omitempty" msgpack:"global_channel,omitempty"`
	Ignored       []string                `json:"ignored_channels,omitempty" msgpack:"ignored_channels,omitempty"`
	Events        map[Kind]*EventSettings `json:"events,omitempty" msgpack:"events,omitempty"`
}

var defaultEmoji = map[Kind]string{
	KindMessageEdit:   "📝",
	KindMessageDelete: "🗑️",
	KindUserChange:    "👨‍🔧",
	KindRoleChange:    "🏳️",
	KindRoleCreate:    "🏳️",
	KindRoleDelete:    "🏳️",
	KindVoiceChange:   "🎤",
	KindUserJoin:      "📥",
	KindUserLeft:      "📤",
	KindChannelChange: "📋",
	KindChannelCreate: "📋",
	KindChannelDelete: "📋",
	KindGuildChange:   "🛠️",
	KindEmojiChange:   "😀",
	KindCommandsUsed:  "🤖",
	KindInviteCreated: "✉️",
	KindInviteDeleted: "✉️",
}

var defaultColour = map[Kind]int{
	KindMessageEdit:   0xE67E22,
	KindMessageDelete: 0x992D22,
	KindUserChange:    0x99AAB5,
	KindRoleChange:    0x3498DB,
	KindRoleCreate:    0x3498DB,
	KindRoleDelete:    0x206694,
	KindVoiceChange:   0xE91E63,
	KindUserJoin:      0x2ECC71,
	KindUserLeft:      0x1F8B4C,
	KindChannelChange: 0x1ABC9C,
	KindChannelCreate: 0x1ABC9C,
	KindChannelDelete: 0x11806A,
	KindGuildChange:   0x7289DA,
	KindEmojiChange:   0xF1C40F,
	KindCommandsUsed:  0x5865F2,
	KindInviteCreated: 0x7289DA,
	KindInviteDeleted: 0x7289DA,
}

var defaultPrivs = []string{"MOD", "ADMIN", "GUILD_OWNER", "BOT_OWNER"}

func defaultEvent(kind Kind) EventSettings {
	event := EventSettings{Emoji: defaultEmoji[kind]}
	switch kind {
	case KindMessageDelete:
		event.CachedOnly = true
	case KindUserChange:
		event.Nicknames = true
	case KindCommandsUsed:
		event.Privs = append([]string(nil), defaultPrivs...)
	}
	return event
}

// Event returns the kind's settings with defaults filled in.
func (s Settings) Event(kind Kind) EventSettings {
	stored, ok := s.Events[kind]
	if !ok || stored == nil {
		return defaultEvent(kind)
	}
	event := *stored
	if event.Emoji == "" {
		event.Emoji = defaultEmoji[kind]
	}
	return event
}

func (s Settings) Colour(kind Kind) int {
	if event := s.Event(kind); event.Colour != 0 {
		return event.Colour
	}
	return defaultColour[kind]
}

// SetEvent applies fn to a copy of the kind's settings and stores it.
func (s *Settings) SetEvent(kind Kind, fn func(*EventSettings)) {
	event := s.Event(kind)
	fn(&event)
	if s.Events == nil {
		s.Events = make(map[Kind]*EventSettings)
	}
	s.Events[kind] = &event
}

// ChannelFor is the kind's destination, falling back to the global channel.
func (s Settings) ChannelFor(kind Kind) string {
	if event := s.Event(kind); event.Channel != "" {
		return event.Channel
	}
	return s.GlobalChannel
}

// IsIgnored matches the channel or its category.
func (s Settings) IsIgnored(channelID, parentID string) bool {
	for _, id := range s.Ignored {
		if id == "" {
			continue
		}
		if id == channelID || id == parentID {
			return true
		}
	}
	return false
}

// Settings reads through the in-process cache.
func (m *Module) Settings(guildID string) Settings {
	if cached, ok := m.settings.Load(guildID); ok {
		return cached
	}
	var settings Settings
	if _, err := m.kv.Get(kv.Guild(guildID), settingsKey, &settings); err != nil {
		m.logger.Warn("reading modlog settings", zap.String("guild_id", guildID), zap.Error(err))
		return settings
	}
	m.settings.Store(guildID, settings)
	return settings
}

func (m *Module) UpdateSettings(guildID string, fn func(*Settings) error) error {
	var settings Settings
	err := m.kv.Update(kv.Guild(guildID), settingsKey, &settings, func() error {
		return fn(&settings)
	})
	m.settings.Delete(guildID)
	if err != nil {
		return err
	}
	m.requestSync()
	return nil
}

// GlobalChannel is the guild's default modlog channel, shared with the
// trigger engine's "default" modlog.
func (m *Module) GlobalChannel(guildID string) string {
	return m.Settings(guildID).GlobalChannel
}
