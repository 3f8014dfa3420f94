package starboard

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"guildkeeper/internal/access"
	"guildkeeper/internal/events"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
)

const (
	ColourAuthor = "author"
	ColourBot    = "bot"

	defaultThreshold = 3
	defaultEmoji     = "⭐"
)

// Starboard is one named board and the mirror state of every message it has
// counted.
type Starboard struct {
	Name      string   `json:"name"`
	ChannelID string   `json:"channel"`
	Emoji     string   `json:"emoji"`
	Threshold int      `json:"threshold"`
	Enabled   bool     `json:"enabled"`
	SelfStar  bool     `json:"selfstar"`
	AutoStar  bool     `json:"autostar"`
	// Colour is ColourAuthor, ColourBot or a decimal colour value.
	Colour    string   `json:"colour"`
	Allowlist []string `json:"whitelist"`
	Blocklist []string `json:"blacklist"`

	// Messages is keyed by "<channel>-<message>" of the original.
	Messages map[string]*Entry `json:"messages"`
	// Mirrors maps a mirror's "<channel>-<message>" to its original's key.
	Mirrors map[string]string `json:"starboarded_messages"`

	StarredMessages int `json:"starred_messages"`
	StarsAdded      int `json:"stars_added"`
}

type Entry struct {
	OriginalChannel string   `json:"original_channel"`
	OriginalMessage string   `json:"original_message"`
	AuthorID        string   `json:"author"`
	MirrorChannel   string   `json:"new_channel,omitempty"`
	MirrorMessage   string   `json:"new_message,omitempty"`
	Reactors        []string `json:"reactions"`
}

func (e *Entry) mirrored() bool {
	return e.MirrorMessage != ""
}

func (e *Entry) mirrorKey() string {
	return messageKey(e.MirrorChannel, e.MirrorMessage)
}

func (e *Entry) hasReactor(userID string) bool {
	for _, id := range e.Reactors {
		if id == userID {
			return true
		}
	}
	return false
}

func (e *Entry) addReactor(userID string) bool {
	if e.hasReactor(userID) {
		return false
	}
	e.Reactors = append(e.Reactors, userID)
	return true
}

func (e *Entry) removeReactor(userID string) bool {
	for i, id := range e.Reactors {
		if id == userID {
			e.Reactors = append(e.Reactors[:i], e.Reactors[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot copies the settings and counters without the per-message state.
func (s *Starboard) snapshot() *Starboard {
	copied := *s
	copied.Allowlist = slices.Clone(s.Allowlist)
	copied.Blocklist = slices.Clone(s.Blocklist)
	copied.Messages, copied.Mirrors = nil, nil
	return &copied
}

func messageKey(channelID, messageID string) string {
	return channelID + "-" + messageID
}

// normalize fills missing maps and promotes a threshold of one (or less) to
// two.
func (s *Starboard) normalize() {
	if s.Threshold <= 1 {
		s.Threshold = 2
	}
	if s.Messages == nil {
		s.Messages = map[string]*Entry{}
	}
	if s.Mirrors == nil {
		s.Mirrors = map[string]string{}
	}
	if s.Colour == "" {
		s.Colour = ColourAuthor
	}
}

func (s *Starboard) emoji() events.Emoji {
	emoji, ok := events.ParseEmoji(s.Emoji)
	if !ok {
		return events.Emoji{Name: defaultEmoji}
	}
	return emoji
}

func (s *Starboard) matches(emoji events.Emoji) bool {
	return s.emoji().Key() == emoji.Key()
}

// allowsChannel applies the channel entries of the lists and refuses NSFW
// sources for SFW boards.
func (s *Starboard) allowsChannel(guild *discordgo.Guild, source, board *discordgo.Channel) bool {
	if source.NSFW && (board == nil || !board.NSFW) {
		return false
	}
	allow, block := splitLists(guild, s.Allowlist, false), splitLists(guild, s.Blocklist, false)
	return access.ListAllows(allow, block, source.ID, source.ParentID)
}

// allowsRoles applies the role entries of the lists to a reactor.
func (s *Starboard) allowsRoles(guild *discordgo.Guild, roles []string) bool {
	allow, block := splitLists(guild, s.Allowlist, true), splitLists(guild, s.Blocklist, true)
	return access.ListAllows(allow, block, roles...)
}

// splitLists keeps the role ids of list when roles is set and everything
// else otherwise.
func splitLists(guild *discordgo.Guild, list []string, roles bool) []string {
	var out []string
	for _, id := range list {
		if (platform.FindRole(guild, id) != nil) == roles {
			out = append(out, id)
		}
	}
	return out
}

// ParseColour accepts "author" (or "user"/"member"), "bot", a hex code or a
// decimal value and returns the stored form.
func ParseColour(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "author", "user", "member":
		return ColourAuthor, nil
	case "bot":
		return ColourBot, nil
	}
	base := 10
	if strings.HasPrefix(value, "#") || strings.HasPrefix(value, "0x") {
		value = strings.TrimPrefix(strings.TrimPrefix(value, "#"), "0x")
		base = 16
	}
	n, err := strconv.ParseInt(value, base, 32)
	if err != nil || n < 0 || n > 0xFFFFFF {
		return "", fmt.Errorf("invalid colour %q", value)
	}
	return strconv.FormatInt(n, 10), nil
}

// Boards is one guild's starboards keyed by lowercase name.
type Boards map[string]*Starboard

func (b Boards) sorted() []*Starboard {
	out := make([]*Starboard, 0, len(b))
	for _, board := range b {
		out = append(out, board)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
