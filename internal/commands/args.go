package commands

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"guildkeeper/internal/events"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
)

var errUnbalanced = errors.New("unbalanced quotes")

// Split breaks a command line into words. Double quotes group words; a
// backslash only escapes a quote so regex patterns pass through untouched.
func Split(text string) ([]string, error) {
	var (
		out     []string
		current strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	for _, r := range text {
		switch {
		case escaped:
			if r != '"' {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			started = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			if started {
				out = append(out, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, errUnbalanced
	}
	if escaped {
		current.WriteRune('\\')
	}
	if started {
		out = append(out, current.String())
	}
	return out, nil
}

var (
	channelMention = regexp.MustCompile(`^<#(\d+)>$`)
	roleMention    = regexp.MustCompile(`^<@&(\d+)>$`)
	userMention    = regexp.MustCompile(`^<@!?(\d+)>$`)
	messageLink    = regexp.MustCompile(`^https?://(?:\w+\.)?discord(?:app)?\.com/channels/(\d+|@me)/(\d+)/(\d+)$`)
	snowflake      = regexp.MustCompile(`^\d{15,21}$`)
)

// ChannelID accepts a channel mention or a raw id.
func ChannelID(value string) (string, bool) {
	if m := channelMention.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if snowflake.MatchString(value) {
		return value, true
	}
	return "", false
}

// UserID accepts a user mention or a raw id.
func UserID(value string) (string, bool) {
	if m := userMention.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if snowflake.MatchString(value) {
		return value, true
	}
	return "", false
}

// Role resolves a role mention, id or case-insensitive name.
func Role(guild *discordgo.Guild, value string) (*discordgo.Role, bool) {
	if m := roleMention.FindStringSubmatch(value); m != nil {
		value = m[1]
	}
	if role := platform.FindRole(guild, value); role != nil {
		return role, true
	}
	for _, role := range guild.Roles {
		if strings.EqualFold(role.Name, value) {
			return role, true
		}
	}
	return nil, false
}

// MessageRef accepts a message link, "channel-message", "channel/message"
// or a bare message id in fallbackChannel.
func MessageRef(value, fallbackChannel string) (channelID, messageID string, ok bool) {
	if m := messageLink.FindStringSubmatch(value); m != nil {
		return m[2], m[3], true
	}
	for _, sep := range []string{"-", "/"} {
		if ch, msg, found := strings.Cut(value, sep); found && snowflake.MatchString(ch) && snowflake.MatchString(msg) {
			return ch, msg, true
		}
	}
	if snowflake.MatchString(value) && fallbackChannel != "" {
		return fallbackChannel, value, true
	}
	return "", "", false
}

// Bool accepts the usual toggles.
func Bool(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "y", "enable", "enabled", "1":
		return true, true
	case "off", "false", "no", "n", "disable", "disabled", "0":
		return false, true
	}
	return false, false
}

func Int(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	return n, err == nil
}

func Emoji(value string) (events.Emoji, bool) {
	return events.ParseEmoji(value)
}
