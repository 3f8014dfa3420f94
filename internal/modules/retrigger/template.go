package retrigger

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"guildkeeper/internal/events"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/triggers"

	"github.com/bwmarrin/discordgo"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?|\d+)\}`)

type renderContext struct {
	msg      *events.Message
	guild    *discordgo.Guild
	channel  *discordgo.Channel
	trigger  *triggers.Trigger
	result   regexexec.Result
	prefixes []string
}

type resolver func(rc *renderContext) (string, bool)

var resolvers = map[string]resolver{
	"message":            func(rc *renderContext) (string, bool) { return rc.msg.Content, true },
	"message.content":    func(rc *renderContext) (string, bool) { return rc.msg.Content, true },
	"message.id":         func(rc *renderContext) (string, bool) { return rc.msg.ID, true },
	"message.jump_url":   func(rc *renderContext) (string, bool) { return rc.msg.JumpURL(), true },
	"message.created_at": func(rc *renderContext) (string, bool) { return rc.msg.CreatedAt.UTC().Format("2006-01-02 15:04:05"), true },

	"author":              func(rc *renderContext) (string, bool) { return rc.msg.Author.Mention(), true },
	"author.mention":      func(rc *renderContext) (string, bool) { return rc.msg.Author.Mention(), true },
	"author.id":           func(rc *renderContext) (string, bool) { return rc.msg.Author.ID, true },
	"author.name":         func(rc *renderContext) (string, bool) { return rc.msg.Author.Username, true },
	"author.display_name": func(rc *renderContext) (string, bool) { return rc.msg.DisplayName(), true },
	"author.nick":         func(rc *renderContext) (string, bool) { return rc.msg.Nick, true },
	"author.discriminator": func(rc *renderContext) (string, bool) {
		return rc.msg.Author.Discriminator, true
	},
	"author.tag": func(rc *renderContext) (string, bool) { return rc.msg.Author.Tag(), true },

	"channel":         func(rc *renderContext) (string, bool) { return "<#" + rc.msg.ChannelID + ">", true },
	"channel.mention": func(rc *renderContext) (string, bool) { return "<#" + rc.msg.ChannelID + ">", true },
	"channel.id":      func(rc *renderContext) (string, bool) { return rc.msg.ChannelID, true },
	"channel.name": func(rc *renderContext) (string, bool) {
		if rc.channel == nil {
			return "", false
		}
		return rc.channel.Name, true
	},
	"channel.topic": func(rc *renderContext) (string, bool) {
		if rc.channel == nil {
			return "", false
		}
		return rc.channel.Topic, true
	},

	"guild":               guildName,
	"server":              guildName,
	"guild.name":          guildName,
	"server.name":         guildName,
	"guild.id":            func(rc *renderContext) (string, bool) { return rc.msg.GuildID, true },
	"server.id":           func(rc *renderContext) (string, bool) { return rc.msg.GuildID, true },
	"guild.member_count":  memberCount,
	"server.member_count": memberCount,

	"attachment":          attachment(func(a events.Attachment) string { return a.URL }),
	"attachment.url":      attachment(func(a events.Attachment) string { return a.URL }),
	"attachment.filename": attachment(func(a events.Attachment) string { return a.Filename }),
	"attachment.size":     attachment(func(a events.Attachment) string { return strconv.Itoa(a.Size) }),

	"count": func(rc *renderContext) (string, bool) { return strconv.FormatInt(rc.trigger.Count, 10), true },
	"p": func(rc *renderContext) (string, bool) {
		if len(rc.prefixes) == 0 {
			return "", false
		}
		return rc.prefixes[0], true
	},
	"pp":       func(rc *renderContext) (string, bool) { return humanizeList(rc.prefixes), len(rc.prefixes) > 0 },
	"nummatch": func(rc *renderContext) (string, bool) { return strconv.Itoa(len(rc.result.Matches)), true },
	"lenmatch": func(rc *renderContext) (string, bool) {
		return strconv.Itoa(utf8.RuneCountInString(maxMatch(rc.result.Matches))), true
	},
	"lenmessage": func(rc *renderContext) (string, bool) {
		return strconv.Itoa(utf8.RuneCountInString(rc.msg.Content)), true
	},
}

func guildName(rc *renderContext) (string, bool) {
	if rc.guild == nil {
		return "", false
	}
	return rc.guild.Name, true
}

func memberCount(rc *renderContext) (string, bool) {
	if rc.guild == nil {
		return "", false
	}
	return strconv.Itoa(rc.guild.MemberCount), true
}

func attachment(field func(events.Attachment) string) resolver {
	return func(rc *renderContext) (string, bool) {
		if len(rc.msg.Attachments) == 0 {
			return "", false
		}
		return field(rc.msg.Attachments[0]), true
	}
}

// render substitutes every known {var}. Unknown variables and capture
// groups the match did not produce are left untouched. Substituted values
// are not expanded again.
func render(tmpl string, rc *renderContext) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		if idx, err := strconv.Atoi(name); err == nil {
			if idx < len(rc.result.Groups) {
				return rc.result.Groups[idx]
			}
			return token
		}
		if fn, ok := resolvers[name]; ok {
			if value, ok := fn(rc); ok {
				return value
			}
		}
		return token
	})
}

// maxMatch is the lexicographically greatest match.
func maxMatch(matches []string) string {
	best := ""
	for _, match := range matches {
		if match > best {
			best = match
		}
	}
	return best
}

func humanizeList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}

var massMentions = strings.NewReplacer("@everyone", "@\u200beveryone", "@here", "@\u200bhere")

func escapeMassMentions(text string) string {
	return massMentions.Replace(text)
}

func allowedMentions(t *triggers.Trigger) *discordgo.MessageAllowedMentions {
	allowed := &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	if t.UserMention {
		allowed.Parse = append(allowed.Parse, discordgo.AllowedMentionTypeUsers)
	}
	if t.RoleMention {
		allowed.Parse = append(allowed.Parse, discordgo.AllowedMentionTypeRoles)
	}
	if t.EveryoneMention {
		allowed.Parse = append(allowed.Parse, discordgo.AllowedMentionTypeEveryone)
	}
	allowed.RepliedUser = t.Reply == triggers.ReplyNotify
	return allowed
}
