package modlog

import (
	"fmt"
	"strings"
	"time"

	"guildkeeper/internal/events"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

const (
	fieldLimit       = 1024
	descriptionLimit = 4096
	pageLength       = 1000
)

func newEmbed(colour int, at time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Color: colour}
	if !at.IsZero() {
		embed.Timestamp = at.UTC().Format(time.RFC3339)
	}
	return embed
}

func addField(embed *discordgo.MessageEmbed, name, value string, inline bool) {
	if value == "" {
		value = "None"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   name,
		Value:  utils.Truncate(value, fieldLimit),
		Inline: inline,
	})
}

func setAuthor(embed *discordgo.MessageEmbed, name, icon string) {
	embed.Author = &discordgo.MessageEmbedAuthor{Name: utils.Truncate(name, 256), IconURL: icon}
}

// shorten collapses whitespace and cuts at a word boundary so the result,
// placeholder included, fits width.
func shorten(text string, width int, placeholder string) string {
	words := strings.Fields(text)
	joined := strings.Join(words, " ")
	if len([]rune(joined)) <= width {
		return joined
	}
	var b strings.Builder
	limit := width - len([]rune(placeholder))
	for _, word := range words {
		extra := len([]rune(word))
		if b.Len() > 0 {
			extra++
		}
		if len([]rune(b.String()))+extra > limit {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() == 0 {
		return strings.TrimSpace(placeholder)
	}
	return b.String() + placeholder
}

func userLine(u events.User) string {
	return fmt.Sprintf("%s (%s)", u.Tag(), u.ID)
}

func memberUser(member *discordgo.Member) events.User {
	if member == nil {
		return events.User{}
	}
	return events.UserFrom(member.User)
}

func channelMention(id string) string {
	if id == "" {
		return "unknown channel"
	}
	return "<#" + id + ">"
}

func roleMention(id string) string {
	return "<@&" + id + ">"
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func quote(text string) string {
	if text == "" {
		return "> *empty*"
	}
	return "> " + strings.ReplaceAll(text, "\n", "\n> ")
}
