package modlog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"guildkeeper/internal/events"
)

// HandleCommand audits operator command usage for the privilege levels the
// guild chose to watch.
func (m *Module) HandleCommand(ctx context.Context, ev *events.Event) error {
	if ev.GuildID == "" || ev.Command == nil || ev.Command.Message == nil {
		return nil
	}
	inv := ev.Command
	msg := inv.Message
	settings, event, destination := m.target(ev.GuildID, KindCommandsUsed)
	if destination == "" {
		return nil
	}
	if settings.IsIgnored(msg.ChannelID, m.parentOf(msg.ChannelID)) {
		return nil
	}
	if !slices.Contains(event.Privs, inv.Privilege) {
		return nil
	}

	requires := m.requirement(ev.GuildID, inv)
	embed := newEmbed(settings.Colour(KindCommandsUsed), msg.CreatedAt)
	embed.Description = msg.Author.Mention() + " " + msg.Content
	addField(embed, "Channel", channelMention(msg.ChannelID), true)
	addField(embed, "Can Run", fmt.Sprintf("%t", inv.CanRun), true)
	addField(embed, "Requires", requires, true)
	if len(inv.BotPerms) > 0 {
		addField(embed, "Bot Requires", humanizePerms(inv.BotPerms), true)
	}
	setAuthor(embed, userLine(msg.Author)+"- Used a Command", msg.Author.AvatarURL())

	text := fmt.Sprintf("%s(`%s`) used the following command in %s\n%s",
		msg.Author.Tag(), msg.Author.ID, channelMention(msg.ChannelID), quote(msg.Content))
	m.emit(ctx, ev.GuildID, destination, KindCommandsUsed, event, entry{embed: embed, text: text})
	return nil
}

// requirement renders who may run the command: the roles or users behind
// the privilege level, the level itself, then any user permissions.
func (m *Module) requirement(guildID string, inv *events.CommandInvocation) string {
	var who string
	switch inv.Privilege {
	case "ADMIN", "MOD":
		core, _ := m.access.Settings(guildID)
		roles := core.ModRoles
		if inv.Privilege == "ADMIN" {
			roles = core.AdminRoles
		}
		if len(roles) == 0 {
			who = "Not Set"
		} else {
			who = mentionRoles(roles)
		}
	case "GUILD_OWNER":
		who = "the guild owner"
		if guild, err := m.platform.Guild(guildID); err == nil && guild != nil && guild.OwnerID != "" {
			who = "<@" + guild.OwnerID + ">"
		}
	case "BOT_OWNER":
		owners := m.access.Owners()
		mentions := make([]string, 0, len(owners))
		for _, id := range owners {
			mentions = append(mentions, "<@"+id+">")
		}
		who = strings.Join(mentions, ", ")
	default:
		who = "everyone"
	}
	out := who + "\n" + inv.Privilege + "\n"
	if len(inv.Roles) > 0 {
		out += mentionRoles(inv.Roles) + "\n"
	}
	if len(inv.UserPerms) > 0 {
		out += humanizePerms(inv.UserPerms)
	}
	return out
}

// humanizePerms turns manage_roles into Manage Roles.
func humanizePerms(perms []string) string {
	out := make([]string, 0, len(perms))
	for _, perm := range perms {
		words := strings.Split(perm, "_")
		for i, w := range words {
			if w != "" {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
		out = append(out, strings.Join(words, " "))
	}
	return strings.Join(out, ", ")
}
