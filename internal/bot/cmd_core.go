package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

const embedPageSize = 4000

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// logSetting records an operator settings change on the audit trail.
func (b *Bot) logSetting(c *commands.Context, detail string) {
	b.audit.Log(c.Ctx, audit.LevelInfo, c.GuildID, c.Author().ID, audit.EventSettingsChanged, detail)
}

// replyPages sends lines as one or more embeds.
func (b *Bot) replyPages(c *commands.Context, title string, lines []string) error {
	if len(lines) == 0 {
		return c.Done("Nothing to show.")
	}
	pages := utils.Pagify(strings.Join(lines, "\n"), embedPageSize)
	for i, page := range pages {
		embed := &discordgo.MessageEmbed{Title: title, Description: page}
		if len(pages) > 1 {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d/%d", i+1, len(pages))}
		}
		if err := c.ReplyEmbed(embed); err != nil {
			return err
		}
	}
	return nil
}

// resolveTarget turns a channel, role or user reference into an id. Bare ids
// are accepted when they name a channel or role of the guild, otherwise they
// are taken as users.
func resolveTarget(guild *discordgo.Guild, value string) (string, bool) {
	if strings.HasPrefix(value, "<#") {
		return commands.ChannelID(value)
	}
	if role, ok := commands.Role(guild, value); ok {
		return role.ID, true
	}
	if id, ok := commands.ChannelID(value); ok {
		for _, ch := range guild.Channels {
			if ch.ID == id {
				return id, true
			}
		}
	}
	return commands.UserID(value)
}

// toggleID removes id from list when present and appends it otherwise.
func toggleID(list []string, id string) ([]string, bool) {
	for i, existing := range list {
		if existing == id {
			return append(list[:i:i], list[i+1:]...), false
		}
	}
	return append(list, id), true
}

func mentionIDs(guild *discordgo.Guild, ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		switch {
		case guild != nil && findRole(guild, id):
			out[i] = "<@&" + id + ">"
		case guild != nil && findChannel(guild, id):
			out[i] = "<#" + id + ">"
		default:
			out[i] = "<@" + id + ">"
		}
	}
	return strings.Join(out, ", ")
}

func findRole(guild *discordgo.Guild, id string) bool {
	for _, role := range guild.Roles {
		if role.ID == id {
			return true
		}
	}
	return false
}

func findChannel(guild *discordgo.Guild, id string) bool {
	for _, ch := range guild.Channels {
		if ch.ID == id {
			return true
		}
	}
	return false
}

func (b *Bot) statsCommand() *commands.Command {
	return &commands.Command{
		Name:    "stats",
		Usage:   "[days]",
		Help:    "Summarize the audit trail.",
		Level:   access.LevelAdmin,
		Run: func(c *commands.Context) error {
			days := 7
			if c.Arg(0) != "" {
				n, ok := commands.Int(c.Arg(0))
				if !ok || n <= 0 {
					return commands.ErrUsage
				}
				days = n
			}
			report, err := b.analytics.Report(c.Ctx, c.GuildID, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			levels := make([]string, 0, len(report.ByLevel))
			for level, count := range report.ByLevel {
				levels = append(levels, fmt.Sprintf("%s: %d", level, count))
			}
			sort.Strings(levels)
			top := make([]string, 0, len(report.TopEvents))
			for _, ev := range report.TopEvents {
				top = append(top, fmt.Sprintf("`%s` %d", ev.Event, ev.Count))
			}
			fields := []*discordgo.MessageEmbedField{
				{Name: "Entries", Value: fmt.Sprint(report.Total), Inline: true},
				{Name: "Archives", Value: fmt.Sprintf("%d (%d messages)", report.Archives, report.ArchivedMessages), Inline: true},
			}
			if len(levels) > 0 {
				fields = append(fields, &discordgo.MessageEmbedField{Name: "By level", Value: strings.Join(levels, "\n")})
			}
			if len(top) > 0 {
				fields = append(fields, &discordgo.MessageEmbedField{Name: "Top events", Value: strings.Join(top, "\n")})
			}
			title := fmt.Sprintf("Last %d days", days)
			return c.ReplyEmbed(b.commandEmbed(title, "", b.cfg.Notifications.EmbedColors.Action, fields))
		},
	}
}

// setupCommands manage the per guild access settings.
func (b *Bot) setupCommands() *commands.Command {
	roleList := func(name, help string, field func(*access.GuildSettings) *[]string) *commands.Command {
		return &commands.Command{
			Name:  name,
			Usage: "<role>",
			Help:  help,
			Run: func(c *commands.Context) error {
				guild, err := b.platform.Guild(c.GuildID)
				if err != nil {
					return err
				}
				if c.Arg(0) == "" {
					settings, err := b.access.Settings(c.GuildID)
					if err != nil {
						return err
					}
					return c.Done(mentionIDs(guild, *field(&settings)))
				}
				role, ok := commands.Role(guild, c.Rest(0))
				if !ok {
					return commands.Errorf("Role `%s` not found.", c.Rest(0))
				}
				var added bool
				if err := b.access.UpdateSettings(c.GuildID, func(s *access.GuildSettings) error {
					*field(s), added = toggleID(*field(s), role.ID)
					return nil
				}); err != nil {
					return err
				}
				verb := "removed from"
				if added {
					verb = "added to"
				}
				b.logSetting(c, fmt.Sprintf("set %s %s %s", name, verb, role.ID))
				return c.Done(fmt.Sprintf("<@&%s> %s the %s list.", role.ID, verb, name))
			},
		}
	}
	return &commands.Command{
		Name:  "set",
		Help:  "Guild wide bot settings.",
		Level: access.LevelAdmin,
		Sub: []*commands.Command{
			roleList("modrole", "Toggle a moderator role.", func(s *access.GuildSettings) *[]string { return &s.ModRoles }),
			roleList("adminrole", "Toggle an admin role.", func(s *access.GuildSettings) *[]string { return &s.AdminRoles }),
			{
				Name:  "immune",
				Usage: "<role|user>",
				Help:  "Toggle automod immunity.",
				Run: func(c *commands.Context) error {
					guild, err := b.platform.Guild(c.GuildID)
					if err != nil {
						return err
					}
					if c.Arg(0) == "" {
						settings, err := b.access.Settings(c.GuildID)
						if err != nil {
							return err
						}
						return c.Done(mentionIDs(guild, settings.Immune))
					}
					id, ok := resolveTarget(guild, c.Rest(0))
					if !ok {
						return commands.Errorf("`%s` is not a role or user.", c.Rest(0))
					}
					var added bool
					if err := b.access.UpdateSettings(c.GuildID, func(s *access.GuildSettings) error {
						s.Immune, added = toggleID(s.Immune, id)
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("set immune %s %s", id, onOff(added)))
					return c.Done(fmt.Sprintf("Immunity for %s is %s.", mentionIDs(guild, []string{id}), onOff(added)))
				},
			},
			{
				Name:  "prefix",
				Usage: "[prefix...]",
				Help:  "Replace the guild prefixes. No arguments restores the defaults.",
				Run: func(c *commands.Context) error {
					prefixes := append([]string(nil), c.Args...)
					if err := b.access.UpdateSettings(c.GuildID, func(s *access.GuildSettings) error {
						s.Prefixes = prefixes
						return nil
					}); err != nil {
						return err
					}
					current := b.access.Prefixes(c.GuildID)
					b.logSetting(c, "set prefix "+strings.Join(current, " "))
					return c.Done("Prefixes: `" + strings.Join(current, "` `") + "`")
				},
			},
		},
	}
}
