package bot

import (
	"fmt"
	"strconv"
	"strings"

	"guildkeeper/internal/access"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/modules/modlog"

	"github.com/bwmarrin/discordgo"
)

// parseKinds accepts "all" or a list of event kinds.
func parseKinds(args []string) ([]modlog.Kind, error) {
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		return modlog.Kinds, nil
	}
	kinds := make([]modlog.Kind, 0, len(args))
	for _, arg := range args {
		kind, err := modlog.ParseKind(arg)
		if err != nil {
			return nil, commands.Errorf("%s", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func parseHexColour(value string) (int, bool) {
	value = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(value), "#"), "0x")
	n, err := strconv.ParseInt(value, 16, 32)
	if err != nil || n < 0 || n > 0xFFFFFF {
		return 0, false
	}
	return int(n), true
}

func kindNamesOf(kinds []modlog.Kind) string {
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return strings.Join(names, ", ")
}

// eventFlag builds a toggle for a single kind specific option.
func (b *Bot) eventFlag(name, help string, kind modlog.Kind, field func(*modlog.EventSettings) *bool) *commands.Command {
	return &commands.Command{
		Name:  name,
		Usage: "<on|off>",
		Help:  help,
		Run: func(c *commands.Context) error {
			on, ok := commands.Bool(c.Arg(0))
			if !ok {
				return commands.ErrUsage
			}
			if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
				s.SetEvent(kind, func(e *modlog.EventSettings) { *field(e) = on })
				return nil
			}); err != nil {
				return err
			}
			b.logSetting(c, fmt.Sprintf("modlog %s %s", name, onOff(on)))
			return c.Done(fmt.Sprintf("`%s` is %s.", name, onOff(on)))
		},
	}
}

func (b *Bot) modlogCommands() *commands.Command {
	return &commands.Command{
		Name:    "modlog",
		Aliases: []string{"modlogset"},
		Help:    "Log guild changes to channels.",
		Level:   access.LevelAdmin,
		Sub: []*commands.Command{
			{
				Name:  "channel",
				Usage: "[channel]",
				Help:  "Set the default log channel. No argument clears it.",
				Run: func(c *commands.Context) error {
					channelID := ""
					if c.Arg(0) != "" {
						id, ok := commands.ChannelID(c.Arg(0))
						if !ok {
							return commands.ErrUsage
						}
						if err := b.checkLogChannel(c, id); err != nil {
							return err
						}
						channelID = id
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						s.GlobalChannel = channelID
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, "modlog channel "+channelID)
					if channelID == "" {
						return c.Done("Default log channel cleared.")
					}
					return c.Done(fmt.Sprintf("Logging to <#%s>.", channelID))
				},
			},
			{
				Name:  "toggle",
				Usage: "<on|off> <event...|all>",
				Help:  "Enable or disable events.",
				Run: func(c *commands.Context) error {
					on, ok := commands.Bool(c.Arg(0))
					if !ok || len(c.Args) < 2 {
						return commands.ErrUsage
					}
					kinds, err := parseKinds(c.Args[1:])
					if err != nil {
						return err
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						for _, kind := range kinds {
							s.SetEvent(kind, func(e *modlog.EventSettings) { e.Enabled = on })
						}
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog %s %s", kindNamesOf(kinds), onOff(on)))
					return c.Done(fmt.Sprintf("%s: %s.", kindNamesOf(kinds), onOff(on)))
				},
			},
			{
				Name:  "eventchannel",
				Usage: "<channel|clear> <event...|all>",
				Help:  "Send events to their own channel.",
				Run: func(c *commands.Context) error {
					if len(c.Args) < 2 {
						return commands.ErrUsage
					}
					channelID := ""
					if !strings.EqualFold(c.Arg(0), "clear") {
						id, ok := commands.ChannelID(c.Arg(0))
						if !ok {
							return commands.ErrUsage
						}
						if err := b.checkLogChannel(c, id); err != nil {
							return err
						}
						channelID = id
					}
					kinds, err := parseKinds(c.Args[1:])
					if err != nil {
						return err
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						for _, kind := range kinds {
							s.SetEvent(kind, func(e *modlog.EventSettings) { e.Channel = channelID })
						}
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog channel %s %s", kindNamesOf(kinds), channelID))
					return c.Done(fmt.Sprintf("Channel for %s updated.", kindNamesOf(kinds)))
				},
			},
			{
				Name:  "emoji",
				Usage: "<emoji|default> <event...|all>",
				Help:  "Change the emoji in log entries.",
				Run: func(c *commands.Context) error {
					if len(c.Args) < 2 {
						return commands.ErrUsage
					}
					emoji := ""
					if !strings.EqualFold(c.Arg(0), "default") {
						parsed, ok := commands.Emoji(c.Arg(0))
						if !ok {
							return commands.ErrUsage
						}
						emoji = parsed.String()
					}
					kinds, err := parseKinds(c.Args[1:])
					if err != nil {
						return err
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						for _, kind := range kinds {
							s.SetEvent(kind, func(e *modlog.EventSettings) { e.Emoji = emoji })
						}
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog emoji %s %s", kindNamesOf(kinds), emoji))
					return c.Done(fmt.Sprintf("Emoji for %s updated.", kindNamesOf(kinds)))
				},
			},
			{
				Name:    "colour",
				Aliases: []string{"color"},
				Usage:   "<#hex|default> <event...|all>",
				Help:    "Change the embed colour of log entries.",
				Run: func(c *commands.Context) error {
					if len(c.Args) < 2 {
						return commands.ErrUsage
					}
					colour := 0
					if !strings.EqualFold(c.Arg(0), "default") {
						parsed, ok := parseHexColour(c.Arg(0))
						if !ok {
							return commands.Errorf("`%s` is not a hex colour.", c.Arg(0))
						}
						colour = parsed
					}
					kinds, err := parseKinds(c.Args[1:])
					if err != nil {
						return err
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						for _, kind := range kinds {
							s.SetEvent(kind, func(e *modlog.EventSettings) { e.Colour = colour })
						}
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog colour %s %06x", kindNamesOf(kinds), colour))
					return c.Done(fmt.Sprintf("Colour for %s updated.", kindNamesOf(kinds)))
				},
			},
			{
				Name:  "bots",
				Usage: "<on|off> <event...|all>",
				Help:  "Include changes made by or to bots.",
				Run: func(c *commands.Context) error {
					on, ok := commands.Bool(c.Arg(0))
					if !ok || len(c.Args) < 2 {
						return commands.ErrUsage
					}
					kinds, err := parseKinds(c.Args[1:])
					if err != nil {
						return err
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						for _, kind := range kinds {
							s.SetEvent(kind, func(e *modlog.EventSettings) { e.Bots = on })
						}
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog bots %s %s", kindNamesOf(kinds), onOff(on)))
					return c.Done(fmt.Sprintf("Bots for %s: %s.", kindNamesOf(kinds), onOff(on)))
				},
			},
			{
				Name:  "ignore",
				Usage: "<channel|category>",
				Help:  "Toggle logging for a channel or category.",
				Run: func(c *commands.Context) error {
					id, ok := commands.ChannelID(c.Arg(0))
					if !ok {
						return commands.ErrUsage
					}
					var added bool
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						s.Ignored, added = toggleID(s.Ignored, id)
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("modlog ignore %s %s", id, onOff(added)))
					if added {
						return c.Done(fmt.Sprintf("Ignoring <#%s>.", id))
					}
					return c.Done(fmt.Sprintf("No longer ignoring <#%s>.", id))
				},
			},
			b.eventFlag("cachedonly", "Only log deletions of cached messages.", modlog.KindMessageDelete,
				func(e *modlog.EventSettings) *bool { return &e.CachedOnly }),
			b.eventFlag("bulk", "Log bulk deletions.", modlog.KindMessageDelete,
				func(e *modlog.EventSettings) *bool { return &e.BulkEnabled }),
			b.eventFlag("nicknames", "Log nickname changes.", modlog.KindUserChange,
				func(e *modlog.EventSettings) *bool { return &e.Nicknames }),
			{
				Name:  "commandlevel",
				Usage: "<level...>",
				Help:  "Privilege levels whose command usage is logged: NONE MOD ADMIN GUILD_OWNER BOT_OWNER.",
				Run: func(c *commands.Context) error {
					if len(c.Args) == 0 {
						return commands.ErrUsage
					}
					privs := make([]string, 0, len(c.Args))
					for _, arg := range c.Args {
						level, ok := access.ParseLevel(strings.ToUpper(arg))
						if !ok {
							return commands.Errorf("`%s` is not a privilege level.", arg)
						}
						privs = append(privs, level.String())
					}
					if err := b.modlog.UpdateSettings(c.GuildID, func(s *modlog.Settings) error {
						s.SetEvent(modlog.KindCommandsUsed, func(e *modlog.EventSettings) { e.Privs = privs })
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, "modlog commandlevel "+strings.Join(privs, " "))
					return c.Done("Logging commands from " + strings.Join(privs, ", ") + ".")
				},
			},
			{
				Name: "settings",
				Help: "Show the current configuration.",
				Run:  b.showModlogSettings,
			},
		},
	}
}

// checkLogChannel makes sure the bot can post embeds in channelID.
func (b *Bot) checkLogChannel(c *commands.Context, channelID string) error {
	ch, err := b.platform.Channel(channelID)
	if err != nil || ch.GuildID != c.GuildID {
		return commands.Errorf("<#%s> is not a channel of this server.", channelID)
	}
	need := int64(discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks)
	if perms, err := b.platform.UserChannelPermissions(b.platform.BotUserID(), channelID); err != nil || perms&need != need {
		return commands.Errorf("I need to send messages and embeds in <#%s>.", channelID)
	}
	return nil
}

func (b *Bot) showModlogSettings(c *commands.Context) error {
	settings := b.modlog.Settings(c.GuildID)
	lines := make([]string, 0, len(modlog.Kinds)+2)
	global := "none"
	if settings.GlobalChannel != "" {
		global = "<#" + settings.GlobalChannel + ">"
	}
	lines = append(lines, "Default channel: "+global)
	if len(settings.Ignored) > 0 {
		ignored := make([]string, len(settings.Ignored))
		for i, id := range settings.Ignored {
			ignored[i] = "<#" + id + ">"
		}
		lines = append(lines, "Ignored: "+strings.Join(ignored, ", "))
	}
	for _, kind := range modlog.Kinds {
		event := settings.Event(kind)
		line := fmt.Sprintf("%s `%s` %s", event.Emoji, kind, onOff(event.Enabled))
		if event.Channel != "" {
			line += " in <#" + event.Channel + ">"
		}
		if event.Bots {
			line += ", bots"
		}
		switch kind {
		case modlog.KindMessageDelete:
			line += fmt.Sprintf(", bulk %s, cached only %s", onOff(event.BulkEnabled), onOff(event.CachedOnly))
		case modlog.KindUserChange:
			line += ", nicknames " + onOff(event.Nicknames)
		case modlog.KindCommandsUsed:
			line += ", levels " + strings.Join(event.Privs, " ")
		}
		lines = append(lines, line)
	}
	return b.replyPages(c, "Modlog settings", lines)
}
