package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/modules/retrigger"
	"guildkeeper/internal/triggers"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

// argument shapes of the single response create commands
const (
	payloadText = iota
	payloadList
	payloadRoles
	payloadEmoji
	payloadNone
	payloadImage
	payloadImages
)

func (b *Bot) retriggerCommands() *commands.Command {
	create := func(name string, kind triggers.ResponseKind, payload int, usage, help string, aliases ...string) *commands.Command {
		return &commands.Command{
			Name:    name,
			Aliases: aliases,
			Usage:   "<name> <regex> " + usage,
			Help:    help,
			Run: func(c *commands.Context) error {
				return b.createSimpleTrigger(c, kind, payload)
			},
		}
	}
	return &commands.Command{
		Name:      "retrigger",
		Aliases:   []string{"trigger"},
		Help:      "Respond to messages matching a regex.",
		Level:     access.LevelMod,
		UserPerms: discordgo.PermissionManageMessages,
		Sub: []*commands.Command{
			create("text", triggers.ResponseText, payloadText, "<text>", "Reply with text."),
			create("random", triggers.ResponseRandText, payloadList, "<text>...", "Reply with one of several texts.", "randtext"),
			create("dm", triggers.ResponseDM, payloadText, "<text>", "DM the author."),
			create("dmme", triggers.ResponseDMMe, payloadText, "<text>", "DM the trigger's creator."),
			create("rename", triggers.ResponseRename, payloadText, "<nickname>", "Rename the author."),
			create("react", triggers.ResponseReact, payloadEmoji, "<emoji>...", "React to the message."),
			create("role", triggers.ResponseAddRole, payloadRoles, "<role>...", "Give the author roles.", "addrole"),
			create("removerole", triggers.ResponseRemoveRole, payloadRoles, "<role>...", "Take roles from the author."),
			create("ban", triggers.ResponseBan, payloadNone, "", "Ban the author."),
			create("kick", triggers.ResponseKick, payloadNone, "", "Kick the author."),
			create("filter", triggers.ResponseDelete, payloadNone, "", "Delete the message.", "delete"),
			create("publish", triggers.ResponsePublish, payloadNone, "", "Publish messages in announcement channels."),
			create("command", triggers.ResponseCommand, payloadText, "<command>", "Run a command as the author.", "cmd"),
			create("mock", triggers.ResponseMock, payloadText, "<command>", "Run a command as you whenever anyone matches."),
			create("image", triggers.ResponseImage, payloadImage, "[url] [text]", "Reply with an image (url or attachment)."),
			create("randimage", triggers.ResponseRandImage, payloadImages, "[url]...", "Reply with one of several images."),
			create("resize", triggers.ResponseResize, payloadImage, "[url]", "Reply with an image scaled by the match length."),
			{
				Name:  "multi",
				Usage: "<name> <regex> <kind;argument>...",
				Help:  "Combine several responses, e.g. `text;hello` `react;👋` `filter`.",
				Run:   b.createMultiTrigger,
			},
			{Name: "list", Usage: "[name]", Help: "List triggers or show one.", Run: b.listTriggers},
			{
				Name:    "remove",
				Aliases: []string{"del", "delete"},
				Usage:   "<name>",
				Help:    "Remove a trigger.",
				Run: func(c *commands.Context) error {
					if len(c.Args) != 1 {
						return commands.ErrUsage
					}
					removed, err := b.retrigger.RemoveTrigger(c.Ctx, c.GuildID, strings.ToLower(c.Arg(0)), c.Author().ID)
					if err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("Removed trigger `%s`.", removed.Name))
				},
			},
			{Name: "enable", Usage: "<name>", Help: "Enable a trigger.", Run: b.toggleTrigger(true)},
			{Name: "disable", Usage: "<name>", Help: "Disable a trigger.", Run: b.toggleTrigger(false)},
			b.triggerEditCommands(),
			{
				Name:  "last",
				Usage: "[channel]",
				Help:  "Show the last trigger run in a channel.",
				Run:   b.lastTrigger,
			},
			{
				Name:  "timeout",
				Usage: "<seconds>",
				Help:  "Set this server's regex timeout. 0 resets it.",
				Level: access.LevelBotOwner,
				Run:   b.setRegexTimeout,
			},
			{
				Name:  "bypass",
				Usage: "<on|off>",
				Help:  "Evaluate regexes inline with the longer bypass deadline.",
				Level: access.LevelBotOwner,
				Run:   b.setBypass,
			},
			{
				Name:  "aggressive",
				Usage: "<on|off>",
				Help:  "Disable triggers that keep timing out.",
				Level: access.LevelAdmin,
				Run: func(c *commands.Context) error {
					on, ok := commands.Bool(c.Arg(0))
					if !ok {
						return commands.ErrUsage
					}
					if err := b.retrigger.UpdateSettings(c.GuildID, func(s *retrigger.Settings) error {
						s.Aggressive = on
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, "retrigger aggressive "+onOff(on))
					return c.Done("Aggressive mode is " + onOff(on) + ".")
				},
			},
			b.triggerModlogCommands(),
		},
	}
}

func (b *Bot) newTrigger(c *commands.Context, kind triggers.ResponseKind) triggers.Trigger {
	return triggers.Trigger{
		Name:        strings.ToLower(c.Arg(0)),
		Pattern:     c.Arg(1),
		Responses:   []triggers.ResponseKind{kind},
		Author:      c.Author().ID,
		Enabled:     true,
		UserMention: true,
		CreatedAt:   time.Now().Unix(),
	}
}

func (b *Bot) createSimpleTrigger(c *commands.Context, kind triggers.ResponseKind, payload int) error {
	if len(c.Args) < 2 {
		return commands.ErrUsage
	}
	t := b.newTrigger(c, kind)
	args := c.Args[2:]
	switch payload {
	case payloadText:
		text := c.Rest(2)
		if text == "" {
			return commands.ErrUsage
		}
		t.Text = triggers.StringList{text}
	case payloadList:
		if len(args) == 0 {
			return commands.ErrUsage
		}
		t.Text = args
	case payloadRoles:
		ids, err := b.roleIDs(c, args)
		if err != nil {
			return err
		}
		t.Text = ids
	case payloadEmoji:
		list, err := emojiArgs(args)
		if err != nil {
			return err
		}
		t.Text = list
	case payloadImage, payloadImages:
		urls := args
		if payload == payloadImage {
			urls = nil
			if len(args) > 0 && strings.HasPrefix(args[0], "http") {
				urls = args[:1]
				args = args[1:]
			}
			if text := strings.Join(args, " "); text != "" {
				t.Text = triggers.StringList{text}
			}
		}
		files, err := b.downloadImages(c, urls, payload == payloadImages)
		if err != nil {
			return err
		}
		t.Image = files
	}
	return b.saveTrigger(c, t)
}

func (b *Bot) createMultiTrigger(c *commands.Context) error {
	if len(c.Args) < 3 {
		return commands.ErrUsage
	}
	t := b.newTrigger(c, "")
	t.Responses = nil
	for _, raw := range c.Args[2:] {
		action, err := triggers.ParseAction(raw)
		if err != nil {
			return commands.Errorf("%v", err)
		}
		switch action.Kind {
		case triggers.ResponseAddRole, triggers.ResponseRemoveRole:
			if action.Args, err = b.roleIDs(c, action.Args); err != nil {
				return err
			}
		case triggers.ResponseReact:
			if action.Args, err = emojiArgs(action.Args); err != nil {
				return err
			}
		case triggers.ResponseImage, triggers.ResponseRandImage, triggers.ResponseResize:
			if action.Args, err = b.downloadImages(c, action.Args, false); err != nil {
				return err
			}
		}
		t.Multi = append(t.Multi, action)
	}
	t.Responses = t.Kinds()
	return b.saveTrigger(c, t)
}

func (b *Bot) saveTrigger(c *commands.Context, t triggers.Trigger) error {
	if t.Has(triggers.ResponseMock) {
		ok, err := c.Confirm("Mock triggers run commands as **you** whenever anyone matches `" + t.Pattern + "`. Are you sure?")
		if err != nil || !ok {
			return err
		}
	}
	if err := b.retrigger.CreateTrigger(c.Ctx, c.GuildID, c.Message.ChannelID, t); err != nil {
		return err
	}
	return c.Done(fmt.Sprintf("Trigger `%s` created.", t.Name))
}

func (b *Bot) roleIDs(c *commands.Context, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, commands.ErrUsage
	}
	guild, err := b.platform.Guild(c.GuildID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, value := range values {
		role, ok := commands.Role(guild, value)
		if !ok {
			return nil, commands.Errorf("No role called `%s`.", value)
		}
		ids = append(ids, role.ID)
	}
	return ids, nil
}

func emojiArgs(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, commands.ErrUsage
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		emoji, ok := commands.Emoji(value)
		if !ok {
			return nil, commands.Errorf("`%s` is not an emoji.", value)
		}
		out = append(out, emoji.String())
	}
	return out, nil
}

// downloadImages stores the given urls, falling back to the invoking
// message's attachments.
func (b *Bot) downloadImages(c *commands.Context, urls []string, all bool) ([]string, error) {
	if len(urls) == 0 {
		for _, a := range c.Message.Attachments {
			urls = append(urls, a.URL)
			if !all {
				break
			}
		}
	}
	if len(urls) == 0 {
		return nil, commands.Errorf("Attach an image or give its URL.")
	}
	files := make([]string, 0, len(urls))
	for _, url := range urls {
		file, err := b.triggers.Images().Download(c.Ctx, c.GuildID, url)
		if err != nil {
			return nil, commands.Errorf("Could not save `%s`: %v", url, err)
		}
		files = append(files, file)
	}
	return files, nil
}

func (b *Bot) toggleTrigger(enabled bool) func(c *commands.Context) error {
	return func(c *commands.Context) error {
		if len(c.Args) != 1 {
			return commands.ErrUsage
		}
		t, err := b.retrigger.SetTriggerEnabled(c.Ctx, c.GuildID, strings.ToLower(c.Arg(0)), c.Author().ID, enabled)
		if err != nil {
			return err
		}
		return c.Done(fmt.Sprintf("Trigger `%s` is %s.", t.Name, map[bool]string{true: "enabled", false: "disabled"}[enabled]))
	}
}

func describeTrigger(t triggers.Trigger) *discordgo.MessageEmbed {
	status := "enabled"
	if !t.Enabled {
		status = "disabled"
		if t.DisabledReason != triggers.DisabledManual {
			status += " (" + string(t.DisabledReason) + ")"
		}
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Trigger " + t.Name,
		Description: "```\n" + utils.Truncate(t.Pattern, 1000) + "\n```",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Responses", Value: kindNames(t), Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Fired", Value: strconv.FormatInt(t.Count, 10), Inline: true},
			{Name: "Author", Value: "<@" + t.Author + ">", Inline: true},
		},
	}
	if len(t.Text) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Text", Value: utils.Truncate(strings.Join(t.Text, "\n"), 1024)})
	}
	if len(t.Multi) > 0 {
		var lines []string
		for _, action := range t.Multi {
			lines = append(lines, string(action.Kind)+" "+strings.Join(action.Args, "; "))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Steps", Value: utils.Truncate(strings.Join(lines, "\n"), 1024)})
	}
	if t.Cooldown != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Cooldown", Value: fmt.Sprintf("%ds per %s", t.Cooldown.Seconds, t.Cooldown.Scope), Inline: true})
	}
	if t.Chance > 1 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Chance", Value: fmt.Sprintf("1 in %d", t.Chance), Inline: true})
	}
	if len(t.Allowlist) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Allowed", Value: strings.Join(t.Allowlist, ", ")})
	}
	if len(t.Blocklist) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Blocked", Value: strings.Join(t.Blocklist, ", ")})
	}
	return embed
}

func (b *Bot) listTriggers(c *commands.Context) error {
	if len(c.Args) > 0 {
		t, err := b.triggers.Get(c.GuildID, strings.ToLower(c.Arg(0)))
		if err != nil {
			return err
		}
		return c.ReplyEmbed(describeTrigger(t))
	}
	list := b.triggers.List(c.GuildID)
	if len(list) == 0 {
		return c.Reply("No triggers yet.")
	}
	lines := make([]string, 0, len(list))
	for _, t := range list {
		mark := "🟢"
		if !t.Enabled {
			mark = "🔴"
		}
		lines = append(lines, fmt.Sprintf("%s `%s` · %s · `%s`", mark, t.Name, kindNames(t), utils.Truncate(t.Pattern, 60)))
	}
	return b.replyPages(c, "Triggers", lines)
}

func kindNames(t triggers.Trigger) string {
	var names []string
	for _, kind := range t.Kinds() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}

func (b *Bot) lastTrigger(c *commands.Context) error {
	channelID := c.Message.ChannelID
	if len(c.Args) > 0 {
		id, ok := commands.ChannelID(c.Arg(0))
		if !ok {
			return commands.ErrUsage
		}
		channelID = id
	}
	run, ok, err := b.retrigger.LastRun(c.Ctx, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return c.Reply("No trigger has run in <#" + channelID + "> recently.")
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Last trigger in #" + channelID,
		Description: "```\n" + utils.Truncate(run.Regex, 1000) + "\n```",
		Timestamp:   run.At().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Trigger", Value: run.Name, Inline: true},
			{Name: "Message", Value: fmt.Sprintf("[Jump](https://discord.com/channels/%s/%s/%s)", c.GuildID, run.ChannelID, run.MessageID), Inline: true},
		},
	}
	if run.Error != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Error", Value: utils.Truncate(run.Error, 1024)})
	}
	return c.ReplyEmbed(embed)
}

func (b *Bot) setRegexTimeout(c *commands.Context) error {
	seconds, err := strconv.ParseFloat(c.Arg(0), 64)
	if err != nil || seconds < 0 {
		return commands.ErrUsage
	}
	limit := b.cfg.Triggers.BypassTimeout.Seconds()
	if seconds > limit {
		return commands.Errorf("The timeout cannot exceed %gs.", limit)
	}
	if err := b.retrigger.UpdateSettings(c.GuildID, func(s *retrigger.Settings) error {
		s.RegexTimeout = seconds
		return nil
	}); err != nil {
		return err
	}
	b.logSetting(c, fmt.Sprintf("retrigger timeout %gs", seconds))
	if seconds == 0 {
		return c.Done(fmt.Sprintf("Regex timeout reset to %s.", b.regex.DefaultTimeout()))
	}
	return c.Done(fmt.Sprintf("Regex timeout set to %gs.", seconds))
}

func (b *Bot) setBypass(c *commands.Context) error {
	on, ok := commands.Bool(c.Arg(0))
	if !ok {
		return commands.ErrUsage
	}
	if on {
		confirmed, err := c.Confirm(fmt.Sprintf("Bypass mode runs every regex inline for up to %s and can stall the bot on a bad pattern. Continue?", b.cfg.Triggers.BypassTimeout))
		if err != nil || !confirmed {
			return err
		}
	}
	if err := b.retrigger.UpdateSettings(c.GuildID, func(s *retrigger.Settings) error {
		s.Bypass = on
		return nil
	}); err != nil {
		return err
	}
	b.logSetting(c, "retrigger bypass "+onOff(on))
	return c.Done("Bypass mode is " + onOff(on) + ".")
}

func (b *Bot) triggerModlogCommands() *commands.Command {
	toggles := map[string]func(*retrigger.Settings) *bool{
		"filter":     func(s *retrigger.Settings) *bool { return &s.FilterLogs },
		"kick":       func(s *retrigger.Settings) *bool { return &s.KickLogs },
		"ban":        func(s *retrigger.Settings) *bool { return &s.BanLogs },
		"addrole":    func(s *retrigger.Settings) *bool { return &s.AddRoleLogs },
		"removerole": func(s *retrigger.Settings) *bool { return &s.RemoveRoleLogs },
	}
	return &commands.Command{
		Name:  "modlog",
		Help:  "Log moderation done by triggers.",
		Level: access.LevelAdmin,
		Sub: []*commands.Command{
			{
				Name:  "channel",
				Usage: "<channel|default|off>",
				Help:  "Where trigger moderation is logged. default uses the modlog channel.",
				Run: func(c *commands.Context) error {
					value := strings.ToLower(c.Arg(0))
					switch value {
					case "":
						return commands.ErrUsage
					case "off", "none":
						value = ""
					case "default":
					default:
						id, ok := commands.ChannelID(c.Arg(0))
						if !ok {
							return commands.ErrUsage
						}
						value = id
					}
					if err := b.retrigger.UpdateSettings(c.GuildID, func(s *retrigger.Settings) error {
						s.Modlog = value
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, "retrigger modlog channel "+value)
					return c.Done("Trigger modlog updated.")
				},
			},
			{
				Name:  "toggle",
				Usage: "<filter|kick|ban|addrole|removerole> <on|off>",
				Help:  "Choose which trigger actions are logged.",
				Run: func(c *commands.Context) error {
					field, ok := toggles[strings.ToLower(c.Arg(0))]
					on, valid := commands.Bool(c.Arg(1))
					if !ok || !valid {
						return commands.ErrUsage
					}
					if err := b.retrigger.UpdateSettings(c.GuildID, func(s *retrigger.Settings) error {
						*field(s) = on
						return nil
					}); err != nil {
						return err
					}
					b.logSetting(c, fmt.Sprintf("retrigger modlog %s %s", c.Arg(0), onOff(on)))
					return c.Done(fmt.Sprintf("Logging %s actions is %s.", strings.ToLower(c.Arg(0)), onOff(on)))
				},
			},
			{
				Name: "settings",
				Help: "Show trigger modlog settings.",
				Run: func(c *commands.Context) error {
					s := b.retrigger.Settings(c.GuildID)
					channel := "off"
					switch s.Modlog {
					case "":
					case "default":
						channel = "default"
					default:
						channel = "<#" + s.Modlog + ">"
					}
					return c.ReplyEmbed(&discordgo.MessageEmbed{
						Title: "Trigger modlog",
						Fields: []*discordgo.MessageEmbedField{
							{Name: "Channel", Value: channel, Inline: true},
							{Name: "Filter", Value: onOff(s.FilterLogs), Inline: true},
							{Name: "Kick", Value: onOff(s.KickLogs), Inline: true},
							{Name: "Ban", Value: onOff(s.BanLogs), Inline: true},
							{Name: "Add role", Value: onOff(s.AddRoleLogs), Inline: true},
							{Name: "Remove role", Value: onOff(s.RemoveRoleLogs), Inline: true},
							{Name: "Regex timeout", Value: fmt.Sprintf("%gs", s.RegexTimeout), Inline: true},
							{Name: "Bypass", Value: onOff(s.Bypass), Inline: true},
							{Name: "Aggressive", Value: onOff(s.Aggressive), Inline: true},
						},
					})
				},
			},
		},
	}
}
