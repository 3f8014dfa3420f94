package bot

import (
	"fmt"
	"strings"

	"guildkeeper/internal/access"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/events"
	"guildkeeper/internal/modules/starboard"

	"github.com/bwmarrin/discordgo"
)

// boardSetting builds a "starboard <name> <board> <value>" subcommand.
func (b *Bot) boardSetting(name, usage, help string, apply func(c *commands.Context, board *starboard.Starboard, value string) error) *commands.Command {
	return &commands.Command{
		Name:  name,
		Usage: "<board> " + usage,
		Help:  help,
		Run: func(c *commands.Context) error {
			if len(c.Args) < 2 {
				return commands.ErrUsage
			}
			value := c.Rest(1)
			board, err := b.starboard.Update(c.Ctx, c.GuildID, c.Arg(0), c.Author().ID, func(board *starboard.Starboard) error {
				return apply(c, board, value)
			})
			if err != nil {
				return err
			}
			return c.Done(fmt.Sprintf("Starboard `%s` updated.", board.Name))
		},
	}
}

func boardFlag(field func(*starboard.Starboard) *bool) func(*commands.Context, *starboard.Starboard, string) error {
	return func(_ *commands.Context, board *starboard.Starboard, value string) error {
		on, ok := commands.Bool(value)
		if !ok {
			return commands.ErrUsage
		}
		*field(board) = on
		return nil
	}
}

// boardList toggles channels and roles on an allow or block list.
func (b *Bot) boardList(field func(*starboard.Starboard) *[]string) func(*commands.Context, *starboard.Starboard, string) error {
	return func(c *commands.Context, board *starboard.Starboard, value string) error {
		guild, err := b.platform.Guild(c.GuildID)
		if err != nil {
			return err
		}
		var id string
		if role, ok := commands.Role(guild, value); ok {
			id = role.ID
		} else if chID, ok := commands.ChannelID(value); ok {
			ch, err := b.platform.Channel(chID)
			if err != nil || ch.GuildID != c.GuildID {
				return starboard.ErrOtherGuild
			}
			id = chID
		} else {
			return commands.Errorf("`%s` is not a channel or role.", value)
		}
		list := field(board)
		*list, _ = toggleID(*list, id)
		return nil
	}
}

func (b *Bot) starboardCommands() *commands.Command {
	return &commands.Command{
		Name:      "starboard",
		Help:      "Repost popular messages to a board channel.",
		Level:     access.LevelAdmin,
		UserPerms: discordgo.PermissionManageChannels,
		Sub: []*commands.Command{
			{
				Name:  "create",
				Usage: "<name> [channel] [emoji]",
				Help:  "Create a board. Defaults to this channel and a star.",
				Run: func(c *commands.Context) error {
					if c.Arg(0) == "" {
						return commands.ErrUsage
					}
					channelID := c.Message.ChannelID
					if c.Arg(1) != "" {
						id, ok := commands.ChannelID(c.Arg(1))
						if !ok {
							return commands.ErrUsage
						}
						channelID = id
					}
					var emoji events.Emoji
					if c.Arg(2) != "" {
						parsed, ok := commands.Emoji(c.Arg(2))
						if !ok {
							return commands.ErrUsage
						}
						emoji = parsed
					}
					board, err := b.starboard.Create(c.Ctx, c.GuildID, c.Arg(0), channelID, emoji, c.Author().ID)
					if err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("Starboard `%s` posts to <#%s> at %d %s.", board.Name, board.ChannelID, board.Threshold, board.Emoji))
				},
			},
			{
				Name:    "delete",
				Aliases: []string{"remove"},
				Usage:   "<board>",
				Help:    "Delete a board.",
				Run: func(c *commands.Context) error {
					if c.Arg(0) == "" {
						return commands.ErrUsage
					}
					ok, err := c.Confirm(fmt.Sprintf("Delete starboard `%s`?", c.Arg(0)))
					if err != nil || !ok {
						return err
					}
					if err := b.starboard.Delete(c.Ctx, c.GuildID, c.Arg(0), c.Author().ID); err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("Starboard `%s` deleted.", strings.ToLower(c.Arg(0))))
				},
			},
			b.boardSetting("channel", "<channel>", "Move the board.", func(c *commands.Context, board *starboard.Starboard, value string) error {
				id, ok := commands.ChannelID(value)
				if !ok {
					return commands.ErrUsage
				}
				perms, err := b.platform.UserChannelPermissions(b.platform.BotUserID(), id)
				if err != nil || perms&(discordgo.PermissionSendMessages|discordgo.PermissionEmbedLinks) != discordgo.PermissionSendMessages|discordgo.PermissionEmbedLinks {
					return starboard.ErrMissingPerms
				}
				board.ChannelID = id
				return nil
			}),
			b.boardSetting("emoji", "<emoji>", "Change the emoji that counts.", func(_ *commands.Context, board *starboard.Starboard, value string) error {
				emoji, ok := commands.Emoji(value)
				if !ok {
					return commands.ErrUsage
				}
				board.Emoji = emoji.String()
				return nil
			}),
			b.boardSetting("threshold", "<n>", "Reactions needed to post.", func(_ *commands.Context, board *starboard.Starboard, value string) error {
				n, ok := commands.Int(value)
				if !ok || n < 1 {
					return commands.Errorf("The threshold must be a positive number.")
				}
				board.Threshold = n
				return nil
			}),
			b.boardSetting("toggle", "<on|off>", "Enable or disable the board.", boardFlag(func(s *starboard.Starboard) *bool { return &s.Enabled })),
			b.boardSetting("selfstar", "<on|off>", "Count authors starring their own messages.", boardFlag(func(s *starboard.Starboard) *bool { return &s.SelfStar })),
			b.boardSetting("autostar", "<on|off>", "React with the emoji to every message posted in the board's source.", boardFlag(func(s *starboard.Starboard) *bool { return &s.AutoStar })),
			b.boardSetting("colour", "<author|bot|#hex>", "Embed colour of posts.", func(_ *commands.Context, board *starboard.Starboard, value string) error {
				colour, err := starboard.ParseColour(value)
				if err != nil {
					return commands.Errorf("`%s` is not a colour.", value)
				}
				board.Colour = colour
				return nil
			}),
			b.boardSetting("allow", "<channel|role>", "Toggle an allowlist entry.", b.boardList(func(s *starboard.Starboard) *[]string { return &s.Allowlist })),
			b.boardSetting("block", "<channel|role>", "Toggle a blocklist entry.", b.boardList(func(s *starboard.Starboard) *[]string { return &s.Blocklist })),
			{
				Name:  "info",
				Usage: "[board]",
				Help:  "Show boards and their settings.",
				Run:   b.starboardInfo,
			},
			{
				Name:  "cleanup",
				Aliases: []string{"purge"},
				Help:  "Remove boards whose channel is gone and stale list entries.",
				Run: func(c *commands.Context) error {
					boards, entries, err := b.starboard.Cleanup(c.Ctx, c.GuildID, c.Author().ID)
					if err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("Removed %d boards and %d list entries.", boards, entries))
				},
			},
		},
	}
}

// starCommands let members vote without reacting.
func (b *Bot) starCommands() []*commands.Command {
	vote := func(name, help string, add bool) *commands.Command {
		return &commands.Command{
			Name:  name,
			Usage: "<message> [board]",
			Help:  help,
			Run: func(c *commands.Context) error {
				channelID, messageID, ok := commands.MessageRef(c.Arg(0), c.Message.ChannelID)
				if !ok {
					return commands.ErrUsage
				}
				fn := b.starboard.Unstar
				if add {
					fn = b.starboard.Star
				}
				if err := fn(c.Ctx, c.GuildID, c.Arg(1), channelID, messageID, c.Author().ID, c.Message.MemberRoles); err != nil {
					return err
				}
				return c.Done("Done.")
			},
		}
	}
	return []*commands.Command{
		vote("star", "Star a message.", true),
		vote("unstar", "Remove your star from a message.", false),
	}
}

func (b *Bot) starboardInfo(c *commands.Context) error {
	var boards []starboard.Starboard
	if c.Arg(0) != "" {
		board, err := b.starboard.Get(c.GuildID, c.Arg(0))
		if err != nil {
			return err
		}
		boards = append(boards, *board)
	} else {
		all, err := b.starboard.List(c.GuildID)
		if err != nil {
			return err
		}
		boards = all
	}
	if len(boards) == 0 {
		return c.Done("No starboards.")
	}
	guild, _ := b.platform.Guild(c.GuildID)
	lines := make([]string, 0, len(boards)*4)
	for _, board := range boards {
		lines = append(lines,
			fmt.Sprintf("**%s** in <#%s>, %d %s, %s", board.Name, board.ChannelID, board.Threshold, board.Emoji, onOff(board.Enabled)),
			fmt.Sprintf("selfstar %s, autostar %s, colour %s", onOff(board.SelfStar), onOff(board.AutoStar), board.Colour),
			fmt.Sprintf("allow %s, block %s", mentionIDs(guild, board.Allowlist), mentionIDs(guild, board.Blocklist)),
			fmt.Sprintf("%d messages starred with %d stars", board.StarredMessages, board.StarsAdded),
		)
	}
	return b.replyPages(c, "Starboards", lines)
}
