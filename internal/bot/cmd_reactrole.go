package bot

import (
	"fmt"

	"guildkeeper/internal/access"
	"guildkeeper/internal/commands"
	"guildkeeper/internal/modules/reactroles"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) reactroleCommands() *commands.Command {
	return &commands.Command{
		Name:      "roletools",
		Aliases:   []string{"reactrole", "rr"},
		Help:      "Grant roles through reactions.",
		Level:     access.LevelAdmin,
		UserPerms: discordgo.PermissionManageRoles,
		BotPerms:  discordgo.PermissionManageRoles | discordgo.PermissionAddReactions,
		Sub: []*commands.Command{
			{
				Name:  "add",
				Usage: "<message> <emoji> <role>",
				Help:  "Bind an emoji on an existing message to a role.",
				Run: func(c *commands.Context) error {
					if len(c.Args) < 3 {
						return commands.ErrUsage
					}
					channelID, messageID, ok := commands.MessageRef(c.Arg(0), c.Message.ChannelID)
					if !ok {
						return commands.ErrUsage
					}
					emoji, ok := commands.Emoji(c.Arg(1))
					if !ok {
						return commands.Errorf("`%s` is not an emoji.", c.Arg(1))
					}
					guild, err := b.platform.Guild(c.GuildID)
					if err != nil {
						return err
					}
					role, ok := commands.Role(guild, c.Rest(2))
					if !ok {
						return reactroles.ErrUnknownRole
					}
					prev, err := b.reactions.Bind(c.Ctx, c.GuildID, channelID, messageID, emoji, role.ID, c.Author().ID)
					if err != nil {
						return err
					}
					if prev != "" && prev != role.ID {
						return c.Done(fmt.Sprintf("%s now grants <@&%s> instead of <@&%s>.", emoji, role.ID, prev))
					}
					return c.Done(fmt.Sprintf("%s now grants <@&%s>.", emoji, role.ID))
				},
			},
			{
				Name:  "create",
				Usage: "<channel> <title> <emoji> <role> [<emoji> <role>...]",
				Help:  "Post a new message listing the roles and bind them.",
				Run:   b.createReactRoles,
			},
			{
				Name:  "remove",
				Usage: "<message> [emoji]",
				Help:  "Unbind one emoji, or every binding on the message.",
				Run: func(c *commands.Context) error {
					_, messageID, ok := commands.MessageRef(c.Arg(0), c.Message.ChannelID)
					if !ok {
						return commands.ErrUsage
					}
					if c.Arg(1) == "" {
						if err := b.reactions.Delete(c.Ctx, c.GuildID, messageID, c.Author().ID); err != nil {
							return err
						}
						return c.Done("Reaction roles removed from the message.")
					}
					emoji, ok := commands.Emoji(c.Arg(1))
					if !ok {
						return commands.Errorf("`%s` is not an emoji.", c.Arg(1))
					}
					if err := b.reactions.Unbind(c.Ctx, c.GuildID, messageID, emoji, c.Author().ID); err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("%s unbound.", emoji))
				},
			},
			{
				Name: "list",
				Help: "Show every reaction role message.",
				Run: func(c *commands.Context) error {
					listings, err := b.reactions.List(c.GuildID)
					if err != nil {
						return err
					}
					var lines []string
					for _, listing := range listings {
						lines = append(lines, fmt.Sprintf("**https://discord.com/channels/%s/%s/%s** (%s)",
							c.GuildID, listing.ChannelID, listing.MessageID, listing.Rule))
						for _, pair := range listing.Pairs {
							lines = append(lines, fmt.Sprintf("%s <@&%s>", pair.Emoji, pair.RoleID))
						}
					}
					return b.replyPages(c, "Reaction roles", lines)
				},
			},
			{
				Name: "clear",
				Help: "Remove every reaction role in the server.",
				Run: func(c *commands.Context) error {
					ok, err := c.Confirm("Remove every reaction role in this server?")
					if err != nil || !ok {
						return err
					}
					n, err := b.reactions.Clear(c.Ctx, c.GuildID, c.Author().ID)
					if err != nil {
						return err
					}
					return c.Done(fmt.Sprintf("Cleared %d messages.", n))
				},
			},
		},
	}
}

func (b *Bot) createReactRoles(c *commands.Context) error {
	if len(c.Args) < 4 || len(c.Args[2:])%2 != 0 {
		return commands.ErrUsage
	}
	channelID, ok := commands.ChannelID(c.Arg(0))
	if !ok {
		return commands.ErrUsage
	}
	guild, err := b.platform.Guild(c.GuildID)
	if err != nil {
		return err
	}
	rest := c.Args[2:]
	pairs := make([]reactroles.Pair, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		emoji, ok := commands.Emoji(rest[i])
		if !ok {
			return commands.Errorf("`%s` is not an emoji.", rest[i])
		}
		role, ok := commands.Role(guild, rest[i+1])
		if !ok {
			return commands.Errorf("Role `%s` not found.", rest[i+1])
		}
		pairs = append(pairs, reactroles.Pair{Emoji: emoji, RoleID: role.ID})
	}
	messageID, skipped, err := b.reactions.Create(c.Ctx, c.GuildID, channelID, c.Arg(1), b.cfg.Notifications.EmbedColors.Action, pairs, c.Author().ID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Posted https://discord.com/channels/%s/%s/%s", c.GuildID, channelID, messageID)
	if len(skipped) > 0 {
		text += fmt.Sprintf(" (skipped %d duplicate pairs)", len(skipped))
	}
	return c.Done(text)
}
