package commands

import (
	"strings"

	"guildkeeper/internal/access"

	"github.com/bwmarrin/discordgo"
)

// HelpCommand lists the top-level commands the invoker can run, or the
// subcommands of a named group.
func (r *Router) HelpCommand() *Command {
	return &Command{
		Name:  "help",
		Usage: "[command]",
		Help:  "Show what a command does.",
		Run: func(c *Context) error {
			if len(c.Args) > 0 {
				path, rest := r.resolve(c.Args)
				if len(path) == 0 || len(rest) > 0 {
					return Errorf("No command called `%s`.", strings.Join(c.Args, " "))
				}
				sub := &Context{Ctx: c.Ctx, Message: c.Message, GuildID: c.GuildID, Prefix: c.Prefix, Level: c.Level, Path: path, router: r}
				cmd := path[len(path)-1]
				if len(cmd.Sub) == 0 {
					return c.ReplyEmbed(&discordgo.MessageEmbed{
						Title:       c.Prefix + sub.Name(),
						Description: "`" + c.Prefix + sub.Name() + " " + cmd.Usage + "`\n" + cmd.Help,
					})
				}
				return sub.sendHelp(cmd)
			}
			var b strings.Builder
			for _, cmd := range r.Commands() {
				if cmd.Level > access.LevelNone && c.Level < cmd.Level {
					continue
				}
				b.WriteString("`" + c.Prefix + cmd.Name + "` " + cmd.Help + "\n")
			}
			return c.ReplyEmbed(&discordgo.MessageEmbed{Title: "Commands", Description: strings.TrimSpace(b.String())})
		},
	}
}
