package bot

import (
	"fmt"
	"strings"

	"guildkeeper/internal/commands"
	"guildkeeper/internal/triggers"
)

// editField builds a "retrigger edit" subcommand taking the trigger name and
// a value.
func (b *Bot) editField(name, usage, help string, apply func(c *commands.Context, t *triggers.Trigger, args []string) error) *commands.Command {
	return &commands.Command{
		Name:  name,
		Usage: "<trigger> " + usage,
		Help:  help,
		Run: func(c *commands.Context) error {
			if len(c.Args) < 2 {
				return commands.ErrUsage
			}
			args := c.Args[1:]
			t, err := b.retrigger.EditTrigger(c.Ctx, c.GuildID, c.Message.ChannelID, strings.ToLower(c.Arg(0)), c.Author().ID,
				func(t *triggers.Trigger) error { return apply(c, t, args) })
			if err != nil {
				return err
			}
			return c.Done(fmt.Sprintf("Trigger `%s` updated.", t.Name))
		},
	}
}

func boolField(field func(*triggers.Trigger) *bool) func(*commands.Context, *triggers.Trigger, []string) error {
	return func(_ *commands.Context, t *triggers.Trigger, args []string) error {
		on, ok := commands.Bool(args[0])
		if !ok {
			return commands.ErrUsage
		}
		*field(t) = on
		return nil
	}
}

func (b *Bot) triggerEditCommands() *commands.Command {
	return &commands.Command{
		Name: "edit",
		Help: "Change an existing trigger.",
		Sub: []*commands.Command{
			b.editField("regex", "<regex>", "Replace the pattern.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				t.Pattern = strings.Join(args, " ")
				return nil
			}),
			b.editField("text", "<text>...", "Replace the response text.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				if t.Has(triggers.ResponseRandText) {
					t.Text = args
				} else {
					t.Text = triggers.StringList{strings.Join(args, " ")}
				}
				return nil
			}),
			b.editField("cooldown", "<seconds> [guild|channel|member]", "Limit how often the trigger fires. 0 removes it.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				seconds, ok := commands.Int(args[0])
				if !ok || seconds < 0 {
					return commands.ErrUsage
				}
				if seconds == 0 {
					t.Cooldown = nil
					return nil
				}
				scope := triggers.CooldownGuild
				if len(args) > 1 {
					parsed, ok := triggers.ParseCooldownScope(strings.ToLower(args[1]))
					if !ok {
						return commands.ErrUsage
					}
					scope = parsed
				}
				t.Cooldown = &triggers.Cooldown{Seconds: seconds, Scope: scope, Last: map[string]float64{}}
				return nil
			}),
			b.editField("chance", "<n>", "Fire with a 1 in n chance. 0 or 1 always fires.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				n, ok := commands.Int(args[0])
				if !ok {
					return commands.ErrUsage
				}
				t.Chance = n
				return nil
			}),
			b.editField("deleteafter", "<seconds>", "Delete responses after a delay. 0 keeps them.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				n, ok := commands.Int(args[0])
				if !ok {
					return commands.ErrUsage
				}
				t.DeleteAfter = n
				return nil
			}),
			b.editField("reply", "<notify|silent|off>", "Reply to the matched message.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				switch strings.ToLower(args[0]) {
				case "notify", "on":
					t.Reply = triggers.ReplyNotify
				case "silent":
					t.Reply = triggers.ReplySilent
				case "off", "none":
					t.Reply = triggers.ReplyNone
				default:
					return commands.ErrUsage
				}
				return nil
			}),
			b.editField("tts", "<on|off>", "Send responses as text to speech.", boolField(func(t *triggers.Trigger) *bool { return &t.TTS })),
			b.editField("mention", "<user|role|everyone> <on|off>", "Allow mentions in responses.", func(_ *commands.Context, t *triggers.Trigger, args []string) error {
				if len(args) < 2 {
					return commands.ErrUsage
				}
				on, ok := commands.Bool(args[1])
				if !ok {
					return commands.ErrUsage
				}
				switch strings.ToLower(args[0]) {
				case "user", "users":
					t.UserMention = on
				case "role", "roles":
					t.RoleMention = on
				case "everyone":
					t.EveryoneMention = on
				default:
					return commands.ErrUsage
				}
				return nil
			}),
			b.editField("edits", "<on|off>", "Also check edited messages.", boolField(func(t *triggers.Trigger) *bool { return &t.CheckEdits })),
			b.editField("ignorecommands", "<on|off>", "Skip messages that invoke commands.", boolField(func(t *triggers.Trigger) *bool { return &t.IgnoreCommands })),
			b.editField("filenames", "<on|off>", "Match attachment file names too.", boolField(func(t *triggers.Trigger) *bool { return &t.ReadFilenames })),
			b.editField("allow", "<channel|role|user>...", "Toggle entries on the allowlist.", b.editList(func(t *triggers.Trigger) *[]string { return &t.Allowlist })),
			b.editField("block", "<channel|role|user>...", "Toggle entries on the blocklist.", b.editList(func(t *triggers.Trigger) *[]string { return &t.Blocklist })),
		},
	}
}

// editList toggles each resolved id on the list.
func (b *Bot) editList(field func(*triggers.Trigger) *[]string) func(*commands.Context, *triggers.Trigger, []string) error {
	return func(c *commands.Context, t *triggers.Trigger, args []string) error {
		guild, err := b.platform.Guild(c.GuildID)
		if err != nil {
			return err
		}
		list := field(t)
		for _, value := range args {
			id, ok := resolveTarget(guild, value)
			if !ok {
				return commands.Errorf("`%s` is not a channel, role or user.", value)
			}
			*list, _ = toggleID(*list, id)
		}
		return nil
	}
}
