// Package commands routes prefixed guild messages to operator commands,
// checks who may run them and reports every invocation on the bus.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// ErrUsage makes the router reply with the command's usage line.
var ErrUsage = errors.New("invalid usage")

// userError is shown to the invoker as-is.
type userError struct{ msg string }

func (e userError) Error() string { return e.msg }

// Errorf builds an error whose message is shown to the invoker.
func Errorf(format string, args ...any) error {
	return userError{msg: fmt.Sprintf(format, args...)}
}

type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	// Level is the least privilege allowed to run the command.
	Level access.Level
	// UserPerms is an alternative to Level: holding all of these channel
	// permissions is enough.
	UserPerms int64
	BotPerms  int64
	// AllowDM lets the command run outside a guild.
	AllowDM bool
	Run     func(c *Context) error
	Sub     []*Command
}

func (cmd *Command) matches(name string) bool {
	if strings.EqualFold(cmd.Name, name) {
		return true
	}
	for _, alias := range cmd.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

func find(list []*Command, name string) *Command {
	for _, cmd := range list {
		if cmd.matches(name) {
			return cmd
		}
	}
	return nil
}

type Publisher interface {
	PublishAsync(ev *events.Event)
}

type Subscriber interface {
	Subscribe(kind events.Kind, name string, handler events.Handler)
}

type Deps struct {
	Platform platform.Client
	Access   *access.Checker
	Bus      Publisher
	Colors   config.EmbedColors
	Logger   *zap.Logger
}

type Router struct {
	platform platform.Client
	access   *access.Checker
	bus      Publisher
	colors   config.EmbedColors
	logger   *zap.Logger

	mu       sync.RWMutex
	commands []*Command
	exposed  []error

	pending        *xsync.MapOf[string, *waiter]
	confirmTimeout time.Duration
	wg             sync.WaitGroup
}

func New(deps Deps) *Router {
	return &Router{
		platform:       deps.Platform,
		access:         deps.Access,
		bus:            deps.Bus,
		colors:         deps.Colors,
		logger:         deps.Logger.Named("commands"),
		pending:        xsync.NewMapOf[string, *waiter](),
		confirmTimeout: 15 * time.Second,
	}
}

// Add registers top-level commands.
func (r *Router) Add(cmds ...*Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmds...)
}

// Expose marks errors whose message may be shown to invokers when a command
// returns them (or wraps them).
func (r *Router) Expose(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exposed = append(r.exposed, errs...)
}

// Commands returns the top-level commands ordered by name.
func (r *Router) Commands() []*Command {
	r.mu.RLock()
	out := append([]*Command(nil), r.commands...)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Router) Register(bus Subscriber) {
	bus.Subscribe(events.MessageCreate, "commands", r.HandleMessage)
	bus.Subscribe(events.ReactionAdd, "commands", r.HandleReaction)
}

// Wait blocks until running commands return.
func (r *Router) Wait() {
	r.wg.Wait()
}

// IsCommand reports whether content invokes a registered command in the
// guild.
func (r *Router) IsCommand(guildID, content string) bool {
	_, rest, ok := r.stripPrefix(guildID, content)
	if !ok {
		return false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return find(r.commands, fields[0]) != nil
}

func (r *Router) stripPrefix(guildID, content string) (string, string, bool) {
	var prefixes []string
	if r.access != nil {
		prefixes = r.access.Prefixes(guildID)
	}
	// Longest prefix first so "!!" wins over "!".
	prefixes = append([]string(nil), prefixes...)
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(content, prefix) {
			return prefix, content[len(prefix):], true
		}
	}
	return "", "", false
}

// resolve walks the command tree as far as the arguments name subcommands.
func (r *Router) resolve(args []string) ([]*Command, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var path []*Command
	list := r.commands
	for len(args) > 0 {
		cmd := find(list, args[0])
		if cmd == nil {
			break
		}
		path = append(path, cmd)
		args = args[1:]
		list = cmd.Sub
	}
	return path, args
}

// HandleMessage parses and runs a command. Messages synthesized by trigger
// responses are accepted like any other.
func (r *Router) HandleMessage(ctx context.Context, ev *events.Event) error {
	msg := ev.Message
	if msg == nil || msg.Author.Bot || msg.Author.System || msg.WebhookID != "" {
		return nil
	}
	prefix, rest, ok := r.stripPrefix(msg.GuildID, msg.Content)
	if !ok {
		return nil
	}
	args, err := Split(rest)
	if err != nil || len(args) == 0 {
		return nil
	}
	path, remaining := r.resolve(args)
	if len(path) == 0 {
		return nil
	}
	cmd := path[len(path)-1]
	c := &Context{
		Ctx:     ctx,
		Message: msg,
		GuildID: msg.GuildID,
		Prefix:  prefix,
		Path:    path,
		Args:    remaining,
		router:  r,
	}
	c.Level = r.level(ctx, msg)

	canRun, reason := r.permitted(c, cmd)
	r.publishInvocation(c, cmd, canRun)
	if !canRun {
		if reason != "" {
			_ = c.Fail(reason)
		}
		return nil
	}
	if cmd.Run == nil {
		return c.sendHelp(cmd)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(c, cmd)
	}()
	return nil
}

func (r *Router) level(ctx context.Context, msg *events.Message) access.Level {
	if r.access == nil {
		return access.LevelNone
	}
	return r.access.Level(ctx, msg.GuildID, msg.ChannelID, msg.Author.ID, msg.MemberRoles)
}

// permitted applies the guild, privilege and permission requirements of cmd
// and every parent group.
func (r *Router) permitted(c *Context, cmd *Command) (bool, string) {
	if c.GuildID == "" && !cmd.AllowDM {
		return false, "That command only works in a server."
	}
	for _, step := range c.Path {
		if step.Level == access.LevelNone && step.UserPerms == 0 {
			continue
		}
		byLevel := step.Level != access.LevelNone && c.Level >= step.Level
		byPerms := step.UserPerms != 0 && r.access != nil &&
			platform.HasPermission(r.access.Permissions(c.Message.Author.ID, c.Message.ChannelID), step.UserPerms)
		if !byLevel && !byPerms {
			return false, ""
		}
	}
	if cmd.BotPerms != 0 && c.GuildID != "" && r.access != nil {
		perms := r.access.Permissions(r.platform.BotUserID(), c.Message.ChannelID)
		if !platform.HasPermission(perms, cmd.BotPerms) {
			return false, "I need " + strings.Join(access.PermissionNames(cmd.BotPerms), ", ") + " here to do that."
		}
	}
	return true, ""
}

func (r *Router) publishInvocation(c *Context, cmd *Command, canRun bool) {
	msg := c.Message
	if r.bus == nil || msg.GuildID == "" {
		return
	}
	required := access.LevelNone
	var userPerms int64
	for _, step := range c.Path {
		if step.Level > required {
			required = step.Level
		}
		userPerms |= step.UserPerms
	}
	r.bus.PublishAsync(&events.Event{
		Kind:      events.CommandInvoked,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Command: &events.CommandInvocation{
			Name:      cmd.Name,
			Message:   msg,
			Privilege: required.String(),
			CanRun:    canRun,
			UserPerms: access.PermissionNames(userPerms),
			BotPerms:  access.PermissionNames(cmd.BotPerms),
		},
	})
	r.logger.Debug("command invoked",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.Author.ID),
		zap.String("command", cmd.Name),
		zap.String("level", c.Level.String()),
		zap.Bool("can_run", canRun),
	)
}

func (r *Router) run(c *Context, cmd *Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("command panic", zap.String("command", c.Name()), zap.Any("panic", rec))
			_ = c.Fail("Something went wrong running that command.")
		}
	}()
	err := cmd.Run(c)
	if err == nil {
		return
	}
	var shown userError
	switch {
	case errors.Is(err, ErrUsage):
		_ = c.Fail("Usage: `" + c.Prefix + c.Name() + " " + cmd.Usage + "`")
	case errors.As(err, &shown):
		_ = c.Fail(shown.msg)
	case r.isExposed(err):
		_ = c.Fail(err.Error())
	default:
		r.logger.Warn("command failed",
			zap.String("guild_id", c.GuildID),
			zap.String("command", c.Name()),
			zap.Error(err),
		)
		_ = c.Fail("Something went wrong running that command.")
	}
}

func (r *Router) isExposed(err error) bool {
	if platform.IsForbidden(err) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, target := range r.exposed {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Context is one command invocation.
type Context struct {
	Ctx     context.Context
	Message *events.Message
	GuildID string
	Prefix  string
	Level   access.Level
	Path    []*Command
	// Args are the words after the command path.
	Args   []string
	router *Router
}

// Name is the full command path, e.g. "starboard threshold".
func (c *Context) Name() string {
	names := make([]string, len(c.Path))
	for i, cmd := range c.Path {
		names[i] = cmd.Name
	}
	return strings.Join(names, " ")
}

func (c *Context) Platform() platform.Client { return c.router.platform }

func (c *Context) Author() events.User { return c.Message.Author }

// Arg returns the i-th argument or "".
func (c *Context) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Rest joins the arguments from i on.
func (c *Context) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

func (c *Context) send(msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if msg.AllowedMentions == nil {
		msg.AllowedMentions = &discordgo.MessageAllowedMentions{}
	}
	return c.router.platform.SendMessage(c.Message.ChannelID, msg)
}

func (c *Context) Reply(content string) error {
	_, err := c.send(&discordgo.MessageSend{Content: content})
	return err
}

func (c *Context) ReplyEmbed(embed *discordgo.MessageEmbed) error {
	if embed.Color == 0 {
		embed.Color = c.router.colors.Action
	}
	_, err := c.send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
	return err
}

// Fail replies with an error embed.
func (c *Context) Fail(text string) error {
	_, err := c.send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Description: text,
		Color:       c.router.colors.Error,
	}}})
	return err
}

// Done acknowledges a successful change.
func (c *Context) Done(text string) error {
	return c.ReplyEmbed(&discordgo.MessageEmbed{Description: text})
}

func (c *Context) sendHelp(cmd *Command) error {
	var b strings.Builder
	if cmd.Help != "" {
		b.WriteString(cmd.Help + "\n\n")
	}
	for _, sub := range cmd.Sub {
		line := "`" + c.Prefix + c.Name() + " " + sub.Name
		if sub.Usage != "" {
			line += " " + sub.Usage
		}
		b.WriteString(line + "`")
		if sub.Help != "" {
			b.WriteString(" " + sub.Help)
		}
		b.WriteString("\n")
	}
	return c.ReplyEmbed(&discordgo.MessageEmbed{Title: c.Prefix + c.Name(), Description: strings.TrimSpace(b.String())})
}
