package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/platform/platformtest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) PublishAsync(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) invocations() []*events.CommandInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.CommandInvocation
	for _, ev := range r.events {
		if ev.Kind == events.CommandInvoked {
			out = append(out, ev.Command)
		}
	}
	return out
}

var errBoardMissing = errors.New("starboard not found")

func newRouter(t *testing.T) (*Router, *platformtest.Fake, *recorder) {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := platformtest.New("bot")
	fake.AddGuild(&discordgo.Guild{ID: "g1", OwnerID: "owner", Roles: []*discordgo.Role{{ID: "g1"}}})
	fake.AddChannel(&discordgo.Channel{ID: "c1", GuildID: "g1"})
	fake.SetPerms("mod", "c1", discordgo.PermissionManageMessages)
	fake.SetPerms("bot", "c1", discordgo.PermissionSendMessages|discordgo.PermissionEmbedLinks)

	bus := &recorder{}
	router := New(Deps{
		Platform: fake,
		Access:   access.New(fake, db, nil, []string{"!", "gk "}),
		Bus:      bus,
		Colors:   config.EmbedColors{Action: 1, Error: 2},
		Logger:   zap.NewNop(),
	})
	return router, fake, bus
}

func message(userID, content string) *events.Event {
	return &events.Event{Kind: events.MessageCreate, GuildID: "g1", ChannelID: "c1", Message: &events.Message{
		ID: "m1", GuildID: "g1", ChannelID: "c1", Author: events.User{ID: userID, Username: userID}, Content: content,
	}}
}

func lastEmbed(t *testing.T, fake *platformtest.Fake) *discordgo.MessageEmbed {
	t.Helper()
	sent, ok := fake.LastSent()
	require.True(t, ok)
	require.Len(t, sent.Message.Embeds, 1)
	return sent.Message.Embeds[0]
}

func TestSplit(t *testing.T) {
	for input, want := range map[string][]string{
		`create text hi hello`:             {"create", "text", "hi", "hello"},
		`create text "my name" "two words"`: {"create", "text", "my name", "two words"},
		`  spaced   out `:                   {"spaced", "out"},
		`say \"quoted\"`:                    {"say", `"quoted"`},
		`empty ""`:                          {"empty", ""},
		`regex ^\d+$`:                       {"regex", `^\d+$`},
	} {
		got, err := Split(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := Split(`open "quote`)
	assert.Error(t, err)
}

func TestArgumentParsers(t *testing.T) {
	id, ok := ChannelID("<#123456789012345678>")
	assert.True(t, ok)
	assert.Equal(t, "123456789012345678", id)
	_, ok = ChannelID("general")
	assert.False(t, ok)

	id, ok = UserID("<@!123456789012345678>")
	assert.True(t, ok)
	assert.Equal(t, "123456789012345678", id)

	ch, msg, ok := MessageRef("https://discord.com/channels/111111111111111111/222222222222222222/333333333333333333", "")
	assert.True(t, ok)
	assert.Equal(t, "222222222222222222", ch)
	assert.Equal(t, "333333333333333333", msg)
	ch, msg, ok = MessageRef("222222222222222222-333333333333333333", "")
	assert.True(t, ok)
	assert.Equal(t, []string{"222222222222222222", "333333333333333333"}, []string{ch, msg})
	ch, _, ok = MessageRef("333333333333333333", "999999999999999999")
	assert.True(t, ok)
	assert.Equal(t, "999999999999999999", ch)
	_, _, ok = MessageRef("nope", "999999999999999999")
	assert.False(t, ok)

	guild := &discordgo.Guild{Roles: []*discordgo.Role{{ID: "555555555555555555", Name: "Helpers"}}}
	role, ok := Role(guild, "helpers")
	assert.True(t, ok)
	assert.Equal(t, "555555555555555555", role.ID)
	_, ok = Role(guild, "<@&555555555555555555>")
	assert.True(t, ok)

	on, ok := Bool("Enable")
	assert.True(t, ok)
	assert.True(t, on)
	_, ok = Bool("maybe")
	assert.False(t, ok)
}

func TestRouterRunsSubcommandsWithArguments(t *testing.T) {
	router, _, bus := newRouter(t)
	var got []string
	router.Add(&Command{
		Name:  "starboard",
		Level: access.LevelMod,
		Sub: []*Command{{
			Name:    "threshold",
			Aliases: []string{"limit"},
			Usage:   "<board> <count>",
			Run: func(c *Context) error {
				got = append([]string{c.Name()}, c.Args...)
				return nil
			},
		}},
	})

	require.NoError(t, router.HandleMessage(context.Background(), message("mod", `!starboard LIMIT "main board" 5`)))
	router.Wait()
	assert.Equal(t, []string{"starboard threshold", "main board", "5"}, got)

	invocations := bus.invocations()
	require.Len(t, invocations, 1)
	assert.Equal(t, "threshold", invocations[0].Name)
	assert.Equal(t, "MOD", invocations[0].Privilege)
	assert.True(t, invocations[0].CanRun)
}

func TestRouterRefusesUnprivilegedQuietly(t *testing.T) {
	router, fake, bus := newRouter(t)
	ran := false
	router.Add(&Command{Name: "setup", Level: access.LevelAdmin, Run: func(c *Context) error {
		ran = true
		return nil
	}})

	require.NoError(t, router.HandleMessage(context.Background(), message("mod", "!setup")))
	router.Wait()
	assert.False(t, ran)
	assert.Zero(t, fake.SentCount())
	require.Len(t, bus.invocations(), 1)
	assert.False(t, bus.invocations()[0].CanRun)
	assert.Equal(t, "ADMIN", bus.invocations()[0].Privilege)

	require.NoError(t, router.HandleMessage(context.Background(), message("owner", "gk setup")))
	router.Wait()
	assert.True(t, ran)
}

func TestRouterReportsErrors(t *testing.T) {
	router, fake, _ := newRouter(t)
	router.Expose(errBoardMissing)
	router.Add(
		&Command{Name: "usage", Usage: "<thing>", Run: func(c *Context) error { return ErrUsage }},
		&Command{Name: "user", Run: func(c *Context) error { return Errorf("Pick a number from %d to %d.", 1, 10) }},
		&Command{Name: "exposed", Run: func(c *Context) error { return errors.Join(errors.New("loading"), errBoardMissing) }},
		&Command{Name: "broken", Run: func(c *Context) error { return errors.New("pebble: closed") }},
		&Command{Name: "panics", Run: func(c *Context) error { panic("boom") }},
	)

	cases := map[string]string{
		"!usage":   "Usage: `!usage <thing>`",
		"!user":    "Pick a number from 1 to 10.",
		"!exposed": "loading\nstarboard not found",
		"!broken":  "Something went wrong running that command.",
		"!panics":  "Something went wrong running that command.",
	}
	for content, want := range cases {
		require.NoError(t, router.HandleMessage(context.Background(), message("u1", content)))
		router.Wait()
		embed := lastEmbed(t, fake)
		assert.Equal(t, want, embed.Description, content)
		assert.Equal(t, 2, embed.Color, content)
	}
}

func TestRouterIgnoresNonCommands(t *testing.T) {
	router, fake, bus := newRouter(t)
	router.Add(&Command{Name: "ping", Run: func(c *Context) error { return c.Reply("pong") }})

	for _, content := range []string{"ping", "!pong", "!", `!ping "unterminated`} {
		require.NoError(t, router.HandleMessage(context.Background(), message("u1", content)))
	}
	bot := message("other-bot", "!ping")
	bot.Message.Author.Bot = true
	require.NoError(t, router.HandleMessage(context.Background(), bot))
	router.Wait()
	assert.Zero(t, fake.SentCount())
	assert.Empty(t, bus.invocations())

	assert.True(t, router.IsCommand("g1", "!ping now"))
	assert.True(t, router.IsCommand("g1", "gk PING"))
	assert.False(t, router.IsCommand("g1", "!pingpong"))
	assert.False(t, router.IsCommand("g1", "ping"))
}

func TestRouterAcceptsSynthesizedMessages(t *testing.T) {
	router, fake, _ := newRouter(t)
	router.Add(&Command{Name: "ping", Run: func(c *Context) error { return c.Reply("pong") }})

	ev := message("u1", "!ping")
	ev.Retrigger = true
	require.NoError(t, router.HandleMessage(context.Background(), ev))
	router.Wait()
	sent, ok := fake.LastSent()
	require.True(t, ok)
	assert.Equal(t, "pong", sent.Message.Content)
}

func TestRouterChecksBotPermissions(t *testing.T) {
	router, fake, _ := newRouter(t)
	ran := false
	router.Add(&Command{Name: "purge", BotPerms: discordgo.PermissionManageMessages, Run: func(c *Context) error {
		ran = true
		return nil
	}})
	require.NoError(t, router.HandleMessage(context.Background(), message("u1", "!purge")))
	router.Wait()
	assert.False(t, ran)
	assert.Equal(t, "I need manage_messages here to do that.", lastEmbed(t, fake).Description)
}

func TestConfirmWaitsForInvoker(t *testing.T) {
	router, fake, _ := newRouter(t)
	answers := make(chan bool, 1)
	router.Add(&Command{Name: "bypass", Run: func(c *Context) error {
		yes, err := c.Confirm("Really?")
		answers <- yes
		return err
	}})

	require.NoError(t, router.HandleMessage(context.Background(), message("u1", "!bypass")))
	require.Eventually(t, func() bool {
		sent := fake.SentTo("c1")
		if len(sent) != 1 {
			return false
		}
		_, ok := router.pending.Load(sent[0].ID)
		return ok
	}, time.Second, 5*time.Millisecond)
	prompt := fake.SentTo("c1")[0]
	assert.Equal(t, "Really?", prompt.Message.Content)

	react := func(userID, emoji string) {
		require.NoError(t, router.HandleReaction(context.Background(), &events.Event{Kind: events.ReactionAdd, GuildID: "g1", Reaction: &events.Reaction{
			UserID: userID, ChannelID: "c1", MessageID: prompt.ID, Emoji: events.Emoji{Name: emoji},
		}}))
	}
	react("u2", confirmYes)
	react("u1", "👍")
	select {
	case <-answers:
		t.Fatal("answered by someone else")
	case <-time.After(20 * time.Millisecond):
	}
	react("u1", confirmYes)
	router.Wait()
	assert.True(t, <-answers)
	_, pending := router.pending.Load(prompt.ID)
	assert.False(t, pending)
}

func TestConfirmTimesOut(t *testing.T) {
	router, fake, _ := newRouter(t)
	router.confirmTimeout = 10 * time.Millisecond
	answers := make(chan bool, 1)
	router.Add(&Command{Name: "mock", Run: func(c *Context) error {
		yes, err := c.Confirm("Sure?")
		answers <- yes
		return err
	}})

	require.NoError(t, router.HandleMessage(context.Background(), message("u1", "!mock")))
	router.Wait()
	assert.False(t, <-answers)
	sent, ok := fake.LastSent()
	require.True(t, ok)
	assert.Equal(t, "No response, cancelled.", sent.Message.Content)
}

func TestHelpListsVisibleCommands(t *testing.T) {
	router, fake, _ := newRouter(t)
	router.Add(
		router.HelpCommand(),
		&Command{Name: "stats", Help: "Show activity.", Run: func(c *Context) error { return nil }},
		&Command{Name: "setup", Help: "Configure roles.", Level: access.LevelAdmin, Run: func(c *Context) error { return nil }},
	)
	require.NoError(t, router.HandleMessage(context.Background(), message("u1", "!help")))
	router.Wait()
	embed := lastEmbed(t, fake)
	assert.Contains(t, embed.Description, "`!stats` Show activity.")
	assert.NotContains(t, embed.Description, "setup")
}
