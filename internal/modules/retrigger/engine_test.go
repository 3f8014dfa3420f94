package retrigger

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/access"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform/platformtest"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/triggers"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingBus struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *recordingBus) PublishAsync(ev *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type harness struct {
	engine *Engine
	fake   *platformtest.Fake
	store  *triggers.Store
	bus    *recordingBus
	logs   *observer.ObservedLogs
	clock  time.Time
	seq    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := platformtest.New("bot")
	fake.AddGuild(&discordgo.Guild{
		ID:      "g1",
		Name:    "Guild",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Position: 0},
			{ID: "member", Position: 1},
			{ID: "vip", Position: 2},
			{ID: "botrole", Position: 10},
			{ID: "high", Position: 20},
		},
		Channels: []*discordgo.Channel{{ID: "c1", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText}},
	})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "bot"}, Roles: []string{"botrole"}})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "user"}, Roles: []string{"member"}})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "creator", Username: "maker"}, Roles: []string{"member"}})
	fake.SetPerms("bot", "c1", discordgo.PermissionAdministrator)

	store := triggers.NewStore(db, triggers.NewImages(t.TempDir(), http.DefaultClient), zap.NewNop(), time.Minute)
	exec := regexexec.New(regexexec.Config{Workers: 2, DefaultTimeout: 100 * time.Millisecond}, zap.NewNop())
	t.Cleanup(exec.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	bus := &recordingBus{}
	h := &harness{fake: fake, store: store, bus: bus, logs: logs, clock: time.Unix(1_700_000_000, 0)}
	h.engine = New(Deps{
		Platform: fake,
		Triggers: store,
		Regex:    exec,
		Access:   access.New(fake, db, []string{"botowner"}, []string{"!"}),
		Cache:    cache.NewMemStore(),
		KV:       db,
		Bus:      bus,
		Audit:    audit.NewLogger(nil, zap.NewNop()),
		Config: config.TriggerConfig{
			RegexTimeout:     100 * time.Millisecond,
			BypassTimeout:    time.Second,
			ActionTimeout:    5 * time.Second,
			AggressiveWindow: time.Minute,
			AggressiveLimit:  2,
		},
		Logger: zap.New(core),
	})
	h.engine.now = func() time.Time { return h.clock }
	h.engine.roll = func(n int) int { return 0 }
	h.engine.afterFunc = func(d time.Duration, fn func()) { fn() }
	return h
}

func (h *harness) event(content string) *events.Event {
	h.seq++
	msg := &events.Message{
		ID:          "m" + strings.Repeat("1", h.seq),
		GuildID:     "g1",
		ChannelID:   "c1",
		Author:      events.User{ID: "u1", Username: "user"},
		MemberRoles: []string{"member"},
		Content:     content,
		CreatedAt:   h.clock,
	}
	return &events.Event{Kind: events.MessageCreate, GuildID: "g1", ChannelID: "c1", Message: msg}
}

func (h *harness) post(t *testing.T, content string) *events.Event {
	t.Helper()
	ev := h.event(content)
	require.NoError(t, h.engine.HandleMessage(context.Background(), ev))
	return ev
}

func textTrigger(name, pattern, text string) triggers.Trigger {
	return triggers.Trigger{
		Name:        name,
		Pattern:     pattern,
		Responses:   []triggers.ResponseKind{triggers.ResponseText},
		Text:        triggers.StringList{text},
		Enabled:     true,
		UserMention: true,
		Author:      "creator",
	}
}

func TestTextTriggerRepliesAndCounts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("hi", `\bhello\b`, "hi {author}")))

	h.post(t, "say hello world")

	sent := h.fake.SentTo("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "hi <@u1>", sent[0].Message.Content)
	got, err := h.store.Get("g1", "hi")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Count)

	run, ok, err := h.engine.LastRun(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", run.Name)
	assert.Empty(t, run.Error)
}

func TestNoMatchDoesNotFire(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("hi", `\bhello\b`, "hi")))
	h.post(t, "othello")
	assert.Zero(t, h.fake.SentCount())
}

func TestCooldownPerChannel(t *testing.T) {
	h := newHarness(t)
	trigger := textTrigger("hi", `\bhello\b`, "hi")
	trigger.Cooldown = &triggers.Cooldown{Seconds: 10, Scope: triggers.CooldownChannel}
	require.NoError(t, h.store.Create("g1", trigger))

	start := h.clock
	h.post(t, "hello")
	h.clock = start.Add(3 * time.Second)
	h.post(t, "hello")
	h.clock = start.Add(11 * time.Second)
	h.post(t, "hello")

	assert.Equal(t, 2, h.fake.SentCount())
	got, err := h.store.Get("g1", "hi")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Count)
}

func TestCatastrophicPatternIsSkipped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("redos", `^(a+)+$`, "x")))

	start := time.Now()
	h.post(t, strings.Repeat("a", 40)+"X")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, h.fake.SentCount())
	got, err := h.store.Get("g1", "redos")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 1, h.logs.FilterMessage("trigger regex timed out").Len())
}

func TestAggressiveModeDisablesRepeatedTimeouts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.UpdateSettings("g1", func(s *Settings) error {
		s.Aggressive = true
		return nil
	}))
	require.NoError(t, h.store.Create("g1", textTrigger("redos", `^(a+)+$`, "x")))

	h.post(t, strings.Repeat("a", 40)+"X")
	h.post(t, strings.Repeat("a", 41)+"X")

	got, err := h.store.Get("g1", "redos")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, triggers.DisabledTimeout, got.DisabledReason)
}

func TestMassMentionsAreEscaped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("echo", `echo`, "{message}")))

	h.post(t, "echo @everyone @here")
	sent, ok := h.fake.LastSent()
	require.True(t, ok)
	assert.NotContains(t, sent.Message.Content, "@everyone")
	assert.NotContains(t, sent.Message.Content, "@here")
	assert.NotContains(t, sent.Message.AllowedMentions.Parse, discordgo.AllowedMentionTypeEveryone)

	h.fake.SetPerms("u1", "c1", discordgo.PermissionMentionEveryone)
	h.post(t, "echo @everyone again")
	sent, _ = h.fake.LastSent()
	assert.Equal(t, "echo @everyone again", sent.Message.Content)
}

func TestDeleteRunsLastAndStopsEvaluation(t *testing.T) {
	h := newHarness(t)
	filter := triggers.Trigger{
		Name:    "afilter",
		Pattern: "badword",
		Enabled: true,
		Author:  "creator",
		Multi: []triggers.Action{
			{Kind: triggers.ResponseDelete},
			{Kind: triggers.ResponseText, Args: []string{"watch it {author}"}},
		},
	}
	require.NoError(t, h.store.Create("g1", filter))
	require.NoError(t, h.store.Create("g1", textTrigger("bother", "badword", "second")))

	ev := h.post(t, "a badword here")

	sent := h.fake.SentTo("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "watch it <@u1>", sent[0].Message.Content)
	assert.True(t, h.fake.HasDeleted("c1", ev.Message.ID))
}

func TestModeratorsAreNotModerated(t *testing.T) {
	h := newHarness(t)
	trigger := triggers.Trigger{
		Name: "filter", Pattern: "badword", Enabled: true,
		Responses: []triggers.ResponseKind{triggers.ResponseDelete},
	}
	require.NoError(t, h.store.Create("g1", trigger))
	h.fake.SetPerms("u1", "c1", discordgo.PermissionManageMessages)

	ev := h.post(t, "badword")
	assert.False(t, h.fake.HasDeleted("c1", ev.Message.ID))
}

func TestEditsOnlyCheckedWhenEnabled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("hi", "hello", "hi")))

	ev := h.event("hello")
	ev.Kind = events.MessageEdit
	ev.Before = &events.Message{Content: "hell"}
	require.NoError(t, h.engine.HandleMessage(context.Background(), ev))
	assert.Zero(t, h.fake.SentCount())

	_, err := h.store.Mutate("g1", "hi", true, func(t *triggers.Trigger) error {
		t.CheckEdits = true
		return nil
	})
	require.NoError(t, err)

	unchanged := h.event("hello")
	unchanged.Kind = events.MessageEdit
	unchanged.Before = &events.Message{Content: "hello"}
	require.NoError(t, h.engine.HandleMessage(context.Background(), unchanged))
	assert.Zero(t, h.fake.SentCount())

	changed := h.event("hello there")
	changed.Kind = events.MessageEdit
	changed.Before = &events.Message{Content: "hi there"}
	require.NoError(t, h.engine.HandleMessage(context.Background(), changed))
	assert.Equal(t, 1, h.fake.SentCount())
}

func TestEditBackToEarlierContentIsChecked(t *testing.T) {
	h := newHarness(t)
	trigger := textTrigger("hi", "hello", "hi")
	trigger.CheckEdits = true
	require.NoError(t, h.store.Create("g1", trigger))

	ev := h.post(t, "hello")
	assert.Equal(t, 1, h.fake.SentCount())

	// Redelivery of the same create is dropped.
	require.NoError(t, h.engine.HandleMessage(context.Background(), ev))
	assert.Equal(t, 1, h.fake.SentCount())

	edit := func(before, after string) {
		msg := *ev.Message
		msg.Content = after
		require.NoError(t, h.engine.HandleMessage(context.Background(), &events.Event{
			Kind: events.MessageEdit, GuildID: "g1", ChannelID: "c1",
			Message: &msg, Before: &events.Message{Content: before},
		}))
	}
	edit("hello", "goodbye")
	assert.Equal(t, 1, h.fake.SentCount())
	edit("goodbye", "hello")
	assert.Equal(t, 2, h.fake.SentCount())
}

func TestSkippedMessages(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("hi", "hello", "hi")))

	bot := h.event("hello")
	bot.Message.Author.Bot = true
	require.NoError(t, h.engine.HandleMessage(context.Background(), bot))

	synthesized := h.event("hello")
	synthesized.Retrigger = true
	require.NoError(t, h.engine.HandleMessage(context.Background(), synthesized))

	h.post(t, "!hello")

	_, err := h.store.SetEnabled("g1", "hi", false, triggers.DisabledManual)
	require.NoError(t, err)
	h.post(t, "hello")

	assert.Zero(t, h.fake.SentCount())
}

func TestAllowAndBlockLists(t *testing.T) {
	h := newHarness(t)
	blocked := textTrigger("blocked", "hello", "blocked")
	blocked.Blocklist = []string{"member"}
	allowed := textTrigger("allowed", "hello", "allowed")
	allowed.Allowlist = []string{"c1"}
	elsewhere := textTrigger("elsewhere", "hello", "elsewhere")
	elsewhere.Allowlist = []string{"c2"}
	for _, trigger := range []triggers.Trigger{blocked, allowed, elsewhere} {
		require.NoError(t, h.store.Create("g1", trigger))
	}

	h.post(t, "hello")

	sent := h.fake.SentTo("c1")
	require.Len(t, sent, 1)
	assert.Equal(t, "allowed", sent[0].Message.Content)
}

func TestActionFailureDisablesTrigger(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Create("g1", textTrigger("hi", "hello", "hi")))
	h.fake.Fail["SendMessage"] = platformtest.ErrInjected

	h.post(t, "hello")

	got, err := h.store.Get("g1", "hi")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, triggers.DisabledError, got.DisabledReason)
	run, ok, err := h.engine.LastRun(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, platformtest.ErrInjected.Error(), run.Error)
}

func TestMissingImageNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	trigger := triggers.Trigger{
		Name: "pic", Pattern: "cat", Enabled: true,
		Responses: []triggers.ResponseKind{triggers.ResponseImage},
		Image:     triggers.StringList{"abc-cat.png"},
	}
	require.NoError(t, h.store.Create("g1", trigger))

	h.post(t, "cat")
	got, err := h.store.Get("g1", "pic")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, triggers.DisabledMissingFile, got.DisabledReason)

	_, err = h.store.SetEnabled("g1", "pic", true, triggers.DisabledManual)
	require.NoError(t, err)
	h.post(t, "cat again")

	sent := h.fake.SentTo("c1")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Message.Content, "The file for the trigger pic was not found")
}

func TestImageTriggerAttachesFile(t *testing.T) {
	h := newHarness(t)
	file, err := h.store.Images().Save("g1", "cat.png", []byte("png-bytes"))
	require.NoError(t, err)
	trigger := triggers.Trigger{
		Name: "pic", Pattern: "cat", Enabled: true,
		Responses: []triggers.ResponseKind{triggers.ResponseImage},
		Image:     triggers.StringList{file},
		Text:      triggers.StringList{"meow {author}"},
	}
	require.NoError(t, h.store.Create("g1", trigger))

	h.post(t, "cat")
	sent, ok := h.fake.LastSent()
	require.True(t, ok)
	require.Len(t, sent.Message.Files, 1)
	assert.Equal(t, "cat.png", sent.Message.Files[0].Name)
	assert.Equal(t, "meow <@u1>", sent.Message.Content)
}

func TestCommandAndMockRedispatch(t *testing.T) {
	h := newHarness(t)
	command := textTrigger("cmd", "ping", "pong {0}")
	command.Responses = []triggers.ResponseKind{triggers.ResponseCommand}
	mock := textTrigger("mock", "sudo", "ban everyone")
	mock.Responses = []triggers.ResponseKind{triggers.ResponseMock}
	require.NoError(t, h.store.Create("g1", command))
	require.NoError(t, h.store.Create("g1", mock))

	h.post(t, "ping sudo")

	require.Len(t, h.bus.events, 2)
	for _, ev := range h.bus.events {
		assert.True(t, ev.Retrigger)
		assert.Equal(t, events.MessageCreate, ev.Kind)
	}
	assert.Equal(t, "!pong ping", h.bus.events[0].Message.Content)
	assert.Equal(t, "u1", h.bus.events[0].Message.Author.ID)
	assert.Equal(t, "!ban everyone", h.bus.events[1].Message.Content)
	assert.Equal(t, "creator", h.bus.events[1].Message.Author.ID)
}

func TestRoleResponsesRespectHierarchy(t *testing.T) {
	h := newHarness(t)
	trigger := triggers.Trigger{
		Name: "roles", Pattern: "promote", Enabled: true,
		Responses: []triggers.ResponseKind{triggers.ResponseAddRole},
		Text:      triggers.StringList{"vip", "high"},
	}
	require.NoError(t, h.store.Create("g1", trigger))

	h.post(t, "promote me")

	require.Len(t, h.fake.RoleAdds, 1)
	assert.Equal(t, "vip", h.fake.RoleAdds[0].RoleID)
	got, err := h.store.Get("g1", "roles")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestKickRefusesGuildOwner(t *testing.T) {
	h := newHarness(t)
	trigger := triggers.Trigger{
		Name: "kick", Pattern: "leave", Enabled: true,
		Responses: []triggers.ResponseKind{triggers.ResponseKick},
	}
	require.NoError(t, h.store.Create("g1", trigger))

	owner := h.event("leave")
	owner.Message.Author = events.User{ID: "owner", Username: "boss"}
	owner.Message.MemberRoles = nil
	require.NoError(t, h.engine.HandleMessage(context.Background(), owner))
	assert.Empty(t, h.fake.Kicks)

	h.post(t, "leave")
	assert.Equal(t, []string{"g1/u1"}, h.fake.Kicks)
}

func TestModerationIsLoggedToTriggerModlog(t *testing.T) {
	h := newHarness(t)
	h.fake.AddChannel(&discordgo.Channel{ID: "logs", GuildID: "g1"})
	h.fake.SetPerms("bot", "logs", discordgo.PermissionAdministrator)
	require.NoError(t, h.engine.UpdateSettings("g1", func(s *Settings) error {
		s.Modlog = "logs"
		s.FilterLogs = true
		return nil
	}))
	trigger := triggers.Trigger{
		Name: "filter", Pattern: "badword", Enabled: true, Author: "creator",
		Responses: []triggers.ResponseKind{triggers.ResponseDelete},
	}
	require.NoError(t, h.store.Create("g1", trigger))

	h.post(t, "badword")

	logged := h.fake.SentTo("logs")
	require.Len(t, logged, 1)
	require.Len(t, logged[0].Message.Embeds, 1)
	embed := logged[0].Message.Embeds[0]
	assert.Equal(t, "user - Deleted Message", embed.Author.Name)
	assert.Equal(t, "User ID: u1", embed.Footer.Text)
}
