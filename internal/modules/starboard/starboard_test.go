package starboard

import (
	"context"
	"strconv"
	"testing"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform/platformtest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var starEmoji = events.Emoji{Name: "⭐"}

type harness struct {
	module *Module
	fake   *platformtest.Fake
	db     *kv.Store
	clock  time.Time
}

func snowflake(at time.Time) string {
	return strconv.FormatUint(uint64(at.UnixMilli()-1420070400000)<<22, 10)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := platformtest.New("bot")
	fake.AddGuild(&discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Position: 0},
			{ID: "regular", Position: 1, Color: 0x00ff00},
			{ID: "muted", Position: 2},
			{ID: "botrole", Position: 10, Color: 0x123456},
		},
	})
	fake.AddChannel(&discordgo.Channel{ID: "c1", GuildID: "g1", Name: "general", ParentID: "cat"})
	fake.AddChannel(&discordgo.Channel{ID: "nsfw", GuildID: "g1", Name: "late-night", NSFW: true})
	fake.AddChannel(&discordgo.Channel{ID: "star", GuildID: "g1", Name: "starboard"})
	fake.SetPerms("bot", "star", discordgo.PermissionAdministrator)
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "bot", Bot: true}, Roles: []string{"botrole"}})
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "author", Username: "writer"}, Roles: []string{"regular"}})
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: id, Username: id}, Roles: []string{"regular"}})
	}
	fake.AddMember("g1", &discordgo.Member{User: &discordgo.User{ID: "quiet", Username: "quiet"}, Roles: []string{"muted"}})

	h := &harness{fake: fake, db: db, clock: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	h.addOriginal("c1", "700")
	h.addOriginal("nsfw", "701")
	h.module = New(Deps{
		Platform: fake,
		KV:       db,
		Audit:    audit.NewLogger(nil, zap.NewNop()),
		Config:   config.StarboardConfig{JanitorCron: "0 * * * *", RetentionDays: 30, ReconcileLimit: 10},
		Logger:   zap.NewNop(),
	})
	h.module.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) addOriginal(channelID, messageID string) {
	h.fake.AddMessage(&discordgo.Message{
		ID:        messageID,
		ChannelID: channelID,
		GuildID:   "g1",
		Author:    &discordgo.User{ID: "author", Username: "writer"},
		Content:   "a fine post",
		Timestamp: h.clock,
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "notes.txt", URL: "https://cdn.example/notes.txt"},
			{ID: "a2", Filename: "cat.PNG", URL: "https://cdn.example/cat.PNG"},
		},
	})
}

func (h *harness) createBoard(t *testing.T, name string, threshold int) {
	t.Helper()
	_, err := h.module.Create(context.Background(), "g1", name, "star", starEmoji, "mod")
	require.NoError(t, err)
	_, err = h.module.Update(context.Background(), "g1", name, "mod", func(s *Starboard) error {
		s.Threshold = threshold
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) react(t *testing.T, kind events.Kind, userID, channelID, messageID string) {
	t.Helper()
	ev := &events.Event{Kind: kind, GuildID: "g1", ChannelID: channelID, Reaction: &events.Reaction{
		UserID: userID, ChannelID: channelID, MessageID: messageID, Emoji: starEmoji,
	}}
	if member, err := h.fake.Member("g1", userID); err == nil && kind == events.ReactionAdd {
		ev.Reaction.MemberRoles = member.Roles
	}
	require.NoError(t, h.module.HandleReaction(context.Background(), ev))
}

func (h *harness) entry(t *testing.T, board, key string) *Entry {
	t.Helper()
	boards, ok := h.module.boards.Load("g1")
	require.True(t, ok)
	return boards[board].Messages[key]
}

func (h *harness) lastEditContent(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, h.fake.Edits)
	edit := h.fake.Edits[len(h.fake.Edits)-1]
	require.NotNil(t, edit.Content)
	return *edit.Content
}

func TestMirrorFollowsReactionCount(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 3)

	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	assert.Empty(t, h.fake.SentTo("star"))

	h.react(t, events.ReactionAdd, "u3", "c1", "700")
	sent := h.fake.SentTo("star")
	require.Len(t, sent, 1)
	assert.Equal(t, "⭐ **3**", sent[0].Message.Content)
	embed := sent[0].Message.Embeds[0]
	assert.Equal(t, "a fine post", embed.Description)
	assert.Equal(t, "writer", embed.Author.Name)
	assert.Equal(t, "https://cdn.example/cat.PNG", embed.Image.URL)
	assert.Equal(t, 0x00ff00, embed.Color)
	assert.Equal(t, "[Jump to message](https://discord.com/channels/g1/c1/700)", embed.Fields[0].Value)
	mirrorID := sent[0].ID

	h.react(t, events.ReactionAdd, "u4", "c1", "700")
	assert.Equal(t, "⭐ **4**", h.lastEditContent(t))

	h.react(t, events.ReactionRemove, "u1", "c1", "700")
	assert.Equal(t, "⭐ **3**", h.lastEditContent(t))

	h.react(t, events.ReactionRemove, "u2", "c1", "700")
	assert.True(t, h.fake.HasDeleted("star", mirrorID))
	h.react(t, events.ReactionRemove, "u3", "c1", "700")

	entry := h.entry(t, "main", "c1-700")
	require.NotNil(t, entry)
	assert.False(t, entry.mirrored())
	assert.Equal(t, []string{"u4"}, entry.Reactors)
	assert.Len(t, h.fake.SentTo("star"), 1)

	edits := len(h.fake.Edits)
	require.NoError(t, h.module.HandleMessageEdit(context.Background(), &events.Event{Kind: events.MessageEdit, GuildID: "g1", ChannelID: "c1",
		Message: &events.Message{ID: "700", GuildID: "g1", ChannelID: "c1", Content: "edited"}}))
	assert.Len(t, h.fake.Edits, edits)
	assert.Equal(t, []string{"u4"}, h.entry(t, "main", "c1-700").Reactors)
}

func TestDuplicateReactionsDoNotDoubleCount(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)

	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	assert.Empty(t, h.fake.SentTo("star"))
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	assert.Len(t, h.fake.SentTo("star"), 1)

	board, err := h.module.Get("g1", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, board.StarredMessages)
	assert.Equal(t, 2, board.StarsAdded)
}

func TestMirrorReactionsShareTheCounter(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	sent := h.fake.SentTo("star")
	require.Len(t, sent, 1)
	mirrorID := sent[0].ID

	h.react(t, events.ReactionAdd, "u3", "star", mirrorID)
	assert.Equal(t, "⭐ **3**", h.lastEditContent(t))
	h.react(t, events.ReactionAdd, "u1", "star", mirrorID)
	assert.Len(t, h.entry(t, "main", "c1-700").Reactors, 3)

	h.react(t, events.ReactionRemove, "u3", "star", mirrorID)
	assert.Equal(t, "⭐ **2**", h.lastEditContent(t))
	assert.Nil(t, h.entry(t, "main", "star-"+mirrorID))
}

func TestThresholdOfOneIsPromoted(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 1)

	board, err := h.module.Get("g1", "main")
	require.NoError(t, err)
	assert.Equal(t, 2, board.Threshold)

	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	assert.Empty(t, h.fake.SentTo("star"))

	require.NoError(t, h.db.Set(kv.Guild("g2"), boardsKey, Boards{"raw": {ChannelID: "star", Emoji: "⭐", Threshold: 1, Enabled: true}}))
	restarted := New(Deps{Platform: h.fake, KV: h.db, Logger: zap.NewNop()})
	loaded, err := restarted.Get("g2", "raw")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Threshold)
}

func TestEligibilityRules(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)

	// Self stars, bots and NSFW sources never count.
	h.react(t, events.ReactionAdd, "author", "c1", "700")
	h.react(t, events.ReactionAdd, "bot", "c1", "700")
	botEvent := &events.Event{Kind: events.ReactionAdd, GuildID: "g1", ChannelID: "c1", Reaction: &events.Reaction{
		UserID: "other-bot", UserBot: true, ChannelID: "c1", MessageID: "700", Emoji: starEmoji,
	}}
	require.NoError(t, h.module.HandleReaction(context.Background(), botEvent))
	assert.Nil(t, h.entry(t, "main", "c1-700"))

	h.react(t, events.ReactionAdd, "u1", "nsfw", "701")
	h.react(t, events.ReactionAdd, "u2", "nsfw", "701")
	assert.Nil(t, h.entry(t, "main", "nsfw-701"))

	// A blocked role is refused, everyone else counts.
	_, err := h.module.Update(context.Background(), "g1", "main", "mod", func(s *Starboard) error {
		s.Blocklist = []string{"muted"}
		return nil
	})
	require.NoError(t, err)
	h.react(t, events.ReactionAdd, "quiet", "c1", "700")
	assert.Nil(t, h.entry(t, "main", "c1-700"))
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	assert.Equal(t, []string{"u1"}, h.entry(t, "main", "c1-700").Reactors)

	// A role-only allowlist does not restrict channels.
	_, err = h.module.Update(context.Background(), "g1", "main", "mod", func(s *Starboard) error {
		s.Blocklist = nil
		s.Allowlist = []string{"muted"}
		return nil
	})
	require.NoError(t, err)
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	assert.Equal(t, []string{"u1"}, h.entry(t, "main", "c1-700").Reactors)
	h.react(t, events.ReactionAdd, "quiet", "c1", "700")
	assert.Len(t, h.entry(t, "main", "c1-700").Reactors, 2)
}

func TestSelfStarWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	_, err := h.module.Update(context.Background(), "g1", "main", "mod", func(s *Starboard) error {
		s.SelfStar = true
		s.AutoStar = true
		return nil
	})
	require.NoError(t, err)

	h.react(t, events.ReactionAdd, "author", "c1", "700")
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	sent := h.fake.SentTo("star")
	require.Len(t, sent, 1)
	assert.Contains(t, h.fake.ReactionsAdded, "star/"+sent[0].ID+"/⭐")
}

func TestBlockedChannelIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	_, err := h.module.Update(context.Background(), "g1", "main", "mod", func(s *Starboard) error {
		s.Blocklist = []string{"cat"}
		return nil
	})
	require.NoError(t, err)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	assert.Nil(t, h.entry(t, "main", "c1-700"))

	err = h.module.Star(context.Background(), "g1", "main", "c1", "700", "u1", []string{"regular"})
	assert.ErrorIs(t, err, ErrChannelRefused)
}

func TestManualStarAndUnstar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createBoard(t, "main", 2)

	require.NoError(t, h.module.Star(ctx, "g1", "", "c1", "700", "u1", []string{"regular"}))
	require.NoError(t, h.module.Star(ctx, "g1", "", "c1", "700", "u2", []string{"regular"}))
	sent := h.fake.SentTo("star")
	require.Len(t, sent, 1)

	require.NoError(t, h.module.Unstar(ctx, "g1", "", "c1", "700", "u1", []string{"regular"}))
	assert.True(t, h.fake.HasDeleted("star", sent[0].ID))

	h.createBoard(t, "second", 2)
	assert.ErrorIs(t, h.module.Star(ctx, "g1", "", "c1", "700", "u1", nil), ErrAmbiguous)
	assert.ErrorIs(t, h.module.Star(ctx, "g1", "nope", "c1", "700", "u1", nil), ErrNotFound)

	_, err := h.module.Update(ctx, "g1", "second", "mod", func(s *Starboard) error {
		s.Enabled = false
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, h.module.Star(ctx, "g1", "second", "c1", "700", "u1", nil), ErrDisabled)
}

func TestDeletingOriginalRemovesMirror(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	mirrorID := h.fake.SentTo("star")[0].ID

	require.NoError(t, h.module.HandleMessageDelete(context.Background(), &events.Event{Kind: events.MessageDelete, GuildID: "g1", ChannelID: "c1",
		Delete: &events.Deletion{ChannelID: "c1", MessageID: "700"}}))
	assert.True(t, h.fake.HasDeleted("star", mirrorID))
	entry := h.entry(t, "main", "c1-700")
	require.NotNil(t, entry)
	assert.False(t, entry.mirrored())
	assert.Len(t, entry.Reactors, 2)
}

func TestDeletingMirrorByHandClearsIt(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	mirrorID := h.fake.SentTo("star")[0].ID

	require.NoError(t, h.module.HandleMessageDelete(context.Background(), &events.Event{Kind: events.MessageDelete, GuildID: "g1", ChannelID: "star",
		Delete: &events.Deletion{ChannelID: "star", MessageID: mirrorID}}))
	assert.False(t, h.entry(t, "main", "c1-700").mirrored())
	assert.False(t, h.fake.HasDeleted("star", mirrorID))
}

func TestEditRefreshesMirror(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")

	require.NoError(t, h.module.HandleMessageEdit(context.Background(), &events.Event{Kind: events.MessageEdit, GuildID: "g1", ChannelID: "c1",
		Message: &events.Message{ID: "700", GuildID: "g1", ChannelID: "c1", Author: events.User{ID: "author", Username: "writer"}, Content: "edited"}}))
	edit := h.fake.Edits[len(h.fake.Edits)-1]
	require.Len(t, edit.Embeds, 1)
	assert.Equal(t, "edited", edit.Embeds[0].Description)
	assert.Equal(t, "⭐ **2**", *edit.Content)
}

func TestPruneDropsOldRecords(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	old := snowflake(h.clock.Add(-40 * 24 * time.Hour))
	recent := snowflake(h.clock.Add(-10 * 24 * time.Hour))
	h.addOriginal("c1", old)
	h.addOriginal("c1", recent)
	for _, id := range []string{old, recent} {
		h.react(t, events.ReactionAdd, "u1", "c1", id)
		h.react(t, events.ReactionAdd, "u2", "c1", id)
	}
	require.Len(t, h.fake.SentTo("star"), 2)

	h.module.Prune(context.Background())
	assert.Nil(t, h.entry(t, "main", "c1-"+old))
	assert.NotNil(t, h.entry(t, "main", "c1-"+recent))
	boards, _ := h.module.boards.Load("g1")
	assert.Len(t, boards["main"].Mirrors, 1)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	h := newHarness(t)
	h.createBoard(t, "main", 2)
	h.react(t, events.ReactionAdd, "u1", "c1", "700")
	h.react(t, events.ReactionAdd, "u2", "c1", "700")
	mirrorID := h.fake.SentTo("star")[0].ID

	h.fake.SetReactors("c1", "700", "⭐",
		&discordgo.User{ID: "u1"}, &discordgo.User{ID: "u2"}, &discordgo.User{ID: "u3"},
		&discordgo.User{ID: "author"}, &discordgo.User{ID: "helper", Bot: true})
	h.fake.SetReactors("star", mirrorID, "⭐", &discordgo.User{ID: "u3"}, &discordgo.User{ID: "u4"})

	n, err := h.module.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"u1", "u2", "u3", "u4"}, h.entry(t, "main", "c1-700").Reactors)
	assert.Equal(t, "⭐ **4**", h.lastEditContent(t))

	n, err = h.module.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.module.Create(ctx, "g1", "Main", "c1", starEmoji, "mod")
	assert.ErrorIs(t, err, ErrMissingPerms)

	board, err := h.module.Create(ctx, "g1", "Main", "star", events.Emoji{}, "mod")
	require.NoError(t, err)
	assert.Equal(t, "main", board.Name)
	assert.Equal(t, "⭐", board.Emoji)
	assert.Equal(t, 3, board.Threshold)

	_, err = h.module.Create(ctx, "g1", "main", "star", starEmoji, "mod")
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, h.module.Delete(ctx, "g1", "main", "mod"))
	boards, err := h.module.List("g1")
	require.NoError(t, err)
	assert.Empty(t, boards)
}

func TestParseColour(t *testing.T) {
	for input, want := range map[string]string{
		"user":     ColourAuthor,
		"Member":   ColourAuthor,
		"bot":      ColourBot,
		"#ff0000":  "16711680",
		"0x00ff00": "65280",
		"255":      "255",
	} {
		got, err := ParseColour(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseColour("chartreuse")
	assert.Error(t, err)
	_, err = ParseColour("#1000000")
	assert.Error(t, err)
}
