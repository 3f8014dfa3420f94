package bot

import (
	"context"
	"slices"
	"time"

	"guildkeeper/internal/events"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const memberCacheSize = 20000

type Publisher interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// Gateway turns platform events into bus events. discordgo applies channel,
// role, guild and emoji updates to its state before handlers run, so the
// gateway keeps its own copies to report what changed.
type Gateway struct {
	bus    Publisher
	logger *zap.Logger
	now    func() time.Time

	messages *lru.Cache[string, *events.Message]
	members  *lru.Cache[string, *discordgo.Member]
	channels *xsync.MapOf[string, *discordgo.Channel]
	roles    *xsync.MapOf[string, *discordgo.Role]
	guilds   *xsync.MapOf[string, *discordgo.Guild]
	emojis   *xsync.MapOf[string, []*discordgo.Emoji]
}

func NewGateway(bus Publisher, messageCacheSize int, logger *zap.Logger) (*Gateway, error) {
	if messageCacheSize <= 0 {
		messageCacheSize = 5000
	}
	messages, err := lru.New[string, *events.Message](messageCacheSize)
	if err != nil {
		return nil, err
	}
	members, err := lru.New[string, *discordgo.Member](memberCacheSize)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		bus:      bus,
		logger:   logger.Named("gateway"),
		now:      time.Now,
		messages: messages,
		members:  members,
		channels: xsync.NewMapOf[string, *discordgo.Channel](),
		roles:    xsync.NewMapOf[string, *discordgo.Role](),
		guilds:   xsync.NewMapOf[string, *discordgo.Guild](),
		emojis:   xsync.NewMapOf[string, []*discordgo.Emoji](),
	}, nil
}

func (g *Gateway) register(session *discordgo.Session) {
	session.AddHandler(g.onGuildCreate)
	session.AddHandler(g.onGuildUpdate)
	session.AddHandler(g.onGuildDelete)
	session.AddHandler(g.onMessageCreate)
	session.AddHandler(g.onMessageUpdate)
	session.AddHandler(g.onMessageDelete)
	session.AddHandler(g.onMessageDeleteBulk)
	session.AddHandler(g.onReactionAdd)
	session.AddHandler(g.onReactionRemove)
	session.AddHandler(g.onMemberAdd)
	session.AddHandler(g.onMemberUpdate)
	session.AddHandler(g.onMemberRemove)
	session.AddHandler(g.onChannelCreate)
	session.AddHandler(g.onChannelUpdate)
	session.AddHandler(g.onChannelDelete)
	session.AddHandler(g.onRoleCreate)
	session.AddHandler(g.onRoleUpdate)
	session.AddHandler(g.onRoleDelete)
	session.AddHandler(g.onVoiceStateUpdate)
	session.AddHandler(g.onEmojisUpdate)
	session.AddHandler(g.onInviteCreate)
	session.AddHandler(g.onInviteDelete)
}

func (g *Gateway) publish(ev *events.Event) {
	ev.At = g.now()
	if err := g.bus.Publish(context.Background(), ev); err != nil {
		g.logger.Debug("event dropped", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

// messageFrom copies the fields modules read out of a platform message.
func messageFrom(m *discordgo.Message) *events.Message {
	if m == nil {
		return nil
	}
	out := &events.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    events.UserFrom(m.Author),
		Content:   m.Content,
		Embeds:    m.Embeds,
		WebhookID: m.WebhookID,
		CreatedAt: m.Timestamp,
		EditedAt:  m.EditedTimestamp,
	}
	if m.Member != nil {
		out.Nick = m.Member.Nick
		out.MemberRoles = slices.Clone(m.Member.Roles)
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		out.Attachments = append(out.Attachments, events.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ProxyURL:    a.ProxyURL,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}
	return out
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func cloneChannel(c *discordgo.Channel) *discordgo.Channel {
	cp := *c
	cp.PermissionOverwrites = slices.Clone(c.PermissionOverwrites)
	cp.Messages = nil
	return &cp
}

func cloneRole(r *discordgo.Role) *discordgo.Role {
	cp := *r
	return &cp
}

func cloneGuild(guild *discordgo.Guild) *discordgo.Guild {
	cp := *guild
	cp.Channels = nil
	cp.Members = nil
	cp.Presences = nil
	cp.VoiceStates = nil
	cp.Threads = nil
	cp.Roles = nil
	cp.Emojis = nil
	return &cp
}

func cloneMember(m *discordgo.Member) *discordgo.Member {
	cp := *m
	cp.Roles = slices.Clone(m.Roles)
	return &cp
}

func cloneEmojis(list []*discordgo.Emoji) []*discordgo.Emoji {
	out := make([]*discordgo.Emoji, 0, len(list))
	for _, e := range list {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (g *Gateway) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	g.guilds.Store(e.ID, cloneGuild(e.Guild))
	for _, c := range e.Channels {
		g.channels.Store(c.ID, cloneChannel(c))
	}
	for _, r := range e.Roles {
		g.roles.Store(r.ID, cloneRole(r))
	}
	g.emojis.Store(e.ID, cloneEmojis(e.Emojis))
	for _, m := range e.Members {
		if m.User != nil {
			member := cloneMember(m)
			member.GuildID = e.ID
			g.members.Add(memberKey(e.ID, m.User.ID), member)
		}
	}
}

func (g *Gateway) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	g.guilds.Delete(e.ID)
	g.emojis.Delete(e.ID)
	g.channels.Range(func(id string, c *discordgo.Channel) bool {
		if c.GuildID == e.ID {
			g.channels.Delete(id)
		}
		return true
	})
}

func (g *Gateway) onGuildUpdate(_ *discordgo.Session, e *discordgo.GuildUpdate) {
	if e.Guild == nil {
		return
	}
	after := cloneGuild(e.Guild)
	before, _ := g.guilds.Load(e.ID)
	g.guilds.Store(e.ID, after)
	g.publish(&events.Event{
		Kind:    events.GuildUpdate,
		GuildID: e.ID,
		Guild:   &events.GuildChange{Before: before, After: after},
		Raw:     e,
	})
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Message == nil {
		return
	}
	msg := messageFrom(e.Message)
	g.messages.Add(msg.ID, msg)
	g.publish(&events.Event{
		Kind:      events.MessageCreate,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Message:   msg,
		Raw:       e,
	})
}

func (g *Gateway) onMessageUpdate(_ *discordgo.Session, e *discordgo.MessageUpdate) {
	if e.Message == nil {
		return
	}
	before, _ := g.messages.Get(e.ID)
	if before == nil && e.BeforeUpdate != nil {
		before = messageFrom(e.BeforeUpdate)
	}
	// Link unfurls arrive as partial updates without an author.
	if e.Author == nil {
		if before != nil && e.Embeds != nil {
			cp := *before
			cp.Embeds = e.Embeds
			g.messages.Add(cp.ID, &cp)
		}
		return
	}
	after := messageFrom(e.Message)
	if after.Nick == "" && after.MemberRoles == nil && before != nil {
		after.Nick = before.Nick
		after.MemberRoles = before.MemberRoles
	}
	g.messages.Add(after.ID, after)
	if before != nil && before.Content == after.Content {
		return
	}
	g.publish(&events.Event{
		Kind:      events.MessageEdit,
		GuildID:   after.GuildID,
		ChannelID: after.ChannelID,
		Message:   after,
		Before:    before,
		Raw:       e,
	})
}

func (g *Gateway) onMessageDelete(_ *discordgo.Session, e *discordgo.MessageDelete) {
	if e.Message == nil {
		return
	}
	cached, _ := g.messages.Get(e.ID)
	if cached == nil && e.BeforeDelete != nil {
		cached = messageFrom(e.BeforeDelete)
	}
	g.messages.Remove(e.ID)
	g.publish(&events.Event{
		Kind:      events.MessageDelete,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Delete:    &events.Deletion{MessageID: e.ID, ChannelID: e.ChannelID, Cached: cached},
		Raw:       e,
	})
}

func (g *Gateway) onMessageDeleteBulk(_ *discordgo.Session, e *discordgo.MessageDeleteBulk) {
	bulk := &events.BulkDeletion{ChannelID: e.ChannelID, MessageIDs: slices.Clone(e.Messages)}
	for _, id := range e.Messages {
		if msg, ok := g.messages.Get(id); ok {
			bulk.Cached = append(bulk.Cached, msg)
			g.messages.Remove(id)
		}
	}
	g.publish(&events.Event{
		Kind:       events.MessageBulkDelete,
		GuildID:    e.GuildID,
		ChannelID:  e.ChannelID,
		BulkDelete: bulk,
		Raw:        e,
	})
}

func reactionFrom(r *discordgo.MessageReaction, member *discordgo.Member) *events.Reaction {
	out := &events.Reaction{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     events.Emoji{ID: r.Emoji.ID, Name: r.Emoji.Name, Animated: r.Emoji.Animated},
	}
	if member != nil {
		out.MemberRoles = slices.Clone(member.Roles)
		if member.User != nil {
			out.UserBot = member.User.Bot
		}
	}
	return out
}

func (g *Gateway) onReactionAdd(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
	if e.MessageReaction == nil {
		return
	}
	g.publish(&events.Event{
		Kind:      events.ReactionAdd,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Reaction:  reactionFrom(e.MessageReaction, e.Member),
		Raw:       e,
	})
}

func (g *Gateway) onReactionRemove(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
	if e.MessageReaction == nil {
		return
	}
	var member *discordgo.Member
	if e.GuildID != "" {
		member, _ = g.members.Get(memberKey(e.GuildID, e.UserID))
	}
	g.publish(&events.Event{
		Kind:      events.ReactionRemove,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Reaction:  reactionFrom(e.MessageReaction, member),
		Raw:       e,
	})
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.Member == nil || e.User == nil {
		return
	}
	after := cloneMember(e.Member)
	g.members.Add(memberKey(e.GuildID, e.User.ID), after)
	g.publish(&events.Event{
		Kind:    events.MemberJoin,
		GuildID: e.GuildID,
		Member:  &events.MemberChange{After: after},
		Raw:     e,
	})
}

func (g *Gateway) onMemberUpdate(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if e.Member == nil || e.User == nil {
		return
	}
	key := memberKey(e.GuildID, e.User.ID)
	before, _ := g.members.Get(key)
	if before == nil && e.BeforeUpdate != nil {
		before = cloneMember(e.BeforeUpdate)
	}
	after := cloneMember(e.Member)
	g.members.Add(key, after)
	g.publish(&events.Event{
		Kind:    events.MemberUpdate,
		GuildID: e.GuildID,
		Member:  &events.MemberChange{Before: before, After: after},
		Raw:     e,
	})
}

func (g *Gateway) onMemberRemove(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if e.Member == nil || e.User == nil {
		return
	}
	key := memberKey(e.GuildID, e.User.ID)
	before, _ := g.members.Get(key)
	g.members.Remove(key)
	g.publish(&events.Event{
		Kind:    events.MemberLeave,
		GuildID: e.GuildID,
		Member:  &events.MemberChange{Before: before, After: cloneMember(e.Member)},
		Raw:     e,
	})
}

func (g *Gateway) onChannelCreate(_ *discordgo.Session, e *discordgo.ChannelCreate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	after := cloneChannel(e.Channel)
	g.channels.Store(after.ID, after)
	g.publish(&events.Event{
		Kind:      events.ChannelCreate,
		GuildID:   e.GuildID,
		ChannelID: e.ID,
		Channel:   &events.ChannelChange{After: after},
		Raw:       e,
	})
}

func (g *Gateway) onChannelUpdate(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	after := cloneChannel(e.Channel)
	before, _ := g.channels.Load(after.ID)
	g.channels.Store(after.ID, after)
	g.publish(&events.Event{
		Kind:      events.ChannelUpdate,
		GuildID:   e.GuildID,
		ChannelID: e.ID,
		Channel:   &events.ChannelChange{Before: before, After: after},
		Raw:       e,
	})
}

func (g *Gateway) onChannelDelete(_ *discordgo.Session, e *discordgo.ChannelDelete) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	before, ok := g.channels.LoadAndDelete(e.ID)
	if !ok {
		before = cloneChannel(e.Channel)
	}
	g.publish(&events.Event{
		Kind:      events.ChannelDelete,
		GuildID:   e.GuildID,
		ChannelID: e.ID,
		Channel:   &events.ChannelChange{Before: before},
		Raw:       e,
	})
}

func (g *Gateway) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	after := cloneRole(e.Role)
	g.roles.Store(after.ID, after)
	g.publish(&events.Event{
		Kind:    events.RoleCreate,
		GuildID: e.GuildID,
		Role:    &events.RoleChange{RoleID: after.ID, After: after},
		Raw:     e,
	})
}

func (g *Gateway) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	after := cloneRole(e.Role)
	before, _ := g.roles.Load(after.ID)
	g.roles.Store(after.ID, after)
	g.publish(&events.Event{
		Kind:    events.RoleUpdate,
		GuildID: e.GuildID,
		Role:    &events.RoleChange{RoleID: after.ID, Before: before, After: after},
		Raw:     e,
	})
}

func (g *Gateway) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	before, _ := g.roles.LoadAndDelete(e.RoleID)
	g.publish(&events.Event{
		Kind:    events.RoleDelete,
		GuildID: e.GuildID,
		Role:    &events.RoleChange{RoleID: e.RoleID, Before: before},
		Raw:     e,
	})
}

func (g *Gateway) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.GuildID == "" {
		return
	}
	after := *e.VoiceState
	g.publish(&events.Event{
		Kind:      events.VoiceStateUpdate,
		GuildID:   e.GuildID,
		ChannelID: after.ChannelID,
		Voice:     &events.VoiceChange{UserID: after.UserID, Before: e.BeforeUpdate, After: &after},
		Raw:       e,
	})
}

func (g *Gateway) onEmojisUpdate(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
	after := cloneEmojis(e.Emojis)
	before, _ := g.emojis.Load(e.GuildID)
	g.emojis.Store(e.GuildID, after)
	g.publish(&events.Event{
		Kind:    events.EmojiUpdate,
		GuildID: e.GuildID,
		Emoji:   &events.EmojiChange{Before: before, After: after},
		Raw:     e,
	})
}

func (g *Gateway) onInviteCreate(_ *discordgo.Session, e *discordgo.InviteCreate) {
	if e.Invite == nil {
		return
	}
	g.publish(&events.Event{
		Kind:      events.InviteCreate,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Invite: &events.InviteChange{
			Code:      e.Code,
			ChannelID: e.ChannelID,
			Inviter:   e.Inviter,
			MaxUses:   e.MaxUses,
			MaxAge:    e.MaxAge,
			Temporary: e.Temporary,
		},
		Raw: e,
	})
}

func (g *Gateway) onInviteDelete(_ *discordgo.Session, e *discordgo.InviteDelete) {
	g.publish(&events.Event{
		Kind:      events.InviteDelete,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		Invite:    &events.InviteChange{Code: e.Code, ChannelID: e.ChannelID},
		Raw:       e,
	})
}
