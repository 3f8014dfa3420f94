package reactroles

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"guildkeeper/internal/events"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"

	"go.uber.org/zap"
)

// HandleReaction grants the bound role on add and revokes it on remove.
// Both directions are no-ops when the member is already in the wanted state.
func (m *Module) HandleReaction(ctx context.Context, ev *events.Event) error {
	r := ev.Reaction
	if r == nil || ev.GuildID == "" || ev.Retrigger {
		return nil
	}
	if !m.Tracked(r.MessageID) {
		return nil
	}
	if r.UserBot || r.UserID == m.platform.BotUserID() {
		return nil
	}

	set, err := m.load(ev.GuildID)
	if err != nil {
		return fmt.Errorf("loading reaction roles: %w", err)
	}
	binding := set[r.MessageID]
	if binding == nil {
		return nil
	}
	key := r.Emoji.Key()
	bind, ok := binding.Binds[key]
	if !ok {
		m.logger.Debug("no role bound to emoji", zap.String("message_id", r.MessageID), zap.String("emoji", key))
		return nil
	}

	guild, err := m.platform.Guild(ev.GuildID)
	if err != nil {
		return err
	}
	if platform.FindRole(guild, bind.RoleID) == nil {
		m.cull(ctx, ev.GuildID, r.MessageID, binding.ChannelID, key, bind)
		return nil
	}
	bot, err := m.platform.Member(ev.GuildID, m.platform.BotUserID())
	if err != nil {
		return err
	}
	if !platform.CanManageRole(guild, bot.Roles, bind.RoleID) {
		m.logger.Debug("role outranks the bot", zap.String("guild_id", ev.GuildID), zap.String("role_id", bind.RoleID))
		return nil
	}

	unlock := m.members.Lock(ev.GuildID + "/" + r.UserID)
	defer unlock()
	member, err := m.platform.Member(ev.GuildID, r.UserID)
	if err != nil {
		if platform.IsNotFound(err) {
			return nil
		}
		return err
	}
	if member.User != nil && member.User.Bot {
		return nil
	}
	has := slices.Contains(member.Roles, bind.RoleID)

	switch {
	case ev.Kind == events.ReactionAdd && !has:
		err = m.platform.AddRole(ev.GuildID, r.UserID, bind.RoleID)
		if err == nil {
			metrics.ReactionRoleChanges.WithLabelValues("grant").Inc()
		}
	case ev.Kind == events.ReactionRemove && has:
		err = m.platform.RemoveRole(ev.GuildID, r.UserID, bind.RoleID)
		if err == nil {
			metrics.ReactionRoleChanges.WithLabelValues("revoke").Inc()
		}
	default:
		return nil
	}
	if platform.IsForbidden(err) {
		m.logger.Debug("reaction role refused", zap.String("guild_id", ev.GuildID), zap.String("role_id", bind.RoleID), zap.Error(err))
		return nil
	}
	return err
}

// cull drops a bind whose role no longer exists and clears the emoji from
// the message.
func (m *Module) cull(ctx context.Context, guildID, messageID, channelID, key string, bind Bind) {
	unlock := m.guilds.Lock(guildID)
	emptied, err := m.removeBinds(guildID, messageID, key)
	unlock()
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Warn("culling reaction role", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	if emptied {
		m.untrack(ctx, messageID)
	}
	if emoji, ok := events.ParseEmoji(bind.Emoji); ok && channelID != "" {
		if err := m.platform.ClearEmojiReactions(channelID, messageID, emoji.APIName()); err != nil {
			m.logger.Debug("clearing culled reactions", zap.String("message_id", messageID), zap.Error(err))
		}
	}
	m.audit.Log(ctx, audit.LevelWarn, guildID, "", audit.EventReactRoleCulled,
		fmt.Sprintf("role %s was deleted, removed %s from message %s", bind.RoleID, bind.Emoji, messageID))
}

// HandleMessageDelete forgets bindings on deleted messages.
func (m *Module) HandleMessageDelete(ctx context.Context, ev *events.Event) error {
	if ev.Delete == nil || ev.GuildID == "" || !m.Tracked(ev.Delete.MessageID) {
		return nil
	}
	unlock := m.guilds.Lock(ev.GuildID)
	defer unlock()
	err := m.update(ev.GuildID, func(set Bindings) error {
		delete(set, ev.Delete.MessageID)
		return nil
	})
	if err != nil {
		return err
	}
	m.untrack(ctx, ev.Delete.MessageID)
	m.logger.Debug("bound message deleted", zap.String("message_id", ev.Delete.MessageID))
	return nil
}
