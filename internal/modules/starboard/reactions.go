package starboard

import (
	"context"
	"fmt"

	"guildkeeper/internal/events"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// star is one reactor's vote on a message, which may be an original or a
// mirror.
type star struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	// Roles is nil when the platform did not send the reactor's roles.
	Roles []string
	Add   bool
}

// HandleReaction counts reactions on originals and on their mirrors
// against the same reactor set.
func (m *Module) HandleReaction(ctx context.Context, ev *events.Event) error {
	r := ev.Reaction
	if r == nil || ev.GuildID == "" || ev.Retrigger {
		return nil
	}
	if r.UserBot || r.UserID == m.platform.BotUserID() {
		return nil
	}
	vote := star{
		GuildID:   ev.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Roles:     r.MemberRoles,
		Add:       ev.Kind == events.ReactionAdd,
	}

	unlock := m.locks.Lock(ev.GuildID)
	defer unlock()
	boards, err := m.guildBoards(ev.GuildID)
	if err != nil {
		return err
	}
	changed := false
	for _, board := range boards.sorted() {
		if !board.Enabled || !board.matches(r.Emoji) {
			continue
		}
		ok, err := m.count(ctx, board, vote)
		if err != nil {
			m.logger.Warn("counting star", zap.String("guild_id", ev.GuildID), zap.String("board", board.Name), zap.Error(err))
			continue
		}
		changed = changed || ok
	}
	if changed {
		m.save(ev.GuildID, boards)
	}
	return nil
}

// Star adds userID's vote to a message as if they had reacted. An empty
// board name selects the guild's only board.
func (m *Module) Star(ctx context.Context, guildID, boardName, channelID, messageID, userID string, roles []string) error {
	return m.manual(ctx, boardName, star{GuildID: guildID, ChannelID: channelID, MessageID: messageID, UserID: userID, Roles: roles, Add: true})
}

// Unstar removes userID's vote from a message.
func (m *Module) Unstar(ctx context.Context, guildID, boardName, channelID, messageID, userID string, roles []string) error {
	return m.manual(ctx, boardName, star{GuildID: guildID, ChannelID: channelID, MessageID: messageID, UserID: userID, Roles: roles})
}

func (m *Module) manual(ctx context.Context, boardName string, vote star) error {
	unlock := m.locks.Lock(vote.GuildID)
	defer unlock()
	boards, err := m.guildBoards(vote.GuildID)
	if err != nil {
		return err
	}
	board, err := pick(boards, boardName)
	if err != nil {
		return err
	}
	if !board.Enabled {
		return ErrDisabled
	}
	guild, err := m.platform.Guild(vote.GuildID)
	if err != nil {
		return err
	}
	channel, err := m.platform.Channel(vote.ChannelID)
	if err != nil {
		return fmt.Errorf("fetching channel: %w", err)
	}
	if channel.GuildID != "" && channel.GuildID != vote.GuildID {
		return ErrOtherGuild
	}
	if !board.allowsRoles(guild, vote.Roles) {
		return ErrRoleRefused
	}
	if _, mirror := board.Mirrors[messageKey(vote.ChannelID, vote.MessageID)]; !mirror {
		target, _ := m.platform.Channel(board.ChannelID)
		if !board.allowsChannel(guild, channel, target) {
			return ErrChannelRefused
		}
	}
	ok, err := m.count(ctx, board, vote)
	if err != nil {
		return err
	}
	if ok {
		m.save(vote.GuildID, boards)
	}
	return nil
}

// count applies one vote to board and reports whether its state changed.
// Callers hold the guild lock.
func (m *Module) count(ctx context.Context, board *Starboard, vote star) (bool, error) {
	key := messageKey(vote.ChannelID, vote.MessageID)
	entry := board.Messages[key]
	if originalKey, ok := board.Mirrors[key]; ok {
		entry = board.Messages[originalKey]
		if entry == nil {
			delete(board.Mirrors, key)
			return true, nil
		}
	}
	if entry == nil {
		if !vote.Add {
			return false, nil
		}
		var err error
		if entry, err = m.newEntry(board, vote); entry == nil || err != nil {
			return false, err
		}
	}

	if vote.Add {
		if vote.UserID == entry.AuthorID && !board.SelfStar {
			return false, nil
		}
		allowed, err := m.reactorAllowed(board, vote)
		if err != nil || !allowed {
			return false, err
		}
		if !entry.addReactor(vote.UserID) {
			return false, nil
		}
		board.StarsAdded++
		board.Messages[messageKey(entry.OriginalChannel, entry.OriginalMessage)] = entry
	} else if !entry.removeReactor(vote.UserID) {
		return false, nil
	}
	m.syncMirror(ctx, vote.GuildID, board, entry)
	return true, nil
}

// newEntry starts tracking an original message, or returns nil when the
// board does not accept it.
func (m *Module) newEntry(board *Starboard, vote star) (*Entry, error) {
	if vote.ChannelID == board.ChannelID {
		return nil, nil
	}
	guild, err := m.platform.Guild(vote.GuildID)
	if err != nil {
		return nil, err
	}
	channel, err := m.platform.Channel(vote.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("fetching channel: %w", err)
	}
	target, _ := m.platform.Channel(board.ChannelID)
	if !board.allowsChannel(guild, channel, target) {
		m.logger.Debug("channel refused by starboard", zap.String("board", board.Name), zap.String("channel_id", vote.ChannelID))
		return nil, nil
	}
	msg, err := m.platform.Message(vote.ChannelID, vote.MessageID)
	if platform.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	if msg.Author == nil {
		return nil, nil
	}
	return &Entry{OriginalChannel: vote.ChannelID, OriginalMessage: vote.MessageID, AuthorID: msg.Author.ID}, nil
}

// reactorAllowed applies the board's role lists. Reactors who are no longer
// members still count.
func (m *Module) reactorAllowed(board *Starboard, vote star) (bool, error) {
	guild, err := m.platform.Guild(vote.GuildID)
	if err != nil {
		return false, err
	}
	roles := vote.Roles
	if roles == nil {
		member, err := m.platform.Member(vote.GuildID, vote.UserID)
		switch {
		case platform.IsNotFound(err):
			return true, nil
		case err != nil:
			return false, err
		case member.User != nil && member.User.Bot:
			return false, nil
		}
		roles = member.Roles
	}
	return board.allowsRoles(guild, roles), nil
}

// syncMirror brings the mirror in line with the reactor count: posted once
// the threshold is reached, edited while above it and deleted below it.
func (m *Module) syncMirror(ctx context.Context, guildID string, board *Starboard, entry *Entry) {
	count := len(entry.Reactors)
	switch {
	case count >= board.Threshold && !entry.mirrored():
		m.postMirror(guildID, board, entry)
	case count >= board.Threshold:
		content := counter(board, count)
		_, err := m.platform.EditMessage(&discordgo.MessageEdit{Channel: entry.MirrorChannel, ID: entry.MirrorMessage, Content: &content})
		switch {
		case platform.IsNotFound(err):
			m.forgetMirror(board, entry)
		case err != nil:
			m.logger.Warn("editing starboard mirror", zap.String("message_id", entry.MirrorMessage), zap.Error(err))
		default:
			metrics.StarboardMirrors.WithLabelValues("edit").Inc()
		}
	case entry.mirrored():
		err := m.platform.DeleteMessage(entry.MirrorChannel, entry.MirrorMessage)
		if err != nil && !platform.IsPermanent(err) {
			m.logger.Warn("deleting starboard mirror", zap.String("message_id", entry.MirrorMessage), zap.Error(err))
			return
		}
		m.forgetMirror(board, entry)
		metrics.StarboardMirrors.WithLabelValues("delete").Inc()
	}
}

func (m *Module) postMirror(guildID string, board *Starboard, entry *Entry) {
	guild, err := m.platform.Guild(guildID)
	if err != nil {
		m.logger.Warn("fetching guild for mirror", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	msg, err := m.platform.Message(entry.OriginalChannel, entry.OriginalMessage)
	if err != nil {
		m.logger.Debug("original unavailable for mirror", zap.String("message_id", entry.OriginalMessage), zap.Error(err))
		return
	}
	sent, err := m.platform.SendMessage(board.ChannelID, &discordgo.MessageSend{
		Content:         counter(board, len(entry.Reactors)),
		Embeds:          []*discordgo.MessageEmbed{m.mirrorEmbed(guild, board, sourceFromMessage(guildID, msg))},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		m.logger.Warn("posting starboard mirror", zap.String("board", board.Name), zap.Error(err))
		return
	}
	entry.MirrorChannel = board.ChannelID
	entry.MirrorMessage = sent.ID
	board.Mirrors[entry.mirrorKey()] = messageKey(entry.OriginalChannel, entry.OriginalMessage)
	board.StarredMessages++
	metrics.StarboardMirrors.WithLabelValues("create").Inc()
	if board.AutoStar {
		if err := m.platform.AddReaction(sent.ChannelID, sent.ID, board.emoji().APIName()); err != nil {
			m.logger.Debug("autostarring mirror", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}
}

// forgetMirror clears the mirror half of entry; the original and its
// reactors stay.
func (m *Module) forgetMirror(board *Starboard, entry *Entry) {
	delete(board.Mirrors, entry.mirrorKey())
	entry.MirrorChannel = ""
	entry.MirrorMessage = ""
}

// HandleMessageDelete removes the mirror of a deleted original and forgets
// mirrors deleted by hand.
func (m *Module) HandleMessageDelete(ctx context.Context, ev *events.Event) error {
	if ev.Delete == nil || ev.GuildID == "" {
		return nil
	}
	key := messageKey(ev.Delete.ChannelID, ev.Delete.MessageID)

	unlock := m.locks.Lock(ev.GuildID)
	defer unlock()
	boards, err := m.guildBoards(ev.GuildID)
	if err != nil {
		return err
	}
	changed := false
	for _, board := range boards {
		if originalKey, ok := board.Mirrors[key]; ok {
			delete(board.Mirrors, key)
			if entry := board.Messages[originalKey]; entry != nil {
				entry.MirrorChannel, entry.MirrorMessage = "", ""
			}
			changed = true
			continue
		}
		entry := board.Messages[key]
		if entry == nil || !entry.mirrored() {
			continue
		}
		if err := m.platform.DeleteMessage(entry.MirrorChannel, entry.MirrorMessage); err != nil && !platform.IsPermanent(err) {
			m.logger.Warn("deleting mirror of deleted message", zap.String("message_id", entry.MirrorMessage), zap.Error(err))
			continue
		}
		m.forgetMirror(board, entry)
		metrics.StarboardMirrors.WithLabelValues("delete").Inc()
		changed = true
	}
	if changed {
		m.save(ev.GuildID, boards)
	}
	return nil
}

// HandleMessageEdit re-renders the mirrors of an edited original.
func (m *Module) HandleMessageEdit(ctx context.Context, ev *events.Event) error {
	if ev.Message == nil || ev.GuildID == "" || ev.Retrigger {
		return nil
	}
	key := messageKey(ev.Message.ChannelID, ev.Message.ID)

	unlock := m.locks.Lock(ev.GuildID)
	defer unlock()
	boards, err := m.guildBoards(ev.GuildID)
	if err != nil {
		return err
	}
	var guild *discordgo.Guild
	for _, board := range boards.sorted() {
		entry := board.Messages[key]
		if entry == nil || !entry.mirrored() {
			continue
		}
		if guild == nil {
			if guild, err = m.platform.Guild(ev.GuildID); err != nil {
				return err
			}
		}
		content := counter(board, len(entry.Reactors))
		_, err := m.platform.EditMessage(&discordgo.MessageEdit{
			Channel: entry.MirrorChannel,
			ID:      entry.MirrorMessage,
			Content: &content,
			Embeds:  []*discordgo.MessageEmbed{m.mirrorEmbed(guild, board, sourceFromEvent(ev.Message))},
		})
		if err != nil {
			m.logger.Debug("refreshing starboard mirror", zap.String("message_id", entry.MirrorMessage), zap.Error(err))
			continue
		}
		metrics.StarboardMirrors.WithLabelValues("edit").Inc()
	}
	return nil
}
