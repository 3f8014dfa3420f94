package reactroles

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Rule string

// Only RuleNormal changes behaviour; the others are stored for forward
// compatibility.
const (
	RuleNormal Rule = "normal"
	RuleUnique Rule = "unique"
	RuleVerify Rule = "verify"
	RuleDrop   Rule = "drop"
)

type Bind struct {
	RoleID string `json:"role_id"`
	// Emoji is the display form, parsed back with events.ParseEmoji.
	Emoji string `json:"emoji"`
}

type Binding struct {
	ChannelID string `json:"channel"`
	Rule      Rule   `json:"rules"`
	// Binds is keyed by events.Emoji.Key.
	Binds map[string]Bind `json:"react_to_roleid"`
}

// Bindings is one guild's reaction roles keyed by message id.
type Bindings map[string]*Binding

type Pair struct {
	Emoji  events.Emoji
	RoleID string
}

type Listing struct {
	MessageID string
	ChannelID string
	Rule      Rule
	Pairs     []Pair
}

func scope(guildID string) kv.Scope {
	return kv.Custom(namespace, guildID)
}

func (m *Module) load(guildID string) (Bindings, error) {
	set := Bindings{}
	if _, err := m.kv.Get(scope(guildID), bindingsKey, &set); err != nil {
		return nil, err
	}
	return set, nil
}

func (m *Module) update(guildID string, fn func(Bindings) error) error {
	set := Bindings{}
	return m.kv.Update(scope(guildID), bindingsKey, &set, func() error {
		if set == nil {
			set = Bindings{}
		}
		return fn(set)
	})
}

// checkRole verifies the role exists and sits below the bot.
func (m *Module) checkRole(guild *discordgo.Guild, roleID string) error {
	role := platform.FindRole(guild, roleID)
	if role == nil || roleID == guild.ID {
		return ErrUnknownRole
	}
	bot, err := m.platform.Member(guild.ID, m.platform.BotUserID())
	if err != nil {
		return fmt.Errorf("fetching bot member: %w", err)
	}
	if !platform.CanManageRole(guild, bot.Roles, roleID) {
		return ErrHierarchy
	}
	return nil
}

// Bind maps emoji on a message to a role and returns the role previously
// bound to that emoji, if any. The bot seeds the reaction when the message
// does not carry it yet.
func (m *Module) Bind(ctx context.Context, guildID, channelID, messageID string, emoji events.Emoji, roleID, actorID string) (string, error) {
	unlock := m.guilds.Lock(guildID)
	defer unlock()

	guild, err := m.platform.Guild(guildID)
	if err != nil {
		return "", err
	}
	if err := m.checkRole(guild, roleID); err != nil {
		return "", err
	}
	message, err := m.platform.Message(channelID, messageID)
	if err != nil {
		return "", fmt.Errorf("fetching message: %w", err)
	}

	var previous string
	err = m.update(guildID, func(set Bindings) error {
		binding := set[messageID]
		if binding == nil {
			binding = &Binding{Rule: RuleNormal, Binds: map[string]Bind{}}
			set[messageID] = binding
		}
		if binding.Binds == nil {
			binding.Binds = map[string]Bind{}
		}
		previous = binding.Binds[emoji.Key()].RoleID
		binding.ChannelID = channelID
		binding.Binds[emoji.Key()] = Bind{RoleID: roleID, Emoji: emoji.String()}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving reaction role: %w", err)
	}
	m.track(ctx, guildID, messageID)

	if !hasReaction(message, emoji) {
		if err := m.platform.AddReaction(channelID, messageID, emoji.APIName()); err != nil {
			m.logger.Debug("seeding reaction", zap.String("message_id", messageID), zap.Error(err))
		}
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventReactRoleChanged,
		fmt.Sprintf("bound %s to role %s on message %s", emoji, roleID, messageID))
	return previous, nil
}

func hasReaction(message *discordgo.Message, emoji events.Emoji) bool {
	for _, reaction := range message.Reactions {
		if reaction.Emoji == nil {
			continue
		}
		if emoji.ID != "" && reaction.Emoji.ID == emoji.ID {
			return true
		}
		if emoji.ID == "" && reaction.Emoji.ID == "" && reaction.Emoji.Name == emoji.Name {
			return true
		}
	}
	return false
}

// Create posts a reaction role message listing pairs and binds each of
// them. Pairs repeating an emoji or a role are skipped and returned.
func (m *Module) Create(ctx context.Context, guildID, channelID, title string, colour int, pairs []Pair, actorID string) (string, []Pair, error) {
	if len(pairs) == 0 {
		return "", nil, fmt.Errorf("no emoji and role pairs given")
	}
	unlock := m.guilds.Lock(guildID)
	defer unlock()

	guild, err := m.platform.Guild(guildID)
	if err != nil {
		return "", nil, err
	}
	var kept, duplicates []Pair
	seenEmoji := map[string]bool{}
	seenRole := map[string]bool{}
	for _, pair := range pairs {
		if err := m.checkRole(guild, pair.RoleID); err != nil {
			return "", nil, fmt.Errorf("%s: %w", pair.Emoji, err)
		}
		if seenEmoji[pair.Emoji.Key()] || seenRole[pair.RoleID] {
			duplicates = append(duplicates, pair)
			continue
		}
		seenEmoji[pair.Emoji.Key()] = true
		seenRole[pair.RoleID] = true
		kept = append(kept, pair)
	}

	var description strings.Builder
	description.WriteString("React to the following emoji to receive the corresponding role:\n")
	for _, pair := range kept {
		fmt.Fprintf(&description, "%s: <@&%s>\n", pair.Emoji, pair.RoleID)
	}
	if len([]rune(title)) > 256 {
		title = string([]rune(title)[:256])
	}
	sent, err := m.platform.SendMessage(channelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{{Title: title, Color: colour, Description: description.String()}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		return "", nil, fmt.Errorf("posting reaction role message: %w", err)
	}

	err = m.update(guildID, func(set Bindings) error {
		binding := &Binding{ChannelID: channelID, Rule: RuleNormal, Binds: map[string]Bind{}}
		for _, pair := range kept {
			binding.Binds[pair.Emoji.Key()] = Bind{RoleID: pair.RoleID, Emoji: pair.Emoji.String()}
		}
		set[sent.ID] = binding
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("saving reaction roles: %w", err)
	}
	m.track(ctx, guildID, sent.ID)
	for _, pair := range kept {
		if err := m.platform.AddReaction(channelID, sent.ID, pair.Emoji.APIName()); err != nil {
			m.logger.Debug("seeding reaction", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventReactRoleChanged,
		fmt.Sprintf("created reaction role message %s with %d roles", sent.ID, len(kept)))
	return sent.ID, duplicates, nil
}

// Unbind removes one emoji from a message. The message stops being tracked
// when its last emoji goes.
func (m *Module) Unbind(ctx context.Context, guildID, messageID string, emoji events.Emoji, actorID string) error {
	unlock := m.guilds.Lock(guildID)
	defer unlock()

	emptied, err := m.removeBinds(guildID, messageID, emoji.Key())
	if err != nil {
		return err
	}
	if emptied {
		m.untrack(ctx, messageID)
	}
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventReactRoleChanged,
		fmt.Sprintf("unbound %s on message %s", emoji, messageID))
	return nil
}

// removeBinds deletes emoji keys from a message's binding and reports
// whether the message has no binds left. Callers hold the guild lock.
func (m *Module) removeBinds(guildID, messageID string, keys ...string) (bool, error) {
	emptied := false
	err := m.update(guildID, func(set Bindings) error {
		binding := set[messageID]
		if binding == nil {
			return ErrNotFound
		}
		removed := 0
		for _, key := range keys {
			if _, ok := binding.Binds[key]; ok {
				delete(binding.Binds, key)
				removed++
			}
		}
		if removed == 0 {
			return ErrNotFound
		}
		if len(binding.Binds) == 0 {
			delete(set, messageID)
			emptied = true
		}
		return nil
	})
	return emptied, err
}

// Delete drops every binding on a message.
func (m *Module) Delete(ctx context.Context, guildID, messageID, actorID string) error {
	unlock := m.guilds.Lock(guildID)
	defer unlock()

	err := m.update(guildID, func(set Bindings) error {
		if _, ok := set[messageID]; !ok {
			return ErrNotFound
		}
		delete(set, messageID)
		return nil
	})
	if err != nil {
		return err
	}
	m.untrack(ctx, messageID)
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventReactRoleChanged,
		"deleted reaction roles on message "+messageID)
	return nil
}

// Clear removes all of a guild's reaction roles and returns how many
// messages were affected.
func (m *Module) Clear(ctx context.Context, guildID, actorID string) (int, error) {
	unlock := m.guilds.Lock(guildID)
	defer unlock()

	set, err := m.load(guildID)
	if err != nil {
		return 0, err
	}
	if err := m.kv.Clear(scope(guildID), bindingsKey); err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	m.untrack(ctx, ids...)
	m.audit.Log(ctx, audit.LevelWarn, guildID, actorID, audit.EventReactRoleChanged,
		fmt.Sprintf("cleared reaction roles on %d messages", len(ids)))
	return len(ids), nil
}

// List returns a guild's bindings ordered by message id, each ordered by
// emoji key.
func (m *Module) List(guildID string) ([]Listing, error) {
	set, err := m.load(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(set))
	for messageID, binding := range set {
		listing := Listing{MessageID: messageID, ChannelID: binding.ChannelID, Rule: binding.Rule}
		keys := make([]string, 0, len(binding.Binds))
		for key := range binding.Binds {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			bind := binding.Binds[key]
			emoji, ok := events.ParseEmoji(bind.Emoji)
			if !ok {
				emoji = events.Emoji{Name: key}
			}
			listing.Pairs = append(listing.Pairs, Pair{Emoji: emoji, RoleID: bind.RoleID})
		}
		out = append(out, listing)
	}
	sort.Slice(out, func(i, j int) bool { return events.SnowflakeLess(out[i].MessageID, out[j].MessageID) })
	return out, nil
}
