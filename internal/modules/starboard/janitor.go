package starboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"guildkeeper/internal/events"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/utils"

	"go.uber.org/zap"
)

// reactionPage is the most reactors fetched per message when reconciling.
const reactionPage = 100

// Run reconciles recent mirrors once, then prunes old records on the
// janitor schedule until ctx ends. Pruning is off when retention is zero.
func (m *Module) Run(ctx context.Context) {
	if n, err := m.Reconcile(ctx, m.cfg.ReconcileLimit); err != nil {
		m.logger.Warn("reconciling starboards", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("starboard counts reconciled", zap.Int("messages", n))
	}
	if m.cfg.RetentionDays <= 0 {
		<-ctx.Done()
		return
	}
	utils.RunCron(ctx, m.cfg.JanitorCron, m.logger, m.Prune)
}

// guildIDs lists every guild with stored starboards.
func (m *Module) guildIDs() ([]string, error) {
	var ids []string
	err := m.kv.Iterate("guild", boardsKey, func(parts []string, raw []byte) error {
		if len(parts) == 1 {
			ids = append(ids, parts[0])
		}
		return nil
	})
	return ids, err
}

// Prune drops message records whose original is older than the retention
// horizon. Posted mirrors stay in the channel but are no longer counted.
func (m *Module) Prune(ctx context.Context) {
	if m.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := m.now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
	ids, err := m.guildIDs()
	if err != nil {
		m.logger.Warn("listing starboard guilds", zap.Error(err))
		return
	}
	for _, guildID := range ids {
		if ctx.Err() != nil {
			return
		}
		if n := m.pruneGuild(guildID, cutoff); n > 0 {
			m.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventStarboardPurged,
				fmt.Sprintf("pruned %d starboard records older than %d days", n, m.cfg.RetentionDays))
		}
	}
}

func (m *Module) pruneGuild(guildID string, cutoff time.Time) int {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		m.logger.Warn("loading starboards for pruning", zap.String("guild_id", guildID), zap.Error(err))
		return 0
	}
	pruned := 0
	for _, board := range boards {
		for key, entry := range board.Messages {
			at, ok := events.SnowflakeTime(entry.OriginalMessage)
			if !ok || !at.Before(cutoff) {
				continue
			}
			if entry.mirrored() {
				delete(board.Mirrors, entry.mirrorKey())
			}
			delete(board.Messages, key)
			pruned++
		}
	}
	if pruned > 0 {
		m.save(guildID, boards)
	}
	return pruned
}

// Reconcile refetches the reactions of each board's most recent limit
// mirrored messages and corrects stored reactor sets and mirrors that
// drifted while the bot was away. It returns how many records changed.
func (m *Module) Reconcile(ctx context.Context, limit int) (int, error) {
	ids, err := m.guildIDs()
	if err != nil {
		return 0, fmt.Errorf("listing starboard guilds: %w", err)
	}
	total := 0
	for _, guildID := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		total += m.reconcileGuild(ctx, guildID, limit)
	}
	return total, nil
}

func (m *Module) reconcileGuild(ctx context.Context, guildID string, limit int) int {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		m.logger.Warn("loading starboards for reconcile", zap.String("guild_id", guildID), zap.Error(err))
		return 0
	}
	corrected := 0
	for _, board := range boards {
		for _, entry := range recentMirrored(board, limit) {
			reactors, err := m.fetchReactors(guildID, board, entry)
			if err != nil {
				m.logger.Debug("fetching reactors", zap.String("message_id", entry.OriginalMessage), zap.Error(err))
				continue
			}
			if sameMembers(reactors, entry.Reactors) {
				continue
			}
			entry.Reactors = reactors
			m.syncMirror(ctx, guildID, board, entry)
			corrected++
		}
	}
	if corrected > 0 {
		m.save(guildID, boards)
	}
	return corrected
}

// recentMirrored returns up to limit mirrored entries, newest original
// first.
func recentMirrored(board *Starboard, limit int) []*Entry {
	var out []*Entry
	for _, entry := range board.Messages {
		if entry.mirrored() {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return events.SnowflakeLess(out[j].OriginalMessage, out[i].OriginalMessage) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fetchReactors collects the eligible users reacting with the board emoji
// on the original and on its mirror.
func (m *Module) fetchReactors(guildID string, board *Starboard, entry *Entry) ([]string, error) {
	emoji := board.emoji().APIName()
	users, err := m.platform.MessageReactions(entry.OriginalChannel, entry.OriginalMessage, emoji, reactionPage)
	if err != nil {
		return nil, err
	}
	if mirrorUsers, err := m.platform.MessageReactions(entry.MirrorChannel, entry.MirrorMessage, emoji, reactionPage); err == nil {
		users = append(users, mirrorUsers...)
	}
	seen := map[string]bool{}
	var out []string
	for _, user := range users {
		if user == nil || user.Bot || seen[user.ID] || user.ID == m.platform.BotUserID() {
			continue
		}
		seen[user.ID] = true
		if user.ID == entry.AuthorID && !board.SelfStar {
			continue
		}
		allowed, err := m.reactorAllowed(board, star{GuildID: guildID, UserID: user.ID})
		if err != nil || !allowed {
			continue
		}
		out = append(out, user.ID)
	}
	return out, nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
