package commands

import (
	"context"
	"time"

	"guildkeeper/internal/events"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	confirmYes = "✅"
	confirmNo  = "❌"
)

type waiter struct {
	userID string
	answer chan bool
}

// Confirm posts prompt, adds the yes and no reactions and waits for the
// invoker to pick one. Timing out counts as no.
func (c *Context) Confirm(prompt string) (bool, error) {
	r := c.router
	sent, err := c.send(&discordgo.MessageSend{Content: prompt})
	if err != nil {
		return false, err
	}
	w := &waiter{userID: c.Message.Author.ID, answer: make(chan bool, 1)}
	r.pending.Store(sent.ID, w)
	defer r.pending.Delete(sent.ID)

	for _, emoji := range []string{confirmYes, confirmNo} {
		if err := r.platform.AddReaction(sent.ChannelID, sent.ID, emoji); err != nil {
			r.logger.Debug("adding confirmation reaction", zap.String("message_id", sent.ID), zap.Error(err))
		}
	}

	timer := time.NewTimer(r.confirmTimeout)
	defer timer.Stop()
	select {
	case yes := <-w.answer:
		return yes, nil
	case <-timer.C:
		_ = c.Reply("No response, cancelled.")
		return false, nil
	case <-c.Ctx.Done():
		return false, c.Ctx.Err()
	}
}

// HandleReaction answers pending confirmations.
func (r *Router) HandleReaction(ctx context.Context, ev *events.Event) error {
	reaction := ev.Reaction
	if reaction == nil {
		return nil
	}
	w, ok := r.pending.Load(reaction.MessageID)
	if !ok || reaction.UserID != w.userID {
		return nil
	}
	var yes bool
	switch reaction.Emoji.Name {
	case confirmYes:
		yes = true
	case confirmNo:
	default:
		return nil
	}
	select {
	case w.answer <- yes:
	default:
	}
	return nil
}
