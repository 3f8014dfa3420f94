package modlog

import (
	"context"
	"time"

	"guildkeeper/internal/platform"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

const auditLookupLimit = 5

// actor is who performed an audited change, when the audit log says so.
type actor struct {
	UserID string
	Reason string
}

func (a actor) known() bool { return a.UserID != "" }

// actorResolver makes at most one audit log request per event and shares a
// rate limit across guilds.
type actorResolver struct {
	client  platform.Client
	limiter *rate.Limiter
}

func newActorResolver(client platform.Client, limiter *rate.Limiter) *actorResolver {
	return &actorResolver{client: client, limiter: limiter}
}

// lookup finds the most recent entry of action against targetID. A
// non-empty channelID must also match the entry's channel option.
func (r *actorResolver) lookup(ctx context.Context, guildID string, action discordgo.AuditLogAction, targetID, channelID string) actor {
	if targetID == "" {
		return actor{}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.limiter.Wait(waitCtx); err != nil {
		return actor{}
	}
	log, err := r.client.AuditLog(guildID, action, auditLookupLimit)
	if err != nil || log == nil {
		return actor{}
	}
	for _, entry := range log.AuditLogEntries {
		if entry == nil || entry.TargetID != targetID {
			continue
		}
		if channelID != "" && (entry.Options == nil || entry.Options.ChannelID != channelID) {
			continue
		}
		return actor{UserID: entry.UserID, Reason: entry.Reason}
	}
	return actor{}
}
