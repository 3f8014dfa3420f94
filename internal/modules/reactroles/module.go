// Package reactroles grants and revokes roles when members react to bound
// messages.
package reactroles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"guildkeeper/internal/cache"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	namespace   = "reactroles"
	bindingsKey = "bindings"
	trackedKey  = "reactroles:tracked"
)

var (
	ErrNotFound    = errors.New("no reaction role bound")
	ErrUnknownRole = errors.New("role does not exist")
	// ErrHierarchy means the bot cannot assign the role.
	ErrHierarchy = errors.New("role is above the bot")
)

type Subscriber interface {
	Subscribe(kind events.Kind, name string, handler events.Handler)
}

type Deps struct {
	Platform platform.Client
	KV       *kv.Store
	Cache    cache.Store
	Audit    *audit.Logger
	Logger   *zap.Logger
}

type Module struct {
	platform platform.Client
	kv       *kv.Store
	cache    cache.Store
	audit    *audit.Logger
	logger   *zap.Logger

	// tracked maps message id to guild id for every bound message.
	tracked *xsync.MapOf[string, string]
	guilds  *utils.KeyedMutex
	members *utils.KeyedMutex
}

func New(deps Deps) *Module {
	return &Module{
		platform: deps.Platform,
		kv:       deps.KV,
		cache:    deps.Cache,
		audit:    deps.Audit,
		logger:   deps.Logger.Named("reactroles"),
		tracked:  xsync.NewMapOf[string, string](),
		guilds:   utils.NewKeyedMutex(),
		members:  utils.NewKeyedMutex(),
	}
}

func (m *Module) Register(bus Subscriber) {
	bus.Subscribe(events.ReactionAdd, "reactroles", m.HandleReaction)
	bus.Subscribe(events.ReactionRemove, "reactroles", m.HandleReaction)
	bus.Subscribe(events.MessageDelete, "reactroles", m.HandleMessageDelete)
}

// Load walks every guild's bindings and rebuilds the tracked set.
func (m *Module) Load(ctx context.Context) error {
	var ids []string
	err := m.kv.Iterate("custom", bindingsKey, func(parts []string, raw []byte) error {
		if len(parts) != 2 || parts[0] != namespace {
			return nil
		}
		var set Bindings
		if err := json.Unmarshal(raw, &set); err != nil {
			m.logger.Warn("skipping unreadable reaction roles", zap.String("guild_id", parts[1]), zap.Error(err))
			return nil
		}
		for messageID, binding := range set {
			if len(binding.Binds) == 0 {
				continue
			}
			m.tracked.Store(messageID, parts[1])
			ids = append(ids, messageID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading reaction roles: %w", err)
	}
	if m.cache != nil && len(ids) > 0 {
		if err := m.cache.SAdd(ctx, trackedKey, ids...); err != nil {
			m.logger.Warn("mirroring tracked messages", zap.Error(err))
		}
	}
	m.logger.Info("reaction roles loaded", zap.Int("messages", len(ids)))
	return nil
}

// Tracked reports whether messageID carries any binding.
func (m *Module) Tracked(messageID string) bool {
	_, ok := m.tracked.Load(messageID)
	return ok
}

func (m *Module) track(ctx context.Context, guildID, messageID string) {
	m.tracked.Store(messageID, guildID)
	if m.cache == nil {
		return
	}
	if err := m.cache.SAdd(ctx, trackedKey, messageID); err != nil {
		m.logger.Warn("mirroring tracked message", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (m *Module) untrack(ctx context.Context, messageIDs ...string) {
	for _, id := range messageIDs {
		m.tracked.Delete(id)
	}
	if m.cache == nil || len(messageIDs) == 0 {
		return
	}
	if err := m.cache.SRem(ctx, trackedKey, messageIDs...); err != nil {
		m.logger.Warn("removing tracked messages", zap.Error(err))
	}
}
