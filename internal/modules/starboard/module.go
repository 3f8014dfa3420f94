// Package starboard mirrors messages into a board channel once enough
// members react with the board's emoji, and keeps the mirror's count in step
// with the reactions.
package starboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/events"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const boardsKey = "starboards"

var (
	ErrNotFound  = errors.New("starboard not found")
	ErrExists    = errors.New("starboard name already in use")
	ErrAmbiguous = errors.New("more than one starboard, name one")
	ErrDisabled  = errors.New("starboard is disabled")
	// ErrRoleRefused means the invoker's roles are blocked or not allowed.
	ErrRoleRefused = errors.New("roles not allowed on this starboard")
	// ErrChannelRefused covers blocked channels and NSFW sources for SFW
	// boards.
	ErrChannelRefused = errors.New("channel not allowed on this starboard")
	ErrMissingPerms   = errors.New("missing send or embed permission in the starboard channel")
	ErrOtherGuild     = errors.New("message belongs to another guild")
)

type Subscriber interface {
	Subscribe(kind events.Kind, name string, handler events.Handler)
}

type Deps struct {
	Platform platform.Client
	KV       *kv.Store
	Audit    *audit.Logger
	Config   config.StarboardConfig
	Logger   *zap.Logger
}

type Module struct {
	platform platform.Client
	kv       *kv.Store
	audit    *audit.Logger
	cfg      config.StarboardConfig
	logger   *zap.Logger

	boards *xsync.MapOf[string, Boards]
	locks  *utils.KeyedMutex
	now    func() time.Time
}

func New(deps Deps) *Module {
	cfg := deps.Config
	if cfg.JanitorCron == "" {
		cfg.JanitorCron = "0 * * * *"
	}
	if cfg.ReconcileLimit <= 0 {
		cfg.ReconcileLimit = 25
	}
	return &Module{
		platform: deps.Platform,
		kv:       deps.KV,
		audit:    deps.Audit,
		cfg:      cfg,
		logger:   deps.Logger.Named("starboard"),
		boards:   xsync.NewMapOf[string, Boards](),
		locks:    utils.NewKeyedMutex(),
		now:      time.Now,
	}
}

func (m *Module) Register(bus Subscriber) {
	bus.Subscribe(events.ReactionAdd, "starboard", m.HandleReaction)
	bus.Subscribe(events.ReactionRemove, "starboard", m.HandleReaction)
	bus.Subscribe(events.MessageDelete, "starboard", m.HandleMessageDelete)
	bus.Subscribe(events.MessageEdit, "starboard", m.HandleMessageEdit)
}

// guildBoards returns the guild's boards, loading them on first use. Callers
// hold the guild lock.
func (m *Module) guildBoards(guildID string) (Boards, error) {
	if boards, ok := m.boards.Load(guildID); ok {
		return boards, nil
	}
	boards := Boards{}
	if _, err := m.kv.Get(kv.Guild(guildID), boardsKey, &boards); err != nil {
		return nil, fmt.Errorf("loading starboards: %w", err)
	}
	if boards == nil {
		boards = Boards{}
	}
	for name, board := range boards {
		board.Name = name
		board.normalize()
	}
	m.boards.Store(guildID, boards)
	return boards, nil
}

// save persists the guild's boards. A failed write keeps the in-memory
// state; the next successful save carries it.
func (m *Module) save(guildID string, boards Boards) {
	if err := m.kv.Set(kv.Guild(guildID), boardsKey, boards); err != nil {
		m.logger.Warn("saving starboards", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// pick resolves a board by name, or the only board when name is empty.
func pick(boards Boards, name string) (*Starboard, error) {
	if name != "" {
		board, ok := boards[strings.ToLower(name)]
		if !ok {
			return nil, ErrNotFound
		}
		return board, nil
	}
	switch len(boards) {
	case 0:
		return nil, ErrNotFound
	case 1:
		for _, board := range boards {
			return board, nil
		}
	}
	return nil, ErrAmbiguous
}

// Create adds a board posting to channelID. The bot must be able to send
// embeds there.
func (m *Module) Create(ctx context.Context, guildID, name, channelID string, emoji events.Emoji, actorID string) (*Starboard, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("starboard name is required")
	}
	if emoji.Key() == "" {
		emoji = events.Emoji{Name: defaultEmoji}
	}
	perms, err := m.platform.UserChannelPermissions(m.platform.BotUserID(), channelID)
	if err != nil {
		return nil, err
	}
	if !platform.HasPermission(perms, discordgo.PermissionSendMessages|discordgo.PermissionEmbedLinks) {
		return nil, ErrMissingPerms
	}

	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return nil, err
	}
	if _, ok := boards[name]; ok {
		return nil, ErrExists
	}
	board := &Starboard{
		Name:      name,
		ChannelID: channelID,
		Emoji:     emoji.String(),
		Threshold: defaultThreshold,
		Enabled:   true,
		Colour:    ColourAuthor,
	}
	board.normalize()
	boards[name] = board
	m.save(guildID, boards)
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventStarboardChanged,
		fmt.Sprintf("created starboard %s in %s with %s", name, channelID, board.Emoji))
	return board.snapshot(), nil
}

func (m *Module) Delete(ctx context.Context, guildID, name, actorID string) error {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return err
	}
	board, err := pick(boards, name)
	if err != nil {
		return err
	}
	delete(boards, board.Name)
	m.save(guildID, boards)
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventStarboardChanged, "deleted starboard "+board.Name)
	return nil
}

// Update applies fn to a board's settings, then renormalizes and saves it.
// An empty name selects the guild's only board.
func (m *Module) Update(ctx context.Context, guildID, name, actorID string, fn func(*Starboard) error) (*Starboard, error) {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return nil, err
	}
	board, err := pick(boards, name)
	if err != nil {
		return nil, err
	}
	if err := fn(board); err != nil {
		return nil, err
	}
	board.normalize()
	m.save(guildID, boards)
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventStarboardChanged, "updated starboard "+board.Name)
	return board.snapshot(), nil
}

// Get returns a copy of a board's settings and counters.
func (m *Module) Get(guildID, name string) (*Starboard, error) {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return nil, err
	}
	board, err := pick(boards, name)
	if err != nil {
		return nil, err
	}
	return board.snapshot(), nil
}

// List returns copies of the guild's boards ordered by name.
func (m *Module) List(guildID string) ([]Starboard, error) {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Starboard, 0, len(boards))
	for _, board := range boards.sorted() {
		out = append(out, *board.snapshot())
	}
	return out, nil
}

// Cleanup drops boards whose channel is gone and list entries naming
// neither a channel nor a role. It returns the counts removed.
func (m *Module) Cleanup(ctx context.Context, guildID, actorID string) (int, int, error) {
	unlock := m.locks.Lock(guildID)
	defer unlock()
	boards, err := m.guildBoards(guildID)
	if err != nil {
		return 0, 0, err
	}
	guild, err := m.platform.Guild(guildID)
	if err != nil {
		return 0, 0, err
	}
	exists := func(id string) bool {
		if platform.FindRole(guild, id) != nil {
			return true
		}
		_, err := m.platform.Channel(id)
		return err == nil || !platform.IsNotFound(err)
	}
	removedBoards, removedEntries := 0, 0
	for name, board := range boards {
		if _, err := m.platform.Channel(board.ChannelID); platform.IsNotFound(err) {
			delete(boards, name)
			removedBoards++
			continue
		}
		var n int
		board.Allowlist, n = keepExisting(board.Allowlist, exists)
		removedEntries += n
		board.Blocklist, n = keepExisting(board.Blocklist, exists)
		removedEntries += n
	}
	m.save(guildID, boards)
	m.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventStarboardChanged,
		fmt.Sprintf("cleanup removed %d boards and %d list entries", removedBoards, removedEntries))
	return removedBoards, removedEntries, nil
}

func keepExisting(ids []string, exists func(string) bool) ([]string, int) {
	kept := ids[:0]
	removed := 0
	for _, id := range ids {
		if exists(id) {
			kept = append(kept, id)
		} else {
			removed++
		}
	}
	return kept, removed
}
