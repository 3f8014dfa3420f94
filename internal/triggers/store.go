// Package triggers holds the per-guild trigger model and its durable store.
package triggers

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"guildkeeper/internal/kv"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const blobName = "triggers"

type guildSet struct {
	mu       sync.Mutex
	triggers map[string]*Trigger
	dirty    bool
}

// Store caches every guild's triggers in memory. Readers receive copies;
// writers hold the guild lock. Counter and cooldown updates are flushed
// periodically while structural changes are written immediately.
type Store struct {
	kv         *kv.Store
	images     *Images
	logger     *zap.Logger
	guilds     *xsync.MapOf[string, *guildSet]
	flushEvery time.Duration
}

func NewStore(store *kv.Store, images *Images, logger *zap.Logger, flushEvery time.Duration) *Store {
	if flushEvery <= 0 {
		flushEvery = 45 * time.Second
	}
	return &Store{
		kv:         store,
		images:     images,
		logger:     logger.Named("triggers"),
		guilds:     xsync.NewMapOf[string, *guildSet](),
		flushEvery: flushEvery,
	}
}

func (s *Store) Images() *Images { return s.images }

func (s *Store) set(guildID string) *guildSet {
	set, _ := s.guilds.LoadOrCompute(guildID, func() *guildSet {
		return &guildSet{triggers: make(map[string]*Trigger)}
	})
	return set
}

// LoadAll reads every guild blob into memory.
func (s *Store) LoadAll(ctx context.Context) error {
	loaded := 0
	err := s.kv.Iterate("guild", blobName, func(parts []string, raw []byte) error {
		if len(parts) != 1 {
			return nil
		}
		guildID := parts[0]
		var stored map[string]*Trigger
		if err := json.Unmarshal(raw, &stored); err != nil {
			s.logger.Warn("skipping unreadable trigger blob", zap.String("guild_id", guildID), zap.Error(err))
			return nil
		}
		set := s.set(guildID)
		set.mu.Lock()
		for name, trigger := range stored {
			if trigger == nil {
				continue
			}
			if trigger.Name == "" {
				trigger.Name = name
			}
			trigger.GuildID = guildID
			set.triggers[trigger.Name] = trigger
			loaded++
		}
		set.mu.Unlock()
		return ctx.Err()
	})
	if err != nil {
		return err
	}
	s.logger.Info("triggers loaded", zap.Int("count", loaded))
	return s.RestoreImages()
}

// RestoreImages re-enables triggers disabled for a missing file once every
// referenced file is present again.
func (s *Store) RestoreImages() error {
	if s.images == nil {
		return nil
	}
	var guilds []string
	s.guilds.Range(func(guildID string, set *guildSet) bool {
		set.mu.Lock()
		for _, trigger := range set.triggers {
			if trigger.Enabled || trigger.DisabledReason != DisabledMissingFile {
				continue
			}
			restored := true
			for _, file := range trigger.ImageFiles() {
				if !s.images.Exists(guildID, file) {
					restored = false
					break
				}
			}
			if restored {
				trigger.Enabled = true
				trigger.DisabledReason = DisabledManual
				set.dirty = true
				s.logger.Info("trigger re-enabled after image restore",
					zap.String("guild_id", guildID), zap.String("trigger", trigger.Name))
			}
		}
		if set.dirty {
			guilds = append(guilds, guildID)
		}
		set.mu.Unlock()
		return true
	})
	for _, guildID := range guilds {
		if err := s.flushGuild(guildID); err != nil {
			return err
		}
	}
	return nil
}

// List returns a stable snapshot ordered by creation time.
func (s *Store) List(guildID string) []Trigger {
	set, ok := s.guilds.Load(guildID)
	if !ok {
		return nil
	}
	set.mu.Lock()
	out := make([]Trigger, 0, len(set.triggers))
	for _, trigger := range set.triggers {
		out = append(out, trigger.Clone())
	}
	set.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) Get(guildID, name string) (Trigger, error) {
	set, ok := s.guilds.Load(guildID)
	if !ok {
		return Trigger{}, ErrNotFound
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	trigger, ok := set.triggers[name]
	if !ok {
		return Trigger{}, ErrNotFound
	}
	return trigger.Clone(), nil
}

func (s *Store) Create(guildID string, trigger Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	set := s.set(guildID)
	set.mu.Lock()
	if _, ok := set.triggers[trigger.Name]; ok {
		set.mu.Unlock()
		return ErrExists
	}
	trigger.GuildID = guildID
	if trigger.CreatedAt == 0 {
		trigger.CreatedAt = time.Now().Unix()
	}
	stored := trigger.Clone()
	set.triggers[trigger.Name] = &stored
	set.dirty = true
	set.mu.Unlock()
	return s.flushGuild(guildID)
}

// Put replaces an existing trigger after validating it.
func (s *Store) Put(guildID string, trigger Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	_, err := s.Mutate(guildID, trigger.Name, true, func(current *Trigger) error {
		*current = trigger.Clone()
		current.GuildID = guildID
		return nil
	})
	return err
}

// Delete removes the trigger and any image files no other trigger uses.
func (s *Store) Delete(guildID, name string) (Trigger, error) {
	set, ok := s.guilds.Load(guildID)
	if !ok {
		return Trigger{}, ErrNotFound
	}
	set.mu.Lock()
	trigger, ok := set.triggers[name]
	if !ok {
		set.mu.Unlock()
		return Trigger{}, ErrNotFound
	}
	delete(set.triggers, name)
	set.dirty = true
	used := make(map[string]struct{})
	for _, other := range set.triggers {
		for _, file := range other.ImageFiles() {
			used[file] = struct{}{}
		}
	}
	removed := trigger.Clone()
	set.mu.Unlock()

	if s.images != nil {
		s.images.Remove(guildID, removed.ImageFiles(), used)
	}
	return removed, s.flushGuild(guildID)
}

// Mutate applies fn to the stored trigger under the guild lock. When
// immediate is false the change is persisted by the next periodic flush.
func (s *Store) Mutate(guildID, name string, immediate bool, fn func(*Trigger) error) (Trigger, error) {
	set, ok := s.guilds.Load(guildID)
	if !ok {
		return Trigger{}, ErrNotFound
	}
	set.mu.Lock()
	trigger, ok := set.triggers[name]
	if !ok {
		set.mu.Unlock()
		return Trigger{}, ErrNotFound
	}
	working := trigger.Clone()
	if err := fn(&working); err != nil {
		set.mu.Unlock()
		return Trigger{}, err
	}
	*trigger = working
	set.dirty = true
	out := trigger.Clone()
	set.mu.Unlock()

	if immediate {
		return out, s.flushGuild(guildID)
	}
	return out, nil
}

func (s *Store) SetEnabled(guildID, name string, enabled bool, reason DisabledReason) (Trigger, error) {
	return s.Mutate(guildID, name, true, func(t *Trigger) error {
		t.Enabled = enabled
		if enabled {
			t.DisabledReason = DisabledManual
		} else {
			t.DisabledReason = reason
		}
		return nil
	})
}

// Fire applies the cooldown and, when allowed, increments the execution
// count. It reports false when the trigger is cooling down.
func (s *Store) Fire(guildID, name, channelID, authorID string, now time.Time) (Trigger, bool, error) {
	fired := false
	out, err := s.Mutate(guildID, name, false, func(t *Trigger) error {
		if t.Cooldown != nil && !t.Cooldown.Allow(channelID, authorID, now) {
			return nil
		}
		t.Count++
		fired = true
		return nil
	})
	return out, fired, err
}

func (s *Store) Guilds() []string {
	var ids []string
	s.guilds.Range(func(guildID string, _ *guildSet) bool {
		ids = append(ids, guildID)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Run flushes dirty guilds until ctx is cancelled, then flushes once more.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.logger.Error("final trigger flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Warn("trigger flush failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) Flush() error {
	var firstErr error
	for _, guildID := range s.Guilds() {
		if err := s.flushGuild(guildID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) flushGuild(guildID string) error {
	set, ok := s.guilds.Load(guildID)
	if !ok {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	if !set.dirty {
		return nil
	}
	if err := s.kv.Set(kv.Guild(guildID), blobName, set.triggers); err != nil {
		// memory stays authoritative; the next flush retries
		return err
	}
	set.dirty = false
	return nil
}
