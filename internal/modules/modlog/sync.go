package modlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guildkeeper/internal/kv"
	"guildkeeper/internal/utils"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	snapshotKey = "modlog_config"
	syncRun     = "run"
)

// requestSync asks the primary's sync loop to publish a fresh snapshot.
func (m *Module) requestSync() {
	if !m.primary {
		return
	}
	select {
	case m.syncs <- struct{}{}:
	default:
	}
}

// PublishSnapshot writes every guild's settings to the shared cache and
// notifies the other processes.
func (m *Module) PublishSnapshot(ctx context.Context) error {
	snapshot := make(map[string]Settings)
	err := m.kv.Iterate("guild", settingsKey, func(parts []string, raw []byte) error {
		if len(parts) != 1 {
			return nil
		}
		var settings Settings
		if err := json.Unmarshal(raw, &settings); err != nil {
			m.logger.Warn("skipping unreadable modlog settings", zap.String("guild_id", parts[0]), zap.Error(err))
			return nil
		}
		snapshot[parts[0]] = settings
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading modlog settings: %w", err)
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := m.cache.Set(ctx, snapshotKey, payload, 0); err != nil {
		return fmt.Errorf("writing modlog snapshot: %w", err)
	}
	return m.cache.Publish(ctx, m.cfg.SyncChannel, []byte(syncRun))
}

// ApplySnapshot merges the primary's snapshot into local storage and drops
// cached settings.
func (m *Module) ApplySnapshot(ctx context.Context) error {
	payload, err := m.cache.Get(ctx, snapshotKey)
	if err != nil {
		return fmt.Errorf("reading modlog snapshot: %w", err)
	}
	if payload == nil {
		return nil
	}
	var snapshot map[string]Settings
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decoding modlog snapshot: %w", err)
	}
	for guildID, settings := range snapshot {
		if err := m.kv.Set(kv.Guild(guildID), settingsKey, settings); err != nil {
			return err
		}
	}
	m.settings.Clear()
	m.logger.Debug("modlog settings synced", zap.Int("guilds", len(snapshot)))
	return nil
}

// Run drives the background work until ctx ends: settings sync in both
// roles and the archive purge on the primary.
func (m *Module) Run(ctx context.Context) {
	if m.primary {
		go utils.RunCron(ctx, m.cfg.ArchivePurge, m.logger, m.PurgeArchives)
		m.runPrimary(ctx)
		return
	}
	m.runSecondary(ctx)
}

func (m *Module) runPrimary(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()
	m.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.syncs:
		case <-ticker.C:
		}
		m.publish(ctx)
	}
}

func (m *Module) publish(ctx context.Context) {
	if err := m.PublishSnapshot(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("publishing modlog snapshot", zap.Error(err))
	}
}

func (m *Module) runSecondary(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()
	notes, err := m.cache.Subscribe(ctx, m.cfg.SyncChannel)
	if err != nil {
		m.logger.Warn("subscribing to modlog sync, polling only", zap.Error(err))
	}
	m.apply(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			if string(note) != syncRun {
				continue
			}
		case <-ticker.C:
		}
		m.apply(ctx)
	}
}

func (m *Module) apply(ctx context.Context) {
	if err := m.ApplySnapshot(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("applying modlog snapshot", zap.Error(err))
	}
}
