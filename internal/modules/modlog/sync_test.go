package modlog

import (
	"context"
	"testing"
	"time"

	"guildkeeper/internal/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// secondaryOf builds a non-primary module sharing h's cache but with its
// own settings storage.
func secondaryOf(t *testing.T, h *harness) *Module {
	t.Helper()
	db, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := New(Deps{
		Platform: h.fake,
		KV:       db,
		Cache:    h.cache,
		Access:   h.module.access,
		Audit:    h.module.audit,
		Config:   h.module.cfg,
		Logger:   h.module.logger,
	})
	t.Cleanup(m.Close)
	return m
}

func TestSnapshotRoundTripBetweenProcesses(t *testing.T) {
	h := newHarness(t)
	secondary := secondaryOf(t, h)
	assert.Empty(t, secondary.GlobalChannel("g1"))

	require.NoError(t, h.module.PublishSnapshot(context.Background()))
	require.NoError(t, secondary.ApplySnapshot(context.Background()))

	assert.Equal(t, logChannel, secondary.GlobalChannel("g1"))
	assert.True(t, secondary.Settings("g1").Event(KindMessageEdit).Enabled)
}

func TestSecondaryFollowsPublishedChanges(t *testing.T) {
	h := newHarness(t)
	secondary := secondaryOf(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go secondary.Run(ctx)
	go h.module.Run(ctx)

	require.Eventually(t, func() bool {
		return secondary.GlobalChannel("g1") == logChannel
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.module.UpdateSettings("g1", func(s *Settings) error {
		s.GlobalChannel = "elsewhere"
		return nil
	}))
	require.Eventually(t, func() bool {
		return secondary.GlobalChannel("g1") == "elsewhere"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSecondaryDoesNotRequestSync(t *testing.T) {
	h := newHarness(t)
	secondary := secondaryOf(t, h)
	require.NoError(t, secondary.UpdateSettings("g1", func(s *Settings) error {
		s.GlobalChannel = "local"
		return nil
	}))
	assert.Empty(t, secondary.syncs)
	assert.Equal(t, "local", secondary.GlobalChannel("g1"))
}
