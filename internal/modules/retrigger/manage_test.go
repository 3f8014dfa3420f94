package retrigger

import (
	"context"
	"testing"

	"guildkeeper/internal/triggers"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequiresResponsePermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ban := triggers.Trigger{Name: "nope", Pattern: "bad", Responses: []triggers.ResponseKind{triggers.ResponseBan}, Enabled: true, Author: "creator"}

	err := h.engine.CreateTrigger(ctx, "g1", "c1", ban)
	require.ErrorIs(t, err, ErrMissingPermission)
	assert.Contains(t, err.Error(), "ban_members")
	_, err = h.store.Get("g1", "nope")
	assert.ErrorIs(t, err, triggers.ErrNotFound)

	h.fake.SetPerms("creator", "c1", discordgo.PermissionBanMembers)
	require.NoError(t, h.engine.CreateTrigger(ctx, "g1", "c1", ban))

	owned := ban
	owned.Name = "owned"
	owned.Author = "botowner"
	require.NoError(t, h.engine.CreateTrigger(ctx, "g1", "c1", owned))
}

func TestCreateChecksRoleHierarchy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.SetPerms("creator", "c1", discordgo.PermissionManageRoles)
	role := func(name, roleID string) triggers.Trigger {
		return triggers.Trigger{Name: name, Pattern: "join", Responses: []triggers.ResponseKind{triggers.ResponseAddRole}, Text: triggers.StringList{roleID}, Enabled: true, Author: "creator"}
	}

	require.ErrorIs(t, h.engine.CreateTrigger(ctx, "g1", "c1", role("high", "high")), ErrRoleNotAssignable)
	require.NoError(t, h.engine.CreateTrigger(ctx, "g1", "c1", role("vip", "vip")))
}

func TestEditToggleAndRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.CreateTrigger(ctx, "g1", "c1", textTrigger("hi", "hello", "hey")))

	_, err := h.engine.EditTrigger(ctx, "g1", "c1", "hi", "creator", func(t *triggers.Trigger) error {
		t.Pattern = "("
		return nil
	})
	require.Error(t, err)
	got, err := h.store.Get("g1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Pattern)

	edited, err := h.engine.EditTrigger(ctx, "g1", "c1", "hi", "creator", func(t *triggers.Trigger) error {
		t.Pattern = "howdy"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "howdy", edited.Pattern)

	off, err := h.engine.SetTriggerEnabled(ctx, "g1", "hi", "creator", false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)
	h.post(t, "howdy")
	assert.Empty(t, h.fake.SentTo("c1"))

	removed, err := h.engine.RemoveTrigger(ctx, "g1", "hi", "creator")
	require.NoError(t, err)
	assert.Equal(t, "hi", removed.Name)
	_, err = h.engine.RemoveTrigger(ctx, "g1", "hi", "creator")
	assert.ErrorIs(t, err, triggers.ErrNotFound)
}
