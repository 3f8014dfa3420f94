package access

import (
	"context"
	"testing"

	"guildkeeper/internal/kv"
	"guildkeeper/internal/platform/platformtest"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(t *testing.T) (*Checker, *platformtest.Fake) {
	t.Helper()
	store, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	fake := platformtest.New("bot")
	fake.AddGuild(&discordgo.Guild{ID: "g1", OwnerID: "owner"})
	return New(fake, store, []string{"root"}, []string{"!"}), fake
}

func TestLevels(t *testing.T) {
	checker, fake := newChecker(t)
	ctx := context.Background()
	require.NoError(t, checker.UpdateSettings("g1", func(s *GuildSettings) error {
		s.ModRoles = []string{"modrole"}
		s.AdminRoles = []string{"adminrole"}
		return nil
	}))
	fake.SetPerms("perm-admin", "c1", discordgo.PermissionAdministrator)

	assert.Equal(t, LevelBotOwner, checker.Level(ctx, "g1", "c1", "root", nil))
	assert.Equal(t, LevelGuildOwner, checker.Level(ctx, "g1", "c1", "owner", nil))
	assert.Equal(t, LevelAdmin, checker.Level(ctx, "g1", "c1", "u1", []string{"adminrole"}))
	assert.Equal(t, LevelAdmin, checker.Level(ctx, "g1", "c1", "perm-admin", nil))
	assert.Equal(t, LevelMod, checker.Level(ctx, "g1", "c1", "u2", []string{"modrole"}))
	assert.Equal(t, LevelNone, checker.Level(ctx, "g1", "c1", "u3", nil))
	assert.True(t, checker.IsMod(ctx, "g1", "c1", "u2", []string{"modrole"}))
}

func TestImmunityAndPrefixes(t *testing.T) {
	checker, _ := newChecker(t)
	ctx := context.Background()
	assert.Equal(t, []string{"!"}, checker.Prefixes("g1"))
	require.NoError(t, checker.UpdateSettings("g1", func(s *GuildSettings) error {
		s.Immune = []string{"trusted", "u9"}
		s.Prefixes = []string{"?"}
		return nil
	}))
	assert.True(t, checker.IsImmune(ctx, "g1", "c1", "u1", []string{"trusted"}))
	assert.True(t, checker.IsImmune(ctx, "g1", "c1", "u9", nil))
	assert.False(t, checker.IsImmune(ctx, "g1", "c1", "u2", nil))
	assert.Equal(t, []string{"?"}, checker.Prefixes("g1"))
}

func TestPermissionNamesAndLevels(t *testing.T) {
	names := PermissionNames(discordgo.PermissionKickMembers | discordgo.PermissionBanMembers)
	assert.Equal(t, []string{"kick_members", "ban_members"}, names)
	level, ok := ParseLevel("ADMIN")
	assert.True(t, ok)
	assert.Equal(t, LevelAdmin, level)
}

func TestListAllows(t *testing.T) {
	assert.True(t, ListAllows(nil, nil, "c1", "", "u1"))
	assert.True(t, ListAllows([]string{"cat"}, nil, "c1", "cat", "u1"))
	assert.False(t, ListAllows([]string{"cat"}, nil, "c1", "", "u1"))
	assert.False(t, ListAllows(nil, []string{"r2"}, "c1", "", "u1", "r1", "r2"))
	assert.True(t, ListAllows([]string{"u1"}, []string{"u1"}, "c1", "u1"))
}
