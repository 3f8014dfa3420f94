package platform

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func testGuild() *discordgo.Guild {
	return &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Position: 0},
			{ID: "member", Position: 1, Color: 0x111111},
			{ID: "mod", Position: 5, Color: 0x222222},
			{ID: "bot", Position: 8},
			{ID: "integration", Position: 2, Managed: true},
		},
	}
}

func TestTopRoleAndManage(t *testing.T) {
	guild := testGuild()
	assert.Equal(t, "mod", TopRole(guild, []string{"member", "mod"}).ID)
	assert.Nil(t, TopRole(guild, nil))
	assert.True(t, CanManageRole(guild, []string{"bot"}, "mod"))
	assert.False(t, CanManageRole(guild, []string{"member"}, "mod"))
	assert.False(t, CanManageRole(guild, []string{"bot"}, "integration"))
}

func TestOutranks(t *testing.T) {
	guild := testGuild()
	assert.True(t, Outranks(guild, "a", []string{"mod"}, "b", []string{"member"}))
	assert.False(t, Outranks(guild, "a", []string{"mod"}, "owner", nil))
	assert.True(t, Outranks(guild, "owner", nil, "b", []string{"bot"}))
	assert.False(t, Outranks(guild, "a", []string{"member"}, "b", []string{"member"}))
}

func TestRoleColor(t *testing.T) {
	assert.Equal(t, 0x222222, RoleColor(testGuild(), []string{"member", "mod", "bot"}))
	assert.Equal(t, 0, RoleColor(testGuild(), []string{"bot"}))
}

func TestErrorTaxonomy(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	limited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	assert.True(t, IsForbidden(forbidden))
	assert.True(t, IsPermanent(forbidden))
	assert.False(t, IsTransient(forbidden))
	assert.True(t, IsTransient(limited))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, HasPermission(discordgo.PermissionAdministrator, discordgo.PermissionBanMembers))
	assert.False(t, HasPermission(discordgo.PermissionKickMembers, discordgo.PermissionBanMembers))
}
