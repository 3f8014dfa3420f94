package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestToggleID(t *testing.T) {
	list, added := toggleID([]string{"a", "b"}, "c")
	assert.True(t, added)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	list, added = toggleID(list, "b")
	assert.False(t, added)
	assert.Equal(t, []string{"a", "c"}, list)
}

func TestResolveTarget(t *testing.T) {
	guild := &discordgo.Guild{
		ID:       "100000000000000001",
		Roles:    []*discordgo.Role{{ID: "200000000000000002", Name: "Helpers"}},
		Channels: []*discordgo.Channel{{ID: "300000000000000003", Name: "general"}},
	}
	cases := map[string]string{
		"<#300000000000000003>": "300000000000000003",
		"helpers":               "200000000000000002",
		"<@&200000000000000002>": "200000000000000002",
		"300000000000000003":    "300000000000000003",
		"<@400000000000000004>": "400000000000000004",
		"400000000000000004":    "400000000000000004",
	}
	for input, want := range cases {
		got, ok := resolveTarget(guild, input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}
	_, ok := resolveTarget(guild, "nobody")
	assert.False(t, ok)
}

func TestParseHexColour(t *testing.T) {
	n, ok := parseHexColour("#FF8800")
	assert.True(t, ok)
	assert.Equal(t, 0xFF8800, n)

	n, ok = parseHexColour("0x00ff00")
	assert.True(t, ok)
	assert.Equal(t, 0x00FF00, n)

	_, ok = parseHexColour("#1000000")
	assert.False(t, ok)
	_, ok = parseHexColour("blue")
	assert.False(t, ok)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"member_join", "message_edit"})
	assert.NoError(t, err)
	assert.Equal(t, "user_join, message_edit", kindNamesOf(kinds))

	_, err = parseKinds([]string{"nonsense"})
	assert.Error(t, err)
}
