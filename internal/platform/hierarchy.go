package platform

import (
	"github.com/bwmarrin/discordgo"
)

func FindRole(guild *discordgo.Guild, roleID string) *discordgo.Role {
	if guild == nil {
		return nil
	}
	for _, role := range guild.Roles {
		if role.ID == roleID {
			return role
		}
	}
	return nil
}

// TopRole returns the highest positioned role among roleIDs, or nil when the
// member only holds the default role.
func TopRole(guild *discordgo.Guild, roleIDs []string) *discordgo.Role {
	var top *discordgo.Role
	for _, id := range roleIDs {
		role := FindRole(guild, id)
		if role == nil {
			continue
		}
		if top == nil || role.Position > top.Position || (role.Position == top.Position && role.ID < top.ID) {
			top = role
		}
	}
	return top
}

func TopPosition(guild *discordgo.Guild, roleIDs []string) int {
	if top := TopRole(guild, roleIDs); top != nil {
		return top.Position
	}
	return 0
}

// CanManageRole reports whether a member holding roleIDs sits strictly above
// the target role.
func CanManageRole(guild *discordgo.Guild, roleIDs []string, roleID string) bool {
	role := FindRole(guild, roleID)
	if role == nil || role.Managed {
		return false
	}
	return TopPosition(guild, roleIDs) > role.Position
}

// Outranks reports whether actor may act on target by role position. The
// guild owner outranks everyone and is outranked by no one.
func Outranks(guild *discordgo.Guild, actorID string, actorRoles []string, targetID string, targetRoles []string) bool {
	if guild == nil {
		return false
	}
	if targetID == guild.OwnerID {
		return false
	}
	if actorID == guild.OwnerID {
		return true
	}
	return TopPosition(guild, actorRoles) > TopPosition(guild, targetRoles)
}

func HasPermission(perms int64, want int64) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&want == want
}

// RoleColor is the colour of the highest coloured role, zero when none.
func RoleColor(guild *discordgo.Guild, roleIDs []string) int {
	best := -1
	color := 0
	for _, id := range roleIDs {
		role := FindRole(guild, id)
		if role == nil || role.Color == 0 {
			continue
		}
		if role.Position > best {
			best = role.Position
			color = role.Color
		}
	}
	return color
}
