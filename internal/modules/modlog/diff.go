package modlog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"guildkeeper/internal/access"
	"guildkeeper/internal/events"

	"github.com/bwmarrin/discordgo"
)

// change is one attribute that differs between two snapshots.
type change struct {
	Label  string
	Before string
	After  string
}

func appendChange(changes []change, label, before, after string) []change {
	if before == after {
		return changes
	}
	if before == "" {
		before = "None"
	}
	if after == "" {
		after = "None"
	}
	return append(changes, change{Label: label, Before: before, After: after})
}

func isVoice(channel *discordgo.Channel) bool {
	return channel.Type == discordgo.ChannelTypeGuildVoice || channel.Type == discordgo.ChannelTypeGuildStageVoice
}

func categoryName(id string) string {
	if id == "" {
		return ""
	}
	return channelMention(id)
}

// channelChanges lists the attribute changes worth logging. Voice channels
// track a different attribute set than text channels.
func channelChanges(before, after *discordgo.Channel) []change {
	var changes []change
	changes = appendChange(changes, "Name:", before.Name, after.Name)
	if isVoice(after) {
		changes = appendChange(changes, "Position:", strconv.Itoa(before.Position), strconv.Itoa(after.Position))
		changes = appendChange(changes, "Category:", categoryName(before.ParentID), categoryName(after.ParentID))
		changes = appendChange(changes, "Bitrate:", strconv.Itoa(before.Bitrate), strconv.Itoa(after.Bitrate))
		changes = appendChange(changes, "User limit:", strconv.Itoa(before.UserLimit), strconv.Itoa(after.UserLimit))
		return changes
	}
	changes = appendChange(changes, "Topic:", before.Topic, after.Topic)
	changes = appendChange(changes, "Category:", categoryName(before.ParentID), categoryName(after.ParentID))
	changes = appendChange(changes, "Slowmode delay:", strconv.Itoa(before.RateLimitPerUser), strconv.Itoa(after.RateLimitPerUser))
	changes = appendChange(changes, "NSFW", strconv.FormatBool(before.NSFW), strconv.FormatBool(after.NSFW))
	return changes
}

func overwriteTarget(o *discordgo.PermissionOverwrite) string {
	if o.Type == discordgo.PermissionOverwriteTypeMember {
		return "<@" + o.ID + ">"
	}
	return roleMention(o.ID)
}

func overwriteState(o *discordgo.PermissionOverwrite, bit int64) string {
	switch {
	case o == nil:
		return "neutral"
	case o.Allow&bit != 0:
		return "allow"
	case o.Deny&bit != 0:
		return "deny"
	default:
		return "neutral"
	}
}

// overwriteChanges describes permission overwrite deltas as
// "target permission before→after" lines, ordered by target id and then by
// permission bit.
func overwriteChanges(before, after []*discordgo.PermissionOverwrite) []string {
	index := func(list []*discordgo.PermissionOverwrite) map[string]*discordgo.PermissionOverwrite {
		out := make(map[string]*discordgo.PermissionOverwrite, len(list))
		for _, o := range list {
			if o != nil {
				out[o.ID] = o
			}
		}
		return out
	}
	b, a := index(before), index(after)
	ids := make([]string, 0, len(a)+len(b))
	for id := range b {
		ids = append(ids, id)
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return events.SnowflakeLess(ids[i], ids[j]) })

	var lines []string
	for _, id := range ids {
		old, hadOld := b[id]
		cur, hasNew := a[id]
		ref := cur
		if ref == nil {
			ref = old
		}
		target := overwriteTarget(ref)
		switch {
		case hadOld && !hasNew:
			lines = append(lines, target+" Overwrites removed.")
		case !hadOld && hasNew:
			lines = append(lines, target+" Overwrites added.")
		}
		for _, perm := range access.PermissionBits {
			from, to := overwriteState(old, perm.Bit), overwriteState(cur, perm.Bit)
			if from == to {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s · %s · %s→%s", target, perm.Name, from, to))
		}
	}
	return lines
}

func colourHex(c int) string {
	return fmt.Sprintf("#%06x", c)
}

func roleChanges(before, after *discordgo.Role) []change {
	var changes []change
	changes = appendChange(changes, "Name:", before.Name, after.Name)
	changes = appendChange(changes, "Colour:", colourHex(before.Color), colourHex(after.Color))
	changes = appendChange(changes, "Mentionable:", strconv.FormatBool(before.Mentionable), strconv.FormatBool(after.Mentionable))
	changes = appendChange(changes, "Is Hoisted:", strconv.FormatBool(before.Hoist), strconv.FormatBool(after.Hoist))
	return changes
}

// rolePermissionChanges lists "perm Set to **value**" for every flipped bit.
func rolePermissionChanges(before, after int64) []string {
	var lines []string
	for _, perm := range access.PermissionBits {
		was, is := before&perm.Bit != 0, after&perm.Bit != 0
		if was == is {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s Set to **%t**", perm.Name, is))
	}
	return lines
}

func mentionOrEmpty(id, prefix string) string {
	if id == "" {
		return ""
	}
	return prefix + id + ">"
}

// guildChanges reports attribute changes; iconChanged is reported
// separately because it renders as an image rather than a field pair.
func guildChanges(before, after *discordgo.Guild) (changes []change, iconChanged bool) {
	changes = appendChange(changes, "Name:", before.Name, after.Name)
	changes = appendChange(changes, "Region:", before.Region, after.Region)
	changes = appendChange(changes, "AFK Timeout:", strconv.Itoa(before.AfkTimeout), strconv.Itoa(after.AfkTimeout))
	changes = appendChange(changes, "AFK Channel:", mentionOrEmpty(before.AfkChannelID, "<#"), mentionOrEmpty(after.AfkChannelID, "<#"))
	changes = appendChange(changes, "Server Owner:", mentionOrEmpty(before.OwnerID, "<@"), mentionOrEmpty(after.OwnerID, "<@"))
	changes = appendChange(changes, "Splash Image:", before.Splash, after.Splash)
	changes = appendChange(changes, "Welcome message channel:", mentionOrEmpty(before.SystemChannelID, "<#"), mentionOrEmpty(after.SystemChannelID, "<#"))
	changes = appendChange(changes, "Verification Level:", verificationLevel(before.VerificationLevel), verificationLevel(after.VerificationLevel))
	changes = appendChange(changes, "Description:", before.Description, after.Description)
	changes = appendChange(changes, "Vanity URL:", before.VanityURLCode, after.VanityURLCode)
	return changes, before.Icon != after.Icon
}

func verificationLevel(level discordgo.VerificationLevel) string {
	switch level {
	case discordgo.VerificationLevelNone:
		return "none"
	case discordgo.VerificationLevelLow:
		return "low"
	case discordgo.VerificationLevelMedium:
		return "medium"
	case discordgo.VerificationLevelHigh:
		return "high"
	case discordgo.VerificationLevelVeryHigh:
		return "very high"
	}
	return strconv.Itoa(int(level))
}

// roleDelta returns roles present only in after (added) and only in before
// (removed), each in the order they appear.
func roleDelta(before, after []string) (added, removed []string) {
	had := make(map[string]struct{}, len(before))
	for _, id := range before {
		had[id] = struct{}{}
	}
	has := make(map[string]struct{}, len(after))
	for _, id := range after {
		has[id] = struct{}{}
		if _, ok := had[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := has[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// voiceChange describes a voice state transition. Kind is "deaf", "mute"
// or "channel" for the audit lookup, and "" when nothing loggable changed.
type voiceChange struct {
	Kind        string
	Description string
}

func describeVoice(mention string, before, after *discordgo.VoiceState) voiceChange {
	var prev, next discordgo.VoiceState
	if before != nil {
		prev = *before
	}
	if after != nil {
		next = *after
	}
	var out voiceChange
	if prev.Deaf != next.Deaf {
		out.Kind = "deaf"
		if next.Deaf {
			out.Description = mention + " was deafened."
		} else {
			out.Description = mention + " was undeafened."
		}
	}
	if prev.Mute != next.Mute {
		out.Kind = "mute"
		if next.Mute {
			out.Description = mention + " was muted."
		} else {
			out.Description = mention + " was unmuted."
		}
	}
	if prev.ChannelID != next.ChannelID {
		out.Kind = "channel"
		switch {
		case prev.ChannelID == "":
			out.Description = mention + " has joined " + channelMention(next.ChannelID)
		case next.ChannelID == "":
			out.Description = mention + " has left " + channelMention(prev.ChannelID)
		default:
			out.Description = mention + " has moved from " + channelMention(prev.ChannelID) + " to " + channelMention(next.ChannelID)
		}
	}
	return out
}

func emojiLabel(e *discordgo.Emoji) string {
	return e.MessageFormat() + " `" + e.Name + "`"
}

// emojiChanges lists every added, removed, renamed or re-restricted emoji,
// plus the audit action and emoji id of the last change found.
func emojiChanges(before, after []*discordgo.Emoji) ([]string, discordgo.AuditLogAction, string) {
	prev := make(map[string]*discordgo.Emoji, len(before))
	for _, e := range before {
		if e != nil {
			prev[e.ID] = e
		}
	}
	var (
		lines  []string
		action discordgo.AuditLogAction
		target string
	)
	seen := make(map[string]struct{}, len(after))
	for _, e := range after {
		if e == nil {
			continue
		}
		seen[e.ID] = struct{}{}
		old, ok := prev[e.ID]
		if !ok {
			lines = append(lines, emojiLabel(e)+" Added to the guild")
			action, target = discordgo.AuditLogActionEmojiCreate, e.ID
			continue
		}
		if old.Name != e.Name {
			lines = append(lines, fmt.Sprintf("%s Renamed from %s to %s", emojiLabel(e), old.Name, e.Name))
			action, target = discordgo.AuditLogActionEmojiUpdate, e.ID
		}
		if !sameSet(old.Roles, e.Roles) {
			switch {
			case len(e.Roles) == 0:
				lines = append(lines, emojiLabel(e)+" Changed to unrestricted.")
			case len(old.Roles) == 0:
				lines = append(lines, emojiLabel(e)+" Restricted to roles: "+mentionRoles(e.Roles))
			default:
				lines = append(lines, fmt.Sprintf("%s Role restriction changed from %s to %s",
					emojiLabel(e), mentionRoles(old.Roles), mentionRoles(e.Roles)))
			}
			if action == 0 {
				action, target = discordgo.AuditLogActionEmojiUpdate, e.ID
			}
		}
	}
	for _, e := range before {
		if e == nil {
			continue
		}
		if _, ok := seen[e.ID]; !ok {
			lines = append(lines, fmt.Sprintf("`%s` (ID: %s) Removed from the guild", e.Name, e.ID))
			action, target = discordgo.AuditLogActionEmojiDelete, e.ID
		}
	}
	return lines, action, target
}

func mentionRoles(ids []string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, roleMention(id))
	}
	return strings.Join(mentions, ", ")
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func changesText(changes []change) string {
	var b strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&b, "Before %s %s\nAfter %s %s\n", c.Label, c.Before, c.Label, c.After)
	}
	return b.String()
}

func addChangeFields(embed *discordgo.MessageEmbed, changes []change) {
	for _, c := range changes {
		addField(embed, "Before "+c.Label, c.Before, true)
		addField(embed, "After "+c.Label, c.After, true)
	}
}
