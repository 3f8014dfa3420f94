package modlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"guildkeeper/internal/events"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

var channelTypeNames = map[discordgo.ChannelType]string{
	discordgo.ChannelTypeGuildText:       "Text",
	discordgo.ChannelTypeGuildVoice:      "Voice",
	discordgo.ChannelTypeGuildCategory:   "Category",
	discordgo.ChannelTypeGuildNews:       "News",
	discordgo.ChannelTypeGuildStageVoice: "Stage",
	discordgo.ChannelTypeGuildForum:      "Forum",
}

func channelType(c *discordgo.Channel) string {
	if name, ok := channelTypeNames[c.Type]; ok {
		return name
	}
	return "Unknown"
}

// addActor appends the "by" and "Reason" fields and the matching fallback
// text when the audit log named someone.
func addActor(embed *discordgo.MessageEmbed, text *strings.Builder, label string, perp actor) {
	if perp.known() {
		addField(embed, label, "<@"+perp.UserID+">", true)
		fmt.Fprintf(text, "\n%s <@%s>", label, perp.UserID)
	}
	if perp.Reason != "" {
		addField(embed, "Reason", perp.Reason, false)
		fmt.Fprintf(text, "\nReason %s", perp.Reason)
	}
}

func (m *Module) HandleChannelCreate(ctx context.Context, ev *events.Event) error {
	return m.channelLifecycle(ctx, ev, KindChannelCreate)
}

func (m *Module) HandleChannelDelete(ctx context.Context, ev *events.Event) error {
	return m.channelLifecycle(ctx, ev, KindChannelDelete)
}

func (m *Module) channelLifecycle(ctx context.Context, ev *events.Event, kind Kind) error {
	if ev.Channel == nil {
		return nil
	}
	channel := ev.Channel.After
	action, verb, by := discordgo.AuditLogActionChannelCreate, "Created", "Created by"
	if kind == KindChannelDelete {
		channel = ev.Channel.Before
		action, verb, by = discordgo.AuditLogActionChannelDelete, "Deleted", "Deleted by"
	}
	if channel == nil {
		return nil
	}
	settings, event, destination := m.target(ev.GuildID, kind)
	if destination == "" || settings.IsIgnored(channel.ID, channel.ParentID) {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, action, channel.ID, "")

	embed := newEmbed(settings.Colour(kind), m.now())
	embed.Description = channelMention(channel.ID) + " " + channel.Name
	setAuthor(embed, fmt.Sprintf("%s Channel %s %s (%s)", channelType(channel), verb, channel.Name, channel.ID), "")
	addField(embed, "Type", channelType(channel), true)
	if channel.Topic != "" {
		addField(embed, "Topic", channel.Topic, false)
	}
	var text strings.Builder
	fmt.Fprintf(&text, "%s channel %s #%s (%s)", channelType(channel), strings.ToLower(verb), channel.Name, channel.ID)
	addActor(embed, &text, by, perp)
	m.emit(ctx, ev.GuildID, destination, kind, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleChannelUpdate(ctx context.Context, ev *events.Event) error {
	if ev.Channel == nil || ev.Channel.Before == nil || ev.Channel.After == nil {
		return nil
	}
	before, after := ev.Channel.Before, ev.Channel.After
	settings, event, destination := m.target(ev.GuildID, KindChannelChange)
	if destination == "" || settings.IsIgnored(before.ID, before.ParentID) {
		return nil
	}
	changes := channelChanges(before, after)
	perms := overwriteChanges(before.PermissionOverwrites, after.PermissionOverwrites)
	if len(changes) == 0 && len(perms) == 0 {
		return nil
	}
	action := discordgo.AuditLogActionChannelUpdate
	if len(changes) == 0 {
		action = discordgo.AuditLogActionChannelOverwriteUpdate
	}
	perp := m.actors.lookup(ctx, ev.GuildID, action, after.ID, "")

	embed := newEmbed(settings.Colour(KindChannelChange), m.now())
	embed.Description = channelMention(after.ID)
	setAuthor(embed, fmt.Sprintf("%s Channel Updated %s (%s)", channelType(after), before.Name, before.ID), "")
	addChangeFields(embed, changes)
	if len(perms) > 0 {
		for _, page := range utils.Pagify(strings.Join(perms, "\n"), fieldLimit) {
			addField(embed, "Permissions", page, false)
		}
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Updated channel %s\n%s", before.Name, changesText(changes))
	if len(perms) > 0 {
		text.WriteString("Permissions Changed:\n" + strings.Join(perms, "\n"))
	}
	addActor(embed, &text, "Updated by", perp)
	m.emit(ctx, ev.GuildID, destination, KindChannelChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleRoleCreate(ctx context.Context, ev *events.Event) error {
	return m.roleLifecycle(ctx, ev, KindRoleCreate)
}

func (m *Module) HandleRoleDelete(ctx context.Context, ev *events.Event) error {
	return m.roleLifecycle(ctx, ev, KindRoleDelete)
}

func (m *Module) roleLifecycle(ctx context.Context, ev *events.Event, kind Kind) error {
	if ev.Role == nil {
		return nil
	}
	role := ev.Role.After
	action, verb, by := discordgo.AuditLogActionRoleCreate, "created", "Created by"
	if kind == KindRoleDelete {
		role = ev.Role.Before
		action, verb, by = discordgo.AuditLogActionRoleDelete, "deleted", "Deleted by"
	}
	if role == nil {
		role = &discordgo.Role{ID: ev.Role.RoleID}
	}
	settings, event, destination := m.target(ev.GuildID, kind)
	if destination == "" {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, action, role.ID, "")

	embed := newEmbed(settings.Colour(kind), m.now())
	if kind == KindRoleDelete {
		embed.Description = role.Name
	} else {
		embed.Description = roleMention(role.ID)
	}
	setAuthor(embed, fmt.Sprintf("Role %s %s (%s)", verb, role.Name, role.ID), "")
	var text strings.Builder
	fmt.Fprintf(&text, "Role %s %s", verb, role.Name)
	addActor(embed, &text, by, perp)
	m.emit(ctx, ev.GuildID, destination, kind, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleRoleUpdate(ctx context.Context, ev *events.Event) error {
	if ev.Role == nil || ev.Role.Before == nil || ev.Role.After == nil {
		return nil
	}
	before, after := ev.Role.Before, ev.Role.After
	settings, event, destination := m.target(ev.GuildID, KindRoleChange)
	if destination == "" {
		return nil
	}
	changes := roleChanges(before, after)
	perms := rolePermissionChanges(before.Permissions, after.Permissions)
	if len(changes) == 0 && len(perms) == 0 {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, discordgo.AuditLogActionRoleUpdate, after.ID, "")

	colour := after.Color
	if colour == 0 {
		colour = settings.Colour(KindRoleChange)
	}
	embed := newEmbed(colour, m.now())
	embed.Description = roleMention(after.ID)
	if after.ID == ev.GuildID {
		setAuthor(embed, "Updated @everyone role", "")
	} else {
		setAuthor(embed, fmt.Sprintf("Updated %s (%s) role", before.Name, before.ID), "")
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Updated role **%s**\n%s", before.Name, changesText(changes))
	addActor(embed, &text, "Updated by", perp)
	addChangeFields(embed, changes)
	if len(perms) > 0 {
		joined := strings.Join(perms, "\n")
		addField(embed, "Permissions", joined, false)
		text.WriteString("\nPermissions Changed:\n" + joined)
	}
	m.emit(ctx, ev.GuildID, destination, KindRoleChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleGuildUpdate(ctx context.Context, ev *events.Event) error {
	if ev.Guild == nil || ev.Guild.Before == nil || ev.Guild.After == nil {
		return nil
	}
	before, after := ev.Guild.Before, ev.Guild.After
	settings, event, destination := m.target(ev.GuildID, KindGuildChange)
	if destination == "" {
		return nil
	}
	changes, iconChanged := guildChanges(before, after)
	if len(changes) == 0 && !iconChanged {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, discordgo.AuditLogActionGuildUpdate, ev.GuildID, "")

	embed := newEmbed(settings.Colour(KindGuildChange), m.now())
	icon := after.IconURL("")
	setAuthor(embed, "Updated Guild", icon)
	if icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: icon}
	}
	var text strings.Builder
	text.WriteString("Guild updated\n" + changesText(changes))
	if iconChanged {
		embed.Description = "Server Icon Updated"
		if icon != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: icon}
		}
		text.WriteString("Server icon updated\n")
	}
	addChangeFields(embed, changes)
	addActor(embed, &text, "Updated by", perp)
	m.emit(ctx, ev.GuildID, destination, KindGuildChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleMemberJoin(ctx context.Context, ev *events.Event) error {
	if ev.Member == nil || ev.Member.After == nil || ev.Member.After.User == nil {
		return nil
	}
	member := ev.Member.After
	settings, event, destination := m.target(ev.GuildID, KindUserJoin)
	if destination == "" {
		return nil
	}
	user := memberUser(member)
	total := m.memberCount(ev.GuildID)

	at := m.now()
	if !member.JoinedAt.IsZero() {
		at = member.JoinedAt
	}
	embed := newEmbed(settings.Colour(KindUserJoin), at)
	embed.Description = user.Mention()
	addField(embed, "Total Users:", total, true)
	if created, ok := events.SnowflakeTime(user.ID); ok {
		days := int(m.now().Sub(created).Hours() / 24)
		addField(embed, "Account created on:", fmt.Sprintf("%s\n(%d days ago)", created.UTC().Format("02 Jan 2006 15:04"), days), true)
	}
	setAuthor(embed, userLine(user)+" has joined the guild", user.AvatarURL())
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL()}

	text := fmt.Sprintf("**%s** (`%s`) joined the guild. Total members: %s", user.Tag(), user.ID, total)
	m.emit(ctx, ev.GuildID, destination, KindUserJoin, event, entry{embed: embed, text: text})
	return nil
}

func (m *Module) HandleMemberLeave(ctx context.Context, ev *events.Event) error {
	if ev.Member == nil {
		return nil
	}
	member := ev.Member.Before
	if member == nil {
		member = ev.Member.After
	}
	if member == nil || member.User == nil {
		return nil
	}
	settings, event, destination := m.target(ev.GuildID, KindUserLeft)
	if destination == "" {
		return nil
	}
	user := memberUser(member)
	total := m.memberCount(ev.GuildID)
	perp := m.actors.lookup(ctx, ev.GuildID, discordgo.AuditLogActionMemberKick, user.ID, "")

	embed := newEmbed(settings.Colour(KindUserLeft), m.now())
	embed.Description = user.Mention()
	addField(embed, "Total Users:", total, true)
	setAuthor(embed, userLine(user)+" has left the guild", user.AvatarURL())
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL()}

	var text strings.Builder
	if perp.known() {
		fmt.Fprintf(&text, "**%s** (`%s`) was kicked. Total members: %s", user.Tag(), user.ID, total)
	} else {
		fmt.Fprintf(&text, "**%s** (`%s`) left the guild. Total members: %s", user.Tag(), user.ID, total)
	}
	addActor(embed, &text, "Kicked", perp)
	m.emit(ctx, ev.GuildID, destination, KindUserLeft, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) memberCount(guildID string) string {
	guild, err := m.platform.Guild(guildID)
	if err != nil || guild == nil {
		return "unknown"
	}
	return strconv.Itoa(guild.MemberCount)
}

func (m *Module) HandleMemberUpdate(ctx context.Context, ev *events.Event) error {
	if ev.Member == nil || ev.Member.Before == nil || ev.Member.After == nil || ev.Member.After.User == nil {
		return nil
	}
	before, after := ev.Member.Before, ev.Member.After
	settings, event, destination := m.target(ev.GuildID, KindUserChange)
	if destination == "" {
		return nil
	}
	if after.User.Bot && !event.Bots {
		return nil
	}
	user := memberUser(after)
	added, removed := roleDelta(before.Roles, after.Roles)
	nickChanged := event.Nicknames && before.Nick != after.Nick
	if len(added) == 0 && len(removed) == 0 && !nickChanged {
		return nil
	}
	action := discordgo.AuditLogActionMemberRoleUpdate
	if nickChanged && len(added) == 0 && len(removed) == 0 {
		action = discordgo.AuditLogActionMemberUpdate
	}
	perp := m.actors.lookup(ctx, ev.GuildID, action, user.ID, "")

	embed := newEmbed(settings.Colour(KindUserChange), m.now())
	setAuthor(embed, userLine(user)+" updated", user.AvatarURL())
	var desc, text strings.Builder
	fmt.Fprintf(&text, "Member updated **%s** (`%s`)\n", user.Tag(), user.ID)
	for _, id := range removed {
		fmt.Fprintf(&desc, "%s had the %s role removed.\n", user.Mention(), roleMention(id))
		fmt.Fprintf(&text, "%s had the %s role removed.\n", user.Username, roleMention(id))
	}
	for _, id := range added {
		fmt.Fprintf(&desc, "%s had the %s role applied.\n", user.Mention(), roleMention(id))
		fmt.Fprintf(&text, "%s had the %s role applied.\n", user.Username, roleMention(id))
	}
	if nickChanged {
		fmt.Fprintf(&desc, "%s changed their nickname.\n", user.Mention())
		nick := []change{{Label: "Nickname:", Before: orNone(before.Nick), After: orNone(after.Nick)}}
		addChangeFields(embed, nick)
		text.WriteString(changesText(nick))
	}
	embed.Description = desc.String()
	addActor(embed, &text, "Updated by", perp)
	m.emit(ctx, ev.GuildID, destination, KindUserChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func (m *Module) HandleVoiceState(ctx context.Context, ev *events.Event) error {
	if ev.Voice == nil {
		return nil
	}
	settings, event, destination := m.target(ev.GuildID, KindVoiceChange)
	if destination == "" {
		return nil
	}
	member, err := m.platform.Member(ev.GuildID, ev.Voice.UserID)
	var user events.User
	if err == nil && member != nil {
		user = memberUser(member)
	}
	if user.ID == "" {
		user.ID = ev.Voice.UserID
	}
	if user.Bot && !event.Bots {
		return nil
	}
	for _, state := range []*discordgo.VoiceState{ev.Voice.Before, ev.Voice.After} {
		if state != nil && state.ChannelID != "" && settings.IsIgnored(state.ChannelID, m.parentOf(state.ChannelID)) {
			return nil
		}
	}
	change := describeVoice(user.Mention(), ev.Voice.Before, ev.Voice.After)
	if change.Kind == "" {
		return nil
	}
	var perp actor
	if change.Kind != "channel" {
		perp = m.actors.lookup(ctx, ev.GuildID, discordgo.AuditLogActionMemberUpdate, user.ID, "")
	}

	embed := newEmbed(settings.Colour(KindVoiceChange), m.now())
	embed.Description = change.Description
	setAuthor(embed, userLine(user)+" Voice State Update", user.AvatarURL())
	var text strings.Builder
	fmt.Fprintf(&text, "Updated Voice State for **%s** (`%s`)\n%s", user.Tag(), user.ID, change.Description)
	addActor(embed, &text, "Updated by", perp)
	m.emit(ctx, ev.GuildID, destination, KindVoiceChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleEmojiUpdate(ctx context.Context, ev *events.Event) error {
	if ev.Emoji == nil {
		return nil
	}
	settings, event, destination := m.target(ev.GuildID, KindEmojiChange)
	if destination == "" {
		return nil
	}
	lines, action, targetID := emojiChanges(ev.Emoji.Before, ev.Emoji.After)
	if len(lines) == 0 {
		return nil
	}
	perp := m.actors.lookup(ctx, ev.GuildID, action, targetID, "")

	embed := newEmbed(settings.Colour(KindEmojiChange), m.now())
	setAuthor(embed, "Updated Server Emojis", "")
	body := strings.Join(lines, "\n")
	embed.Description = body
	var text strings.Builder
	text.WriteString("Updated Server Emojis\n" + body)
	addActor(embed, &text, "Updated by", perp)
	m.emit(ctx, ev.GuildID, destination, KindEmojiChange, event, entry{embed: embed, text: text.String()})
	return nil
}

func (m *Module) HandleInviteCreate(ctx context.Context, ev *events.Event) error {
	return m.invite(ctx, ev, KindInviteCreated)
}

func (m *Module) HandleInviteDelete(ctx context.Context, ev *events.Event) error {
	return m.invite(ctx, ev, KindInviteDeleted)
}

func (m *Module) invite(ctx context.Context, ev *events.Event, kind Kind) error {
	if ev.Invite == nil {
		return nil
	}
	inv := ev.Invite
	settings, event, destination := m.target(ev.GuildID, kind)
	if destination == "" {
		return nil
	}
	verb := "Created"
	if kind == KindInviteDeleted {
		verb = "Deleted"
	}
	link := "https://discord.gg/" + inv.Code

	embed := newEmbed(settings.Colour(kind), m.now())
	setAuthor(embed, fmt.Sprintf("Invite %s %s", verb, inv.Code), "")
	embed.Description = link
	addField(embed, "Code", inv.Code, true)
	addField(embed, "Channel", channelMention(inv.ChannelID), true)
	if kind == KindInviteCreated {
		if inv.Inviter != nil {
			addField(embed, "Created by", "<@"+inv.Inviter.ID+">", true)
		}
		uses := "Unlimited"
		if inv.MaxUses > 0 {
			uses = strconv.Itoa(inv.MaxUses)
		}
		age := "Never"
		if inv.MaxAge > 0 {
			age = fmt.Sprintf("%d seconds", inv.MaxAge)
		}
		addField(embed, "Max Uses", uses, true)
		addField(embed, "Expires", age, true)
		addField(embed, "Temporary", yesNo(inv.Temporary), true)
	}
	text := fmt.Sprintf("Invite %s %s in %s", strings.ToLower(verb), link, channelMention(inv.ChannelID))
	m.emit(ctx, ev.GuildID, destination, kind, event, entry{embed: embed, text: text})
	return nil
}
