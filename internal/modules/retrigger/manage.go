package retrigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guildkeeper/internal/access"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/triggers"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrMissingPermission = errors.New("you need more permissions for that response")
	ErrRoleNotAssignable = errors.New("I cannot assign that role")
)

// requiredPermission is what a creator must hold to attach kind to a
// trigger.
func requiredPermission(kind triggers.ResponseKind) int64 {
	switch kind {
	case triggers.ResponseDelete, triggers.ResponsePublish:
		return discordgo.PermissionManageMessages
	case triggers.ResponseKick:
		return discordgo.PermissionKickMembers
	case triggers.ResponseBan:
		return discordgo.PermissionBanMembers
	case triggers.ResponseAddRole, triggers.ResponseRemoveRole:
		return discordgo.PermissionManageRoles
	case triggers.ResponseRename:
		return discordgo.PermissionManageNicknames
	}
	return 0
}

// authorize checks that actorID may attach every response of t and that
// role responses name roles the bot can assign.
func (e *Engine) authorize(guildID, channelID, actorID string, t *triggers.Trigger) error {
	var missing int64
	perms := e.access.Permissions(actorID, channelID)
	for _, kind := range t.Kinds() {
		if need := requiredPermission(kind); need != 0 && !platform.HasPermission(perms, need) {
			missing |= need
		}
	}
	if missing != 0 && !e.access.IsBotOwner(actorID) {
		return fmt.Errorf("%w: %s", ErrMissingPermission, strings.Join(access.PermissionNames(missing), ", "))
	}
	if !t.Has(triggers.ResponseAddRole) && !t.Has(triggers.ResponseRemoveRole) {
		return nil
	}
	guild, err := e.platform.Guild(guildID)
	if err != nil {
		return err
	}
	bot, err := e.platform.Member(guildID, e.platform.BotUserID())
	if err != nil {
		return err
	}
	for _, action := range t.Actions() {
		if action.Kind != triggers.ResponseAddRole && action.Kind != triggers.ResponseRemoveRole {
			continue
		}
		for _, roleID := range action.Args {
			if !platform.CanManageRole(guild, bot.Roles, roleID) {
				return fmt.Errorf("%w: <@&%s>", ErrRoleNotAssignable, roleID)
			}
		}
	}
	return nil
}

// CreateTrigger stores a new trigger made by t.Author in channelID.
func (e *Engine) CreateTrigger(ctx context.Context, guildID, channelID string, t triggers.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := e.authorize(guildID, channelID, t.Author, &t); err != nil {
		return err
	}
	if err := e.store.Create(guildID, t); err != nil {
		return err
	}
	e.audit.Log(ctx, audit.LevelInfo, guildID, t.Author, audit.EventTriggerCreated,
		fmt.Sprintf("%s /%s/ %s", t.Name, t.Pattern, kindList(&t)))
	return nil
}

// EditTrigger applies fn and re-checks the result against the editor's
// permissions.
func (e *Engine) EditTrigger(ctx context.Context, guildID, channelID, name, actorID string, fn func(*triggers.Trigger) error) (triggers.Trigger, error) {
	out, err := e.store.Mutate(guildID, name, true, func(t *triggers.Trigger) error {
		if err := fn(t); err != nil {
			return err
		}
		if err := t.Validate(); err != nil {
			return err
		}
		return e.authorize(guildID, channelID, actorID, t)
	})
	if err != nil {
		return out, err
	}
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventSettingsChanged, "edited trigger "+name)
	return out, nil
}

func (e *Engine) RemoveTrigger(ctx context.Context, guildID, name, actorID string) (triggers.Trigger, error) {
	removed, err := e.store.Delete(guildID, name)
	if err != nil {
		return removed, err
	}
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventTriggerRemoved,
		fmt.Sprintf("%s /%s/ fired %d times", removed.Name, removed.Pattern, removed.Count))
	return removed, nil
}

// SetTriggerEnabled toggles a trigger by hand. Enabling clears any automatic
// disable reason.
func (e *Engine) SetTriggerEnabled(ctx context.Context, guildID, name, actorID string, enabled bool) (triggers.Trigger, error) {
	out, err := e.store.SetEnabled(guildID, name, enabled, triggers.DisabledManual)
	if err != nil {
		return out, err
	}
	event := audit.EventTriggerDisabled
	if enabled {
		event = audit.EventTriggerReenabled
	}
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, event, name)
	return out, nil
}

func kindList(t *triggers.Trigger) string {
	kinds := t.Kinds()
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return strings.Join(names, ",")
}
