package retrigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"guildkeeper/internal/events"
	"guildkeeper/internal/metrics"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/regexexec"
	"guildkeeper/internal/triggers"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var (
	errMissingFile = errors.New("trigger image missing")
	errRefused     = errors.New("refused by role hierarchy")
	errGuildGone   = errors.New("guild no longer reachable")
)

const (
	noticeTTL    = 24 * time.Hour
	nicknameSize = 32
)

// orderActions moves deletions to the end so earlier responses still see
// the source message.
func orderActions(actions []triggers.Action) []triggers.Action {
	ordered := make([]triggers.Action, 0, len(actions))
	var deletes []triggers.Action
	for _, action := range actions {
		if action.Kind == triggers.ResponseDelete {
			deletes = append(deletes, action)
			continue
		}
		ordered = append(ordered, action)
	}
	return append(ordered, deletes...)
}

// execute runs the responses of a fired trigger under the guild lock. It
// reports whether evaluation of further triggers should stop.
func (e *Engine) execute(ctx context.Context, t triggers.Trigger, env *messageEnv, res regexexec.Result) bool {
	unlock := e.locks.Lock(env.msg.GuildID)
	defer unlock()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	rc := &renderContext{
		msg:      env.msg,
		guild:    env.guild,
		channel:  env.channel,
		trigger:  &t,
		result:   res,
		prefixes: env.prefixes,
	}
	metrics.TriggerFires.Inc()

	var (
		failure  error
		reason   = triggers.DisabledError
		terminal bool
	)
actions:
	for _, action := range orderActions(t.Actions()) {
		err := e.perform(ctx, &t, action, env, rc)
		if err == nil {
			terminal = terminal || action.Kind.Terminal()
			continue
		}
		fields := []zap.Field{
			zap.String("guild_id", env.msg.GuildID),
			zap.String("trigger", t.Name),
			zap.String("kind", string(action.Kind)),
			zap.Error(err),
		}
		switch {
		case errors.Is(err, errMissingFile):
			failure, reason = err, triggers.DisabledMissingFile
			break actions
		case errors.Is(err, errGuildGone):
			e.logger.Debug("guild lost during trigger response", fields...)
			break actions
		case errors.Is(err, errRefused), platform.IsPermanent(err), platform.IsTransient(err):
			e.logger.Debug("trigger response skipped", fields...)
			if platform.IsPermanent(err) && e.guildGone(env.msg.GuildID) {
				break actions
			}
		default:
			e.logger.Warn("trigger response failed", fields...)
			if failure == nil {
				failure = err
			}
		}
	}

	run := Run{
		Name:      t.Name,
		Regex:     t.Pattern,
		ChannelID: env.msg.ChannelID,
		MessageID: env.msg.ID,
		Timestamp: float64(e.now().UnixNano()) / float64(time.Second),
	}
	if failure != nil {
		run.Error = failure.Error()
		e.disable(ctx, &t, env, reason, failure)
	}
	e.recordRun(ctx, run)
	return failure == nil && terminal
}

func (e *Engine) guildGone(guildID string) bool {
	_, err := e.platform.Guild(guildID)
	return platform.IsNotFound(err)
}

func (e *Engine) perform(ctx context.Context, t *triggers.Trigger, action triggers.Action, env *messageEnv, rc *renderContext) error {
	msg := env.msg
	switch action.Kind {
	case triggers.ResponseText, triggers.ResponseRandText:
		text := e.pick(action.Args)
		if text == "" {
			return nil
		}
		send := e.outbound(t, env, e.renderText(text, env, rc))
		sent, err := e.platform.SendMessage(msg.ChannelID, send)
		if err != nil {
			return err
		}
		e.scheduleDelete(t, msg.ChannelID, sent)
		return nil

	case triggers.ResponseImage, triggers.ResponseRandImage, triggers.ResponseResize:
		return e.sendImage(t, action, env, rc)

	case triggers.ResponseDM, triggers.ResponseDMMe:
		text := e.pick(action.Args)
		if text == "" {
			return nil
		}
		target := msg.Author.ID
		if action.Kind == triggers.ResponseDMMe {
			target = t.Author
		}
		send := &discordgo.MessageSend{
			Content:         e.renderText(text, env, rc),
			AllowedMentions: allowedMentions(t),
		}
		_, err := e.platform.DirectMessage(target, send)
		return err

	case triggers.ResponseReact:
		for _, arg := range action.Args {
			emoji, ok := events.ParseEmoji(arg)
			if !ok {
				continue
			}
			if err := e.platform.AddReaction(msg.ChannelID, msg.ID, emoji.APIName()); err != nil {
				if platform.IsPermanent(err) {
					continue
				}
				return err
			}
		}
		return nil

	case triggers.ResponseAddRole, triggers.ResponseRemoveRole:
		return e.changeRoles(ctx, t, action, env)

	case triggers.ResponseKick, triggers.ResponseBan:
		if err := e.canPunish(env); err != nil {
			return err
		}
		reason := "Trigger response: " + t.Name
		var err error
		if action.Kind == triggers.ResponseKick {
			err = e.platform.Kick(msg.GuildID, msg.Author.ID, reason)
		} else {
			err = e.platform.Ban(msg.GuildID, msg.Author.ID, reason, 0)
		}
		if err != nil {
			return err
		}
		e.logAction(ctx, t, env, rc.result, action.Kind)
		return nil

	case triggers.ResponseRename:
		if err := e.canPunish(env); err != nil {
			return err
		}
		text := e.pick(action.Args)
		nick := utils.TrimRunes(strings.TrimSpace(render(text, rc)), nicknameSize)
		return e.platform.SetNickname(msg.GuildID, msg.Author.ID, nick)

	case triggers.ResponsePublish:
		if env.channel == nil || env.channel.Type != discordgo.ChannelTypeGuildNews {
			return nil
		}
		return e.platform.PublishMessage(msg.ChannelID, msg.ID)

	case triggers.ResponseDelete:
		if err := e.platform.DeleteMessage(msg.ChannelID, msg.ID); err != nil && !platform.IsNotFound(err) {
			return err
		}
		e.logAction(ctx, t, env, rc.result, action.Kind)
		return nil

	case triggers.ResponseCommand, triggers.ResponseMock:
		return e.redispatch(t, action, env, rc)
	}
	return fmt.Errorf("%w: %s", triggers.ErrInvalidAction, action.Kind)
}

// pick returns the only argument, or a random one for multi argument
// responses.
func (e *Engine) pick(args []string) string {
	switch len(args) {
	case 0:
		return ""
	case 1:
		return args[0]
	}
	return args[e.roll(len(args)-1)]
}

func (e *Engine) renderText(tmpl string, env *messageEnv, rc *renderContext) string {
	text := render(tmpl, rc)
	if !platform.HasPermission(env.authorPerms, discordgo.PermissionMentionEveryone) {
		text = escapeMassMentions(text)
	}
	return text
}

func (e *Engine) outbound(t *triggers.Trigger, env *messageEnv, content string) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:         content,
		TTS:             t.TTS,
		AllowedMentions: allowedMentions(t),
	}
	if t.Reply != triggers.ReplyNone {
		send.Reference = &discordgo.MessageReference{
			MessageID: env.msg.ID,
			ChannelID: env.msg.ChannelID,
			GuildID:   env.msg.GuildID,
		}
	}
	return send
}

func (e *Engine) scheduleDelete(t *triggers.Trigger, channelID string, sent *discordgo.Message) {
	if t.DeleteAfter <= 0 || sent == nil {
		return
	}
	e.afterFunc(time.Duration(t.DeleteAfter)*time.Second, func() {
		if err := e.platform.DeleteMessage(channelID, sent.ID); err != nil && !platform.IsNotFound(err) {
			e.logger.Debug("delete_after failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	})
}

// displayName strips the content hash from a stored image file name.
func displayName(file string) string {
	if _, name, ok := strings.Cut(file, "-"); ok && name != "" {
		return name
	}
	return file
}

func (e *Engine) sendImage(t *triggers.Trigger, action triggers.Action, env *messageEnv, rc *renderContext) error {
	file := e.pick(action.Args)
	if file == "" {
		return fmt.Errorf("%w: no file configured", errMissingFile)
	}
	data, err := e.store.Images().Read(env.msg.GuildID, file)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", errMissingFile, file)
	}
	if err != nil {
		return err
	}

	name := displayName(file)
	if action.Kind == triggers.ResponseResize {
		size := 1
		if len(rc.result.Matches) > 0 {
			size = utf8.RuneCountInString(rc.result.Matches[0])
		}
		data, err = resizeImage(data, size)
		if err != nil {
			return fmt.Errorf("resize %s: %w", file, err)
		}
		name = strings.TrimSuffix(name, path.Ext(name)) + ".png"
	}

	var content string
	if len(t.Kinds()) == 1 && len(t.Text) > 0 {
		content = e.renderText(t.Text[0], env, rc)
	}
	send := e.outbound(t, env, content)
	send.Files = []*discordgo.File{{Name: name, Reader: bytes.NewReader(data)}}
	sent, err := e.platform.SendMessage(env.msg.ChannelID, send)
	if err != nil {
		return err
	}
	e.scheduleDelete(t, env.msg.ChannelID, sent)
	return nil
}

func hasRole(roles []string, roleID string) bool {
	for _, id := range roles {
		if id == roleID {
			return true
		}
	}
	return false
}

func (e *Engine) changeRoles(ctx context.Context, t *triggers.Trigger, action triggers.Action, env *messageEnv) error {
	msg := env.msg
	add := action.Kind == triggers.ResponseAddRole
	changed := false
	for _, roleID := range action.Args {
		if !platform.CanManageRole(env.guild, env.botRoles, roleID) {
			e.logger.Debug("role above bot", zap.String("guild_id", msg.GuildID), zap.String("role_id", roleID))
			continue
		}
		if hasRole(msg.MemberRoles, roleID) == add {
			continue
		}
		var err error
		if add {
			err = e.platform.AddRole(msg.GuildID, msg.Author.ID, roleID)
		} else {
			err = e.platform.RemoveRole(msg.GuildID, msg.Author.ID, roleID)
		}
		if err != nil {
			return err
		}
		changed = true
	}
	if changed {
		e.logAction(ctx, t, env, regexexec.Result{}, action.Kind)
	}
	return nil
}

// canPunish refuses owners and members the bot does not outrank.
func (e *Engine) canPunish(env *messageEnv) error {
	authorID := env.msg.Author.ID
	if e.access.IsBotOwner(authorID) || env.guild == nil || authorID == env.guild.OwnerID {
		return errRefused
	}
	if !platform.Outranks(env.guild, e.platform.BotUserID(), env.botRoles, authorID, env.msg.MemberRoles) {
		return errRefused
	}
	return nil
}

// redispatch publishes a synthesized command message. Mock responses run
// it as the trigger creator.
func (e *Engine) redispatch(t *triggers.Trigger, action triggers.Action, env *messageEnv, rc *renderContext) error {
	if len(env.prefixes) == 0 || e.bus == nil {
		return nil
	}
	text := e.pick(action.Args)
	if text == "" {
		return nil
	}
	synth := *env.msg
	synth.Content = env.prefixes[0] + render(text, rc)
	synth.Attachments = nil
	synth.Embeds = nil

	if action.Kind == triggers.ResponseMock {
		member, err := e.platform.Member(env.msg.GuildID, t.Author)
		if platform.IsNotFound(err) {
			return errRefused
		}
		if err != nil {
			return err
		}
		synth.Author = events.UserFrom(member.User)
		synth.Nick = member.Nick
		synth.MemberRoles = append([]string(nil), member.Roles...)
		e.logger.Info("mock trigger dispatched",
			zap.String("guild_id", env.msg.GuildID),
			zap.String("trigger", t.Name),
			zap.String("creator_id", t.Author),
			zap.String("invoker_id", env.msg.Author.ID),
		)
	}

	e.bus.PublishAsync(&events.Event{
		Kind:      events.MessageCreate,
		GuildID:   synth.GuildID,
		ChannelID: synth.ChannelID,
		At:        e.now(),
		Retrigger: true,
		Message:   &synth,
	})
	return nil
}

func (e *Engine) disable(ctx context.Context, t *triggers.Trigger, env *messageEnv, reason triggers.DisabledReason, cause error) {
	guildID := env.msg.GuildID
	if _, err := e.store.SetEnabled(guildID, t.Name, false, reason); err != nil {
		e.logger.Warn("disabling trigger failed", zap.String("guild_id", guildID), zap.String("trigger", t.Name), zap.Error(err))
	}
	metrics.TriggerDisables.WithLabelValues(string(reason)).Inc()
	e.audit.Log(ctx, audit.LevelWarn, guildID, t.Author, audit.EventTriggerDisabled, fmt.Sprintf("%s: %v", t.Name, cause))
	e.notifyDisabled(ctx, t, env, reason)
}

// notifyDisabled tells the channel once a day per trigger.
func (e *Engine) notifyDisabled(ctx context.Context, t *triggers.Trigger, env *messageEnv, reason triggers.DisabledReason) {
	key := fmt.Sprintf("disabled_trigger:%s:%s", env.msg.GuildID, t.Name)
	first, err := e.cache.SetNX(ctx, key, []byte(reason), noticeTTL)
	if err != nil || !first {
		return
	}
	var content string
	if reason == triggers.DisabledMissingFile {
		content = fmt.Sprintf("The file for the trigger %s was not found. This trigger will be disabled.", t.Name)
	} else {
		content = fmt.Sprintf("The trigger %s failed and has been disabled. Check the last trigger run for details.", t.Name)
	}
	send := &discordgo.MessageSend{
		Content:         escapeMassMentions(content),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if _, err := e.platform.SendMessage(env.msg.ChannelID, send); err != nil {
		e.logger.Debug("disabled notice failed", zap.String("channel_id", env.msg.ChannelID), zap.Error(err))
	}
}
