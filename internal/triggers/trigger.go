package triggers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

var (
	ErrNotFound      = errors.New("trigger not found")
	ErrExists        = errors.New("trigger already exists")
	ErrInvalidName   = errors.New("trigger names must be a single lowercase word")
	ErrNoResponse    = errors.New("trigger has no response")
	ErrInvalidAction = errors.New("invalid response action")
	ErrInvalidRegex  = errors.New("invalid regex")
	ErrInvalidOption = errors.New("invalid trigger option")
)

type ResponseKind string

const (
	ResponseText       ResponseKind = "text"
	ResponseRandText   ResponseKind = "randtext"
	ResponseImage      ResponseKind = "image"
	ResponseRandImage  ResponseKind = "randimage"
	ResponseResize     ResponseKind = "resize"
	ResponseDM         ResponseKind = "dm"
	ResponseDMMe       ResponseKind = "dmme"
	ResponseReact      ResponseKind = "react"
	ResponseAddRole    ResponseKind = "add_role"
	ResponseRemoveRole ResponseKind = "remove_role"
	ResponseKick       ResponseKind = "kick"
	ResponseBan        ResponseKind = "ban"
	ResponseDelete     ResponseKind = "delete"
	ResponseRename     ResponseKind = "rename"
	ResponseCommand    ResponseKind = "command"
	ResponseMock       ResponseKind = "mock"
	ResponsePublish    ResponseKind = "publish"
)

// ParseKind accepts the response names operators type, including the
// legacy filter alias for delete.
func ParseKind(value string) (ResponseKind, bool) {
	kind := ResponseKind(strings.ToLower(strings.TrimSpace(value)))
	if kind == "filter" {
		return ResponseDelete, true
	}
	switch kind {
	case ResponseText, ResponseRandText, ResponseImage, ResponseRandImage, ResponseResize,
		ResponseDM, ResponseDMMe, ResponseReact, ResponseAddRole, ResponseRemoveRole,
		ResponseKick, ResponseBan, ResponseDelete, ResponseRename, ResponseCommand,
		ResponseMock, ResponsePublish:
		return kind, true
	}
	return "", false
}

// Terminal kinds end trigger evaluation for the message once executed.
func (k ResponseKind) Terminal() bool {
	return k == ResponseDelete || k == ResponseKick || k == ResponseBan
}

// Moderation kinds need the creator to hold the matching permission.
func (k ResponseKind) Moderation() bool {
	switch k {
	case ResponseDelete, ResponseKick, ResponseBan, ResponseAddRole, ResponseRemoveRole:
		return true
	}
	return false
}

func (k ResponseKind) takesArgs() bool {
	switch k {
	case ResponseDelete, ResponseKick, ResponseBan, ResponsePublish:
		return false
	}
	return true
}

func (k ResponseKind) multiArg() bool {
	switch k {
	case ResponseReact, ResponseAddRole, ResponseRemoveRole, ResponseRandText:
		return true
	}
	return false
}

type ReplyMode string

const (
	ReplyNone   ReplyMode = ""
	ReplyNotify ReplyMode = "notify"
	ReplySilent ReplyMode = "silent"
)

func (r *ReplyMode) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null", "false", `""`:
		*r = ReplyNone
	case "true":
		*r = ReplyNotify
	default:
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*r = ReplyMode(value)
	}
	return nil
}

type DisabledReason string

const (
	DisabledManual      DisabledReason = ""
	DisabledError       DisabledReason = "error"
	DisabledMissingFile DisabledReason = "missing_file"
	DisabledTimeout     DisabledReason = "timeout"
)

// StringList decodes either a single string or a list.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = StringList{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Action is one step of a response. It is stored as [kind, args...].
type Action struct {
	Kind ResponseKind
	Args []string
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(append([]string{string(a.Kind)}, a.Args...))
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) == 0 {
		return ErrInvalidAction
	}
	kind, ok := ParseKind(parts[0])
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAction, parts[0])
	}
	a.Kind = kind
	a.Args = parts[1:]
	return nil
}

// ParseAction parses the "kind;argument" form used when building multi
// response triggers.
func ParseAction(input string) (Action, error) {
	kindPart, rest, _ := strings.Cut(input, ";")
	kind, ok := ParseKind(kindPart)
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, kindPart)
	}
	if !kind.takesArgs() {
		return Action{Kind: kind}, nil
	}
	if strings.TrimSpace(rest) == "" {
		return Action{}, fmt.Errorf("%w: %s needs an argument", ErrInvalidAction, kind)
	}
	if kind.multiArg() {
		var args []string
		for _, part := range strings.Split(rest, ";") {
			if part = strings.TrimSpace(part); part != "" {
				args = append(args, part)
			}
		}
		return Action{Kind: kind, Args: args}, nil
	}
	return Action{Kind: kind, Args: []string{rest}}, nil
}

type Trigger struct {
	GuildID         string         `json:"-"`
	Name            string         `json:"name"`
	Pattern         string         `json:"regex"`
	Responses       []ResponseKind `json:"response_type"`
	Author          string         `json:"author"`
	Enabled         bool           `json:"enabled"`
	DisabledReason  DisabledReason `json:"disabled_reason,omitempty"`
	Count           int64          `json:"count"`
	Text            StringList     `json:"text,omitempty"`
	Image           StringList     `json:"image,omitempty"`
	Allowlist       []string       `json:"whitelist"`
	Blocklist       []string       `json:"blacklist"`
	Cooldown        *Cooldown      `json:"cooldown,omitempty"`
	Multi           []Action       `json:"multi_payload,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	IgnoreCommands  bool           `json:"ignore_commands"`
	CheckEdits      bool           `json:"check_edits"`
	ReadFilenames   bool           `json:"read_filenames"`
	Chance          int            `json:"chance"`
	DeleteAfter     int            `json:"delete_after,omitempty"`
	Reply           ReplyMode      `json:"reply"`
	TTS             bool           `json:"tts"`
	UserMention     bool           `json:"user_mention"`
	RoleMention     bool           `json:"role_mention"`
	EveryoneMention bool           `json:"everyone_mention"`
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	type alias Trigger
	aux := struct {
		*alias
		IgnoreEdits *bool `json:"ignore_edits"`
		UserMention *bool `json:"user_mention"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.UserMention = aux.UserMention == nil || *aux.UserMention
	for i, kind := range t.Responses {
		if kind == "filter" {
			t.Responses[i] = ResponseDelete
		}
	}
	if aux.IgnoreEdits != nil {
		t.CheckEdits = !*aux.IgnoreEdits && t.hasAny(ResponseBan, ResponseKick, ResponseDelete)
	}
	return nil
}

// Actions flattens the trigger into the ordered response steps.
func (t *Trigger) Actions() []Action {
	if len(t.Multi) > 0 {
		return t.Multi
	}
	actions := make([]Action, 0, len(t.Responses))
	for _, kind := range t.Responses {
		switch kind {
		case ResponseImage, ResponseRandImage, ResponseResize:
			actions = append(actions, Action{Kind: kind, Args: t.Image})
		case ResponseText, ResponseDM, ResponseDMMe, ResponseRename, ResponseCommand, ResponseMock:
			var args []string
			if len(t.Text) > 0 {
				args = []string{t.Text[0]}
			}
			actions = append(actions, Action{Kind: kind, Args: args})
		case ResponseRandText, ResponseReact, ResponseAddRole, ResponseRemoveRole:
			actions = append(actions, Action{Kind: kind, Args: t.Text})
		default:
			actions = append(actions, Action{Kind: kind})
		}
	}
	return actions
}

func (t *Trigger) Kinds() []ResponseKind {
	actions := t.Actions()
	kinds := make([]ResponseKind, 0, len(actions))
	seen := make(map[ResponseKind]struct{})
	for _, action := range actions {
		if _, ok := seen[action.Kind]; ok {
			continue
		}
		seen[action.Kind] = struct{}{}
		kinds = append(kinds, action.Kind)
	}
	return kinds
}

func (t *Trigger) Has(kind ResponseKind) bool {
	return t.hasAny(kind)
}

func (t *Trigger) hasAny(kinds ...ResponseKind) bool {
	for _, have := range t.Kinds() {
		for _, want := range kinds {
			if have == want {
				return true
			}
		}
	}
	return false
}

// ImageFiles lists every image file the trigger references.
func (t *Trigger) ImageFiles() []string {
	files := append([]string(nil), t.Image...)
	for _, action := range t.Multi {
		if action.Kind == ResponseImage || action.Kind == ResponseRandImage || action.Kind == ResponseResize {
			files = append(files, action.Args...)
		}
	}
	return files
}

func (t *Trigger) Validate() error {
	if t.Name == "" || strings.ContainsAny(t.Name, " \t\n") || strings.ToLower(t.Name) != t.Name {
		return ErrInvalidName
	}
	if _, err := regexp2.Compile(t.Pattern, regexp2.None); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	actions := t.Actions()
	if len(actions) == 0 {
		return ErrNoResponse
	}
	for _, action := range actions {
		if action.Kind.takesArgs() && len(action.Args) == 0 {
			return fmt.Errorf("%w: %s needs an argument", ErrInvalidAction, action.Kind)
		}
	}
	if t.Chance < 0 || t.DeleteAfter < 0 {
		return fmt.Errorf("%w: chance and delete_after must not be negative", ErrInvalidOption)
	}
	if t.Cooldown != nil {
		if err := t.Cooldown.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}
	return nil
}

func (t Trigger) Clone() Trigger {
	out := t
	out.Responses = append([]ResponseKind(nil), t.Responses...)
	out.Text = append(StringList(nil), t.Text...)
	out.Image = append(StringList(nil), t.Image...)
	out.Allowlist = append([]string(nil), t.Allowlist...)
	out.Blocklist = append([]string(nil), t.Blocklist...)
	if t.Multi != nil {
		out.Multi = make([]Action, len(t.Multi))
		for i, action := range t.Multi {
			out.Multi[i] = Action{Kind: action.Kind, Args: append([]string(nil), action.Args...)}
		}
	}
	if t.Cooldown != nil {
		cooldown := t.Cooldown.clone()
		out.Cooldown = &cooldown
	}
	return out
}
