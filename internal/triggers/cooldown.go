package triggers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type CooldownScope string

const (
	CooldownGuild   CooldownScope = "guild"
	CooldownChannel CooldownScope = "channel"
	CooldownAuthor  CooldownScope = "member"
)

func ParseCooldownScope(value string) (CooldownScope, bool) {
	switch value {
	case "guild", "server":
		return CooldownGuild, true
	case "channel":
		return CooldownChannel, true
	case "member", "author", "user":
		return CooldownAuthor, true
	}
	return "", false
}

// Cooldown stores the last observation per scope key as unix seconds.
// The guild scope uses the empty key.
type Cooldown struct {
	Seconds int                `json:"time"`
	Scope   CooldownScope      `json:"style"`
	Last    map[string]float64 `json:"last,omitempty"`
}

func (c *Cooldown) UnmarshalJSON(data []byte) error {
	var raw struct {
		Seconds int             `json:"time"`
		Scope   CooldownScope   `json:"style"`
		Last    json.RawMessage `json:"last"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Seconds = raw.Seconds
	c.Scope = raw.Scope
	if c.Scope == "author" {
		c.Scope = CooldownAuthor
	}
	c.Last = make(map[string]float64)
	if len(raw.Last) == 0 || string(raw.Last) == "null" {
		return nil
	}

	// Older blobs store a bare timestamp for guild cooldowns and a list of
	// {id, last} observations for the other scopes.
	var single float64
	if err := json.Unmarshal(raw.Last, &single); err == nil {
		c.Last[""] = single
		return nil
	}
	var legacy []struct {
		ID   json.Number `json:"id"`
		Last float64     `json:"last"`
	}
	if err := json.Unmarshal(raw.Last, &legacy); err == nil {
		for _, entry := range legacy {
			c.Last[entry.ID.String()] = entry.Last
		}
		return nil
	}
	return json.Unmarshal(raw.Last, &c.Last)
}

func (c *Cooldown) Validate() error {
	if c.Seconds <= 0 {
		return errors.New("cooldown time must be positive")
	}
	if _, ok := ParseCooldownScope(string(c.Scope)); !ok {
		return errors.New("cooldown scope must be guild, channel or member")
	}
	return nil
}

func (c *Cooldown) key(channelID, authorID string) string {
	switch c.Scope {
	case CooldownChannel:
		return channelID
	case CooldownAuthor:
		return authorID
	default:
		return ""
	}
}

// Allow records an observation and reports true when the previous one for
// the same scope key is older than the window.
func (c *Cooldown) Allow(channelID, authorID string, now time.Time) bool {
	if c.Seconds <= 0 {
		return true
	}
	if c.Last == nil {
		c.Last = make(map[string]float64)
	}
	key := c.key(channelID, authorID)
	current := float64(now.UnixNano()) / float64(time.Second)
	if last, ok := c.Last[key]; ok && current-last < float64(c.Seconds) {
		return false
	}
	c.Last[key] = current
	return true
}

// Remaining reports how long until the scope key may fire again.
func (c *Cooldown) Remaining(channelID, authorID string, now time.Time) time.Duration {
	last, ok := c.Last[c.key(channelID, authorID)]
	if !ok {
		return 0
	}
	until := time.Unix(0, int64(last*float64(time.Second))).Add(time.Duration(c.Seconds) * time.Second)
	if left := until.Sub(now); left > 0 {
		return left
	}
	return 0
}

func (c Cooldown) String() string {
	return strconv.Itoa(c.Seconds) + "s per " + string(c.Scope)
}

func (c Cooldown) clone() Cooldown {
	out := c
	out.Last = make(map[string]float64, len(c.Last))
	for k, v := range c.Last {
		out.Last[k] = v
	}
	return out
}
