package retrigger

import (
	"time"

	"guildkeeper/internal/kv"

	"go.uber.org/zap"
)

const settingsKey = "retrigger"

// Settings are the per guild engine options stored at guild(<id>)/retrigger.
type Settings struct {
	// RegexTimeout overrides the global regex deadline, in seconds. It is
	// capped at the bypass deadline.
	RegexTimeout float64 `json:"regex_timeout,omitempty"`
	// Bypass evaluates regex inline with the longer bypass deadline.
	Bypass bool `json:"bypass"`
	// Aggressive disables triggers that keep timing out.
	Aggressive bool `json:"aggressive"`

	// Modlog is empty (off), "default" for the guild modlog channel or a
	// channel id.
	Modlog         string `json:"modlog,omitempty"`
	FilterLogs     bool   `json:"filter_logs"`
	KickLogs       bool   `json:"kick_logs"`
	BanLogs        bool   `json:"ban_logs"`
	AddRoleLogs    bool   `json:"add_role_logs"`
	RemoveRoleLogs bool   `json:"remove_role_logs"`
}

func (s Settings) timeout(global, bypass time.Duration) time.Duration {
	if s.Bypass {
		return bypass
	}
	if s.RegexTimeout > 0 {
		override := time.Duration(s.RegexTimeout * float64(time.Second))
		if override > bypass {
			return bypass
		}
		return override
	}
	return global
}

func (e *Engine) Settings(guildID string) Settings {
	var settings Settings
	if _, err := e.kv.Get(kv.Guild(guildID), settingsKey, &settings); err != nil {
		e.logger.Warn("reading retrigger settings", zap.String("guild_id", guildID), zap.Error(err))
	}
	return settings
}

func (e *Engine) UpdateSettings(guildID string, fn func(*Settings) error) error {
	var settings Settings
	return e.kv.Update(kv.Guild(guildID), settingsKey, &settings, func() error {
		return fn(&settings)
	})
}
