package config

import (
	"reflect"
	"sort"
	"strings"

	logx "memebot/pkg/logx"
)

// HotSections are applied on reload; a change anywhere else needs a restart.
var HotSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections (sorted) and safe
// structured attrs for logging. Secrets (bot token, redis password, admin token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.schedule", newCfg.Broadcast.Schedule),
			logx.String("broadcast.timezone", newCfg.Broadcast.Timezone),
			logx.Int("broadcast.batch_size", newCfg.Broadcast.BatchSize),
		)
	}

	for name, same := range map[string]bool{
		"feed":  reflect.DeepEqual(oldCfg.Feed, newCfg.Feed),
		"media": reflect.DeepEqual(oldCfg.Media, newCfg.Media),
		"reply": reflect.DeepEqual(oldCfg.Reply, newCfg.Reply),
		"admin": reflect.DeepEqual(oldCfg.Admin, newCfg.Admin),
	} {
		if !same {
			changed = append(changed, name)
		}
	}

	if !reflect.DeepEqual(oldCfg.Correlation, newCfg.Correlation) {
		changed = append(changed, "correlation")
		attrs = append(attrs, logx.String("correlation.driver", newCfg.Correlation.Driver))
	}

	// Nil means disabled.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newS.Driver)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that are not hot-applied.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// LogxConfig maps the logging section onto the logger service config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}
