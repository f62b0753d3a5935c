package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"memebot/internal/scheduler"
)

// Validate checks a defaulted config. All problems are reported together.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)

	b := c.Broadcast
	if b.TargetChat == 0 {
		add("broadcast.target_chat is required")
	}
	if _, err := scheduler.ParseSchedule(b.Schedule); err != nil {
		add("broadcast.schedule: %w", err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(b.Timezone)); err != nil {
		add("broadcast.timezone: unknown zone %q", b.Timezone)
	}
	if b.BatchSize <= 0 {
		add("broadcast.batch_size must be > 0")
	}
	dur("broadcast.send_delay", b.SendDelay)
	dur("broadcast.fetch_timeout", b.FetchTimeout)
	dur("broadcast.resolve_timeout", b.ResolveTimeout)
	dur("broadcast.send_timeout", b.SendTimeout)

	if !strings.HasPrefix(c.Feed.Endpoint, "http://") && !strings.HasPrefix(c.Feed.Endpoint, "https://") {
		add("feed.endpoint must be an http(s) URL")
	}
	dur("feed.timeout", c.Feed.Timeout)
	if c.Media.MaxBytes < 0 {
		add("media.max_bytes must be >= 0")
	}
	dur("media.timeout", c.Media.Timeout)

	for i, p := range c.Reply.TriggerPhrases {
		if strings.TrimSpace(p) == "" {
			add("reply.trigger_phrases[%d] is empty", i)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Correlation.Driver)) {
	case "", "memory":
	case "redis":
		if c.Correlation.Redis.DB < 0 {
			add("correlation.redis.db must be >= 0")
		}
	default:
		add("correlation.driver: unknown driver %q (memory|redis)", c.Correlation.Driver)
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "off", "disabled":
		case "file", "sqlite":
			if strings.TrimSpace(c.Storage.Path) == "" {
				add("storage.path is required for driver %q", c.Storage.Driver)
			}
		default:
			add("storage.driver: unknown driver %q (file|sqlite)", c.Storage.Driver)
		}
		dur("storage.busy_timeout", c.Storage.BusyTimeout)
	}

	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		add("telegram.log_chat_id is required when logging.telegram.enabled")
	}
	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Addr) == "" {
		add("admin.addr is required when admin.enabled")
	}

	return errors.Join(errs...)
}
