package config

import "strings"

const (
	DefaultSchedule   = "0 */2 * * *"
	DefaultTimezone   = "Africa/Lagos"
	DefaultBatchSize  = 10
	DefaultSendDelay  = "3s"
	DefaultFeedURL    = "https://meme-api.com/gimme/memes"
	DefaultGroupToken = "!groupid"
	DefaultAdminAddr  = "127.0.0.1:8086"
)

var DefaultTriggerPhrases = []string{"send pls", "send please"}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	b := &c.Broadcast
	if strings.TrimSpace(b.Schedule) == "" {
		b.Schedule = DefaultSchedule
	}
	if strings.TrimSpace(b.Timezone) == "" {
		b.Timezone = DefaultTimezone
	}
	if b.BatchSize == 0 {
		b.BatchSize = DefaultBatchSize
	}
	if strings.TrimSpace(b.SendDelay) == "" {
		b.SendDelay = DefaultSendDelay
	}
	if strings.TrimSpace(b.FetchTimeout) == "" {
		b.FetchTimeout = "10s"
	}
	if strings.TrimSpace(b.ResolveTimeout) == "" {
		b.ResolveTimeout = "30s"
	}
	if strings.TrimSpace(b.SendTimeout) == "" {
		b.SendTimeout = "60s"
	}

	if strings.TrimSpace(c.Feed.Endpoint) == "" {
		c.Feed.Endpoint = DefaultFeedURL
	}
	if c.Media.UnsafeMIME == nil {
		v := true
		c.Media.UnsafeMIME = &v
	}

	if len(c.Reply.TriggerPhrases) == 0 {
		c.Reply.TriggerPhrases = append([]string(nil), DefaultTriggerPhrases...)
	}
	if strings.TrimSpace(c.Reply.GroupIDToken) == "" {
		c.Reply.GroupIDToken = DefaultGroupToken
	}

	if strings.TrimSpace(c.Correlation.Driver) == "" {
		c.Correlation.Driver = "memory"
	}
	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Addr) == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
}
