package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "3s", "2m").
// Only the logging section is applied on reload; every other section is read once at startup.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Broadcast   BroadcastConfig   `json:"broadcast"`
	Feed        FeedConfig        `json:"feed"`
	Media       MediaConfig       `json:"media"`
	Reply       ReplyConfig       `json:"reply"`
	Correlation CorrelationConfig `json:"correlation"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Admin       AdminConfig       `json:"admin"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may use the /blast and /status commands.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// LogChatID receives warn+ log lines when logging.telegram.enabled is set.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BroadcastConfig controls the scheduled batch.
//
// Defaults (when fields are omitted):
//   - schedule: "0 */2 * * *"
//   - timezone: "Africa/Lagos"
//   - batch_size: 10
//   - send_delay: "3s" ("0s" disables pacing)
//   - fetch_timeout: "10s", resolve_timeout: "30s", send_timeout: "60s"
type BroadcastConfig struct {
	TargetChat   int64  `json:"target_chat"`
	TargetThread int    `json:"target_thread,omitempty"`
	Schedule     string `json:"schedule"`
	Timezone     string `json:"timezone"`
	BatchSize    int    `json:"batch_size"`
	SendDelay    string `json:"send_delay"`

	FetchTimeout   string `json:"fetch_timeout,omitempty"`
	ResolveTimeout string `json:"resolve_timeout,omitempty"`
	SendTimeout    string `json:"send_timeout,omitempty"`
}

type FeedConfig struct {
	Endpoint  string `json:"endpoint"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type MediaConfig struct {
	// UnsafeMIME sniffs the content type from the bytes when the server omits or misreports it.
	// Pointer so an explicit false survives defaulting.
	UnsafeMIME *bool  `json:"unsafe_mime,omitempty"`
	MaxBytes   int64  `json:"max_bytes,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type ReplyConfig struct {
	TriggerPhrases []string `json:"trigger_phrases"`
	GroupIDToken   string   `json:"group_id_token"`
	Caption        string   `json:"caption,omitempty"`
	Apology        string   `json:"apology,omitempty"`
}

// CorrelationConfig selects where the sent-item table lives. It never survives a restart.
//
// Example:
//
//	"correlation": { "driver": "redis", "redis": { "addr": "127.0.0.1:6379", "prefix": "memebot:" } }
type CorrelationConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./memebot_audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// AdminConfig controls the optional status HTTP server.
//
// Prefer binding to localhost; the endpoints are read-only but unauthenticated unless token is set.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8086"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof
}
