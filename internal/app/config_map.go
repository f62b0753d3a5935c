package app

import (
	"fmt"
	"strings"
	"time"

	"memebot/internal/admin"
	"memebot/internal/broadcast"
	"memebot/internal/config"
	"memebot/internal/correlation"
	"memebot/internal/feed"
	"memebot/internal/media"
	"memebot/internal/reply"
	"memebot/internal/storage"
	kit "memebot/internal/transport"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "off", "disabled":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	delay, err := config.ParseDurationOr("broadcast.send_delay", b.SendDelay, 3*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	fetch, err := config.ParseDurationOrDefault("broadcast.fetch_timeout", b.FetchTimeout, 10*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	resolve, err := config.ParseDurationOrDefault("broadcast.resolve_timeout", b.ResolveTimeout, 30*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("broadcast.send_timeout", b.SendTimeout, 60*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Target:         kit.ChatTarget{ChatID: b.TargetChat, ThreadID: b.TargetThread},
		BatchSize:      b.BatchSize,
		SendDelay:      delay,
		FetchTimeout:   fetch,
		ResolveTimeout: resolve,
		SendTimeout:    send,
	}, nil
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, 10*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{Endpoint: cfg.Feed.Endpoint, Timeout: timeout, UserAgent: cfg.Feed.UserAgent}, nil
}

func mapMediaConfig(cfg *config.Config) (media.Config, error) {
	timeout, err := config.ParseDurationOrDefault("media.timeout", cfg.Media.Timeout, 30*time.Second)
	if err != nil {
		return media.Config{}, err
	}
	unsafe := true
	if cfg.Media.UnsafeMIME != nil {
		unsafe = *cfg.Media.UnsafeMIME
	}
	return media.Config{Timeout: timeout, MaxBytes: cfg.Media.MaxBytes, UnsafeMIME: unsafe}, nil
}

// mapReplyConfig reuses the broadcast step timeouts for the fulfillment path.
func mapReplyConfig(cfg *config.Config, bc broadcast.Config) reply.Config {
	return reply.Config{
		TriggerPhrases: cfg.Reply.TriggerPhrases,
		GroupIDToken:   cfg.Reply.GroupIDToken,
		Caption:        cfg.Reply.Caption,
		Apology:        cfg.Reply.Apology,
		ResolveTimeout: bc.ResolveTimeout,
		SendTimeout:    bc.SendTimeout,
	}
}

func mapCorrelationConfig(cfg *config.Config) correlation.Config {
	r := cfg.Correlation.Redis
	return correlation.Config{
		Driver:        cfg.Correlation.Driver,
		RedisAddr:     r.Addr,
		RedisPassword: r.Password,
		RedisDB:       r.DB,
		RedisPrefix:   r.Prefix,
	}
}

func mapAdminConfig(cfg *config.Config) (admin.Config, bool) {
	if !cfg.Admin.Enabled {
		return admin.Config{}, false
	}
	return admin.Config{Addr: cfg.Admin.Addr, Token: cfg.Admin.Token, Pprof: cfg.Admin.Pprof}, true
}
