package correlation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "memebot/pkg/logx"
)

// Config selects the store backend.
//
// Driver values:
//   - "memory" (default): in-process map
//   - "redis": a Redis hash, cleared on Open
type Config struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the configured store. The returned close func is never nil.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), noop, nil
	case "redis":
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("correlation redis ping %s: %w", addr, err)
		}
		st := NewRedis(client, cfg.RedisPrefix, log)
		// Correlations never survive a restart.
		st.ClearAll(pctx)
		return st, st.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown correlation driver: %s", cfg.Driver)
	}
}
