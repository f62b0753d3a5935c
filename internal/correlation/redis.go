package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	logx "memebot/pkg/logx"
)

// Redis keeps the table in a single Redis hash (<prefix>entries), field = sent-item id.
// Errors are logged and treated as a miss or a no-op.
type Redis struct {
	client *redis.Client
	key    string
	log    logx.Logger
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string, log logx.Logger) *Redis {
	if prefix == "" {
		prefix = "memebot:correlation:"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Redis{client: client, key: prefix + "entries", log: log, now: time.Now}
}

func (r *Redis) Set(ctx context.Context, e Entry) {
	if e.SentItemID == "" {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("correlation encode failed", logx.Item(e.SentItemID), logx.Err(err))
		return
	}
	if err := r.client.HSet(ctx, r.key, e.SentItemID, b).Err(); err != nil {
		r.log.Warn("correlation set failed", logx.Item(e.SentItemID), logx.Err(err))
	}
}

func (r *Redis) Get(ctx context.Context, sentItemID string) (Entry, bool) {
	raw, err := r.client.HGet(ctx, r.key, sentItemID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.log.Warn("correlation get failed", logx.Item(sentItemID), logx.Err(err))
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.log.Warn("correlation decode failed", logx.Item(sentItemID), logx.Err(err))
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) Delete(ctx context.Context, sentItemID string) {
	if err := r.client.HDel(ctx, r.key, sentItemID).Err(); err != nil {
		r.log.Warn("correlation delete failed", logx.Item(sentItemID), logx.Err(err))
	}
}

func (r *Redis) ClearAll(ctx context.Context) {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		r.log.Warn("correlation clear failed", logx.Err(err))
	}
}

func (r *Redis) Len(ctx context.Context) int {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		r.log.Warn("correlation len failed", logx.Err(err))
		return 0
	}
	return int(n)
}

func (r *Redis) Close() error { return r.client.Close() }
