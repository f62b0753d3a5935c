package correlation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "memebot/pkg/logx"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedis(client, "test:", logx.Nop())
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	rs, _ := newRedisStore(t)
	return map[string]Store{"memory": NewMemory(), "redis": rs}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			_, ok := st.Get(ctx, "1:1")
			assert.False(t, ok)

			st.Set(ctx, Entry{SentItemID: "1:1", SourceRef: "https://a/x.png", CycleID: 1})
			st.Set(ctx, Entry{SentItemID: "1:1", SourceRef: "https://a/y.png", CycleID: 1})
			e, ok := st.Get(ctx, "1:1")
			require.True(t, ok)
			assert.Equal(t, "https://a/y.png", e.SourceRef)
			assert.Equal(t, uint64(1), e.CycleID)
			assert.False(t, e.CreatedAt.IsZero())
			assert.Equal(t, 1, st.Len(ctx))

			st.Delete(ctx, "1:1")
			st.Delete(ctx, "1:1")
			_, ok = st.Get(ctx, "1:1")
			assert.False(t, ok)

			st.Set(ctx, Entry{SentItemID: "1:2", SourceRef: "r2"})
			st.Set(ctx, Entry{SentItemID: "1:3", SourceRef: "r3"})
			st.ClearAll(ctx)
			st.ClearAll(ctx)
			assert.Equal(t, 0, st.Len(ctx))
			_, ok = st.Get(ctx, "1:2")
			assert.False(t, ok)
		})
	}
}

func TestStoreIgnoresEmptyID(t *testing.T) {
	st := NewMemory()
	st.Set(context.Background(), Entry{SourceRef: "x"})
	assert.Equal(t, 0, st.Len(context.Background()))
}

func TestRedisFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisStore(t)
	st.Set(ctx, Entry{SentItemID: "9:9", SourceRef: "r"})
	mr.Close()

	_, ok := st.Get(ctx, "9:9")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len(ctx))
	st.Delete(ctx, "9:9")
	st.ClearAll(ctx)
}

func TestOpenRedisClearsNamespace(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	mr.HSet("bot:entries", "1:1", `{"id":"1:1","ref":"stale"}`)

	st, closeFn, err := Open(ctx, Config{Driver: "redis", RedisAddr: mr.Addr(), RedisPrefix: "bot:"}, logx.Nop())
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	_, ok := st.Get(ctx, "1:1")
	assert.False(t, ok)
	assert.False(t, mr.Exists("bot:entries"))
}

func TestOpenDrivers(t *testing.T) {
	st, closeFn, err := Open(context.Background(), Config{}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, &Memory{}, st)

	_, _, err = Open(context.Background(), Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)
}
