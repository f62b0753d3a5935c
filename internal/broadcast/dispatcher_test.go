package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memebot/internal/correlation"
	"memebot/internal/eventbus"
	"memebot/internal/feed"
	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

type fakeFeed struct {
	mu     sync.Mutex
	calls  int
	failAt map[int]bool
}

func (f *fakeFeed) FetchOne(context.Context) (feed.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt[f.calls] {
		return feed.Item{}, &feed.FetchError{Endpoint: "test", Status: 503, Err: errors.New("unavailable")}
	}
	return feed.Item{URL: fmt.Sprintf("https://img.test/%d.png", f.calls)}, nil
}

type fakeResolver struct {
	fail map[string]bool
}

func (r *fakeResolver) Resolve(_ context.Context, url string) (kit.Media, error) {
	if r.fail[url] {
		return kit.Media{}, errors.New("resolve failed")
	}
	return kit.Media{Kind: kit.MediaPhoto, MIME: "image/png", SourceURL: url, Data: []byte("x")}, nil
}

type sentMedia struct {
	to  kit.ChatTarget
	m   kit.Media
	opt kit.MediaOptions
}

type fakeSender struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMedia
	failOn map[int]bool
}

func (s *fakeSender) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, opt kit.MediaOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.failOn[s.nextID] {
		return kit.MessageRef{}, &kit.SendError{Op: "sendPhoto", ChatID: to.ChatID, Err: errors.New("flood")}
	}
	s.sent = append(s.sent, sentMedia{to: to, m: m, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 100 + s.nextID}, nil
}

type recordingSleeper struct {
	calls []time.Duration
	err   error
	after int
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.err != nil && len(s.calls) >= s.after {
		return s.err
	}
	return nil
}

func newDispatcher(t *testing.T, f Fetcher, r Resolver, s MediaSender, st correlation.Store, bus eventbus.Bus) (*Dispatcher, *recordingSleeper) {
	t.Helper()
	d := New(Config{Target: kit.ChatTarget{ChatID: -100}, BatchSize: 10, SendDelay: 3 * time.Second}, f, r, s, st, logx.Nop(), bus)
	sl := &recordingSleeper{}
	d.sleep = sl.sleep
	return d, sl
}

func TestRunCycleIsolatesFetchFailures(t *testing.T) {
	ctx := context.Background()
	st := correlation.NewMemory()
	sender := &fakeSender{}
	d, sl := newDispatcher(t, &fakeFeed{failAt: map[int]bool{3: true, 7: true}}, &fakeResolver{}, sender, st, nil)

	rep := d.RunCycle(ctx)

	assert.Equal(t, uint64(1), rep.CycleID)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 10, rep.Attempted)
	assert.Equal(t, 8, rep.Sent)
	assert.Equal(t, 2, rep.FetchFailed)
	assert.Len(t, sender.sent, 8)
	assert.Equal(t, 8, st.Len(ctx))

	// Pacing happens between every pair of iterations, failed ones included.
	require.Len(t, sl.calls, 9)
	for _, c := range sl.calls {
		assert.Equal(t, 3*time.Second, c)
	}

	for _, s := range sender.sent {
		assert.True(t, s.opt.SelfExpiring)
		assert.Equal(t, int64(-100), s.to.ChatID)
	}
	e, ok := st.Get(ctx, kit.ItemKey(-100, 101))
	require.True(t, ok)
	assert.Equal(t, "https://img.test/1.png", e.SourceRef)
	assert.Equal(t, uint64(1), e.CycleID)
}

func TestRunCycleClearsPreviousCycle(t *testing.T) {
	ctx := context.Background()
	st := correlation.NewMemory()
	st.Set(ctx, correlation.Entry{SentItemID: "stale", SourceRef: "old"})
	sender := &fakeSender{}
	d, _ := newDispatcher(t, &fakeFeed{}, &fakeResolver{}, sender, st, nil)

	first := d.RunCycle(ctx)
	_, ok := st.Get(ctx, "stale")
	assert.False(t, ok)
	assert.Equal(t, 10, st.Len(ctx))

	second := d.RunCycle(ctx)
	assert.Equal(t, first.CycleID+1, second.CycleID)
	assert.Equal(t, 10, st.Len(ctx))
	_, ok = st.Get(ctx, kit.ItemKey(-100, 101))
	assert.False(t, ok, "first cycle entries must be gone")
	e, ok := st.Get(ctx, kit.ItemKey(-100, 111))
	require.True(t, ok)
	assert.Equal(t, second.CycleID, e.CycleID)

	last, ok := d.LastReport()
	require.True(t, ok)
	assert.Equal(t, second.RunID, last.RunID)
	assert.Equal(t, uint64(2), d.CycleID())
}

func TestRunCycleResolveAndSendFailuresCreateNoEntries(t *testing.T) {
	ctx := context.Background()
	st := correlation.NewMemory()
	res := &fakeResolver{fail: map[string]bool{"https://img.test/2.png": true}}
	sender := &fakeSender{failOn: map[int]bool{1: true}}
	d, sl := newDispatcher(t, &fakeFeed{}, res, sender, st, nil)
	d.cfg.BatchSize = 3

	rep := d.RunCycle(ctx)
	assert.Equal(t, 1, rep.ResolveFailed)
	assert.Equal(t, 1, rep.SendFailed)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, st.Len(ctx))
	assert.Len(t, sl.calls, 2)
}

func TestRunCycleAllFail(t *testing.T) {
	ctx := context.Background()
	st := correlation.NewMemory()
	fails := map[int]bool{}
	for i := 1; i <= 10; i++ {
		fails[i] = true
	}
	sender := &fakeSender{}
	d, sl := newDispatcher(t, &fakeFeed{failAt: fails}, &fakeResolver{}, sender, st, nil)

	rep := d.RunCycle(ctx)
	assert.Equal(t, 10, rep.FetchFailed)
	assert.Zero(t, rep.Sent)
	assert.Zero(t, st.Len(ctx))
	assert.Empty(t, sender.sent)
	assert.Len(t, sl.calls, 9)
}

func TestRunCycleStopsWhenPacingInterrupted(t *testing.T) {
	st := correlation.NewMemory()
	d, sl := newDispatcher(t, &fakeFeed{}, &fakeResolver{}, &fakeSender{}, st, nil)
	sl.err, sl.after = context.Canceled, 2

	rep := d.RunCycle(context.Background())
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 2, st.Len(context.Background()))
}

func TestRunCyclePublishesEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32, "broadcast.")
	defer unsub()

	d, _ := newDispatcher(t, &fakeFeed{failAt: map[int]bool{2: true}}, &fakeResolver{}, &fakeSender{}, correlation.NewMemory(), bus)
	d.cfg.BatchSize = 2
	d.RunCycle(context.Background())

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{
		"broadcast.cycle.started",
		"broadcast.item.sent",
		"broadcast.item.failed",
		"broadcast.cycle.finished",
	}, types)
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
