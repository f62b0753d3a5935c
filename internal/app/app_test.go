package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memebot/internal/broadcast"
	"memebot/internal/config"
	"memebot/internal/eventbus"
	"memebot/internal/reply"
	"memebot/internal/scheduler"
	"memebot/internal/storage"
	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type sentMedia struct {
	to   kit.ChatTarget
	ref  kit.MessageRef
	opt  kit.MediaOptions
	kind kit.MediaKind
}

type sentText struct {
	to   kit.MessageRef
	text string
}

type fakeTransport struct {
	mu      sync.Mutex
	once    sync.Once
	ready   chan struct{}
	out     chan<- kit.Update
	nextID  int
	media   []sentMedia
	replies []sentText
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ready: make(chan struct{}), nextID: 100}
}

func (f *fakeTransport) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	f.once.Do(func() { close(f.ready) })
	return nil
}

func (f *fakeTransport) Stop(context.Context) error { return nil }
func (f *fakeTransport) Ready() <-chan struct{}     { return f.ready }

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) ReplyText(_ context.Context, to kit.MessageRef, text string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.replies = append(f.replies, sentText{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, opt kit.MediaOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.media = append(f.media, sentMedia{to: to, ref: ref, opt: opt, kind: m.Kind})
	return ref, nil
}

func (f *fakeTransport) SendLog(context.Context, int64, string) error { return nil }

func (f *fakeTransport) push(t *testing.T, m *kit.Message) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	require.NotNil(t, out)
	out <- kit.Update{Kind: kit.UpdateMessage, Message: m}
}

func (f *fakeTransport) mediaSent() []sentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMedia(nil), f.media...)
}

func (f *fakeTransport) lastReply() (sentText, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return sentText{}, false
	}
	return f.replies[len(f.replies)-1], true
}

func contentServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/gimme", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"` + srv.URL + `/i/a.png","title":"a","subreddit":"memes"}`))
	})
	mux.HandleFunc("/i/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, feedURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Telegram.Token = "test-token"
	cfg.Telegram.OwnerUserIDs = []int64{42}
	cfg.Logging.Level = "error"
	cfg.Broadcast.TargetChat = -100
	cfg.Broadcast.BatchSize = 2
	cfg.Broadcast.SendDelay = "0s"
	cfg.Feed.Endpoint = feedURL
	cfg.ApplyDefaults()
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for channel")
	}
}

func TestCommandWord(t *testing.T) {
	cases := map[string]string{
		"/blast":             "blast",
		"  /Status@memebot ": "status",
		"/blast now":         "blast",
	}
	for in, want := range cases {
		got, ok := commandWord(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "send pls", "/", "/@bot"} {
		_, ok := commandWord(in)
		assert.False(t, ok, in)
	}
}

func TestOwnerCommandsAndGroupID(t *testing.T) {
	ft := newFakeTransport()
	a, err := newApp(nil, testConfig(t, "http://127.0.0.1:1/gimme"), ft)
	require.NoError(t, err)
	ctx := context.Background()

	a.handleUpdate(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: -100, FromID: 7, IsGroup: true, Text: "/status"}})
	r, ok := ft.lastReply()
	require.True(t, ok)
	assert.Equal(t, "unauthorized", r.text)
	assert.Equal(t, 1, r.to.MessageID)

	a.handleUpdate(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 2, ChatID: 42, FromID: 42, Text: "/status@memebot"}})
	r, _ = ft.lastReply()
	assert.Contains(t, r.text, "cycle: 0")
	assert.Contains(t, r.text, "live entries: 0")
	assert.Contains(t, r.text, "last cycle: none yet")

	a.handleUpdate(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 3, ChatID: 42, FromID: 42, Text: "/blast"}})
	r, _ = ft.lastReply()
	assert.Equal(t, "The broadcast schedule is not armed yet.", r.text)

	a.handleUpdate(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 4, ChatID: -100, FromID: 7, IsGroup: true, Text: "!GroupID"}})
	r, _ = ft.lastReply()
	assert.Equal(t, "This group's ID is: -100", r.text)
	assert.Equal(t, 4, r.to.MessageID)

	// Command form reaches the group-id rule, not the owner command gate.
	a.handleUpdate(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 5, ChatID: -100, FromID: 7, IsGroup: true, Text: "/groupid@memebot"}})
	r, _ = ft.lastReply()
	assert.Equal(t, "This group's ID is: -100", r.text)
	assert.Equal(t, 5, r.to.MessageID)
}

func TestBlastCycleThenFulfillment(t *testing.T) {
	srv := contentServer(t)
	ft := newFakeTransport()
	a, err := newApp(nil, testConfig(t, srv.URL+"/gimme"), ft)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		assert.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()
	waitClosed(t, a.Ready())
	_, armed := a.sched.Next(broadcastJob)
	require.True(t, armed)

	ft.push(t, &kit.Message{ID: 1, ChatID: 42, FromID: 42, Text: "/blast"})
	require.Eventually(t, func() bool {
		_, ok := a.dispatcher.LastReport()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	rep, _ := a.dispatcher.LastReport()
	assert.Equal(t, uint64(1), rep.CycleID)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 2, a.entries.Len(ctx))

	sent := ft.mediaSent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.True(t, m.opt.SelfExpiring)
		assert.Equal(t, int64(-100), m.to.ChatID)
		assert.Equal(t, kit.MediaPhoto, m.kind)
	}

	quoted := sent[0].ref.Key()
	ft.push(t, &kit.Message{ID: 500, ChatID: -100, FromID: 7, IsGroup: true, Text: "Send Pls", QuotedID: quoted})
	require.Eventually(t, func() bool { return len(ft.mediaSent()) == 3 }, 5*time.Second, 20*time.Millisecond)

	got := ft.mediaSent()[2]
	assert.False(t, got.opt.SelfExpiring)
	assert.Equal(t, reply.DefaultCaption, got.opt.Caption)
	assert.Equal(t, int64(-100), got.to.ChatID)
	require.Eventually(t, func() bool { return a.entries.Len(ctx) == 1 }, 2*time.Second, 10*time.Millisecond)
	_, still := a.entries.Get(ctx, quoted)
	assert.False(t, still)

	st := a.Status(ctx)
	assert.Equal(t, uint64(1), st.CycleID)
	require.NotNil(t, st.LastReport)
	assert.Contains(t, st.Supervisors, "app")
	assert.True(t, strings.Contains(formatStatus(st), "last cycle: 2/2 sent"))
}

func TestAuditRecorder(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.db")}, logx.Nop())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	a := &App{bus: eventbus.New(), audit: st, log: logx.Nop()}
	events, unsub := a.bus.Subscribe(64, auditTopics...)
	defer unsub()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		a.recordAudit(events, stop)
		close(done)
	}()

	a.bus.Publish(eventbus.Event{Type: "broadcast.cycle.finished", Data: broadcast.Report{CycleID: 3, RunID: "r", Attempted: 10, Sent: 8, FetchFailed: 2, Took: 31 * time.Second}})
	a.bus.Publish(eventbus.Event{Type: "reply.fulfilled", Data: reply.FulfillmentEvent{ChatID: -100, FromID: 7, SentItemID: "-100:5", CycleID: 3}})
	a.bus.Publish(eventbus.Event{Type: "scheduler.skipped", Data: scheduler.RunEvent{Name: broadcastJob, Trigger: "tick", Error: "overlap_skip"}})
	a.bus.Publish(eventbus.Event{Type: "scheduler.finished", Data: scheduler.RunEvent{Name: broadcastJob}})
	close(stop)
	waitClosed(t, done)

	got, err := st.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, storage.KindTickSkipped, got[0].Kind)
	assert.Equal(t, storage.KindFulfilled, got[1].Kind)
	assert.Equal(t, "-100:5", got[1].SentItemID)
	assert.Equal(t, int64(7), got[1].ActorID)
	assert.Equal(t, storage.KindCycle, got[2].Kind)
	assert.Equal(t, 8, got[2].OK)
	assert.Equal(t, 2, got[2].Fail)
	assert.Equal(t, int64(31000), got[2].TookMS)
	assert.Contains(t, got[2].MetaJSON, `"fetch_failed":2`)
}

func TestAuditEntryForIgnoresMismatchedTypes(t *testing.T) {
	_, ok := auditEntryFor(eventbus.Event{Type: "broadcast.cycle.started", Data: broadcast.Report{CycleID: 1}})
	assert.False(t, ok)
	_, ok = auditEntryFor(eventbus.Event{Type: "reply.miss", Data: reply.FulfillmentEvent{}})
	assert.False(t, ok)
	e, ok := auditEntryFor(eventbus.Event{Type: "reply.failed", Data: reply.FulfillmentEvent{Error: "boom"}})
	require.True(t, ok)
	assert.Equal(t, storage.KindFulfillmentFailed, e.Kind)
	assert.Equal(t, "boom", e.Error)
}
