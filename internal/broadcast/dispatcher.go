// Package broadcast runs one batch cycle: reset correlations, then fetch, resolve and send N
// self-expiring items into the target conversation, recording each successful send.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"memebot/internal/correlation"
	"memebot/internal/eventbus"
	"memebot/internal/feed"
	kit "memebot/internal/transport"
	logx "memebot/pkg/logx"
)

// Fetcher yields one content item per call.
type Fetcher interface {
	FetchOne(ctx context.Context) (feed.Item, error)
}

// Resolver turns a content URL into sendable media.
type Resolver interface {
	Resolve(ctx context.Context, url string) (kit.Media, error)
}

// MediaSender delivers media to a conversation and reports the sent item.
type MediaSender interface {
	SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, opt kit.MediaOptions) (kit.MessageRef, error)
}

type Config struct {
	Target    kit.ChatTarget
	BatchSize int
	SendDelay time.Duration

	FetchTimeout   time.Duration
	ResolveTimeout time.Duration
	SendTimeout    time.Duration
}

type Dispatcher struct {
	cfg    Config
	feed   Fetcher
	media  Resolver
	sender MediaSender
	store  correlation.Store
	log    logx.Logger
	bus    eventbus.Bus

	cycle atomic.Uint64
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu   sync.Mutex
	last Report
}

func New(cfg Config, f Fetcher, r Resolver, sender MediaSender, store correlation.Store, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Dispatcher{
		cfg:    cfg,
		feed:   f,
		media:  r,
		sender: sender,
		store:  store,
		log:    log,
		bus:    bus,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// CycleID is the id of the most recently started cycle (0 before the first one).
func (d *Dispatcher) CycleID() uint64 { return d.cycle.Load() }

// LastReport returns the report of the most recently finished cycle.
func (d *Dispatcher) LastReport() (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last.CycleID != 0
}

// RunCycle executes one broadcast cycle. Item failures are recorded in the report and never
// abort the batch; the only early exit is ctx cancellation during a pacing pause.
func (d *Dispatcher) RunCycle(ctx context.Context) Report {
	rep := Report{
		CycleID: d.cycle.Add(1),
		RunID:   uuid.NewString(),
		Started: d.now(),
	}
	log := d.log.With(logx.Cycle(rep.CycleID), logx.Run(rep.RunID))

	d.store.ClearAll(ctx)
	log.Info("broadcast cycle started", logx.Int("batch", d.cfg.BatchSize), logx.Int64("target", d.cfg.Target.ChatID))
	d.bus.Publish(eventbus.Event{Type: "broadcast.cycle.started", Data: rep})

	for i := 1; i <= d.cfg.BatchSize; i++ {
		rep.Attempted++
		res := d.runItem(ctx, rep.CycleID, i)
		rep.record(res)
		if res.Err != nil {
			res.Error = res.Err.Error()
			log.Warn("broadcast item failed", logx.Int("item", i), logx.String("stage", string(res.Stage)), logx.Ref(res.SourceRef), logx.Err(res.Err))
			d.bus.Publish(eventbus.Event{Type: "broadcast.item.failed", Data: res})
		} else {
			log.Debug("broadcast item sent", logx.Int("item", i), logx.Item(res.SentItemID), logx.Ref(res.SourceRef))
			d.bus.Publish(eventbus.Event{Type: "broadcast.item.sent", Data: res})
		}

		if i == d.cfg.BatchSize || d.cfg.SendDelay <= 0 {
			continue
		}
		// ctx is the scheduler run context, cancelled only by shutdown.
		if err := d.sleep(ctx, d.cfg.SendDelay); err != nil {
			rep.Interrupted = true
			log.Warn("broadcast cycle interrupted", logx.Int("item", i), logx.Err(err))
			break
		}
	}

	rep.Took = d.now().Sub(rep.Started)
	d.mu.Lock()
	d.last = rep
	d.mu.Unlock()

	log.Info("broadcast cycle finished",
		logx.Int("attempted", rep.Attempted),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rep.Took),
	)
	d.bus.Publish(eventbus.Event{Type: "broadcast.cycle.finished", Data: rep})
	return rep
}

func (d *Dispatcher) runItem(ctx context.Context, cycleID uint64, idx int) ItemResult {
	res := ItemResult{CycleID: cycleID, Index: idx}

	item, err := withTimeout(ctx, d.cfg.FetchTimeout, func(ctx context.Context) (feed.Item, error) {
		return d.feed.FetchOne(ctx)
	})
	if err != nil {
		res.Stage, res.Err = StageFetch, err
		return res
	}
	res.SourceRef = item.URL

	m, err := withTimeout(ctx, d.cfg.ResolveTimeout, func(ctx context.Context) (kit.Media, error) {
		return d.media.Resolve(ctx, item.URL)
	})
	if err != nil {
		res.Stage, res.Err = StageResolve, err
		return res
	}

	ref, err := withTimeout(ctx, d.cfg.SendTimeout, func(ctx context.Context) (kit.MessageRef, error) {
		return d.sender.SendMedia(ctx, d.cfg.Target, m, kit.MediaOptions{SelfExpiring: true})
	})
	if err != nil {
		res.Stage, res.Err = StageSend, err
		return res
	}

	res.SentItemID = ref.Key()
	d.store.Set(ctx, correlation.Entry{SentItemID: res.SentItemID, SourceRef: item.URL, CycleID: cycleID})
	return res
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
