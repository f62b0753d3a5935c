package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"memebot/internal/admin"
	"memebot/internal/broadcast"
	"memebot/internal/config"
	"memebot/internal/correlation"
	"memebot/internal/eventbus"
	"memebot/internal/feed"
	"memebot/internal/media"
	"memebot/internal/reply"
	"memebot/internal/runtime/supervisor"
	"memebot/internal/scheduler"
	"memebot/internal/storage"
	kit "memebot/internal/transport"
	telegram "memebot/internal/transport/telegram/adapter"
	logx "memebot/pkg/logx"
)

const broadcastJob = "broadcast"

// Transport is the adapter surface the app drives. The Telegram adapter satisfies it.
type Transport interface {
	kit.Adapter
	logx.ChatSender
}

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter    Transport
	entries    correlation.Store
	closeStore func() error
	audit      storage.Store

	dispatcher *broadcast.Dispatcher
	sched      *scheduler.Service
	replies    *reply.Handler
	admin      *admin.Server

	owners  []int64
	updates chan kit.Update

	readyOnce sync.Once
	ready     chan struct{}
	auditOnce sync.Once
	auditStop chan struct{}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: bc.SendTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg, ad)
}

// newApp wires every component around an already validated config. cfgm may be nil (no reload).
func newApp(cfgm *config.ConfigManager, cfg *config.Config, ad Transport) (*App, error) {
	// Bootstrap with the chat sink off, set its target, then apply the real config so Apply
	// never sees an enabled sink without a destination.
	logCfg := cfg.LogxConfig()
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(cfg.Telegram.LogChatID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	fc, err := mapFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	mc, err := mapMediaConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	openCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	entries, closeEntries, err := correlation.Open(openCtx, mapCorrelationConfig(cfg), log.With(logx.String("comp", "correlation")))
	cancel()
	if err != nil {
		return nil, err
	}

	var audit storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = closeEntries()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = closeEntries()
			return nil, err
		}
		audit = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	feedClient := feed.New(fc, nil, log.With(logx.String("comp", "feed")))
	resolver := media.New(mc, nil, log.With(logx.String("comp", "media")))

	a := &App{
		cfgm:       cfgm,
		cfg:        cfg,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		adapter:    ad,
		entries:    entries,
		closeStore: closeEntries,
		audit:      audit,
		dispatcher: broadcast.New(bc, feedClient, resolver, ad, entries, log.With(logx.String("comp", "broadcast")), bus),
		sched:      scheduler.New(scheduler.Config{Timezone: cfg.Broadcast.Timezone}, log.With(logx.String("comp", "scheduler")), bus),
		replies:    reply.New(mapReplyConfig(cfg, bc), entries, resolver, ad, log.With(logx.String("comp", "reply")), bus),
		owners:     append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		updates:    make(chan kit.Update, 256),
		ready:      make(chan struct{}),
		auditStop:  make(chan struct{}),
	}
	if ac, ok := mapAdminConfig(cfg); ok {
		a.admin = admin.New(ac, func(ctx context.Context) any { return a.Status(ctx) }, audit, log.With(logx.String("comp", "admin")))
	}
	return a, nil
}

// Ready is closed once the transport is up and the broadcast schedule is armed.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	if a.admin != nil {
		if err := a.admin.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("admin: %w", err)
		}
	}

	a.sup.Go0("broadcast.arm", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.adapter.Ready():
		}
		a.armBroadcast()
	})

	a.sup.Go("updates.dispatch", a.dispatchLoop)

	if a.audit != nil {
		auditEvents, unsubAudit := a.bus.Subscribe(64, auditTopics...)
		a.sup.Go0("audit.record", func(context.Context) {
			defer unsubAudit()
			a.recordAudit(auditEvents, a.auditStop)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.sup.Go0("config.reload", a.reloadLoop)
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

// armBroadcast registers the cycle schedule once the transport is ready.
func (a *App) armBroadcast() {
	if err := a.sched.AddCron(broadcastJob, a.cfg.Broadcast.Schedule, a.runCycle); err != nil {
		a.log.Error("broadcast schedule rejected", logx.String("schedule", a.cfg.Broadcast.Schedule), logx.Err(err))
		return
	}
	loc := a.sched.Location()
	fields := []logx.Field{
		logx.String("now", time.Now().In(loc).Format("2006-01-02 15:04:05 MST")),
		logx.String("tz", loc.String()),
		logx.Int64("target_chat", a.cfg.Broadcast.TargetChat),
		logx.Int("batch_size", a.cfg.Broadcast.BatchSize),
	}
	if next, ok := a.sched.Next(broadcastJob); ok {
		fields = append(fields, logx.String("next", next.Format("2006-01-02 15:04:05 MST")))
	}
	a.log.Info("bot ready", fields...)
	a.readyOnce.Do(func() { close(a.ready) })
}

// runCycle is the scheduled job. Item failures live in the report, not in the job error.
func (a *App) runCycle(ctx context.Context) error {
	rep := a.dispatcher.RunCycle(ctx)
	if rep.Interrupted {
		return fmt.Errorf("cycle %d interrupted: %w", rep.CycleID, context.Cause(ctx))
	}
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) error {
	a.log.Info("update dispatcher started", logx.Int("queue_cap", cap(a.updates)))
	for {
		select {
		case <-ctx.Done():
			a.log.Info("update dispatcher stopped")
			return nil
		case up, ok := <-a.updates:
			if !ok {
				a.log.Info("update dispatcher stopped (updates channel closed)")
				return nil
			}
			a.handleUpdate(ctx, up)
		}
	}
}

// handleUpdate processes one inbound event to completion before the next one is read.
func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("panic handling update", logx.Chat(up.Message.ChatID), logx.Any("panic", r))
		}
	}()
	if a.handleCommand(ctx, up.Message) {
		return
	}
	a.replies.Handle(ctx, reply.EventFromMessage(up.Message))
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies logging and reports everything else as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.SetChatTarget(newCfg.Telegram.LogChatID)
	a.logs.Apply(newCfg.LogxConfig())

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops and in-flight cycles unwind immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	step("admin", time.Second, func(c context.Context) error {
		if a.admin != nil {
			return a.admin.Stop(c)
		}
		return nil
	})
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// The audit recorder outlives the scheduler so the final cycle report is still written.
	step("audit", time.Second, func(context.Context) error {
		a.auditOnce.Do(func() { close(a.auditStop) })
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("correlation", time.Second, func(context.Context) error { return a.closeStore() })
	step("storage", time.Second, func(context.Context) error {
		if a.audit != nil {
			return a.audit.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
