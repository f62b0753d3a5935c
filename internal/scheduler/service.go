package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"memebot/internal/eventbus"
	logx "memebot/pkg/logx"
)

var (
	ErrOverlapSkip = errors.New("schedule tick skipped: previous run still active")
	ErrNotFound    = errors.New("schedule not found")
	ErrNotRunning  = errors.New("scheduler not running")
)

type Config struct {
	Timezone string
}

// Job is one scheduled unit of work. Errors are logged; they never stop the schedule.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	job     Job
	state   *runState
	entryID cron.EntryID
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	loc  *time.Location
	c    *cron.Cron
	defs map[string]*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	now       func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{cfg: cfg, log: log, bus: bus, defs: map[string]*scheduleDef{}, now: time.Now}
	s.loc = s.loadLocation()
	return s
}

func (s *Service) loadLocation() *time.Location {
	loc, err := LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", s.cfg.Timezone), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone ticks are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// AddCron registers (or replaces) the job called name. It can be called before or after Start.
func (s *Service) AddCron(name, spec string, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	expr, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[name]; ok && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
	}
	d := &scheduleDef{name: name, spec: expr, job: job, state: &runState{}}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", expr), logx.Err(err))
			return err
		}
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", expr), logx.String("tz", s.loc.String())}
	if next := s.previewNextRunsLocked(expr, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		_ = s.fire(d, "tick")
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// Start begins ticking. Jobs receive a context derived from ctx that is cancelled by Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops ticking, cancels in-flight runs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("stop timed out with runs still active", logx.Duration("took", time.Since(start)))
	}
}

// RunNow triggers name immediately through the same overlap guard as a tick.
// The job runs in the background; ErrOverlapSkip is returned when a run is already active.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if !d.state.tryAcquire(s.now()) {
		s.mu.Unlock()
		s.reportSkip(d, "manual")
		return ErrOverlapSkip
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.run(d, "manual")
	}()
	return nil
}

func (s *Service) fire(d *scheduleDef, trigger string) error {
	if !d.state.tryAcquire(s.now()) {
		s.reportSkip(d, trigger)
		return ErrOverlapSkip
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.run(d, trigger)
	return nil
}

// run executes d with the run slot already held.
func (s *Service) run(d *scheduleDef, trigger string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	start := s.now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = d.job(ctx)
	}()
	took := s.now().Sub(start)
	d.state.release(err)

	s.bus.Publish(eventbus.Event{Type: "scheduler.finished", Data: RunEvent{Name: d.name, Trigger: trigger, Started: start, Took: took, Error: errString(err)}})
	if err != nil {
		s.log.Warn("scheduled run failed", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled run finished", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", took))
}

func (s *Service) reportSkip(d *scheduleDef, trigger string) {
	d.state.skipped()
	s.log.Info(ErrOverlapSkip.Error(), logx.String("name", d.name), logx.String("trigger", trigger))
	s.bus.Publish(eventbus.Event{Type: "scheduler.skipped", Data: RunEvent{Name: d.name, Trigger: trigger, Started: s.now(), Error: "overlap_skip"}})
}

// Next reports the next tick of name, in the scheduler timezone.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return time.Time{}, false
	}
	return s.nextLocked(d), true
}

func (s *Service) nextLocked(d *scheduleDef) time.Time {
	if s.c != nil && d.entryID != 0 {
		if e := s.c.Entry(d.entryID); !e.Next.IsZero() {
			return e.Next.In(s.loc)
		}
	}
	ticks, err := NextTicks(d.spec, s.loc, s.now(), 1)
	if err != nil || len(ticks) == 0 {
		return time.Time{}
	}
	return ticks[0]
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times
// for the given cron spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	ticks, err := NextTicks(spec, s.loc, s.now(), n)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(ticks))
	for _, t := range ticks {
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
