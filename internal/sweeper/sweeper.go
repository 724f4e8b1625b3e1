// Package sweeper periodically delivers due reminders and removes them from
// the store once delivery succeeded.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// deleteTimeout bounds removing a delivered reminder. The delete runs even
// when the sweep context is canceled so a delivered reminder is not sent
// twice.
const deleteTimeout = 5 * time.Second

// ErrDeliveryFailed wraps Notifier errors. Failed reminders stay pending.
var ErrDeliveryFailed = errors.New("reminder delivery failed")

// Notifier delivers one reminder to its owner.
type Notifier interface {
	Deliver(ctx context.Context, ownerID int64, text string, dueAt time.Time) error
}

type Config struct {
	Interval time.Duration
	// RetryMaxDelay caps the per-reminder backoff after failed deliveries.
	RetryMaxDelay time.Duration
	// StorageAlertAfter is the number of consecutive failed store reads
	// after which the store is reported as degraded.
	StorageAlertAfter int
	SweepOnStart      bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Interval < time.Second {
		c.Interval = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Minute
	}
	if c.StorageAlertAfter <= 0 {
		c.StorageAlertAfter = 5
	}
	return c
}

// Result summarizes one sweep.
type Result struct {
	Due       int
	Delivered int
	Failed    int
	BackedOff int
}

type failState struct {
	n    int // consecutive failures
	skip int // sweeps left to sit out
}

type Sweeper struct {
	store    reminder.Store
	notifier Notifier
	log      logx.Logger
	metrics  *Metrics
	bus      eventbus.Bus
	now      func() time.Time

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	entry  cron.EntryID
	job    cron.Job
	runCtx context.Context
	cancel context.CancelFunc
	// sweepCtx is detached from the Start context: canceling that only stops
	// new sweeps, a running one is bounded by Stop's ctx alone.
	sweepCtx    context.Context
	sweepCancel context.CancelFunc
	startup     sync.WaitGroup

	// guarded by sweepMu; only one sweep runs at a time
	sweepMu       sync.Mutex
	failures      map[int64]failState
	storeFailures int
	degraded      bool
}

type Option func(*Sweeper)

func WithLogger(log logx.Logger) Option     { return func(s *Sweeper) { s.log = log } }
func WithMetrics(m *Metrics) Option         { return func(s *Sweeper) { s.metrics = m } }
func WithBus(bus eventbus.Bus) Option       { return func(s *Sweeper) { s.bus = bus } }
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

func New(store reminder.Store, notifier Notifier, cfg Config, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		failures: map[int64]failState{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Start schedules sweeps every Interval. Start is idempotent.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.sweepCtx, s.sweepCancel = context.WithCancel(context.WithoutCancel(ctx))

	cl := cronLogger{log: s.log}
	s.c = cron.New(cron.WithLogger(cl))
	// the same wrapped job serves the schedule and the start-up sweep, so
	// SkipIfStillRunning covers both
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))
	s.entry = s.c.Schedule(cron.Every(s.cfg.Interval), s.job)
	s.c.Start()
	if s.cfg.SweepOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.job.Run()
		}()
	}
	s.log.Info("sweeper started", logx.Duration("interval", s.cfg.Interval))
}

// Apply updates the config. A changed interval reschedules the sweep.
func (s *Sweeper) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.Interval == cfg.Interval {
		return
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(cron.Every(cfg.Interval), s.job)
	s.log.Info("sweep interval changed", logx.Duration("from", old.Interval), logx.Duration("to", cfg.Interval))
}

// Stop stops scheduling and waits for a running sweep, the start-up one
// included, to finish. When ctx ends first the running sweep is canceled.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel, sweepCancel := s.c, s.cancel, s.sweepCancel
	s.c, s.cancel, s.sweepCancel = nil, nil, nil
	s.runCtx, s.sweepCtx = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	defer sweepCancel()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.startup.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	run, ctx := s.runCtx, s.sweepCtx
	s.mu.Unlock()
	if run == nil || run.Err() != nil {
		return
	}
	_, _ = s.Sweep(ctx)
}

// Sweep runs one pass: every due reminder is attempted once, delivered
// ones are deleted and failed ones stay pending. The error is non-nil only
// when the store could not be read.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	began := time.Now()
	var res Result
	due, err := s.store.SelectDue(ctx, s.now())
	if err != nil {
		s.storeFailed(cfg, err)
		s.metrics.observeSweep(time.Since(began), 0)
		return res, err
	}
	s.storeRecovered()
	res.Due = len(due)

	// forget backoff state of reminders that are gone
	seen := make(map[int64]struct{}, len(due))
	for _, r := range due {
		seen[r.ID] = struct{}{}
	}
	for id := range s.failures {
		if _, ok := seen[id]; !ok {
			delete(s.failures, id)
		}
	}

	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		if s.backingOff(r.ID) {
			res.BackedOff++
			s.metrics.delivery("backoff")
			continue
		}
		log := s.log.With(logx.Int64("reminder_id", r.ID), logx.Int64("owner_id", r.OwnerID))

		if err := s.notifier.Deliver(ctx, r.OwnerID, r.Text, r.DueAt); err != nil {
			res.Failed++
			s.metrics.delivery("failed")
			n := s.recordFailure(cfg, r.ID)
			log.Warn("delivery failed, keeping reminder", logx.Int("attempts", n),
				logx.Err(fmt.Errorf("%w: %w", ErrDeliveryFailed, err)))
			continue
		}
		res.Delivered++
		s.metrics.delivery("delivered")
		delete(s.failures, r.ID)

		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
		err := s.store.DeleteByID(delCtx, r.ID)
		cancel()
		if err != nil {
			// next sweep delivers it again
			s.metrics.storageError()
			log.Error("delete after delivery failed", logx.Err(err))
			continue
		}
		log.Debug("reminder delivered")
	}

	s.metrics.observeSweep(time.Since(began), len(due))
	if res.Due > 0 {
		s.log.Info("sweep done",
			logx.Int("due", res.Due), logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed), logx.Int("backoff", res.BackedOff))
	}
	return res, nil
}

// backingOff reports whether id should sit out this sweep. After n
// consecutive failures a reminder is attempted again every 2^(n-1) sweeps,
// so the gap is Interval*2^(n-1) capped at RetryMaxDelay. Counting sweeps
// instead of comparing clocks keeps the schedule immune to tick jitter.
func (s *Sweeper) backingOff(id int64) bool {
	st, ok := s.failures[id]
	if !ok || st.skip == 0 {
		return false
	}
	st.skip--
	s.failures[id] = st
	return true
}

func (s *Sweeper) recordFailure(cfg Config, id int64) int {
	st := s.failures[id]
	st.n++
	st.skip = skipAfter(cfg, st.n)
	s.failures[id] = st
	return st.n
}

func skipAfter(cfg Config, n int) int {
	maxSkip := int(cfg.RetryMaxDelay/cfg.Interval) - 1
	skip := 0
	for i := 1; i < n && skip < maxSkip; i++ {
		skip = skip*2 + 1
	}
	return max(min(skip, maxSkip), 0)
}

func (s *Sweeper) storeFailed(cfg Config, err error) {
	s.storeFailures++
	s.metrics.storageError()
	s.log.Warn("select due reminders failed", logx.Int("consecutive", s.storeFailures), logx.Err(err))
	if s.storeFailures < cfg.StorageAlertAfter || s.degraded {
		return
	}
	s.degraded = true
	s.metrics.setDegraded(true)
	s.log.Error("reminder store unreachable", logx.Int("consecutive", s.storeFailures), logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStorageDegraded, Data: err.Error()})
	}
}

func (s *Sweeper) storeRecovered() {
	s.storeFailures = 0
	if !s.degraded {
		return
	}
	s.degraded = false
	s.metrics.setDegraded(false)
	s.log.Info("reminder store reachable again")
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeStorageRecovered})
	}
}

// Degraded reports whether the store is currently considered unreachable.
func (s *Sweeper) Degraded() bool {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.degraded
}
