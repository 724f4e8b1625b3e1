package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNoSender  = errors.New("notifier has no sender")
	ErrQueueFull = errors.New("notifier secondary queue full")
)

const historySize = 200

type copyJob struct {
	ownerID int64
	to      string
	body    string
}

// Service implements sweeper.Notifier. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	sender    Sender
	secondary Channel
	bus       eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	queue    chan copyJob
	sup      *rtsup.Supervisor
	copyWG   sync.WaitGroup
	stopping bool

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

// WithSecondary enables a secondary channel (WhatsApp) for mapped owners.
func WithSecondary(ch Channel) Option { return func(s *Service) { s.secondary = ch } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, sender Sender, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	wa := &cfg.WhatsApp
	if wa.QueueSize <= 0 {
		wa.QueueSize = 128
	}
	if wa.RetryMax < 0 {
		wa.RetryMax = 0
	}
	if wa.RetryBase <= 0 {
		wa.RetryBase = time.Second
	}
	if wa.RetryMaxDelay <= 0 {
		wa.RetryMaxDelay = 30 * time.Second
	}
	// copy so later edits of the caller's map cannot race with readers
	owners := make(map[int64]string, len(wa.Owners))
	for k, v := range wa.Owners {
		owners[k] = v
	}
	wa.Owners = owners

	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Start launches the secondary channel worker. It is a no-op without a
// secondary channel.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.secondary == nil || s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan copyJob, s.cfg.WhatsApp.QueueSize)
	s.stopping = false
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	q, sup := s.queue, s.sup
	s.mu.Unlock()

	sup.GoRestart(s.secondary.Name()+".worker", func(c context.Context) error {
		s.copyLoop(c, q)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))
}

// Stop closes the secondary queue and waits for it to drain until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	s.copyWG.Wait()
	close(q)
	err := sup.Wait(ctx)
	if err != nil {
		sup.Cancel()
	}

	s.mu.Lock()
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Supervisor exposes the worker supervisor for health output (nil when idle).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Deliver sends one reminder to its owner over Telegram and queues copies
// for secondary channels. Only the Telegram result is returned.
func (s *Service) Deliver(ctx context.Context, ownerID int64, text string, dueAt time.Time) error {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return ErrNoSender
	}

	body := FormatReminder(text, dueAt, cfg.Location)
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	_, err := sender.SendText(callCtx, kit.ChatTarget{ChatID: ownerID}, body, &kit.SendOptions{DisablePreview: true})
	cancel()
	if err != nil {
		s.publish(eventbus.TypeDeliveryFailed, eventbus.ReminderEvent{OwnerID: ownerID, DueAt: dueAt, Channel: "telegram", Err: err.Error()})
		return fmt.Errorf("telegram send: %w", err)
	}
	s.appendHistory(ownerID, "telegram", body)
	s.publish(eventbus.TypeReminderDelivered, eventbus.ReminderEvent{OwnerID: ownerID, DueAt: dueAt, Channel: "telegram"})

	if to, ok := cfg.WhatsApp.Owners[ownerID]; ok && cfg.WhatsApp.Enabled {
		if err := s.enqueueCopy(copyJob{ownerID: ownerID, to: to, body: body}); err != nil {
			s.log.Warn("secondary copy not queued", logx.Int64("owner_id", ownerID), logx.Err(err))
		}
	}
	return nil
}

func (s *Service) enqueueCopy(j copyJob) error {
	s.mu.Lock()
	q := s.queue
	if q == nil || s.stopping {
		s.mu.Unlock()
		return errors.New("secondary channel not running")
	}
	s.copyWG.Add(1)
	s.mu.Unlock()
	defer s.copyWG.Done()

	select {
	case q <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) copyLoop(ctx context.Context, q <-chan copyJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendCopy(ctx, j)
		}
	}
}

func (s *Service) sendCopy(ctx context.Context, j copyJob) {
	s.mu.Lock()
	cfg, ch := s.cfg, s.secondary
	s.mu.Unlock()

	attempts := 1 + cfg.WhatsApp.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		lastErr = ch.Send(callCtx, j.to, j.body)
		cancel()
		if lastErr == nil {
			s.appendHistory(j.ownerID, ch.Name(), j.body)
			return
		}
		s.log.Debug("secondary send failed", logx.String("channel", ch.Name()), logx.Int("attempt", attempt), logx.Err(lastErr))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg.WhatsApp, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("secondary delivery failed", logx.String("channel", ch.Name()), logx.Int64("owner_id", j.ownerID), logx.Err(lastErr))
	s.publish(eventbus.TypeDeliveryFailed, eventbus.ReminderEvent{OwnerID: j.ownerID, Channel: ch.Name(), Err: lastErr.Error()})
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg WhatsAppConfig, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func (s *Service) publish(typ string, ev eventbus.ReminderEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) appendHistory(ownerID int64, channel, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), OwnerID: ownerID, Channel: channel, Text: text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// History returns recent successful sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
