// Package bot routes Telegram updates to the reminder commands and the
// voice/text extraction pipeline.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Command is one slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routable but not published in the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is the per-update context handed to handlers.
type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Handler string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Replier is the part of the adapter the dispatcher talks back through.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Username is the bot's own name; "/cmd@Other" is ignored when set.
	Username string
}

// drainGrace bounds how long queued jobs may still run once DispatchLoop
// is stopping.
const drainGrace = 3 * time.Second

// Dispatcher runs handlers on a bounded worker pool so slow work (voice
// transcription) cannot stall update intake.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]Command
	onVoice  *Command
	onText   *Command

	log     logx.Logger
	out     Replier
	metrics *Metrics
	cfg     DispatcherConfig

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func(context.Context)
}

func NewDispatcher(cfg DispatcherConfig, out Replier, log logx.Logger, metrics *Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		commands: map[string]Command{},
		log:      log,
		out:      out,
		metrics:  metrics,
		cfg:      cfg,
		jobs:     make(chan func(context.Context), cfg.QueueSize),
	}
}

// SetCommands replaces the command registry. onVoice and onText may be nil.
func (d *Dispatcher) SetCommands(cmds []Command, onVoice, onText *Command) {
	reg := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		reg[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, exists := reg[a]; !exists {
					reg[a] = c
				}
			}
		}
	}
	d.mu.Lock()
	d.commands = reg
	d.onVoice = onVoice
	d.onText = onText
	d.mu.Unlock()
}

// MenuCommands lists the visible commands for the platform menu.
func (d *Dispatcher) MenuCommands() []kit.BotCommand {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[string]bool{}
	var out []kit.BotCommand
	for _, c := range d.commands {
		if c.Hidden || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return nil
	}
	return d.sup
}

func (d *Dispatcher) setSupervisor(sup *rtsup.Supervisor, running bool) {
	d.runMu.Lock()
	d.sup = sup
	d.running = running
	d.runMu.Unlock()
}

// tryEnqueue never blocks; it reports false when the queue is full or closed.
func (d *Dispatcher) tryEnqueue(fn func(context.Context)) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or updates is closed, then
// lets the workers finish queued jobs for up to drainGrace. Jobs run on a
// context detached from ctx that is canceled when the grace period ends.
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log.With(logx.String("comp", "bot.dispatcher"))),
		rtsup.WithCancelOnError(false),
	)
	d.setSupervisor(sup, true)
	d.log.Info("dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_cap", cap(d.jobs)))

	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(context.Context) error {
			// runs until jobs is closed so nothing queued is lost
			for job := range d.jobs {
				if jobCtx.Err() != nil {
					continue
				}
				d.runJob(jobCtx, idx, job)
			}
			return nil
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		d.setSupervisor(sup, false)
		close(d.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), drainGrace)
		if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("dispatcher drain timed out", logx.Int("dropped", len(d.jobs)))
		}
		cancel()
		cancelJobs()
		d.setSupervisor(nil, false)
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, worker int, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in dispatcher job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	d.mu.RLock()
	onVoice, onText := d.onVoice, d.onText
	d.mu.RUnlock()

	if up.Kind == kit.UpdateVoice {
		if onVoice != nil && msg.Voice != nil {
			d.enqueue(ctx, up, *onVoice, nil)
		}
		return
	}

	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, mine := commandWord(parts[0], d.cfg.Username)
	if !mine {
		return
	}
	if word == "" {
		if onText != nil {
			d.enqueue(ctx, up, *onText, nil)
		}
		return
	}

	d.mu.RLock()
	cmd, ok := d.commands[word]
	d.mu.RUnlock()
	if !ok {
		d.reply(ctx, msg, msgUnknownCommand)
		return
	}
	d.enqueue(ctx, up, cmd, parts[1:])
}

func (d *Dispatcher) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Handler: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("handler", cmd.Name),
		),
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWMetrics(d.metrics),
		MWTimeout(cmd.Timeout),
	)
	if !d.tryEnqueue(func(c context.Context) { _ = final(c, req) }) {
		d.metrics.dropped()
		d.reply(ctx, msg, msgBusy)
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg *kit.Message, text string) {
	if d.out == nil {
		return
	}
	if _, err := d.out.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, text, nil); err != nil {
		d.log.Debug("reply failed", logx.Err(err))
	}
}
