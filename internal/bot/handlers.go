package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"remindbot/internal/eventbus"
	"remindbot/internal/extract"
	"remindbot/internal/reminder"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Adapter is the transport surface the handlers need.
type Adapter interface {
	Replier
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

type Config struct {
	// Location renders and resolves dates (time.Local when nil).
	Location *time.Location
	// ExtractText runs the extractor on plain text messages too.
	ExtractText      bool
	MaxVoiceDuration time.Duration
	CommandTimeout   time.Duration
	VoiceTimeout     time.Duration
	VoiceDedupSize   int
}

type Deps struct {
	Adapter     Adapter
	Store       reminder.Store
	Extractor   *extract.Extractor
	Resolver    extract.DateResolver
	Transcriber transcribe.Transcriber // nil disables voice
	Bus         eventbus.Bus
	Metrics     *Metrics
	Log         logx.Logger
	Clock       func() time.Time
}

// Bot owns the reminder handlers.
type Bot struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	// recently handled voice messages; a redelivered update must not create
	// the same reminders twice
	seenVoice *lru.Cache[string, struct{}]
}

func New(cfg Config, deps Deps) (*Bot, error) {
	if deps.Adapter == nil || deps.Store == nil || deps.Extractor == nil || deps.Resolver == nil {
		return nil, errors.New("bot: adapter, store, extractor and resolver are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	if cfg.VoiceTimeout <= 0 {
		cfg.VoiceTimeout = 2 * time.Minute
	}
	if cfg.VoiceDedupSize <= 0 {
		cfg.VoiceDedupSize = 1024
	}
	seen, err := lru.New[string, struct{}](cfg.VoiceDedupSize)
	if err != nil {
		return nil, err
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Bot{cfg: cfg, deps: deps, log: log, now: now, seenVoice: seen}, nil
}

// Register installs the commands and message handlers on d.
func (b *Bot) Register(d *Dispatcher) {
	t := b.cfg.CommandTimeout
	cmds := []Command{
		{Name: "start", Description: "introduction", Timeout: t, Handle: b.handleStart},
		{Name: "help", Description: "commands and examples", Timeout: t, Handle: b.handleHelp},
		{Name: "add_reminder", Aliases: []string{"add"}, Description: "add a reminder: <date> <message>", Usage: "/add_reminder <date> <message>", Timeout: t, Handle: b.handleAdd},
		{Name: "remove_reminder", Aliases: []string{"remove", "rm"}, Description: "remove a reminder by id", Usage: "/remove_reminder <id>", Timeout: t, Handle: b.handleRemove},
		{Name: "reminders", Aliases: []string{"list"}, Description: "list your reminders", Timeout: t, Handle: b.handleList},
	}
	var onVoice, onText *Command
	if b.deps.Transcriber != nil {
		onVoice = &Command{Name: "voice", Timeout: b.cfg.VoiceTimeout, Handle: b.handleVoice}
	} else {
		onVoice = &Command{Name: "voice", Timeout: t, Handle: b.replyHandler(msgVoiceDisabled)}
	}
	if b.cfg.ExtractText {
		onText = &Command{Name: "text", Timeout: t, Handle: b.handleText}
	}
	d.SetCommands(cmds, onVoice, onText)
}

func (b *Bot) reply(ctx context.Context, req *Request, text string) (kit.MessageRef, error) {
	return b.deps.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
}

func (b *Bot) replyHandler(text string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		_, err := b.reply(ctx, req, text)
		return err
	}
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	_, err := b.reply(ctx, req, msgStart)
	return err
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	_, err := b.reply(ctx, req, msgHelp)
	return err
}

func (b *Bot) handleAdd(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		_, err := b.reply(ctx, req, msgAddUsage)
		return err
	}
	dateArg := req.Args[0]
	text := strings.Join(req.Args[1:], " ")

	now := b.now()
	m, ok, err := b.deps.Resolver.Resolve(ctx, dateArg, now.In(b.cfg.Location), true)
	if err != nil || !ok {
		if err != nil {
			req.logger(b.log).Debug("date resolve failed", logx.String("date", dateArg), logx.Err(err))
		}
		_, rerr := b.reply(ctx, req, msgBadDate)
		return rerr
	}

	id, err := b.deps.Store.Insert(ctx, req.FromID, text, m.Time, now)
	if err != nil {
		_, _ = b.reply(ctx, req, msgSaveFailed)
		return fmt.Errorf("insert reminder: %w", err)
	}
	b.created(req, id, m.Time, "command")
	_, err = b.reply(ctx, req, fmt.Sprintf("✅ Reminder set for %s:\n%s", b.display(m.Time), text))
	return err
}

func (b *Bot) handleRemove(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		_, err := b.reply(ctx, req, msgRemoveUsage)
		return err
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.Args[0], "#"), 10, 64)
	if err != nil {
		_, err := b.reply(ctx, req, msgBadID)
		return err
	}
	if err := b.removeForOwner(ctx, id, req.FromID); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			_, rerr := b.reply(ctx, req, msgNotFound)
			return rerr
		}
		_, _ = b.reply(ctx, req, msgStoreDown)
		return err
	}
	if b.deps.Bus != nil {
		b.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeReminderRemoved, Data: eventbus.ReminderEvent{ID: id, OwnerID: req.FromID}})
	}
	_, err = b.reply(ctx, req, fmt.Sprintf("✅ Reminder #%d removed successfully!", id))
	return err
}

// removeForOwner maps an authorization mismatch to ErrNotFound so callers
// cannot probe other owners' ids.
func (b *Bot) removeForOwner(ctx context.Context, id, ownerID int64) error {
	ok, err := b.deps.Store.DeleteForOwner(ctx, id, ownerID)
	if err != nil {
		return fmt.Errorf("remove reminder %d: %w", id, err)
	}
	if !ok {
		return reminder.ErrNotFound
	}
	return nil
}

func (b *Bot) handleList(ctx context.Context, req *Request) error {
	list, err := b.deps.Store.ListByOwner(ctx, req.FromID)
	if err != nil {
		_, _ = b.reply(ctx, req, msgStoreDown)
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(list) == 0 {
		_, err := b.reply(ctx, req, msgNoReminders)
		return err
	}
	var sb strings.Builder
	sb.WriteString("📋 Your Reminders:\n")
	for _, r := range list {
		fmt.Fprintf(&sb, "\nID #%d: %s - %s", r.ID, b.display(r.DueAt), r.Text)
	}
	sb.WriteString("\n\nTo remove a reminder, use /remove_reminder <id>")
	_, err = b.reply(ctx, req, sb.String())
	return err
}

func (b *Bot) handleVoice(ctx context.Context, req *Request) error {
	v := req.Message.Voice
	key := fmt.Sprintf("%d:%d", req.Message.ChatID, req.Message.ID)
	if seen, _ := b.seenVoice.ContainsOrAdd(key, struct{}{}); seen {
		b.deps.Metrics.voiceDuplicate()
		req.logger(b.log).Debug("voice message already handled", logx.String("key", key))
		return nil
	}
	if limit := b.cfg.MaxVoiceDuration; limit > 0 && time.Duration(v.Duration)*time.Second > limit {
		_, err := b.reply(ctx, req, fmt.Sprintf(msgVoiceTooLong, limit))
		return err
	}

	status, err := b.reply(ctx, req, msgVoiceProcessing)
	if err != nil {
		return err
	}
	text, err := b.transcribe(ctx, v)
	if err != nil {
		b.seenVoice.Remove(key)
		_ = b.deps.Adapter.EditText(ctx, status, msgVoiceFailed, nil)
		return err
	}

	report, _ := b.createFromText(ctx, req, text, "voice")
	lines := append([]string{"📝 Transcription:", text, ""}, report...)
	return b.deps.Adapter.EditText(ctx, status, strings.Join(lines, "\n"), &kit.SendOptions{DisablePreview: true})
}

func (b *Bot) transcribe(ctx context.Context, v *kit.Voice) (string, error) {
	rc, err := b.deps.Adapter.Download(ctx, v.FileID)
	if err != nil {
		return "", fmt.Errorf("download voice: %w", err)
	}
	defer rc.Close()
	text, err := b.deps.Transcriber.Transcribe(ctx, "voice.ogg", rc)
	if err != nil {
		return "", fmt.Errorf("transcribe voice: %w", err)
	}
	return text, nil
}

func (b *Bot) handleText(ctx context.Context, req *Request) error {
	lines, found := b.createFromText(ctx, req, req.Message.Text, "text")
	if !found && !req.Message.IsPrivate {
		// stay quiet in groups unless something was scheduled
		return nil
	}
	_, err := b.reply(ctx, req, strings.Join(lines, "\n"))
	return err
}

// createFromText extracts and stores reminders from text and returns the
// report lines for the user. found is false when nothing was extracted.
func (b *Bot) createFromText(ctx context.Context, req *Request, text, source string) (lines []string, found bool) {
	now := b.now()
	cands := b.deps.Extractor.ExtractAt(ctx, text, now.In(b.cfg.Location))
	if len(cands) == 0 {
		return []string{msgNoneFound}, false
	}
	lines = []string{"🔔 Creating reminders:"}
	for _, c := range cands {
		id, err := b.deps.Store.Insert(ctx, req.FromID, c.Text, c.DueAt, now)
		if err != nil {
			req.logger(b.log).Error("insert extracted reminder failed", logx.Err(err))
			lines = append(lines, "❌ Could not save: "+c.Text)
			continue
		}
		b.created(req, id, c.DueAt, source)
		lines = append(lines, fmt.Sprintf("✅ Set reminder: %s for %s", c.Text, b.display(c.DueAt)))
	}
	return lines, true
}

func (b *Bot) created(req *Request, id int64, due time.Time, source string) {
	b.deps.Metrics.reminderCreated(source)
	req.logger(b.log).Info("reminder created", logx.Int64("reminder_id", id), logx.Time("due_at", due), logx.String("source", source))
	if b.deps.Bus != nil {
		b.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeReminderCreated, Data: eventbus.ReminderEvent{ID: id, OwnerID: req.FromID, DueAt: due}})
	}
}

func (b *Bot) display(t time.Time) string {
	return t.In(b.cfg.Location).Format("2006-01-02 15:04")
}
