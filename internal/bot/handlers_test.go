package bot

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"remindbot/internal/extract"
	"remindbot/internal/reminder"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var noLog = logx.Nop()

var now = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

type sentMsg struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	edits   map[int]string
	audio   string
	dlErr   error
	dlCalls int
}

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.sent = append(a.sent, sentMsg{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.edits == nil {
		a.edits = map[int]string{}
	}
	a.edits[ref.MessageID] = text
	return nil
}

func (a *fakeAdapter) Download(context.Context, string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dlCalls++
	if a.dlErr != nil {
		return nil, a.dlErr
	}
	return io.NopCloser(strings.NewReader(a.audio)), nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, s := range a.sent {
		out[i] = s.text
	}
	return out
}

func (a *fakeAdapter) last() string {
	t := a.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

// memStore is an in-memory reminder.Store.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]reminder.Reminder
	err    error
}

func newMemStore() *memStore { return &memStore{rows: map[int64]reminder.Reminder{}} }

func (s *memStore) Insert(_ context.Context, owner int64, text string, due, created time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	s.rows[s.nextID] = reminder.Reminder{ID: s.nextID, OwnerID: owner, Text: text, DueAt: due, CreatedAt: created}
	return s.nextID, nil
}

func (s *memStore) ListByOwner(_ context.Context, owner int64) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []reminder.Reminder
	for _, r := range s.rows {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *memStore) DeleteForOwner(_ context.Context, id, owner int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	r, ok := s.rows[id]
	if !ok || r.OwnerID != owner {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

func (s *memStore) SelectDue(context.Context, time.Time) ([]reminder.Reminder, error) { return nil, nil }
func (s *memStore) DeleteByID(context.Context, int64) error                         { return nil }
func (s *memStore) Ping(context.Context) error                                      { return s.err }
func (s *memStore) Close() error                                                    { return nil }

// wordResolver knows "tomorrow" and "next monday".
type wordResolver struct{}

func (wordResolver) Resolve(_ context.Context, text string, ref time.Time, _ bool) (extract.Match, bool, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tomorrow"):
		return extract.Match{Time: ref.Add(24 * time.Hour), Text: "tomorrow"}, true, nil
	case strings.Contains(lower, "next monday"):
		return extract.Match{Time: time.Date(2026, 3, 16, 9, 0, 0, 0, ref.Location()), Text: "next monday"}, true, nil
	}
	return extract.Match{}, false, nil
}

type fixture struct {
	bot   *Bot
	ad    *fakeAdapter
	store *memStore
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, tr transcribe.Transcriber) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{ad: &fakeAdapter{audio: "ogg"}, store: newMemStore(), reg: reg}
	res := wordResolver{}
	f.bot, err = New(Config{Location: time.UTC, ExtractText: true, MaxVoiceDuration: time.Minute}, Deps{
		Adapter:     f.ad,
		Store:       f.store,
		Extractor:   extract.New(res),
		Resolver:    res,
		Transcriber: tr,
		Metrics:     m,
		Clock:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func request(from int64, args ...string) *Request {
	msg := &kit.Message{ID: 1, ChatID: from, FromID: from, IsPrivate: true}
	return &Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: from},
		FromID:  from,
		Args:    args,
	}
}

func voiceRequest(from int64, msgID, seconds int) *Request {
	req := request(from)
	req.Message.ID = msgID
	req.Message.Voice = &kit.Voice{FileID: "file-1", Duration: seconds}
	req.Update.Kind = kit.UpdateVoice
	return req
}

func TestAddReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.bot.handleAdd(ctx, request(7, "tomorrow", "Submit", "assignment")); err != nil {
		t.Fatalf("handleAdd: %v", err)
	}
	want := "✅ Reminder set for 2026-03-11 14:30:\nSubmit assignment"
	if got := f.ad.last(); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
	list, _ := f.store.ListByOwner(ctx, 7)
	if len(list) != 1 || list[0].Text != "Submit assignment" || !list[0].DueAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("stored = %+v", list)
	}
	if got := testutil.ToFloat64(f.bot.deps.Metrics.created.WithLabelValues("command")); got != 1 {
		t.Fatalf("created metric = %v, want 1", got)
	}
}

func TestAddReminderRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no args", nil, msgAddUsage},
		{"date only", []string{"tomorrow"}, msgAddUsage},
		{"unknown date", []string{"someday", "call", "mom"}, msgBadDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			if err := f.bot.handleAdd(context.Background(), request(7, tt.args...)); err != nil {
				t.Fatalf("handleAdd: %v", err)
			}
			if got := f.ad.last(); got != tt.want {
				t.Fatalf("reply = %q, want %q", got, tt.want)
			}
			if len(f.store.rows) != 0 {
				t.Fatalf("store mutated: %+v", f.store.rows)
			}
		})
	}
}

func TestAddReminderStorageDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.store.err = reminder.Unavailable("insert", errors.New("disk full"))
	err := f.bot.handleAdd(context.Background(), request(7, "tomorrow", "x"))
	if !errors.Is(err, reminder.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	if got := f.ad.last(); got != msgSaveFailed {
		t.Fatalf("reply = %q", got)
	}
}

func TestRemoveReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	id, _ := f.store.Insert(ctx, 7, "call mom", now, now)

	steps := []struct {
		from int64
		args []string
		want string
	}{
		{7, nil, msgRemoveUsage},
		{7, []string{"abc"}, msgBadID},
		{8, []string{"1"}, msgNotFound},
		{7, []string{"#1"}, "✅ Reminder #1 removed successfully!"},
		{7, []string{"1"}, msgNotFound},
	}
	for i, s := range steps {
		if err := f.bot.handleRemove(ctx, request(s.from, s.args...)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := f.ad.last(); got != s.want {
			t.Fatalf("step %d reply = %q, want %q", i, got, s.want)
		}
		if i == 2 {
			if _, ok := f.store.rows[id]; !ok {
				t.Fatal("wrong owner removed the reminder")
			}
		}
	}
}

func TestListReminders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.bot.handleList(ctx, request(7)); err != nil {
		t.Fatalf("handleList: %v", err)
	}
	if got := f.ad.last(); got != msgNoReminders {
		t.Fatalf("reply = %q", got)
	}

	_, _ = f.store.Insert(ctx, 7, "later", now.Add(2*time.Hour), now)
	_, _ = f.store.Insert(ctx, 7, "sooner", now.Add(time.Hour), now)
	_, _ = f.store.Insert(ctx, 9, "not mine", now, now)
	if err := f.bot.handleList(ctx, request(7)); err != nil {
		t.Fatalf("handleList: %v", err)
	}
	got := f.ad.last()
	sooner := strings.Index(got, "ID #2: 2026-03-10 15:30 - sooner")
	later := strings.Index(got, "ID #1: 2026-03-10 16:30 - later")
	if sooner < 0 || later < 0 || sooner > later {
		t.Fatalf("list not sorted ascending:\n%s", got)
	}
	if strings.Contains(got, "not mine") {
		t.Fatalf("list leaked another owner's reminder:\n%s", got)
	}
}

func TestVoiceCreatesReminders(t *testing.T) {
	t.Parallel()
	tr := transcribe.Func(func(_ context.Context, name string, r io.Reader) (string, error) {
		b, _ := io.ReadAll(r)
		if name != "voice.ogg" || string(b) != "ogg" {
			return "", errors.New("unexpected audio")
		}
		return "Remind me to call mom tomorrow", nil
	})
	f := newFixture(t, tr)
	ctx := context.Background()

	if err := f.bot.handleVoice(ctx, voiceRequest(7, 42, 5)); err != nil {
		t.Fatalf("handleVoice: %v", err)
	}
	if got := f.ad.texts(); len(got) != 1 || got[0] != msgVoiceProcessing {
		t.Fatalf("status replies = %q", got)
	}
	edit := f.ad.edits[1]
	for _, want := range []string{"📝 Transcription:", "Remind me to call mom tomorrow", "✅ Set reminder: call mom for 2026-03-11 14:30"} {
		if !strings.Contains(edit, want) {
			t.Fatalf("edited status missing %q:\n%s", want, edit)
		}
	}
	if len(f.store.rows) != 1 {
		t.Fatalf("stored %d reminders, want 1", len(f.store.rows))
	}

	// redelivered update
	if err := f.bot.handleVoice(ctx, voiceRequest(7, 42, 5)); err != nil {
		t.Fatalf("handleVoice: %v", err)
	}
	if len(f.store.rows) != 1 || f.ad.dlCalls != 1 {
		t.Fatalf("duplicate voice handled again: rows=%d downloads=%d", len(f.store.rows), f.ad.dlCalls)
	}
	if got := testutil.ToFloat64(f.bot.deps.Metrics.voiceDups); got != 1 {
		t.Fatalf("voice duplicates = %v, want 1", got)
	}
}

func TestVoiceWithoutReminders(t *testing.T) {
	t.Parallel()
	tr := transcribe.Func(func(context.Context, string, io.Reader) (string, error) {
		return "just saying hello", nil
	})
	f := newFixture(t, tr)
	if err := f.bot.handleVoice(context.Background(), voiceRequest(7, 1, 3)); err != nil {
		t.Fatalf("handleVoice: %v", err)
	}
	if edit := f.ad.edits[1]; !strings.Contains(edit, msgNoneFound) {
		t.Fatalf("edit = %q", edit)
	}
}

func TestVoiceTranscriptionFailure(t *testing.T) {
	t.Parallel()
	var calls int
	tr := transcribe.Func(func(context.Context, string, io.Reader) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("upstream 500")
		}
		return "remind me to water plants tomorrow", nil
	})
	f := newFixture(t, tr)
	ctx := context.Background()

	if err := f.bot.handleVoice(ctx, voiceRequest(7, 5, 3)); err == nil {
		t.Fatal("expected transcription error")
	}
	if edit := f.ad.edits[1]; edit != msgVoiceFailed {
		t.Fatalf("edit = %q, want apology", edit)
	}
	if len(f.store.rows) != 0 {
		t.Fatal("reminder stored despite transcription failure")
	}
	// a failed message can be retried
	if err := f.bot.handleVoice(ctx, voiceRequest(7, 5, 3)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.store.rows) != 1 {
		t.Fatalf("stored %d reminders after retry, want 1", len(f.store.rows))
	}
}

func TestVoiceTooLong(t *testing.T) {
	t.Parallel()
	f := newFixture(t, transcribe.Func(func(context.Context, string, io.Reader) (string, error) {
		t.Error("transcriber called for an oversized message")
		return "", nil
	}))
	if err := f.bot.handleVoice(context.Background(), voiceRequest(7, 1, 120)); err != nil {
		t.Fatalf("handleVoice: %v", err)
	}
	if got := f.ad.last(); !strings.HasPrefix(got, "Sorry, that voice message is too long") {
		t.Fatalf("reply = %q", got)
	}
}

func TestTextExtraction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	req := request(7)
	req.Message.Text = "Don't forget to pay rent tomorrow. Thanks!"
	if err := f.bot.handleText(ctx, req); err != nil {
		t.Fatalf("handleText: %v", err)
	}
	if got := f.ad.last(); !strings.Contains(got, "✅ Set reminder: pay rent for 2026-03-11 14:30") {
		t.Fatalf("reply = %q", got)
	}

	// groups stay quiet when nothing matched
	group := request(-100)
	group.Message.IsPrivate = false
	group.Message.Text = "hello everyone"
	before := len(f.ad.texts())
	if err := f.bot.handleText(ctx, group); err != nil {
		t.Fatalf("handleText: %v", err)
	}
	if len(f.ad.texts()) != before {
		t.Fatalf("bot replied in a group without a match: %q", f.ad.last())
	}

	private := request(7)
	private.Message.Text = "hello"
	if err := f.bot.handleText(ctx, private); err != nil {
		t.Fatalf("handleText: %v", err)
	}
	if got := f.ad.last(); got != msgNoneFound {
		t.Fatalf("reply = %q", got)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
