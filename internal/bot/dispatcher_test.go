package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	kit "remindbot/internal/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func textUpdate(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: chat, FromID: chat, Text: text, IsPrivate: true}}
}

func TestDispatchLoopRoutes(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 8}, ad, noLog, nil)

	var gotArgs atomic.Value
	var textCalls, voiceCalls atomic.Int32
	d.SetCommands([]Command{{
		Name:    "add_reminder",
		Aliases: []string{"add"},
		Handle: func(_ context.Context, req *Request) error {
			gotArgs.Store(req.Args)
			return nil
		},
	}},
		&Command{Name: "voice", Handle: func(context.Context, *Request) error { voiceCalls.Add(1); return nil }},
		&Command{Name: "text", Handle: func(context.Context, *Request) error { textCalls.Add(1); return nil }},
	)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- d.DispatchLoop(ctx, updates) }()

	updates <- textUpdate(1, `/add@RemindBot "next monday" standup`)
	updates <- textUpdate(1, "/nope")
	updates <- textUpdate(1, "remind me to stretch tomorrow")
	updates <- kit.Update{Kind: kit.UpdateVoice, Message: &kit.Message{ID: 2, ChatID: 1, Voice: &kit.Voice{FileID: "f"}}}
	// voice updates without an attachment are ignored
	updates <- kit.Update{Kind: kit.UpdateVoice, Message: &kit.Message{ID: 3, ChatID: 1}}

	waitFor(t, func() bool {
		args, _ := gotArgs.Load().([]string)
		return len(args) == 2 && textCalls.Load() == 1 && voiceCalls.Load() == 1
	})
	if args := gotArgs.Load().([]string); args[0] != "next monday" || args[1] != "standup" {
		t.Fatalf("args = %q", args)
	}
	waitFor(t, func() bool { return ad.last() == msgUnknownCommand })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not stop")
	}
	if d.Supervisor() != nil {
		t.Fatal("supervisor still reported after stop")
	}
}

func TestMenuCommandsSkipsHiddenAndAliases(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(DispatcherConfig{}, nil, noLog, nil)
	h := func(context.Context, *Request) error { return nil }
	d.SetCommands([]Command{
		{Name: "reminders", Aliases: []string{"list"}, Description: "list", Handle: h},
		{Name: "help", Description: "help", Handle: h},
		{Name: "debug", Hidden: true, Handle: h},
		{Name: "broken"},
	}, nil, nil)

	got := d.MenuCommands()
	if len(got) != 2 || got[0].Command != "help" || got[1].Command != "reminders" {
		t.Fatalf("menu = %+v", got)
	}
}

func TestEnqueueRepliesBusyWhenQueueFull(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1}, ad, noLog, nil)
	cmd := Command{Name: "help", Handle: func(context.Context, *Request) error { return nil }}

	// no workers are running, so the second job cannot be queued
	up := textUpdate(1, "/help")
	d.enqueue(context.Background(), up, cmd, nil)
	d.enqueue(context.Background(), up, cmd, nil)
	if got := ad.last(); got != msgBusy {
		t.Fatalf("reply = %q, want busy", got)
	}
}

func TestRegisterInstallsCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	d := NewDispatcher(DispatcherConfig{}, f.ad, noLog, nil)
	f.bot.Register(d)

	names := map[string]bool{}
	for _, c := range d.MenuCommands() {
		names[c.Command] = true
	}
	for _, want := range []string{"start", "help", "add_reminder", "remove_reminder", "reminders"} {
		if !names[want] {
			t.Fatalf("menu missing %q: %v", want, names)
		}
	}
	if d.onVoice == nil || d.onText == nil {
		t.Fatal("voice and text handlers not installed")
	}
}

func runLoop(t *testing.T, d *Dispatcher, updates chan kit.Update) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.DispatchLoop(ctx, updates) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("DispatchLoop: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("DispatchLoop did not stop")
		}
	}
}

func TestDispatchLoopFinishesQueuedJobsOnStop(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 4}, &fakeAdapter{}, noLog, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var queuedErr atomic.Value
	d.SetCommands([]Command{{
		Name: "slow",
		Handle: func(ctx context.Context, _ *Request) error {
			if calls.Add(1) == 1 {
				close(started)
				<-release
				return nil
			}
			queuedErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		},
	}}, nil, nil)

	updates := make(chan kit.Update, 4)
	stop := runLoop(t, d, updates)
	updates <- textUpdate(1, "/slow")
	<-started
	updates <- textUpdate(1, "/slow")
	waitFor(t, func() bool { return len(d.jobs) == 1 })

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	stop()

	if got := calls.Load(); got != 2 {
		t.Fatalf("handler calls = %d, want 2", got)
	}
	if got, _ := queuedErr.Load().(string); got != "<nil>" {
		t.Fatalf("queued job ctx err = %s", got)
	}
}

func TestDispatchLoopIgnoresOtherBotsCommands(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 4, Username: "RemindBot"}, ad, noLog, nil)
	var calls, textCalls atomic.Int32
	d.SetCommands([]Command{{
		Name:   "reminders",
		Handle: func(context.Context, *Request) error { calls.Add(1); return nil },
	}}, nil, &Command{Name: "text", Handle: func(context.Context, *Request) error { textCalls.Add(1); return nil }})

	updates := make(chan kit.Update, 4)
	stop := runLoop(t, d, updates)
	defer stop()
	updates <- textUpdate(-100, "/reminders@OtherBot")
	updates <- textUpdate(-100, "/nope@OtherBot")
	updates <- textUpdate(-100, "/reminders@RemindBot")

	waitFor(t, func() bool { return calls.Load() == 1 })
	if textCalls.Load() != 0 || ad.last() != "" {
		t.Fatalf("other bot's commands handled: text calls %d, reply %q", textCalls.Load(), ad.last())
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
