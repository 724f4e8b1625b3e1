package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token", "poll_timeout": "15s"},
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "./r.db"},
  "scheduler": {"interval": "30s", "timezone": "UTC"},
  "notifier": {"rate_per_sec": 2, "whatsapp": {"owners": {"42": "+15550001111"}}},
  "bot": {"extract_text": false}
}`

const sampleYAML = `
telegram:
  token: file-token
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./r.db
scheduler:
  interval: 30s
  timezone: UTC
notifier:
  rate_per_sec: 2
  whatsapp:
    owners:
      42: "+15550001111"
bot:
  extract_text: false
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	j, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	y, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if !reflect.DeepEqual(j, y) {
		t.Fatalf("json and yaml differ:\n%+v\n%+v", j, y)
	}
	if j.Scheduler.Interval != "30s" || BoolOr(j.Bot.ExtractText, true) {
		t.Fatalf("unexpected values: %+v", j)
	}
	if j.Notifier.WhatsApp.Owners["42"] != "+15550001111" {
		t.Fatalf("owners = %v", j.Notifier.WhatsApp.Owners)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		path string
		body string
	}{
		"unknown json key": {"c.json", `{"telegram": {"tokn": "x"}}`},
		"unknown yaml key": {"c.yml", "scheduler:\n  intervall: 1m\n"},
		"trailing data":    {"c.json", `{} {}`},
		"bad yaml":         {"c.yaml", "telegram: [\n"},
	}
	for name, tt := range tests {
		if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Decode("empty.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: "env-token",
		EnvOpenAIKey:     "sk-test",
		EnvTwilioSID:     "AC123",
		EnvTwilioToken:   "secret",
		EnvDatabaseURL:   "postgres://u@h/db",
	}
	cfg := &Config{Telegram: TelegramConfig{Token: "file-token"}}
	applyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Telegram.Token != "env-token" || cfg.Transcriber.APIKey != "sk-test" {
		t.Fatalf("secrets not applied: %+v", cfg)
	}
	if cfg.Notifier.WhatsApp.AccountSID != "AC123" || cfg.Notifier.WhatsApp.AuthToken != "secret" {
		t.Fatalf("twilio secrets not applied: %+v", cfg.Notifier.WhatsApp)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u@h/db" {
		t.Fatalf("database url not applied: %+v", cfg.Storage)
	}

	keep := &Config{Telegram: TelegramConfig{Token: "file-token"}}
	applyEnv(keep, func(string) string { return "" })
	if keep.Telegram.Token != "file-token" {
		t.Fatal("empty env must not clear file values")
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad interval", func(c *Config) { c.Scheduler.Interval = "soon" }, "scheduler.interval"},
		{"negative duration", func(c *Config) { c.Notifier.SendTimeout = "-1s" }, "notifier.send_timeout"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"owner key", func(c *Config) { c.Notifier.WhatsApp.Owners = map[string]string{"bob": "+1"} }, "not a user id"},
		{"whatsapp creds", func(c *Config) { c.Notifier.WhatsApp.Enabled = true }, "notifier.whatsapp needs"},
		{"negative workers", func(c *Config) { c.Bot.Workers = -1 }, "bot.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWhatsAppOwners(t *testing.T) {
	t.Parallel()
	got, err := WhatsAppOwners(map[string]string{" 42 ": " +15550001111 "})
	if err != nil {
		t.Fatalf("WhatsAppOwners: %v", err)
	}
	if got[42] != "+15550001111" {
		t.Fatalf("owners = %v", got)
	}
	if _, err := WhatsAppOwners(map[string]string{"42": ""}); err == nil {
		t.Fatal("expected error for empty phone")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{"45s", 45 * time.Second, false},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("k", tt.raw, time.Minute)
		if (err != nil) != tt.err || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v", tt.raw, got, err)
		}
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", sampleJSON)

	var rejectNext bool
	m := NewManager(path, WithoutEnv(), WithValidator(func(_ context.Context, cfg *Config) error {
		if rejectNext {
			return errors.New("nope")
		}
		return nil
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Telegram.Token != "file-token" {
		t.Fatalf("committed config mismatch: %+v", m.Get())
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"30s"`, `"45s"`, 1))
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("changed reload = %v, %v", ok, err)
	}
	select {
	case got := <-sub:
		if got.Scheduler.Interval != "45s" {
			t.Fatalf("published interval = %q", got.Scheduler.Interval)
		}
	default:
		t.Fatal("reload not published")
	}

	rejectNext = true
	writeFile(t, dir, "config.json", strings.Replace(sampleJSON, `"30s"`, `"90s"`, 1))
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected reload = %v, %v", ok, err)
	}
	if m.Get().Scheduler.Interval != "45s" {
		t.Fatal("rejected config was committed")
	}

	writeFile(t, dir, "config.json", `{"scheduler": {"interval": "bad"}}`)
	if _, err := m.Reload(ctx); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewManager(path, WithoutEnv(), WithDebounce(20*time.Millisecond))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	body := strings.Replace(sampleYAML, "interval: 30s", "interval: 2m", 1)
	for {
		select {
		case got := <-sub:
			if got.Scheduler.Interval != "2m" {
				t.Fatalf("interval = %q", got.Scheduler.Interval)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			// rewrite until the watcher is up and sees it
			writeFile(t, dir, "config.yaml", body)
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	a := &Config{Ops: OpsConfig{Token: "one"}}
	b := &Config{Ops: OpsConfig{Token: "two"}, Scheduler: SchedulerConfig{Interval: "2m"}, Storage: StorageConfig{Path: "x.db"}}

	changed, fields := Summarize(a, b)
	if want := []string{"ops", "scheduler", "storage"}; !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(fields) == 0 {
		t.Fatal("no fields")
	}
	if got := RestartRequired(changed); !reflect.DeepEqual(got, []string{"storage"}) {
		t.Fatalf("restart required = %v", got)
	}
	if changed, _ := Summarize(b, b); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
