package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); an empty string selects the default.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Notifier    NotifierConfig    `json:"notifier"`
	Transcriber TranscriberConfig `json:"transcriber"`
	Ops         OpsConfig         `json:"ops"`
	Bot         BotConfig         `json:"bot"`
}

type TelegramConfig struct {
	Token string `json:"token"` // REMINDBOT_TELEGRAM_TOKEN overrides
	// LogChat is the chat id receiving log lines when logging.telegram is on.
	LogChat     int64  `json:"log_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// MaxVoiceBytes rejects larger voice downloads (0 = 20 MiB).
	MaxVoiceBytes int64 `json:"max_voice_bytes,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
//	"storage": { "driver": "sqlite", "path": "./reminders.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"` // sqlite (default) or postgres
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // REMINDBOT_DATABASE_URL overrides
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// SchedulerConfig controls the due-reminder sweep.
//
// Defaults: interval "1m", retry_max_delay "30m", storage_alert_after 5,
// sweep_on_start true.
type SchedulerConfig struct {
	Interval          string `json:"interval,omitempty"`
	RetryMaxDelay     string `json:"retry_max_delay,omitempty"`
	StorageAlertAfter int    `json:"storage_alert_after,omitempty"`
	SweepOnStart      *bool  `json:"sweep_on_start,omitempty"`
	// Timezone used to resolve and display dates ("Europe/Berlin"). Empty
	// means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int            `json:"rate_per_sec,omitempty"`
	SendTimeout string         `json:"send_timeout,omitempty"`
	WhatsApp    WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig configures the optional Twilio channel. Owners maps a
// Telegram user id (as a string key) to a phone number.
type WhatsAppConfig struct {
	Enabled       bool              `json:"enabled"`
	AccountSID    string            `json:"account_sid,omitempty"` // TWILIO_ACCOUNT_SID overrides
	AuthToken     string            `json:"auth_token,omitempty"`  // TWILIO_AUTH_TOKEN overrides
	From          string            `json:"from,omitempty"`
	Owners        map[string]string `json:"owners,omitempty"`
	QueueSize     int               `json:"queue_size,omitempty"`
	RetryMax      int               `json:"retry_max,omitempty"`
	RetryBase     string            `json:"retry_base,omitempty"`
	RetryMaxDelay string            `json:"retry_max_delay,omitempty"`
}

// TranscriberConfig configures speech-to-text. Voice messages are declined
// when no API key is available.
type TranscriberConfig struct {
	APIKey   string `json:"api_key,omitempty"` // OPENAI_API_KEY overrides
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// OpsConfig controls the metrics/health/pprof HTTP server.
//
// Bind to loopback ("127.0.0.1:9090") or set a token; a public address
// without a token needs allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type BotConfig struct {
	// ExtractText runs reminder extraction on plain text messages (default true).
	ExtractText      *bool    `json:"extract_text,omitempty"`
	Workers          int      `json:"workers,omitempty"`
	QueueSize        int      `json:"queue_size,omitempty"`
	CommandTimeout   string   `json:"command_timeout,omitempty"`
	VoiceTimeout     string   `json:"voice_timeout,omitempty"`
	MaxVoiceDuration string   `json:"max_voice_duration,omitempty"`
	VoiceDedupSize   int      `json:"voice_dedup_size,omitempty"`
	Triggers         []string `json:"triggers,omitempty"`
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
