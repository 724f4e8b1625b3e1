package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate checks values that would otherwise fail later at wiring time, so
// a bad hot reload is rejected before anything is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", path))
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.MaxVoiceBytes < 0 {
		errs = append(errs, errors.New("telegram.max_voice_bytes must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q (or set %s)", cfg.Storage.Driver, EnvDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	nonNeg("storage.max_open_conns", cfg.Storage.MaxOpenConns)

	dur("scheduler.interval", cfg.Scheduler.Interval)
	dur("scheduler.retry_max_delay", cfg.Scheduler.RetryMaxDelay)
	nonNeg("scheduler.storage_alert_after", cfg.Scheduler.StorageAlertAfter)
	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}

	nonNeg("notifier.rate_per_sec", cfg.Notifier.RatePerSec)
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)
	wa := cfg.Notifier.WhatsApp
	dur("notifier.whatsapp.retry_base", wa.RetryBase)
	dur("notifier.whatsapp.retry_max_delay", wa.RetryMaxDelay)
	nonNeg("notifier.whatsapp.queue_size", wa.QueueSize)
	nonNeg("notifier.whatsapp.retry_max", wa.RetryMax)
	if _, err := WhatsAppOwners(wa.Owners); err != nil {
		errs = append(errs, err)
	}
	if wa.Enabled {
		if wa.AccountSID == "" || wa.AuthToken == "" || strings.TrimSpace(wa.From) == "" {
			errs = append(errs, fmt.Errorf("notifier.whatsapp needs account_sid, auth_token and from (or %s/%s)", EnvTwilioSID, EnvTwilioToken))
		}
	}

	dur("transcriber.timeout", cfg.Transcriber.Timeout)

	dur("ops.read_timeout", cfg.Ops.ReadTimeout)
	dur("ops.idle_timeout", cfg.Ops.IdleTimeout)

	nonNeg("bot.workers", cfg.Bot.Workers)
	nonNeg("bot.queue_size", cfg.Bot.QueueSize)
	nonNeg("bot.voice_dedup_size", cfg.Bot.VoiceDedupSize)
	dur("bot.command_timeout", cfg.Bot.CommandTimeout)
	dur("bot.voice_timeout", cfg.Bot.VoiceTimeout)
	dur("bot.max_voice_duration", cfg.Bot.MaxVoiceDuration)

	return errors.Join(errs...)
}

// WhatsAppOwners converts the owners map keys to user ids.
func WhatsAppOwners(raw map[string]string) (map[int64]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[int64]string, len(raw))
	for k, phone := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("notifier.whatsapp.owners: key %q is not a user id", k)
		}
		if phone = strings.TrimSpace(phone); phone == "" {
			return nil, fmt.Errorf("notifier.whatsapp.owners[%s]: empty phone number", k)
		}
		out[id] = phone
	}
	return out, nil
}
