package app

import (
	"strings"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/ops"
	"remindbot/internal/storage"
	"remindbot/internal/sweeper"
	"remindbot/internal/transcribe"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

const defaultMaxVoiceBytes = 20 << 20

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	maxBytes := cfg.Telegram.MaxVoiceBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxVoiceBytes
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll, MaxVoiceBytes: maxBytes}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapSweeperConfig(cfg *config.Config) (sweeper.Config, error) {
	sc := cfg.Scheduler
	interval, err := config.ParseDurationOrDefault("scheduler.interval", sc.Interval, time.Minute)
	if err != nil {
		return sweeper.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("scheduler.retry_max_delay", sc.RetryMaxDelay, 30*time.Minute)
	if err != nil {
		return sweeper.Config{}, err
	}
	return sweeper.Config{
		Interval:          interval,
		RetryMaxDelay:     maxDelay,
		StorageAlertAfter: sc.StorageAlertAfter,
		SweepOnStart:      config.BoolOr(sc.SweepOnStart, true),
	}, nil
}

func mapNotifierConfig(cfg *config.Config, loc *time.Location) (notifier.Config, error) {
	nc := cfg.Notifier
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	retryBase, err := config.ParseDurationField("notifier.whatsapp.retry_base", nc.WhatsApp.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax, err := config.ParseDurationField("notifier.whatsapp.retry_max_delay", nc.WhatsApp.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	owners, err := config.WhatsAppOwners(nc.WhatsApp.Owners)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  nc.RatePerSec,
		SendTimeout: sendTimeout,
		Location:    loc,
		WhatsApp: notifier.WhatsAppConfig{
			Enabled:       nc.WhatsApp.Enabled,
			Owners:        owners,
			QueueSize:     nc.WhatsApp.QueueSize,
			RetryMax:      nc.WhatsApp.RetryMax,
			RetryBase:     retryBase,
			RetryMaxDelay: retryMax,
		},
	}, nil
}

func mapTranscriberConfig(cfg *config.Config) (transcribe.Config, error) {
	tc := cfg.Transcriber
	timeout, err := config.ParseDurationOrDefault("transcriber.timeout", tc.Timeout, time.Minute)
	if err != nil {
		return transcribe.Config{}, err
	}
	return transcribe.Config{
		APIKey:   strings.TrimSpace(tc.APIKey),
		BaseURL:  strings.TrimSpace(tc.BaseURL),
		Model:    strings.TrimSpace(tc.Model),
		Language: strings.TrimSpace(tc.Language),
		Timeout:  timeout,
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	readTimeout, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   readTimeout,
		IdleTimeout:   idleTimeout,
	}
	if err := ops.Validate(out); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

func mapBotConfig(cfg *config.Config, loc *time.Location) (bot.Config, bot.DispatcherConfig, error) {
	bc := cfg.Bot
	cmdTimeout, err := config.ParseDurationOrDefault("bot.command_timeout", bc.CommandTimeout, 15*time.Second)
	if err != nil {
		return bot.Config{}, bot.DispatcherConfig{}, err
	}
	voiceTimeout, err := config.ParseDurationOrDefault("bot.voice_timeout", bc.VoiceTimeout, 2*time.Minute)
	if err != nil {
		return bot.Config{}, bot.DispatcherConfig{}, err
	}
	maxVoice, err := config.ParseDurationOrDefault("bot.max_voice_duration", bc.MaxVoiceDuration, 5*time.Minute)
	if err != nil {
		return bot.Config{}, bot.DispatcherConfig{}, err
	}
	return bot.Config{
		Location:         loc,
		ExtractText:      config.BoolOr(bc.ExtractText, true),
		MaxVoiceDuration: maxVoice,
		CommandTimeout:   cmdTimeout,
		VoiceTimeout:     voiceTimeout,
		VoiceDedupSize:   bc.VoiceDedupSize,
	}, bot.DispatcherConfig{
		Workers:   bc.Workers,
		QueueSize: bc.QueueSize,
	}, nil
}

// validate maps every section so a reload that cannot be wired is rejected
// before it is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSweeperConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg, loc); err != nil {
		return err
	}
	if _, err := mapTranscriberConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	_, _, err = mapBotConfig(cfg, loc)
	return err
}
