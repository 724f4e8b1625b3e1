package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// Summarize lists the sections that differ between oldCfg and newCfg and
// returns log fields describing the new values. Secrets are reported only
// as "set"/"unset".
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	section := func(name string, differs bool, f ...logx.Field) {
		if differs {
			changed = append(changed, name)
			fields = append(fields, f...)
		}
	}
	isSet := func(s string) bool { return strings.TrimSpace(s) != "" }

	o, n := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		o.PollTimeout != n.PollTimeout || o.LogChat != n.LogChat || o.MaxVoiceBytes != n.MaxVoiceBytes || o.Token != n.Token,
		logx.String("telegram.poll_timeout", n.PollTimeout),
		logx.Bool("telegram.log_chat_set", n.LogChat != 0),
		logx.Bool("telegram.token_changed", o.Token != n.Token),
	)

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	ost, nst := oldCfg.Storage, newCfg.Storage
	section("storage", !reflect.DeepEqual(ost, nst),
		logx.String("storage.driver", nst.Driver),
		logx.Bool("storage.dsn_set", isSet(nst.DSN)),
		logx.String("storage.busy_timeout", nst.BusyTimeout),
	)

	section("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.String("scheduler.interval", newCfg.Scheduler.Interval),
		logx.String("scheduler.retry_max_delay", newCfg.Scheduler.RetryMaxDelay),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
	)

	on, nn := oldCfg.Notifier, newCfg.Notifier
	section("notifier", !reflect.DeepEqual(on, nn),
		logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		logx.String("notifier.send_timeout", nn.SendTimeout),
		logx.Bool("notifier.whatsapp", nn.WhatsApp.Enabled),
		logx.Int("notifier.whatsapp_owners", len(nn.WhatsApp.Owners)),
	)

	ot, nt := oldCfg.Transcriber, newCfg.Transcriber
	section("transcriber", !reflect.DeepEqual(ot, nt),
		logx.Bool("transcriber.api_key_set", isSet(nt.APIKey)),
		logx.String("transcriber.model", nt.Model),
		logx.String("transcriber.language", nt.Language),
	)

	oo, no := oldCfg.Ops, newCfg.Ops
	section("ops", !reflect.DeepEqual(oo, no),
		logx.Bool("ops.enabled", no.Enabled),
		logx.String("ops.addr", no.Addr),
		logx.Bool("ops.token_set", isSet(no.Token)),
		logx.Bool("ops.pprof", no.Pprof),
	)

	section("bot", !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot),
		logx.Bool("bot.extract_text", BoolOr(newCfg.Bot.ExtractText, true)),
		logx.Int("bot.workers", newCfg.Bot.Workers),
		logx.Int("bot.triggers", len(newCfg.Bot.Triggers)),
	)

	sort.Strings(changed)
	return changed, fields
}

// RestartRequired lists changed sections that only take effect after a
// restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "telegram", "transcriber", "bot":
			out = append(out, s)
		}
	}
	return out
}
