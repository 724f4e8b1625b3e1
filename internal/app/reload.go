package app

import (
	"context"
	"strings"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// reloadLoop applies committed config versions to the live components.
// Sections that are wired at construction (storage, telegram token,
// transcriber, bot) only take effect after a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, fields := config.Summarize(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rs := config.RestartRequired(sections); len(rs) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(rs, ",")))
	}

	a.logs.SetTelegramTarget(cfg.Telegram.LogChat, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(cfg))

	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		loc = nil
	}
	if scfg, err := mapSweeperConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sweep.Apply(scfg)
	}
	if loc != nil {
		if ncfg, err := mapNotifierConfig(cfg, loc); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}
	if ocfg, err := mapOpsConfig(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		// ctx is the app context; the server outlives this call
		a.ops.Reconfigure(ctx, ocfg)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}
