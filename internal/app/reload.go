package app

import (
	"context"
	"strings"

	"teleads/internal/config"
	logx "teleads/pkg/logx"
)

// runReload applies every committed config to the live components.
// Sections that need a restart are only reported.
func (a *App) runReload(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			ch := config.Diff(last, cfg)
			if ch.Empty() {
				a.log.Debug("config reload received, no effective changes")
				continue
			}
			if err := a.apply(cfg); err != nil {
				a.log.Warn("config reload not applied", logx.Err(err))
				continue
			}
			last = cfg
			if len(ch.Restart) > 0 {
				a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(ch.Restart, ",")))
			}
			a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Live, ",")))
		}
	}
}

// apply pushes the hot-reloadable parts of cfg into the components.
func (a *App) apply(cfg *config.Config) error {
	t, err := cfg.Timings()
	if err != nil {
		return err
	}
	a.logs.SetTelegramChat(cfg.Telegram.ControlChatID)
	a.logs.Apply(mapLogging(cfg))
	a.policy.SetCeiling(t.RateLimitCeiling)
	a.joins.SetJoinDelay(joinDelay(t))
	a.orch.Apply(mapForward(cfg, t))
	a.sched.Apply(mapScheduler(cfg))
	if a.conv != nil {
		a.conv.Apply(mapControl(cfg))
	}
	return nil
}
