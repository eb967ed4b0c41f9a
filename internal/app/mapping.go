package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"teleads/internal/config"
	"teleads/internal/control"
	"teleads/internal/forward"
	"teleads/internal/remote/mtproto"
	"teleads/internal/storage"
	"teleads/internal/task/scheduler"
	telegram "teleads/internal/transport/telegram/adapter"
	"teleads/internal/transport/telegram/router"
	logx "teleads/pkg/logx"
)

// The helpers below translate the file config into each component's own
// config type so components never import internal/config.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapter(cfg *config.Config, t config.Timings) telegram.Config {
	return telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   t.PollTimeout,
		SendPerSecond: cfg.Telegram.SendPerSecond,
	}
}

func mapRouter(cfg *config.Config) router.Config {
	return router.Config{Workers: cfg.Telegram.Workers}
}

// StorageConfig is exported for the audit command, which opens storage
// without the rest of the app.
func StorageConfig(cfg *config.Config, t config.Timings) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: t.BusyTimeout,
	}
}

func mapForward(cfg *config.Config, t config.Timings) forward.Config {
	return forward.Config{
		SendInterval:    t.SendInterval,
		SendJitter:      t.SendJitter,
		ReportEvery:     cfg.Forwarding.ReportEvery,
		DuplicateWindow: t.DuplicateWindow,
	}
}

func mapControl(cfg *config.Config) control.Config {
	return control.Config{
		ControlChatID: cfg.Telegram.ControlChatID,
		LoopSchedule:  cfg.Forwarding.LoopSchedule,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func joinDelay(t config.Timings) time.Duration {
	if t.JoinDelay <= 0 {
		return forward.DefaultJoinDelay
	}
	return t.JoinDelay
}

// SessionPath is where the account's MTProto session lives.
func SessionPath(cfg *config.Config, acc config.AccountConfig) string {
	if p := strings.TrimSpace(acc.Session); p != "" {
		return p
	}
	return filepath.Join(cfg.MTProto.SessionDir, acc.Name+".session")
}

// AccountClient builds the MTProto client of the named account.
func AccountClient(cfg *config.Config, name string, log logx.Logger) (*mtproto.Client, config.AccountConfig, error) {
	for _, acc := range cfg.Accounts {
		if acc.Name != name {
			continue
		}
		c, err := newClient(cfg, acc, log)
		return c, acc, err
	}
	return nil, config.AccountConfig{}, fmt.Errorf("account %q not in config", name)
}

func newClient(cfg *config.Config, acc config.AccountConfig, log logx.Logger) (*mtproto.Client, error) {
	return mtproto.New(acc.Name, mtproto.Config{
		AppID:       cfg.MTProto.AppID,
		AppHash:     cfg.MTProto.AppHash,
		SessionPath: SessionPath(cfg, acc),
	}, log)
}
