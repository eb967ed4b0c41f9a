package config

import (
	"errors"
	"reflect"
)

var errWatcherClosed = errors.New("watcher closed")

// Change lists the sections that differ between two configs. Live
// sections are applied in place; Restart sections only take effect after
// a restart.
type Change struct {
	Live    []string
	Restart []string
}

func (c Change) Empty() bool { return len(c.Live) == 0 && len(c.Restart) == 0 }

func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	add := func(live bool, name string, a, b any) {
		if reflect.DeepEqual(a, b) {
			return
		}
		if live {
			ch.Live = append(ch.Live, name)
		} else {
			ch.Restart = append(ch.Restart, name)
		}
	}
	add(true, "telegram.control_chat_id", oldCfg.Telegram.ControlChatID, newCfg.Telegram.ControlChatID)
	add(true, "forwarding", oldCfg.Forwarding, newCfg.Forwarding)
	add(true, "scheduler", oldCfg.Scheduler, newCfg.Scheduler)
	add(true, "logging", oldCfg.Logging, newCfg.Logging)

	add(false, "telegram.token", oldCfg.Telegram.Token, newCfg.Telegram.Token)
	add(false, "telegram.transport",
		[3]any{oldCfg.Telegram.PollTimeout, oldCfg.Telegram.SendPerSecond, oldCfg.Telegram.Workers},
		[3]any{newCfg.Telegram.PollTimeout, newCfg.Telegram.SendPerSecond, newCfg.Telegram.Workers})
	add(false, "mtproto", oldCfg.MTProto, newCfg.MTProto)
	add(false, "accounts", oldCfg.Accounts, newCfg.Accounts)
	add(false, "targets", oldCfg.Targets, newCfg.Targets)
	add(false, "storage", oldCfg.Storage, newCfg.Storage)
	return ch
}
