package app

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleads/internal/config"
	"teleads/internal/eventbus"
	"teleads/internal/forward"
	logx "teleads/pkg/logx"
)

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", ControlChatID: -100, Workers: 3},
		MTProto:  config.MTProtoConfig{AppID: 1, AppHash: "h", SessionDir: "sessions"},
		Accounts: []config.AccountConfig{{Name: "main"}, {Name: "alt", Session: "/var/lib/alt.session"}},
		Forwarding: config.ForwardingConfig{
			SendInterval:    "4s",
			SendJitter:      "1s",
			ReportEvery:     10,
			JoinDelay:       "0s",
			DuplicateWindow: "1h",
			LoopSchedule:    "30m",
		},
		Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"},
	}
}

func TestSessionPath(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	assert.Equal(t, filepath.Join("sessions", "main.session"), SessionPath(cfg, cfg.Accounts[0]))
	assert.Equal(t, "/var/lib/alt.session", SessionPath(cfg, cfg.Accounts[1]))
}

func TestMapping(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tm, err := cfg.Timings()
	require.NoError(t, err)

	fc := mapForward(cfg, tm)
	assert.Equal(t, 4*time.Second, fc.SendInterval)
	assert.Equal(t, time.Second, fc.SendJitter)
	assert.Equal(t, 10, fc.ReportEvery)
	assert.Equal(t, time.Hour, fc.DuplicateWindow)

	cc := mapControl(cfg)
	assert.Equal(t, int64(-100), cc.ControlChatID)
	assert.Equal(t, "30m", cc.LoopSchedule)

	sc := StorageConfig(cfg, tm)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	assert.Equal(t, 3, mapRouter(cfg).Workers)
	assert.Equal(t, forward.DefaultJoinDelay, joinDelay(tm))
	tm.JoinDelay = 5 * time.Second
	assert.Equal(t, 5*time.Second, joinDelay(tm))
}

func TestAccountClientUnknown(t *testing.T) {
	t.Parallel()
	_, _, err := AccountClient(testConfig(), "ghost", logx.Nop())
	assert.Error(t, err)
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry, ok := auditEntry(eventbus.Event{
		Type: forward.EventFinished,
		Time: at,
		Data: forward.JobEvent{
			JobID:   "j1",
			Payload: "text \"hi\"",
			Targets: 3,
			Totals:  forward.Totals{Sent: 2, Failed: 1},
			Took:    1500 * time.Millisecond,
		},
	})
	require.True(t, ok)
	assert.Equal(t, at, entry.At)
	assert.Equal(t, forward.EventFinished, entry.Kind)
	assert.Equal(t, 2, entry.Sent)
	assert.Equal(t, 1, entry.Failed)
	assert.Equal(t, int64(1500), entry.TookMS)

	_, ok = auditEntry(eventbus.Event{Type: "other", Data: 42})
	assert.False(t, ok)
}

func TestReasonFromSignal(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StopSIGTERM, ReasonFromSignal(syscall.SIGTERM))
	assert.Equal(t, StopUnknown, ReasonFromSignal(syscall.SIGHUP))
}
