package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "teleads/pkg/logx"
)

const yamlDoc = `
telegram:
  token: "123:abc"
  control_chat_id: -1001
mtproto:
  app_id: 42
  app_hash: deadbeef
accounts:
  - name: main
    phone: "+15550001111"
  - name: backup
forwarding:
  send_interval: 5s
  send_jitter: 2s
  loop_schedule: "30m"
storage:
  driver: sqlite
  path: ./data/teleads.sqlite
`

const tomlDoc = `
[telegram]
token = "123:abc"
control_chat_id = -1001

[mtproto]
app_id = 42
app_hash = "deadbeef"

[[accounts]]
name = "main"

[forwarding]
send_interval = "3s"
loop_schedule = "0 */2 * * *"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		body     string
		accounts int
		interval time.Duration
	}{
		{name: "yaml", file: "c.yaml", body: yamlDoc, accounts: 2, interval: 5 * time.Second},
		{name: "toml", file: "c.toml", body: tomlDoc, accounts: 1, interval: 3 * time.Second},
		{name: "json", file: "c.json", accounts: 1, interval: 0, body: `{
			"telegram": {"token": "t", "control_chat_id": 5},
			"mtproto": {"app_id": 1, "app_hash": "h"},
			"accounts": [{"name": "solo"}]
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewManager(writeFile(t, tt.file, tt.body), logx.Nop()).Load()
			require.NoError(t, err)
			assert.Len(t, cfg.Accounts, tt.accounts)
			assert.Equal(t, DefaultTargetsPath, cfg.Targets.Path)
			assert.Equal(t, DefaultSessionDir, cfg.MTProto.SessionDir)
			tm, err := cfg.Timings()
			require.NoError(t, err)
			assert.Equal(t, tt.interval, tm.SendInterval)
		})
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", yamlDoc+"\nextra: true\n")
	_, err := NewManager(p, logx.Nop()).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t", ControlChatID: 1},
			MTProto:  MTProtoConfig{AppID: 1, AppHash: "h"},
			Accounts: []AccountConfig{{Name: "a"}},
		}
	}
	require.NoError(t, Validate(base()))

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"missing control chat", func(c *Config) { c.Telegram.ControlChatID = 0 }},
		{"no accounts", func(c *Config) { c.Accounts = nil }},
		{"duplicate accounts", func(c *Config) { c.Accounts = append(c.Accounts, AccountConfig{Name: "a"}) }},
		{"bad phone", func(c *Config) { c.Accounts[0].Phone = "555" }},
		{"bad duration", func(c *Config) { c.Forwarding.SendInterval = "soon" }},
		{"negative duration", func(c *Config) { c.Forwarding.JoinDelay = "-1s" }},
		{"bad schedule", func(c *Config) { c.Forwarding.LoopSchedule = "sometimes" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			assert.Error(t, Validate(c))
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEADS_BOT_TOKEN", "from-env")
	t.Setenv("TELEADS_CONTROL_CHAT_ID", "-777")
	t.Setenv("TELEADS_API_ID", "99")

	cfg, err := NewManager(writeFile(t, "c.yaml", yamlDoc), logx.Nop()).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, int64(-777), cfg.Telegram.ControlChatID)
	assert.Equal(t, 99, cfg.MTProto.AppID)

	t.Setenv("TELEADS_API_ID", "nope")
	_, err = NewManager(writeFile(t, "c.yaml", yamlDoc), logx.Nop()).Load()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "TELEADS_API_HASH=dotenv-hash\n")
	t.Setenv("TELEADS_API_HASH", "")
	require.NoError(t, os.Unsetenv("TELEADS_API_HASH"))
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "dotenv-hash", os.Getenv("TELEADS_API_HASH"))
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a, err := parse("c.yaml", []byte(yamlDoc))
	require.NoError(t, err)
	b, err := parse("c.yaml", []byte(yamlDoc))
	require.NoError(t, err)
	assert.True(t, Diff(a, b).Empty())

	b.Forwarding.SendInterval = "9s"
	b.Accounts = b.Accounts[:1]
	ch := Diff(a, b)
	assert.Equal(t, []string{"forwarding"}, ch.Live)
	assert.Equal(t, []string{"accounts"}, ch.Restart)
}

func TestWatchPublishesValidReload(t *testing.T) {
	p := writeFile(t, "c.yaml", yamlDoc)
	m := NewManager(p, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// an invalid edit is rejected, the next valid one is published
	require.NoError(t, os.WriteFile(p, []byte(yamlDoc+"\nforwarding: 3\n"), 0o600))
	time.Sleep(2 * debounceDelay)
	updated := []byte(`
telegram: {token: "123:abc", control_chat_id: -2002}
mtproto: {app_id: 42, app_hash: deadbeef}
accounts: [{name: main}]
`)
	require.NoError(t, os.WriteFile(p, updated, 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, int64(-2002), cfg.Telegram.ControlChatID)
		assert.Equal(t, int64(-2002), m.Get().Telegram.ControlChatID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
