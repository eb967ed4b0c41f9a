package logx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatSender struct {
	mu    sync.Mutex
	lines []string
}

func (c *chatSender) SendLog(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
	return nil
}

func (c *chatSender) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	got := formatLine([]byte(`{"level":"warn","time":"x","message":"job failed","job":"42","comp":"forward"}`))
	assert.Equal(t, "[WARN] job failed\n- comp=forward\n- job=42", got)
	assert.Equal(t, "plain text", formatLine([]byte("  plain text \n")))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelWarn, ParseLevel("WARNING", LevelInfo))
	assert.Equal(t, LevelDebug, ParseLevel(" debug", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("nope", LevelInfo))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("discarded", String("k", "v"))
	assert.False(t, l.With(String("a", "b")).IsZero())
}

func TestTelegramSinkFiltersByLevel(t *testing.T) {
	t.Parallel()
	sender := &chatSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}}, sender)
	defer func() { _ = svc.Close(context.Background()) }()

	log.Warn("before chat is set")
	svc.SetTelegramChat(-100)
	log.Info("too quiet")
	log.Error("boom", String("job", "7"))

	require.Eventually(t, func() bool { return len(sender.got()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sender.got()[0], "[ERROR] boom")
	assert.Contains(t, sender.got()[0], "- job=7")
}

func TestWithCarriesFields(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	l := Logger{base: zerolog.New(&buf), hasBase: true}.With(String("comp", "pool"))
	l.Info("hello", Int("n", 3))
	out := buf.String()
	assert.Contains(t, out, `"comp":"pool"`)
	assert.Contains(t, out, `"n":3`)
	assert.Contains(t, out, `"caller":"logx_test.go:`)
}

type syncBuffer struct {
	mu sync.Mutex
	b  []byte
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.b)
}
