package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a plain-text log line to a chat. The bot adapter
// implements it.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const (
	tgQueueSize = 256
	tgMaxLen    = 3500
)

// telegramSink is a zerolog.LevelWriter that never blocks logging: lines
// over the rate limit or beyond the queue are dropped.
type telegramSink struct {
	sender Sender
	queue  chan tgLine

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type tgLine struct {
	chatID int64
	text   string
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan tgLine, tgQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) setChat(id int64) {
	t.mu.Lock()
	t.chatID = id
	t.mu.Unlock()
}

func (t *telegramSink) configure(minLevel zerolog.Level, perSec int) {
	perSec = max(1, perSec)
	t.mu.Lock()
	t.minLevel = minLevel
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	t.mu.Unlock()
	t.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.run(ctx)
	})
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-t.queue:
			if t.sender != nil {
				_ = t.sender.SendLog(ctx, ln.chatID, ln.text)
			}
		}
	}
}

func (t *telegramSink) stop(ctx context.Context) {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(zerolog.InfoLevel, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, minLevel, lim := t.chatID, t.minLevel, t.limiter
	t.mu.Unlock()

	if chatID == 0 || t.sender == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{chatID: chatID, text: text}:
	default:
	}
	return len(p), nil
}

// formatLine renders a JSON log line as "[LEVEL] message" followed by one
// "- key=value" line per field, keys sorted.
func formatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), tgMaxLen)
	}
	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), tgMaxLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
