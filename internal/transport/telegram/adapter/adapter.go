// Package adapter connects the bot transport to the Telegram Bot API
// through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "teleads/internal/runtime/supervisor"
	kit "teleads/internal/transport"
	logx "teleads/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendPerSecond caps outgoing messages across all chats.
	SendPerSecond int
}

const defaultSendPerSecond = 20

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	menuMu   sync.Mutex
	menuSent []kit.BotCommand
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendPerSecond <= 0 {
		cfg.SendPerSecond = defaultSendPerSecond
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram.adapter")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendPerSecond), cfg.SendPerSecond),
	}
	a.bot.Handle(tele.OnText, a.onText)
	a.bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

// SetLogger replaces the bootstrap logger; call it before Start.
func (a *Adapter) SetLogger(log logx.Logger) {
	if log.IsZero() {
		return
	}
	a.log = log.With(logx.String("comp", "telegram.adapter"))
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID, msg.FromUsername = m.Sender.ID, m.Sender.Username
	}
	a.push(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	m := c.Message()
	if cb == nil || m == nil || m.Chat == nil {
		return nil
	}
	up := &kit.Callback{ID: cb.ID, ChatID: m.Chat.ID, MessageID: m.ID, Data: cb.Data}
	if cb.Sender != nil {
		up.FromID = cb.Sender.ID
	}
	a.push(kit.Update{Kind: kit.UpdateCallback, Callback: up})
	return nil
}

// push never blocks the poll loop; a full consumer drops the update.
func (a *Adapter) push(up kit.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))

	a.sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// telebot's Start returns only on Stop; an early return is restarted.
	a.sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped", logx.Int64("count", int64(n)), logx.Int("chan_cap", capacity))
	}
}

// Stop waits at most two seconds (or ctx) for the poll loop; a pending
// long poll must not hold up shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running = nil, false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

// SendText splits long text; markup goes on the last chunk so the buttons
// stay under the text they act on.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, strings.EqualFold(opt.ParseMode, tele.ModeHTML))
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		if i < len(chunks)-1 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the message text; overflow goes out as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, strings.EqualFold(opt.ParseMode, tele.ModeHTML))
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt)); err != nil {
		return err
	}
	if len(chunks) > 1 {
		rest := strings.Join(chunks[1:], "\n")
		plain := &kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
		_, err := a.SendText(ctx, kit.ChatTarget{ChatID: ref.ChatID}, rest, plain)
		return err
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendLog posts a plain log line; it backs the logx telegram sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the command menu; unchanged lists are not
// sent again.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sameCommands(a.menuSent, cmds) {
		return nil
	}
	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		tc = append(tc, tele.Command{Text: c.Command, Description: d})
	}
	if err := a.bot.SetCommands(tc); err != nil {
		return err
	}
	a.menuSent = append([]kit.BotCommand(nil), cmds...)
	a.log.Info("menu commands updated", logx.Int("count", len(tc)))
	return nil
}

func sameCommands(a, b []kit.BotCommand) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
