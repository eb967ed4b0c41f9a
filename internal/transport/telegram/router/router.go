// Package router feeds Telegram updates into the control conversation and
// renders its replies. Updates of one chat are handled in order by the same
// worker; different chats run in parallel.
package router

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"teleads/internal/control"
	"teleads/internal/runtime/supervisor"
	kit "teleads/internal/transport"
	logx "teleads/pkg/logx"
	"teleads/pkg/tgui"
)

// Conversation is satisfied by *control.Conversation.
type Conversation interface {
	Handle(ctx context.Context, ev control.Event) (control.Reply, bool)
	ControlChat() int64
}

type Config struct {
	Workers int
	// Timeout bounds one update; zero means no limit.
	Timeout time.Duration
	// QueueSize is the per-worker backlog before updates are refused.
	QueueSize int
}

type Router struct {
	adapter kit.Adapter
	conv    Conversation
	cfg     Config
	log     logx.Logger

	handler HandlerFunc

	mu     sync.RWMutex
	queues []chan func()
}

func New(adapter kit.Adapter, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	r := &Router{adapter: adapter, cfg: cfg, log: log.With(logx.String("comp", "telegram.router"))}
	r.handler = Chain(r.handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cfg.Timeout))
	return r
}

// SetConversation binds the handler; it must be called before Run. The
// conversation and the router depend on each other (the router is its
// Notifier), hence the late binding.
func (r *Router) SetConversation(c Conversation) { r.conv = c }

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))

	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		q := make(chan func(), r.cfg.QueueSize)
		queues[i] = q
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return r.work(c, idx, q)
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.mu.Lock()
	r.queues = queues
	r.mu.Unlock()
	r.log.Info("dispatcher started", logx.Int("workers", len(queues)))

	defer func() {
		r.mu.Lock()
		r.queues = nil
		r.mu.Unlock()
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) work(ctx context.Context, idx int, q <-chan func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q:
			if !ok {
				return nil
			}
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	ev, ok := toEvent(up)
	if !ok {
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "")
		}
		return
	}
	req := &Request{Update: up, ChatID: ev.ChatID, Event: ev, ReqID: newReqID()}
	switch {
	case up.Callback != nil:
		req.FromID, req.CallbackID = up.Callback.FromID, up.Callback.ID
	case up.Message != nil:
		req.FromID = up.Message.FromID
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
	)

	if !r.enqueue(req.ChatID, func() { _ = r.handler(ctx, req) }) {
		// other chats get no sign the bot is there
		if r.conv == nil || req.ChatID != r.conv.ControlChat() {
			req.Logger.Debug("update dropped: queue full")
			if req.CallbackID != "" {
				_ = r.adapter.AnswerCallback(ctx, req.CallbackID, "")
			}
			return
		}
		req.Logger.Warn("update refused: queue full")
		if req.CallbackID != "" {
			_ = r.adapter.AnswerCallback(ctx, req.CallbackID, "busy, try again")
			return
		}
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: req.ChatID}, "busy, try again", nil)
	}
}

func (r *Router) enqueue(chatID int64, job func()) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.queues) == 0 {
		return false
	}
	select {
	case r.queues[shard(chatID, len(r.queues))] <- job:
		return true
	default:
		return false
	}
}

func shard(chatID int64, n int) int {
	h := fnv.New32a()
	var b [8]byte
	for i := range b {
		b[i] = byte(chatID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return int(h.Sum32() % uint32(n))
}

// handle is the innermost handler: run the conversation, then render.
func (r *Router) handle(ctx context.Context, req *Request) error {
	if req.CallbackID != "" {
		defer func() { _ = r.adapter.AnswerCallback(context.WithoutCancel(ctx), req.CallbackID, "") }()
	}
	reply, ok := r.conv.Handle(ctx, req.Event)
	if !ok || reply.Text == "" {
		return nil
	}
	opt := &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	if m := markup(reply.Menu); m != nil {
		opt.Markup = m
	}
	// a button press edits the message it belongs to
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		err := r.adapter.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, string(reply.Text), opt)
		if err == nil {
			return nil
		}
		req.Logger.Debug("edit failed, sending instead", logx.Err(err))
	}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: req.ChatID}, string(reply.Text), opt)
	return err
}

// Notify sends an unsolicited HTML message; it implements
// control.Notifier.
func (r *Router) Notify(ctx context.Context, chatID int64, text tgui.H) error {
	if chatID == 0 {
		return errors.New("router: no chat")
	}
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, string(text),
		&kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	return err
}

// PublishCommands pushes BotCommands to the client menu when the adapter
// supports it.
func (r *Router) PublishCommands(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, BotCommands)
}
