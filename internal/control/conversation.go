package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"teleads/internal/account"
	"teleads/internal/failure"
	"teleads/internal/forward"
	"teleads/internal/remote"
	"teleads/internal/target"
	logx "teleads/pkg/logx"
	"teleads/pkg/tgui"
)

type Targets interface {
	AddTargets(ctx context.Context, raws []string) ([]target.Target, error)
	List() []target.Target
	Len() int
}

type Forwarder interface {
	Run(ctx context.Context, job *forward.Job, progress forward.ProgressFunc) (*forward.Job, error)
	Resolve(ctx context.Context, ref remote.MessageRef) (remote.Message, error)
	Running() bool
	Current() (forward.Progress, bool)
	Config() forward.Config
}

type Joiner interface {
	JoinAll(ctx context.Context, targets []target.Target) (forward.JoinReport, error)
}

type Accounts interface {
	Statuses() []account.Status
}

// Spawner runs background work; *supervisor.Supervisor implements it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

// Notifier pushes unsolicited messages (progress, reports) to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text tgui.H) error
}

// Repeater re-runs a function on a schedule ("55m", "01:30", cron) until
// cancelled; *scheduler.Service implements it.
type Repeater interface {
	Schedule(name, spec string, fn func(ctx context.Context)) error
	Cancel(name string) bool
	Active(name string) (spec string, ok bool)
}

const repeatName = "forward-repeat"

type Deps struct {
	Targets   Targets
	Forwarder Forwarder
	Joiner    Joiner
	Accounts  Accounts
	Spawner   Spawner
	Notifier  Notifier
	Repeater  Repeater // optional
}

type Config struct {
	ControlChatID int64
	LoopSchedule  string // empty disables "send and repeat"
}

type Conversation struct {
	deps Deps

	controlChat atomic.Int64
	loop        atomic.Pointer[string]

	mu       sync.Mutex
	sessions map[int64]*Session

	log logx.Logger
}

func New(deps Deps, cfg Config, log logx.Logger) *Conversation {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Conversation{deps: deps, sessions: map[int64]*Session{}, log: log}
	c.Apply(cfg)
	return c
}

// Apply updates the control chat and repeat schedule. A changed control chat
// takes effect on the next event.
func (c *Conversation) Apply(cfg Config) {
	c.controlChat.Store(cfg.ControlChatID)
	spec := strings.TrimSpace(cfg.LoopSchedule)
	c.loop.Store(&spec)
}

func (c *Conversation) ControlChat() int64 { return c.controlChat.Load() }

func (c *Conversation) loopSchedule() string {
	if p := c.loop.Load(); p != nil {
		return *p
	}
	return ""
}

// Session returns a copy of the chat's session, if one exists.
func (c *Conversation) Session(chatID int64) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Handle advances the chat's session. ok is false when the event was ignored
// because it did not come from the control chat.
func (c *Conversation) Handle(ctx context.Context, ev Event) (reply Reply, ok bool) {
	control := c.ControlChat()
	if control == 0 || ev.ChatID != control {
		c.log.Debug("event from foreign chat ignored", logx.Int64("chat_id", ev.ChatID))
		return Reply{}, false
	}

	link := c.checkLink(ctx, ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	s, found := c.sessions[ev.ChatID]
	if !found {
		s = &Session{ChatID: ev.ChatID}
		c.sessions[ev.ChatID] = s
	}
	before := s.State
	reply = c.step(ctx, s, ev, link)
	if s.State != before {
		c.log.Debug("conversation transition",
			logx.String("from", before.String()), logx.String("to", s.State.String()),
			logx.String("action", string(ev.Action)))
	}
	return reply, true
}

// linkCheck is the outcome of resolving a message link sent while the chat
// waits for one. Resolve can sleep out a rate limit, so it never runs under
// the session lock.
type linkCheck struct {
	checked bool
	ref     remote.MessageRef
	err     error
}

func (c *Conversation) checkLink(ctx context.Context, ev Event) linkCheck {
	if ev.Action != ActionText {
		return linkCheck{}
	}
	c.mu.Lock()
	s, ok := c.sessions[ev.ChatID]
	waiting := ok && s.State == StateAwaitingMessageLink
	c.mu.Unlock()
	if !waiting {
		return linkCheck{}
	}
	ref, err := remote.ParseMessageLink(ev.Text)
	if err != nil {
		return linkCheck{}
	}
	_, err = c.deps.Forwarder.Resolve(ctx, ref)
	return linkCheck{checked: true, ref: ref, err: err}
}

func (c *Conversation) step(ctx context.Context, s *Session, ev Event, link linkCheck) Reply {
	switch ev.Action {
	case ActionStart:
		s.reset()
		return c.welcome()
	case ActionCancel:
		s.reset()
		return Reply{Text: "Cancelled.", Menu: mainMenu()}
	case ActionHelp:
		return Reply{Text: helpText(), Menu: backMenu()}
	case ActionStatus:
		return Reply{Text: c.statusText(), Menu: backMenu()}
	case ActionList:
		return Reply{Text: listText(c.deps.Targets.List()), Menu: backMenu()}
	}

	switch s.State {
	case StateAwaitingForwardMethodChoice:
		return c.onMethodChoice(s, ev)
	case StateAwaitingCustomMessage:
		return c.onCustomMessage(s, ev)
	case StateAwaitingMessageLink:
		return c.onMessageLink(s, ev, link)
	case StateAwaitingMarketplaceList:
		return c.onMarketplaceList(ctx, s, ev)
	case StateConfirmForward:
		return c.onConfirm(s, ev)
	default:
		return c.onIdle(s, ev)
	}
}

func (c *Conversation) onIdle(s *Session, ev Event) Reply {
	switch ev.Action {
	case ActionForward:
		if c.deps.Targets.Len() == 0 {
			return Reply{Text: "No targets yet. Add some with " + tgui.B("Add Marketplace") + " first.", Menu: mainMenu()}
		}
		s.State = StateAwaitingForwardMethodChoice
		return methodPrompt()
	case ActionMarketplace:
		s.State = StateAwaitingMarketplaceList
		return Reply{
			Text: "Send the group list, one link or @handle per line.",
			Menu: Menu{{{Label: "✖ Cancel", Action: ActionCancel}}},
		}
	case ActionJoinAll:
		return c.startJoin(c.deps.Targets.List(), "join all")
	case ActionStopRepeat:
		if c.deps.Repeater != nil && c.deps.Repeater.Cancel(repeatName) {
			return Reply{Text: "Repeat stopped.", Menu: mainMenu()}
		}
		return Reply{Text: "No repeat is active.", Menu: mainMenu()}
	case ActionBack:
		return c.welcome()
	}
	return Reply{Text: "Choose an action.", Menu: mainMenu()}
}

func (c *Conversation) onMethodChoice(s *Session, ev Event) Reply {
	switch ev.Action {
	case ActionCustom:
		s.State = StateAwaitingCustomMessage
		return Reply{Text: "Send the message text to forward.", Menu: backMenu()}
	case ActionLink:
		s.State = StateAwaitingMessageLink
		return Reply{
			Text: "Send the message link, e.g. " + tgui.Code("https://t.me/channel/123") + " or " + tgui.Code("https://t.me/c/123456/7"),
			Menu: backMenu(),
		}
	case ActionBack:
		s.reset()
		return c.welcome()
	}
	return methodPrompt()
}

func (c *Conversation) onCustomMessage(s *Session, ev Event) Reply {
	if ev.Action == ActionBack {
		s.State = StateAwaitingForwardMethodChoice
		return methodPrompt()
	}
	text := strings.TrimSpace(ev.Text)
	if ev.Action != ActionText || text == "" {
		return Reply{Text: "Send the message text to forward.", Menu: backMenu()}
	}
	s.Payload = forward.TextPayload(text)
	s.State = StateConfirmForward
	return c.confirmPrompt(s.Payload)
}

func (c *Conversation) onMessageLink(s *Session, ev Event, link linkCheck) Reply {
	if ev.Action == ActionBack {
		s.State = StateAwaitingForwardMethodChoice
		return methodPrompt()
	}
	if ev.Action != ActionText {
		return Reply{Text: "Send the message link.", Menu: backMenu()}
	}
	ref, err := remote.ParseMessageLink(ev.Text)
	if err != nil {
		return Reply{Text: "That is not a message link. Try again, e.g. " + tgui.Code("https://t.me/channel/123"), Menu: backMenu()}
	}
	if !link.checked || link.ref != ref {
		return Reply{Text: "Send the message link.", Menu: backMenu()}
	}
	if err := link.err; err != nil {
		c.log.Warn("message link not resolvable", logx.String("link", ref.String()), logx.Err(err))
		return Reply{Text: "Could not open " + tgui.Code(ref.String()) + ": " + tgui.Esc(failure.Reason(err)) + ". Send another link.", Menu: backMenu()}
	}
	s.Payload = forward.LinkPayload(ref)
	s.State = StateConfirmForward
	return c.confirmPrompt(s.Payload)
}

func (c *Conversation) onMarketplaceList(ctx context.Context, s *Session, ev Event) Reply {
	if ev.Action == ActionBack {
		s.reset()
		return c.welcome()
	}
	if ev.Action != ActionText || strings.TrimSpace(ev.Text) == "" {
		return Reply{Text: "Send the group list, one per line.", Menu: Menu{{{Label: "✖ Cancel", Action: ActionCancel}}}}
	}
	s.reset()
	added, err := c.deps.Targets.AddTargets(ctx, strings.Split(ev.Text, "\n"))
	if err != nil {
		c.log.Error("add targets failed", logx.Err(err))
		return Reply{Text: "Could not save the list: " + tgui.Esc(err.Error()), Menu: mainMenu()}
	}
	head := tgui.JoinH("", "Added ", tgui.B(itoa(len(added))), " new target(s), total ", tgui.B(itoa(c.deps.Targets.Len())), ".")
	if len(added) == 0 {
		return Reply{Text: head, Menu: mainMenu()}
	}
	join := c.startJoin(added, "marketplace")
	return Reply{Text: head + "\n" + join.Text, Menu: mainMenu()}
}

func (c *Conversation) onConfirm(s *Session, ev Event) Reply {
	switch ev.Action {
	case ActionConfirm:
		p := s.Payload
		s.reset()
		if c.deps.Forwarder.Running() {
			return Reply{Text: tgui.Esc(failure.ErrJobAlreadyRunning.Error()) + ".", Menu: mainMenu()}
		}
		c.launch(s.ChatID, p)
		return Reply{Text: "Forwarding started to " + tgui.B(itoa(c.deps.Targets.Len())) + " target(s). I will report here.", Menu: mainMenu()}
	case ActionConfirmRepeat:
		every := c.loopSchedule()
		if every == "" || c.deps.Repeater == nil {
			return c.confirmPrompt(s.Payload)
		}
		p := s.Payload
		chatID := s.ChatID
		s.reset()
		err := c.deps.Repeater.Schedule(repeatName, every, func(ctx context.Context) {
			if c.deps.Forwarder.Running() {
				c.log.Info("repeat tick skipped, job still running")
				return
			}
			c.runJob(ctx, chatID, p)
		})
		if err != nil {
			return Reply{Text: "Could not schedule repeat: " + tgui.Esc(err.Error()), Menu: mainMenu()}
		}
		if !c.deps.Forwarder.Running() {
			c.launch(chatID, p)
		}
		return Reply{Text: "Forwarding started; repeating on " + tgui.Code(every) + ".", Menu: mainMenu()}
	case ActionCancel, ActionBack:
		s.reset()
		return Reply{Text: "Cancelled.", Menu: mainMenu()}
	}
	return c.confirmPrompt(s.Payload)
}

func (c *Conversation) launch(chatID int64, p forward.Payload) {
	c.deps.Spawner.Go0("forward-job", func(ctx context.Context) {
		c.runJob(ctx, chatID, p)
	})
}

// runJob snapshots the registry, runs the job and sends exactly one summary.
func (c *Conversation) runJob(ctx context.Context, chatID int64, p forward.Payload) {
	job := forward.NewJob(p, c.deps.Targets.List())
	job, err := c.deps.Forwarder.Run(ctx, job, func(pr forward.Progress) {
		if pr.Done {
			return
		}
		c.notify(ctx, chatID, progressText(pr))
	})
	if err != nil {
		c.notify(ctx, chatID, "Forward not started: "+tgui.Esc(startError(err)))
		return
	}
	c.notify(ctx, chatID, summaryText(job))
}

func (c *Conversation) startJoin(targets []target.Target, label string) Reply {
	if len(targets) == 0 {
		return Reply{Text: "No targets to join.", Menu: mainMenu()}
	}
	chatID := c.ControlChat()
	c.deps.Spawner.Go0("join-"+strings.ReplaceAll(label, " ", "-"), func(ctx context.Context) {
		rep, err := c.deps.Joiner.JoinAll(ctx, targets)
		if err != nil && rep.Total() == 0 {
			c.notify(ctx, chatID, "Join not started: "+tgui.Esc(startError(err)))
			return
		}
		c.notify(ctx, chatID, joinText(rep))
	})
	return Reply{Text: "Joining " + tgui.B(itoa(len(targets))) + " target(s) in the background.", Menu: mainMenu()}
}

func (c *Conversation) notify(ctx context.Context, chatID int64, text tgui.H) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.Notify(context.WithoutCancel(ctx), chatID, text); err != nil {
		c.log.Warn("notify failed", logx.Err(err))
	}
}

func startError(err error) string {
	switch {
	case errors.Is(err, failure.ErrJobAlreadyRunning):
		return "a forward job is already running"
	case errors.Is(err, failure.ErrNoActiveAccounts):
		return "no active accounts"
	case errors.Is(err, failure.ErrInvalidJob):
		return err.Error()
	}
	return failure.Reason(err)
}
