package forward

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"teleads/internal/account"
	"teleads/internal/eventbus"
	"teleads/internal/failure"
	"teleads/internal/remote"
	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

const (
	EventStarted  = "forward.started"
	EventFinished = "forward.finished"

	DefaultSendInterval = 5 * time.Second
	DefaultReportEvery  = 5
)

// Config holds the hot-reloadable timings of the orchestrator.
type Config struct {
	SendInterval    time.Duration
	SendJitter      time.Duration
	ReportEvery     int
	DuplicateWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendInterval < 0 {
		c.SendInterval = 0
	}
	if c.SendJitter < 0 {
		c.SendJitter = 0
	}
	if c.ReportEvery <= 0 {
		c.ReportEvery = DefaultReportEvery
	}
	return c
}

// Dedup is implemented by storage.Store.
type Dedup interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// JobEvent is the Data of forward.* bus events.
type JobEvent struct {
	JobID   string
	Payload string
	Targets int
	Totals  Totals
	Took    time.Duration
	Err     string
}

// ProgressFunc is called from the job goroutine; it must not block for long.
type ProgressFunc func(Progress)

// Orchestrator runs at most one job at a time.
type Orchestrator struct {
	accounts Accounts
	joins    *Coordinator
	retry    *Policy
	bus      eventbus.Bus
	dedup    Dedup

	cfg     atomic.Pointer[Config]
	running atomic.Bool
	current atomic.Pointer[Progress]

	sleep  SleepFunc
	now    func() time.Time
	jitter func(limit time.Duration) time.Duration
	log    logx.Logger
}

type Option func(*Orchestrator)

func WithConfig(cfg Config) Option { return func(o *Orchestrator) { o.Apply(cfg) } }

func WithBus(b eventbus.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

func WithDedup(d Dedup) Option { return func(o *Orchestrator) { o.dedup = d } }

func WithLogger(log logx.Logger) Option { return func(o *Orchestrator) { o.log = log } }

func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(accounts Accounts, joins *Coordinator, retry *Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		accounts: accounts,
		joins:    joins,
		retry:    retry,
		sleep:    sleepCtx,
		now:      time.Now,
		jitter:   randomJitter,
		log:      logx.Nop(),
	}
	o.Apply(Config{SendInterval: DefaultSendInterval})
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

// Apply swaps the timings; a running job picks them up on its next target.
func (o *Orchestrator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	o.cfg.Store(&cfg)
}

func (o *Orchestrator) Config() Config { return *o.cfg.Load() }

func (o *Orchestrator) Running() bool { return o.running.Load() }

// Current returns the progress of the running job, if any.
func (o *Orchestrator) Current() (Progress, bool) {
	if p := o.current.Load(); p != nil && o.running.Load() {
		return *p, true
	}
	return Progress{}, false
}

// Resolve looks the source message up with the first active account.
func (o *Orchestrator) Resolve(ctx context.Context, ref remote.MessageRef) (remote.Message, error) {
	acc, err := o.accounts.Acquire(0)
	if err != nil {
		return remote.Message{}, err
	}
	msg, err := Execute(ctx, o.retry, func(ctx context.Context) (remote.Message, error) {
		return acc.Client().ResolveMessage(ctx, ref)
	})
	if err != nil {
		o.penalize(acc, err)
		return remote.Message{}, err
	}
	return msg, nil
}

// Run processes every target of job in snapshot order and returns job.
// Guard and precondition errors are returned before any target is touched.
// Per-target failures never abort the job; they become outcomes.
func (o *Orchestrator) Run(ctx context.Context, job *Job, progress ProgressFunc) (*Job, error) {
	if !o.running.CompareAndSwap(false, true) {
		return job, failure.ErrJobAlreadyRunning
	}
	defer func() {
		o.current.Store(nil)
		o.running.Store(false)
	}()

	if job == nil {
		return nil, fmt.Errorf("%w: nil job", failure.ErrInvalidJob)
	}
	if err := job.Payload.Validate(); err != nil {
		return job, err
	}
	if len(job.Targets) == 0 {
		return job, fmt.Errorf("%w: no targets", failure.ErrInvalidJob)
	}
	if len(o.accounts.ActiveAccounts()) == 0 {
		return job, failure.ErrNoActiveAccounts
	}

	log := o.log.With(logx.String("job", job.ID))
	total := len(job.Targets)
	job.StartedAt = o.now()
	o.current.Store(&Progress{JobID: job.ID, Total: total})
	o.publish(EventStarted, job, nil)
	log.Info("forward job started", logx.String("payload", job.Payload.String()), logx.Int("targets", total))

	var (
		msg        remote.Message
		resolveErr error
	)
	if job.Payload.Link != nil {
		msg, resolveErr = o.Resolve(ctx, *job.Payload.Link)
		if resolveErr != nil {
			log.Warn("source message unavailable", logx.Err(resolveErr))
		}
	}

	for i, t := range job.Targets {
		cfg := o.Config()

		var out Outcome
		switch {
		case resolveErr != nil:
			out = Outcome{Target: t, Kind: Failed, Reason: "source: " + failure.Reason(resolveErr)}
		case ctx.Err() != nil:
			out = Outcome{Target: t, Kind: Failed, Reason: failure.Reason(ctx.Err())}
		default:
			out = o.deliver(ctx, cfg, job, msg, i, t)
		}
		job.record(out)
		if out.Kind != Sent {
			log.Debug("target not sent",
				logx.String("target", t.String()), logx.String("outcome", out.Kind.String()),
				logx.String("reason", out.Reason))
		}

		processed := i + 1
		p := Progress{JobID: job.ID, Totals: job.Totals, Processed: processed, Total: total, Done: processed == total}
		o.current.Store(&p)
		if progress != nil && (processed%cfg.ReportEvery == 0 || p.Done) {
			progress(p)
		}

		if processed < total && resolveErr == nil && ctx.Err() == nil {
			_ = o.sleep(ctx, cfg.SendInterval+o.jitter(cfg.SendJitter))
		}
	}

	job.FinishedAt = o.now()
	if job.Totals.Processed() != total {
		log.Error("outcome count mismatch", logx.Int("processed", job.Totals.Processed()), logx.Int("targets", total))
	}
	o.publish(EventFinished, job, resolveErr)
	log.Info("forward job finished", logx.String("summary", job.Summary()), logx.Duration("took", job.Took()))
	return job, nil
}

func (o *Orchestrator) deliver(ctx context.Context, cfg Config, job *Job, msg remote.Message, i int, t target.Target) Outcome {
	acc, err := o.accounts.Acquire(i)
	if err != nil {
		return Outcome{Target: t, Kind: Failed, Reason: failure.Reason(err)}
	}
	out := Outcome{Target: t, Account: acc.ID}

	if res := o.joins.Ensure(ctx, acc, t); !res.OK() {
		out.Kind, out.Reason = Skipped, res.Reason
		return out
	}

	dupKey := ""
	if cfg.DuplicateWindow > 0 && o.dedup != nil {
		dupKey = "fwd:" + job.Payload.Key() + ":" + t.ID
		until, ok, err := o.dedup.GetDedup(ctx, dupKey)
		if err != nil {
			o.log.Warn("dedup lookup failed", logx.Err(err))
		} else if ok && until.After(o.now()) {
			out.Kind, out.Reason = Skipped, "duplicate"
			return out
		}
	}

	cl := acc.Client()
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		if job.Payload.Link != nil {
			return cl.Forward(ctx, msg, t)
		}
		return cl.SendText(ctx, t, job.Payload.Text)
	})
	if err != nil {
		o.penalize(acc, err)
		out.Kind, out.Reason = Failed, failure.Reason(err)
		return out
	}

	out.Kind = Sent
	if dupKey != "" {
		if err := o.dedup.PutDedup(context.WithoutCancel(ctx), dupKey, o.now().Add(cfg.DuplicateWindow)); err != nil {
			o.log.Warn("dedup store failed", logx.Err(err))
		}
	}
	return out
}

// penalize applies the account side effects of a classified error.
func (o *Orchestrator) penalize(acc *account.Account, err error) {
	if wait, ok := failure.AsRateLimited(err); ok {
		o.accounts.MarkRateLimited(acc, o.now().Add(wait))
		return
	}
	if errors.Is(err, failure.ErrAuthenticationRequired) {
		o.accounts.MarkDisabled(acc, "session expired")
	}
}

func (o *Orchestrator) publish(typ string, job *Job, err error) {
	if o.bus == nil {
		return
	}
	ev := JobEvent{
		JobID:   job.ID,
		Payload: job.Payload.String(),
		Targets: len(job.Targets),
		Totals:  job.Totals,
		Took:    job.Took(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: o.now(), Data: ev})
}
