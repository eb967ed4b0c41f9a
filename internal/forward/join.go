package forward

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"teleads/internal/account"
	"teleads/internal/failure"
	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

const DefaultJoinDelay = 2 * time.Second

// Accounts is the slice of the account pool the forwarding core needs.
type Accounts interface {
	ActiveAccounts() []*account.Account
	Acquire(i int) (*account.Account, error)
	MarkRateLimited(acc *account.Account, until time.Time)
	MarkDisabled(acc *account.Account, reason string)
}

// Memberships is implemented by *target.Registry.
type Memberships interface {
	Membership(id, accountID string) target.Membership
	SetMembership(id, accountID string, m target.Membership)
	MarkInaccessible(id, reason string)
}

// MembershipRecorder persists membership facts. Errors are logged only.
type MembershipRecorder interface {
	RecordMembership(ctx context.Context, rec target.MembershipRecord) error
}

type MembershipStatus int

const (
	AlreadyMember MembershipStatus = iota + 1
	Joined
	MembershipFailed
)

func (s MembershipStatus) String() string {
	switch s {
	case AlreadyMember:
		return "already-member"
	case Joined:
		return "joined"
	case MembershipFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type MembershipResult struct {
	Status MembershipStatus
	Reason string
}

func (r MembershipResult) OK() bool { return r.Status == AlreadyMember || r.Status == Joined }

// JoinReport tallies a batch join. Skipped counts targets already known to be
// inaccessible, which cost no remote call.
type JoinReport struct {
	Joined  int
	Already int
	Skipped int
	Failed  int
}

func (r JoinReport) Total() int { return r.Joined + r.Already + r.Skipped + r.Failed }

// Coordinator makes sure an account is a member of a target before sending.
type Coordinator struct {
	members  Memberships
	accounts Accounts
	retry    *Policy
	recorder MembershipRecorder

	delay atomic.Int64
	sleep SleepFunc
	now   func() time.Time
	log   logx.Logger
}

type CoordinatorOption func(*Coordinator)

func WithJoinDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.SetJoinDelay(d) }
}

func WithRecorder(r MembershipRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

func WithCoordinatorSleep(fn SleepFunc) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func WithCoordinatorLogger(log logx.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

func NewCoordinator(members Memberships, accounts Accounts, retry *Policy, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		members:  members,
		accounts: accounts,
		retry:    retry,
		sleep:    sleepCtx,
		now:      time.Now,
		log:      logx.Nop(),
	}
	c.delay.Store(int64(DefaultJoinDelay))
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetJoinDelay sets the pause after a successful join. Negative means zero.
func (c *Coordinator) SetJoinDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.delay.Store(int64(d))
}

func (c *Coordinator) JoinDelay() time.Duration { return time.Duration(c.delay.Load()) }

// Ensure returns without a remote call when the target is inaccessible, the
// account is a known member, or the target cannot be joined by reference.
func (c *Coordinator) Ensure(ctx context.Context, acc *account.Account, t target.Target) MembershipResult {
	switch c.members.Membership(t.ID, acc.ID) {
	case target.MembershipInaccessible:
		return MembershipResult{Status: MembershipFailed, Reason: "inaccessible"}
	case target.MembershipMember:
		return MembershipResult{Status: AlreadyMember}
	}
	if !t.Kind.RequiresMembership() {
		return MembershipResult{Status: AlreadyMember}
	}

	cl := acc.Client()
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if t.Kind == target.KindInviteHash {
			return cl.JoinInvite(ctx, t.ID)
		}
		return cl.JoinPublic(ctx, t.ID)
	})

	log := c.log.With(logx.String("account", acc.ID), logx.String("target", t.String()))
	switch {
	case err == nil:
		c.setMember(ctx, t.ID, acc.ID)
		log.Info("joined")
		if d := c.JoinDelay(); d > 0 {
			_ = c.sleep(ctx, d)
		}
		return MembershipResult{Status: Joined}
	case errors.Is(err, failure.ErrAlreadyParticipant):
		c.setMember(ctx, t.ID, acc.ID)
		return MembershipResult{Status: AlreadyMember}
	case errors.Is(err, failure.ErrTargetInaccessible):
		reason := failure.Reason(err)
		c.members.MarkInaccessible(t.ID, reason)
		c.record(ctx, target.MembershipRecord{TargetID: t.ID, State: target.MembershipInaccessible, Reason: err.Error()})
		log.Warn("target inaccessible", logx.Err(err))
		return MembershipResult{Status: MembershipFailed, Reason: reason}
	case errors.Is(err, failure.ErrAuthenticationRequired):
		c.accounts.MarkDisabled(acc, "session expired")
	}
	if wait, ok := failure.AsRateLimited(err); ok {
		c.accounts.MarkRateLimited(acc, c.now().Add(wait))
	}
	log.Warn("join failed", logx.Err(err))
	return MembershipResult{Status: MembershipFailed, Reason: failure.Reason(err)}
}

func (c *Coordinator) setMember(ctx context.Context, targetID, accountID string) {
	c.members.SetMembership(targetID, accountID, target.MembershipMember)
	c.record(ctx, target.MembershipRecord{TargetID: targetID, AccountID: accountID, State: target.MembershipMember})
}

func (c *Coordinator) record(ctx context.Context, rec target.MembershipRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordMembership(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("record membership failed", logx.String("target", rec.TargetID), logx.Err(err))
	}
}

// JoinAll joins targets with one stream per active account. Stream k takes
// targets k, k+n, k+2n... and runs them one after another. An account that
// leaves the active set mid-batch hands its remaining targets to whichever
// account Acquire returns; joins on one account never overlap, so a borrowed
// account interleaves the orphaned targets with its own stream.
func (c *Coordinator) JoinAll(ctx context.Context, targets []target.Target) (JoinReport, error) {
	var rep JoinReport
	if len(targets) == 0 {
		return rep, nil
	}
	active := c.accounts.ActiveAccounts()
	if len(active) == 0 {
		return rep, failure.ErrNoActiveAccounts
	}
	streams := min(len(active), len(targets))

	var mu sync.Mutex
	tally := func(fn func(*JoinReport)) {
		mu.Lock()
		fn(&rep)
		mu.Unlock()
	}
	locks := make(map[*account.Account]*sync.Mutex, len(active))
	lockFor := func(acc *account.Account) *sync.Mutex {
		mu.Lock()
		defer mu.Unlock()
		l, ok := locks[acc]
		if !ok {
			l = &sync.Mutex{}
			locks[acc] = l
		}
		return l
	}

	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < streams; k++ {
		own := active[k]
		g.Go(func() error {
			for i := k; i < len(targets); i += streams {
				t := targets[i]
				if gctx.Err() != nil {
					tally(func(r *JoinReport) { r.Failed++ })
					continue
				}
				acc, err := c.pick(own, i)
				if err != nil {
					tally(func(r *JoinReport) { r.Failed++ })
					continue
				}
				if c.members.Membership(t.ID, acc.ID) == target.MembershipInaccessible {
					tally(func(r *JoinReport) { r.Skipped++ })
					continue
				}
				l := lockFor(acc)
				l.Lock()
				res := c.Ensure(gctx, acc, t)
				l.Unlock()
				tally(func(r *JoinReport) {
					switch res.Status {
					case Joined:
						r.Joined++
					case AlreadyMember:
						r.Already++
					default:
						r.Failed++
					}
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	c.log.Info("join batch done",
		logx.Int("joined", rep.Joined), logx.Int("already", rep.Already),
		logx.Int("skipped", rep.Skipped), logx.Int("failed", rep.Failed))
	return rep, ctx.Err()
}

func (c *Coordinator) pick(own *account.Account, i int) (*account.Account, error) {
	for _, a := range c.accounts.ActiveAccounts() {
		if a == own {
			return own, nil
		}
	}
	return c.accounts.Acquire(i)
}
