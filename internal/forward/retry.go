// Package forward runs forward jobs: it pairs targets with accounts, makes
// sure the account can post there, sends, and tallies outcomes.
package forward

import (
	"context"
	"sync/atomic"
	"time"

	"teleads/internal/failure"
	logx "teleads/pkg/logx"
)

const DefaultRateLimitCeiling = 2 * time.Minute

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy is the single retry wrapper every remote call goes through.
//
// An operation runs once. A rate limit whose wait is within the ceiling is
// slept off and the operation runs exactly one more time; a longer wait is
// returned to the caller untouched. Unclassified errors come back as
// *failure.TransientFailure.
type Policy struct {
	ceiling atomic.Int64
	sleep   SleepFunc
	log     logx.Logger
}

type PolicyOption func(*Policy)

func WithPolicySleep(fn SleepFunc) PolicyOption {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func WithPolicyLogger(log logx.Logger) PolicyOption {
	return func(p *Policy) { p.log = log }
}

func NewPolicy(ceiling time.Duration, opts ...PolicyOption) *Policy {
	p := &Policy{sleep: sleepCtx, log: logx.Nop()}
	p.SetCeiling(ceiling)
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetCeiling is safe to call while operations are in flight.
func (p *Policy) SetCeiling(d time.Duration) {
	if d <= 0 {
		d = DefaultRateLimitCeiling
	}
	p.ceiling.Store(int64(d))
}

func (p *Policy) Ceiling() time.Duration { return time.Duration(p.ceiling.Load()) }

func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	if err == nil {
		return v, nil
	}
	wait, limited := failure.AsRateLimited(err)
	if !limited {
		return v, classify(err)
	}
	if wait > p.Ceiling() {
		return v, err
	}

	p.log.Debug("rate limited, waiting before retry", logx.Duration("wait", wait))
	if serr := p.sleep(ctx, wait); serr != nil {
		var zero T
		return zero, serr
	}
	v, err = op(ctx)
	return v, classify(err)
}

func classify(err error) error {
	if failure.IsClassified(err) {
		return err
	}
	return failure.Transient(err)
}
