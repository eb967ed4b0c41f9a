// Package account owns the sending identities and their remote clients.
//
// Callers borrow an *Account for one operation; they must not keep it
// across jobs. Health state is always re-derived on read, so a rate limit
// recorded by one goroutine is visible to the next Acquire of any other.
package account

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"teleads/internal/failure"
	"teleads/internal/remote"
	logx "teleads/pkg/logx"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRateLimited
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "active"
	case StateRateLimited:
		return "rate-limited"
	case StateDisabled:
		return "disabled"
	default:
		return "logged-out"
	}
}

// Account is one sending identity. Mutable fields are guarded by the pool.
type Account struct {
	ID    string
	Phone string

	client remote.Client

	display string
	state   State
	until   time.Time
	reason  string
}

func New(id, phone string, client remote.Client) *Account {
	return &Account{ID: id, Phone: phone, client: client}
}

// Client returns the remote handle for the duration of one operation.
func (a *Account) Client() remote.Client { return a.client }

// Status is a read-only view used for reports.
type Status struct {
	ID      string
	Display string
	State   State
	Until   time.Time
	Reason  string
}

type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	byID     map[string]*Account

	now func() time.Time
	log logx.Logger
}

type Option func(*Pool)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

func WithLogger(log logx.Logger) Option { return func(p *Pool) { p.log = log } }

func NewPool(opts ...Option) *Pool {
	p := &Pool{byID: map[string]*Account{}, now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Add registers accounts in order. Duplicate ids are rejected.
func (p *Pool) Add(accs ...*Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range accs {
		if a == nil {
			continue
		}
		if _, ok := p.byID[a.ID]; ok {
			return fmt.Errorf("account %q registered twice", a.ID)
		}
		p.byID[a.ID] = a
		p.accounts = append(p.accounts, a)
	}
	return nil
}

func (p *Pool) Get(id string) (*Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	return a, ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// ActiveAccounts returns authenticated accounts that are not rate-limited.
// Expired rate limits are cleared here.
func (p *Pool) ActiveAccounts() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Pool) activeLocked() []*Account {
	now := p.now()
	for _, a := range p.accounts {
		if a.state == StateRateLimited && !now.Before(a.until) {
			a.state = StateAuthenticated
			a.until = time.Time{}
			p.log.Info("account rate limit expired", logx.String("account", a.ID))
		}
	}
	return lo.Filter(p.accounts, func(a *Account, _ int) bool { return a.state == StateAuthenticated })
}

// Acquire returns ActiveAccounts()[i mod len].
func (p *Pool) Acquire(i int) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := p.activeLocked()
	if len(active) == 0 {
		return nil, failure.ErrNoActiveAccounts
	}
	if i < 0 {
		i = -i
	}
	return active[i%len(active)], nil
}

// MarkAuthenticated moves an account to the active set unless it was disabled.
func (p *Pool) MarkAuthenticated(id, display string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if !ok || a.state == StateDisabled {
		return
	}
	a.display = display
	a.state = StateAuthenticated
	a.reason = ""
}

// MarkRateLimited excludes acc from ActiveAccounts until the deadline passes.
// A later deadline never gets shortened.
func (p *Pool) MarkRateLimited(acc *Account, until time.Time) {
	if acc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc.state == StateDisabled || acc.state == StateUnauthenticated {
		return
	}
	if acc.state == StateRateLimited && acc.until.After(until) {
		return
	}
	acc.state = StateRateLimited
	acc.until = until
	p.log.Warn("account rate limited", logx.String("account", acc.ID), logx.Time("until", until))
}

// MarkDisabled removes acc for the rest of the process lifetime.
func (p *Pool) MarkDisabled(acc *Account, reason string) {
	if acc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acc.state = StateDisabled
	acc.reason = reason
	acc.until = time.Time{}
	p.log.Warn("account disabled", logx.String("account", acc.ID), logx.String("reason", reason))
}

func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeLocked()
	return lo.Map(p.accounts, func(a *Account, _ int) Status {
		return Status{ID: a.ID, Display: a.display, State: a.state, Until: a.until, Reason: a.reason}
	})
}

// Close closes every client; errors are joined.
func (p *Pool) Close() error {
	p.mu.Lock()
	accs := append([]*Account(nil), p.accounts...)
	p.mu.Unlock()

	var errs []error
	for _, a := range accs {
		if a.client == nil {
			continue
		}
		if err := a.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}
