// Package remotetest provides a scripted in-memory remote.Client.
package remotetest

import (
	"context"
	"sync"

	"teleads/internal/remote"
	"teleads/internal/target"
)

const (
	OpSelf        = "self"
	OpJoinPublic  = "join_public"
	OpJoinInvite  = "join_invite"
	OpSendText    = "send_text"
	OpResolve     = "resolve"
	OpForward     = "forward"
	OpClose       = "close"
	anyArg        = "*"
	defaultUserID = 1000
)

type Call struct {
	Op  string
	Arg string
}

type key struct{ op, arg string }

// Client records every call and replays queued errors. Queued errors for a
// specific argument win over errors queued for any argument; an empty queue
// means success.
type Client struct {
	Name string

	mu     sync.Mutex
	calls  []Call
	queued map[key][]error
	always map[key]error
	onCall func(Call)
	closed bool
}

func New(name string) *Client {
	return &Client{Name: name, queued: map[key][]error{}, always: map[key]error{}}
}

// Fail queues errs for op on arg, consumed one per call. arg "" matches any.
func (c *Client) Fail(op, arg string, errs ...error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{op, normArg(arg)}
	c.queued[k] = append(c.queued[k], errs...)
	return c
}

// FailAlways makes every call of op on arg return err.
func (c *Client) FailAlways(op, arg string, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.always[key{op, normArg(arg)}] = err
	return c
}

// OnCall registers a hook run after each call is recorded.
func (c *Client) OnCall(fn func(Call)) *Client {
	c.mu.Lock()
	c.onCall = fn
	c.mu.Unlock()
	return c
}

func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count returns how many times op was called (any argument).
func (c *Client) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func normArg(arg string) string {
	if arg == "" {
		return anyArg
	}
	return arg
}

func (c *Client) next(op, arg string) error {
	c.mu.Lock()
	call := Call{Op: op, Arg: arg}
	c.calls = append(c.calls, call)
	hook := c.onCall

	var err error
	for _, k := range []key{{op, arg}, {op, anyArg}} {
		if q := c.queued[k]; len(q) > 0 {
			err = q[0]
			c.queued[k] = q[1:]
			break
		}
		if e, ok := c.always[k]; ok {
			err = e
			break
		}
	}
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return err
}

func (c *Client) Self(ctx context.Context) (remote.Identity, error) {
	if err := c.next(OpSelf, ""); err != nil {
		return remote.Identity{}, err
	}
	return remote.Identity{ID: defaultUserID, Username: c.Name, Display: c.Name}, nil
}

func (c *Client) JoinPublic(ctx context.Context, handle string) error {
	return c.next(OpJoinPublic, handle)
}

func (c *Client) JoinInvite(ctx context.Context, hash string) error {
	return c.next(OpJoinInvite, hash)
}

func (c *Client) SendText(ctx context.Context, to target.Target, text string) error {
	return c.next(OpSendText, to.ID)
}

func (c *Client) ResolveMessage(ctx context.Context, ref remote.MessageRef) (remote.Message, error) {
	if err := c.next(OpResolve, ref.String()); err != nil {
		return remote.Message{}, err
	}
	return remote.Message{Ref: ref, Owner: c.Name}, nil
}

func (c *Client) Forward(ctx context.Context, msg remote.Message, to target.Target) error {
	return c.next(OpForward, to.ID)
}

func (c *Client) Close() error {
	err := c.next(OpClose, "")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

var _ remote.Client = (*Client)(nil)
