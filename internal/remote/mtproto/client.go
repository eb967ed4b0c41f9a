// Package mtproto implements remote.Client on top of gotd/td for one user
// account. Each Client owns a long-running connection started by Start and
// torn down by Close; all operations go through that connection.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"teleads/internal/failure"
	"teleads/internal/remote"
	logx "teleads/pkg/logx"
)

// Config identifies the application and the session file of one account.
type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
	Device      telegram.DeviceConfig
}

func (c Config) validate() error {
	if c.AppID == 0 || strings.TrimSpace(c.AppHash) == "" {
		return errors.New("mtproto: app_id and app_hash required")
	}
	if strings.TrimSpace(c.SessionPath) == "" {
		return errors.New("mtproto: session path required")
	}
	return nil
}

type Client struct {
	name string
	cfg  Config
	log  logx.Logger

	tc  *telegram.Client
	api *tg.Client

	peers *peerCache

	mu      sync.Mutex
	self    *tg.User
	cancel  context.CancelFunc
	done    chan struct{}
	ready   chan struct{}
	started bool
	runErr  error
}

var _ remote.Client = (*Client)(nil)

// New builds a client; nothing touches the network until Start.
func New(name string, cfg Config, log logx.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("mtproto: session dir: %w", err)
	}
	tc := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
		Device:         cfg.Device,
	})
	return &Client{
		name:  name,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "mtproto"), logx.String("account", name)),
		tc:    tc,
		api:   tc.API(),
		peers: newPeerCache(),
		done:  make(chan struct{}),
		ready: make(chan struct{}),
	}, nil
}

// Name is the account name the client was built for.
func (c *Client) Name() string { return c.name }

// Start connects and blocks until the session is usable or known to be
// logged out. The connection then stays up until Close or ctx is done.
// A logged-out session returns failure.ErrAuthenticationRequired; the
// connection is kept so Login can still run over it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return c.waitReady(ctx)
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		err := c.tc.Run(runCtx, func(ctx context.Context) error {
			st, err := c.tc.Auth().Status(ctx)
			if err != nil {
				c.setReady(nil, classify("auth status", err))
				return err
			}
			if !st.Authorized {
				c.setReady(nil, failure.ErrAuthenticationRequired)
			} else {
				c.setReady(st.User, nil)
			}
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("connection closed", logx.Err(err))
		}
		c.setReady(nil, fmt.Errorf("mtproto: connection closed: %w", err))
	}()
	return c.waitReady(ctx)
}

func (c *Client) setReady(u *tg.User, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ready:
		if u != nil {
			c.self = u
		}
		return
	default:
	}
	c.self = u
	c.runErr = err
	close(c.ready)
}

func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

func (c *Client) connected(ctx context.Context) error {
	select {
	case <-c.ready:
	default:
		return errors.New("mtproto: client not started")
	}
	select {
	case <-c.done:
		return errors.New("mtproto: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *Client) Self(ctx context.Context) (remote.Identity, error) {
	if err := c.connected(ctx); err != nil {
		return remote.Identity{}, err
	}
	c.mu.Lock()
	u := c.self
	c.mu.Unlock()
	if u == nil {
		fresh, err := c.tc.Self(ctx)
		if err != nil {
			return remote.Identity{}, classify("self", err)
		}
		c.mu.Lock()
		c.self = fresh
		c.mu.Unlock()
		u = fresh
	}
	return identity(u), nil
}

func identity(u *tg.User) remote.Identity {
	display := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if display == "" && u.Username != "" {
		display = "@" + u.Username
	}
	return remote.Identity{ID: u.ID, Username: u.Username, Display: display}
}

// Close stops the connection and waits for it to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-c.done
	return nil
}
