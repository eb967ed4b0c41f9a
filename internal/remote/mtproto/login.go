package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"teleads/internal/failure"
	"teleads/internal/remote"
	logx "teleads/pkg/logx"
)

// Prompt asks the operator for the login code (and the 2FA password when
// the account has one).
type Prompt interface {
	Code(ctx context.Context, phone string) (string, error)
	Password(ctx context.Context) (string, error)
}

type promptAuth struct {
	phone  string
	prompt Prompt
}

func (a promptAuth) Phone(context.Context) (string, error) { return a.phone, nil }

func (a promptAuth) Password(ctx context.Context) (string, error) {
	return a.prompt.Password(ctx)
}

func (a promptAuth) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	code, err := a.prompt.Code(ctx, a.phone)
	return strings.TrimSpace(code), err
}

func (a promptAuth) AcceptTermsOfService(context.Context, tg.HelpTermsOfService) error {
	return nil
}

func (a promptAuth) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("account does not exist; sign up in an official app first")
}

// Login runs the interactive code flow when the session is not yet
// authorized. The client must have been started; Start returning
// ErrAuthenticationRequired is the expected state before calling Login.
func (c *Client) Login(ctx context.Context, phone string, prompt Prompt) (remote.Identity, error) {
	select {
	case <-c.ready:
	default:
		return remote.Identity{}, errors.New("mtproto: client not started")
	}
	if strings.TrimSpace(phone) == "" {
		return remote.Identity{}, fmt.Errorf("account %s: phone required: %w", c.name, failure.ErrAuthenticationRequired)
	}
	flow := auth.NewFlow(promptAuth{phone: phone, prompt: prompt}, auth.SendCodeOptions{})
	if err := c.tc.Auth().IfNecessary(ctx, flow); err != nil {
		return remote.Identity{}, fmt.Errorf("login %s: %w", c.name, err)
	}
	u, err := c.tc.Self(ctx)
	if err != nil {
		return remote.Identity{}, classify("self", err)
	}
	c.mu.Lock()
	c.self = u
	c.runErr = nil
	c.mu.Unlock()
	id := identity(u)
	c.log.Info("logged in", logx.String("user", id.Display))
	return id, nil
}
