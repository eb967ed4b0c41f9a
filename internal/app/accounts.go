package app

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"teleads/internal/account"
	"teleads/internal/failure"
	"teleads/internal/remote/mtproto"
	logx "teleads/pkg/logx"
)

// connectParallel bounds how many MTProto handshakes run at once.
const connectParallel = 4

// connectAccounts starts every client and sorts the accounts into active
// and disabled. The bot is already answering while this runs; the status
// screen shows accounts as logged-out until they connect.
func (a *App) connectAccounts(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(connectParallel)
	for _, c := range a.clients {
		g.Go(func() error {
			a.connect(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	active := len(a.accounts.ActiveAccounts())
	if active == 0 {
		a.log.Error("no account could connect; forwarding is unavailable", logx.Int("accounts", len(a.clients)))
		return
	}
	a.log.Info("accounts connected", logx.Int("active", active), logx.Int("total", len(a.clients)))
}

func (a *App) connect(ctx context.Context, c *mtproto.Client) {
	acc, ok := a.accounts.Get(c.Name())
	if !ok {
		return
	}
	err := c.Start(ctx)
	if err == nil {
		self, serr := c.Self(ctx)
		if serr == nil {
			a.accounts.MarkAuthenticated(acc.ID, self.Display)
			return
		}
		err = serr
	}
	if ctx.Err() != nil {
		return
	}
	disable(a.accounts, acc, err)
}

func disable(pool *account.Pool, acc *account.Account, err error) {
	if errors.Is(err, failure.ErrAuthenticationRequired) {
		pool.MarkDisabled(acc, "login required: teleads login --account "+acc.ID)
		return
	}
	pool.MarkDisabled(acc, err.Error())
}
