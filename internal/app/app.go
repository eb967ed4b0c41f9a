// Package app assembles the bot: config, logging, storage, the account
// pool, the forwarding core, the control conversation and the Telegram
// transport. It owns their lifecycle and fans config reloads out to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"teleads/internal/account"
	"teleads/internal/config"
	"teleads/internal/control"
	"teleads/internal/eventbus"
	"teleads/internal/forward"
	"teleads/internal/remote/mtproto"
	"teleads/internal/runtime/supervisor"
	"teleads/internal/storage"
	"teleads/internal/target"
	"teleads/internal/task/scheduler"
	kit "teleads/internal/transport"
	telegram "teleads/internal/transport/telegram/adapter"
	"teleads/internal/transport/telegram/router"
	logx "teleads/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router

	targets  *target.Registry
	accounts *account.Pool
	clients  []*mtproto.Client

	policy *forward.Policy
	joins  *forward.Coordinator
	orch   *forward.Orchestrator
	sched  *scheduler.Service
	conv   *control.Conversation

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing connects to
// Telegram until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	t, err := cfg.Timings()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(mapAdapter(cfg, t), logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	// the telegram sink needs its chat before it is enabled, otherwise
	// Apply warns about a missing target
	logCfg := mapLogging(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramChat(cfg.Telegram.ControlChatID)
	logSvc.Apply(logCfg)
	ad.SetLogger(log)
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	if a.store, err = storage.Open(StorageConfig(cfg, t), log); err != nil {
		return nil, err
	}
	if a.store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	a.targets = target.NewRegistry(target.NewFileStore(cfg.Targets.Path), log.With(logx.String("comp", "targets")))
	n, err := a.targets.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("targets %s: %w", cfg.Targets.Path, err)
	}
	log.Info("targets loaded", logx.Int("count", n), logx.String("path", cfg.Targets.Path))
	if a.store != nil {
		recs, err := a.store.ListMemberships(ctx)
		if err != nil {
			return nil, err
		}
		log.Debug("memberships restored", logx.Int("count", a.targets.Restore(recs)))
	}

	a.accounts = account.NewPool(account.WithLogger(log.With(logx.String("comp", "accounts"))))
	for _, ac := range cfg.Accounts {
		if ac.Disabled {
			continue
		}
		c, err := newClient(cfg, ac, log)
		if err != nil {
			return nil, err
		}
		a.clients = append(a.clients, c)
		if err := a.accounts.Add(account.New(ac.Name, ac.Phone, c)); err != nil {
			return nil, err
		}
	}
	if len(a.clients) == 0 {
		return nil, errors.New("no enabled accounts")
	}

	fwdLog := log.With(logx.String("comp", "forward"))
	a.policy = forward.NewPolicy(t.RateLimitCeiling, forward.WithPolicyLogger(fwdLog))
	joinOpts := []forward.CoordinatorOption{
		forward.WithJoinDelay(joinDelay(t)),
		forward.WithCoordinatorLogger(fwdLog),
	}
	orchOpts := []forward.Option{
		forward.WithConfig(mapForward(cfg, t)),
		forward.WithBus(a.bus),
		forward.WithLogger(fwdLog),
	}
	// a nil store must not become a non-nil interface
	if a.store != nil {
		joinOpts = append(joinOpts, forward.WithRecorder(a.store))
		orchOpts = append(orchOpts, forward.WithDedup(a.store))
	} else if t.DuplicateWindow > 0 {
		log.Warn("duplicate_window ignored: storage is disabled")
	}
	a.joins = forward.NewCoordinator(a.targets, a.accounts, a.policy, joinOpts...)
	a.orch = forward.NewOrchestrator(a.accounts, a.joins, a.policy, orchOpts...)
	a.sched = scheduler.New(mapScheduler(cfg), log.With(logx.String("comp", "scheduler")))
	return a, nil
}

// Done is closed once the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.router = router.New(a.adapter, mapRouter(cfg), a.log)
	a.conv = control.New(control.Deps{
		Targets:   a.targets,
		Forwarder: a.orch,
		Joiner:    a.joins,
		Accounts:  a.accounts,
		Spawner:   a.sup,
		Notifier:  a.router,
		Repeater:  a.sched,
	}, mapControl(cfg), a.log.With(logx.String("comp", "control")))
	a.router.SetConversation(a.conv)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("router.menu", func(c context.Context) {
		if err := a.router.PublishCommands(c); err != nil {
			a.log.Warn("menu commands not published", logx.Err(err))
		}
	})
	a.sup.Go0("accounts.connect", a.connectAccounts)
	if a.store != nil {
		a.sup.Go0("audit", a.runAudit)
	}
	a.sup.Go0("config.reload", a.runReload)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("accounts", a.accounts.Len()), logx.Int("targets", a.targets.Len()))
	return nil
}

// Stop unwinds components in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("accounts", 3*time.Second, func(context.Context) error { return a.accounts.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close(ctx)
}
