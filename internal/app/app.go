// Package app assembles the process: config, logging, the panel database,
// state/settings stores, the Telegram adapter, the command router and the
// notification engines. It owns startup order, config hot-reload fan-out and
// bounded shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/config"
	"github.com/ARES11430/marzban-user-info-bot/internal/notify"
	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/router"
	rtsup "github.com/ARES11430/marzban-user-info-bot/internal/runtime/supervisor"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
	kit "github.com/ARES11430/marzban-user-info-bot/internal/transport"
	"github.com/ARES11430/marzban-user-info-bot/internal/transport/telegram/adapter"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	panel    *panel.Service
	store    state.Store
	settings *settings.Store

	adapter *adapter.Adapter
	notif   *notify.Service
	router  *router.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	set, err := settings.Open(settingsPath(cfg), log.With(logx.String("comp", "settings")))
	if err != nil {
		return nil, err
	}

	stCfg, err := mapStateConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(stCfg, log.With(logx.String("comp", "state")))
	if err != nil {
		return nil, err
	}

	pan, err := panel.Open(panel.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, log.With(logx.String("comp", "panel")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("panel database opened", logx.String("driver", cfg.Database.Driver))

	sink := &textSink{ad: ad}
	notif := notify.New(mapNotifyConfig(cfg), pan, store, set, sink,
		log.With(logx.String("comp", "notify")))

	rt := router.New(ad, pan, set, cfg.Telegram.MainAdminID,
		log.With(logx.String("comp", "router")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		panel:    pan,
		store:    store,
		settings: set,
		adapter:  ad,
		notif:    notif,
		router:   rt,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish so a bad
	// edit never tears down a running component.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if err := a.notif.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Hot-reload fan-out: the panel database and state store stay pinned to
	// their boot config, everything else applies live.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.router.SetMainAdminID(cfg.Telegram.MainAdminID)
	a.notif.Apply(mapNotifyConfig(cfg))

	if old != nil {
		if old.Database != cfg.Database {
			a.log.Warn("database config changed; restart required for changes to take effect")
		}
		if old.State != cfg.State {
			a.log.Warn("state config changed; restart required for changes to take effect")
		}
		if old.Telegram.Token != cfg.Telegram.Token {
			a.log.Warn("telegram token changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("state", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("panel", 1*time.Second, func(context.Context) error { return a.panel.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// textSink adapts the Telegram adapter to the notify delivery interface.
// All rendered alerts are HTML.
type textSink struct {
	ad *adapter.Adapter
}

func (s *textSink) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := s.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: "HTML"})
	return err
}
