package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kolpulse/internal/broadcast"
	"kolpulse/internal/config"
	"kolpulse/internal/eventbus"
	"kolpulse/internal/fetcher"
	"kolpulse/internal/housekeeping"
	"kolpulse/internal/httpapi"
	"kolpulse/internal/linkreg"
	"kolpulse/internal/refresh"
	"kolpulse/internal/runtime/supervisor"
	"kolpulse/internal/storage"
	"kolpulse/internal/transport"
	telegram "kolpulse/internal/transport/telegram/adapter"
	"kolpulse/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.DB
	adapter transport.Adapter

	fetch     *fetcher.Fetcher
	refresh   *refresh.Service
	broadcast *broadcast.Service
	links     *linkreg.Registrar
	house     *housekeeping.Service
	http      *httpapi.Server

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg, func(log logx.Logger) (transport.Adapter, error) {
		return telegram.New(tc, log)
	})
}

// adapterFactory builds the messaging adapter on the app's logger.
type adapterFactory func(log logx.Logger) (transport.Adapter, error)

// newApp wires every component. Logging comes first so the adapter and
// every service share the configured sinks.
func newApp(cfgm *config.ConfigManager, cfg *config.Config, newAdapter adapterFactory) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	ad, err := newAdapter(log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	log.With(logx.String("comp", "app")).Info("storage enabled", logx.String("driver", sc.Driver))

	fc, err := mapFetcherConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetch := fetcher.New(fc, newHTTPClient(), log)

	rc, err := mapRefreshConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	refreshSvc := refresh.New(rc, store, fetch, bus, log)

	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	broadcastSvc := broadcast.New(bc, store, ad, bus, log)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		fetch:     fetch,
		refresh:   refreshSvc,
		broadcast: broadcastSvc,
		links:     linkreg.New(store, bus, log),
		updates:   make(chan transport.Update, 256),
	}

	if hc, enabled, err := mapHousekeepingConfig(cfg); err != nil {
		_ = store.Close()
		return nil, err
	} else if enabled {
		a.house = housekeeping.New(hc, log, a.housekeepingJobs()...)
	}

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.http = httpapi.New(httpCfg, &httpapi.Handlers{
		Refresh:   refreshSvc,
		Broadcast: broadcastSvc,
		Store:     store,
	}, log)
	return a, nil
}

func (a *App) housekeepingJobs() []housekeeping.Job {
	return []housekeeping.Job{
		{Name: "refresh_claims", Run: a.store.PruneClaims},
		{Name: "broadcast_status", Run: func(_ context.Context, now time.Time) (int64, error) {
			return int64(a.broadcast.PruneStatuses(now)), nil
		}},
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// HTTPAddr is the bound API address once started.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("linkreg", func(c context.Context) error {
		return a.links.Run(c, a.updates)
	})

	// Jobs left pending or sending by a previous process are closed before
	// new ones are accepted.
	if n, err := a.broadcast.RecoverUnfinished(a.sup.Context()); err != nil {
		a.log.Warn("broadcast recovery failed", logx.Err(err))
	} else if n > 0 {
		a.log.Info("broadcast jobs recovered", logx.Int("count", n))
	}
	a.broadcast.Start(a.sup.Context())

	if a.house != nil {
		if err := a.house.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

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
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("http", a.http.Addr()))
	return nil
}

// applyConfig pushes the live-reloadable sections into running services.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if fc, err := mapFetcherConfig(newCfg); err != nil {
		a.log.Warn("invalid fetcher config; keeping previous", logx.Err(err))
	} else {
		a.fetch.Apply(fc)
	}
	if rc, err := mapRefreshConfig(newCfg); err != nil {
		a.log.Warn("invalid refresh config; keeping previous", logx.Err(err))
	} else {
		a.refresh.Apply(rc)
	}
	if bc, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.broadcast.Apply(bc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Inbound first, then workers, then the outbound transport and storage.
	step("http", 3*time.Second, func(c context.Context) error { return a.http.Stop(c) })
	step("housekeeping", 2*time.Second, func(c context.Context) error {
		if a.house != nil {
			a.house.Stop(c)
		}
		return nil
	})
	step("broadcast", 5*time.Second, func(c context.Context) error { a.broadcast.Stop(c); return nil })

	// The running broadcast job has drained; unwind the remaining loops.
	a.sup.Cancel()
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
