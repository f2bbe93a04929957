package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"raidbot/internal/access"
	"raidbot/internal/command"
	"raidbot/internal/config"
	"raidbot/internal/editlock"
	"raidbot/internal/eventbus"
	"raidbot/internal/router"
	rtsup "raidbot/internal/runtime/supervisor"
	"raidbot/internal/scheduler"
	"raidbot/internal/storage"
	"raidbot/internal/team"
	"raidbot/internal/transport"
	"raidbot/internal/transport/discord"
	logx "raidbot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter

	access   *access.Store
	locks    *editlock.Store
	teams    *team.Service
	sched    *scheduler.Service
	registry *command.Registry
	router   *router.Dispatcher

	interactions chan transport.Interaction
}

// scheduledRunner lets the scheduler be built before the dispatcher it
// replays through; d is set once in New.
type scheduledRunner struct{ d *router.Dispatcher }

func (r *scheduledRunner) RunScheduled(ctx context.Context, inv router.Invocation) (transport.MessageRef, error) {
	return r.d.RunScheduled(ctx, inv)
}

func (r *scheduledRunner) Validate(route string, args []command.Argument) error {
	return r.d.Validate(route, args)
}

// New builds every component from the config at cfgPath. Nothing is
// started; a registry or config error is returned before any I/O happens.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "discord"))
	ad, err := discord.New(mapDiscordConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately and warns when the channel sink is on
	// without a target, so bootstrap with the sink off and set the target first.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Channel.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	logSvc.SetChannelTarget(cfg.Discord.LogChannelID)
	logSvc.Apply(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, persistent, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if persistent {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; scheduled commands will not survive a restart")
	}

	acc, err := access.Open(cfg.Access.Path, log.With(logx.String("comp", "access")), bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	locks := editlock.New()
	teams := team.New(log.With(logx.String("comp", "team")), locks, store, bus, mapTeamsConfig(cfg))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	runner := &scheduledRunner{}
	sched := scheduler.New(schedCfg, store, runner, ad, log.With(logx.String("comp", "scheduler")), bus)

	var cmds []command.Command
	cmds = append(cmds, team.Commands(teams)...)
	cmds = append(cmds, scheduler.Commands(sched)...)
	cmds = append(cmds, access.Commands(acc)...)
	reg, err := command.NewRegistry(cmds, team.Actions(teams))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("command registry: %w", err)
	}

	opts, err := mapRouterOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := router.New(log.With(logx.String("comp", "router")), ad, reg, acc, opts)
	runner.d = disp

	return &App{
		cfgPath:      cfgPath,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		adapter:      ad,
		access:       acc,
		locks:        locks,
		teams:        teams,
		sched:        sched,
		registry:     reg,
		router:       disp,
		interactions: make(chan transport.Interaction, opts.QueueSize),
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

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRouterOptions(cfg); err != nil {
			return err
		}
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.interactions); err != nil {
		return fmt.Errorf("start discord adapter: %w", err)
	}
	if err := a.registerCommands(a.sup.Context()); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.interactions)
	})

	// Debug-level event trace; components subscribe on their own for anything else.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.String("guild_id", e.GuildID), logx.Time("time", e.Time))
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
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	// A broken watcher only stops hot reload of role requirements; retry it.
	a.sup.GoRestart("access.watch", func(c context.Context) error {
		return a.access.Watch(c)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute), rtsup.WithMaxRestarts(10))
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log.With(logx.String("comp", "systemd")))
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("commands", len(a.registry.TopLevel())))
	return nil
}

func (a *App) registerCommands(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.adapter.RegisterCommands(rctx, a.registry.Specs(rctx)); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

// applyConfig fans a committed config out to the hot-reloadable components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sum := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sum.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sum.Sections, ","))}, sum.Fields...)
	a.log.Debug("config change summary", fields...)
	if len(sum.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(sum.RestartRequired, ",")))
	}

	// update the log target first so Apply does not warn about a missing one
	a.logs.SetChannelTarget(newCfg.Discord.LogChannelID)
	a.logs.Apply(mapLogConfig(newCfg))

	if opts, err := mapRouterOptions(newCfg); err != nil {
		a.log.Warn("invalid router config; keeping previous", logx.Err(err))
	} else {
		a.router.SetTimeout(opts.Timeout)
	}

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	if sum.Changed("teams") {
		a.teams.SetTeams(mapTeamsConfig(newCfg))
		// Boss choices are part of the registered command payload.
		if err := a.registerCommands(ctx); err != nil {
			a.log.Warn("command re-registration failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; log the leak and keep going.
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

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
