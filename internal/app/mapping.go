package app

import (
	"strings"

	"raidbot/internal/config"
	"raidbot/internal/router"
	"raidbot/internal/scheduler"
	"raidbot/internal/storage"
	"raidbot/internal/transport/discord"
	logx "raidbot/pkg/logx"
)

func mapDiscordConfig(cfg *config.Config) discord.Config {
	return discord.Config{
		Token:         cfg.Discord.Token,
		ApplicationID: cfg.Discord.ApplicationID,
		GuildIDs:      append([]string(nil), cfg.Discord.GuildIDs...),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Channel: logx.ChannelConfig{
			Enabled:    cfg.Logging.Channel.Enabled,
			MinLevel:   cfg.Logging.Channel.MinLevel,
			RatePerSec: cfg.Logging.Channel.RatePerSec,
		},
	}
}

// mapStorageConfig reports false when persistence is off; the scheduler
// then keeps its entries in memory for the process lifetime.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("router.timeout", cfg.Router.Timeout, config.DefaultRouterTimeout)
	if err != nil {
		return router.Options{}, err
	}
	opts := router.Options{
		Workers:   cfg.Router.Workers,
		QueueSize: cfg.Router.QueueSize,
		Timeout:   timeout,
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultRouterWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultRouterQueueSize
	}
	return opts, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	minInterval, err := config.ParseDurationOrDefault("scheduler.min_interval", cfg.Scheduler.MinInterval, config.DefaultMinInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	runTimeout, err := config.ParseDurationOrDefault("scheduler.run_timeout", cfg.Scheduler.RunTimeout, config.DefaultRunTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		MinInterval: minInterval,
		RunTimeout:  runTimeout,
	}, nil
}

func mapTeamsConfig(cfg *config.Config) config.TeamsConfig {
	t := cfg.Teams
	if t.DefaultMaxSignups <= 0 {
		t.DefaultMaxSignups = config.DefaultMaxSignups
	}
	t.Bosses = append([]config.BossConfig(nil), t.Bosses...)
	return t
}
