package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRouterWorkers   = 4
	DefaultRouterQueueSize = 256
	DefaultRouterTimeout   = 30 * time.Second
	DefaultMinInterval     = time.Hour
	DefaultRunTimeout      = 2 * time.Minute
	DefaultMaxSignups      = 20

	// MaxTeamMembers caps team sizes and signup limits. The private editor
	// shows one button per member in four rows of five, and Discord allows
	// five rows, the last of which holds confirm and cancel.
	MaxTeamMembers = 20
)

// ParseDurationField parses a Go duration string. Empty means zero.
// path names the config key in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Validate checks a freshly parsed config. It is the ConfigManager validator
// and the startup gate.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Router.Workers < 0 || cfg.Router.QueueSize < 0 {
		errs = append(errs, errors.New("router.workers and router.queue_size must be >= 0"))
	}
	if _, err := ParseDurationField("router.timeout", cfg.Router.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.min_interval", cfg.Scheduler.MinInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.run_timeout", cfg.Scheduler.RunTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if n := cfg.Teams.DefaultMaxSignups; n < 0 || n > MaxTeamMembers {
		errs = append(errs, fmt.Errorf("teams.default_max_signups must be between 0 and %d", MaxTeamMembers))
	}
	seen := map[string]bool{}
	for i, b := range cfg.Teams.Bosses {
		key := strings.TrimSpace(b.Key)
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("teams.bosses[%d].key is required", i))
		case strings.ContainsAny(key, "_ "):
			errs = append(errs, fmt.Errorf("teams.bosses[%d].key %q must not contain '_' or spaces", i, key))
		case seen[key]:
			errs = append(errs, fmt.Errorf("teams.bosses[%d].key %q is duplicated", i, key))
		}
		seen[key] = true
		if b.TeamSize <= 0 || b.TeamSize > MaxTeamMembers {
			errs = append(errs, fmt.Errorf("teams.bosses[%d].team_size must be between 1 and %d", i, MaxTeamMembers))
		}
		if b.MaxSignups < 0 || b.MaxSignups > MaxTeamMembers {
			errs = append(errs, fmt.Errorf("teams.bosses[%d].max_signups must be between 0 and %d", i, MaxTeamMembers))
		}
	}
	return errors.Join(errs...)
}

// Boss returns the boss with the given key.
func (t TeamsConfig) Boss(key string) (BossConfig, bool) {
	for _, b := range t.Bosses {
		if b.Key == key {
			if b.MaxSignups <= 0 {
				b.MaxSignups = t.DefaultMaxSignups
			}
			if b.MaxSignups <= 0 {
				b.MaxSignups = DefaultMaxSignups
			}
			if b.Name == "" {
				b.Name = b.Key
			}
			return b, true
		}
	}
	return BossConfig{}, false
}
