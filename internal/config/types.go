package config

// Config is the full on-disk configuration. JSON or YAML, decoded strictly.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Router    RouterConfig    `json:"router"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Access    AccessConfig    `json:"access"`
	Teams     TeamsConfig     `json:"teams"`
}

type DiscordConfig struct {
	Token         string `json:"token"`
	ApplicationID string `json:"application_id"`
	// GuildIDs limits command registration to these guilds. Empty registers globally.
	GuildIDs     []string `json:"guild_ids,omitempty"`
	LogChannelID string   `json:"log_channel_id,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RouterConfig controls the interaction dispatcher.
//
// Defaults: workers 4, queue_size 256, timeout "30s".
type RouterConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// SchedulerConfig controls recurring command execution.
//
// Defaults: min_interval "1h", run_timeout "2m", timezone local.
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Timezone    string `json:"timezone,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
	RunTimeout  string `json:"run_timeout,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/raidbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type AccessConfig struct {
	// Path of the permission document (YAML).
	Path string `json:"path"`
}

type TeamsConfig struct {
	DefaultMaxSignups int          `json:"default_max_signups,omitempty"`
	Bosses            []BossConfig `json:"bosses"`
}

// BossConfig describes one event target a team can sign up for.
type BossConfig struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	TeamSize   int    `json:"team_size"`
	MaxSignups int    `json:"max_signups,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
}
