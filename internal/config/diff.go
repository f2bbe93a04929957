package config

import (
	"reflect"
	"sort"
	"strings"

	logx "raidbot/pkg/logx"
)

// ChangeSummary describes what differs between two configs.
type ChangeSummary struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
	// Fields are safe log attributes. Secrets are never included.
	Fields []logx.Field
}

func (s ChangeSummary) Changed(section string) bool {
	for _, v := range s.Sections {
		if v == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var s ChangeSummary

	od, nd := oldCfg.Discord, newCfg.Discord
	if od.Token != nd.Token || od.ApplicationID != nd.ApplicationID || !reflect.DeepEqual(od.GuildIDs, nd.GuildIDs) {
		s.Sections = append(s.Sections, "discord")
		s.RestartRequired = append(s.RestartRequired, "discord")
		s.Fields = append(s.Fields,
			logx.Bool("discord.token_changed", od.Token != nd.Token),
			logx.Int("discord.guild_count", len(nd.GuildIDs)),
		)
	} else if strings.TrimSpace(od.LogChannelID) != strings.TrimSpace(nd.LogChannelID) {
		s.Sections = append(s.Sections, "discord")
		s.Fields = append(s.Fields, logx.Bool("discord.log_channel_set", strings.TrimSpace(nd.LogChannelID) != ""))
	}

	if oldCfg.Logging != newCfg.Logging {
		s.Sections = append(s.Sections, "logging")
		s.Fields = append(s.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}

	if oldCfg.Router != newCfg.Router {
		s.Sections = append(s.Sections, "router")
		if oldCfg.Router.Workers != newCfg.Router.Workers || oldCfg.Router.QueueSize != newCfg.Router.QueueSize {
			s.RestartRequired = append(s.RestartRequired, "router")
		}
		s.Fields = append(s.Fields,
			logx.Int("router.workers", newCfg.Router.Workers),
			logx.Int("router.queue_size", newCfg.Router.QueueSize),
			logx.String("router.timeout", newCfg.Router.Timeout),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		s.Sections = append(s.Sections, "scheduler")
		s.Fields = append(s.Fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.min_interval", newCfg.Scheduler.MinInterval),
		)
	}

	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		s.Sections = append(s.Sections, "storage")
		s.RestartRequired = append(s.RestartRequired, "storage")
		n := derefStorage(newCfg.Storage)
		s.Fields = append(s.Fields,
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
		)
	}

	if oldCfg.Access != newCfg.Access {
		s.Sections = append(s.Sections, "access")
		s.RestartRequired = append(s.RestartRequired, "access")
	}

	if !reflect.DeepEqual(oldCfg.Teams, newCfg.Teams) {
		s.Sections = append(s.Sections, "teams")
		s.Fields = append(s.Fields, logx.Int("teams.boss_count", len(newCfg.Teams.Bosses)))
	}

	sort.Strings(s.Sections)
	sort.Strings(s.RestartRequired)
	return s
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
