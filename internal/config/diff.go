package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, store DSN, provider backends) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ModelsChanged is true when the primary backend's role models
	// differ. NewModels carries the full new set.
	ModelsChanged bool
	NewModels     RoleModels

	// DiscordChannelsChanged is true when the watched channel list differs.
	DiscordChannelsChanged bool
	NewDiscordChannels     []string

	// GuardrailPacksChanged is true when the rule pack directory moved.
	GuardrailPacksChanged bool
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ModelsChanged &&
		!d.DiscordChannelsChanged && !d.GuardrailPacksChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if primaryModels(old) != primaryModels(new) {
		d.ModelsChanged = true
		d.NewModels = primaryModels(new)
	}

	if !slices.Equal(old.Discord.Channels, new.Discord.Channels) {
		d.DiscordChannelsChanged = true
		d.NewDiscordChannels = new.Discord.Channels
	}

	if old.Guardrail.PacksDir != new.Guardrail.PacksDir {
		d.GuardrailPacksChanged = true
	}

	return d
}

func primaryModels(cfg *Config) RoleModels {
	if len(cfg.Providers.LLM) == 0 {
		return RoleModels{}
	}
	return cfg.Providers.LLM[0].Models
}
