package config

import (
	"reflect"
	"strings"

	"kolpulse/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Secrets (tokens, DSNs, API keys) are never included;
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", set(newCfg.Storage.DSN)),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", set(newCfg.HTTP.Token)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	if !reflect.DeepEqual(oldCfg.Fetcher, newCfg.Fetcher) {
		changed = append(changed, "fetcher")
		names := make([]string, 0, len(newCfg.Fetcher.Providers))
		for _, p := range newCfg.Fetcher.Providers {
			names = append(names, p.Name)
		}
		attrs = append(attrs,
			logx.String("fetcher.providers", strings.Join(names, ",")),
			logx.Bool("fetcher.syndication", !newCfg.Fetcher.Syndication.Disabled),
			logx.Int("fetcher.default_keys", len(newCfg.Fetcher.DefaultKeys)),
		)
	}
	if oldCfg.Refresh != newCfg.Refresh {
		changed = append(changed, "refresh")
		attrs = append(attrs, logx.String("refresh.cooldown", newCfg.Refresh.Cooldown))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.String("broadcast.send_delay", newCfg.Broadcast.SendDelay),
			logx.Int("broadcast.retry_max", newCfg.Broadcast.RetryMax),
		)
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		attrs = append(attrs, logx.String("housekeeping.schedule", newCfg.Housekeeping.Schedule))
	}
	return changed, attrs
}

// RestartRequired reports sections that are only read at startup.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "http", "housekeeping":
			out = append(out, s)
		}
	}
	return out
}
