package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

var validLevels = map[string]bool{"": true, "TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

// Validate performs the static checks shared by startup and hot reload.
// Component-specific checks (provider names, cron expressions) are done by
// the code that maps this config onto each component.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if !validLevels[strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when logging.file.enabled"))
	}

	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if cfg.Storage.MaxOpenConns < 0 {
		errs = append(errs, errors.New("storage.max_open_conns must be >= 0"))
	}

	check("http.read_timeout", cfg.HTTP.ReadTimeout)
	check("http.write_timeout", cfg.HTTP.WriteTimeout)
	check("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	check("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	check("fetcher.circuit.base_delay", cfg.Fetcher.Circuit.BaseDelay)
	check("fetcher.circuit.max_delay", cfg.Fetcher.Circuit.MaxDelay)
	check("fetcher.circuit.reset_after", cfg.Fetcher.Circuit.ResetAfter)
	seen := map[string]bool{}
	for i, p := range cfg.Fetcher.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("fetcher.providers[%d].name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("fetcher.providers[%d]: duplicate provider %q", i, p.Name))
		}
		seen[name] = true
		if p.RatePerSec < 0 || p.Burst < 0 {
			errs = append(errs, fmt.Errorf("fetcher.providers[%d]: rate_per_sec and burst must be >= 0", i))
		}
	}

	check("refresh.cooldown", cfg.Refresh.Cooldown)

	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.QueueSize < 0 || cfg.Broadcast.RetryMax < 0 {
		errs = append(errs, errors.New("broadcast.workers, queue_size and retry_max must be >= 0"))
	}
	check("broadcast.send_delay", cfg.Broadcast.SendDelay)

	if tz := strings.TrimSpace(cfg.Housekeeping.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.timezone: invalid %q: %w", tz, err))
		}
	}

	return errors.Join(errs...)
}
