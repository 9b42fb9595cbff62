package app

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"kolpulse/internal/broadcast"
	"kolpulse/internal/config"
	"kolpulse/internal/fetcher"
	"kolpulse/internal/housekeeping"
	"kolpulse/internal/httpapi"
	"kolpulse/internal/refresh"
	"kolpulse/internal/storage"
	telegram "kolpulse/internal/transport/telegram/adapter"
	"kolpulse/pkg/logx"
)

const defaultSQLitePath = "./kolpulse.db"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
		if strings.TrimSpace(sc.DSN) == "" {
			sc.DSN = defaultSQLitePath
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", sc.Driver)
		}
		driver = "postgres"
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, DSN: sc.DSN, BusyTimeout: busy, MaxOpenConns: sc.MaxOpenConns}, nil
}

func mapFetcherConfig(cfg *config.Config) (fetcher.Config, error) {
	fc := cfg.Fetcher
	out := fetcher.Config{
		Syndication: fetcher.SyndicationConfig{
			Disabled:      fc.Syndication.Disabled,
			BaseURL:       fc.Syndication.BaseURL,
			RatePerSecond: fc.Syndication.RatePerSec,
			Burst:         fc.Syndication.Burst,
		},
	}
	var err error
	if out.RequestTimeout, err = config.ParseDurationField("fetcher.request_timeout", fc.RequestTimeout); err != nil {
		return fetcher.Config{}, err
	}
	for i, p := range fc.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		known := false
		for _, k := range fetcher.KnownProviders {
			if k == name {
				known = true
				break
			}
		}
		if !known {
			return fetcher.Config{}, fmt.Errorf("fetcher.providers[%d].name: unknown provider %q", i, p.Name)
		}
		out.Providers = append(out.Providers, fetcher.ProviderConfig{
			Name:          name,
			BaseURL:       p.BaseURL,
			Actor:         p.Actor,
			RatePerSecond: p.RatePerSec,
			Burst:         p.Burst,
		})
	}

	out.Circuit.TripFailures = fc.Circuit.TripFailures
	if out.Circuit.BaseDelay, err = config.ParseDurationField("fetcher.circuit.base_delay", fc.Circuit.BaseDelay); err != nil {
		return fetcher.Config{}, err
	}
	if out.Circuit.MaxDelay, err = config.ParseDurationField("fetcher.circuit.max_delay", fc.Circuit.MaxDelay); err != nil {
		return fetcher.Config{}, err
	}
	if out.Circuit.ResetAfter, err = config.ParseDurationField("fetcher.circuit.reset_after", fc.Circuit.ResetAfter); err != nil {
		return fetcher.Config{}, err
	}
	return out, nil
}

// newHTTPClient is shared by every provider; per-request deadlines come from
// fetcher.Config.RequestTimeout.
func newHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 8
	tr.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: tr}
}

func mapRefreshConfig(cfg *config.Config) (refresh.Config, error) {
	cd, err := config.ParseDurationField("refresh.cooldown", cfg.Refresh.Cooldown)
	if err != nil {
		return refresh.Config{}, err
	}
	keys := fetcher.Credentials{}
	maps.Copy(keys, cfg.Fetcher.DefaultKeys)
	return refresh.Config{Cooldown: cd, DefaultKeys: keys}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	delay, err := config.ParseDurationField("broadcast.send_delay", bc.SendDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Workers:   bc.Workers,
		QueueSize: bc.QueueSize,
		SendDelay: delay,
		RetryMax:  bc.RetryMax,
	}, nil
}

func mapHousekeepingConfig(cfg *config.Config) (housekeeping.Config, bool, error) {
	hc := cfg.Housekeeping
	if hc.Disabled {
		return housekeeping.Config{}, false, nil
	}
	sched := strings.TrimSpace(hc.Schedule)
	if sched == "" {
		sched = housekeeping.DefaultSchedule
	}
	if err := housekeeping.ParseSchedule(sched); err != nil {
		return housekeeping.Config{}, false, fmt.Errorf("housekeeping.schedule: %w", err)
	}
	return housekeeping.Config{Schedule: sched, Timezone: hc.Timezone}, true, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	out := httpapi.Config{
		Addr:          hc.Addr,
		Token:         hc.Token,
		Pprof:         hc.Pprof,
		AllowInsecure: hc.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	// 0 leaves writes unbounded.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationField("http.shutdown_timeout", hc.ShutdownTimeout); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

// validate runs every mapper so a reload is rejected before it is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFetcherConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRefreshConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapHousekeepingConfig(cfg); err != nil {
		return err
	}
	_, err := mapHTTPConfig(cfg)
	return err
}
