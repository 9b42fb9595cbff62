package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KOLPULSE_"

type envOverrides struct {
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	StorageDSN    string `env:"STORAGE_DSN"`
	HTTPToken     string `env:"HTTP_TOKEN"`
	LogLevel      string `env:"LOG_LEVEL"`
}

// ApplyEnv overlays KOLPULSE_* environment variables on cfg. Only non-empty
// variables override file values.
func ApplyEnv(ctx context.Context, cfg *Config) error {
	return applyEnv(ctx, cfg, envconfig.OsLookuper())
}

func applyEnv(ctx context.Context, cfg *Config, l envconfig.Lookuper) error {
	var o envOverrides
	if err := envconfig.ProcessWith(ctx, &o, envconfig.PrefixLookuper(EnvPrefix, l)); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if o.StorageDSN != "" {
		cfg.Storage.DSN = o.StorageDSN
	}
	if o.HTTPToken != "" {
		cfg.HTTP.Token = o.HTTPToken
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}
