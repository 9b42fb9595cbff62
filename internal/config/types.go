package config

// Config is the whole kolpulse configuration file.
//
// All durations are Go duration strings (e.g. "50ms", "15s", "5m").
// Secrets may be left empty in the file and supplied through the
// environment (see ApplyEnv).
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	HTTP         HTTPConfig         `json:"http"`
	Fetcher      FetcherConfig      `json:"fetcher"`
	Refresh      RefreshConfig      `json:"refresh"`
	Broadcast    BroadcastConfig    `json:"broadcast"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dsn": "./kolpulse.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://kolpulse@localhost/kolpulse" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite only
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// HTTPConfig controls the API server.
//
// Security note: Token is a shared bearer token. Leave it empty only when the
// listener is bound to a trusted interface.
type HTTPConfig struct {
	Addr            string `json:"addr"`             // default: "127.0.0.1:8080"
	Token           string `json:"token,omitempty"`  // do not log
	Pprof           bool   `json:"pprof,omitempty"`  // mount /debug/pprof
	AllowInsecure   bool   `json:"allow_insecure,omitempty"` // non-loopback addr without token
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// FetcherConfig orders the upstream metrics providers.
//
// Providers are tried in list order; the public syndication endpoint is always
// tried last unless disabled. DefaultKeys holds per-provider API keys used
// when an organization has none of its own.
type FetcherConfig struct {
	RequestTimeout string            `json:"request_timeout,omitempty"`
	Providers      []ProviderConfig  `json:"providers"`
	Syndication    SyndicationConfig `json:"syndication"`
	Circuit        CircuitConfig     `json:"circuit"`
	DefaultKeys    map[string]string `json:"default_keys,omitempty"`
}

type ProviderConfig struct {
	Name       string  `json:"name"`
	BaseURL    string  `json:"base_url,omitempty"`
	Actor      string  `json:"actor,omitempty"` // apify only
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type SyndicationConfig struct {
	Disabled   bool    `json:"disabled,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// CircuitConfig controls the per-provider breaker. TripFailures 0 means the
// default (5); a negative value disables it.
type CircuitConfig struct {
	TripFailures int    `json:"trip_failures"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

type RefreshConfig struct {
	// Cooldown is the minimum interval between refreshes of one post (default "5m").
	Cooldown string `json:"cooldown"`
}

type BroadcastConfig struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	SendDelay string `json:"send_delay"` // pause between consecutive sends of one job
	RetryMax  int    `json:"retry_max"`
}

// HousekeepingConfig schedules periodic cleanup. Schedule accepts standard
// five-field cron expressions and descriptors such as "@every 10m".
type HousekeepingConfig struct {
	Disabled bool   `json:"disabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // default: "@every 10m"
	Timezone string `json:"timezone,omitempty"`
}
