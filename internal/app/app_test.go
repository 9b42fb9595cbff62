package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolpulse/internal/config"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	started bool
	stopped bool
	sent    []transport.ChatTarget
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func staticAdapter(ad transport.Adapter) adapterFactory {
	return func(logx.Logger) (transport.Adapter, error) { return ad, nil }
}

const testConfig = `{
  "telegram": {"token": "123:abc"},
  "logging": {"level": "ERROR", "console": true},
  "storage": {"driver": "sqlite", "dsn": ":memory:"},
  "http": {"addr": "127.0.0.1:0"},
  "fetcher": {"providers": [{"name": "twitterapi"}], "circuit": {"trip_failures": 3}},
  "refresh": {"cooldown": "5m"},
  "broadcast": {"workers": 1, "queue_size": 4, "send_delay": "1ms"},
  "housekeeping": {"schedule": "@every 1h"}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func loadConfig(t *testing.T, body string) (*config.ConfigManager, *config.Config) {
	t.Helper()
	cfgm := config.NewConfigManager(writeConfig(t, body))
	cfg, err := cfgm.Load()
	require.NoError(t, err)
	return cfgm, cfg
}

func TestValidateRunsEveryMapper(t *testing.T) {
	tests := []struct {
		name  string
		patch func(c *config.Config)
		want  string
	}{
		{name: "ok", patch: func(*config.Config) {}},
		{name: "unknown provider", patch: func(c *config.Config) {
			c.Fetcher.Providers = []config.ProviderConfig{{Name: "nitter"}}
		}, want: "unknown provider"},
		{name: "bad cron", patch: func(c *config.Config) { c.Housekeeping.Schedule = "every minute" }, want: "housekeeping.schedule"},
		{name: "bad send delay", patch: func(c *config.Config) { c.Broadcast.SendDelay = "soon" }, want: "broadcast.send_delay"},
		{name: "postgres without dsn", patch: func(c *config.Config) { c.Storage = config.StorageConfig{Driver: "postgres"} }, want: "storage.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cfg := loadConfig(t, testConfig)
			tt.patch(cfg)
			err := validate(cfg)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMapFetcherConfig(t *testing.T) {
	_, cfg := loadConfig(t, testConfig)
	cfg.Fetcher.Providers = []config.ProviderConfig{{Name: " Apify ", Actor: "a1", RatePerSec: 2}, {Name: "twitterapi"}}
	cfg.Fetcher.Circuit.BaseDelay = "2s"

	fc, err := mapFetcherConfig(cfg)
	require.NoError(t, err)
	require.Len(t, fc.Providers, 2)
	assert.Equal(t, "apify", fc.Providers[0].Name)
	assert.Equal(t, "a1", fc.Providers[0].Actor)
	assert.Equal(t, 2.0, fc.Providers[0].RatePerSecond)
	assert.Equal(t, 3, fc.Circuit.TripFailures)
	assert.Equal(t, 2*time.Second, fc.Circuit.BaseDelay)
}

func TestMapStorageDefaults(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultSQLitePath, sc.DSN)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "pgx", DSN: "postgres://x"}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
}

func TestMapHousekeeping(t *testing.T) {
	hc, enabled, err := mapHousekeepingConfig(&config.Config{})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "@every 10m", hc.Schedule)

	_, enabled, err = mapHousekeepingConfig(&config.Config{Housekeeping: config.HousekeepingConfig{Disabled: true, Schedule: "junk"}})
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestAppStartStop(t *testing.T) {
	cfgm, cfg := loadConfig(t, testConfig)
	ad := &fakeAdapter{}
	a, err := newApp(cfgm, cfg, staticAdapter(ad))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	base := "http://" + a.HTTPAddr()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// No KOLs yet: every audience is empty.
	resp, err = http.Post(base+"/broadcasts", "application/json", strings.NewReader(`{"content":"hi","target":"dm"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	runs := a.house.RunAll(ctx)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Empty(t, r.Error, r.Job)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	ad.mu.Lock()
	defer ad.mu.Unlock()
	assert.True(t, ad.started)
	assert.True(t, ad.stopped)
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestApplyConfigUpdatesLiveServices(t *testing.T) {
	cfgm, cfg := loadConfig(t, testConfig)
	a, err := newApp(cfgm, cfg, staticAdapter(&fakeAdapter{}))
	require.NoError(t, err)
	defer a.store.Close()

	next := *cfg
	next.Broadcast.SendDelay = "20ms"
	next.Fetcher.Providers = []config.ProviderConfig{{Name: "apify"}}
	a.applyConfig(cfg, &next)

	chain := a.fetch.Chain(nil)
	require.NotEmpty(t, chain)
	assert.Equal(t, "apify", chain[0].Name())
}

func TestNewAppBuildsAdapterOnConfiguredLogger(t *testing.T) {
	cfgm, cfg := loadConfig(t, testConfig)
	path := filepath.Join(t.TempDir(), "app.log")
	cfg.Logging = config.LoggingConfig{Level: "INFO", File: config.LoggingFile{Enabled: true, Path: path}}

	var got logx.Logger
	a, err := newApp(cfgm, cfg, func(log logx.Logger) (transport.Adapter, error) {
		got = log
		return &fakeAdapter{}, nil
	})
	require.NoError(t, err)
	defer a.store.Close()
	require.False(t, got.IsZero())

	got.Info("adapter ready")
	require.NoError(t, a.logs.Close())
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "adapter ready")
}

func TestNewAppAdapterError(t *testing.T) {
	cfgm, cfg := loadConfig(t, testConfig)
	boom := errors.New("bad token")
	_, err := newApp(cfgm, cfg, func(logx.Logger) (transport.Adapter, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}
