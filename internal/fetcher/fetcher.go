package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kolpulse/internal/model"
	"kolpulse/internal/observability/metrics"
	"kolpulse/pkg/logx"
)

const (
	ProviderTwitterAPI  = "twitterapi"
	ProviderApify       = "apify"
	ProviderSyndication = "syndication"

	defaultRequestTimeout = 15 * time.Second
)

// KnownProviders lists the provider names accepted in Config.Providers.
var KnownProviders = []string{ProviderTwitterAPI, ProviderApify}

type Config struct {
	// Providers in priority order.
	Providers      []ProviderConfig
	Syndication    SyndicationConfig
	RequestTimeout time.Duration
	Circuit        CircuitConfig
}

type ProviderConfig struct {
	Name    string
	BaseURL string
	// Actor is the apify actor ID (apify only).
	Actor         string
	RatePerSecond float64
	Burst         int
}

type SyndicationConfig struct {
	Disabled      bool
	BaseURL       string
	RatePerSecond float64
	Burst         int
}

type CircuitConfig struct {
	// TripFailures < 0 disables the breaker; 0 means default (5).
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

// Strategy is one step of the fallback chain.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, ref PostRef) (model.Metrics, error)
}

type strategyFunc struct {
	name string
	fn   func(ctx context.Context, ref PostRef) (model.Metrics, error)
}

func (s strategyFunc) Name() string { return s.name }
func (s strategyFunc) Attempt(ctx context.Context, ref PostRef) (model.Metrics, error) {
	return s.fn(ctx, ref)
}

// NewStrategy adapts a function into a Strategy.
func NewStrategy(name string, fn func(ctx context.Context, ref PostRef) (model.Metrics, error)) Strategy {
	return strategyFunc{name: name, fn: fn}
}

// Run tries each strategy in order and returns the first acceptable result
// together with the name of the strategy that produced it. Results are never
// merged across strategies.
func Run(ctx context.Context, ref PostRef, chain []Strategy) (model.Metrics, string, error) {
	fe := &FetchError{}
	for _, s := range chain {
		if err := ctx.Err(); err != nil {
			return model.Metrics{}, "", err
		}
		m, err := s.Attempt(ctx, ref)
		if err == nil {
			m = Normalize(m)
			if !Acceptable(m) {
				err = ErrInconclusiveMetrics
			}
		}
		if err != nil {
			fe.Attempts = append(fe.Attempts, AttemptError{Provider: s.Name(), Err: err})
			continue
		}
		return m, s.Name(), nil
	}
	return model.Metrics{}, "", fe
}

// provider is an authenticated upstream.
type provider interface {
	Name() string
	fetch(ctx context.Context, ref PostRef, key string) (model.Metrics, error)
}

// Fetcher builds and runs the fallback chain. Safe for concurrent use.
type Fetcher struct {
	log    logx.Logger
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	cfg       Config
	providers []provider
	synd      *syndication
	limiters  map[string]*rate.Limiter

	circuits breaker
}

func New(cfg Config, client *http.Client, log logx.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{
		log:    log.With(logx.String("comp", "fetcher")),
		client: client,
		now:    time.Now,
	}
	f.Apply(cfg)
	return f
}

// Apply swaps the provider chain. In-flight fetches keep the chain they started with.
func (f *Fetcher) Apply(cfg Config) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	providers := make([]provider, 0, len(cfg.Providers))
	limiters := make(map[string]*rate.Limiter, len(cfg.Providers)+1)
	seen := map[string]bool{}
	for _, pc := range cfg.Providers {
		name := strings.ToLower(strings.TrimSpace(pc.Name))
		if seen[name] {
			continue
		}
		var p provider
		switch name {
		case ProviderTwitterAPI:
			p = newTwitterAPI(pc, f.client)
		case ProviderApify:
			p = newApify(pc, f.client)
		default:
			f.log.Warn("unknown metrics provider ignored", logx.String("provider", pc.Name))
			continue
		}
		seen[name] = true
		providers = append(providers, p)
		limiters[name] = newLimiter(pc.RatePerSecond, pc.Burst)
	}

	var synd *syndication
	if !cfg.Syndication.Disabled {
		synd = newSyndication(cfg.Syndication, f.client)
		limiters[ProviderSyndication] = newLimiter(cfg.Syndication.RatePerSecond, cfg.Syndication.Burst)
	}

	f.mu.Lock()
	f.cfg = cfg
	f.providers = providers
	f.synd = synd
	f.limiters = limiters
	f.mu.Unlock()
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Fetch runs the chain for ref with the given credentials.
func (f *Fetcher) Fetch(ctx context.Context, ref PostRef, creds Credentials) (model.Metrics, error) {
	if ref.Empty() {
		return model.Metrics{}, &FetchError{Attempts: []AttemptError{{Provider: "input", Err: fmt.Errorf("%w: post has no external reference", ErrProviderUnavailable)}}}
	}
	m, used, err := Run(ctx, ref, f.Chain(creds))
	if err != nil {
		f.log.Debug("fetch exhausted", logx.String("post", ref.CanonicalURL()), logx.Err(err))
		return model.Metrics{}, err
	}
	f.log.Debug("fetch ok",
		logx.String("post", ref.CanonicalURL()),
		logx.String("provider", used),
		logx.Int64("impressions", m.Impressions),
		logx.Int64("likes", m.Likes),
	)
	return m, nil
}

// Chain returns the ordered strategies for one call: credentialed providers
// first, then the syndication variants.
func (f *Fetcher) Chain(creds Credentials) []Strategy {
	f.mu.RLock()
	providers := f.providers
	synd := f.synd
	limiters := f.limiters
	cfg := f.cfg
	f.mu.RUnlock()

	chain := make([]Strategy, 0, len(providers)+2)
	for _, p := range providers {
		key := creds.Key(p.Name())
		if key == "" {
			chain = append(chain, NewStrategy(p.Name(), func(context.Context, PostRef) (model.Metrics, error) {
				metrics.FetchAttemptsTotal.WithLabelValues(p.Name(), "skipped").Inc()
				return model.Metrics{}, fmt.Errorf("%w: no credential", ErrProviderUnavailable)
			}))
			continue
		}
		chain = append(chain, f.guard(p.Name(), circuitKey(p.Name(), key), limiters[p.Name()], cfg, func(ctx context.Context, ref PostRef) (model.Metrics, error) {
			return p.fetch(ctx, ref, key)
		}))
	}
	if synd != nil {
		for _, v := range synd.variants() {
			chain = append(chain, f.guard(v.name, v.name, limiters[ProviderSyndication], cfg, v.fetch))
		}
	}
	return chain
}

// guard wraps an upstream call with a circuit, the provider's rate limiter and
// a per-request timeout. circuit names the breaker; credentialed providers get
// one breaker per key so a bad key only trips its own circuit.
func (f *Fetcher) guard(name, circuit string, lim *rate.Limiter, cfg Config, call func(ctx context.Context, ref PostRef) (model.Metrics, error)) Strategy {
	return NewStrategy(name, func(ctx context.Context, ref PostRef) (model.Metrics, error) {
		if open, until := f.circuits.isOpen(f.now(), circuit, cfg.Circuit); open {
			metrics.FetchAttemptsTotal.WithLabelValues(name, "circuit_open").Inc()
			return model.Metrics{}, fmt.Errorf("%w: circuit open until %s", ErrProviderUnavailable, until.Format(time.RFC3339))
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return model.Metrics{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
			}
		}

		rctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()

		start := time.Now()
		m, err := call(rctx, ref)
		metrics.FetchAttemptDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		switch {
		case err != nil:
			if !errors.Is(err, ErrProviderUnavailable) && !errors.Is(err, ErrInconclusiveMetrics) {
				err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
			}
			f.circuits.record(f.now(), circuit, cfg.Circuit, errors.Is(err, ErrProviderUnavailable))
			metrics.FetchAttemptsTotal.WithLabelValues(name, "error").Inc()
			f.log.Debug("provider attempt failed", logx.String("provider", name), logx.Err(err))
		case !Acceptable(m):
			f.circuits.record(f.now(), circuit, cfg.Circuit, false)
			metrics.FetchAttemptsTotal.WithLabelValues(name, "inconclusive").Inc()
		default:
			f.circuits.record(f.now(), circuit, cfg.Circuit, false)
			metrics.FetchAttemptsTotal.WithLabelValues(name, "ok").Inc()
		}
		metrics.FetchOpenCircuits.Set(float64(f.OpenCircuits()))
		return m, err
	})
}

// OpenCircuits reports how many provider circuits are open right now.
func (f *Fetcher) OpenCircuits() int { return f.circuits.openCount(f.now()) }
