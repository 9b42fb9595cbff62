// Package refresh is the caller side of the metrics fetcher: it enforces the
// per-post cooldown, resolves the organization's provider credentials, and
// persists accepted metrics together with a snapshot.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/fetcher"
	"kolpulse/internal/model"
	"kolpulse/internal/observability/metrics"
	"kolpulse/internal/storage"
	"kolpulse/pkg/logx"
)

const defaultCooldown = 5 * time.Minute

type Config struct {
	// Cooldown is the minimum interval between two refreshes of one post.
	Cooldown time.Duration
	// DefaultKeys are used for providers the organization has no key for.
	DefaultKeys fetcher.Credentials
}

type Store interface {
	GetPost(ctx context.Context, id int64) (model.Post, error)
	ListCampaignPosts(ctx context.Context, campaignID, kolID int64) ([]model.Post, error)
	GetKOL(ctx context.Context, id int64) (model.KOL, error)
	ProviderCredentials(ctx context.Context, organizationID int64) (map[string]string, error)
	ClaimRefresh(ctx context.Context, postID int64, now, until time.Time) (bool, time.Time, error)
	SaveMetrics(ctx context.Context, postID int64, m model.Metrics, at time.Time) (model.MetricSnapshot, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, ref fetcher.PostRef, creds fetcher.Credentials) (model.Metrics, error)
}

type Service struct {
	store   Store
	fetcher Fetcher
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// Result is the outcome of one successful refresh.
type Result struct {
	Post     model.Post           `json:"post"`
	Snapshot model.MetricSnapshot `json:"snapshot"`
}

func New(cfg Config, store Store, f Fetcher, bus eventbus.Bus, log logx.Logger) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		fetcher: f,
		bus:     bus,
		log:     log.With(logx.String("comp", "refresh")),
		now:     time.Now,
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Refresh fetches fresh metrics for one post. The cooldown slot is taken
// before the upstream call and is kept even when the fetch fails, so a
// failing post cannot be hammered. On failure the stored metrics are left as
// they were.
func (s *Service) Refresh(ctx context.Context, postID int64) (Result, error) {
	cfg := s.config()

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return Result{}, err
	}
	if !post.HasExternalRef() {
		metrics.RefreshTotal.WithLabelValues("no_ref").Inc()
		return Result{}, ErrNoExternalRef
	}

	now := s.now()
	ok, heldUntil, err := s.store.ClaimRefresh(ctx, post.ID, now, now.Add(cfg.Cooldown))
	if err != nil {
		return Result{}, fmt.Errorf("claim refresh: %w", err)
	}
	if !ok {
		metrics.RefreshTotal.WithLabelValues("cooldown").Inc()
		return Result{}, &CooldownError{PostID: post.ID, RetryAfter: max(heldUntil.Sub(now), time.Second)}
	}

	creds, err := s.credentials(ctx, post.KOLID, cfg.DefaultKeys)
	if err != nil {
		return Result{}, err
	}

	m, err := s.fetcher.Fetch(ctx, fetcher.PostRef{URL: post.ExternalURL, ExternalID: post.ExternalID}, creds)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("exhausted").Inc()
		s.log.Warn("metrics refresh failed", logx.Int64("post_id", post.ID), logx.Err(err))
		return Result{}, err
	}

	at := s.now()
	snap, err := s.store.SaveMetrics(ctx, post.ID, m, at)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("save metrics: %w", err)
	}
	post.Metrics = m
	post.LastMetricsUpdate = at

	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeMetricsRefreshed, Time: at, Data: snap})
	s.log.Info("metrics refreshed",
		logx.Int64("post_id", post.ID),
		logx.Int64("impressions", m.Impressions),
		logx.Float64("engagement_rate", m.EngagementRate),
	)
	return Result{Post: post, Snapshot: snap}, nil
}

// credentials merges the organization's keys over the configured defaults.
func (s *Service) credentials(ctx context.Context, kolID int64, defaults fetcher.Credentials) (fetcher.Credentials, error) {
	kol, err := s.store.GetKOL(ctx, kolID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && kol.OrganizationID == 0) {
		return fetcher.Credentials{}.Merge(defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load kol: %w", err)
	}
	keys, err := s.store.ProviderCredentials(ctx, kol.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return fetcher.Credentials(keys).Merge(defaults), nil
}
