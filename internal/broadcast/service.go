package broadcast

import (
	"context"
	"fmt"
	"time"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/runtime/supervisor"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

// Store is the persistence the engine needs.
type Store interface {
	ListKOLs(ctx context.Context) ([]model.KOL, error)
	ListCampaignKOLs(ctx context.Context, campaignID int64) ([]model.KOL, error)
	ListQuotas(ctx context.Context, campaignID int64) ([]model.DeliverableQuota, error)
	ListCampaignPosts(ctx context.Context, campaignID, kolID int64) ([]model.Post, error)
	ListGroupDestinations(ctx context.Context) ([]model.Destination, error)
	ListActiveLinks(ctx context.Context) ([]model.DeliveryLink, error)

	CreateJob(ctx context.Context, j model.BroadcastJob) error
	GetJob(ctx context.Context, id string) (model.BroadcastJob, error)
	MarkJobSending(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, msg model.OutboundMessage) (model.OutboundMessage, error)
	RecordFailure(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, id string, at time.Time) (model.BroadcastJob, error)
	ListUnfinishedJobIDs(ctx context.Context) ([]string, error)
}

func New(cfg Config, store Store, sender transport.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		sender:    sender,
		bus:       bus,
		log:       log.With(logx.String("comp", "broadcast")),
		now:       time.Now,
		queue:     make(chan job, cfg.QueueSize),
		status:    map[string]*JobStatus{},
		statusMax: defaultStatusMax,
		statusTTL: defaultStatusTTL,
	}
}

// Apply swaps pacing and retry settings. Worker count and queue size are
// fixed at construction.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Workers = s.cfg.Workers
	cfg.QueueSize = s.cfg.QueueSize
	s.cfg = cfg
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start launches the worker pool. Jobs queued while stopped stay queued.
// Workers outlive ctx; only Stop ends them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	sup := supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(s.log))
	drain := make(chan struct{})
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		sup.GoRestart0(fmt.Sprintf("broadcast.worker.%d", idx), func(ctx context.Context) {
			s.worker(ctx, drain, idx)
		})
	}
	s.sup = sup
	s.drain = drain
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers), logx.Duration("send_delay", s.cfg.SendDelay))
}

// cancelGrace bounds the wait for cancelled workers to record their jobs.
const cancelGrace = 2 * time.Second

// Stop lets every worker finish its current job and take no new one. When
// ctx is done first the workers are cancelled: an interrupted job is
// completed with its remaining recipients counted failed.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	sup, drain := s.sup, s.drain
	s.sup, s.drain = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	close(drain)
	if err := sup.Wait(ctx); err == nil {
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
		return
	}

	s.log.Warn("drain deadline reached; cancelling running jobs", logx.Duration("elapsed", time.Since(start)))
	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		s.log.Warn("service stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RecoverUnfinished completes jobs left pending or sending by a previous
// process. Their unsent recipients count as failed.
func (s *Service) RecoverUnfinished(ctx context.Context) (int, error) {
	ids, err := s.store.ListUnfinishedJobIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if s.tracked(id) {
			continue
		}
		j, err := s.store.CompleteJob(ctx, id, s.now())
		if err != nil {
			s.log.Warn("recover job failed", logx.String("job", id), logx.Err(err))
			continue
		}
		n++
		s.log.Warn("recovered unfinished job",
			logx.String("job", id), logx.Int("success", j.Success), logx.Int("failed", j.Failed))
	}
	return n, nil
}

func (s *Service) tracked(id string) bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	return ok && st.DoneAt.IsZero()
}

// completeFinal runs even when the worker context is gone.
func (s *Service) completeFinal(ctx context.Context, id string) (model.BroadcastJob, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.store.CompleteJob(ctx, id, s.now())
}
