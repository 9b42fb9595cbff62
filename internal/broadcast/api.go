package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/observability/metrics"
	"kolpulse/pkg/logx"
)

func (r Request) validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalid)
	}
	if !r.Target.Valid() {
		return fmt.Errorf("%w: unknown target %q", ErrInvalid, r.Target)
	}
	if !r.Filter.Valid() {
		return fmt.Errorf("%w: unknown filter %q", ErrInvalid, r.Filter)
	}
	if r.Filter.NeedsCampaign() && r.CampaignID <= 0 {
		return fmt.Errorf("%w: filter %q needs a campaign", ErrInvalid, r.Filter)
	}
	return nil
}

// Dispatch resolves the audience, creates the job and queues it. The job is
// returned in pending state; sends happen on a worker. A request matching no
// recipient fails with ErrTargetSetEmpty and leaves no job behind.
func (s *Service) Dispatch(ctx context.Context, req Request) (model.BroadcastJob, error) {
	if req.Filter == "" {
		req.Filter = model.FilterAll
	}
	if err := req.validate(); err != nil {
		return model.BroadcastJob{}, err
	}

	recipients, err := s.resolve(ctx, req)
	if err != nil {
		return model.BroadcastJob{}, err
	}
	if len(recipients) == 0 {
		return model.BroadcastJob{}, ErrTargetSetEmpty
	}

	now := s.now()
	rec := model.BroadcastJob{
		ID:          uuid.NewString(),
		Content:     req.Content,
		Target:      req.Target,
		Filter:      req.Filter,
		CampaignID:  req.CampaignID,
		TargetCount: len(recipients),
		Status:      model.JobPending,
		CreatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, rec); err != nil {
		return model.BroadcastJob{}, err
	}

	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[rec.ID] = &JobStatus{ID: rec.ID, Total: rec.TargetCount, CreatedAt: now}
	s.statusMu.Unlock()

	metrics.BroadcastJobsTotal.WithLabelValues(string(rec.Target), string(rec.Filter)).Inc()

	select {
	case s.queue <- job{id: rec.ID, target: rec.Target, content: rec.Content, recipients: recipients}:
		metrics.BroadcastQueueDepth.Set(float64(len(s.queue)))
		s.log.Debug("broadcast job enqueued",
			logx.String("job", rec.ID), logx.Int("total", rec.TargetCount),
			logx.Int("queue_len", len(s.queue)), logx.Int("queue_cap", cap(s.queue)))
	default:
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", rec.ID), logx.Int("queue_cap", cap(s.queue)))
		done, err := s.completeFinal(ctx, rec.ID)
		if err != nil {
			return rec, fmt.Errorf("%w (completing job: %v)", ErrQueueFull, err)
		}
		s.finish(done)
		return done, ErrQueueFull
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastQueued, Time: now, Data: rec})
	return rec, nil
}

// Job returns the persisted job and, while it is still tracked, its live status.
func (s *Service) Job(ctx context.Context, id string) (model.BroadcastJob, *JobStatus, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return model.BroadcastJob{}, nil, err
	}
	if st, ok := s.Status(id); ok {
		return j, &st, nil
	}
	return j, nil, nil
}

func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	cp := *st
	if len(st.Failures) > 0 {
		cp.Failures = append([]int64(nil), st.Failures...)
	}
	return cp, true
}
