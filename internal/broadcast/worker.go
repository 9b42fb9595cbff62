package broadcast

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/observability/metrics"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

// Delivery channels, as reported in metrics.
const (
	channelGroup    = "group"
	channelDM       = "dm"
	channelFallback = "group_fallback"
)

// outcome is the result of delivering to one recipient. A nil err means
// msg was delivered through channel.
type outcome struct {
	channel string
	msg     model.OutboundMessage
	err     error
}

func (s *Service) worker(ctx context.Context, drain <-chan struct{}, idx int) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-drain:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-drain:
			return
		case j := <-s.queue:
			metrics.BroadcastQueueDepth.Set(float64(len(s.queue)))
			s.execJob(ctx, j, idx)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job, idx int) {
	start := time.Now()
	cfg := s.config()
	s.setRunning(j.id)

	if err := s.store.MarkJobSending(ctx, j.id); err != nil {
		s.log.Warn("mark job sending failed", logx.String("job", j.id), logx.Err(err))
	}
	s.log.Info("broadcast job started", logx.String("job", j.id), logx.Int("worker", idx), logx.Int("total", len(j.recipients)))

	// One token per SendDelay: consecutive sends of this job are spaced out,
	// other jobs have their own pacer.
	pacer := rate.NewLimiter(rate.Every(cfg.SendDelay), 1)
	success, failed := 0, 0
	for _, r := range j.recipients {
		if ctx.Err() != nil {
			break
		}
		out := s.deliver(ctx, pacer, cfg.RetryMax, j, r)
		if s.record(ctx, j.id, r, out) {
			success++
		} else {
			failed++
		}
	}

	done, err := s.completeFinal(ctx, j.id)
	if err != nil {
		s.log.Error("complete job failed", logx.String("job", j.id), logx.Err(err))
		done = model.BroadcastJob{ID: j.id, TargetCount: len(j.recipients), Success: success, Failed: len(j.recipients) - success, Status: model.JobCompleted, CompletedAt: s.now()}
	}
	s.finish(done)
	metrics.BroadcastJobDuration.Observe(time.Since(start).Seconds())
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastComplete, Time: s.now(), Data: done})

	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("total", done.TargetCount),
		logx.Int("success", done.Success),
		logx.Int("failed", done.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if done.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}
}

// record persists one outcome and reports whether it counted as a success.
// A delivery that cannot be persisted is counted as failed.
func (s *Service) record(ctx context.Context, jobID string, r recipient, out outcome) bool {
	key := r.chatID
	if r.kol.ID != 0 {
		key = r.kol.ID
	}
	if out.err == nil {
		out.msg.JobID = jobID
		_, err := s.store.RecordDelivery(ctx, out.msg)
		if err == nil {
			metrics.BroadcastDeliveriesTotal.WithLabelValues(out.channel, "ok").Inc()
			s.markDone(jobID, true, out.channel == channelFallback, key)
			return true
		}
		s.log.Error("record delivery failed", logx.String("job", jobID), logx.Int64("chat_id", out.msg.ChatID), logx.Err(err))
	} else {
		s.log.Warn("recipient failed", logx.String("job", jobID), logx.Int64("recipient", key), logx.Err(out.err))
	}
	if err := s.store.RecordFailure(ctx, jobID); err != nil {
		s.log.Warn("record failure failed", logx.String("job", jobID), logx.Err(err))
	}
	metrics.BroadcastDeliveriesTotal.WithLabelValues(out.channel, "failed").Inc()
	s.markDone(jobID, false, false, key)
	return false
}

// deliver sends to one recipient. It never panics the job on a bad recipient:
// every path returns an outcome.
func (s *Service) deliver(ctx context.Context, pacer *rate.Limiter, retry int, j job, r recipient) outcome {
	if j.target == model.TargetGroup {
		ref, err := s.send(ctx, pacer, retry, j.id, r.chatID, j.content)
		return outcome{channel: channelGroup, msg: s.message(0, ref, j.content), err: err}
	}

	direct, ok := directLink(r.links)
	if ok {
		ref, err := s.send(ctx, pacer, retry, j.id, direct.ExternalUserID, j.content)
		if err == nil {
			return outcome{channel: channelDM, msg: s.message(r.kol.ID, ref, j.content)}
		}
		if !errors.Is(err, transport.ErrRecipientRejected) {
			return outcome{channel: channelDM, err: err}
		}
		s.log.Debug("direct message rejected; trying group", logx.String("job", j.id), logx.Int64("kol_id", r.kol.ID), logx.Err(err))
	}

	group, ok := groupLink(r.links)
	mention := r.kol.Mention()
	if !ok || mention == "" {
		return outcome{channel: channelFallback, err: ErrRecipientUnreachable}
	}
	text := mention + " " + j.content
	ref, err := s.send(ctx, pacer, retry, j.id, group.ChatID, text)
	if err != nil {
		return outcome{channel: channelFallback, err: errors.Join(ErrRecipientUnreachable, err)}
	}
	return outcome{channel: channelFallback, msg: s.message(r.kol.ID, ref, text)}
}

func (s *Service) message(kolID int64, ref transport.MessageRef, text string) model.OutboundMessage {
	return model.OutboundMessage{
		KOLID:             kolID,
		ChatID:            ref.ChatID,
		Content:           text,
		ProviderMessageID: strconv.Itoa(ref.MessageID),
		SentAt:            s.now(),
	}
}

// directLink picks a private link with a known user ID, else any link with one.
func directLink(links []model.DeliveryLink) (model.DeliveryLink, bool) {
	for _, l := range links {
		if l.Private() && l.Reachable() {
			return l, true
		}
	}
	for _, l := range links {
		if l.Reachable() {
			return l, true
		}
	}
	return model.DeliveryLink{}, false
}

func groupLink(links []model.DeliveryLink) (model.DeliveryLink, bool) {
	for _, l := range links {
		if !l.Private() {
			return l, true
		}
	}
	return model.DeliveryLink{}, false
}

// send waits for the job's pacer and retries transient errors, waiting at
// least as long as flood control asks. Rejections are final.
func (s *Service) send(ctx context.Context, pacer *rate.Limiter, retry int, jobID string, chatID int64, text string) (transport.MessageRef, error) {
	var last error
	for i := 0; i <= retry; i++ {
		if err := pacer.Wait(ctx); err != nil {
			return transport.MessageRef{}, err
		}
		ref, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
		if err == nil {
			if ref.ChatID == 0 {
				ref.ChatID = chatID
			}
			return ref, nil
		}
		last = err
		if errors.Is(err, transport.ErrRecipientRejected) || i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		if wait, ok := transport.RetryAfter(err); ok && wait > delay {
			delay = wait
		}
		s.log.Debug("broadcast send retry scheduled", logx.String("job", jobID), logx.Int64("chat_id", chatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return transport.MessageRef{}, ctx.Err()
		case <-tmr.C:
		}
	}
	return transport.MessageRef{}, last
}
