package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kolpulse/internal/model"
)

const jobColumns = `id, content, target, filter, campaign_id, target_count, success_count, failed_count, status, created_at, completed_at`

type jobRow struct {
	ID          string `db:"id"`
	Content     string `db:"content"`
	Target      string `db:"target"`
	Filter      string `db:"filter"`
	CampaignID  int64  `db:"campaign_id"`
	TargetCount int    `db:"target_count"`
	Success     int    `db:"success_count"`
	Failed      int    `db:"failed_count"`
	Status      string `db:"status"`
	CreatedAt   int64  `db:"created_at"`
	CompletedAt int64  `db:"completed_at"`
}

func (r jobRow) model() model.BroadcastJob {
	return model.BroadcastJob{
		ID:          r.ID,
		Content:     r.Content,
		Target:      model.TargetKind(r.Target),
		Filter:      model.FilterKind(r.Filter),
		CampaignID:  r.CampaignID,
		TargetCount: r.TargetCount,
		Success:     r.Success,
		Failed:      r.Failed,
		Status:      model.JobStatus(r.Status),
		CreatedAt:   fromMS(r.CreatedAt),
		CompletedAt: fromMS(r.CompletedAt),
	}
}

func (s *DB) CreateJob(ctx context.Context, j model.BroadcastJob) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO broadcast_jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		j.ID, j.Content, string(j.Target), string(j.Filter), j.CampaignID, j.TargetCount, j.Success, j.Failed,
		string(j.Status), msOrZero(j.CreatedAt), msOrZero(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *DB) GetJob(ctx context.Context, id string) (model.BroadcastJob, error) {
	var r jobRow
	if err := s.db.GetContext(ctx, &r, s.q(`SELECT `+jobColumns+` FROM broadcast_jobs WHERE id = ?`), id); err != nil {
		return model.BroadcastJob{}, notFound(err)
	}
	return r.model(), nil
}

// MarkJobSending moves a pending job to sending.
func (s *DB) MarkJobSending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE broadcast_jobs SET status = ? WHERE id = ? AND status = ?`),
		string(model.JobSending), id, string(model.JobPending))
	return err
}

// RecordDelivery persists the outbound message and increments the job's
// success count in one transaction.
func (s *DB) RecordDelivery(ctx context.Context, msg model.OutboundMessage) (model.OutboundMessage, error) {
	if msg.SentAt.IsZero() {
		msg.SentAt = s.now()
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.QueryRowxContext(ctx, s.q(`INSERT INTO outbound_messages(job_id, kol_id, chat_id, content, provider_message_id, sent_at)
			VALUES(?,?,?,?,?,?) RETURNING id`),
			msg.JobID, msg.KOLID, msg.ChatID, msg.Content, msg.ProviderMessageID, msg.SentAt.UnixMilli(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}
		msg.ID = id
		res, err := tx.ExecContext(ctx, s.q(`UPDATE broadcast_jobs SET success_count = success_count + 1
			WHERE id = ? AND success_count + failed_count < target_count`), msg.JobID)
		if err != nil {
			return fmt.Errorf("increment success: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("increment success for job %s: %w", msg.JobID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return model.OutboundMessage{}, err
	}
	return msg, nil
}

// RecordFailure increments the job's failed count. No message row is written.
func (s *DB) RecordFailure(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE broadcast_jobs SET failed_count = failed_count + 1
		WHERE id = ? AND success_count + failed_count < target_count`), jobID)
	return err
}

// CompleteJob marks the job completed and returns the final row. Recipients
// that were never accounted for are added to the failed count so the counts
// always cover the target set.
func (s *DB) CompleteJob(ctx context.Context, id string, at time.Time) (model.BroadcastJob, error) {
	var out model.BroadcastJob
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`UPDATE broadcast_jobs SET
			status = ?, completed_at = ?, failed_count = target_count - success_count
			WHERE id = ? AND status <> ?`),
			string(model.JobCompleted), at.UnixMilli(), id, string(model.JobCompleted))
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		var r jobRow
		if err := tx.GetContext(ctx, &r, s.q(`SELECT `+jobColumns+` FROM broadcast_jobs WHERE id = ?`), id); err != nil {
			return notFound(err)
		}
		out = r.model()
		return nil
	})
	return out, err
}

// ListUnfinishedJobIDs returns jobs left pending or sending, e.g. by a crash.
func (s *DB) ListUnfinishedJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, s.q(`SELECT id FROM broadcast_jobs WHERE status IN (?, ?) ORDER BY created_at`),
		string(model.JobPending), string(model.JobSending))
	return ids, err
}

func (s *DB) ListOutboundMessages(ctx context.Context, jobID string) ([]model.OutboundMessage, error) {
	var rows []struct {
		ID                int64  `db:"id"`
		JobID             string `db:"job_id"`
		KOLID             int64  `db:"kol_id"`
		ChatID            int64  `db:"chat_id"`
		Content           string `db:"content"`
		ProviderMessageID string `db:"provider_message_id"`
		SentAt            int64  `db:"sent_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, job_id, kol_id, chat_id, content, provider_message_id, sent_at
		FROM outbound_messages WHERE job_id = ? ORDER BY id`), jobID)
	if err != nil {
		return nil, err
	}
	out := make([]model.OutboundMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.OutboundMessage{
			ID:                r.ID,
			JobID:             r.JobID,
			KOLID:             r.KOLID,
			ChatID:            r.ChatID,
			Content:           r.Content,
			ProviderMessageID: r.ProviderMessageID,
			SentAt:            fromMS(r.SentAt),
		})
	}
	return out, nil
}
