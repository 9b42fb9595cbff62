package storage

import (
	"context"

	"kolpulse/internal/model"
)

type quotaRow struct {
	CampaignID       int64   `db:"campaign_id"`
	KOLID            int64   `db:"kol_id"`
	RequiredPosts    int     `db:"required_posts"`
	RequiredThreads  int     `db:"required_threads"`
	RequiredRetweets int     `db:"required_retweets"`
	RequiredSpaces   int     `db:"required_spaces"`
	AllocatedBudget  float64 `db:"allocated_budget"`
}

func (r quotaRow) model() model.DeliverableQuota {
	return model.DeliverableQuota{
		CampaignID:       r.CampaignID,
		KOLID:            r.KOLID,
		RequiredPosts:    r.RequiredPosts,
		RequiredThreads:  r.RequiredThreads,
		RequiredRetweets: r.RequiredRetweets,
		RequiredSpaces:   r.RequiredSpaces,
		AllocatedBudget:  r.AllocatedBudget,
	}
}

const quotaColumns = `campaign_id, kol_id, required_posts, required_threads, required_retweets, required_spaces, allocated_budget`

// GetQuota returns ErrNotFound when the KOL is not attached to the campaign.
func (s *DB) GetQuota(ctx context.Context, campaignID, kolID int64) (model.DeliverableQuota, error) {
	var r quotaRow
	err := s.db.GetContext(ctx, &r, s.q(`SELECT `+quotaColumns+` FROM campaign_kols WHERE campaign_id = ? AND kol_id = ?`), campaignID, kolID)
	if err != nil {
		return model.DeliverableQuota{}, notFound(err)
	}
	return r.model(), nil
}

// ListQuotas returns one quota per KOL attached to the campaign.
func (s *DB) ListQuotas(ctx context.Context, campaignID int64) ([]model.DeliverableQuota, error) {
	var rows []quotaRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+quotaColumns+` FROM campaign_kols WHERE campaign_id = ? ORDER BY kol_id`), campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeliverableQuota, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// PutQuota attaches a KOL to a campaign (seeding and tests).
func (s *DB) PutQuota(ctx context.Context, q model.DeliverableQuota) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO campaign_kols(`+quotaColumns+`) VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(campaign_id, kol_id) DO UPDATE SET
			required_posts = excluded.required_posts,
			required_threads = excluded.required_threads,
			required_retweets = excluded.required_retweets,
			required_spaces = excluded.required_spaces,
			allocated_budget = excluded.allocated_budget`),
		q.CampaignID, q.KOLID, q.RequiredPosts, q.RequiredThreads, q.RequiredRetweets, q.RequiredSpaces, q.AllocatedBudget,
	)
	return err
}
