package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kolpulse/internal/model"
)

const postColumns = `id, kol_id, campaign_id, type, status, external_url, external_id,
	impressions, likes, retweets, replies, quotes, bookmarks, engagement_rate, last_metrics_update`

type postRow struct {
	ID                int64   `db:"id"`
	KOLID             int64   `db:"kol_id"`
	CampaignID        int64   `db:"campaign_id"`
	Type              string  `db:"type"`
	Status            string  `db:"status"`
	ExternalURL       string  `db:"external_url"`
	ExternalID        string  `db:"external_id"`
	Impressions       int64   `db:"impressions"`
	Likes             int64   `db:"likes"`
	Retweets          int64   `db:"retweets"`
	Replies           int64   `db:"replies"`
	Quotes            int64   `db:"quotes"`
	Bookmarks         int64   `db:"bookmarks"`
	EngagementRate    float64 `db:"engagement_rate"`
	LastMetricsUpdate int64   `db:"last_metrics_update"`
}

func (r postRow) model() model.Post {
	return model.Post{
		ID:          r.ID,
		KOLID:       r.KOLID,
		CampaignID:  r.CampaignID,
		Type:        model.DeliverableType(r.Type),
		Status:      model.PostStatus(r.Status),
		ExternalURL: r.ExternalURL,
		ExternalID:  r.ExternalID,
		Metrics: model.Metrics{
			Impressions:    r.Impressions,
			Likes:          r.Likes,
			Retweets:       r.Retweets,
			Replies:        r.Replies,
			Quotes:         r.Quotes,
			Bookmarks:      r.Bookmarks,
			EngagementRate: r.EngagementRate,
		},
		LastMetricsUpdate: fromMS(r.LastMetricsUpdate),
	}
}

func (s *DB) GetPost(ctx context.Context, id int64) (model.Post, error) {
	var r postRow
	err := s.db.GetContext(ctx, &r, s.q(`SELECT `+postColumns+` FROM posts WHERE id = ?`), id)
	if err != nil {
		return model.Post{}, notFound(err)
	}
	return r.model(), nil
}

// ListCampaignPosts returns every post of a campaign, optionally narrowed to one KOL (kolID > 0).
func (s *DB) ListCampaignPosts(ctx context.Context, campaignID, kolID int64) ([]model.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE campaign_id = ?`
	args := []any{campaignID}
	if kolID > 0 {
		query += ` AND kol_id = ?`
		args = append(args, kolID)
	}
	query += ` ORDER BY id`

	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// InsertPost stores p and returns it with its ID. Posts are owned by the
// approval workflow; this exists for seeding and tests.
func (s *DB) InsertPost(ctx context.Context, p model.Post) (model.Post, error) {
	query := `INSERT INTO posts(kol_id, campaign_id, type, status, external_url, external_id,
		impressions, likes, retweets, replies, quotes, bookmarks, engagement_rate, last_metrics_update)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	args := []any{p.KOLID, p.CampaignID, string(p.Type), string(p.Status), p.ExternalURL, p.ExternalID,
		p.Impressions, p.Likes, p.Retweets, p.Replies, p.Quotes, p.Bookmarks, p.EngagementRate, msOrZero(p.LastMetricsUpdate)}
	if p.ID > 0 {
		query = `INSERT INTO posts(id, kol_id, campaign_id, type, status, external_url, external_id,
		impressions, likes, retweets, replies, quotes, bookmarks, engagement_rate, last_metrics_update)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
		args = append([]any{p.ID}, args...)
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, s.q(query+` RETURNING id`), args...).Scan(&id); err != nil {
		return model.Post{}, fmt.Errorf("insert post: %w", err)
	}
	p.ID = id
	return p, nil
}

// SaveMetrics updates the post's metrics and appends a snapshot in one
// transaction. Either both rows are written or neither is.
func (s *DB) SaveMetrics(ctx context.Context, postID int64, m model.Metrics, at time.Time) (model.MetricSnapshot, error) {
	snap := model.MetricSnapshot{PostID: postID, Metrics: m, CapturedAt: at}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE posts SET
			impressions = ?, likes = ?, retweets = ?, replies = ?, quotes = ?, bookmarks = ?,
			engagement_rate = ?, last_metrics_update = ?
			WHERE id = ?`),
			m.Impressions, m.Likes, m.Retweets, m.Replies, m.Quotes, m.Bookmarks, m.EngagementRate, at.UnixMilli(), postID,
		)
		if err != nil {
			return fmt.Errorf("update post metrics: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		id, err := insertSnapshot(ctx, tx, s.q, snap)
		if err != nil {
			return err
		}
		snap.ID = id
		return nil
	})
	if err != nil {
		return model.MetricSnapshot{}, err
	}
	return snap, nil
}
