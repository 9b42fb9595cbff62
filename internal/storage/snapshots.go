package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"kolpulse/internal/model"
)

const defaultSnapshotLimit = 100

type snapshotRow struct {
	ID             int64   `db:"id"`
	PostID         int64   `db:"post_id"`
	Impressions    int64   `db:"impressions"`
	Likes          int64   `db:"likes"`
	Retweets       int64   `db:"retweets"`
	Replies        int64   `db:"replies"`
	Quotes         int64   `db:"quotes"`
	Bookmarks      int64   `db:"bookmarks"`
	EngagementRate float64 `db:"engagement_rate"`
	CapturedAt     int64   `db:"captured_at"`
}

func insertSnapshot(ctx context.Context, tx *sqlx.Tx, rebind func(string) string, snap model.MetricSnapshot) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx, rebind(`INSERT INTO metric_snapshots
		(post_id, impressions, likes, retweets, replies, quotes, bookmarks, engagement_rate, captured_at)
		VALUES(?,?,?,?,?,?,?,?,?) RETURNING id`),
		snap.PostID, snap.Impressions, snap.Likes, snap.Retweets, snap.Replies, snap.Quotes, snap.Bookmarks,
		snap.EngagementRate, snap.CapturedAt.UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// ListSnapshots returns the newest snapshots of a post first.
func (s *DB) ListSnapshots(ctx context.Context, postID int64, limit int) ([]model.MetricSnapshot, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, post_id, impressions, likes, retweets, replies, quotes,
		bookmarks, engagement_rate, captured_at
		FROM metric_snapshots WHERE post_id = ? ORDER BY captured_at DESC, id DESC LIMIT ?`), postID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.MetricSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.MetricSnapshot{
			ID:     r.ID,
			PostID: r.PostID,
			Metrics: model.Metrics{
				Impressions:    r.Impressions,
				Likes:          r.Likes,
				Retweets:       r.Retweets,
				Replies:        r.Replies,
				Quotes:         r.Quotes,
				Bookmarks:      r.Bookmarks,
				EngagementRate: r.EngagementRate,
			},
			CapturedAt: fromMS(r.CapturedAt),
		})
	}
	return out, nil
}
