package storage

import (
	"context"
	"time"
)

// ClaimRefresh takes the refresh slot for a post until the given time. The
// check and the set happen in one conditional upsert, so two concurrent
// callers (even in different processes) cannot both win an unexpired slot.
//
// When the slot is held, it returns ok=false and the time the holder's slot expires.
func (s *DB) ClaimRefresh(ctx context.Context, postID int64, now, until time.Time) (ok bool, heldUntil time.Time, err error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO refresh_claims(post_id, until) VALUES(?,?)
		ON CONFLICT(post_id) DO UPDATE SET until = excluded.until
		WHERE refresh_claims.until <= ?`),
		postID, until.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, time.Time{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, time.Time{}, err
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.PruneClaims(pctx, now)
		cancel()
	}
	if n > 0 {
		return true, until, nil
	}

	var ms int64
	if err := s.db.GetContext(ctx, &ms, s.q(`SELECT until FROM refresh_claims WHERE post_id = ?`), postID); err != nil {
		return false, time.Time{}, notFound(err)
	}
	return false, time.UnixMilli(ms), nil
}

// PruneClaims deletes expired claims and reports how many were removed.
func (s *DB) PruneClaims(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM refresh_claims WHERE until <= ?`), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
