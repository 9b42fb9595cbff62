package refresh

import (
	"context"
	"errors"

	"kolpulse/internal/model"
)

// Outcome values of a campaign sweep entry.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeCooldown  = "cooldown"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type PostOutcome struct {
	PostID  int64          `json:"post_id"`
	Outcome string         `json:"outcome"`
	Metrics *model.Metrics `json:"metrics,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type SweepSummary struct {
	CampaignID int64         `json:"campaign_id"`
	Refreshed  int           `json:"refreshed"`
	Cooldown   int           `json:"cooldown"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Posts      []PostOutcome `json:"posts"`
}

// RefreshCampaign refreshes every published post of a campaign, one at a
// time. Unpublished posts and posts without an external reference are
// skipped; posts in cooldown are reported, not waited for.
func (s *Service) RefreshCampaign(ctx context.Context, campaignID int64) (SweepSummary, error) {
	posts, err := s.store.ListCampaignPosts(ctx, campaignID, 0)
	if err != nil {
		return SweepSummary{}, err
	}

	sum := SweepSummary{CampaignID: campaignID, Posts: make([]PostOutcome, 0, len(posts))}
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !p.Status.Counted() || !p.HasExternalRef() {
			sum.Skipped++
			sum.Posts = append(sum.Posts, PostOutcome{PostID: p.ID, Outcome: OutcomeSkipped})
			continue
		}

		res, err := s.Refresh(ctx, p.ID)
		switch {
		case err == nil:
			m := res.Post.Metrics
			sum.Refreshed++
			sum.Posts = append(sum.Posts, PostOutcome{PostID: p.ID, Outcome: OutcomeRefreshed, Metrics: &m})
		case errors.Is(err, ErrCooldown):
			sum.Cooldown++
			sum.Posts = append(sum.Posts, PostOutcome{PostID: p.ID, Outcome: OutcomeCooldown, Error: err.Error()})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return sum, err
		default:
			sum.Failed++
			sum.Posts = append(sum.Posts, PostOutcome{PostID: p.ID, Outcome: OutcomeFailed, Error: err.Error()})
		}
	}
	return sum, nil
}
