package model

// DeliverableQuota is the required deliverable count per type for one KOL in one campaign.
// It is read-only to this module.
type DeliverableQuota struct {
	CampaignID int64 `json:"campaign_id"`
	KOLID      int64 `json:"kol_id"`

	RequiredPosts    int `json:"required_posts"`
	RequiredThreads  int `json:"required_threads"`
	RequiredRetweets int `json:"required_retweets"`
	RequiredSpaces   int `json:"required_spaces"`

	// AllocatedBudget is carried for display; it does not affect progress.
	AllocatedBudget float64 `json:"allocated_budget"`
}

// Required returns the required count for t (0 for unknown types).
func (q DeliverableQuota) Required(t DeliverableType) int {
	switch t {
	case DeliverablePost:
		return q.RequiredPosts
	case DeliverableThread:
		return q.RequiredThreads
	case DeliverableRetweet:
		return q.RequiredRetweets
	case DeliverableSpace:
		return q.RequiredSpaces
	}
	return 0
}
