package model

import (
	"strings"
	"time"
)

// DeliverableType is the kind of content a KOL owes under a campaign.
type DeliverableType string

const (
	DeliverablePost    DeliverableType = "POST"
	DeliverableThread  DeliverableType = "THREAD"
	DeliverableRetweet DeliverableType = "RETWEET"
	DeliverableSpace   DeliverableType = "SPACE"
)

// DeliverableTypes lists every deliverable type in a fixed order.
var DeliverableTypes = []DeliverableType{
	DeliverablePost,
	DeliverableThread,
	DeliverableRetweet,
	DeliverableSpace,
}

func (t DeliverableType) Valid() bool {
	switch t {
	case DeliverablePost, DeliverableThread, DeliverableRetweet, DeliverableSpace:
		return true
	}
	return false
}

// PostStatus is the approval lifecycle of a post.
//
//	DRAFT -> PENDING_APPROVAL -> APPROVED | REJECTED -> POSTED -> VERIFIED
type PostStatus string

const (
	PostDraft           PostStatus = "DRAFT"
	PostPendingApproval PostStatus = "PENDING_APPROVAL"
	PostApproved        PostStatus = "APPROVED"
	PostRejected        PostStatus = "REJECTED"
	PostPosted          PostStatus = "POSTED"
	PostVerified        PostStatus = "VERIFIED"
)

// Counted reports whether a post in this status counts toward a quota.
func (s PostStatus) Counted() bool {
	return s == PostPosted || s == PostVerified
}

// Metrics is the normalized engagement counters of a post.
// Counters are never negative; unknown upstream fields are 0.
type Metrics struct {
	Impressions    int64   `json:"impressions"`
	Likes          int64   `json:"likes"`
	Retweets       int64   `json:"retweets"`
	Replies        int64   `json:"replies"`
	Quotes         int64   `json:"quotes"`
	Bookmarks      int64   `json:"bookmarks"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Post is one content item owned by a KOL within a campaign.
type Post struct {
	ID          int64           `json:"id"`
	KOLID       int64           `json:"kol_id"`
	CampaignID  int64           `json:"campaign_id"`
	Type        DeliverableType `json:"type"`
	Status      PostStatus      `json:"status"`
	ExternalURL string          `json:"external_url,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	Metrics

	// LastMetricsUpdate is zero until the first successful refresh.
	LastMetricsUpdate time.Time `json:"last_metrics_update,omitempty"`
}

// HasExternalRef reports whether the post can be resolved upstream.
func (p Post) HasExternalRef() bool {
	return strings.TrimSpace(p.ExternalURL) != "" || strings.TrimSpace(p.ExternalID) != ""
}

// MetricSnapshot is an append-only copy of a post's metrics at CapturedAt.
type MetricSnapshot struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"post_id"`
	Metrics
	CapturedAt time.Time `json:"captured_at"`
}
