package model

import "time"

// TargetKind selects where a broadcast is delivered.
type TargetKind string

const (
	// TargetGroup sends once into every matching group destination.
	TargetGroup TargetKind = "group"
	// TargetDM sends a direct message to every matching KOL.
	TargetDM TargetKind = "dm"
)

func (k TargetKind) Valid() bool { return k == TargetGroup || k == TargetDM }

// FilterKind narrows the broadcast audience.
type FilterKind string

const (
	FilterAll       FilterKind = "all"
	FilterCampaign  FilterKind = "campaign"
	FilterMetKPI    FilterKind = "met_kpi"
	FilterNotMetKPI FilterKind = "not_met_kpi"
)

func (f FilterKind) Valid() bool {
	switch f {
	case FilterAll, FilterCampaign, FilterMetKPI, FilterNotMetKPI:
		return true
	}
	return false
}

// NeedsCampaign reports whether the filter is meaningless without a campaign.
func (f FilterKind) NeedsCampaign() bool {
	return f == FilterCampaign || f == FilterMetKPI || f == FilterNotMetKPI
}

// JobStatus is the lifecycle of a broadcast job. There is no failed state:
// per-recipient failures are counted, never escalated.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSending   JobStatus = "sending"
	JobCompleted JobStatus = "completed"
)

// BroadcastJob is one fan-out request and its aggregate outcome.
type BroadcastJob struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Target      TargetKind `json:"target"`
	Filter      FilterKind `json:"filter"`
	CampaignID  int64      `json:"campaign_id,omitempty"`
	TargetCount int        `json:"target_count"`
	Success     int        `json:"success_count"`
	Failed      int        `json:"failed_count"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// OutboundMessage records one successful delivery.
type OutboundMessage struct {
	ID                int64     `json:"id"`
	JobID             string    `json:"job_id"`
	KOLID             int64     `json:"kol_id,omitempty"`
	ChatID            int64     `json:"chat_id"`
	Content           string    `json:"content"`
	ProviderMessageID string    `json:"provider_message_id"`
	SentAt            time.Time `json:"sent_at"`
}
