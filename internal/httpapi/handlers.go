package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kolpulse/internal/broadcast"
	"kolpulse/internal/model"
	"kolpulse/internal/progress"
	"kolpulse/internal/refresh"
)

type Refresher interface {
	Refresh(ctx context.Context, postID int64) (refresh.Result, error)
	RefreshCampaign(ctx context.Context, campaignID int64) (refresh.SweepSummary, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req broadcast.Request) (model.BroadcastJob, error)
	Job(ctx context.Context, id string) (model.BroadcastJob, *broadcast.JobStatus, error)
}

// Store is the read side used by the dashboard endpoints.
type Store interface {
	Ping(ctx context.Context) error
	ListSnapshots(ctx context.Context, postID int64, limit int) ([]model.MetricSnapshot, error)
	GetQuota(ctx context.Context, campaignID, kolID int64) (model.DeliverableQuota, error)
	ListQuotas(ctx context.Context, campaignID int64) ([]model.DeliverableQuota, error)
	ListCampaignPosts(ctx context.Context, campaignID, kolID int64) ([]model.Post, error)
}

type Handlers struct {
	Refresh   Refresher
	Broadcast Dispatcher
	Store     Store
}

const maxSnapshotLimit = 1000

type kolProgress struct {
	CampaignID int64                  `json:"campaign_id"`
	KOLID      int64                  `json:"kol_id"`
	Quota      model.DeliverableQuota `json:"quota"`
	Progress   progress.Result        `json:"progress"`
}

type jobResponse struct {
	model.BroadcastJob
	Live *broadcast.JobStatus `json:"live,omitempty"`
}

func (h *Handlers) Healthz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) RefreshPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.Refresh.Refresh(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) RefreshCampaign(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sum, err := h.Refresh.RefreshCampaign(c.Request.Context(), id)
	if err != nil && !errors.Is(err, context.Canceled) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handlers) PostSnapshots(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}
	snaps, err := h.Store.ListSnapshots(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if snaps == nil {
		snaps = []model.MetricSnapshot{}
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *Handlers) KOLProgress(c *gin.Context) {
	campaignID, ok := idParam(c, "id")
	if !ok {
		return
	}
	kolID, ok := idParam(c, "kol")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := h.Store.GetQuota(ctx, campaignID, kolID)
	if err != nil {
		writeError(c, err)
		return
	}
	posts, err := h.Store.ListCampaignPosts(ctx, campaignID, kolID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, kolProgress{
		CampaignID: campaignID,
		KOLID:      kolID,
		Quota:      q,
		Progress:   progress.Compute(posts, q),
	})
}

// CampaignProgress reports every KOL with a quota in the campaign, in quota
// order.
func (h *Handlers) CampaignProgress(c *gin.Context) {
	campaignID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	quotas, err := h.Store.ListQuotas(ctx, campaignID)
	if err != nil {
		writeError(c, err)
		return
	}
	posts, err := h.Store.ListCampaignPosts(ctx, campaignID, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	byKOL := make(map[int64][]model.Post, len(quotas))
	for _, p := range posts {
		byKOL[p.KOLID] = append(byKOL[p.KOLID], p)
	}

	out := make([]kolProgress, 0, len(quotas))
	for _, q := range quotas {
		out = append(out, kolProgress{
			CampaignID: campaignID,
			KOLID:      q.KOLID,
			Quota:      q,
			Progress:   progress.Compute(byKOL[q.KOLID], q),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateBroadcast(c *gin.Context) {
	var req broadcast.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	j, err := h.Broadcast.Dispatch(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/broadcasts/"+j.ID)
	c.JSON(http.StatusAccepted, j)
}

func (h *Handlers) GetBroadcast(c *gin.Context) {
	j, live, err := h.Broadcast.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse{BroadcastJob: j, Live: live})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
