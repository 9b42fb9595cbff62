package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolpulse/internal/model"
	"kolpulse/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSaveMetricsWritesPostAndSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p, err := db.InsertPost(ctx, model.Post{KOLID: 1, CampaignID: 2, Type: model.DeliverablePost, Status: model.PostPosted, ExternalID: "99"})
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	at := time.UnixMilli(1_700_000_000_000)
	m := model.Metrics{Impressions: 1000, Likes: 50, Retweets: 10, Replies: 5, Bookmarks: 2, EngagementRate: 6.5}
	snap, err := db.SaveMetrics(ctx, p.ID, m, at)
	require.NoError(t, err)
	assert.NotZero(t, snap.ID)

	got, err := db.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, m, got.Metrics)
	assert.True(t, got.LastMetricsUpdate.Equal(at))

	snaps, err := db.ListSnapshots(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, m, snaps[0].Metrics)
	assert.True(t, snaps[0].CapturedAt.Equal(at))
}

func TestSaveMetricsUnknownPost(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.SaveMetrics(ctx, 404, model.Metrics{Likes: 1}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	snaps, err := db.ListSnapshots(ctx, 404, 10)
	require.NoError(t, err)
	assert.Empty(t, snaps, "no snapshot may exist without its post update")
}

func TestGetPostNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetPost(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRefresh(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	ok, until, err := db.ClaimRefresh(ctx, 7, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, until.Equal(now.Add(time.Minute)))

	ok, held, err := db.ClaimRefresh(ctx, 7, now.Add(10*time.Second), now.Add(70*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, held.Equal(now.Add(time.Minute)), "held until %v", held)

	ok, _, err = db.ClaimRefresh(ctx, 7, now.Add(time.Minute), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired claim must be re-claimable")

	n, err := db.PruneClaims(ctx, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimRefreshConcurrentSingleWinner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := db.ClaimRefresh(ctx, 1, now, now.Add(time.Minute))
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestJobLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := model.BroadcastJob{
		ID: "job-1", Content: "hi", Target: model.TargetDM, Filter: model.FilterAll,
		TargetCount: 3, Status: model.JobPending, CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateJob(ctx, job))
	require.NoError(t, db.MarkJobSending(ctx, job.ID))

	msg, err := db.RecordDelivery(ctx, model.OutboundMessage{JobID: job.ID, KOLID: 1, ChatID: 100, Content: "hi", ProviderMessageID: "55"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	require.NoError(t, db.RecordFailure(ctx, job.ID))

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSending, got.Status)
	assert.Equal(t, 1, got.Success)
	assert.Equal(t, 1, got.Failed)

	done, err := db.CompleteJob(ctx, job.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.Success)
	assert.Equal(t, 2, done.Failed, "unaccounted recipients are failures")
	assert.False(t, done.CompletedAt.IsZero())

	msgs, err := db.ListOutboundMessages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(100), msgs[0].ChatID)

	ids, err := db.ListUnfinishedJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecordCountsNeverExceedTarget(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateJob(ctx, model.BroadcastJob{ID: "j", Content: "x", Target: model.TargetGroup, Filter: model.FilterAll, TargetCount: 1, Status: model.JobSending, CreatedAt: time.Now()}))
	require.NoError(t, db.RecordFailure(ctx, "j"))
	require.NoError(t, db.RecordFailure(ctx, "j"))
	_, err := db.RecordDelivery(ctx, model.OutboundMessage{JobID: "j", ChatID: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Success)
	assert.Equal(t, 1, got.Failed)

	msgs, err := db.ListOutboundMessages(ctx, "j")
	require.NoError(t, err)
	assert.Empty(t, msgs, "rolled back delivery leaves no message row")
}

func TestLinksAndDestinations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutKOL(ctx, model.KOL{ID: 1, Handle: "alice", TelegramUsername: "@Alice"}))
	k, err := db.FindKOLByTelegramUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), k.ID)

	require.NoError(t, db.UpsertDestination(ctx, model.Destination{ChatID: -200, Kind: model.DestinationGroup, Title: "G2", Active: true}))
	require.NoError(t, db.UpsertDestination(ctx, model.Destination{ChatID: -100, Kind: model.DestinationGroup, Title: "G1", Active: true}))
	require.NoError(t, db.UpsertDestination(ctx, model.Destination{ChatID: 10, Kind: model.DestinationPrivate, Active: true}))
	require.NoError(t, db.SetDestinationActive(ctx, -200, false))

	groups, err := db.ListGroupDestinations(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int64(-100), groups[0].ChatID)

	require.NoError(t, db.UpsertLink(ctx, model.DeliveryLink{KOLID: 1, ChatID: -100, Kind: model.DestinationGroup, ExternalUserID: 10, Active: true}))
	require.NoError(t, db.UpsertLink(ctx, model.DeliveryLink{KOLID: 1, ChatID: 10, Kind: model.DestinationPrivate, ExternalUserID: 10, Active: true}))
	require.NoError(t, db.UpsertLink(ctx, model.DeliveryLink{KOLID: 1, ChatID: -200, Kind: model.DestinationGroup, Active: true}))
	// A zero user ID must not erase a known one.
	require.NoError(t, db.UpsertLink(ctx, model.DeliveryLink{KOLID: 1, ChatID: 10, Kind: model.DestinationPrivate, Active: true}))

	links, err := db.ListActiveLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2, "links to inactive destinations are hidden")
	assert.Equal(t, int64(10), links[0].ChatID, "private link sorts first")
	assert.Equal(t, int64(10), links[0].ExternalUserID)
	assert.Equal(t, int64(-100), links[1].ChatID)
}

func TestQuotasAndCredentials(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutKOL(ctx, model.KOL{ID: 1, Handle: "a", OrganizationID: 5}))
	require.NoError(t, db.PutKOL(ctx, model.KOL{ID: 2, Handle: "b", OrganizationID: 5}))
	require.NoError(t, db.PutQuota(ctx, model.DeliverableQuota{CampaignID: 9, KOLID: 2, RequiredPosts: 3, RequiredThreads: 1}))

	q, err := db.GetQuota(ctx, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, q.RequiredPosts)

	_, err = db.GetQuota(ctx, 9, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	kols, err := db.ListCampaignKOLs(ctx, 9)
	require.NoError(t, err)
	require.Len(t, kols, 1)
	assert.Equal(t, int64(2), kols[0].ID)

	require.NoError(t, db.PutProviderCredential(ctx, 5, "TwitterAPI", "key-1"))
	creds, err := db.ProviderCredentials(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"twitterapi": "key-1"}, creds)
}
