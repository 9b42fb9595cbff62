package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/storage"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
}

// fakeSender fails chats listed in errs and records every attempt.
type fakeSender struct {
	mu   sync.Mutex
	errs map[int64]error
	log  []sent
	next int
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, sent{chatID: to.ChatID, text: text})
	if err := f.errs[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.next++
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.next}, nil
}

func (f *fakeSender) sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.log...)
}

func rejected(reason string) error {
	return fmt.Errorf("%w: telegram: %s (400)", transport.ErrRecipientRejected, reason)
}

type harness struct {
	db     *storage.DB
	svc    *Service
	sender *fakeSender
	events <-chan eventbus.Event
	cancel context.CancelFunc
}

func newHarness(t *testing.T, sender *fakeSender) *harness {
	t.Helper()
	h := startHarness(t, Config{Workers: 1, SendDelay: time.Millisecond, RetryMax: 0}, sender)
	h.sender = sender
	return h
}

func startHarness(t *testing.T, cfg Config, sender transport.Sender) *harness {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	t.Cleanup(unsub)

	svc := New(cfg, db, sender, bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		svc.Stop(stopCtx)
	})
	return &harness{db: db, svc: svc, events: events, cancel: cancel}
}

func (h *harness) waitCompleted(t *testing.T, id string) model.BroadcastJob {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type != eventbus.TypeBroadcastComplete {
				continue
			}
			if j, ok := e.Data.(model.BroadcastJob); ok && j.ID == id {
				return j
			}
		case <-timeout:
			t.Fatalf("job %s did not complete", id)
		}
	}
}

func (h *harness) kol(t *testing.T, k model.KOL, links ...model.DeliveryLink) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.db.PutKOL(ctx, k))
	for _, l := range links {
		l.KOLID = k.ID
		l.Active = true
		require.NoError(t, h.db.UpsertLink(ctx, l))
		if !l.Private() {
			require.NoError(t, h.db.UpsertDestination(ctx, model.Destination{ChatID: l.ChatID, Kind: model.DestinationGroup, Active: true}))
		}
	}
}

func TestDispatchFallsBackToGroupWithMention(t *testing.T) {
	const groupID = -100
	sender := &fakeSender{errs: map[int64]error{555: rejected("Bad Request: chat not found")}}
	h := newHarness(t, sender)

	// Seen speaking in group G, never opened a private chat.
	h.kol(t, model.KOL{ID: 1, Handle: "alice_x", TelegramUsername: "alice"},
		model.DeliveryLink{ChatID: groupID, Kind: model.DestinationGroup, ExternalUserID: 555})

	job, err := h.svc.Dispatch(context.Background(), Request{Content: "new brief is out", Target: model.TargetDM, Filter: model.FilterAll})
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 1, job.TargetCount)

	done := h.waitCompleted(t, job.ID)
	assert.Equal(t, model.JobCompleted, done.Status)
	assert.Equal(t, 1, done.Success)
	assert.Equal(t, 0, done.Failed)

	require.Equal(t, []sent{
		{chatID: 555, text: "new brief is out"},
		{chatID: groupID, text: "@alice new brief is out"},
	}, sender.sends())

	msgs, err := h.db.ListOutboundMessages(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(groupID), msgs[0].ChatID, "success is recorded against the group")
	assert.Equal(t, int64(1), msgs[0].KOLID)
	assert.Equal(t, "@alice new brief is out", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ProviderMessageID)

	st, ok := h.svc.Status(job.ID)
	require.True(t, ok)
	assert.Equal(t, 1, st.Fallbacks)
	assert.False(t, st.Running)
}

func TestFallbackMentionUsesHandleWithoutUsername(t *testing.T) {
	sender := &fakeSender{errs: map[int64]error{777: rejected("Forbidden: bot can't initiate conversation with a user")}}
	h := newHarness(t, sender)

	h.kol(t, model.KOL{ID: 1, Handle: "@bob_x"},
		model.DeliveryLink{ChatID: -70, Kind: model.DestinationGroup, ExternalUserID: 777})

	job, err := h.svc.Dispatch(context.Background(), Request{Content: "gm", Target: model.TargetDM})
	require.NoError(t, err)
	done := h.waitCompleted(t, job.ID)
	assert.Equal(t, 1, done.Success)
	assert.Equal(t, []sent{{chatID: 777, text: "gm"}, {chatID: -70, text: "@bob_x gm"}}, sender.sends())
}

func TestDispatchCountsEveryRecipient(t *testing.T) {
	sender := &fakeSender{errs: map[int64]error{
		200: rejected("Forbidden: bot was blocked by the user"),
		300: errors.New("telegram: internal server error"),
	}}
	h := newHarness(t, sender)

	h.kol(t, model.KOL{ID: 1, Handle: "ok"}, model.DeliveryLink{ChatID: 100, Kind: model.DestinationPrivate, ExternalUserID: 100})
	// Rejected and no group to fall back to.
	h.kol(t, model.KOL{ID: 2, Handle: "blocked"}, model.DeliveryLink{ChatID: 200, Kind: model.DestinationPrivate, ExternalUserID: 200})
	// Transient error is not a rejection: no fallback.
	h.kol(t, model.KOL{ID: 3, Handle: "flaky"},
		model.DeliveryLink{ChatID: 300, Kind: model.DestinationPrivate, ExternalUserID: 300},
		model.DeliveryLink{ChatID: -300, Kind: model.DestinationGroup})
	// Not reachable at all: excluded from the target set.
	h.kol(t, model.KOL{ID: 4, Handle: "ghost"}, model.DeliveryLink{ChatID: -400, Kind: model.DestinationGroup})

	job, err := h.svc.Dispatch(context.Background(), Request{Content: "hi", Target: model.TargetDM})
	require.NoError(t, err)
	require.Equal(t, 3, job.TargetCount)

	done := h.waitCompleted(t, job.ID)
	assert.Equal(t, 1, done.Success)
	assert.Equal(t, 2, done.Failed)
	assert.Equal(t, done.TargetCount, done.Success+done.Failed)

	msgs, err := h.db.ListOutboundMessages(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "failures leave no message record")

	for _, s := range sender.sends() {
		assert.NotEqual(t, int64(-300), s.chatID)
	}
}

func TestDispatchGroupTarget(t *testing.T) {
	sender := &fakeSender{errs: map[int64]error{-2: errors.New("timeout")}}
	h := newHarness(t, sender)
	ctx := context.Background()

	h.kol(t, model.KOL{ID: 1, Handle: "a"}, model.DeliveryLink{ChatID: -1, Kind: model.DestinationGroup})
	h.kol(t, model.KOL{ID: 2, Handle: "b"}, model.DeliveryLink{ChatID: -2, Kind: model.DestinationGroup})
	require.NoError(t, h.db.UpsertDestination(ctx, model.Destination{ChatID: 10, Kind: model.DestinationPrivate, Active: true}))
	require.NoError(t, h.db.UpsertDestination(ctx, model.Destination{ChatID: -3, Kind: model.DestinationGroup, Active: false}))

	job, err := h.svc.Dispatch(ctx, Request{Content: "gm", Target: model.TargetGroup, Filter: model.FilterAll})
	require.NoError(t, err)
	require.Equal(t, 2, job.TargetCount)

	done := h.waitCompleted(t, job.ID)
	assert.Equal(t, 1, done.Success)
	assert.Equal(t, 1, done.Failed)
	assert.Equal(t, []sent{{chatID: -2, text: "gm"}, {chatID: -1, text: "gm"}}, sender.sends())
}

func TestDispatchEmptyTargetSetCreatesNoJob(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	ctx := context.Background()
	h.kol(t, model.KOL{ID: 1, Handle: "a"}, model.DeliveryLink{ChatID: -1, Kind: model.DestinationGroup})

	_, err := h.svc.Dispatch(ctx, Request{Content: "hi", Target: model.TargetDM, Filter: model.FilterAll})
	require.ErrorIs(t, err, ErrTargetSetEmpty)

	_, err = h.svc.Dispatch(ctx, Request{Content: "hi", Target: model.TargetGroup, Filter: model.FilterCampaign, CampaignID: 9})
	require.ErrorIs(t, err, ErrTargetSetEmpty)

	ids, err := h.db.ListUnfinishedJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDispatchValidation(t *testing.T) {
	svc := New(Config{}, nil, &fakeSender{}, nil, logx.Nop())
	cases := []Request{
		{Content: " ", Target: model.TargetDM},
		{Content: "x", Target: "fax"},
		{Content: "x", Target: model.TargetDM, Filter: "vip"},
		{Content: "x", Target: model.TargetDM, Filter: model.FilterMetKPI},
	}
	for _, req := range cases {
		_, err := svc.Dispatch(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalid, "%+v", req)
	}
}

func TestDispatchQueueFullCompletesJob(t *testing.T) {
	db, err := storage.Open(storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, db.PutKOL(ctx, model.KOL{ID: 1, Handle: "a"}))
	require.NoError(t, db.UpsertLink(ctx, model.DeliveryLink{KOLID: 1, ChatID: 7, Kind: model.DestinationPrivate, ExternalUserID: 7, Active: true}))

	// Not started: the single queue slot fills up.
	svc := New(Config{QueueSize: 1}, db, &fakeSender{}, nil, logx.Nop())
	req := Request{Content: "x", Target: model.TargetDM}
	_, err = svc.Dispatch(ctx, req)
	require.NoError(t, err)

	j, err := svc.Dispatch(ctx, req)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 1, j.Failed)
}

func TestRecoverUnfinished(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	ctx := context.Background()
	require.NoError(t, h.db.CreateJob(ctx, model.BroadcastJob{ID: "orphan", Content: "x", Target: model.TargetDM, Filter: model.FilterAll,
		TargetCount: 4, Status: model.JobSending, CreatedAt: time.Now()}))

	n, err := h.svc.RecoverUnfinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := h.db.GetJob(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.Status)
	assert.Equal(t, 4, j.Failed)
}

func TestPruneStatuses(t *testing.T) {
	svc := New(Config{}, nil, &fakeSender{}, nil, logx.Nop())
	now := time.Now()
	svc.statusMax = 2
	svc.status = map[string]*JobStatus{
		"old":     {ID: "old", DoneAt: now.Add(-48 * time.Hour)},
		"a":       {ID: "a", DoneAt: now.Add(-3 * time.Minute)},
		"b":       {ID: "b", DoneAt: now.Add(-2 * time.Minute)},
		"c":       {ID: "c", DoneAt: now.Add(-1 * time.Minute)},
		"running": {ID: "running", Running: true, CreatedAt: now.Add(-72 * time.Hour)},
	}

	removed := svc.PruneStatuses(now)
	assert.Equal(t, 3, removed)
	_, ok := svc.Status("running")
	assert.True(t, ok)
	_, ok = svc.Status("c")
	assert.True(t, ok)
	_, ok = svc.Status("a")
	assert.False(t, ok)
}
