// Package linkreg turns chat activity into delivery links.
//
// A KOL becomes reachable by direct message once they have written to the
// bot privately, and becomes reachable through a group once they have been
// seen speaking in it. Both facts are only observable from incoming updates,
// so this package consumes the transport's update stream and records them.
package linkreg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"kolpulse/internal/eventbus"
	"kolpulse/internal/model"
	"kolpulse/internal/observability/metrics"
	"kolpulse/internal/storage"
	"kolpulse/internal/transport"
	"kolpulse/pkg/logx"
)

const (
	seenTTL = 10 * time.Minute
	seenMax = 4096
)

type Store interface {
	FindKOLByTelegramUsername(ctx context.Context, username string) (model.KOL, error)
	UpsertDestination(ctx context.Context, d model.Destination) error
	SetDestinationActive(ctx context.Context, chatID int64, active bool) error
	UpsertLink(ctx context.Context, l model.DeliveryLink) error
}

type Registrar struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(store Store, bus eventbus.Bus, log logx.Logger) *Registrar {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registrar{
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "linkreg")),
		now:   time.Now,
		seen:  map[string]time.Time{},
	}
}

// Run consumes updates until ctx is done or in is closed.
func (r *Registrar) Run(ctx context.Context, in <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, up); err != nil {
				r.log.Warn("update not recorded", logx.Err(err))
			}
		}
	}
}

// Handle records whatever the update reveals about destinations and links.
func (r *Registrar) Handle(ctx context.Context, up transport.Update) error {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		return r.handleMessage(ctx, up.Message)
	case transport.UpdateMembership:
		if up.Membership == nil {
			return nil
		}
		return r.handleMembership(ctx, up.Membership)
	}
	return nil
}

// handleMembership records the bot joining a chat and deactivates the chat
// when the bot leaves it. Leaving a chat never seen before is a no-op.
func (r *Registrar) handleMembership(ctx context.Context, m *transport.Membership) error {
	r.forget(destKey(m.ChatID))
	if m.Active {
		return r.store.UpsertDestination(ctx, model.Destination{
			ChatID: m.ChatID,
			Kind:   kindOf(m.ChatType),
			Title:  m.ChatTitle,
			Active: true,
		})
	}
	err := r.store.SetDestinationActive(ctx, m.ChatID, false)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deactivate destination %d: %w", m.ChatID, err)
	}
	r.log.Info("destination deactivated", logx.Int64("chat_id", m.ChatID))
	return nil
}

func (r *Registrar) handleMessage(ctx context.Context, m *transport.Message) error {
	kind := kindOf(m.ChatType)

	if kind == model.DestinationGroup && r.firstSeen(destKey(m.ChatID)) {
		err := r.store.UpsertDestination(ctx, model.Destination{ChatID: m.ChatID, Kind: kind, Title: m.ChatTitle, Active: true})
		if err != nil {
			r.forget(destKey(m.ChatID))
			return fmt.Errorf("record destination %d: %w", m.ChatID, err)
		}
	}

	if m.FromUsername == "" || m.FromID == 0 {
		return nil
	}
	key := linkKey(m.ChatID, m.FromID)
	if !r.firstSeen(key) {
		return nil
	}
	kol, err := r.store.FindKOLByTelegramUsername(ctx, m.FromUsername)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.forget(key)
		return fmt.Errorf("lookup kol %q: %w", m.FromUsername, err)
	}

	if kind == model.DestinationPrivate {
		if err := r.store.UpsertDestination(ctx, model.Destination{ChatID: m.ChatID, Kind: kind, Active: true}); err != nil {
			r.forget(key)
			return fmt.Errorf("record private chat %d: %w", m.ChatID, err)
		}
	}
	link := model.DeliveryLink{KOLID: kol.ID, ChatID: m.ChatID, Kind: kind, ExternalUserID: m.FromID, Active: true}
	if err := r.store.UpsertLink(ctx, link); err != nil {
		r.forget(key)
		return fmt.Errorf("record link kol=%d chat=%d: %w", kol.ID, m.ChatID, err)
	}

	metrics.LinksRegisteredTotal.WithLabelValues(string(kind)).Inc()
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeLinkRegistered, Data: link})
	r.log.Debug("delivery link recorded",
		logx.Int64("kol_id", kol.ID),
		logx.Int64("chat_id", m.ChatID),
		logx.String("kind", string(kind)),
	)
	return nil
}

func kindOf(t transport.ChatType) model.DestinationKind {
	if t.Private() {
		return model.DestinationPrivate
	}
	return model.DestinationGroup
}

func destKey(chatID int64) string { return "d:" + strconv.FormatInt(chatID, 10) }
func linkKey(chatID, userID int64) string {
	return "l:" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// firstSeen reports whether key was not recorded within seenTTL, and marks it.
func (r *Registrar) firstSeen(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if until, ok := r.seen[key]; ok && now.Before(until) {
		return false
	}
	if len(r.seen) >= seenMax {
		for k, until := range r.seen {
			if !now.Before(until) {
				delete(r.seen, k)
			}
		}
		if len(r.seen) >= seenMax {
			r.seen = map[string]time.Time{}
		}
	}
	r.seen[key] = now.Add(seenTTL)
	return true
}

func (r *Registrar) forget(key string) {
	r.mu.Lock()
	delete(r.seen, key)
	r.mu.Unlock()
}
